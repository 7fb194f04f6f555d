// Package gateway 实现网关上行消息的业务处理：DP上报落库与OTA回执路由。
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hanqi-iot/irrigation-server/internal/dispatch"
	"github.com/hanqi-iot/irrigation-server/internal/dp"
	"github.com/hanqi-iot/irrigation-server/internal/envelope"
	"github.com/hanqi-iot/irrigation-server/internal/ota"
	"github.com/hanqi-iot/irrigation-server/internal/storage"
	"github.com/hanqi-iot/irrigation-server/internal/storage/models"
	"github.com/hanqi-iot/irrigation-server/internal/topic"
)

// repoAPI 处理器所需的最小存储能力。
// DP快照与流水写入走 WithTx 事务内的仓储，保证同一上报原子入账。
type repoAPI interface {
	EnsureGateway(ctx context.Context, gatewayID, productID, deviceType string) (*models.Gateway, error)
	TouchGatewayLastSeen(ctx context.Context, gatewayID string, at time.Time) error
	WithTx(ctx context.Context, fn func(storage.CoreRepo) error) error
}

// stateCache DP快照缓存（Redis实现，可选）
type stateCache interface {
	SetDPValues(ctx context.Context, gatewayID string, values map[int]string) error
}

// otaIngestor OTA回执入账入口
type otaIngestor interface {
	IngestProgress(ctx context.Context, msgID string, data ota.ProgressData) error
	IngestResult(ctx context.Context, msgID string, data ota.ResultData) error
}

// Option 处理器可选项
type Option func(*Handlers)

// WithStateCache 启用DP快照写穿缓存
func WithStateCache(c stateCache) Option {
	return func(h *Handlers) { h.cache = c }
}

// WithInvalidDPHook 非法DP计数回调（装配层接到指标上）
func WithInvalidDPHook(fn func(productID string, n int)) Option {
	return func(h *Handlers) { h.onInvalidDP = fn }
}

// WithNow 注入时钟（测试用）
func WithNow(now func() time.Time) Option {
	return func(h *Handlers) { h.now = now }
}

// Handlers 网关上行消息处理器集合
type Handlers struct {
	repo     repoAPI
	schemas  *dp.Registry
	ota      otaIngestor
	cache    stateCache
	logger   *zap.Logger
	now      func() time.Time
	// 网关自报缺省的产品/设备类型兜底值
	defaultProductID  string
	defaultDeviceType string

	onInvalidDP func(productID string, n int)
}

// New 创建处理器集合
func New(repo repoAPI, schemas *dp.Registry, otaIngest otaIngestor, logger *zap.Logger, defaultProductID, defaultDeviceType string, opts ...Option) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handlers{
		repo:              repo,
		schemas:           schemas,
		ota:               otaIngest,
		logger:            logger,
		now:               time.Now,
		defaultProductID:  defaultProductID,
		defaultDeviceType: defaultDeviceType,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes 把处理器挂到调度模式上
func (h *Handlers) RegisterRoutes(d *dispatch.Dispatcher) {
	d.SubscribeFunc(topic.PatternGatewayReport, "dp_report", h.HandleReport)
	d.SubscribeFunc(topic.PatternGatewayOTAReport, "ota_report", h.HandleOTAReport)
}

// HandleReport 处理DP上报：解析、落库快照+流水、刷新缓存与lastSeen。
// 部分非法的上报只丢非法项，合法项照常入账。
func (h *Handlers) HandleReport(ctx context.Context, d dispatch.Delivery) error {
	gatewayID, err := topic.GatewayIDFromTopic(d.Topic)
	if err != nil {
		return err
	}

	msg, err := envelope.Parse(d.Payload)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", gatewayID, err)
	}
	if msg.MsgType != envelope.TypeDPReport {
		return fmt.Errorf("gateway %s: unexpected msgType %q on report topic", gatewayID, msg.MsgType)
	}

	gw, err := h.repo.EnsureGateway(ctx, gatewayID, h.defaultProductID, h.defaultDeviceType)
	if err != nil {
		return fmt.Errorf("ensure gateway %s: %w", gatewayID, err)
	}

	report, err := h.schemas.ParseReport(gw.ProductID, msg.Data)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", gatewayID, err)
	}
	if report.InvalidCount > 0 {
		h.logger.Warn("report contains invalid DPs",
			zap.String("gateway_id", gatewayID),
			zap.String("product_id", gw.ProductID),
			zap.Int("invalid", report.InvalidCount))
		if h.onInvalidDP != nil {
			h.onInvalidDP(gw.ProductID, report.InvalidCount)
		}
	}

	reportedAt := time.UnixMilli(msg.Timestamp)
	if msg.Timestamp <= 0 {
		reportedAt = h.now()
	}

	logs := make([]models.DPReportLog, 0, len(report.Items))
	cacheValues := make(map[int]string)
	for _, item := range report.Items {
		value := renderValue(item.Value)
		logs = append(logs, models.DPReportLog{
			GatewayID: gatewayID,
			ProductID: gw.ProductID,
			DPID:      item.DPID,
			Value:     value,
			Valid:     item.Valid,
			Reason:    item.Reason,
		})
		if item.Valid {
			cacheValues[item.DPID] = value
		}
	}

	// 快照与流水同一事务落库，中途失败整体回滚，不留半截状态
	err = h.repo.WithTx(ctx, func(tx storage.CoreRepo) error {
		for dpID, value := range cacheValues {
			if err := tx.UpsertDPState(ctx, gatewayID, dpID, value, reportedAt); err != nil {
				return fmt.Errorf("upsert dp state gw=%s dp=%d: %w", gatewayID, dpID, err)
			}
		}
		if len(logs) > 0 {
			if err := tx.AppendDPReportLog(ctx, logs); err != nil {
				return fmt.Errorf("append report log gw=%s: %w", gatewayID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if h.cache != nil && len(cacheValues) > 0 {
		if err := h.cache.SetDPValues(ctx, gatewayID, cacheValues); err != nil {
			// 缓存是加速层，失败不阻断入账
			h.logger.Warn("dp state cache write failed",
				zap.String("gateway_id", gatewayID),
				zap.Error(err))
		}
	}

	if err := h.repo.TouchGatewayLastSeen(ctx, gatewayID, h.now()); err != nil {
		h.logger.Warn("touch last seen failed",
			zap.String("gateway_id", gatewayID),
			zap.Error(err))
	}
	return nil
}

// HandleOTAReport 处理OTA回执：按msgType分流到进度/结果入账
func (h *Handlers) HandleOTAReport(ctx context.Context, d dispatch.Delivery) error {
	gatewayID, err := topic.GatewayIDFromTopic(d.Topic)
	if err != nil {
		return err
	}

	msg, err := envelope.Parse(d.Payload)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", gatewayID, err)
	}

	switch msg.MsgType {
	case envelope.TypeOTAProgress:
		var data ota.ProgressData
		if err := msg.DecodeData(&data); err != nil {
			return fmt.Errorf("gateway %s progress: %w", gatewayID, err)
		}
		return h.ota.IngestProgress(ctx, msg.MsgID, data)
	case envelope.TypeOTAResult:
		var data ota.ResultData
		if err := msg.DecodeData(&data); err != nil {
			return fmt.Errorf("gateway %s result: %w", gatewayID, err)
		}
		return h.ota.IngestResult(ctx, msg.MsgID, data)
	default:
		return fmt.Errorf("gateway %s: unexpected msgType %q on ota report topic", gatewayID, msg.MsgType)
	}
}

// renderValue DP取值统一JSON字符串化后落库
func renderValue(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
