// Package ota 实现OTA固件升级编排：任务创建、升级指令下发、进度/结果回执入账。
// 任务状态机：pending → downloading → verifying → installing → completed|failed，
// 终态任务永不删除，作为升级历史保留。
package ota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hanqi-iot/irrigation-server/internal/envelope"
	"github.com/hanqi-iot/irrigation-server/internal/storage"
	"github.com/hanqi-iot/irrigation-server/internal/storage/models"
	"github.com/hanqi-iot/irrigation-server/internal/topic"
)

var (
	// ErrNoFirmware 设备类型没有released状态的固件
	ErrNoFirmware = errors.New("no firmware available")
	// ErrAlreadyCurrent 网关固件已是候选版本
	ErrAlreadyCurrent = errors.New("gateway firmware already current")
	// ErrTaskNotFound 结果回执找不到归属任务（结果无法归账，必须上抛）
	ErrTaskNotFound = errors.New("upgrade task not found")
)

// repoAPI 编排器所需的最小存储能力
type repoAPI interface {
	GetGateway(ctx context.Context, gatewayID string) (*models.Gateway, error)
	LatestReleasedFirmware(ctx context.Context, deviceType string) (*models.Firmware, error)
	CreateUpgradeTask(ctx context.Context, task *models.UpgradeTask) error
	GetUpgradeTaskByMsgID(ctx context.Context, msgID string) (*models.UpgradeTask, error)
	SaveUpgradeTask(ctx context.Context, task *models.UpgradeTask) error
	ListUpgradeTasks(ctx context.Context, gatewayID string, limit, offset int) ([]models.UpgradeTask, error)
	UpdateGatewayFirmware(ctx context.Context, gatewayID, version string) error
}

// Publisher 下行指令出口（由broker提供）
type Publisher interface {
	Publish(topicName string, payload []byte, qos byte) error
}

// Option 编排器可选项
type Option func(*Orchestrator)

// WithNow 注入时钟（测试用）
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTransitionHook 状态迁移计数回调（装配层接到指标上）
func WithTransitionHook(fn func(status string)) Option {
	return func(o *Orchestrator) { o.onTransition = fn }
}

// Orchestrator OTA升级编排器
type Orchestrator struct {
	repo   repoAPI
	pub    Publisher
	logger *zap.Logger

	now          func() time.Time
	onTransition func(status string)
}

// New 创建编排器
func New(repo repoAPI, pub Publisher, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		repo:   repo,
		pub:    pub,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// UpgradeCommandData 升级指令data字段（元数据，不含固件二进制传输细节）
type UpgradeCommandData struct {
	FromVersion string `json:"fromVersion"`
	ToVersion   string `json:"toVersion"`
	FirmwareRef string `json:"firmwareRef"`
	Checksum    string `json:"checksum,omitempty"`
	SizeBytes   *int64 `json:"sizeBytes,omitempty"`
}

// ProgressData 进度回执data字段
type ProgressData struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// ResultData 结果回执data字段
type ResultData struct {
	Status       string `json:"status"`
	Version      string `json:"version,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// CreateUpgrade 发起网关升级：匹配最新released固件，建pending任务并下发升级指令。
// 没有可用固件返回 ErrNoFirmware；版本已一致返回 ErrAlreadyCurrent，不建任务。
func (o *Orchestrator) CreateUpgrade(ctx context.Context, gatewayID string) (*models.UpgradeTask, error) {
	gw, err := o.repo.GetGateway(ctx, gatewayID)
	if err != nil {
		return nil, fmt.Errorf("load gateway %s: %w", gatewayID, err)
	}

	fw, err := o.repo.LatestReleasedFirmware(ctx, gw.DeviceType)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("device type %s: %w", gw.DeviceType, ErrNoFirmware)
	}
	if err != nil {
		return nil, fmt.Errorf("load firmware for %s: %w", gw.DeviceType, err)
	}

	if gw.FirmwareVersion == fw.Version {
		return nil, fmt.Errorf("gateway %s at %s: %w", gatewayID, fw.Version, ErrAlreadyCurrent)
	}

	task := &models.UpgradeTask{
		MsgID:       envelope.NewMsgID(),
		GatewayID:   gatewayID,
		FromVersion: gw.FirmwareVersion,
		ToVersion:   fw.Version,
		FirmwareRef: fw.FirmwareRef,
		Status:      models.UpgradePending,
		Progress:    0,
	}
	if err := o.repo.CreateUpgradeTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create upgrade task: %w", err)
	}
	o.transition(models.UpgradePending)

	if err := o.sendUpgradeCommand(gatewayID, task, fw); err != nil {
		// 任务已持久化，指令下发失败交由操作员重发
		o.logger.Error("send upgrade command failed",
			zap.String("gateway_id", gatewayID),
			zap.String("msg_id", task.MsgID),
			zap.Error(err))
		return task, err
	}

	o.logger.Info("upgrade task created",
		zap.String("gateway_id", gatewayID),
		zap.String("msg_id", task.MsgID),
		zap.String("from", task.FromVersion),
		zap.String("to", task.ToVersion))
	return task, nil
}

// sendUpgradeCommand 组装升级指令信封并发布到网关OTA指令主题
func (o *Orchestrator) sendUpgradeCommand(gatewayID string, task *models.UpgradeTask, fw *models.Firmware) error {
	data, err := json.Marshal(UpgradeCommandData{
		FromVersion: task.FromVersion,
		ToVersion:   task.ToVersion,
		FirmwareRef: task.FirmwareRef,
		Checksum:    fw.Checksum,
		SizeBytes:   fw.SizeBytes,
	})
	if err != nil {
		return fmt.Errorf("encode upgrade command: %w", err)
	}
	msg := &envelope.Message{
		MsgType:   envelope.TypeOTAUpgrade,
		MsgID:     task.MsgID,
		DeviceID:  gatewayID,
		Timestamp: o.now().UnixMilli(),
		Data:      data,
	}
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	return o.pub.Publish(topic.GatewayOTAUpgrade(gatewayID), payload, 1)
}

// progressStatuses 进度回执允许携带的中间状态
var progressStatuses = map[string]bool{
	models.UpgradeDownloading: true,
	models.UpgradeVerifying:   true,
	models.UpgradeInstalling:  true,
}

// IngestProgress 进度回执入账。
// 未知msgId只告警后丢弃：服务端重启丢任务后设备仍会续报，不能让入账路径崩掉。
// 首次离开pending时打StartTime戳。
func (o *Orchestrator) IngestProgress(ctx context.Context, msgID string, data ProgressData) error {
	task, err := o.repo.GetUpgradeTaskByMsgID(ctx, msgID)
	if errors.Is(err, storage.ErrNotFound) {
		o.logger.Warn("progress for unknown upgrade task dropped",
			zap.String("msg_id", msgID),
			zap.String("status", data.Status))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load upgrade task %s: %w", msgID, err)
	}

	if isTerminal(task.Status) {
		o.logger.Debug("progress after terminal state ignored",
			zap.String("msg_id", msgID),
			zap.String("task_status", task.Status))
		return nil
	}
	if !progressStatuses[data.Status] {
		return fmt.Errorf("task %s: bad progress status %q", msgID, data.Status)
	}

	if task.Status == models.UpgradePending {
		now := o.now()
		task.StartTime = &now
	}
	task.Status = data.Status
	task.Progress = clampProgress(data.Progress)

	if err := o.repo.SaveUpgradeTask(ctx, task); err != nil {
		return fmt.Errorf("save upgrade task %s: %w", msgID, err)
	}
	o.transition(data.Status)
	return nil
}

// IngestResult 终态回执入账。
// 未知msgId是硬错误（结果无法归账）。终态写入为last-write-wins幂等：
// 设备实践上不会发第二条终态消息，乱序到达时以后到者为准（设计假定）。
func (o *Orchestrator) IngestResult(ctx context.Context, msgID string, data ResultData) error {
	task, err := o.repo.GetUpgradeTaskByMsgID(ctx, msgID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("result for msgId %s: %w", msgID, ErrTaskNotFound)
	}
	if err != nil {
		return fmt.Errorf("load upgrade task %s: %w", msgID, err)
	}

	if data.Status != models.UpgradeCompleted && data.Status != models.UpgradeFailed {
		return fmt.Errorf("task %s: bad result status %q", msgID, data.Status)
	}

	now := o.now()
	task.CompleteTime = &now
	start := task.CreatedAt
	if task.StartTime != nil {
		start = *task.StartTime
	}
	dur := now.Sub(start).Milliseconds()
	if dur < 0 {
		dur = 0
	}
	task.DurationMs = &dur
	task.Status = data.Status

	if data.Status == models.UpgradeCompleted {
		task.Progress = 100
		task.ErrorCode = nil
		task.ErrorMessage = nil
		newVersion := data.Version
		if newVersion == "" {
			newVersion = task.ToVersion
		}
		if err := o.repo.UpdateGatewayFirmware(ctx, task.GatewayID, newVersion); err != nil {
			o.logger.Error("update gateway firmware version failed",
				zap.String("gateway_id", task.GatewayID),
				zap.String("version", newVersion),
				zap.Error(err))
		}
	} else {
		code, message := data.ErrorCode, data.ErrorMessage
		task.ErrorCode = &code
		task.ErrorMessage = &message
	}

	if err := o.repo.SaveUpgradeTask(ctx, task); err != nil {
		return fmt.Errorf("save upgrade task %s: %w", msgID, err)
	}
	o.transition(data.Status)

	o.logger.Info("upgrade task finished",
		zap.String("gateway_id", task.GatewayID),
		zap.String("msg_id", msgID),
		zap.String("status", data.Status),
		zap.Int64("duration_ms", dur))
	return nil
}

// History 网关升级历史
func (o *Orchestrator) History(ctx context.Context, gatewayID string, limit, offset int) ([]models.UpgradeTask, error) {
	return o.repo.ListUpgradeTasks(ctx, gatewayID, limit, offset)
}

// Task 按msgId查任务
func (o *Orchestrator) Task(ctx context.Context, msgID string) (*models.UpgradeTask, error) {
	task, err := o.repo.GetUpgradeTaskByMsgID(ctx, msgID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

func (o *Orchestrator) transition(status string) {
	if o.onTransition != nil {
		o.onTransition(status)
	}
}

func isTerminal(status string) bool {
	return status == models.UpgradeCompleted || status == models.UpgradeFailed
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
