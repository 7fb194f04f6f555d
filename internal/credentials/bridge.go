// Package credentials 维护设备凭据的内存快照桥。
// TLS握手回调要求同步返回密钥，而凭据真身存放在异步可达的持久层；
// 桥接方式：后台整量重载 + 原子指针换发布，握手路径只读当前快照，永不阻塞。
package credentials

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Status 凭据状态
type Status string

const (
	StatusPending Status = "pending" // 已开通待确认
	StatusActive  Status = "active"  // 已激活，允许接入
)

// Record 凭据记录：identity 唯一（设备MAC或序列号）
type Record struct {
	Identity string
	Secret   []byte
	Status   Status
}

// Store 凭据持久层（只读侧）
type Store interface {
	// FindAllActiveOrPending 返回全部 active/pending 凭据
	FindAllActiveOrPending(ctx context.Context) ([]Record, error)
}

// snapshot 不可变快照：发布后只读
type snapshot struct {
	records map[string]Record
}

var emptySnapshot = &snapshot{records: map[string]Record{}}

// Bridge 凭据快照桥
type Bridge struct {
	store    Store
	logger   *zap.Logger
	interval time.Duration

	snap atomic.Pointer[snapshot]
	kick chan struct{} // 容量1：更新事件合并触发重载

	onReload func() // 成功重载回调（指标计数）
}

// SetReloadHook 设置成功重载回调
func (b *Bridge) SetReloadHook(fn func()) { b.onReload = fn }

// NewBridge 创建桥并发布空快照。interval 为兜底整量重载周期（自愈丢失事件）。
func NewBridge(s Store, interval time.Duration, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	b := &Bridge{
		store:    s,
		logger:   logger,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
	b.snap.Store(emptySnapshot)
	return b
}

// GetSecret 同步无锁读取指定身份的密钥（握手回调专用）。
// 记录存在（pending或active）即返回密钥——握手得以完成，
// 准入资格由 IsActive 在连接许可阶段二次校验。
func (b *Bridge) GetSecret(identity string) ([]byte, bool) {
	rec, ok := b.snap.Load().records[identity]
	if !ok {
		return nil, false
	}
	return rec.Secret, true
}

// Lookup 返回完整凭据记录
func (b *Bridge) Lookup(identity string) (Record, bool) {
	rec, ok := b.snap.Load().records[identity]
	return rec, ok
}

// IsActive 身份存在且状态为 active 才允许进入消息总线
func (b *Bridge) IsActive(identity string) bool {
	rec, ok := b.snap.Load().records[identity]
	return ok && rec.Status == StatusActive
}

// Count 当前快照内的凭据数量（指标/健康检查用）
func (b *Bridge) Count() int {
	return len(b.snap.Load().records)
}

// Reload 整量重载并原子换出快照。
// 新快照完整构建后才发布，读者不会看到半成品；
// 持久层失败时保留旧快照（宁可陈旧，不可不可用）并返回错误。
func (b *Bridge) Reload(ctx context.Context) error {
	records, err := b.store.FindAllActiveOrPending(ctx)
	if err != nil {
		b.logger.Warn("credential reload failed, keeping previous snapshot", zap.Error(err))
		return err
	}
	next := &snapshot{records: make(map[string]Record, len(records))}
	for _, r := range records {
		next.records[r.Identity] = r
	}
	b.snap.Store(next)
	b.logger.Info("credential snapshot reloaded", zap.Int("count", len(next.records)))
	if b.onReload != nil {
		b.onReload()
	}
	return nil
}

// OnCredentialUpdated 凭据更新事件入口：触发一次异步重载（多次触发合并）。
// 整量替换保证幂等，错过个别吊销事件也会被周期重载自愈。
func (b *Bridge) OnCredentialUpdated(identity string) {
	b.logger.Debug("credential updated", zap.String("identity", identity))
	select {
	case b.kick <- struct{}{}:
	default:
	}
}

// Run 先做一次初始重载，然后按事件触发与兜底周期持续重载，直到ctx取消。
func (b *Bridge) Run(ctx context.Context) {
	if err := b.Reload(ctx); err != nil {
		b.logger.Warn("initial credential reload failed", zap.Error(err))
	}
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.kick:
		case <-ticker.C:
		}
		_ = b.Reload(ctx)
	}
}
