// Package health 汇聚接入服务的就绪与依赖健康信息。
// 两类信号：门闸（Gate）表达子系统是否完成启动，检查器（Checker）
// 表达外部依赖此刻是否可用；就绪探针两者都看，存活探针只看进程本身。
package health

import (
	"context"
	"sync/atomic"
	"time"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"   // 正常
	StatusDegraded  Status = "degraded"  // 降级，仍可服务
	StatusUnhealthy Status = "unhealthy" // 不可服务
)

// Result 单项检查结果
type Result struct {
	Status  Status                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	Latency time.Duration          `json:"latency"`
}

// Checker 依赖健康检查器
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// Gate 启动门闸。装配层在对应子系统就位后打开；
// 任一门闸未开，整体视为仍在启动，就绪探针返回失败。
type Gate struct {
	name string
	open atomic.Bool
}

// Name 门闸名
func (g *Gate) Name() string { return g.name }

// Open 打开门闸
func (g *Gate) Open() { g.open.Store(true) }

// Close 关闭门闸（子系统退出或降级下线）
func (g *Gate) Close() { g.open.Store(false) }

// IsOpen 当前是否打开
func (g *Gate) IsOpen() bool { return g.open.Load() }
