package broker

import (
	"sync"
	"time"
)

// Registry 在线网关登记：记录最近上行时间，按静默窗口判定在线。
// MQTT层没有可靠的断开事件兜底（半开连接），统一用时间窗口判定。
type Registry struct {
	mu       sync.RWMutex
	lastSeen map[string]time.Time // gatewayID -> last uplink
	timeout  time.Duration
}

// NewRegistry 创建登记表。timeout 为离线判定窗口。
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Registry{lastSeen: make(map[string]time.Time), timeout: timeout}
}

// Touch 记录网关一次上行
func (r *Registry) Touch(gatewayID string, t time.Time) {
	r.mu.Lock()
	r.lastSeen[gatewayID] = t
	r.mu.Unlock()
}

// Remove 摘除网关（显式断开）
func (r *Registry) Remove(gatewayID string) {
	r.mu.Lock()
	delete(r.lastSeen, gatewayID)
	r.mu.Unlock()
}

// IsOnline 判断网关是否在线
func (r *Registry) IsOnline(gatewayID string, now time.Time) bool {
	r.mu.RLock()
	ts, ok := r.lastSeen[gatewayID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return now.Sub(ts) <= r.timeout
}

// OnlineCount 当前在线网关数
func (r *Registry) OnlineCount(now time.Time) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, ts := range r.lastSeen {
		if now.Sub(ts) <= r.timeout {
			count++
		}
	}
	return count
}

// Sweep 清理超窗条目，返回被摘除的网关ID
func (r *Registry) Sweep(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var gone []string
	for id, ts := range r.lastSeen {
		if now.Sub(ts) > r.timeout {
			delete(r.lastSeen, id)
			gone = append(gone, id)
		}
	}
	return gone
}
