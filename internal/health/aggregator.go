package health

import (
	"context"
	"sync"
	"time"
)

// checkTimeout 单项依赖检查的时间预算，慢依赖不拖垮整个探针
const checkTimeout = 2 * time.Second

// Aggregator 健康聚合器：持有全部门闸与检查器，产出整体结论。
type Aggregator struct {
	mu       sync.RWMutex
	gates    []*Gate
	checkers []Checker
}

// New 创建空聚合器
func New() *Aggregator {
	return &Aggregator{}
}

// Gate 注册一个命名门闸并返回，初始为关闭
func (a *Aggregator) Gate(name string) *Gate {
	g := &Gate{name: name}
	a.mu.Lock()
	a.gates = append(a.gates, g)
	a.mu.Unlock()
	return g
}

// Register 挂接依赖检查器
func (a *Aggregator) Register(c Checker) {
	a.mu.Lock()
	a.checkers = append(a.checkers, c)
	a.mu.Unlock()
}

// GatesOpen 全部门闸是否已打开（轻量，适合高频探测）
func (a *Aggregator) GatesOpen() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, g := range a.gates {
		if !g.IsOpen() {
			return false
		}
	}
	return true
}

// CheckAll 并发执行全部依赖检查，每项独立限时
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	a.mu.RLock()
	checkers := make([]Checker, len(a.checkers))
	copy(checkers, a.checkers)
	a.mu.RUnlock()

	results := make(map[string]Result, len(checkers))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			r := c.Check(cctx)
			resultsMu.Lock()
			results[c.Name()] = r
			resultsMu.Unlock()
		}(c)
	}
	wg.Wait()
	return results
}

// Overall 整体状态：门闸未开视为不健康（仍在启动），
// 否则任一依赖不健康即不健康，任一降级即降级。
func (a *Aggregator) Overall(ctx context.Context) Status {
	if !a.GatesOpen() {
		return StatusUnhealthy
	}
	overall := StatusHealthy
	for _, r := range a.CheckAll(ctx) {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// Ready 就绪判定：门闸全开且无不健康依赖。降级仍算就绪。
func (a *Aggregator) Ready(ctx context.Context) bool {
	return a.Overall(ctx) != StatusUnhealthy
}

// Report 完整健康报告（诊断接口用）
type Report struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Gates     map[string]bool   `json:"gates,omitempty"`
	Checks    map[string]Result `json:"checks,omitempty"`
}

// Snapshot 生成当前健康报告
func (a *Aggregator) Snapshot(ctx context.Context) Report {
	a.mu.RLock()
	gates := make(map[string]bool, len(a.gates))
	for _, g := range a.gates {
		gates[g.Name()] = g.IsOpen()
	}
	a.mu.RUnlock()

	checks := a.CheckAll(ctx)
	status := StatusHealthy
	if !a.GatesOpen() {
		status = StatusUnhealthy
	}
	for _, r := range checks {
		if r.Status == StatusUnhealthy {
			status = StatusUnhealthy
			break
		}
		if r.Status == StatusDegraded {
			status = StatusDegraded
		}
	}

	return Report{
		Status:    status,
		Timestamp: time.Now(),
		Gates:     gates,
		Checks:    checks,
	}
}
