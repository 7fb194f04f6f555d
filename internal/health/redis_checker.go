package health

import (
	"context"
	"fmt"
	"time"

	redisstorage "github.com/hanqi-iot/irrigation-server/internal/storage/redis"
)

// RedisChecker 探测Redis可用性。
// Redis只承载DP快照缓存与凭据更新事件，失联降级而非不健康：
// 入账与接入仍可走库，只是失去加速与跨实例事件。
type RedisChecker struct {
	client *redisstorage.Client
}

// NewRedisChecker 创建Redis检查器
func NewRedisChecker(client *redisstorage.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string { return "redis" }

// Check Ping失败降级；连接池无空闲时也标记降级提示收敛压力
func (c *RedisChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if err := c.client.HealthCheck(ctx); err != nil {
		return Result{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: time.Since(start),
		}
	}

	stats := c.client.PoolStats()
	status := StatusHealthy
	message := "ok"
	if stats.TotalConns > 0 && stats.IdleConns == 0 {
		status = StatusDegraded
		message = "no idle connections"
	}

	return Result{
		Status:  status,
		Message: message,
		Details: map[string]interface{}{
			"total_conns": stats.TotalConns,
			"idle_conns":  stats.IdleConns,
			"stale_conns": stats.StaleConns,
			"timeouts":    stats.Timeouts,
		},
		Latency: time.Since(start),
	}
}
