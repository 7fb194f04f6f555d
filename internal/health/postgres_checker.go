package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresChecker 探测主库可用性与连接池压力。
// 网关上报、OTA任务与凭据快照重载全走这一个池，池耗尽等同入账停摆。
type PostgresChecker struct {
	pool *pgxpool.Pool
}

// NewPostgresChecker 创建数据库检查器
func NewPostgresChecker(pool *pgxpool.Pool) *PostgresChecker {
	return &PostgresChecker{pool: pool}
}

func (c *PostgresChecker) Name() string { return "postgres" }

// Check Ping探活后按池占用分级：占满不健康，空闲告急降级
func (c *PostgresChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if err := c.pool.Ping(ctx); err != nil {
		return Result{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: time.Since(start),
		}
	}

	stat := c.pool.Stat()
	status := StatusHealthy
	message := "ok"
	switch {
	case stat.MaxConns() > 0 && stat.AcquiredConns() >= stat.MaxConns():
		status = StatusUnhealthy
		message = "connection pool exhausted"
	case stat.EmptyAcquireCount() > 0 && stat.IdleConns() == 0:
		// 出现过空池等待且当前无空闲，入账路径即将排队
		status = StatusDegraded
		message = "connection pool under pressure"
	}

	return Result{
		Status:  status,
		Message: message,
		Details: map[string]interface{}{
			"acquired_conns":      stat.AcquiredConns(),
			"idle_conns":          stat.IdleConns(),
			"max_conns":           stat.MaxConns(),
			"empty_acquire_count": stat.EmptyAcquireCount(),
		},
		Latency: time.Since(start),
	}
}
