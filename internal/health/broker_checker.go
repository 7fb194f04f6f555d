package health

import (
	"context"
	"fmt"
	"time"

	"github.com/hanqi-iot/irrigation-server/internal/broker"
)

// BrokerChecker MQTT接入面健康检查器
type BrokerChecker struct {
	b *broker.Broker
}

// NewBrokerChecker 创建接入面健康检查器
func NewBrokerChecker(b *broker.Broker) *BrokerChecker {
	return &BrokerChecker{b: b}
}

func (c *BrokerChecker) Name() string { return "broker" }

// Check 限流持续触发说明接入面过载，标记降级
func (c *BrokerChecker) Check(ctx context.Context) Result {
	start := time.Now()

	online := c.b.Registry().OnlineCount(time.Now())
	limiterStats := c.b.Limiter().Stats()

	status := StatusHealthy
	message := "ok"
	total := limiterStats.AllowedTotal + limiterStats.RejectedTotal
	if total > 0 {
		rejectRatio := float64(limiterStats.RejectedTotal) / float64(total)
		if rejectRatio > 0.5 {
			status = StatusDegraded
			message = "high connection reject ratio"
		}
	}

	return Result{
		Status:  status,
		Message: message,
		Details: map[string]interface{}{
			"online_gateways": online,
			"conn_allowed":    limiterStats.AllowedTotal,
			"conn_rejected":   limiterStats.RejectedTotal,
			"conn_rate":       fmt.Sprintf("%.0f/s burst %d", limiterStats.RatePerSecond, limiterStats.Burst),
		},
		Latency: time.Since(start),
	}
}
