// Package app 提供装配层：把各组件按依赖关系拼起来供bootstrap使用。
package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hanqi-iot/irrigation-server/internal/metrics"
)

// NewMetrics 创建指标Registry与业务指标集合
func NewMetrics() (*prometheus.Registry, *metrics.AppMetrics) {
	reg := metrics.NewRegistry()
	return reg, metrics.NewAppMetrics(reg)
}
