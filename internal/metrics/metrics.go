package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 自定义业务指标
type AppMetrics struct {
	ConnAccepted      prometheus.Counter     // 接受的MQTT连接
	ConnRejected      *prometheus.CounterVec // labels: reason=rate_limit|auth|not_authorized
	AuthFailTotal     *prometheus.CounterVec // labels: transport=plain|psk
	OnlineGauge       prometheus.Gauge       // 当前在线网关数
	DispatchTotal     prometheus.Counter     // 分发的上行消息
	DispatchNoMatch   prometheus.Counter     // 无订阅命中的上行消息
	HandlerErrorTotal *prometheus.CounterVec // labels: pattern
	DPInvalidTotal    *prometheus.CounterVec // labels: product
	OTATransition     *prometheus.CounterVec // labels: status
	CredentialReload  prometheus.Counter     // 凭据快照重载次数
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		ConnAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_conn_accepted_total",
			Help: "Total accepted MQTT connections.",
		}),
		ConnRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_conn_rejected_total",
			Help: "Rejected MQTT connections by reason.",
		}, []string{"reason"}),
		AuthFailTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_fail_total",
			Help: "Failed connection authentications by transport.",
		}, []string{"transport"}),
		OnlineGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_online_count",
			Help: "Current number of online gateways.",
		}),
		DispatchTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_messages_total",
			Help: "Uplink messages handed to the dispatcher.",
		}),
		DispatchNoMatch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_no_match_total",
			Help: "Uplink messages that matched no subscription.",
		}),
		HandlerErrorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_handler_error_total",
			Help: "Handler errors by subscription pattern.",
		}, []string{"pattern"}),
		DPInvalidTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dp_invalid_total",
			Help: "Invalid DP items observed in reports by product.",
		}, []string{"product"}),
		OTATransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ota_transition_total",
			Help: "OTA upgrade task state transitions.",
		}, []string{"status"}),
		CredentialReload: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credential_reload_total",
			Help: "Credential snapshot reloads.",
		}),
	}
	reg.MustRegister(
		m.ConnAccepted, m.ConnRejected, m.AuthFailTotal, m.OnlineGauge,
		m.DispatchTotal, m.DispatchNoMatch, m.HandlerErrorTotal,
		m.DPInvalidTotal, m.OTATransition, m.CredentialReload,
	)
	return m
}
