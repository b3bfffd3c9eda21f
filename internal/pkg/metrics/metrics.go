package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 计费相关的 Prometheus 指标
type Metrics struct {
	ConsumeTotal        *prometheus.CounterVec
	PaymentsTotal       *prometheus.CounterVec
	CouponTotal         *prometheus.CounterVec
	ReconciliationTotal *prometheus.CounterVec
	GatewayDuration     *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New 创建并注册所有指标
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		ConsumeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_consume_total",
				Help: "Entitlement consumption attempts by kind, source and result",
			},
			[]string{"kind", "source", "result"},
		),
		PaymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_payments_total",
				Help: "Payment state transitions by outcome",
			},
			[]string{"outcome"},
		),
		CouponTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_coupon_total",
				Help: "Coupon evaluations by code and result",
			},
			[]string{"code", "result"},
		),
		ReconciliationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_reconciliation_total",
				Help: "Reconciliation task outcomes",
			},
			[]string{"outcome"},
		),
		GatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_gateway_duration_seconds",
				Help:    "Payment gateway call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.ConsumeTotal,
		m.PaymentsTotal,
		m.CouponTotal,
		m.ReconciliationTotal,
		m.GatewayDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// NewNop 使用独立 registry，测试中使用
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) Consume(kind, source, result string) {
	m.ConsumeTotal.WithLabelValues(kind, source, result).Inc()
}

func (m *Metrics) Payment(outcome string) {
	m.PaymentsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Coupon(code, result string) {
	m.CouponTotal.WithLabelValues(code, result).Inc()
}

func (m *Metrics) Reconciliation(outcome string) {
	m.ReconciliationTotal.WithLabelValues(outcome).Inc()
}

// ObserveGateway 记录网关调用耗时
func (m *Metrics) ObserveGateway(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.GatewayDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

// ObserveHTTP 记录一次 HTTP 请求
func (m *Metrics) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// Handler /metrics 端点
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
