package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/actionbridge/actionbridge/internal/domain/session"
)

// metricsNamespace prefixes every gateway metric.
const metricsNamespace = "actionbridge"

// Metrics holds the gateway's Prometheus instruments. One instance per
// process; pass the observe methods to the components that record.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	ActiveSessions   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsEvicted  *prometheus.CounterVec
	ToolCalls        *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec
	UpstreamRequests *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	RateLimited      prometheus.Counter
}

// NewMetrics registers all gateway metrics with reg. auditDepth and
// auditDropped sample the audit trail queue; pass nil to skip those two
// instruments.
func NewMetrics(reg *prometheus.Registry, auditDepth func() int, auditDropped func() int64) *Metrics {
	m := &Metrics{
		registry: reg,
		HTTPRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests handled, by method and status code",
			},
			[]string{"method", "status"},
		),
		HTTPDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_sessions",
				Help:      "Live MCP sessions",
			},
		),
		SessionsCreated: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_created_total",
				Help:      "Sessions created",
			},
		),
		SessionsEvicted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_evicted_total",
				Help:      "Sessions evicted, by reason",
			},
			[]string{"reason"},
		),
		ToolCalls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tool_calls_total",
				Help:      "tools/call dispatches, by tool type and outcome",
			},
			[]string{"type", "status"},
		),
		ToolCallDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "tool_call_duration_seconds",
				Help:      "tools/call duration, by tool type",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		UpstreamRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "upstream_requests_total",
				Help:      "Upstream HTTP calls, by system and status",
			},
			[]string{"system", "status"},
		),
		UpstreamDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "upstream_request_duration_seconds",
				Help:      "Upstream call duration, by system",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"system"},
		),
		RateLimited: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter",
			},
		),
	}

	if auditDepth != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "audit_trail_depth",
				Help:      "Audit trail channel depth",
			},
			func() float64 { return float64(auditDepth()) },
		))
	}
	if auditDropped != nil {
		reg.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "audit_dropped_total",
				Help:      "Audit trail entries dropped under backpressure",
			},
			func() float64 { return float64(auditDropped()) },
		))
	}
	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveToolCall is a service.ToolCallObserver.
func (m *Metrics) ObserveToolCall(toolType, status string, seconds float64) {
	m.ToolCalls.WithLabelValues(toolType, status).Inc()
	m.ToolCallDuration.WithLabelValues(toolType).Observe(seconds)
}

// ObserveUpstream is an httpapi.CallObserver.
func (m *Metrics) ObserveUpstream(system, status string, seconds float64) {
	m.UpstreamRequests.WithLabelValues(system, status).Inc()
	m.UpstreamDuration.WithLabelValues(system).Observe(seconds)
}

// SessionCreated is a session manager create hook.
func (m *Metrics) SessionCreated() {
	m.SessionsCreated.Inc()
	m.ActiveSessions.Inc()
}

// SessionEvicted is a session manager evict hook.
func (m *Metrics) SessionEvicted(reason session.EvictReason) {
	m.SessionsEvicted.WithLabelValues(string(reason)).Inc()
	m.ActiveSessions.Dec()
}
