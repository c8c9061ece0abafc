package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for doppler-mcp.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Tool dispatch metrics.
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	// Upstream Doppler API metrics (one sample per HTTP attempt,
	// retries included).
	DopplerRequestsTotal   *prometheus.CounterVec
	DopplerRequestDuration *prometheus.HistogramVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doppler_mcp",
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Total MCP tool calls.",
		}, []string{"tool", "status"}),

		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "doppler_mcp",
			Subsystem: "tool",
			Name:      "call_duration_seconds",
			Help:      "MCP tool call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		DopplerRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doppler_mcp",
			Subsystem: "doppler",
			Name:      "requests_total",
			Help:      "Total HTTP requests against the Doppler API.",
		}, []string{"operation", "status"}),

		DopplerRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "doppler_mcp",
			Subsystem: "doppler",
			Name:      "request_duration_seconds",
			Help:      "Doppler API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"operation"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doppler_mcp",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP gateway requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "doppler_mcp",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP gateway request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "doppler_mcp",
			Name:      "active_requests",
			Help:      "In-flight HTTP gateway requests.",
		}),
	}

	reg.MustRegister(
		m.ToolCallsTotal,
		m.ToolCallDuration,
		m.DopplerRequestsTotal,
		m.DopplerRequestDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// RecordToolCall records one tool dispatch. Nil-safe.
func (m *MetricsCollector) RecordToolCall(tool, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObserveRequest records one HTTP attempt against the Doppler API.
// Satisfies doppler.RequestObserver.
func (m *MetricsCollector) ObserveRequest(op string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	label := "transport_error"
	if status != 0 {
		label = strconv.Itoa(status)
	}
	m.DopplerRequestsTotal.WithLabelValues(op, label).Inc()
	m.DopplerRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func statusCode(code int) string {
	return strconv.Itoa(code)
}
