package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all gateway-level Prometheus metrics. Each Server owns
// its own Metrics instance and registry so tests can construct gateways
// without colliding on the default registry.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP pipeline metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	HTTPErrors   *prometheus.CounterVec
	Panics       prometheus.Counter

	// Rate limiter metrics
	RateLimitDecisions *prometheus.CounterVec

	// Service mesh metrics
	MeshCalls        *prometheus.CounterVec
	MeshCallDuration *prometheus.HistogramVec
	BreakerState     *prometheus.GaugeVec
}

// NewMetrics creates a Metrics instance backed by a fresh registry with Go
// runtime and process collectors attached.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meshgate",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled by the gateway",
			},
			[]string{"method", "endpoint", "status"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "meshgate",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meshgate",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total number of HTTP error responses",
			},
			[]string{"method", "endpoint", "status"},
		),

		Panics: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "meshgate",
				Subsystem: "http",
				Name:      "panics_total",
				Help:      "Total number of recovered handler panics",
			},
		),

		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meshgate",
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Rate limit decisions (allowed, denied, failopen, bypassed)",
			},
			[]string{"decision"},
		),

		MeshCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meshgate",
				Subsystem: "mesh",
				Name:      "calls_total",
				Help:      "Total number of backend service calls by outcome",
			},
			[]string{"service", "status"},
		),

		MeshCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "meshgate",
				Subsystem: "mesh",
				Name:      "call_duration_seconds",
				Help:      "Backend service call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "meshgate",
				Subsystem: "mesh",
				Name:      "breaker_state",
				Help:      "Circuit breaker state per service (0=closed, 1=open, 2=half-open)",
			},
			[]string{"service"},
		),
	}

	registry.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.HTTPErrors,
		m.Panics,
		m.RateLimitDecisions,
		m.MeshCalls,
		m.MeshCallDuration,
		m.BreakerState,
	)

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
