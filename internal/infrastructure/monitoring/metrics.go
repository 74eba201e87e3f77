package monitoring

import (
	"net/http"
	"time"

	"github.com/GriffinCanCode/webviewrpc/internal/pool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsFunc reports the current pool state on every scrape
type StatsFunc func() pool.Stats

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Coordinator metrics
	RegistrationsTotal  *prometheus.CounterVec
	RegistrationsActive prometheus.Gauge
	AdmissionsTotal     *prometheus.CounterVec
	RemoteRequests      *prometheus.CounterVec
	RemoteDuration      *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time
}

// NewMetrics creates a metrics collector on its own registry. stats may be
// nil, in which case the pool gauges are not exported.
func NewMetrics(stats StatsFunc) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webviewrpc_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webviewrpc_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		RegistrationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webviewrpc_registrations_total",
				Help: "Registrations by outcome",
			},
			[]string{"outcome"},
		),
		RegistrationsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webviewrpc_registrations_active",
				Help: "Number of live registrations",
			},
		),
		AdmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webviewrpc_admissions_total",
				Help: "Pool admissions by kind",
			},
			[]string{"admission"},
		),
		RemoteRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webviewrpc_remote_requests_total",
				Help: "Host to remote requests by outcome",
			},
			[]string{"outcome"},
		),
		RemoteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webviewrpc_remote_request_duration_seconds",
				Help:    "Host to remote request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webviewrpc_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webviewrpc_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "webviewrpc_uptime_seconds",
		Help: "Process uptime in seconds",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	})

	if stats != nil {
		m.poolGauge(factory, "webviewrpc_contexts", "Number of live contexts", stats, func(s pool.Stats) int { return s.Size })
		m.poolGauge(factory, "webviewrpc_contexts_ready", "Number of contexts that finished loading", stats, func(s pool.Stats) int { return s.Ready })
		m.poolGauge(factory, "webviewrpc_contexts_idle", "Number of contexts hosting nothing", stats, func(s pool.Stats) int { return s.Idle })
		m.poolGauge(factory, "webviewrpc_contexts_max", "Pool capacity", stats, func(s pool.Stats) int { return s.MaxSize })
	}

	return m
}

func (m *Metrics) poolGauge(factory promauto.Factory, name, help string, stats StatsFunc, pick func(pool.Stats) int) {
	factory.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
		return float64(pick(stats()))
	})
}

// Registry returns the registry holding every metric
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRegistration counts a settled registration
func (m *Metrics) RecordRegistration(outcome string) {
	m.RegistrationsTotal.WithLabelValues(outcome).Inc()
}

// RecordAdmission counts a pool admission
func (m *Metrics) RecordAdmission(admission string) {
	m.AdmissionsTotal.WithLabelValues(admission).Inc()
}

// RecordRequest records a settled host to remote request
func (m *Metrics) RecordRequest(outcome string, duration time.Duration) {
	m.RemoteRequests.WithLabelValues(outcome).Inc()
	m.RemoteDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetRegistrationsActive sets the number of live registrations
func (m *Metrics) SetRegistrationsActive(count int) {
	m.RegistrationsActive.Set(float64(count))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}
