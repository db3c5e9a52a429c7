package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server. Each instance owns
// its registry so several servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	activeSessions       prometheus.Gauge
	sessionsCreated      *prometheus.CounterVec // by transport
	sessionsDisconnected prometheus.Counter
	onlineUsers          prometheus.Gauge

	// Request metrics
	requests        *prometheus.CounterVec // by type and result
	requestDuration *prometheus.HistogramVec

	// Push metrics
	pushes          *prometheus.CounterVec // by result
	duplicateLogins prometheus.Counter
}

// NewMetrics registers the server metrics on reg. A nil reg gets a fresh
// registry with the Go and process collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "craftlink_active_sessions",
				Help: "Current number of open connections",
			},
		),
		sessionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "craftlink_sessions_created_total",
				Help: "Total number of sessions created",
			},
			[]string{"transport"},
		),
		sessionsDisconnected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "craftlink_sessions_disconnected_total",
				Help: "Total number of sessions disconnected",
			},
		),
		onlineUsers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "craftlink_online_users",
				Help: "Identities currently bound to a connection",
			},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "craftlink_requests_total",
				Help: "Total number of requests by type and result",
			},
			[]string{"type", "result"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "craftlink_request_duration_seconds",
				Help:    "Time spent handling a request",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		pushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "craftlink_push_total",
				Help: "Real-time push attempts by outcome",
			},
			[]string{"result"},
		),
		duplicateLogins: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "craftlink_duplicate_logins_total",
				Help: "Logins rejected because the identity was already bound",
			},
		),
	}
}

// Handler serves this instance's registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordActiveSessions updates the active session count
func (m *Metrics) RecordActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

// RecordSessionCreated increments the session creation counter
func (m *Metrics) RecordSessionCreated(transport string) {
	m.sessionsCreated.WithLabelValues(transport).Inc()
}

// RecordSessionDisconnected increments the session disconnection counter
func (m *Metrics) RecordSessionDisconnected() {
	m.sessionsDisconnected.Inc()
}

// RecordOnlineUsers updates the bound identity count
func (m *Metrics) RecordOnlineUsers(count int) {
	m.onlineUsers.Set(float64(count))
}

// RecordRequest counts one handled request and its duration
func (m *Metrics) RecordRequest(requestType string, success bool, seconds float64) {
	result := "ok"
	if !success {
		result = "fail"
	}
	m.requests.WithLabelValues(requestType, result).Inc()
	m.requestDuration.WithLabelValues(requestType).Observe(seconds)
}

// RecordPush counts one push attempt
func (m *Metrics) RecordPush(result string) {
	m.pushes.WithLabelValues(result).Inc()
}

// RecordDuplicateLogin counts a rejected duplicate login
func (m *Metrics) RecordDuplicateLogin() {
	m.duplicateLogins.Inc()
}
