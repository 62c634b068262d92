package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can take it as an optional dependency.
type Metrics struct {
	// Dispatcher metrics
	RESTRequestsTotal   *prometheus.CounterVec
	RESTRequestDuration *prometheus.HistogramVec

	// Auth metrics
	AuthDecisionsTotal *prometheus.CounterVec
	TokensIssuedTotal  prometheus.Counter
	LoginRateLimited   prometheus.Counter

	// Upstream metrics
	ForwardRequestsTotal *prometheus.CounterVec

	// Directory metrics
	DirectoryUsers *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		RESTRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appmesh_rest_requests_total",
				Help: "Total number of REST requests by terminal outcome",
			},
			[]string{"method", "outcome"},
		),
		RESTRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appmesh_rest_request_duration_seconds",
				Help:    "REST dispatch duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		AuthDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appmesh_auth_decisions_total",
				Help: "Total number of authentication and authorization decisions",
			},
			[]string{"operation", "result"},
		),
		TokensIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "appmesh_tokens_issued_total",
				Help: "Total number of bearer tokens issued",
			},
		),
		LoginRateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "appmesh_login_rate_limited_total",
				Help: "Total number of login attempts rejected by the rate limiter",
			},
		),
		ForwardRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appmesh_forward_requests_total",
				Help: "Total number of requests forwarded to the upstream daemon",
			},
			[]string{"status"},
		),
		DirectoryUsers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "appmesh_directory_users",
				Help: "Number of users known to the user directory",
			},
			[]string{"state"},
		),
	}

	registry.MustRegister(
		m.RESTRequestsTotal,
		m.RESTRequestDuration,
		m.AuthDecisionsTotal,
		m.TokensIssuedTotal,
		m.LoginRateLimited,
		m.ForwardRequestsTotal,
		m.DirectoryUsers,
	)

	return m
}

// RecordDispatch records one dispatched request
func (m *Metrics) RecordDispatch(method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RESTRequestsTotal.WithLabelValues(method, outcome).Inc()
	m.RESTRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordAuthDecision records an identify/authorize outcome
func (m *Metrics) RecordAuthDecision(operation, result string) {
	if m == nil {
		return
	}
	m.AuthDecisionsTotal.WithLabelValues(operation, result).Inc()
}

// RecordTokenIssued counts an issued token
func (m *Metrics) RecordTokenIssued() {
	if m == nil {
		return
	}
	m.TokensIssuedTotal.Inc()
}

// RecordLoginRateLimited counts a rejected login attempt
func (m *Metrics) RecordLoginRateLimited() {
	if m == nil {
		return
	}
	m.LoginRateLimited.Inc()
}

// RecordForward records a forwarded request by upstream status
func (m *Metrics) RecordForward(status string) {
	if m == nil {
		return
	}
	m.ForwardRequestsTotal.WithLabelValues(status).Inc()
}

// SetDirectoryUsers publishes the directory population
func (m *Metrics) SetDirectoryUsers(total, locked int) {
	if m == nil {
		return
	}
	m.DirectoryUsers.WithLabelValues("total").Set(float64(total))
	m.DirectoryUsers.WithLabelValues("locked").Set(float64(locked))
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
