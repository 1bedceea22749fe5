package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "session_gate"

// Metrics holds the Prometheus collectors for the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ErrorsTotal     *prometheus.CounterVec
	GateDecisions   *prometheus.CounterVec
	LoginAttempts   *prometheus.CounterVec
	BanTransitions  *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by method and status",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ErrorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_errors_total",
				Help:      "Errors rendered by the error middleware, by code",
			},
			[]string{"method", "code"},
		),
		GateDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_decisions_total",
				Help:      "Access gate decisions by outcome and reason",
			},
			[]string{"decision", "reason"}, // decision=allow/redirect/blocked
		),
		LoginAttempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "login_attempts_total",
				Help:      "Login attempts by method and result",
			},
			[]string{"method", "result"},
		),
		BanTransitions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ban_transitions_total",
				Help:      "Ban state transitions by action",
			},
			[]string{"action"},
		),
	}
}

// RecordRequest observes a finished request.
func (m *Metrics) RecordRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(method, code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(method, code).Inc()
}

// RecordGateDecision counts one gate outcome.
func (m *Metrics) RecordGateDecision(decision, reason string) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(decision, reason).Inc()
}

// RecordLogin counts one login attempt.
func (m *Metrics) RecordLogin(method, result string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(method, result).Inc()
}

// RecordBanTransition counts one ban state change.
func (m *Metrics) RecordBanTransition(action string) {
	if m == nil {
		return
	}
	m.BanTransitions.WithLabelValues(action).Inc()
}
