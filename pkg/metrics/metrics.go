// Package metrics exposes Prometheus metrics for the lifecycle engine and
// its RADIUS side effects.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	sweepDuration  prometheus.Histogram
	sweepProcessed prometheus.Counter
	sweepErrors    prometheus.Counter

	transitions *prometheus.CounterVec

	renewals      prometheus.Counter
	renewedAmount prometheus.Counter

	coaResults *prometheus.CounterVec

	authAttempts *prometheus.CounterVec
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: registry,
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "radbill_sweep_duration_seconds",
			Help:    "Duration of full subscriber sweeps",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		sweepProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radbill_sweep_subscribers_total",
			Help: "Subscribers processed by the scheduled sweep",
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radbill_sweep_errors_total",
			Help: "Per-subscriber failures isolated during sweeps",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "radbill_state_transitions_total",
			Help: "Subscriber state transitions",
		}, []string{"from", "to"}),
		renewals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radbill_renewals_total",
			Help: "Successful balance auto-renewals",
		}),
		renewedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radbill_renewed_amount_cents_total",
			Help: "Total amount deducted by auto-renewals, minor units",
		}),
		coaResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "radbill_coa_results_total",
			Help: "CoA disconnect outcomes",
		}, []string{"outcome"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "radbill_auth_attempts_total",
			Help: "Authentication attempts by result",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.sweepDuration, m.sweepProcessed, m.sweepErrors,
		m.transitions, m.renewals, m.renewedAmount,
		m.coaResults, m.authAttempts,
	)
	return m
}

// ObserveSweep records one sweep run.
func (m *Metrics) ObserveSweep(seconds float64, processed, errors int) {
	m.sweepDuration.Observe(seconds)
	m.sweepProcessed.Add(float64(processed))
	m.sweepErrors.Add(float64(errors))
}

// IncTransition records a state transition.
func (m *Metrics) IncTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

// IncRenewal records a successful auto-renewal.
func (m *Metrics) IncRenewal(amount int64) {
	m.renewals.Inc()
	m.renewedAmount.Add(float64(amount))
}

// IncCoAResult records a disconnect outcome (ack, nak, timeout, unresolved).
func (m *Metrics) IncCoAResult(outcome string) {
	m.coaResults.WithLabelValues(outcome).Inc()
}

// IncAuth records an authentication attempt.
func (m *Metrics) IncAuth(accepted bool) {
	result := "reject"
	if accepted {
		result = "accept"
	}
	m.authAttempts.WithLabelValues(result).Inc()
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
