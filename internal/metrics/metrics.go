// Package metrics holds the Prometheus collectors for the recorder and the
// dashboard coalescer. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Publish outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomePanic   = "panic"
)

type Metrics struct {
	// Schedule calls received by the coalescer
	SignalsReceived prometheus.Counter

	// Schedule calls absorbed by an already pending publish
	SignalsCoalesced prometheus.Counter

	// Publish attempts by outcome
	Publishes *prometheus.CounterVec

	PublishDuration prometheus.Histogram

	// Keys with a running worker
	ActiveWorkers prometheus.Gauge

	// Transactions appended, by kind
	TransactionsRecorded *prometheus.CounterVec

	// Appends rejected by validation, by reason
	TransactionsRejected *prometheus.CounterVec
}

// New registers every collector with reg. Passing prometheus.DefaultRegisterer
// exposes them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SignalsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "hisob_coalescer_signals_total",
			Help: "Total change signals received by the dashboard coalescer",
		}),
		SignalsCoalesced: f.NewCounter(prometheus.CounterOpts{
			Name: "hisob_coalescer_signals_coalesced_total",
			Help: "Change signals merged into an already pending dashboard update",
		}),
		Publishes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hisob_dashboard_publishes_total",
			Help: "Dashboard publish attempts by outcome",
		}, []string{"outcome"}),
		PublishDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hisob_dashboard_publish_duration_seconds",
			Help:    "Duration of dashboard recompute-and-publish",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ActiveWorkers: f.NewGauge(prometheus.GaugeOpts{
			Name: "hisob_coalescer_active_workers",
			Help: "Number of groups with a running coalescer worker",
		}),
		TransactionsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hisob_transactions_recorded_total",
			Help: "Transactions appended to the ledger by kind",
		}, []string{"kind"}),
		TransactionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hisob_transactions_rejected_total",
			Help: "Transaction appends rejected by validation, by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) SignalReceived() {
	if m != nil {
		m.SignalsReceived.Inc()
	}
}

func (m *Metrics) SignalCoalesced() {
	if m != nil {
		m.SignalsCoalesced.Inc()
	}
}

// ObservePublish records one publish attempt.
func (m *Metrics) ObservePublish(outcome string, d time.Duration) {
	if m != nil {
		m.Publishes.WithLabelValues(outcome).Inc()
		m.PublishDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) WorkerStarted() {
	if m != nil {
		m.ActiveWorkers.Inc()
	}
}

func (m *Metrics) WorkerStopped() {
	if m != nil {
		m.ActiveWorkers.Dec()
	}
}

func (m *Metrics) TransactionRecorded(kind string) {
	if m != nil {
		m.TransactionsRecorded.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) TransactionRejected(reason string) {
	if m != nil {
		m.TransactionsRejected.WithLabelValues(reason).Inc()
	}
}
