package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger. Methods are nil-safe
// so tests can pass a nil *Metrics without wiring a registry.
type Metrics struct {
	Checkins        *prometheus.CounterVec
	QuickAdds       prometheus.Counter
	ReferralClicks  prometheus.Counter
	PayoutRuns      *prometheus.CounterVec
	OutboxDropped   prometheus.Counter
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		Checkins: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "doorledger_checkins_total",
			Help: "Total check-in attempts by result",
		}, []string{"result"}), // result: "created", "duplicate", "rejected"

		QuickAdds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "doorledger_quick_adds_total",
			Help: "Total walk-up registrations created at the door",
		}),

		ReferralClicks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "doorledger_referral_clicks_total",
			Help: "Total tracked referral link clicks",
		}),

		PayoutRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "doorledger_payout_runs_total",
			Help: "Total payout run computations and resets by outcome",
		}, []string{"operation", "outcome"}), // operation: "compute", "reset"

		OutboxDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "doorledger_outbox_dropped_total",
			Help: "Domain events dropped because the outbox buffer was full",
		}),

		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "doorledger_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "method"}),
	}
}

// IncrementCheckin records a check-in attempt outcome.
func (m *Metrics) IncrementCheckin(result string) {
	if m != nil {
		m.Checkins.WithLabelValues(result).Inc()
	}
}

// IncrementQuickAdd records a walk-up registration.
func (m *Metrics) IncrementQuickAdd() {
	if m != nil {
		m.QuickAdds.Inc()
	}
}

// IncrementReferralClick records a tracked click.
func (m *Metrics) IncrementReferralClick() {
	if m != nil {
		m.ReferralClicks.Inc()
	}
}

// IncrementPayoutRun records a payout operation outcome.
func (m *Metrics) IncrementPayoutRun(operation, outcome string) {
	if m != nil {
		m.PayoutRuns.WithLabelValues(operation, outcome).Inc()
	}
}

// IncrementOutboxDropped records a dropped outbox event.
func (m *Metrics) IncrementOutboxDropped() {
	if m != nil {
		m.OutboxDropped.Inc()
	}
}

// ObserveRequestDuration records HTTP request latency.
func (m *Metrics) ObserveRequestDuration(route, method string, d time.Duration) {
	if m != nil {
		m.RequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
	}
}
