package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrchestrationMetrics covers webhook outcomes, payout attempts and lock waits.
type OrchestrationMetrics struct {
	webhookEvents *prometheus.CounterVec
	payouts       *prometheus.CounterVec
	lockWait      *prometheus.HistogramVec
}

// NewOrchestrationMetrics registers the orchestration metrics on reg.
func NewOrchestrationMetrics(reg prometheus.Registerer) *OrchestrationMetrics {
	if reg == nil {
		return &OrchestrationMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Processor webhook events by recorded outcome.",
	}, []string{"outcome"})
	payouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payouts_total",
		Help: "Vendor payout processing attempts by result.",
	}, []string{"result"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "order_lock_wait_seconds",
		Help:    "Time spent waiting for aggregate locks.",
		Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"acquired"})
	reg.MustRegister(webhookEvents, payouts, lockWait)
	return &OrchestrationMetrics{
		webhookEvents: webhookEvents,
		payouts:       payouts,
		lockWait:      lockWait,
	}
}

// IncWebhookOutcome counts one processed webhook delivery.
func (m *OrchestrationMetrics) IncWebhookOutcome(outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncPayoutResult counts one payout processing attempt.
func (m *OrchestrationMetrics) IncPayoutResult(result string) {
	if m == nil || m.payouts == nil {
		return
	}
	m.payouts.WithLabelValues(normalizeLabel(result)).Inc()
}

// ObserveLockWait records lock acquisition latency.
func (m *OrchestrationMetrics) ObserveLockWait(waited time.Duration, acquired bool) {
	if m == nil || m.lockWait == nil {
		return
	}
	m.lockWait.WithLabelValues(strconv.FormatBool(acquired)).Observe(waited.Seconds())
}
