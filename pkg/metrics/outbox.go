package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Per-row outcomes recorded on outbox_rows_total.
const (
	OutboxPublished = "published"
	OutboxRetry     = "retry"
	OutboxParked    = "parked"
	OutboxHeld      = "held"
)

// OutboxMetrics covers the outbox publisher.
type OutboxMetrics struct {
	rows    *prometheus.CounterVec
	latency prometheus.Histogram
	lag     prometheus.Gauge
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_rows_total",
		Help: "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_publish_ack_seconds",
		Help:    "Time from publish to broker acknowledgement.",
		Buckets: prometheus.DefBuckets,
	})
	lag := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_oldest_published_age_seconds",
		Help: "Age of the oldest row published in the last batch.",
	})
	reg.MustRegister(rows, latency, lag)
	return &OutboxMetrics{rows: rows, latency: latency, lag: lag}
}

func (m *OutboxMetrics) IncRow(eventType, outcome string) {
	if m == nil || m.rows == nil {
		return
	}
	m.rows.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *OutboxMetrics) ObserveAck(took time.Duration) {
	if m == nil || m.latency == nil {
		return
	}
	m.latency.Observe(took.Seconds())
}

// SetLag records how long the oldest row of a batch waited in the table.
func (m *OutboxMetrics) SetLag(age time.Duration) {
	if m == nil || m.lag == nil {
		return
	}
	m.lag.Set(max(age, 0).Seconds())
}
