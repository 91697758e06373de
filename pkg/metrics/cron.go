package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Job run results recorded on settlement_job_runs_total.
const (
	JobResultSucceeded = "succeeded"
	JobResultFailed    = "failed"
	JobResultTimedOut  = "timed_out"
)

// Cycle outcomes recorded on settlement_cycles_total.
const (
	CycleRan     = "ran"
	CycleSkipped = "skipped_locked"
	CycleErrored = "lock_error"
)

// CronJobMetrics tracks the settlement cron worker: one series per job plus
// the leader-lock outcome of each cycle.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	cycles      *prometheus.CounterVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_job_runs_total",
			Help: "Settlement job executions by result.",
		}, []string{"job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settlement_job_duration_seconds",
			Help:    "Wall time of settlement jobs.",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 30, 60, 300, 600},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settlement_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_cycles_total",
			Help: "Cron cycles by leader lock outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess, m.cycles)
	return m
}

// ObserveRun records one job execution. Only successful runs move the
// last-success gauge, so a stuck job shows up as a stale timestamp.
func (c *CronJobMetrics) ObserveRun(job, result string, took time.Duration, at time.Time) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	c.runs.WithLabelValues(job, normalizeLabel(result)).Inc()
	c.duration.WithLabelValues(job).Observe(took.Seconds())
	if result == JobResultSucceeded {
		c.lastSuccess.WithLabelValues(job).Set(float64(at.Unix()))
	}
}

func (c *CronJobMetrics) IncCycle(outcome string) {
	if c == nil || c.cycles == nil {
		return
	}
	c.cycles.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
