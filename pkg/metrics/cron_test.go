package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsRecordsRunsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	at := time.Unix(1_760_000_000, 0)

	m.ObserveRun("payout-scheduler", JobResultSucceeded, 250*time.Millisecond, at)
	m.ObserveRun("payout-scheduler", JobResultFailed, time.Second, at.Add(time.Hour))
	m.IncCycle(CycleRan)
	m.IncCycle(CycleSkipped)
	m.IncCycle(CycleSkipped)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	succeeded := map[string]string{"job": "payout-scheduler", "result": JobResultSucceeded}
	if got, err := fetchCounterValue(mfs, "settlement_job_runs_total", succeeded); err != nil || got != 1 {
		t.Fatalf("expected succeeded=1, got %f err=%v", got, err)
	}
	failed := map[string]string{"job": "payout-scheduler", "result": JobResultFailed}
	if got, err := fetchCounterValue(mfs, "settlement_job_runs_total", failed); err != nil || got != 1 {
		t.Fatalf("expected failed=1, got %f err=%v", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "settlement_job_duration_seconds", "job", "payout-scheduler"); err != nil || got != 1.25 {
		t.Fatalf("expected duration sum 1.25, got %f err=%v", got, err)
	}
	// failed run must not advance the gauge
	if got, err := fetchGaugeValue(mfs, "settlement_job_last_success_timestamp_seconds", "job", "payout-scheduler"); err != nil || got != float64(at.Unix()) {
		t.Fatalf("expected last success %d, got %f err=%v", at.Unix(), got, err)
	}
	if got, err := fetchCounterValue(mfs, "settlement_cycles_total", map[string]string{"outcome": CycleSkipped}); err != nil || got != 2 {
		t.Fatalf("expected skipped cycles=2, got %f err=%v", got, err)
	}
}

func TestCronJobMetricsBlankJobName(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.ObserveRun("", JobResultTimedOut, time.Second, time.Now())

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	labels := map[string]string{"job": "unknown", "result": JobResultTimedOut}
	if got, err := fetchCounterValue(mfs, "settlement_job_runs_total", labels); err != nil || got != 1 {
		t.Fatalf("expected unknown job counted, got %f err=%v", got, err)
	}
}

func TestCronJobMetricsWithoutRegisterer(t *testing.T) {
	m := NewCronJobMetrics(nil)
	m.ObserveRun("vendor-account-sync", JobResultSucceeded, time.Second, time.Now())
	m.IncCycle(CycleRan)

	var nilMetrics *CronJobMetrics
	nilMetrics.ObserveRun("vendor-account-sync", JobResultFailed, time.Second, time.Now())
	nilMetrics.IncCycle(CycleErrored)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func fetchGaugeValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), map[string]string{label: value}) {
			return metric.GetGauge().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("gauge %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), map[string]string{label: value}) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
