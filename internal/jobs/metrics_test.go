package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestTrackerRecordsRunsAndFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	for i := 0; i < 9; i++ {
		if err := metrics.Track("avstemming.grensesnitt").End(nil); err != nil {
			t.Fatalf("unexpected error ending tracker: %v", err)
		}
	}
	boom := errors.New("broker down")
	if err := metrics.Track("avstemming.grensesnitt").End(boom); !errors.Is(err, boom) {
		t.Fatalf("expected error to propagate, got %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	success := metricValue(t, families, "settlement_jobs_total", map[string]string{"job": "avstemming.grensesnitt", "status": "success"})
	failure := metricValue(t, families, "settlement_jobs_total", map[string]string{"job": "avstemming.grensesnitt", "status": "failure"})
	if success != 9 || failure != 1 {
		t.Fatalf("unexpected run counts success=%v failure=%v", success, failure)
	}
	if got := metricValue(t, families, "settlement_jobs_failures_total", map[string]string{"job": "avstemming.grensesnitt"}); got != 1 {
		t.Fatalf("expected one failure, got %v", got)
	}
	if n := histogramCount(t, families, "settlement_job_duration_seconds", map[string]string{"job": "avstemming.grensesnitt"}); n != 10 {
		t.Fatalf("expected 10 duration samples, got %d", n)
	}
}

func TestDomainCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	metrics.ObserveSend("ok")
	metrics.ObserveSend("ok")
	metrics.ObserveSend("error")
	metrics.ObserveTransition("SENT")
	metrics.ObserveReceipt("applied")
	metrics.AddReconciled(4)
	metrics.AddReconciled(0)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	if got := metricValue(t, families, "settlement_oppdrag_sends_total", map[string]string{"outcome": "ok"}); got != 2 {
		t.Fatalf("expected 2 successful sends, got %v", got)
	}
	if got := metricValue(t, families, "settlement_oppdrag_transitions_total", map[string]string{"status": "SENT"}); got != 1 {
		t.Fatalf("expected 1 transition, got %v", got)
	}
	if got := metricValue(t, families, "settlement_kvittering_total", map[string]string{"outcome": "applied"}); got != 1 {
		t.Fatalf("expected 1 receipt, got %v", got)
	}
	if got := metricValue(t, families, "settlement_avstemming_orders_total", nil); got != 4 {
		t.Fatalf("expected 4 reconciled orders, got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveSend("ok")
	metrics.ObserveTransition("SENT")
	metrics.ObserveReceipt("applied")
	metrics.AddReconciled(1)
	if err := metrics.Track("oppdrag.settle").End(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramCount(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) uint64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				return metric.GetHistogram().GetSampleCount()
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for key, want := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = lp.GetValue() == want
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
