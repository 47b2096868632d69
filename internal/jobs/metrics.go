package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the settlement bridge background
// work: job runs, sends, status transitions and kvittering handling.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	sends       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	receipts    *prometheus.CounterVec
	reconciled  prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ObserveSend counts an oppdrag send by outcome ("ok", "error").
func (m *Metrics) ObserveSend(outcome string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(outcome).Inc()
}

// ObserveTransition counts a persisted status transition.
func (m *Metrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

// ObserveReceipt counts a handled kvittering by outcome.
func (m *Metrics) ObserveReceipt(outcome string) {
	if m == nil {
		return
	}
	m.receipts.WithLabelValues(outcome).Inc()
}

// AddReconciled adds orders covered by a completed avstemming run.
func (m *Metrics) AddReconciled(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.reconciled.Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	sends := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_oppdrag_sends_total",
		Help: "Oppdrag handed to the request queue, by outcome.",
	}, []string{"outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_oppdrag_transitions_total",
		Help: "Persisted oppdrag status transitions by target status.",
	}, []string{"status"})
	receipts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_kvittering_total",
		Help: "Kvitteringer handled by the confirmation listener, by outcome.",
	}, []string{"outcome"})
	reconciled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlement_avstemming_orders_total",
		Help: "Orders covered by completed grensesnittavstemming runs.",
	})
	registerer.MustRegister(runs, failures, duration, sends, transitions, receipts, reconciled)
	return &Metrics{
		runs:        runs,
		failures:    failures,
		duration:    duration,
		sends:       sends,
		transitions: transitions,
		receipts:    receipts,
		reconciled:  reconciled,
	}
}
