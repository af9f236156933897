package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// TaskMetrics exposes Prometheus collectors for background task runs.
// A nil *TaskMetrics records nothing.
type TaskMetrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewTaskMetrics registers the task collectors against the registerer.
// When registerer is nil the default Prometheus registerer is used.
func NewTaskMetrics(registerer prometheus.Registerer) *TaskMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &TaskMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_task_runs_total",
			Help: "Background task runs by type.",
		}, []string{"type"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_task_failures_total",
			Help: "Background task failures by type.",
		}, []string{"type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockledger_task_duration_seconds",
			Help:    "Background task duration by type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration)
	return m
}

// Wrap instruments an asynq handler with run, failure and duration metrics.
func (m *TaskMetrics) Wrap(next asynq.Handler) asynq.Handler {
	if m == nil {
		return next
	}
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		start := time.Now()
		err := next.ProcessTask(ctx, t)
		m.runs.WithLabelValues(t.Type()).Inc()
		m.duration.WithLabelValues(t.Type()).Observe(time.Since(start).Seconds())
		if err != nil {
			m.failures.WithLabelValues(t.Type()).Inc()
		}
		return err
	})
}
