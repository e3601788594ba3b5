package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cron job outcomes.
const (
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// CronJobMetrics tracks maintenance job runs and cycles skipped because
// another worker held the lock.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	skipped     prometheus.Counter
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: "settlement", Subsystem: "cron", Name: name, Help: help}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts(opts("job_runs_total",
			"Cron job runs by outcome.")), []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "settlement",
			Subsystem: "cron",
			Name:      "job_duration_seconds",
			Help:      "Cron job run time.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts(opts("job_last_success_timestamp_seconds",
			"Unix time of the last successful run.")), []string{"job"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts(opts("cycles_skipped_total",
			"Cycles skipped because the cron lock was held elsewhere."))),
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess, m.skipped)
	return m
}

// ObserveRun records one finished job run.
func (m *CronJobMetrics) ObserveRun(job string, took time.Duration, err error, at time.Time) {
	if m == nil || m.runs == nil {
		return
	}
	job = normalizeLabel(job)
	m.duration.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		m.runs.WithLabelValues(job, JobFailed).Inc()
		return
	}
	m.runs.WithLabelValues(job, JobSucceeded).Inc()
	m.lastSuccess.WithLabelValues(job).Set(float64(at.Unix()))
}

func (m *CronJobMetrics) CycleSkipped() {
	if m == nil || m.skipped == nil {
		return
	}
	m.skipped.Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
