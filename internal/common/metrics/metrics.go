// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery paths used as the "path" label.
const (
	PathImmediate = "immediate"
	PathSweep     = "sweep"
)

var (
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_messages_sent_total",
			Help: "Total number of messages delivered, by delivery path",
		},
		[]string{"path"},
	)

	MessagesQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_messages_queued_total",
			Help: "Total number of messages written as pending, by reason",
		},
		[]string{"reason"},
	)

	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_delivery_failures_total",
			Help: "Total number of failed transport attempts, by delivery path",
		},
		[]string{"path"},
	)

	MessagesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailer_messages_failed_total",
			Help: "Total number of queue entries that reached the terminal failed status",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailer_sweep_duration_seconds",
			Help:    "Duration of queue sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_sweeps_skipped_total",
			Help: "Total number of sweeps skipped, by reason",
		},
		[]string{"reason"},
	)

	EntriesPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailer_entries_purged_total",
			Help: "Total number of queue entries removed by the retention sweep",
		},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)
)
