// Package metrics provides Prometheus metrics for the sync pipeline, the job
// queue and the dashboard API.
package metrics

import (
	"time"

	"github.com/nadmax/taskboard/internal/queue"
	"github.com/nadmax/taskboard/internal/statusduration"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskboard_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"type", "priority"},
	)
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskboard_jobs_completed_total",
			Help: "Total number of jobs completed successfully",
		},
		[]string{"type"},
	)
	JobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskboard_jobs_failed_total",
			Help: "Total number of job attempts that failed",
		},
		[]string{"type"},
	)
	JobsRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskboard_jobs_retried_total",
			Help: "Total number of job retries",
		},
		[]string{"type"},
	)
	JobsDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskboard_jobs_dead_lettered_total",
			Help: "Total number of jobs moved to the dead letter queue",
		},
		[]string{"type"},
	)
	JobsInQueue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskboard_jobs_in_queue",
			Help: "Current number of jobs by status and type",
		},
		[]string{"status", "type"},
	)
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskboard_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"type", "status"},
	)
	JobWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskboard_job_wait_time_seconds",
			Help:    "Time jobs spend waiting in queue before execution",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
		[]string{"type", "priority"},
	)
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskboard_sync_runs_total",
			Help: "Total number of project syncs by outcome",
		},
		[]string{"project", "status"},
	)
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskboard_sync_duration_seconds",
			Help:    "Project sync duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"project"},
	)
	TasksSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskboard_tasks_synced_total",
			Help: "Total number of tasks upserted by syncs",
		},
		[]string{"project"},
	)
	StatusChangesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskboard_status_changes_stored_total",
			Help: "Total number of new status changes stored by syncs",
		},
		[]string{"project"},
	)
	StatusAverageSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskboard_status_average_seconds",
			Help: "Average time spent per status across all synced tasks",
		},
		[]string{"status"},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskboard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskboard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskboard_queue_depth",
			Help: "Current depth of the job queue",
		},
	)
	DeadLetterQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskboard_dead_letter_queue_depth",
			Help: "Current depth of the dead letter queue",
		},
	)
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskboard_workers_active",
			Help: "Number of currently active workers",
		},
	)
)

func RecordJobEnqueued(jobType string, priority queue.JobPriority) {
	JobsEnqueued.WithLabelValues(jobType, priority.String()).Inc()
}

func RecordJobCompleted(jobType string, duration time.Duration) {
	JobsCompleted.WithLabelValues(jobType).Inc()
	JobDuration.WithLabelValues(jobType, "completed").Observe(duration.Seconds())
}

func RecordJobFailed(jobType string, duration time.Duration) {
	JobsFailed.WithLabelValues(jobType).Inc()
	JobDuration.WithLabelValues(jobType, "failed").Observe(duration.Seconds())
}

func RecordJobRetried(jobType string) {
	JobsRetried.WithLabelValues(jobType).Inc()
}

func RecordJobDeadLettered(jobType string) {
	JobsDeadLettered.WithLabelValues(jobType).Inc()
}

func RecordJobWaitTime(jobType string, priority queue.JobPriority, waitTime time.Duration) {
	JobWaitTime.WithLabelValues(jobType, priority.String()).Observe(waitTime.Seconds())
}

func RecordSync(projectGID, status string, duration time.Duration, tasks, changes int) {
	SyncRuns.WithLabelValues(projectGID, status).Inc()
	SyncDuration.WithLabelValues(projectGID).Observe(duration.Seconds())
	TasksSynced.WithLabelValues(projectGID).Add(float64(tasks))
	StatusChangesStored.WithLabelValues(projectGID).Add(float64(changes))
}

// UpdateStatusAverages replaces the per-status average gauges with stats.
func UpdateStatusAverages(stats []statusduration.Stat) {
	StatusAverageSeconds.Reset()
	for _, s := range stats {
		StatusAverageSeconds.WithLabelValues(s.Status).Set(s.AverageDurationSeconds)
	}
}

func UpdateJobGauges(jobsByStatus map[queue.JobStatus]map[string]int) {
	JobsInQueue.Reset()
	for status, typeMap := range jobsByStatus {
		for jobType, count := range typeMap {
			JobsInQueue.WithLabelValues(string(status), jobType).Set(float64(count))
		}
	}
}

func UpdateQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

func UpdateDeadLetterQueueDepth(depth int) {
	DeadLetterQueueDepth.Set(float64(depth))
}

func UpdateActiveWorkers(count int) {
	WorkersActive.Set(float64(count))
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
