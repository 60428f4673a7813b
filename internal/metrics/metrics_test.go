package metrics

import (
	"testing"
	"time"

	"github.com/nadmax/taskboard/internal/queue"
	"github.com/nadmax/taskboard/internal/statusduration"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordJobEnqueued(t *testing.T) {
	JobsEnqueued.Reset()

	tests := []struct {
		name     string
		jobType  string
		priority queue.JobPriority
	}{
		{
			name:     "high priority sync",
			jobType:  queue.TypeSyncProject,
			priority: queue.PriorityHigh,
		},
		{
			name:     "medium priority report",
			jobType:  queue.TypeGenerateReport,
			priority: queue.PriorityMedium,
		},
		{
			name:     "low priority email",
			jobType:  queue.TypeSendEmail,
			priority: queue.PriorityLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordJobEnqueued(tt.jobType, tt.priority)

			metric := getCounterValue(t, JobsEnqueued, tt.jobType, tt.priority.String())
			assert.Equal(t, 1.0, metric)
		})
	}
}

func TestRecordJobCompleted(t *testing.T) {
	JobsCompleted.Reset()
	JobDuration.Reset()

	RecordJobCompleted(queue.TypeSyncProject, 2*time.Second)

	assert.Equal(t, 1.0, getCounterValue(t, JobsCompleted, queue.TypeSyncProject))
	assert.Equal(t, 2.0, getHistogramSum(t, JobDuration, queue.TypeSyncProject, "completed"))
}

func TestRecordJobFailed(t *testing.T) {
	JobsFailed.Reset()
	JobDuration.Reset()

	RecordJobFailed(queue.TypeGenerateReport, 500*time.Millisecond)

	assert.Equal(t, 1.0, getCounterValue(t, JobsFailed, queue.TypeGenerateReport))
	assert.Equal(t, 0.5, getHistogramSum(t, JobDuration, queue.TypeGenerateReport, "failed"))
}

func TestRecordJobRetriedAndDeadLettered(t *testing.T) {
	JobsRetried.Reset()
	JobsDeadLettered.Reset()

	RecordJobRetried(queue.TypeSendEmail)
	RecordJobRetried(queue.TypeSendEmail)
	RecordJobDeadLettered(queue.TypeSendEmail)

	assert.Equal(t, 2.0, getCounterValue(t, JobsRetried, queue.TypeSendEmail))
	assert.Equal(t, 1.0, getCounterValue(t, JobsDeadLettered, queue.TypeSendEmail))
}

func TestRecordJobWaitTime(t *testing.T) {
	JobWaitTime.Reset()

	waitTimes := []time.Duration{
		10 * time.Millisecond,
		time.Second,
		time.Minute,
		time.Hour,
	}

	for i, wt := range waitTimes {
		RecordJobWaitTime("wait-test", queue.PriorityMedium, wt)

		metric := getHistogramMetric(t, JobWaitTime, "wait-test", queue.PriorityMedium.String())
		assert.Equal(t, uint64(i+1), metric.Histogram.GetSampleCount())
	}
}

func TestRecordSync(t *testing.T) {
	SyncRuns.Reset()
	SyncDuration.Reset()
	TasksSynced.Reset()
	StatusChangesStored.Reset()

	RecordSync("1200", "completed", 3*time.Second, 40, 12)
	RecordSync("1200", "completed", time.Second, 2, 0)

	assert.Equal(t, 2.0, getCounterValue(t, SyncRuns, "1200", "completed"))
	assert.Equal(t, 4.0, getHistogramSum(t, SyncDuration, "1200"))
	assert.Equal(t, 42.0, getCounterValue(t, TasksSynced, "1200"))
	assert.Equal(t, 12.0, getCounterValue(t, StatusChangesStored, "1200"))
}

func TestUpdateStatusAverages(t *testing.T) {
	UpdateStatusAverages([]statusduration.Stat{
		{Status: "Doing", AverageDurationSeconds: 3600},
		{Status: "To Do", AverageDurationSeconds: 60},
	})
	UpdateStatusAverages([]statusduration.Stat{
		{Status: "Doing", AverageDurationSeconds: 1800},
	})

	assert.Equal(t, 1800.0, getGaugeValue(t, StatusAverageSeconds, "Doing"))
	assert.Equal(t, 1, countSeries(t, StatusAverageSeconds), "stale statuses are dropped")
}

func TestUpdateJobGauges(t *testing.T) {
	JobsInQueue.Reset()

	UpdateJobGauges(map[queue.JobStatus]map[string]int{
		queue.StatusPending: {
			queue.TypeSyncProject:    5,
			queue.TypeGenerateReport: 3,
		},
		queue.StatusRunning: {
			queue.TypeSyncProject: 2,
		},
	})

	assert.Equal(t, 5.0, getGaugeValue(t, JobsInQueue, string(queue.StatusPending), queue.TypeSyncProject))
	assert.Equal(t, 3.0, getGaugeValue(t, JobsInQueue, string(queue.StatusPending), queue.TypeGenerateReport))
	assert.Equal(t, 2.0, getGaugeValue(t, JobsInQueue, string(queue.StatusRunning), queue.TypeSyncProject))
}

func TestUpdateJobGauges_Reset(t *testing.T) {
	JobsInQueue.Reset()

	UpdateJobGauges(map[queue.JobStatus]map[string]int{
		queue.StatusPending: {"job1": 5},
	})
	UpdateJobGauges(map[queue.JobStatus]map[string]int{
		queue.StatusPending: {"job2": 3},
	})

	assert.Equal(t, 3.0, getGaugeValue(t, JobsInQueue, string(queue.StatusPending), "job2"))
	assert.Equal(t, 1, countSeries(t, JobsInQueue))
}

func TestUpdateQueueDepths(t *testing.T) {
	for _, depth := range []int{0, 10, 100} {
		UpdateQueueDepth(depth)
		UpdateDeadLetterQueueDepth(depth / 2)
		UpdateActiveWorkers(depth / 10)

		metric := &dto.Metric{}
		require.NoError(t, QueueDepth.Write(metric))
		assert.Equal(t, float64(depth), metric.Gauge.GetValue())

		metric = &dto.Metric{}
		require.NoError(t, DeadLetterQueueDepth.Write(metric))
		assert.Equal(t, float64(depth/2), metric.Gauge.GetValue())

		metric = &dto.Metric{}
		require.NoError(t, WorkersActive.Write(metric))
		assert.Equal(t, float64(depth/10), metric.Gauge.GetValue())
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	tests := []struct {
		name     string
		method   string
		endpoint string
		status   string
		duration time.Duration
	}{
		{"successful GET", "GET", "/api/dashboard/kpis", "200", 50 * time.Millisecond},
		{"failed POST", "POST", "/api/sync", "500", 100 * time.Millisecond},
		{"unauthorized", "GET", "/api/dashboard/tasks", "401", 10 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordHTTPRequest(tt.method, tt.endpoint, tt.status, tt.duration)

			assert.Equal(t, 1.0, getCounterValue(t, HTTPRequestsTotal, tt.method, tt.endpoint, tt.status))
			assert.InDelta(t, tt.duration.Seconds(), getHistogramSum(t, HTTPRequestDuration, tt.method, tt.endpoint), 1e-9)
		})
	}
}

func getCounterValue(t *testing.T, counter *prometheus.CounterVec, labels ...string) float64 {
	metric := &dto.Metric{}
	c, err := counter.GetMetricWithLabelValues(labels...)
	require.NoError(t, err)

	require.NoError(t, c.Write(metric))
	return metric.Counter.GetValue()
}

func getGaugeValue(t *testing.T, gauge *prometheus.GaugeVec, labels ...string) float64 {
	metric := &dto.Metric{}
	g, err := gauge.GetMetricWithLabelValues(labels...)
	require.NoError(t, err)

	require.NoError(t, g.Write(metric))
	return metric.Gauge.GetValue()
}

func getHistogramSum(t *testing.T, histogram *prometheus.HistogramVec, labels ...string) float64 {
	metric := getHistogramMetric(t, histogram, labels...)
	return metric.Histogram.GetSampleSum()
}

func getHistogramMetric(t *testing.T, histogram *prometheus.HistogramVec, labels ...string) *dto.Metric {
	metric := &dto.Metric{}
	observer, err := histogram.GetMetricWithLabelValues(labels...)
	require.NoError(t, err)

	h := observer.(prometheus.Histogram)
	require.NoError(t, h.Write(metric))
	return metric
}

func countSeries(t *testing.T, c prometheus.Collector) int {
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)

	n := 0
	for range ch {
		n++
	}
	return n
}
