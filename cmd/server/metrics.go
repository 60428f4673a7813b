package main

import (
	"context"
	"time"

	"github.com/nadmax/taskboard/internal/metrics"
	"github.com/nadmax/taskboard/internal/queue"
	"go.uber.org/zap"
)

const metricsInterval = 10 * time.Second

func startMetricsCollector(ctx context.Context, q *queue.Queue, logger *zap.Logger) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateQueueMetrics(ctx, q, logger)
		}
	}
}

func updateQueueMetrics(ctx context.Context, q *queue.Queue, logger *zap.Logger) {
	jobs, err := q.GetAllJobs(ctx)
	if err != nil {
		logger.Warn("failed to get jobs for metrics", zap.Error(err))
		return
	}

	jobsByStatus := make(map[queue.JobStatus]map[string]int)
	pending := 0
	for _, job := range jobs {
		if jobsByStatus[job.Status] == nil {
			jobsByStatus[job.Status] = make(map[string]int)
		}
		jobsByStatus[job.Status][job.Type]++
		if job.Status == queue.StatusPending {
			pending++
		}
	}

	metrics.UpdateJobGauges(jobsByStatus)
	metrics.UpdateQueueDepth(pending)

	dlqJobs, err := q.GetDeadLetterJobs(ctx)
	if err == nil {
		metrics.UpdateDeadLetterQueueDepth(len(dlqJobs))
	}
}

// startSyncScheduler enqueues a sync job per configured project every
// interval. A project whose previous sync job is still pending or running is
// skipped for that tick.
func startSyncScheduler(ctx context.Context, q *queue.Queue, projectGIDs []string, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 || len(projectGIDs) == 0 {
		logger.Info("periodic sync disabled", zap.Duration("interval", interval), zap.Int("projects", len(projectGIDs)))
		return
	}

	logger.Info("periodic sync enabled", zap.Duration("interval", interval), zap.Strings("projects", projectGIDs))
	enqueueSyncJobs(ctx, q, projectGIDs, logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			enqueueSyncJobs(ctx, q, projectGIDs, logger)
		}
	}
}

func enqueueSyncJobs(ctx context.Context, q *queue.Queue, projectGIDs []string, logger *zap.Logger) {
	jobs, err := q.GetAllJobs(ctx)
	if err != nil {
		logger.Warn("failed to list jobs before scheduling sync", zap.Error(err))
		return
	}

	inFlight := make(map[string]bool)
	for _, job := range jobs {
		if job.Type != queue.TypeSyncProject {
			continue
		}
		if job.Status == queue.StatusPending || job.Status == queue.StatusRunning {
			inFlight[job.PayloadString("project_gid")] = true
		}
	}

	for _, gid := range projectGIDs {
		if inFlight[gid] {
			logger.Debug("sync already queued", zap.String("project_gid", gid))
			continue
		}

		job := queue.NewJob(queue.TypeSyncProject, map[string]any{"project_gid": gid}, queue.PriorityMedium)
		if err := q.Enqueue(ctx, job); err != nil {
			logger.Error("failed to enqueue scheduled sync", zap.String("project_gid", gid), zap.Error(err))
			continue
		}
		metrics.RecordJobEnqueued(job.Type, job.Priority)
		logger.Info("scheduled sync enqueued", zap.String("project_gid", gid), zap.String("job_id", job.ID))
	}
}
