// Package worker provides the background job processor that consumes and executes jobs from the queue.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nadmax/taskboard/internal/metrics"
	"github.com/nadmax/taskboard/internal/queue"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = time.Second
	retryBackoff        = 10 * time.Second
)

type Handler func(ctx context.Context, job *queue.Job) error

type Worker struct {
	id           string
	queue        *queue.Queue
	handlers     map[string]Handler
	stop         chan struct{}
	stopOnce     sync.Once
	pollInterval time.Duration
	logger       *zap.Logger
}

func NewWorker(id string, q *queue.Queue, logger *zap.Logger) *Worker {
	return &Worker{
		id:           id,
		queue:        q,
		handlers:     make(map[string]Handler),
		stop:         make(chan struct{}),
		pollInterval: DefaultPollInterval,
		logger:       logger.With(zap.String("worker_id", id)),
	}
}

func (w *Worker) RegisterHandler(jobType string, handler Handler) {
	w.handlers[jobType] = handler
}

func (w *Worker) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

// Start polls the queue until ctx is cancelled or Stop is called. A job that
// is already running when either happens is given the cancelled context; if
// it then fails it is requeued without spending a retry.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.logger.Info("worker started", zap.Duration("poll_interval", w.pollInterval))
	metrics.UpdateActiveWorkers(1)
	defer metrics.UpdateActiveWorkers(0)

	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return
		}

		job, err := w.queue.Dequeue(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Warn("failed to dequeue job", zap.Error(err))
		}
		if err != nil || job == nil {
			select {
			case <-ctx.Done():
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job *queue.Job) {
	log := w.logger.With(zap.String("job_id", job.ID), zap.String("job_type", job.Type))
	log.Info("processing job", zap.Int("attempt", job.RetryCount+1))

	// Bookkeeping must still reach Redis when the worker is shutting down.
	storeCtx := context.WithoutCancel(ctx)

	started := time.Now()
	metrics.RecordJobWaitTime(job.Type, job.Priority, started.Sub(job.ScheduledAt))

	job.Status = queue.StatusRunning
	job.StartedAt = &started
	if err := w.queue.UpdateJob(ctx, job); err != nil {
		log.Warn("failed to mark job running", zap.Error(err))
	}

	handler, exists := w.handlers[job.Type]
	if !exists {
		job.Status = queue.StatusFailed
		job.Error = fmt.Sprintf("no handler for job type: %s", job.Type)
		w.deadLetter(storeCtx, log, job)
		return
	}

	err := handler(ctx, job)
	completedAt := time.Now()
	duration := completedAt.Sub(started)

	// A failure caused by shutdown is not the job's fault.
	if err != nil && ctx.Err() != nil {
		job.Status = queue.StatusPending
		job.StartedAt = nil
		job.ScheduledAt = completedAt
		if err := w.queue.Enqueue(storeCtx, job); err != nil {
			log.Error("failed to requeue interrupted job", zap.Error(err))
			return
		}
		log.Info("job interrupted by shutdown, requeued", zap.Duration("duration", duration))
		return
	}

	job.CompletedAt = &completedAt

	if err == nil {
		job.Status = queue.StatusCompleted
		job.Error = ""
		if err := w.queue.UpdateJob(storeCtx, job); err != nil {
			log.Warn("failed to mark job completed", zap.Error(err))
		}
		metrics.RecordJobCompleted(job.Type, duration)
		log.Info("job completed", zap.Duration("duration", duration))
		return
	}

	metrics.RecordJobFailed(job.Type, duration)
	job.RetryCount++
	job.Error = err.Error()

	if job.RetryCount < job.MaxRetries {
		job.Status = queue.StatusPending
		job.ScheduledAt = completedAt.Add(time.Duration(job.RetryCount) * retryBackoff)
		if err := w.queue.Enqueue(storeCtx, job); err != nil {
			log.Error("failed to re-enqueue job", zap.Error(err))
		}
		metrics.RecordJobRetried(job.Type)
		log.Warn("job failed, will retry",
			zap.Error(err),
			zap.Int("retry", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
			zap.Time("scheduled_at", job.ScheduledAt),
		)
		return
	}

	job.Status = queue.StatusFailed
	log.Error("job failed permanently", zap.Error(err))
	w.deadLetter(storeCtx, log, job)
}

func (w *Worker) deadLetter(ctx context.Context, log *zap.Logger, job *queue.Job) {
	if err := w.queue.MoveToDeadLetter(ctx, job, job.Error); err != nil {
		log.Error("failed to move job to dead letter queue", zap.Error(err))
		return
	}
	metrics.RecordJobDeadLettered(job.Type)
	log.Warn("job moved to dead letter queue", zap.String("reason", job.Error))
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}
