// Package queue is the Redis-backed job queue shared by the API server, which
// enqueues sync and report jobs, and the worker, which executes them.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobsKey       = "taskboard:jobs"
	queueKey      = "taskboard:job_queue"
	deadLetterKey = "taskboard:dead_letter"
)

type Queue struct {
	client *redis.Client
}

func NewQueue(ctx context.Context, redisAddr string) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Queue{client: client}, nil
}

// score orders jobs by scheduled time, then by priority (high first) within
// the same second.
func score(job *Job) float64 {
	invertedPriority := float64(PriorityHigh - job.Priority)
	return float64(job.ScheduledAt.Unix())*1000 + invertedPriority
}

func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	jobJSON, err := job.ToJSON()
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, jobsKey, job.ID, jobJSON)
	pipe.ZAdd(ctx, queueKey, redis.Z{
		Score:  score(job),
		Member: job.ID,
	})
	_, err = pipe.Exec(ctx)

	return err
}

// Dequeue pops the next due job. It returns (nil, nil) when nothing is due.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	maxScore := float64(time.Now().Unix())*1000 + float64(PriorityHigh-PriorityLow)

	for {
		results, err := q.client.ZRangeByScore(ctx, queueKey, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   fmt.Sprintf("%f", maxScore),
			Count: 1,
		}).Result()
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return nil, nil
		}

		jobID := results[0]

		// Another worker may have claimed the job between the range and the removal.
		removed, err := q.client.ZRem(ctx, queueKey, jobID).Result()
		if err != nil {
			return nil, err
		}
		if removed == 0 {
			continue
		}

		return q.GetJob(ctx, jobID)
	}
}

func (q *Queue) UpdateJob(ctx context.Context, job *Job) error {
	jobJSON, err := job.ToJSON()
	if err != nil {
		return err
	}

	return q.client.HSet(ctx, jobsKey, job.ID, jobJSON).Err()
}

func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobJSON, err := q.client.HGet(ctx, jobsKey, jobID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	return JobFromJSON(jobJSON)
}

func (q *Queue) GetAllJobs(ctx context.Context) ([]*Job, error) {
	jobMap, err := q.client.HGetAll(ctx, jobsKey).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(jobMap))
	for _, jobJSON := range jobMap {
		job, err := JobFromJSON(jobJSON)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

func (q *Queue) MoveToDeadLetter(ctx context.Context, job *Job, reason string) error {
	now := time.Now()
	job.Status = StatusDeadLetter
	job.FailureReason = reason
	job.MovedToDLQAt = &now

	jobJSON, err := job.ToJSON()
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, jobsKey, job.ID, jobJSON)
	pipe.ZRem(ctx, queueKey, job.ID)
	pipe.ZAdd(ctx, deadLetterKey, redis.Z{
		Score:  float64(now.Unix()),
		Member: job.ID,
	})
	_, err = pipe.Exec(ctx)

	return err
}

func (q *Queue) GetDeadLetterJobs(ctx context.Context) ([]*Job, error) {
	ids, err := q.client.ZRange(ctx, deadLetterKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// RetryDeadLetter moves a dead-lettered job back onto the queue with a fresh
// retry budget.
func (q *Queue) RetryDeadLetter(ctx context.Context, jobID string) (*Job, error) {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusDeadLetter {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotDeadLettered)
	}

	job.Status = StatusPending
	job.RetryCount = 0
	job.Error = ""
	job.FailureReason = ""
	job.MovedToDLQAt = nil
	job.ScheduledAt = time.Now()

	if err := q.client.ZRem(ctx, deadLetterKey, jobID).Err(); err != nil {
		return nil, err
	}

	return job, q.Enqueue(ctx, job)
}

func (q *Queue) Close() error {
	return q.client.Close()
}
