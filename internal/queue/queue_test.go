package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	q, err := NewQueue(context.Background(), mr.Addr())
	require.NoError(t, err)

	return q, mr
}

func TestNewQueue(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	assert.NotNil(t, q)
	assert.NotNil(t, q.client)
}

func TestNewQueue_InvalidAddress(t *testing.T) {
	_, err := NewQueue(context.Background(), "invalid:99999")
	assert.Error(t, err)
}

func TestEnqueueAndDequeue(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()
	ctx := context.Background()

	original := NewJob(TypeSyncProject, map[string]any{"project_gid": "1200"}, PriorityMedium)
	require.NoError(t, q.Enqueue(ctx, original))

	dequeued, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, dequeued)

	assert.Equal(t, original.ID, dequeued.ID)
	assert.Equal(t, TypeSyncProject, dequeued.Type)
	assert.Equal(t, "1200", dequeued.PayloadString("project_gid"))
	assert.Equal(t, StatusPending, dequeued.Status)

	again, err := q.Dequeue(ctx)
	assert.NoError(t, err)
	assert.Nil(t, again)
}

func TestDequeue_EmptyQueue(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	job, err := q.Dequeue(context.Background())

	assert.NoError(t, err)
	assert.Nil(t, job)
}

func TestPriorityOrdering(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()
	ctx := context.Background()

	scheduled := time.Now().Add(-time.Second)
	low := NewJob("low", nil, PriorityLow)
	medium := NewJob("medium", nil, PriorityMedium)
	high := NewJob("high", nil, PriorityHigh)
	for _, j := range []*Job{low, medium, high} {
		j.ScheduledAt = scheduled
	}

	require.NoError(t, q.Enqueue(ctx, low))
	require.NoError(t, q.Enqueue(ctx, medium))
	require.NoError(t, q.Enqueue(ctx, high))

	for _, want := range []string{"high", "medium", "low"} {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.Type)
	}
}

func TestScheduledJobs(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()
	ctx := context.Background()

	future := NewJob("future", nil, PriorityHigh)
	future.ScheduledAt = time.Now().Add(time.Hour)
	now := NewJob("now", nil, PriorityLow)

	require.NoError(t, q.Enqueue(ctx, future))
	require.NoError(t, q.Enqueue(ctx, now))

	dequeued, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, dequeued)
	assert.Equal(t, "now", dequeued.Type)

	notDue, err := q.Dequeue(ctx)
	assert.NoError(t, err)
	assert.Nil(t, notDue)
}

func TestUpdateJob(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()
	ctx := context.Background()

	job := NewJob(TypeGenerateReport, nil, PriorityMedium)
	require.NoError(t, q.Enqueue(ctx, job))

	job.Status = StatusCompleted
	require.NoError(t, q.UpdateJob(ctx, job))

	retrieved, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, retrieved.Status)
}

func TestGetJob_NotFound(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	_, err := q.GetJob(context.Background(), "non-existent-id")

	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestGetAllJobs(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()
	ctx := context.Background()

	empty, err := q.GetAllJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, NewJob(TypeSyncProject, nil, PriorityMedium)))
	}
	mr.HSet(jobsKey, "corrupt", "not json")

	jobs, err := q.GetAllJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

func TestDeadLetterLifecycle(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()
	ctx := context.Background()

	job := NewJob(TypeSyncProject, nil, PriorityMedium)
	require.NoError(t, q.Enqueue(ctx, job))

	require.NoError(t, q.MoveToDeadLetter(ctx, job, "asana unavailable"))

	next, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, next, "dead-lettered job must leave the queue")

	dlq, err := q.GetDeadLetterJobs(ctx)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, StatusDeadLetter, dlq[0].Status)
	assert.Equal(t, "asana unavailable", dlq[0].FailureReason)
	assert.NotNil(t, dlq[0].MovedToDLQAt)

	retried, err := q.RetryDeadLetter(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, retried.Status)
	assert.Equal(t, 0, retried.RetryCount)

	dlq, err = q.GetDeadLetterJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, dlq)

	requeued, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, requeued)
	assert.Equal(t, job.ID, requeued.ID)
}

func TestRetryDeadLetter_NotDeadLettered(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()
	ctx := context.Background()

	job := NewJob(TypeSyncProject, nil, PriorityMedium)
	require.NoError(t, q.Enqueue(ctx, job))

	_, err := q.RetryDeadLetter(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotDeadLettered)
}
