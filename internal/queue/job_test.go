package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	payload := map[string]any{"project_gid": "1200"}

	job := NewJob(TypeSyncProject, payload, PriorityHigh)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, TypeSyncProject, job.Type)
	assert.Equal(t, payload, job.Payload)
	assert.Equal(t, PriorityHigh, job.Priority)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Equal(t, 0, job.RetryCount)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Equal(t, job.CreatedAt, job.ScheduledAt)
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)
}

func TestJobJSON(t *testing.T) {
	original := NewJob(TypeGenerateReport, map[string]any{"report_type": "status_durations"}, PriorityMedium)

	jsonStr, err := original.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, jsonStr, "status_durations")

	restored, err := JobFromJSON(jsonStr)
	require.NoError(t, err)
	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.Priority, restored.Priority)
	assert.Equal(t, "status_durations", restored.PayloadString("report_type"))

	_, err = JobFromJSON("invalid json")
	assert.Error(t, err)
}

func TestShouldMoveToDeadLetter(t *testing.T) {
	job := NewJob(TypeSyncProject, nil, PriorityLow)

	job.RetryCount = 3
	job.Status = StatusPending
	assert.False(t, job.ShouldMoveToDeadLetter())

	job.Status = StatusFailed
	assert.True(t, job.ShouldMoveToDeadLetter())

	job.RetryCount = 1
	assert.False(t, job.ShouldMoveToDeadLetter())
}

func TestJobPriorityString(t *testing.T) {
	assert.Equal(t, "low", PriorityLow.String())
	assert.Equal(t, "medium", PriorityMedium.String())
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "unknown", JobPriority(9).String())
}

func TestPayloadString(t *testing.T) {
	job := NewJob(TypeSendEmail, map[string]any{"to": "ops@example.com", "count": 2}, PriorityLow)

	assert.Equal(t, "ops@example.com", job.PayloadString("to"))
	assert.Equal(t, "", job.PayloadString("count"))
	assert.Equal(t, "", job.PayloadString("missing"))
}
