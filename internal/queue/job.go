package queue

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type (
	JobStatus   string
	JobPriority int
	Job         struct {
		ID            string         `json:"id"`
		Type          string         `json:"type"`
		Payload       map[string]any `json:"payload"`
		Priority      JobPriority    `json:"priority"`
		Status        JobStatus      `json:"status"`
		RetryCount    int            `json:"retry_count"`
		MaxRetries    int            `json:"max_retries"`
		CreatedAt     time.Time      `json:"created_at"`
		ScheduledAt   time.Time      `json:"scheduled_at"`
		StartedAt     *time.Time     `json:"started_at,omitempty"`
		CompletedAt   *time.Time     `json:"completed_at,omitempty"`
		Error         string         `json:"error,omitempty"`
		FailureReason string         `json:"failure_reason,omitempty"`
		MovedToDLQAt  *time.Time     `json:"moved_to_dlq_at,omitempty"`
	}
)

const (
	StatusPending    JobStatus = "pending"
	StatusRunning    JobStatus = "running"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusDeadLetter JobStatus = "dead_letter"
)

const (
	PriorityLow JobPriority = iota
	PriorityMedium
	PriorityHigh
)

const (
	TypeSyncProject    = "sync_project"
	TypeGenerateReport = "generate_report"
	TypeSendEmail      = "send_email"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrNotDeadLettered = errors.New("job is not in the dead letter queue")
)

func (p JobPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

func NewJob(jobType string, payload map[string]any, priority JobPriority) *Job {
	now := time.Now()
	return &Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Payload:     payload,
		Priority:    priority,
		Status:      StatusPending,
		MaxRetries:  3,
		RetryCount:  0,
		CreatedAt:   now,
		ScheduledAt: now,
	}
}

func (j *Job) ToJSON() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func (j *Job) ShouldMoveToDeadLetter() bool {
	return j.RetryCount >= j.MaxRetries && j.Status == StatusFailed
}

// PayloadString returns the string payload field key, or "" when it is
// missing or not a string.
func (j *Job) PayloadString(key string) string {
	v, _ := j.Payload[key].(string)
	return v
}

func JobFromJSON(data string) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, err
	}

	return &job, nil
}
