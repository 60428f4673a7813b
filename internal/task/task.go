// Package task defines the synced task model shared by the sync job, the
// repository and the dashboard. Section names double as status labels and are
// kept exactly as the upstream tracker reports them.
package task

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nadmax/taskboard/internal/statusduration"
)

type (
	ChangeSource string
	Task         struct {
		GID          string     `json:"gid"`
		Name         string     `json:"name"`
		ProjectGID   string     `json:"project_gid"`
		Section      string     `json:"section"`
		Assignee     string     `json:"assignee,omitempty"`
		Completed    bool       `json:"completed"`
		CreatedAt    time.Time  `json:"created_at"`
		CompletedAt  *time.Time `json:"completed_at,omitempty"`
		DueOn        *time.Time `json:"due_on,omitempty"`
		ModifiedAt   time.Time  `json:"modified_at"`
		PermalinkURL string     `json:"permalink_url,omitempty"`
		SyncedAt     time.Time  `json:"synced_at"`
	}
	StatusChange struct {
		ID         string       `json:"id"`
		TaskGID    string       `json:"task_gid"`
		Status     string       `json:"status"`
		RecordedAt time.Time    `json:"recorded_at"`
		Source     ChangeSource `json:"source"`
	}
)

const (
	SourceStory    ChangeSource = "story"
	SourceSnapshot ChangeSource = "snapshot"
)

// CompletedStatus is the label recorded when a task is marked complete
// without moving to another section.
const CompletedStatus = "Completed"

var ErrTaskNotFound = errors.New("task not found")

func NewStatusChange(taskGID, status string, recordedAt time.Time, source ChangeSource) StatusChange {
	return StatusChange{
		ID:         uuid.New().String(),
		TaskGID:    taskGID,
		Status:     status,
		RecordedAt: recordedAt.UTC(),
		Source:     source,
	}
}

func (c StatusChange) ToEvent() statusduration.Event {
	return statusduration.Event{
		TaskID:     c.TaskGID,
		Status:     c.Status,
		RecordedAt: statusduration.FormatTimestamp(c.RecordedAt),
	}
}

func (t *Task) IsOverdue(now time.Time) bool {
	if t.Completed || t.DueOn == nil {
		return false
	}

	return t.DueOn.Before(now.Truncate(24 * time.Hour))
}

// Age is the time since creation for open tasks and the creation-to-completion
// span for completed ones.
func (t *Task) Age(now time.Time) time.Duration {
	end := now
	if t.Completed && t.CompletedAt != nil {
		end = *t.CompletedAt
	}
	if end.Before(t.CreatedAt) {
		return 0
	}

	return end.Sub(t.CreatedAt)
}
