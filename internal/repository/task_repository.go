package repository

import (
	"context"
	"time"

	"github.com/nadmax/taskboard/internal/statusduration"
	"github.com/nadmax/taskboard/internal/task"
)

type TaskRepository interface {
	Migrate(ctx context.Context) error
	UpsertTask(ctx context.Context, t *task.Task) error
	RecordStatusChanges(ctx context.Context, changes []task.StatusChange) (int, error)
	GetTask(ctx context.Context, gid string) (*task.Task, error)
	ListTasks(ctx context.Context, f task.Filter) ([]task.Task, error)
	CountTasks(ctx context.Context, f task.Filter) (int, error)
	ListStatusEvents(ctx context.Context, f task.Filter) ([]statusduration.Event, error)
	ListTaskStatusEvents(ctx context.Context, gid string) ([]statusduration.Event, error)
	GetSectionCounts(ctx context.Context, f task.Filter) ([]SectionCount, error)
	ListTaskDates(ctx context.Context, f task.Filter) ([]TaskDates, error)
	GetLastSync(ctx context.Context, projectGID string) (*time.Time, error)
	RecordSync(ctx context.Context, run SyncRun) error
	ListSyncRuns(ctx context.Context, limit int) ([]SyncRun, error)
	Close() error
}

type SectionCount struct {
	Section   string `json:"section"`
	Open      int    `json:"open"`
	Completed int    `json:"completed"`
}

type TaskDates struct {
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type SyncRun struct {
	ID            string     `json:"id"`
	ProjectGID    string     `json:"project_gid"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Status        string     `json:"status"`
	TasksSynced   int        `json:"tasks_synced"`
	ChangesStored int        `json:"changes_stored"`
	FailedTasks   int        `json:"failed_tasks"`
	Error         string     `json:"error,omitempty"`
}

// A partial run stored every task but failed to read some task histories.
// Only completed runs move the incremental sync cursor.
const (
	SyncCompleted = "completed"
	SyncPartial   = "partial"
	SyncFailed    = "failed"
)
