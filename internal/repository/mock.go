package repository

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nadmax/taskboard/internal/statusduration"
	"github.com/nadmax/taskboard/internal/task"
)

// MockTaskRepository is an in-memory TaskRepository for tests. It records
// calls and returns the configured error for each operation when set.
type MockTaskRepository struct {
	mu                sync.Mutex
	Tasks             map[string]*task.Task
	Changes           []task.StatusChange
	SyncRuns          []SyncRun
	UpsertTaskCalls   []string
	RecordSyncCalls   []SyncRun
	MigrateCalls      int
	MigrateError      error
	UpsertTaskError   error
	RecordChangeError error
	GetTaskError      error
	ListTasksError    error
	ListEventsError   error
	SectionCountError error
	TaskDatesError    error
	LastSyncError     error
	RecordSyncError   error
	Closed            bool
}

func NewMockTaskRepository() *MockTaskRepository {
	return &MockTaskRepository{
		Tasks: make(map[string]*task.Task),
	}
}

func (m *MockTaskRepository) Migrate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MigrateCalls++
	return m.MigrateError
}

func (m *MockTaskRepository) UpsertTask(ctx context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpsertTaskCalls = append(m.UpsertTaskCalls, t.GID)
	if m.UpsertTaskError != nil {
		return m.UpsertTaskError
	}

	cp := *t
	m.Tasks[t.GID] = &cp
	return nil
}

func (m *MockTaskRepository) RecordStatusChanges(ctx context.Context, changes []task.StatusChange) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RecordChangeError != nil {
		return 0, m.RecordChangeError
	}

	inserted := 0
	for _, c := range changes {
		dup := slices.ContainsFunc(m.Changes, func(e task.StatusChange) bool {
			return e.TaskGID == c.TaskGID && e.Status == c.Status && e.RecordedAt.Equal(c.RecordedAt)
		})
		if dup {
			continue
		}
		m.Changes = append(m.Changes, c)
		inserted++
	}

	return inserted, nil
}

func (m *MockTaskRepository) GetTask(ctx context.Context, gid string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetTaskError != nil {
		return nil, m.GetTaskError
	}

	t, ok := m.Tasks[gid]
	if !ok {
		return nil, task.ErrTaskNotFound
	}

	cp := *t
	return &cp, nil
}

func (m *MockTaskRepository) ListTasks(ctx context.Context, f task.Filter) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListTasksError != nil {
		return nil, m.ListTasksError
	}

	matched := m.match(f)
	slices.SortFunc(matched, func(a, b task.Task) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.GID, b.GID)
	})

	if f.Offset >= len(matched) {
		return []task.Task{}, nil
	}
	end := min(f.Offset+f.PageSize(), len(matched))

	return matched[f.Offset:end], nil
}

func (m *MockTaskRepository) CountTasks(ctx context.Context, f task.Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListTasksError != nil {
		return 0, m.ListTasksError
	}

	return len(m.match(f)), nil
}

func (m *MockTaskRepository) ListStatusEvents(ctx context.Context, f task.Filter) ([]statusduration.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListEventsError != nil {
		return nil, m.ListEventsError
	}

	gids := make(map[string]bool)
	for _, t := range m.match(f) {
		gids[t.GID] = true
	}

	events := []statusduration.Event{}
	for _, c := range m.sortedChanges() {
		if gids[c.TaskGID] {
			events = append(events, c.ToEvent())
		}
	}

	return events, nil
}

func (m *MockTaskRepository) ListTaskStatusEvents(ctx context.Context, gid string) ([]statusduration.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListEventsError != nil {
		return nil, m.ListEventsError
	}

	events := []statusduration.Event{}
	for _, c := range m.sortedChanges() {
		if c.TaskGID == gid {
			events = append(events, c.ToEvent())
		}
	}

	return events, nil
}

func (m *MockTaskRepository) GetSectionCounts(ctx context.Context, f task.Filter) ([]SectionCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SectionCountError != nil {
		return nil, m.SectionCountError
	}

	bySection := make(map[string]*SectionCount)
	for _, t := range m.match(f) {
		c, ok := bySection[t.Section]
		if !ok {
			c = &SectionCount{Section: t.Section}
			bySection[t.Section] = c
		}
		if t.Completed {
			c.Completed++
		} else {
			c.Open++
		}
	}

	counts := []SectionCount{}
	for _, c := range bySection {
		counts = append(counts, *c)
	}
	slices.SortFunc(counts, func(a, b SectionCount) int { return cmp.Compare(a.Section, b.Section) })

	return counts, nil
}

func (m *MockTaskRepository) ListTaskDates(ctx context.Context, f task.Filter) ([]TaskDates, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.TaskDatesError != nil {
		return nil, m.TaskDatesError
	}

	dates := []TaskDates{}
	for _, t := range m.match(f) {
		dates = append(dates, TaskDates{CreatedAt: t.CreatedAt, CompletedAt: t.CompletedAt})
	}
	slices.SortFunc(dates, func(a, b TaskDates) int { return a.CreatedAt.Compare(b.CreatedAt) })

	return dates, nil
}

func (m *MockTaskRepository) GetLastSync(ctx context.Context, projectGID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.LastSyncError != nil {
		return nil, m.LastSyncError
	}

	var last *time.Time
	for _, run := range m.SyncRuns {
		if run.ProjectGID != projectGID || run.Status != SyncCompleted {
			continue
		}
		if last == nil || run.StartedAt.After(*last) {
			started := run.StartedAt
			last = &started
		}
	}

	return last, nil
}

func (m *MockTaskRepository) RecordSync(ctx context.Context, run SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecordSyncCalls = append(m.RecordSyncCalls, run)
	if m.RecordSyncError != nil {
		return m.RecordSyncError
	}

	m.SyncRuns = append(m.SyncRuns, run)
	return nil
}

func (m *MockTaskRepository) ListSyncRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := append([]SyncRun{}, m.SyncRuns...)
	slices.SortFunc(runs, func(a, b SyncRun) int { return b.StartedAt.Compare(a.StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	return runs, nil
}

func (m *MockTaskRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Closed = true
	return nil
}

func (m *MockTaskRepository) AddTask(t task.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Tasks[t.GID] = &t
}

func (m *MockTaskRepository) AddChanges(changes ...task.StatusChange) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Changes = append(m.Changes, changes...)
}

func (m *MockTaskRepository) sortedChanges() []task.StatusChange {
	changes := slices.Clone(m.Changes)
	slices.SortStableFunc(changes, func(a, b task.StatusChange) int {
		if c := cmp.Compare(a.TaskGID, b.TaskGID); c != 0 {
			return c
		}
		return a.RecordedAt.Compare(b.RecordedAt)
	})

	return changes
}

func (m *MockTaskRepository) match(f task.Filter) []task.Task {
	var out []task.Task
	for _, t := range m.Tasks {
		if f.ProjectGID != "" && t.ProjectGID != f.ProjectGID {
			continue
		}
		if len(f.Sections) > 0 && !slices.Contains(f.Sections, t.Section) {
			continue
		}
		if f.Assignee != "" && t.Assignee != f.Assignee {
			continue
		}
		if f.Completed != nil && t.Completed != *f.Completed {
			continue
		}
		if f.CreatedFrom != nil && t.CreatedAt.Before(*f.CreatedFrom) {
			continue
		}
		if f.CreatedTo != nil && !t.CreatedAt.Before(*f.CreatedTo) {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(t.Name), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, *t)
	}

	return out
}
