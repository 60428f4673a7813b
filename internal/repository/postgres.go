// Package repository provides PostgreSQL persistence for synced tasks, their
// status-change history and sync bookkeeping.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/nadmax/taskboard/internal/statusduration"
	"github.com/nadmax/taskboard/internal/task"
	"go.uber.org/zap"
)

type PostgresTaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresTaskRepository(connectionString string, logger *zap.Logger) (*PostgresTaskRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresTaskRepository{db: db, logger: logger}, nil
}

func (r *PostgresTaskRepository) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return nil
}

func (r *PostgresTaskRepository) UpsertTask(ctx context.Context, t *task.Task) error {
	query := `
		INSERT INTO tasks (
			gid, name, project_gid, section, assignee, completed,
			created_at, completed_at, due_on, modified_at, permalink_url, synced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (gid) DO UPDATE SET
			name = EXCLUDED.name,
			project_gid = EXCLUDED.project_gid,
			section = EXCLUDED.section,
			assignee = EXCLUDED.assignee,
			completed = EXCLUDED.completed,
			completed_at = EXCLUDED.completed_at,
			due_on = EXCLUDED.due_on,
			modified_at = EXCLUDED.modified_at,
			permalink_url = EXCLUDED.permalink_url,
			synced_at = EXCLUDED.synced_at
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		t.GID,
		t.Name,
		t.ProjectGID,
		t.Section,
		nullString(t.Assignee),
		t.Completed,
		t.CreatedAt,
		t.CompletedAt,
		t.DueOn,
		t.ModifiedAt,
		nullString(t.PermalinkURL),
		t.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", t.GID, err)
	}

	return nil
}

// RecordStatusChanges stores changes in one transaction and returns how many
// were new. A change already stored for the same task, status and instant is
// ignored.
func (r *PostgresTaskRepository) RecordStatusChanges(ctx context.Context, changes []task.StatusChange) (int, error) {
	if len(changes) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO task_status_changes (id, task_gid, status, recorded_at, source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_gid, status, recorded_at) DO NOTHING
	`

	inserted := 0
	for _, c := range changes {
		res, err := tx.ExecContext(ctx, query, c.ID, c.TaskGID, c.Status, c.RecordedAt, string(c.Source))
		if err != nil {
			return 0, fmt.Errorf("failed to record status change for task %s: %w", c.TaskGID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit status changes: %w", err)
	}

	return inserted, nil
}

const taskColumns = `
	gid, name, project_gid, section, COALESCE(assignee, ''), completed,
	created_at, completed_at, due_on, modified_at, COALESCE(permalink_url, ''), synced_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (task.Task, error) {
	var t task.Task
	var modifiedAt sql.NullTime

	err := s.Scan(
		&t.GID,
		&t.Name,
		&t.ProjectGID,
		&t.Section,
		&t.Assignee,
		&t.Completed,
		&t.CreatedAt,
		&t.CompletedAt,
		&t.DueOn,
		&modifiedAt,
		&t.PermalinkURL,
		&t.SyncedAt,
	)
	if modifiedAt.Valid {
		t.ModifiedAt = modifiedAt.Time
	}

	return t, err
}

func (r *PostgresTaskRepository) GetTask(ctx context.Context, gid string) (*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE gid = $1`

	t, err := scanTask(r.db.QueryRowContext(ctx, query, gid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, task.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", gid, err)
	}

	return &t, nil
}

func (r *PostgresTaskRepository) ListTasks(ctx context.Context, f task.Filter) ([]task.Task, error) {
	where, args := whereClause(f, "")
	args = append(args, f.PageSize(), f.Offset)

	query := fmt.Sprintf(`SELECT %s FROM tasks%s ORDER BY created_at DESC, gid LIMIT $%d OFFSET $%d`,
		taskColumns, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer r.closeRows(rows)

	tasks := []task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

func (r *PostgresTaskRepository) CountTasks(ctx context.Context, f task.Filter) (int, error) {
	where, args := whereClause(f, "")

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	return count, nil
}

// ListStatusEvents returns the full status history of every task matching f.
// Paging fields of f are ignored.
func (r *PostgresTaskRepository) ListStatusEvents(ctx context.Context, f task.Filter) ([]statusduration.Event, error) {
	where, args := whereClause(f, "t.")
	query := `
		SELECT c.task_gid, c.status, c.recorded_at
		FROM task_status_changes c
		JOIN tasks t ON t.gid = c.task_gid` + where + `
		ORDER BY c.task_gid, c.recorded_at
	`

	return r.queryEvents(ctx, query, args...)
}

func (r *PostgresTaskRepository) ListTaskStatusEvents(ctx context.Context, gid string) ([]statusduration.Event, error) {
	query := `
		SELECT task_gid, status, recorded_at
		FROM task_status_changes
		WHERE task_gid = $1
		ORDER BY recorded_at
	`

	return r.queryEvents(ctx, query, gid)
}

func (r *PostgresTaskRepository) queryEvents(ctx context.Context, query string, args ...any) ([]statusduration.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list status events: %w", err)
	}
	defer r.closeRows(rows)

	events := []statusduration.Event{}
	for rows.Next() {
		var ev statusduration.Event
		var recordedAt time.Time
		if err := rows.Scan(&ev.TaskID, &ev.Status, &recordedAt); err != nil {
			return nil, err
		}
		ev.RecordedAt = statusduration.FormatTimestamp(recordedAt)
		events = append(events, ev)
	}

	return events, rows.Err()
}

func (r *PostgresTaskRepository) GetSectionCounts(ctx context.Context, f task.Filter) ([]SectionCount, error) {
	where, args := whereClause(f, "")
	query := `
		SELECT
			section,
			COUNT(*) FILTER (WHERE NOT completed) AS open,
			COUNT(*) FILTER (WHERE completed) AS completed
		FROM tasks` + where + `
		GROUP BY section
		ORDER BY section
	`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count sections: %w", err)
	}
	defer r.closeRows(rows)

	counts := []SectionCount{}
	for rows.Next() {
		var c SectionCount
		if err := rows.Scan(&c.Section, &c.Open, &c.Completed); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}

	return counts, rows.Err()
}

func (r *PostgresTaskRepository) ListTaskDates(ctx context.Context, f task.Filter) ([]TaskDates, error) {
	where, args := whereClause(f, "")
	query := `SELECT created_at, completed_at FROM tasks` + where + ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list task dates: %w", err)
	}
	defer r.closeRows(rows)

	dates := []TaskDates{}
	for rows.Next() {
		var d TaskDates
		if err := rows.Scan(&d.CreatedAt, &d.CompletedAt); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}

	return dates, rows.Err()
}

// GetLastSync returns when the last successful sync of the project started,
// or nil if it never completed one.
func (r *PostgresTaskRepository) GetLastSync(ctx context.Context, projectGID string) (*time.Time, error) {
	query := `
		SELECT MAX(started_at)
		FROM sync_runs
		WHERE project_gid = $1 AND status = $2
	`

	var last sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, projectGID, SyncCompleted).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to get last sync: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}

	return &last.Time, nil
}

func (r *PostgresTaskRepository) RecordSync(ctx context.Context, run SyncRun) error {
	query := `
		INSERT INTO sync_runs (
			id, project_gid, started_at, finished_at, status,
			tasks_synced, changes_stored, failed_tasks, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		run.ID,
		run.ProjectGID,
		run.StartedAt,
		run.FinishedAt,
		run.Status,
		run.TasksSynced,
		run.ChangesStored,
		run.FailedTasks,
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}

	return nil
}

func (r *PostgresTaskRepository) ListSyncRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	query := `
		SELECT
			id, project_gid, started_at, finished_at, status,
			tasks_synced, changes_stored, failed_tasks, COALESCE(error, '')
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer r.closeRows(rows)

	runs := []SyncRun{}
	for rows.Next() {
		var run SyncRun
		if err := rows.Scan(
			&run.ID,
			&run.ProjectGID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.TasksSynced,
			&run.ChangesStored,
			&run.FailedTasks,
			&run.Error,
		); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (r *PostgresTaskRepository) DB() *sql.DB {
	return r.db
}

func (r *PostgresTaskRepository) Close() error {
	return r.db.Close()
}

func (r *PostgresTaskRepository) closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		r.logger.Warn("failed to close rows", zap.Error(err))
	}
}

// whereClause renders f as a WHERE clause over columns prefixed with alias.
// Paging fields are not part of it.
func whereClause(f task.Filter, alias string) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s%s $%d", alias, cond, len(args)))
	}

	if f.ProjectGID != "" {
		add("project_gid =", f.ProjectGID)
	}
	if len(f.Sections) > 0 {
		args = append(args, pq.Array(f.Sections))
		conds = append(conds, fmt.Sprintf("%ssection = ANY($%d)", alias, len(args)))
	}
	if f.Assignee != "" {
		add("assignee =", f.Assignee)
	}
	if f.Completed != nil {
		add("completed =", *f.Completed)
	}
	if f.CreatedFrom != nil {
		add("created_at >=", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		add("created_at <", *f.CreatedTo)
	}
	if f.Search != "" {
		add("name ILIKE", "%"+escapeLike(f.Search)+"%")
	}

	if len(conds) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}

	return s
}
