package repository

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		gid           TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		project_gid   TEXT NOT NULL,
		section       TEXT NOT NULL DEFAULT '',
		assignee      TEXT,
		completed     BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMPTZ NOT NULL,
		completed_at  TIMESTAMPTZ,
		due_on        DATE,
		modified_at   TIMESTAMPTZ,
		permalink_url TEXT,
		synced_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_project_section ON tasks (project_gid, section)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks (created_at)`,
	`CREATE TABLE IF NOT EXISTS task_status_changes (
		id          TEXT PRIMARY KEY,
		task_gid    TEXT NOT NULL REFERENCES tasks (gid) ON DELETE CASCADE,
		status      TEXT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		source      TEXT NOT NULL,
		UNIQUE (task_gid, status, recorded_at)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_status_changes_task ON task_status_changes (task_gid, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS sync_runs (
		id             TEXT PRIMARY KEY,
		project_gid    TEXT NOT NULL,
		started_at     TIMESTAMPTZ NOT NULL,
		finished_at    TIMESTAMPTZ,
		status         TEXT NOT NULL,
		tasks_synced   INTEGER NOT NULL DEFAULT 0,
		changes_stored INTEGER NOT NULL DEFAULT 0,
		failed_tasks   INTEGER NOT NULL DEFAULT 0,
		error          TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_runs_project ON sync_runs (project_gid, started_at DESC)`,
}
