// Package handlers provides job handlers for the worker.
// Each handler implements the business logic for a specific job type
// and can be registered with the worker to process jobs from the queue.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nadmax/taskboard/internal/asana"
	"github.com/nadmax/taskboard/internal/metrics"
	"github.com/nadmax/taskboard/internal/queue"
	"github.com/nadmax/taskboard/internal/repository"
	"github.com/nadmax/taskboard/internal/task"
	"go.uber.org/zap"
)

type AsanaClient interface {
	ListProjectTasks(ctx context.Context, projectGID string, modifiedSince *time.Time) ([]asana.Task, error)
	ListTaskStories(ctx context.Context, taskGID string) ([]asana.Story, error)
}

type SyncResult struct {
	ProjectGID    string `json:"project_gid"`
	Incremental   bool   `json:"incremental"`
	TasksSynced   int    `json:"tasks_synced"`
	ChangesStored int    `json:"changes_stored"`
	FailedTasks   int    `json:"failed_tasks"`
}

type Syncer struct {
	client AsanaClient
	repo   repository.TaskRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewSyncer(client AsanaClient, repo repository.TaskRepository, logger *zap.Logger) *Syncer {
	return &Syncer{
		client: client,
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Syncer) SyncHandler(ctx context.Context, job *queue.Job) error {
	projectGID := job.PayloadString("project_gid")
	if projectGID == "" {
		return errors.New("missing required field: project_gid")
	}

	_, err := s.Sync(ctx, projectGID)
	return err
}

// Sync pulls the project's tasks modified since the last completed sync,
// stores them and records their status history. Tasks whose stories cannot
// be read are counted and the run is marked partial.
func (s *Syncer) Sync(ctx context.Context, projectGID string) (*SyncResult, error) {
	started := s.now()
	log := s.logger.With(zap.String("project_gid", projectGID))
	result := &SyncResult{ProjectGID: projectGID}

	since, err := s.repo.GetLastSync(ctx, projectGID)
	if err != nil {
		return nil, err
	}
	result.Incremental = since != nil

	remote, err := s.client.ListProjectTasks(ctx, projectGID, since)
	if err != nil {
		s.finish(ctx, log, started, result, err)
		return nil, fmt.Errorf("failed to list tasks of project %s: %w", projectGID, err)
	}

	log.Info("syncing project", zap.Int("tasks", len(remote)), zap.Bool("incremental", result.Incremental))

	for _, at := range remote {
		if err := ctx.Err(); err != nil {
			s.finish(ctx, log, started, result, err)
			return nil, err
		}

		t := at.ToTask(projectGID, started)
		if err := s.repo.UpsertTask(ctx, t); err != nil {
			s.finish(ctx, log, started, result, err)
			return nil, err
		}
		result.TasksSynced++

		stored, err := s.syncHistory(ctx, at, t)
		if err != nil {
			result.FailedTasks++
			log.Warn("failed to sync task history", zap.String("task_gid", at.GID), zap.Error(err))
			continue
		}
		result.ChangesStored += stored
	}

	s.finish(ctx, log, started, result, nil)
	return result, nil
}

func (s *Syncer) syncHistory(ctx context.Context, at asana.Task, t *task.Task) (int, error) {
	stories, err := s.client.ListTaskStories(ctx, at.GID)
	if err != nil {
		return 0, err
	}

	changes := asana.StatusChanges(at, t.ProjectGID, stories)
	if len(changes) == 0 && t.Section != "" {
		changes = append(changes, task.NewStatusChange(t.GID, t.Section, t.CreatedAt, task.SourceSnapshot))
	}

	return s.repo.RecordStatusChanges(ctx, changes)
}

func (s *Syncer) finish(ctx context.Context, log *zap.Logger, started time.Time, result *SyncResult, syncErr error) {
	finished := s.now()
	run := repository.SyncRun{
		ID:            uuid.New().String(),
		ProjectGID:    result.ProjectGID,
		StartedAt:     started,
		FinishedAt:    &finished,
		Status:        repository.SyncCompleted,
		TasksSynced:   result.TasksSynced,
		ChangesStored: result.ChangesStored,
		FailedTasks:   result.FailedTasks,
	}
	switch {
	case syncErr != nil:
		run.Status = repository.SyncFailed
		run.Error = syncErr.Error()
	case result.FailedTasks > 0:
		run.Status = repository.SyncPartial
	}

	metrics.RecordSync(result.ProjectGID, run.Status, finished.Sub(started), result.TasksSynced, result.ChangesStored)

	// The run is recorded even when the job context is already cancelled.
	if err := s.repo.RecordSync(context.WithoutCancel(ctx), run); err != nil {
		log.Error("failed to record sync run", zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("status", run.Status),
		zap.Int("tasks_synced", run.TasksSynced),
		zap.Int("changes_stored", run.ChangesStored),
		zap.Int("failed_tasks", run.FailedTasks),
		zap.Duration("duration", finished.Sub(started)),
	}
	if syncErr != nil {
		log.Error("project sync failed", append(fields, zap.Error(syncErr))...)
		return
	}
	log.Info("project sync finished", fields...)
}
