package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nadmax/taskboard/internal/export"
	"github.com/nadmax/taskboard/internal/queue"
	"github.com/nadmax/taskboard/internal/repository"
	"github.com/nadmax/taskboard/internal/statusduration"
	"github.com/nadmax/taskboard/internal/task"
	"go.uber.org/zap"
)

const (
	ReportStatusDurations = "status_durations"
	ReportTaskIntervals   = "task_intervals"
	ReportTaskSummary     = "task_summary"
)

type ReportPayload struct {
	ReportType string `json:"report_type"`
	ProjectGID string `json:"project_gid"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
	MaxSeconds *int64 `json:"max_seconds,omitempty"`
	Notify     string `json:"notify"`
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, job *queue.Job) error
}

type ReportGenerator struct {
	repo       repository.TaskRepository
	engine     *statusduration.Engine
	enqueuer   JobEnqueuer
	outputPath string
	maxSeconds int64
	logger     *zap.Logger
	now        func() time.Time
}

// NewReportGenerator writes reports under outputPath unless a job overrides
// it. maxSeconds is the default outlier limit for duration reports. enqueuer
// may be nil, in which case notify requests are ignored.
func NewReportGenerator(repo repository.TaskRepository, engine *statusduration.Engine, enqueuer JobEnqueuer, outputPath string, maxSeconds int64, logger *zap.Logger) *ReportGenerator {
	return &ReportGenerator{
		repo:       repo,
		engine:     engine,
		enqueuer:   enqueuer,
		outputPath: outputPath,
		maxSeconds: maxSeconds,
		logger:     logger,
		now:        time.Now,
	}
}

func (rg *ReportGenerator) GenerateReportHandler(ctx context.Context, job *queue.Job) error {
	payload, err := parsePayload(job.Payload, rg.outputPath)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	format, err := export.ParseFormat(payload.Format)
	if err != nil {
		return err
	}

	filter, err := reportFilter(payload)
	if err != nil {
		return fmt.Errorf("invalid time range: %w", err)
	}

	log := rg.logger.With(zap.String("job_id", job.ID), zap.String("report_type", payload.ReportType))
	log.Info("generating report", zap.String("format", string(format)), zap.String("project_gid", payload.ProjectGID))

	maxSeconds := rg.maxSeconds
	if payload.MaxSeconds != nil {
		maxSeconds = *payload.MaxSeconds
	}

	var table export.Table
	switch payload.ReportType {
	case ReportStatusDurations:
		table, err = rg.statusDurations(ctx, filter, maxSeconds)
	case ReportTaskIntervals:
		table, err = rg.taskIntervals(ctx, filter)
	case ReportTaskSummary:
		table, err = rg.taskSummary(ctx, filter)
	default:
		return fmt.Errorf("unsupported report type: %s (available: %s, %s, %s)",
			payload.ReportType, ReportStatusDurations, ReportTaskIntervals, ReportTaskSummary)
	}
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	if ctx.Err() != nil {
		log.Info("job cancelled after data generation")
		return ctx.Err()
	}

	table.GeneratedAt = rg.now()
	outputFile, err := rg.saveReport(payload, format, table)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	log.Info("report generated", zap.String("path", outputFile), zap.Int("rows", len(table.Rows)))

	if payload.Notify != "" {
		rg.notify(ctx, log, payload, outputFile, len(table.Rows))
	}

	return nil
}

func parsePayload(payload map[string]any, defaultOutputPath string) (*ReportPayload, error) {
	var rp ReportPayload
	if err := decodePayload(payload, &rp); err != nil {
		return nil, err
	}

	if rp.ReportType == "" {
		return nil, errors.New("missing required field: report_type")
	}
	if rp.MaxSeconds != nil && *rp.MaxSeconds < 0 {
		return nil, errors.New("max_seconds must not be negative")
	}
	if rp.OutputPath == "" {
		rp.OutputPath = defaultOutputPath
	}
	if rp.Format == "" {
		rp.Format = string(export.FormatCSV)
	}

	return &rp, nil
}

// reportFilter restricts a report to the project and to tasks created in
// [start_time, end_time). Both bounds are optional.
func reportFilter(payload *ReportPayload) (task.Filter, error) {
	f := task.Filter{ProjectGID: payload.ProjectGID}

	if payload.StartTime != "" {
		start, err := time.Parse(time.RFC3339, payload.StartTime)
		if err != nil {
			return f, fmt.Errorf("invalid start_time format: %w", err)
		}
		f.CreatedFrom = &start
	}
	if payload.EndTime != "" {
		end, err := time.Parse(time.RFC3339, payload.EndTime)
		if err != nil {
			return f, fmt.Errorf("invalid end_time format: %w", err)
		}
		f.CreatedTo = &end
	}

	return f, f.Validate()
}

func (rg *ReportGenerator) statusDurations(ctx context.Context, f task.Filter, maxSeconds int64) (export.Table, error) {
	events, err := rg.repo.ListStatusEvents(ctx, f)
	if err != nil {
		return export.Table{}, err
	}

	stats, err := rg.engine.StatusStats(events, maxSeconds)
	if err != nil {
		return export.Table{}, err
	}

	return export.StatusStatsTable(stats), nil
}

func (rg *ReportGenerator) taskIntervals(ctx context.Context, f task.Filter) (export.Table, error) {
	events, err := rg.repo.ListStatusEvents(ctx, f)
	if err != nil {
		return export.Table{}, err
	}

	intervals, err := rg.engine.ComputeIntervals(events)
	if err != nil {
		return export.Table{}, err
	}

	return export.IntervalsTable(intervals), nil
}

func (rg *ReportGenerator) taskSummary(ctx context.Context, f task.Filter) (export.Table, error) {
	counts, err := rg.repo.GetSectionCounts(ctx, f)
	if err != nil {
		return export.Table{}, err
	}

	return export.SectionCountsTable(counts), nil
}

func (rg *ReportGenerator) saveReport(payload *ReportPayload, format export.Format, table export.Table) (path string, err error) {
	if err := os.MkdirAll(payload.OutputPath, 0o755); err != nil {
		return "", err
	}

	timestamp := table.GeneratedAt.UTC().Format("20060102_150405")
	filename := fmt.Sprintf("taskboard_%s_%s.%s", payload.ReportType, timestamp, format)
	fullPath := filepath.Join(payload.OutputPath, filename)

	file, err := os.Create(fullPath)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()

	if err := export.Write(file, format, table, payload.ReportType); err != nil {
		return "", err
	}

	return fullPath, nil
}

func (rg *ReportGenerator) notify(ctx context.Context, log *zap.Logger, payload *ReportPayload, path string, rows int) {
	if rg.enqueuer == nil {
		log.Warn("report notification requested but no queue is configured")
		return
	}

	job := queue.NewJob(queue.TypeSendEmail, map[string]any{
		"to":      payload.Notify,
		"subject": fmt.Sprintf("Taskboard report ready: %s", payload.ReportType),
		"body":    fmt.Sprintf("Your %s report (%d rows) was written to %s.", payload.ReportType, rows, path),
	}, queue.PriorityLow)

	if err := rg.enqueuer.Enqueue(ctx, job); err != nil {
		log.Error("failed to enqueue report notification", zap.Error(err))
		return
	}
	log.Info("report notification enqueued", zap.String("email_job_id", job.ID))
}
