// Package dashboard serves the read side of the task board: KPIs, the filtered
// task table, status duration aggregates, throughput charts and exports.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nadmax/taskboard/internal/export"
	"github.com/nadmax/taskboard/internal/httputil"
	"github.com/nadmax/taskboard/internal/metrics"
	"github.com/nadmax/taskboard/internal/repository"
	"github.com/nadmax/taskboard/internal/statusduration"
	"github.com/nadmax/taskboard/internal/task"
	"go.uber.org/zap"
)

const defaultSyncRunsLimit = 20

type Dashboard struct {
	repo       repository.TaskRepository
	engine     *statusduration.Engine
	maxSeconds int64
	logger     *zap.Logger
	now        func() time.Time
}

type KPIs struct {
	TotalTasks            int                       `json:"total_tasks"`
	OpenTasks             int                       `json:"open_tasks"`
	CompletedTasks        int                       `json:"completed_tasks"`
	OverdueTasks          int                       `json:"overdue_tasks"`
	Sections              []repository.SectionCount `json:"sections"`
	AverageOpenAge        string                    `json:"average_open_age"`
	AverageOpenAgeSeconds int64                     `json:"average_open_age_seconds"`
	LastUpdated           time.Time                 `json:"last_updated"`
}

type TaskPage struct {
	Tasks  []task.Task `json:"tasks"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

type StatusDurations struct {
	Stats      []statusduration.Stat `json:"stats"`
	MaxSeconds int64                 `json:"max_seconds"`
}

type TaskIntervals struct {
	Task      *task.Task                `json:"task"`
	Intervals []statusduration.Interval `json:"intervals"`
	Stats     []statusduration.Stat     `json:"stats"`
}

// NewDashboard reports duration aggregates with maxSeconds as the default
// outlier threshold. Requests may override it with max_seconds.
func NewDashboard(repo repository.TaskRepository, engine *statusduration.Engine, maxSeconds int64, logger *zap.Logger) *Dashboard {
	return &Dashboard{
		repo:       repo,
		engine:     engine,
		maxSeconds: maxSeconds,
		logger:     logger,
		now:        time.Now,
	}
}

func (d *Dashboard) GetKPIs(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	counts, err := d.repo.GetSectionCounts(r.Context(), f)
	if err != nil {
		d.internalError(w, "failed to load section counts", err)
		return
	}

	// Overdue and open age only cover open tasks, so a completed-only
	// filter leaves them at their zero values.
	var openTasks []task.Task
	if f.Completed == nil || !*f.Completed {
		open := false
		f.Completed = &open
		openTasks, err = d.allTasks(r.Context(), f)
		if err != nil {
			d.internalError(w, "failed to load open tasks", err)
			return
		}
	}

	now := d.now()
	kpis := KPIs{
		Sections:       counts,
		AverageOpenAge: "N/A",
		LastUpdated:    now,
	}
	for _, c := range counts {
		kpis.OpenTasks += c.Open
		kpis.CompletedTasks += c.Completed
	}
	kpis.TotalTasks = kpis.OpenTasks + kpis.CompletedTasks

	var totalAge time.Duration
	for i := range openTasks {
		if openTasks[i].IsOverdue(now) {
			kpis.OverdueTasks++
		}
		totalAge += openTasks[i].Age(now)
	}
	if len(openTasks) > 0 {
		avg := totalAge / time.Duration(len(openTasks))
		kpis.AverageOpenAgeSeconds = int64(avg / time.Second)
		kpis.AverageOpenAge = avg.Round(time.Minute).String()
	}

	httputil.WriteJSON(w, http.StatusOK, kpis)
}

func (d *Dashboard) GetTasks(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	tasks, err := d.repo.ListTasks(r.Context(), f)
	if err != nil {
		d.internalError(w, "failed to list tasks", err)
		return
	}

	total, err := d.repo.CountTasks(r.Context(), f)
	if err != nil {
		d.internalError(w, "failed to count tasks", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, TaskPage{
		Tasks:  tasks,
		Total:  total,
		Limit:  f.PageSize(),
		Offset: f.Offset,
	})
}

func (d *Dashboard) GetStatusDurations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := ParseFilter(q)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	maxSeconds, err := parseMaxSeconds(q, d.maxSeconds)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	stats, err := d.statusStats(r.Context(), f, maxSeconds)
	if err != nil {
		d.internalError(w, "failed to compute status durations", err)
		return
	}

	if isUnfiltered(f) && maxSeconds == d.maxSeconds {
		metrics.UpdateStatusAverages(stats)
	}

	httputil.WriteJSON(w, http.StatusOK, StatusDurations{Stats: stats, MaxSeconds: maxSeconds})
}

func (d *Dashboard) GetTaskIntervals(w http.ResponseWriter, r *http.Request) {
	gid := r.PathValue("gid")
	if gid == "" {
		httputil.WriteJSONError(w, "task gid is required", http.StatusBadRequest)
		return
	}

	t, err := d.repo.GetTask(r.Context(), gid)
	if errors.Is(err, task.ErrTaskNotFound) {
		httputil.WriteJSONError(w, "task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		d.internalError(w, "failed to load task", err)
		return
	}

	events, err := d.repo.ListTaskStatusEvents(r.Context(), gid)
	if err != nil {
		d.internalError(w, "failed to load status history", err)
		return
	}

	intervals, err := d.engine.ComputeTaskIntervals(events)
	if err != nil {
		d.internalError(w, "failed to compute intervals", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, TaskIntervals{
		Task:      t,
		Intervals: intervals,
		Stats:     statusduration.Aggregate(intervals),
	})
}

func (d *Dashboard) GetThroughput(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bucket, err := ParseBucket(q.Get("bucket"))
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	f, err := ParseFilter(q)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	dates, err := d.repo.ListTaskDates(r.Context(), f)
	if err != nil {
		d.internalError(w, "failed to load task dates", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"bucket": bucket,
		"points": Throughput(dates, bucket),
	})
}

func (d *Dashboard) GetSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r.URL.Query(), "limit")
	if err != nil || limit < 0 {
		httputil.WriteJSONError(w, "invalid limit", http.StatusBadRequest)
		return
	}
	if limit == 0 {
		limit = defaultSyncRunsLimit
	}

	runs, err := d.repo.ListSyncRuns(r.Context(), limit)
	if err != nil {
		d.internalError(w, "failed to list sync runs", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, runs)
}

// Export writes the task table or the status duration aggregates as an
// attachment. The dataset comes from the {dataset} path value.
func (d *Dashboard) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	f, err := ParseFilter(q)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	dataset := r.PathValue("dataset")
	var table export.Table
	switch dataset {
	case "tasks":
		var tasks []task.Task
		tasks, err = d.allTasks(r.Context(), f)
		table = export.TasksTable(tasks)
	case "status-durations":
		var maxSeconds int64
		if maxSeconds, err = parseMaxSeconds(q, d.maxSeconds); err != nil {
			httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		var stats []statusduration.Stat
		stats, err = d.statusStats(r.Context(), f, maxSeconds)
		table = export.StatusStatsTable(stats)
	default:
		httputil.WriteJSONError(w, fmt.Sprintf("unknown export %q", dataset), http.StatusNotFound)
		return
	}
	if err != nil {
		d.internalError(w, "failed to build export", err)
		return
	}

	now := d.now()
	table.GeneratedAt = now
	filename := fmt.Sprintf("taskboard_%s_%s.%s", dataset, now.UTC().Format("20060102_150405"), format)

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := export.Write(w, format, table, dataset); err != nil {
		d.logger.Error("failed to write export", zap.String("dataset", dataset), zap.Error(err))
	}
}

func (d *Dashboard) statusStats(ctx context.Context, f task.Filter, maxSeconds int64) ([]statusduration.Stat, error) {
	events, err := d.repo.ListStatusEvents(ctx, f)
	if err != nil {
		return nil, err
	}

	return d.engine.StatusStats(events, maxSeconds)
}

// allTasks pages through every task matching f, ignoring its limit and offset.
func (d *Dashboard) allTasks(ctx context.Context, f task.Filter) ([]task.Task, error) {
	f.Limit = task.MaxLimit
	f.Offset = 0

	all := []task.Task{}
	for {
		page, err := d.repo.ListTasks(ctx, f)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < f.Limit {
			return all, nil
		}
		f.Offset += f.Limit
	}
}

func (d *Dashboard) internalError(w http.ResponseWriter, msg string, err error) {
	d.logger.Error(msg, zap.Error(err))
	httputil.WriteJSONError(w, msg, http.StatusInternalServerError)
}

func isUnfiltered(f task.Filter) bool {
	return f.ProjectGID == "" && len(f.Sections) == 0 && f.Assignee == "" &&
		f.Completed == nil && f.CreatedFrom == nil && f.CreatedTo == nil && f.Search == ""
}
