// Package api wires the HTTP surface of the task board: session endpoints,
// the authenticated dashboard and job endpoints, metrics and static files.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/nadmax/taskboard/internal/auth"
	"github.com/nadmax/taskboard/internal/dashboard"
	"github.com/nadmax/taskboard/internal/export"
	"github.com/nadmax/taskboard/internal/httputil"
	"github.com/nadmax/taskboard/internal/metrics"
	"github.com/nadmax/taskboard/internal/middleware"
	"github.com/nadmax/taskboard/internal/queue"
	"github.com/nadmax/taskboard/internal/worker/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type Options struct {
	Queue       *queue.Queue
	Dashboard   *dashboard.Dashboard
	Sessions    *auth.SessionHandler
	JWT         *auth.JWTManager
	ProjectGIDs []string
	WebDir      string
	Logger      *zap.Logger
}

type API struct {
	queue       *queue.Queue
	projectGIDs []string
	logger      *zap.Logger
	mux         *http.ServeMux
	handler     http.Handler
}

type SyncRequest struct {
	ProjectGID string `json:"project_gid"`
}

type CreateReportRequest struct {
	ReportType string             `json:"report_type"`
	ProjectGID string             `json:"project_gid"`
	StartTime  string             `json:"start_time"`
	EndTime    string             `json:"end_time"`
	Format     string             `json:"format"`
	MaxSeconds *int64             `json:"max_seconds"`
	Notify     string             `json:"notify"`
	Priority   *queue.JobPriority `json:"priority"`
	ScheduleIn *int               `json:"schedule_in"`
}

func NewAPI(opts Options) *API {
	api := &API{
		queue:       opts.Queue,
		projectGIDs: opts.ProjectGIDs,
		logger:      opts.Logger,
		mux:         http.NewServeMux(),
	}

	api.setupRoutes(opts)
	api.handler = middleware.LoggingMiddleware(opts.Logger)(middleware.MetricsMiddleware(api.mux))

	return api
}

func (a *API) setupRoutes(opts Options) {
	a.mux.HandleFunc("GET /health", a.health)
	a.mux.Handle("GET /metrics", promhttp.Handler())
	a.mux.Handle("/api/session", opts.Sessions)

	protect := auth.Middleware(opts.JWT)
	route := func(pattern string, h http.HandlerFunc) {
		a.mux.Handle(pattern, protect(h))
	}

	dash := opts.Dashboard
	route("GET /api/dashboard/kpis", dash.GetKPIs)
	route("GET /api/dashboard/tasks", dash.GetTasks)
	route("GET /api/dashboard/tasks/{gid}/intervals", dash.GetTaskIntervals)
	route("GET /api/dashboard/status-durations", dash.GetStatusDurations)
	route("GET /api/dashboard/charts/throughput", dash.GetThroughput)
	route("GET /api/dashboard/sync-runs", dash.GetSyncRuns)
	route("GET /api/dashboard/export/{dataset}", dash.Export)

	route("POST /api/sync", a.createSync)
	route("POST /api/reports", a.createReport)
	route("GET /api/jobs", a.listJobs)
	route("GET /api/jobs/{id}", a.getJob)
	route("GET /api/dlq/jobs", a.listDeadLetterJobs)
	route("POST /api/dlq/jobs/{id}/retry", a.retryDeadLetterJob)

	if opts.WebDir != "" {
		a.mux.Handle("/", http.FileServer(http.Dir(opts.WebDir)))
	}
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody reads an optional JSON body into v. An empty body leaves v
// untouched.
func (a *API) decodeBody(r *http.Request, v any) error {
	defer func() {
		if err := r.Body.Close(); err != nil {
			a.logger.Warn("failed to close request body", zap.Error(err))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.New("failed to read request body")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.New("invalid JSON")
	}

	return nil
}

func (a *API) enqueue(r *http.Request, job *queue.Job) error {
	if err := a.queue.Enqueue(r.Context(), job); err != nil {
		a.logger.Error("failed to enqueue job", zap.String("type", job.Type), zap.Error(err))
		return err
	}
	metrics.RecordJobEnqueued(job.Type, job.Priority)
	a.logger.Info("job enqueued", zap.String("job_id", job.ID), zap.String("type", job.Type))

	return nil
}

// createSync enqueues a sync for the requested project, or for every
// configured project when the body names none.
func (a *API) createSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := a.decodeBody(r, &req); err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	projects := a.projectGIDs
	if gid := strings.TrimSpace(req.ProjectGID); gid != "" {
		projects = []string{gid}
	}
	if len(projects) == 0 {
		httputil.WriteJSONError(w, "project_gid is required when no projects are configured", http.StatusBadRequest)
		return
	}

	jobs := make([]*queue.Job, 0, len(projects))
	for _, gid := range projects {
		job := queue.NewJob(queue.TypeSyncProject, map[string]any{"project_gid": gid}, queue.PriorityHigh)
		if err := a.enqueue(r, job); err != nil {
			httputil.WriteJSONError(w, "failed to enqueue sync job", http.StatusInternalServerError)
			return
		}
		jobs = append(jobs, job)
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"jobs": jobs})
}

func (a *API) createReport(w http.ResponseWriter, r *http.Request) {
	var req CreateReportRequest
	if err := a.decodeBody(r, &req); err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	payload, err := req.payload()
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	priority := queue.PriorityMedium
	if req.Priority != nil {
		if *req.Priority < queue.PriorityLow || *req.Priority > queue.PriorityHigh {
			httputil.WriteJSONError(w, "priority must be 0, 1 or 2", http.StatusBadRequest)
			return
		}
		priority = *req.Priority
	}

	job := queue.NewJob(queue.TypeGenerateReport, payload, priority)
	if req.ScheduleIn != nil {
		job.ScheduledAt = time.Now().Add(time.Duration(*req.ScheduleIn) * time.Second)
	}

	if err := a.enqueue(r, job); err != nil {
		httputil.WriteJSONError(w, "failed to enqueue report job", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, job)
}

var reportTypes = []string{handlers.ReportStatusDurations, handlers.ReportTaskIntervals, handlers.ReportTaskSummary}

// payload validates the request up front so malformed reports fail at the API
// instead of exhausting their retries in the worker. The output path is always
// the worker's configured one.
func (req *CreateReportRequest) payload() (map[string]any, error) {
	if !slices.Contains(reportTypes, req.ReportType) {
		return nil, fmt.Errorf("report_type must be one of %s", strings.Join(reportTypes, ", "))
	}
	if _, err := export.ParseFormat(req.Format); err != nil {
		return nil, err
	}

	var start, end time.Time
	var err error
	if req.StartTime != "" {
		if start, err = time.Parse(time.RFC3339, req.StartTime); err != nil {
			return nil, errors.New("start_time must be RFC 3339")
		}
	}
	if req.EndTime != "" {
		if end, err = time.Parse(time.RFC3339, req.EndTime); err != nil {
			return nil, errors.New("end_time must be RFC 3339")
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return nil, errors.New("end_time must not be before start_time")
	}
	if req.MaxSeconds != nil && *req.MaxSeconds < 0 {
		return nil, errors.New("max_seconds must not be negative")
	}
	if req.ScheduleIn != nil && *req.ScheduleIn < 0 {
		return nil, errors.New("schedule_in must not be negative")
	}

	payload := map[string]any{"report_type": req.ReportType}
	optional := map[string]string{
		"project_gid": req.ProjectGID,
		"start_time":  req.StartTime,
		"end_time":    req.EndTime,
		"format":      req.Format,
		"notify":      req.Notify,
	}
	for k, v := range optional {
		if v != "" {
			payload[k] = v
		}
	}
	if req.MaxSeconds != nil {
		payload["max_seconds"] = *req.MaxSeconds
	}

	return payload, nil
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.queue.GetAllJobs(r.Context())
	if err != nil {
		a.logger.Error("failed to list jobs", zap.Error(err))
		httputil.WriteJSONError(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}

	status := queue.JobStatus(r.URL.Query().Get("status"))
	jobType := r.URL.Query().Get("type")
	filtered := make([]*queue.Job, 0, len(jobs))
	for _, job := range jobs {
		if status != "" && job.Status != status {
			continue
		}
		if jobType != "" && job.Type != jobType {
			continue
		}
		filtered = append(filtered, job)
	}

	slices.SortFunc(filtered, func(x, y *queue.Job) int {
		return y.CreatedAt.Compare(x.CreatedAt)
	})

	httputil.WriteJSON(w, http.StatusOK, filtered)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.queue.GetJob(r.Context(), r.PathValue("id"))
	if errors.Is(err, queue.ErrJobNotFound) {
		httputil.WriteJSONError(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error("failed to load job", zap.Error(err))
		httputil.WriteJSONError(w, "failed to load job", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, job)
}

func (a *API) listDeadLetterJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.queue.GetDeadLetterJobs(r.Context())
	if err != nil {
		a.logger.Error("failed to list dead letter jobs", zap.Error(err))
		httputil.WriteJSONError(w, "failed to list dead letter jobs", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, jobs)
}

func (a *API) retryDeadLetterJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.queue.RetryDeadLetter(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		httputil.WriteJSONError(w, "job not found", http.StatusNotFound)
		return
	case errors.Is(err, queue.ErrNotDeadLettered):
		httputil.WriteJSONError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		a.logger.Error("failed to retry dead letter job", zap.Error(err))
		httputil.WriteJSONError(w, "failed to retry job", http.StatusInternalServerError)
		return
	}

	metrics.RecordJobRetried(job.Type)
	a.logger.Info("dead letter job requeued", zap.String("job_id", job.ID), zap.String("type", job.Type))
	httputil.WriteJSON(w, http.StatusOK, job)
}
