package dashboard

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nadmax/taskboard/internal/repository"
	"github.com/nadmax/taskboard/internal/statusduration"
	"github.com/nadmax/taskboard/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	testNow   = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func timePtr(t time.Time) *time.Time { return &t }

func setupTestDashboard(t *testing.T) (*Dashboard, *repository.MockTaskRepository) {
	t.Helper()

	repo := repository.NewMockTaskRepository()
	repo.AddTask(task.Task{
		GID: "1", Name: "Write docs", ProjectGID: "1200", Section: "Done",
		Completed: true, CreatedAt: testStart, CompletedAt: timePtr(testStart.Add(48 * time.Hour)),
	})
	repo.AddTask(task.Task{
		GID: "2", Name: "Fix login", ProjectGID: "1200", Section: "Doing", Assignee: "ada",
		CreatedAt: testStart.Add(24 * time.Hour), DueOn: timePtr(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)),
	})
	repo.AddTask(task.Task{
		GID: "3", Name: "Ship release", ProjectGID: "1300", Section: "To Do",
		CreatedAt: testStart.Add(9 * 24 * time.Hour),
	})
	repo.AddChanges(
		task.NewStatusChange("1", "To Do", testStart, task.SourceStory),
		task.NewStatusChange("1", "Doing", testStart.Add(time.Hour), task.SourceStory),
		task.NewStatusChange("1", "Done", testStart.Add(3*time.Hour), task.SourceStory),
		task.NewStatusChange("2", "To Do", testStart.Add(24*time.Hour), task.SourceStory),
		task.NewStatusChange("2", "Doing", testStart.Add(26*time.Hour), task.SourceStory),
	)

	engine := statusduration.NewEngine(statusduration.WithClock(func() time.Time { return testNow }))
	dash := NewDashboard(repo, engine, statusduration.DefaultMaxDurationSeconds, zap.NewNop())
	dash.now = func() time.Time { return testNow }

	return dash, repo
}

func serve(h http.HandlerFunc, target string, pathValues map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	w := httptest.NewRecorder()
	h(w, req)

	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestGetKPIs(t *testing.T) {
	dash, _ := setupTestDashboard(t)

	w := serve(dash.GetKPIs, "/api/dashboard/kpis", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	kpis := decode[KPIs](t, w)
	assert.Equal(t, 3, kpis.TotalTasks)
	assert.Equal(t, 2, kpis.OpenTasks)
	assert.Equal(t, 1, kpis.CompletedTasks)
	assert.Equal(t, 1, kpis.OverdueTasks)
	assert.Len(t, kpis.Sections, 3)
	// Task 2 is 8.5 days old, task 3 half a day.
	assert.Equal(t, int64(4*86400+12*3600), kpis.AverageOpenAgeSeconds)
	assert.Equal(t, testNow, kpis.LastUpdated)
}

func TestGetKPIs_Empty(t *testing.T) {
	dash := NewDashboard(repository.NewMockTaskRepository(), statusduration.NewEngine(), 0, zap.NewNop())

	w := serve(dash.GetKPIs, "/api/dashboard/kpis", nil)
	require.Equal(t, http.StatusOK, w.Code)

	kpis := decode[KPIs](t, w)
	assert.Zero(t, kpis.TotalTasks)
	assert.Equal(t, "N/A", kpis.AverageOpenAge)
}

func TestGetKPIs_ProjectFilter(t *testing.T) {
	dash, _ := setupTestDashboard(t)

	kpis := decode[KPIs](t, serve(dash.GetKPIs, "/api/dashboard/kpis?project=1300", nil))
	assert.Equal(t, 1, kpis.TotalTasks)
	assert.Zero(t, kpis.OverdueTasks)
}

func TestGetKPIs_CompletedFilter(t *testing.T) {
	dash, _ := setupTestDashboard(t)

	kpis := decode[KPIs](t, serve(dash.GetKPIs, "/api/dashboard/kpis?completed=true", nil))
	assert.Equal(t, 1, kpis.TotalTasks)
	assert.Zero(t, kpis.OpenTasks)
	assert.Equal(t, 1, kpis.CompletedTasks)
	assert.Zero(t, kpis.OverdueTasks, "overdue counts open tasks only")
	assert.Equal(t, "N/A", kpis.AverageOpenAge)
	assert.Zero(t, kpis.AverageOpenAgeSeconds)

	kpis = decode[KPIs](t, serve(dash.GetKPIs, "/api/dashboard/kpis?completed=false", nil))
	assert.Equal(t, 2, kpis.TotalTasks)
	assert.Equal(t, 1, kpis.OverdueTasks)
}

func TestGetTasks(t *testing.T) {
	dash, _ := setupTestDashboard(t)

	tests := []struct {
		name     string
		query    string
		wantGIDs []string
		total    int
	}{
		{"all newest first", "", []string{"3", "2", "1"}, 3},
		{"project", "?project=1200", []string{"2", "1"}, 2},
		{"repeatable section", "?section=Doing&section=Done", []string{"2", "1"}, 2},
		{"assignee", "?assignee=ada", []string{"2"}, 1},
		{"completed", "?completed=true", []string{"1"}, 1},
		{"search", "?q=LOGIN", []string{"2"}, 1},
		{"inclusive to date", "?from=2024-01-02&to=2024-01-02", []string{"2"}, 1},
		{"paged", "?limit=1&offset=1", []string{"2"}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(dash.GetTasks, "/api/dashboard/tasks"+tt.query, nil)
			require.Equal(t, http.StatusOK, w.Code)

			page := decode[TaskPage](t, w)
			gids := make([]string, 0, len(page.Tasks))
			for _, tk := range page.Tasks {
				gids = append(gids, tk.GID)
			}
			assert.Equal(t, tt.wantGIDs, gids)
			assert.Equal(t, tt.total, page.Total)
		})
	}
}

func TestGetTasks_InvalidQuery(t *testing.T) {
	dash, _ := setupTestDashboard(t)

	for _, q := range []string{"?completed=maybe", "?from=last-week", "?limit=5000", "?offset=-1", "?limit=x", "?from=2024-02-01&to=2024-01-01"} {
		w := serve(dash.GetTasks, "/api/dashboard/tasks"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestGetTasks_RepositoryError(t *testing.T) {
	dash, repo := setupTestDashboard(t)
	repo.ListTasksError = errors.New("db down")

	w := serve(dash.GetTasks, "/api/dashboard/tasks", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")
}

func TestGetStatusDurations(t *testing.T) {
	dash, _ := setupTestDashboard(t)

	w := serve(dash.GetStatusDurations, "/api/dashboard/status-durations", nil)
	require.Equal(t, http.StatusOK, w.Code)

	got := decode[StatusDurations](t, w)
	assert.Equal(t, statusduration.DefaultMaxDurationSeconds, got.MaxSeconds)
	require.Len(t, got.Stats, 3)
	assert.Equal(t, "Doing", got.Stats[0].Status)
	assert.Equal(t, 2, got.Stats[0].SampleCount)
	assert.Equal(t, "Done", got.Stats[1].Status)
	assert.Equal(t, "To Do", got.Stats[2].Status)
	assert.Equal(t, int64(3*3600), got.Stats[2].TotalDurationSeconds)
}

func TestGetStatusDurations_MaxSecondsOverride(t *testing.T) {
	dash, _ := setupTestDashboard(t)

	got := decode[StatusDurations](t, serve(dash.GetStatusDurations, "/api/dashboard/status-durations?max_seconds=10800", nil))
	assert.Equal(t, int64(10800), got.MaxSeconds)
	require.Len(t, got.Stats, 2)
	assert.Equal(t, "Doing", got.Stats[0].Status)
	assert.Equal(t, int64(7200), got.Stats[0].TotalDurationSeconds)

	w := serve(dash.GetStatusDurations, "/api/dashboard/status-durations?max_seconds=-5", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTaskIntervals(t *testing.T) {
	dash, _ := setupTestDashboard(t)

	w := serve(dash.GetTaskIntervals, "/api/dashboard/tasks/2/intervals", map[string]string{"gid": "2"})
	require.Equal(t, http.StatusOK, w.Code)

	got := decode[TaskIntervals](t, w)
	require.NotNil(t, got.Task)
	assert.Equal(t, "Fix login", got.Task.Name)
	require.Len(t, got.Intervals, 2)
	assert.Equal(t, "To Do", got.Intervals[0].Status)
	assert.Equal(t, int64(7200), got.Intervals[0].DurationSeconds)
	assert.False(t, got.Intervals[0].Open)
	assert.True(t, got.Intervals[1].Open)
	assert.Equal(t, testNow, got.Intervals[1].End)
	assert.Len(t, got.Stats, 2)
}

func TestGetTaskIntervals_NoHistory(t *testing.T) {
	dash, _ := setupTestDashboard(t)

	got := decode[TaskIntervals](t, serve(dash.GetTaskIntervals, "/", map[string]string{"gid": "3"}))
	assert.Empty(t, got.Intervals)
	assert.Empty(t, got.Stats)
}

func TestGetTaskIntervals_NotFound(t *testing.T) {
	dash, _ := setupTestDashboard(t)

	w := serve(dash.GetTaskIntervals, "/", map[string]string{"gid": "404"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(dash.GetTaskIntervals, "/", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetThroughput(t *testing.T) {
	dash, _ := setupTestDashboard(t)

	w := serve(dash.GetThroughput, "/api/dashboard/charts/throughput?bucket=day&project=1200", nil)
	require.Equal(t, http.StatusOK, w.Code)

	got := decode[struct {
		Bucket Bucket            `json:"bucket"`
		Points []ThroughputPoint `json:"points"`
	}](t, w)
	assert.Equal(t, BucketDay, got.Bucket)
	require.Len(t, got.Points, 3)
	assert.Equal(t, ThroughputPoint{Period: "2024-01-01", Start: testStart, Created: 1}, got.Points[0])
	assert.Equal(t, 1, got.Points[1].Created)
	assert.Equal(t, 1, got.Points[2].Completed)

	w = serve(dash.GetThroughput, "/api/dashboard/charts/throughput?bucket=year", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSyncRuns(t *testing.T) {
	dash, repo := setupTestDashboard(t)
	repo.SyncRuns = []repository.SyncRun{
		{ID: "a", ProjectGID: "1200", StartedAt: testStart, Status: repository.SyncCompleted},
		{ID: "b", ProjectGID: "1200", StartedAt: testNow, Status: repository.SyncPartial},
	}

	w := serve(dash.GetSyncRuns, "/api/dashboard/sync-runs?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	runs := decode[[]repository.SyncRun](t, w)
	require.Len(t, runs, 1)
	assert.Equal(t, "b", runs[0].ID)

	w = serve(dash.GetSyncRuns, "/api/dashboard/sync-runs?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExport_TasksCSV(t *testing.T) {
	dash, _ := setupTestDashboard(t)

	w := serve(dash.Export, "/api/dashboard/export/tasks?project=1200", map[string]string{"dataset": "tasks"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="taskboard_tasks_20240110_120000.csv"`, w.Header().Get("Content-Disposition"))

	records, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "GID", records[0][0])
	assert.Equal(t, "2", records[1][0])
}

func TestExport_StatusDurationsJSON(t *testing.T) {
	dash, _ := setupTestDashboard(t)

	w := serve(dash.Export, "/api/dashboard/export/status-durations?format=json", map[string]string{"dataset": "status-durations"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	got := decode[struct {
		Data      []map[string]string `json:"data"`
		TotalRows int                 `json:"total_rows"`
	}](t, w)
	assert.Equal(t, 3, got.TotalRows)
	assert.Equal(t, "Doing", got.Data[0]["Status"])
}

func TestExport_Errors(t *testing.T) {
	dash, _ := setupTestDashboard(t)

	w := serve(dash.Export, "/?format=pdf", map[string]string{"dataset": "tasks"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(dash.Export, "/", map[string]string{"dataset": "burndown"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
