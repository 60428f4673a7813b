package export

import (
	"strconv"
	"time"

	"github.com/nadmax/taskboard/internal/repository"
	"github.com/nadmax/taskboard/internal/statusduration"
	"github.com/nadmax/taskboard/internal/task"
)

const dateLayout = "2006-01-02"

func StatusStatsTable(stats []statusduration.Stat) Table {
	t := Table{
		Headers: []string{"Status", "Total (s)", "Samples", "Average (s)", "Average (h)"},
		Rows:    make([][]string, 0, len(stats)),
	}
	for _, s := range stats {
		t.Rows = append(t.Rows, []string{
			s.Status,
			strconv.FormatInt(s.TotalDurationSeconds, 10),
			strconv.Itoa(s.SampleCount),
			strconv.FormatFloat(s.AverageDurationSeconds, 'f', 2, 64),
			strconv.FormatFloat(s.AverageDurationSeconds/3600, 'f', 2, 64),
		})
	}

	return t
}

func IntervalsTable(intervals []statusduration.Interval) Table {
	t := Table{
		Headers: []string{"Task GID", "Status", "Start", "End", "Duration (s)", "Open"},
		Rows:    make([][]string, 0, len(intervals)),
	}
	for _, iv := range intervals {
		t.Rows = append(t.Rows, []string{
			iv.TaskID,
			iv.Status,
			iv.Start.UTC().Format(time.RFC3339),
			iv.End.UTC().Format(time.RFC3339),
			strconv.FormatInt(iv.DurationSeconds, 10),
			strconv.FormatBool(iv.Open),
		})
	}

	return t
}

func TasksTable(tasks []task.Task) Table {
	t := Table{
		Headers: []string{"GID", "Name", "Section", "Assignee", "Completed", "Created", "Completed At", "Due On", "Link"},
		Rows:    make([][]string, 0, len(tasks)),
	}
	for _, tk := range tasks {
		t.Rows = append(t.Rows, []string{
			tk.GID,
			tk.Name,
			tk.Section,
			tk.Assignee,
			strconv.FormatBool(tk.Completed),
			tk.CreatedAt.UTC().Format(time.RFC3339),
			formatOptional(tk.CompletedAt, time.RFC3339),
			formatOptional(tk.DueOn, dateLayout),
			tk.PermalinkURL,
		})
	}

	return t
}

func SectionCountsTable(counts []repository.SectionCount) Table {
	t := Table{
		Headers: []string{"Section", "Open", "Completed", "Total"},
		Rows:    make([][]string, 0, len(counts)),
	}
	for _, c := range counts {
		t.Rows = append(t.Rows, []string{
			c.Section,
			strconv.Itoa(c.Open),
			strconv.Itoa(c.Completed),
			strconv.Itoa(c.Open + c.Completed),
		})
	}

	return t
}

func formatOptional(t *time.Time, layout string) string {
	if t == nil {
		return ""
	}

	return t.UTC().Format(layout)
}
