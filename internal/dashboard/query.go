package dashboard

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/taskboard/internal/task"
)

const dateLayout = "2006-01-02"

// ParseFilter reads the dashboard query parameters shared by the table,
// aggregate and export endpoints.
func ParseFilter(q url.Values) (task.Filter, error) {
	f := task.Filter{
		ProjectGID: strings.TrimSpace(q.Get("project")),
		Assignee:   strings.TrimSpace(q.Get("assignee")),
		Search:     strings.TrimSpace(q.Get("q")),
	}

	for _, s := range q["section"] {
		if s = strings.TrimSpace(s); s != "" {
			f.Sections = append(f.Sections, s)
		}
	}

	if v := q.Get("completed"); v != "" {
		completed, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("invalid completed value %q", v)
		}
		f.Completed = &completed
	}

	var err error
	if f.CreatedFrom, err = parseTimeParam(q, "from"); err != nil {
		return f, err
	}
	if f.CreatedTo, err = parseTimeParam(q, "to"); err != nil {
		return f, err
	}

	if f.Limit, err = parseIntParam(q, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = parseIntParam(q, "offset"); err != nil {
		return f, err
	}

	return f, f.Validate()
}

// parseTimeParam accepts RFC 3339 timestamps or plain dates. A plain "to" date
// is inclusive, so it is moved to the start of the following day.
func parseTimeParam(q url.Values, key string) (*time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339, v); err == nil {
		t = t.UTC()
		return &t, nil
	}

	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: use YYYY-MM-DD or RFC 3339", key, v)
	}
	if key == "to" {
		t = t.AddDate(0, 0, 1)
	}

	return &t, nil
}

func parseIntParam(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q", key, v)
	}

	return n, nil
}

// parseMaxSeconds returns the outlier threshold for a request: the query value
// when present, def otherwise. Zero disables the threshold.
func parseMaxSeconds(q url.Values, def int64) (int64, error) {
	v := q.Get("max_seconds")
	if v == "" {
		return def, nil
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid max_seconds value %q", v)
	}

	return n, nil
}
