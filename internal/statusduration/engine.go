// Package statusduration reconstructs how long tasks spent in each status
// from a log of status-change events and aggregates those spans per status.
//
// Status labels are opaque: they are compared byte-for-byte and passed through
// unchanged, so callers that need fuzzy reconciliation (emoji prefixes,
// whitespace, synonyms) must normalize labels before calling Aggregate.
package statusduration

import (
	"cmp"
	"errors"
	"slices"
	"time"
)

// DefaultMaxDurationSeconds is the default outlier threshold: one year.
const DefaultMaxDurationSeconds int64 = 365 * 86400

// NoOutlierLimit disables the upper bound of FilterDurationOutliers.
const NoOutlierLimit int64 = 0

var (
	// ErrMixedTasks is returned when a single-task computation is given
	// events from several tasks.
	ErrMixedTasks = errors.New("statusduration: events belong to more than one task")
	// ErrMalformedInput is returned when no event is usable at all.
	ErrMalformedInput = errors.New("statusduration: no event carries a status or a timestamp")
)

// Clock returns the instant used as the end of a task's current status.
type Clock func() time.Time

type (
	// Event is one observation that a task held Status as of RecordedAt.
	Event struct {
		TaskID     string `json:"task_id"`
		Status     string `json:"status"`
		RecordedAt string `json:"recorded_at"`
	}

	// Interval is a contiguous span one task spent in one status. Open is set
	// on the trailing span that ends at the clock's current time.
	Interval struct {
		TaskID          string    `json:"task_id"`
		Status          string    `json:"status"`
		DurationSeconds int64     `json:"duration_seconds"`
		Start           time.Time `json:"start"`
		End             time.Time `json:"end"`
		Open            bool      `json:"open"`
	}

	// Stat summarizes every interval observed for one status label.
	Stat struct {
		Status                 string  `json:"status"`
		TotalDurationSeconds   int64   `json:"total_duration_seconds"`
		SampleCount            int     `json:"sample_count"`
		AverageDurationSeconds float64 `json:"average_duration_seconds"`
	}
)

// Engine computes status intervals against its clock.
type Engine struct {
	clock Clock
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now as the end of open intervals. A nil clock is
// ignored.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// NewEngine returns an Engine that uses time.Now unless an option overrides it.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{clock: time.Now}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

var defaultEngine = NewEngine()

// ComputeTaskIntervals is ComputeTaskIntervals on an engine reading time.Now.
func ComputeTaskIntervals(events []Event) ([]Interval, error) {
	return defaultEngine.ComputeTaskIntervals(events)
}

// ComputeIntervals is ComputeIntervals on an engine reading time.Now.
func ComputeIntervals(events []Event) ([]Interval, error) {
	return defaultEngine.ComputeIntervals(events)
}

type observation struct {
	status string
	at     time.Time
}

// ComputeTaskIntervals expects the events of a single task; it does not
// partition and returns ErrMixedTasks when more than one non-empty TaskID is
// present. Use ComputeIntervals for a mixed set.
//
// Events with unparseable timestamps are skipped. The remaining events are
// stable-sorted by time and each one opens an interval that lasts until the
// next event, or until the clock's now for the last one. Fewer than two usable
// events yield no intervals.
func (e *Engine) ComputeTaskIntervals(events []Event) ([]Interval, error) {
	if err := validate(events); err != nil {
		return nil, err
	}

	taskID := ""
	for _, ev := range events {
		if ev.TaskID == "" {
			continue
		}
		if taskID != "" && ev.TaskID != taskID {
			return nil, ErrMixedTasks
		}
		taskID = ev.TaskID
	}

	return e.taskIntervals(taskID, events), nil
}

// ComputeIntervals partitions events by TaskID, keeping the order in which
// tasks are first seen, and concatenates each task's intervals.
func (e *Engine) ComputeIntervals(events []Event) ([]Interval, error) {
	if err := validate(events); err != nil {
		return nil, err
	}

	var order []string
	byTask := make(map[string][]Event)
	for _, ev := range events {
		if _, ok := byTask[ev.TaskID]; !ok {
			order = append(order, ev.TaskID)
		}
		byTask[ev.TaskID] = append(byTask[ev.TaskID], ev)
	}

	intervals := []Interval{}
	for _, id := range order {
		intervals = append(intervals, e.taskIntervals(id, byTask[id])...)
	}

	return intervals, nil
}

// StatusStats runs the whole pipeline for a mixed event set: intervals per
// task, outlier filtering with maxSeconds, then aggregation.
func (e *Engine) StatusStats(events []Event, maxSeconds int64) ([]Stat, error) {
	intervals, err := e.ComputeIntervals(events)
	if err != nil {
		return nil, err
	}

	return Aggregate(FilterDurationOutliers(intervals, maxSeconds)), nil
}

func (e *Engine) taskIntervals(taskID string, events []Event) []Interval {
	obs := make([]observation, 0, len(events))
	for _, ev := range events {
		at, ok := ParseTimestamp(ev.RecordedAt)
		if !ok {
			continue
		}
		obs = append(obs, observation{status: ev.Status, at: at})
	}

	intervals := []Interval{}
	if len(obs) < 2 {
		return intervals
	}

	slices.SortStableFunc(obs, func(a, b observation) int {
		return a.at.Compare(b.at)
	})

	for i := 0; i < len(obs)-1; i++ {
		cur, next := obs[i], obs[i+1]
		d := next.at.Sub(cur.at)
		if d < 0 {
			continue
		}
		intervals = append(intervals, Interval{
			TaskID:          taskID,
			Status:          cur.status,
			DurationSeconds: int64(d / time.Second),
			Start:           cur.at,
			End:             next.at,
		})
	}

	last := obs[len(obs)-1]
	now := e.now()
	if d := now.Sub(last.at); d >= 0 {
		intervals = append(intervals, Interval{
			TaskID:          taskID,
			Status:          last.status,
			DurationSeconds: int64(d / time.Second),
			Start:           last.at,
			End:             now,
			Open:            true,
		})
	}

	return intervals
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}

	return e.clock()
}

// Aggregate groups intervals by exact status label. The result is sorted by
// label, so it does not depend on input order, and contains only statuses
// with at least one sample.
func Aggregate(intervals []Interval) []Stat {
	byStatus := make(map[string]*Stat)
	for _, iv := range intervals {
		s, ok := byStatus[iv.Status]
		if !ok {
			s = &Stat{Status: iv.Status}
			byStatus[iv.Status] = s
		}
		s.TotalDurationSeconds += iv.DurationSeconds
		s.SampleCount++
	}

	stats := make([]Stat, 0, len(byStatus))
	for _, s := range byStatus {
		s.AverageDurationSeconds = float64(s.TotalDurationSeconds) / float64(s.SampleCount)
		stats = append(stats, *s)
	}

	slices.SortFunc(stats, func(a, b Stat) int {
		return cmp.Compare(a.Status, b.Status)
	})

	return stats
}

// FilterDurationOutliers drops negative intervals and, when maxSeconds is
// positive, intervals longer than maxSeconds. Pass NoOutlierLimit to keep
// every non-negative interval.
func FilterDurationOutliers(intervals []Interval, maxSeconds int64) []Interval {
	kept := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.DurationSeconds < 0 {
			continue
		}
		if maxSeconds > 0 && iv.DurationSeconds > maxSeconds {
			continue
		}
		kept = append(kept, iv)
	}

	return kept
}

func validate(events []Event) error {
	if len(events) == 0 {
		return nil
	}

	for _, ev := range events {
		if ev.Status != "" || ev.RecordedAt != "" {
			return nil
		}
	}

	return ErrMalformedInput
}
