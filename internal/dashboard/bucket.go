package dashboard

import (
	"fmt"
	"time"

	"github.com/nadmax/taskboard/internal/repository"
)

type Bucket string

const (
	BucketDay   Bucket = "day"
	BucketWeek  Bucket = "week"
	BucketMonth Bucket = "month"
)

// maxThroughputPoints bounds the series so a daily bucket over a wide range
// cannot produce an unbounded response.
const maxThroughputPoints = 1000

type ThroughputPoint struct {
	Period    string    `json:"period"`
	Start     time.Time `json:"start"`
	Created   int       `json:"created"`
	Completed int       `json:"completed"`
}

func ParseBucket(s string) (Bucket, error) {
	switch Bucket(s) {
	case "":
		return BucketWeek, nil
	case BucketDay, BucketWeek, BucketMonth:
		return Bucket(s), nil
	default:
		return "", fmt.Errorf("unsupported bucket %q (use day, week or month)", s)
	}
}

// Truncate returns the UTC start of the bucket containing t. Weeks start on
// Monday.
func (b Bucket) Truncate(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)

	switch b {
	case BucketWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case BucketMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

func (b Bucket) next(start time.Time) time.Time {
	switch b {
	case BucketWeek:
		return start.AddDate(0, 0, 7)
	case BucketMonth:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

func (b Bucket) label(start time.Time) string {
	if b == BucketMonth {
		return start.Format("2006-01")
	}

	return start.Format(dateLayout)
}

// Throughput counts tasks created and completed per bucket. The series is
// contiguous from the earliest to the latest observed date, with empty buckets
// reported as zero, and keeps only the most recent points when it would exceed
// maxThroughputPoints.
func Throughput(dates []repository.TaskDates, b Bucket) []ThroughputPoint {
	created := make(map[time.Time]int)
	completed := make(map[time.Time]int)
	var first, last time.Time

	observe := func(t time.Time, counts map[time.Time]int) {
		start := b.Truncate(t)
		counts[start]++
		if first.IsZero() || start.Before(first) {
			first = start
		}
		if start.After(last) {
			last = start
		}
	}

	for _, d := range dates {
		observe(d.CreatedAt, created)
		if d.CompletedAt != nil {
			observe(*d.CompletedAt, completed)
		}
	}

	points := []ThroughputPoint{}
	if first.IsZero() {
		return points
	}

	for start := first; !start.After(last); start = b.next(start) {
		points = append(points, ThroughputPoint{
			Period:    b.label(start),
			Start:     start,
			Created:   created[start],
			Completed: completed[start],
		})
	}

	if len(points) > maxThroughputPoints {
		points = points[len(points)-maxThroughputPoints:]
	}

	return points
}
