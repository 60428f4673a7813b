package dashboard

import (
	"net/url"
	"testing"
	"time"

	"github.com/nadmax/taskboard/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBucket(t *testing.T) {
	b, err := ParseBucket("")
	require.NoError(t, err)
	assert.Equal(t, BucketWeek, b)

	b, err = ParseBucket("month")
	require.NoError(t, err)
	assert.Equal(t, BucketMonth, b)

	_, err = ParseBucket("quarter")
	assert.Error(t, err)
}

func TestBucketTruncate(t *testing.T) {
	// Sunday evening in UTC-5 is Monday in UTC.
	est := time.FixedZone("EST", -5*3600)
	sunday := time.Date(2024, 1, 7, 21, 0, 0, 0, est)

	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), BucketDay.Truncate(sunday))
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), BucketWeek.Truncate(sunday))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), BucketMonth.Truncate(sunday))

	// Weeks start on Monday.
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		BucketWeek.Truncate(time.Date(2024, 1, 7, 23, 59, 0, 0, time.UTC)))
}

func TestThroughput_Weekly(t *testing.T) {
	completed := time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC)
	dates := []repository.TaskDates{
		{CreatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), CompletedAt: &completed},
		{CreatedAt: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)},
	}

	points := Throughput(dates, BucketWeek)
	require.Len(t, points, 3)
	assert.Equal(t, "2024-01-01", points[0].Period)
	assert.Equal(t, 2, points[0].Created)
	assert.Equal(t, ThroughputPoint{Period: "2024-01-08", Start: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)}, points[1])
	assert.Equal(t, 1, points[2].Completed)
}

func TestThroughput_Monthly(t *testing.T) {
	dates := []repository.TaskDates{
		{CreatedAt: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)},
		{CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	points := Throughput(dates, BucketMonth)
	require.Len(t, points, 3)
	assert.Equal(t, []string{"2024-01", "2024-02", "2024-03"}, []string{points[0].Period, points[1].Period, points[2].Period})
}

func TestThroughput_Empty(t *testing.T) {
	assert.Empty(t, Throughput(nil, BucketDay))
}

func TestThroughput_CapsLongSeries(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	dates := []repository.TaskDates{
		{CreatedAt: start},
		{CreatedAt: start.AddDate(0, 0, 2*maxThroughputPoints)},
	}

	points := Throughput(dates, BucketDay)
	assert.Len(t, points, maxThroughputPoints)
	assert.Equal(t, 1, points[len(points)-1].Created)
}

func TestParseFilter_DateBounds(t *testing.T) {
	f, err := ParseFilter(url.Values{"from": {"2024-01-01T08:00:00+02:00"}, "to": {"2024-01-31"}})
	require.NoError(t, err)

	require.NotNil(t, f.CreatedFrom)
	assert.Equal(t, time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC), *f.CreatedFrom)
	require.NotNil(t, f.CreatedTo)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), *f.CreatedTo)
}
