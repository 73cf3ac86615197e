package weather

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/agro-advisor/internal/models"
)

func f(v float64) *float64 { return &v }

func TestWindow(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	tests := []struct {
		name      string
		now       time.Time
		wantStart string
		wantEnd   string
	}{
		{"mid month", time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC), "2026-09-19", "2026-10-19"},
		{"crosses year", time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC), "2025-12-11", "2026-01-10"},
		{"local calendar ahead of utc", time.Date(2026, 10, 19, 20, 0, 0, 0, time.UTC).In(ist), "2026-09-20", "2026-10-20"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := Window(tt.now)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestSummarize_Mean(t *testing.T) {
	series := models.WeatherSeries{Days: []models.DailyWeather{
		{Date: "2026-10-17", MaxTemp: f(20), Rainfall: f(0)},
		{Date: "2026-10-18", MaxTemp: f(22), Rainfall: f(3)},
		{Date: "2026-10-19", MaxTemp: f(24), Rainfall: f(6)},
	}}
	got := Summarize(series)
	require.NotNil(t, got.AverageTemperature)
	require.NotNil(t, got.AverageRainfall)
	assert.Equal(t, 22.0, *got.AverageTemperature)
	assert.Equal(t, 3.0, *got.AverageRainfall)
	assert.Len(t, got.Series, 3)
}

func TestSummarize_OrderIndependent(t *testing.T) {
	a := Summarize(models.WeatherSeries{Days: []models.DailyWeather{{MaxTemp: f(24)}, {MaxTemp: f(20)}, {MaxTemp: f(22)}}})
	b := Summarize(models.WeatherSeries{Days: []models.DailyWeather{{MaxTemp: f(20)}, {MaxTemp: f(22)}, {MaxTemp: f(24)}}})
	require.NotNil(t, a.AverageTemperature)
	require.NotNil(t, b.AverageTemperature)
	assert.Equal(t, *a.AverageTemperature, *b.AverageTemperature)
}

func TestSummarize_EmptyIsAbsent(t *testing.T) {
	got := Summarize(models.WeatherSeries{})
	assert.Nil(t, got.AverageTemperature)
	assert.Nil(t, got.AverageRainfall)
	assert.False(t, got.Failed)
}

// TestSummarize_ZeroIsAReading verifies that zero rainfall is kept as a value
// and only null days are skipped.
func TestSummarize_ZeroIsAReading(t *testing.T) {
	got := Summarize(models.WeatherSeries{Days: []models.DailyWeather{
		{MaxTemp: f(30), Rainfall: f(0)},
		{MaxTemp: nil, Rainfall: f(0)},
	}})
	require.NotNil(t, got.AverageRainfall)
	assert.Equal(t, 0.0, *got.AverageRainfall)
	require.NotNil(t, got.AverageTemperature)
	assert.Equal(t, 30.0, *got.AverageTemperature)
}

func TestSummarize_AllNullIsAbsent(t *testing.T) {
	got := Summarize(models.WeatherSeries{Days: []models.DailyWeather{{Date: "2026-10-19"}}})
	assert.Nil(t, got.AverageTemperature)
	assert.Nil(t, got.AverageRainfall)
}

type stubSource struct {
	series     models.WeatherSeries
	err        error
	start, end string
}

func (s *stubSource) GetSeries(ctx context.Context, point models.GeoPoint, start, end string) (models.WeatherSeries, error) {
	s.start, s.end = start, end
	return s.series, s.err
}

func TestAggregator_Aggregate(t *testing.T) {
	point := models.GeoPoint{Latitude: 12.9716, Longitude: 77.5946}
	src := &stubSource{series: models.WeatherSeries{Days: []models.DailyWeather{
		{MaxTemp: f(28), Rainfall: f(2)},
		{MaxTemp: f(30), Rainfall: f(4)},
	}}}
	agg := NewAggregator(src, time.UTC, 0)
	agg.now = func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) }

	got := agg.Aggregate(context.Background(), point)
	assert.False(t, got.Failed)
	assert.Equal(t, point, got.Point)
	require.NotNil(t, got.AverageTemperature)
	assert.Equal(t, 29.0, *got.AverageTemperature)
	assert.Equal(t, "2026-09-19", src.start)
	assert.Equal(t, "2026-10-19", src.end)
}

func TestAggregator_Aggregate_FailureIsAbsent(t *testing.T) {
	agg := NewAggregator(&stubSource{err: errors.New("archive unreachable")}, time.UTC, 0)

	got := agg.Aggregate(context.Background(), models.GeoPoint{Latitude: 10, Longitude: 10})
	assert.True(t, got.Failed)
	assert.Contains(t, got.Error, "archive unreachable")
	assert.Nil(t, got.AverageTemperature)
	assert.Nil(t, got.AverageRainfall)
}

func TestAggregator_Aggregate_InvalidPoint(t *testing.T) {
	src := &stubSource{}
	got := NewAggregator(src, nil, 0).Aggregate(context.Background(), models.GeoPoint{Latitude: 91})
	assert.True(t, got.Failed)
	assert.Empty(t, src.end, "archive must not be queried for an invalid point")
}

func TestSequencer_NextCancelsSuperseded(t *testing.T) {
	var s Sequencer
	ctxA, a := s.Next(context.Background())
	ctxB, b := s.Next(context.Background())

	assert.Greater(t, b, a)
	assert.ErrorIs(t, ctxA.Err(), context.Canceled)
	assert.NoError(t, ctxB.Err())
	assert.Equal(t, b, s.Latest())
}

// TestSequencer_SupersededResultDropped runs the A-then-B race with A
// resolving last: the final value must be B's.
func TestSequencer_SupersededResultDropped(t *testing.T) {
	var s Sequencer
	var mu sync.Mutex
	var applied string

	_, a := s.Next(context.Background())
	_, b := s.Next(context.Background())

	okB := s.Apply(b, func() { mu.Lock(); applied = "B"; mu.Unlock() })
	okA := s.Apply(a, func() { mu.Lock(); applied = "A"; mu.Unlock() })

	assert.True(t, okB)
	assert.False(t, okA)
	assert.Equal(t, "B", applied)
}
