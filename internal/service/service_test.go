package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/agro-advisor/internal/cache"
	"github.com/kjstillabower/agro-advisor/internal/models"
)

type mockFetcher struct {
	mu     sync.Mutex
	series models.WeatherSeries
	err    error
	calls  int
}

func (m *mockFetcher) GetDailySeries(ctx context.Context, point models.GeoPoint, start, end string) (models.WeatherSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return models.WeatherSeries{}, m.err
	}
	s := m.series
	s.Point, s.Start, s.End = point, start, end
	return s, nil
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type errCache struct{ err error }

func (c errCache) Get(ctx context.Context, key string) (models.WeatherSeries, bool, error) {
	return models.WeatherSeries{}, false, c.err
}

func (c errCache) Set(ctx context.Context, key string, value models.WeatherSeries, ttl time.Duration) error {
	return c.err
}

var bengaluru = models.GeoPoint{Latitude: 12.9716, Longitude: 77.5946}

func float(v float64) *float64 { return &v }

// TestWeatherService_GetSeries_CacheHit verifies that a cached series is
// returned without calling the archive.
func TestWeatherService_GetSeries_CacheHit(t *testing.T) {
	ctx := context.Background()
	c := cache.NewInMemoryCache()
	cached := models.WeatherSeries{
		Point: bengaluru, Start: "2026-09-19", End: "2026-10-19",
		Days: []models.DailyWeather{{Date: "2026-10-19", MaxTemp: float(30)}},
	}
	if err := c.Set(ctx, cache.SeriesKey(bengaluru, "2026-10-19"), cached, time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	fetcher := &mockFetcher{}
	svc := NewWeatherService(fetcher, c, time.Hour, false)

	got, err := svc.GetSeries(ctx, bengaluru, "2026-09-19", "2026-10-19")
	if err != nil {
		t.Fatalf("GetSeries() error = %v", err)
	}
	if len(got.Days) != 1 {
		t.Errorf("GetSeries() days = %d, want 1", len(got.Days))
	}
	if n := fetcher.callCount(); n != 0 {
		t.Errorf("fetcher calls = %d, want 0", n)
	}
}

// TestWeatherService_GetSeries_CacheMiss verifies that a miss fetches from the
// archive and populates the cache.
func TestWeatherService_GetSeries_CacheMiss(t *testing.T) {
	ctx := context.Background()
	c := cache.NewInMemoryCache()
	fetcher := &mockFetcher{series: models.WeatherSeries{Days: []models.DailyWeather{{Date: "2026-10-19"}}}}
	svc := NewWeatherService(fetcher, c, time.Hour, false)

	if _, err := svc.GetSeries(ctx, bengaluru, "2026-09-19", "2026-10-19"); err != nil {
		t.Fatalf("GetSeries() error = %v", err)
	}
	if _, ok, _ := c.Get(ctx, cache.SeriesKey(bengaluru, "2026-10-19")); !ok {
		t.Error("cache was not populated after fetch")
	}

	// Second lookup for a nearby point that rounds to the same key is a hit.
	nearby := models.GeoPoint{Latitude: 12.97161, Longitude: 77.59459}
	if _, err := svc.GetSeries(ctx, nearby, "2026-09-19", "2026-10-19"); err != nil {
		t.Fatalf("GetSeries() error = %v", err)
	}
	if n := fetcher.callCount(); n != 1 {
		t.Errorf("fetcher calls = %d, want 1", n)
	}
}

func TestWeatherService_GetSeries_UpstreamFailureNotCached(t *testing.T) {
	ctx := context.Background()
	c := cache.NewInMemoryCache()
	wantErr := errors.New("archive down")
	svc := NewWeatherService(&mockFetcher{err: wantErr}, c, time.Hour, false)

	_, err := svc.GetSeries(ctx, bengaluru, "2026-09-19", "2026-10-19")
	if !errors.Is(err, wantErr) {
		t.Fatalf("GetSeries() error = %v, want %v", err, wantErr)
	}
	if c.Len() != 0 {
		t.Errorf("cache len = %d, want 0 after failure", c.Len())
	}
}

// TestWeatherService_GetSeries_CacheErrorFallsThrough verifies that cache
// failures never block an archive fetch.
func TestWeatherService_GetSeries_CacheErrorFallsThrough(t *testing.T) {
	fetcher := &mockFetcher{series: models.WeatherSeries{Days: []models.DailyWeather{{Date: "2026-10-19"}}}}
	svc := NewWeatherService(fetcher, errCache{err: errors.New("memcached unreachable")}, time.Hour, true)

	got, err := svc.GetSeries(context.Background(), bengaluru, "2026-09-19", "2026-10-19")
	if err != nil {
		t.Fatalf("GetSeries() error = %v", err)
	}
	if len(got.Days) != 1 {
		t.Errorf("GetSeries() days = %d, want 1", len(got.Days))
	}
}

// TestWeatherService_GetSeries_StartMismatchRefetches verifies that a cached
// series for a different window start is not reused.
func TestWeatherService_GetSeries_StartMismatchRefetches(t *testing.T) {
	ctx := context.Background()
	c := cache.NewInMemoryCache()
	_ = c.Set(ctx, cache.SeriesKey(bengaluru, "2026-10-19"), models.WeatherSeries{Start: "2026-10-01", End: "2026-10-19"}, time.Hour)
	fetcher := &mockFetcher{}
	svc := NewWeatherService(fetcher, c, time.Hour, false)

	got, err := svc.GetSeries(ctx, bengaluru, "2026-09-19", "2026-10-19")
	if err != nil {
		t.Fatalf("GetSeries() error = %v", err)
	}
	if got.Start != "2026-09-19" {
		t.Errorf("GetSeries() start = %q, want 2026-09-19", got.Start)
	}
	if n := fetcher.callCount(); n != 1 {
		t.Errorf("fetcher calls = %d, want 1", n)
	}
}
