//go:build integration
// +build integration

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/agro-advisor/internal/models"
)

func memcachedAddr() string {
	if a := os.Getenv("MEMCACHED_ADDRS"); a != "" {
		return a
	}
	return "localhost:11211"
}

// TestMemcachedCache_GetSet_Integration stores and reads back a series when a
// memcached server is reachable.
func TestMemcachedCache_GetSet_Integration(t *testing.T) {
	c, err := NewMemcachedCache(memcachedAddr(), 500*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	defer c.Close()
	if err := c.Ping(); err != nil {
		t.Skipf("memcached not reachable: %v", err)
	}

	ctx := context.Background()
	max := 24.5
	val := models.WeatherSeries{End: "2026-10-19", Days: []models.DailyWeather{{Date: "2026-10-19", MaxTemp: &max}}}
	key := SeriesKey(models.GeoPoint{Latitude: 12.9716, Longitude: 77.5946}, "2026-10-19")
	if err := c.Set(ctx, key, val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v", ok, err)
	}
	if len(got.Days) != 1 || got.Days[0].MaxTemp == nil || *got.Days[0].MaxTemp != max {
		t.Errorf("Get() = %+v", got)
	}
}

func TestMemcachedCache_Miss_Integration(t *testing.T) {
	c, err := NewMemcachedCache(memcachedAddr(), 500*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	defer c.Close()
	if err := c.Ping(); err != nil {
		t.Skipf("memcached not reachable: %v", err)
	}
	_, ok, err := c.Get(context.Background(), "definitely-missing")
	if err != nil || ok {
		t.Errorf("Get() = ok %v, err %v; want miss", ok, err)
	}
}
