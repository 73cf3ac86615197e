package cache

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kjstillabower/agro-advisor/internal/models"
)

// Cache stores fetched weather series. Get reports a miss as (zero, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) (models.WeatherSeries, bool, error)
	Set(ctx context.Context, key string, value models.WeatherSeries, ttl time.Duration) error
}

// SeriesKey builds the cache key for a point and window end date. Coordinates
// are rounded to 4 decimal places (about 11 m), well inside one archive grid cell.
func SeriesKey(point models.GeoPoint, end string) string {
	return fmt.Sprintf("%.4f,%.4f@%s", round4(point.Latitude), round4(point.Longitude), end)
}

func round4(v float64) float64 {
	r := math.Round(v*1e4) / 1e4
	if r == 0 {
		return 0 // collapse -0
	}
	return r
}

// InMemoryCache is a map-backed Cache with TTL expiry. Safe for concurrent use;
// sessions share it.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     models.WeatherSeries
	expiresAt time.Time
}

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// Get returns the entry for key unless it is missing or expired. Expired
// entries are removed.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.WeatherSeries, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok {
		return models.WeatherSeries{}, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return models.WeatherSeries{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key for ttl.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.WeatherSeries, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
