package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/agro-advisor/internal/models"
)

const keyPrefix = "agro:series:"

// maxRelativeExp is memcached's limit for relative expirations (30 days).
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedCache implements Cache on memcached.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211").
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		return nil, errors.New("memcached: no server addresses")
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// memcached keys may not contain spaces or control characters and are capped
// at 250 bytes; SeriesKey output is well within both.
func (c *MemcachedCache) key(k string) string {
	return keyPrefix + k
}

// Get implements Cache.Get.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.WeatherSeries, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.WeatherSeries{}, false, err
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.WeatherSeries{}, false, nil
		}
		return models.WeatherSeries{}, false, err
	}
	var series models.WeatherSeries
	if err := json.Unmarshal(item.Value, &series); err != nil {
		return models.WeatherSeries{}, false, err
	}
	return series, true, nil
}

// Set implements Cache.Set. TTLs outside (0, 30d] fall back to one hour.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.WeatherSeries, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expirationSeconds(ttl),
	})
}

func expirationSeconds(ttl time.Duration) int32 {
	sec := int64(ttl / time.Second)
	if sec <= 0 || sec > maxRelativeExp {
		return 3600
	}
	return int32(sec)
}

// Ping checks that memcached is reachable. Used by /health.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close releases idle connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
