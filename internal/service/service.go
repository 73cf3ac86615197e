package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/agro-advisor/internal/cache"
	"github.com/kjstillabower/agro-advisor/internal/models"
	"github.com/kjstillabower/agro-advisor/internal/observability"
)

// SeriesFetcher fetches a daily series from the weather archive.
type SeriesFetcher interface {
	GetDailySeries(ctx context.Context, point models.GeoPoint, start, end string) (models.WeatherSeries, error)
}

// WeatherService serves archive series cache-aside, with optional coalescing
// of identical concurrent lookups.
type WeatherService struct {
	fetcher   SeriesFetcher
	cache     cache.Cache
	ttl       time.Duration
	coalescer *requestCoalescer
}

// NewWeatherService wires the archive fetcher to cache c. ttl is the cache
// lifetime of a fetched series.
func NewWeatherService(fetcher SeriesFetcher, c cache.Cache, ttl time.Duration, coalesce bool) *WeatherService {
	s := &WeatherService{
		fetcher: fetcher,
		cache:   c,
		ttl:     ttl,
	}
	if coalesce {
		s.coalescer = newRequestCoalescer()
	}
	return s
}

// GetSeries returns the daily series for point over [start, end]. Cache errors
// are logged and treated as misses; only successful fetches are cached.
func (s *WeatherService) GetSeries(ctx context.Context, point models.GeoPoint, start, end string) (models.WeatherSeries, error) {
	logger := observability.LoggerFromContext(ctx, nil)
	key := cache.SeriesKey(point, end)
	started := time.Now()

	cached, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("weather cache get failed", zap.String("key", key), zap.Error(err))
	case ok && cached.Start == start:
		observability.CacheHitsTotal.Inc()
		logger.Debug("weather cache hit", zap.String("key", key))
		return cached, nil
	}
	observability.CacheMissesTotal.Inc()

	fetch := func(ctx context.Context) (models.WeatherSeries, error) {
		return s.fetcher.GetDailySeries(ctx, point, start, end)
	}
	var series models.WeatherSeries
	if s.coalescer != nil {
		var shared bool
		series, shared, err = s.coalescer.Do(ctx, key, fetch)
		if shared {
			observability.CoalescedLookupsTotal.Inc()
		}
	} else {
		series, err = fetch(ctx)
	}
	if err != nil {
		return models.WeatherSeries{}, fmt.Errorf("fetch weather series %s: %w", key, err)
	}

	if err := s.cache.Set(ctx, key, series, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		logger.Warn("weather cache set failed", zap.String("key", key), zap.Error(err))
	}
	logger.Debug("weather series fetched",
		zap.String("key", key),
		zap.Int("days", len(series.Days)),
		zap.Duration("duration", time.Since(started)))
	return series, nil
}
