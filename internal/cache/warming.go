package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/agro-advisor/internal/models"
)

// Prefetcher loads the current weather window for a point into the cache.
// Implemented by the service layer.
type Prefetcher interface {
	Prefetch(ctx context.Context, point models.GeoPoint) error
}

// Warmer prefetches series for well-known points (the fallback point and any
// configured ones) so new sessions see weather without waiting on the archive.
type Warmer struct {
	fetcher Prefetcher
	logger  *zap.Logger
}

// NewWarmer creates a Warmer. logger may be nil.
func NewWarmer(fetcher Prefetcher, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{fetcher: fetcher, logger: logger}
}

// Warm prefetches every point concurrently and returns the joined errors.
func (w *Warmer) Warm(ctx context.Context, points []models.GeoPoint) error {
	start := time.Now()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, p := range points {
		wg.Add(1)
		go func(p models.GeoPoint) {
			defer wg.Done()
			if err := w.fetcher.Prefetch(ctx, p); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %.4f,%.4f: %w", p.Latitude, p.Longitude, err))
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	w.logger.Info("weather cache warmed",
		zap.Int("points", len(points)),
		zap.Int("errors", len(errs)),
		zap.Duration("duration", time.Since(start)))
	return errors.Join(errs...)
}
