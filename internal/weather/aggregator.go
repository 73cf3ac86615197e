package weather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/agro-advisor/internal/models"
	"github.com/kjstillabower/agro-advisor/internal/observability"
)

// SeriesSource returns the daily series for a point and date window.
// Implemented by service.WeatherService.
type SeriesSource interface {
	GetSeries(ctx context.Context, point models.GeoPoint, start, end string) (models.WeatherSeries, error)
}

// Aggregator turns a point into a WeatherSummary over the trailing window.
type Aggregator struct {
	source   SeriesSource
	location *time.Location
	days     int
	now      func() time.Time
}

// NewAggregator creates an Aggregator. loc is the calendar used for "today"
// (nil means time.Local); days <= 0 means DefaultWindowDays.
func NewAggregator(source SeriesSource, loc *time.Location, days int) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	if days <= 0 {
		days = DefaultWindowDays
	}
	return &Aggregator{source: source, location: loc, days: days, now: time.Now}
}

// Aggregate fetches and summarizes the window for point. It never returns an
// error: a failed fetch yields a summary with both averages absent, Failed set
// and the error text.
func (a *Aggregator) Aggregate(ctx context.Context, point models.GeoPoint) models.WeatherSummary {
	logger := observability.LoggerFromContext(ctx, nil)

	if err := point.Validate(); err != nil {
		observability.WeatherAggregationsTotal.WithLabelValues("failed").Inc()
		return failed(point, err)
	}

	start, end := WindowOf(a.now().In(a.location), a.days)
	series, err := a.source.GetSeries(ctx, point, start, end)
	if err != nil {
		observability.WeatherAggregationsTotal.WithLabelValues("failed").Inc()
		log := logger.Warn
		if errors.Is(err, context.Canceled) {
			log = logger.Debug
		}
		log("weather aggregation failed",
			zap.Float64("latitude", point.Latitude),
			zap.Float64("longitude", point.Longitude),
			zap.Error(err))
		return failed(point, err)
	}

	summary := Summarize(series)
	summary.Point = point
	outcome := "ok"
	if summary.AverageTemperature == nil || summary.AverageRainfall == nil {
		outcome = "absent"
	}
	observability.WeatherAggregationsTotal.WithLabelValues(outcome).Inc()
	return summary
}

// Prefetch loads the current window for point into the series cache.
func (a *Aggregator) Prefetch(ctx context.Context, point models.GeoPoint) error {
	start, end := WindowOf(a.now().In(a.location), a.days)
	if _, err := a.source.GetSeries(ctx, point, start, end); err != nil {
		return fmt.Errorf("prefetch weather: %w", err)
	}
	return nil
}

func failed(point models.GeoPoint, err error) models.WeatherSummary {
	return models.WeatherSummary{
		Point:  point,
		Failed: true,
		Error:  err.Error(),
	}
}
