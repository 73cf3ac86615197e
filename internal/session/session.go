// Package session owns the per-browser pipeline state: location, plot,
// nutrients, filters, weather summary and recommendation view.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/kjstillabower/agro-advisor/internal/client"
	"github.com/kjstillabower/agro-advisor/internal/geometry"
	"github.com/kjstillabower/agro-advisor/internal/location"
	"github.com/kjstillabower/agro-advisor/internal/models"
	"github.com/kjstillabower/agro-advisor/internal/observability"
	"github.com/kjstillabower/agro-advisor/internal/recommend"
	"github.com/kjstillabower/agro-advisor/internal/validation"
	"github.com/kjstillabower/agro-advisor/internal/weather"
)

var (
	// ErrSubmissionInFlight is returned when a submission is already outstanding.
	ErrSubmissionInFlight = errors.New("a recommendation request is already in progress")
	// ErrInputsChanged is returned when the plot or nutrients changed while a
	// submission was outstanding; its result was discarded.
	ErrInputsChanged = errors.New("inputs changed during submission; result discarded")
)

const (
	msgServiceUnavailable = "The recommendation service is unavailable. Please try again."
	msgNoRecommendations  = "No recommendations for these inputs."
)

// Aggregator produces a weather summary for a point. It never fails; see
// weather.Aggregator.
type Aggregator interface {
	Aggregate(ctx context.Context, point models.GeoPoint) models.WeatherSummary
}

// Predictor calls the prediction service.
type Predictor interface {
	Predict(ctx context.Context, req models.RecommendationRequest) (models.PredictionResponse, error)
}

// Options configure a Session.
type Options struct {
	DefaultPoint      models.GeoPoint
	MaxPlotNameLength int
	Logger            *zap.Logger
}

// Snapshot is a copy of the whole session state for rendering.
type Snapshot struct {
	ID              string                    `json:"id"`
	Location        models.GeoPoint           `json:"location"`
	LocationPicked  bool                      `json:"locationPicked"`
	Plot            *models.Plot              `json:"plot"`
	Nutrients       *models.NutrientProfile   `json:"nutrients"`
	Filters         models.Filters            `json:"filters"`
	Weather         models.WeatherSummary     `json:"weather"`
	WeatherPending  bool                      `json:"weatherPending"`
	Recommendations models.RecommendationView `json:"recommendations"`
	Submitting      bool                      `json:"submitting"`
}

// Session is the session-scoped context object. Each piece of state has one
// writer: the resolver owns the point, the geometry store owns the plot, and
// the session owns nutrients, filters, weather and the recommendation view.
// Network calls happen outside the session lock.
type Session struct {
	ID string

	resolver   *location.Resolver
	plots      *geometry.Store
	aggregator Aggregator
	predictor  Predictor
	builder    recommend.Builder
	seq        weather.Sequencer
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	submitting atomic.Bool
	lastAccess atomic.Int64

	mu        sync.Mutex
	nutrients *models.NutrientProfile
	filters   models.Filters
	weather   models.WeatherSummary
	view      models.RecommendationView
	revision  uint64
	pending   int
	idle      chan struct{}
}

// New creates a session at opts.DefaultPoint and starts aggregating weather
// for it.
func New(id string, aggregator Aggregator, predictor Predictor, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:         id,
		aggregator: aggregator,
		predictor:  predictor,
		builder:    recommend.Builder{Validator: validation.Validator{MaxPlotNameLength: opts.MaxPlotNameLength}},
		logger:     logger.With(zap.String("session_id", id)),
		ctx:        ctx,
		cancel:     cancel,
		view:       models.RecommendationView{State: models.ViewIdle, UpdatedAt: time.Now()},
	}
	s.ctx = observability.WithLogger(s.ctx, s.logger)
	s.resolver = location.NewResolver(opts.DefaultPoint)
	s.resolver.Subscribe(s.refreshWeather)
	s.plots = geometry.NewStore(s.invalidate)
	s.touch()

	s.refreshWeather(opts.DefaultPoint)
	return s
}

// Close cancels any outstanding weather fetch.
func (s *Session) Close() {
	s.cancel()
}

// LocateDevice applies a device fix unless an explicit pick is in effect.
func (s *Session) LocateDevice(ctx context.Context, device location.DeviceLocator) (models.GeoPoint, error) {
	return s.resolver.Locate(ctx, device)
}

// PickLocation applies an explicit map pick.
func (s *Session) PickLocation(p models.GeoPoint) error {
	return s.resolver.Pick(p)
}

// ResetLocation returns to the default point.
func (s *Session) ResetLocation() models.GeoPoint {
	return s.resolver.Reset()
}

// DrawPlot replaces the plot geometry and invalidates any shown result.
func (s *Session) DrawPlot(ring orb.Ring) models.Plot {
	return s.plots.Draw(ring)
}

// RenamePlot names the active plot.
func (s *Session) RenamePlot(name string) (models.Plot, error) {
	return s.plots.Rename(name)
}

// ClearPlot removes the active plot.
func (s *Session) ClearPlot() bool {
	return s.plots.Clear()
}

// SetNutrients replaces the nutrient profile and invalidates any shown result.
func (s *Session) SetNutrients(n models.NutrientProfile) {
	s.mu.Lock()
	s.nutrients = &n
	s.mu.Unlock()
	s.invalidate()
}

// SetFilters replaces the categorical filters.
func (s *Session) SetFilters(f models.Filters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = f
}

// Weather returns the current weather summary.
func (s *Session) Weather() models.WeatherSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weather
}

// Recommendations returns the recommendation view.
func (s *Session) Recommendations() models.RecommendationView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyView(s.view)
}

// Snapshot returns a copy of the whole session state.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:             s.ID,
		Location:       s.resolver.Current(),
		LocationPicked: s.resolver.Picked(),
		Submitting:     s.submitting.Load(),
	}
	if plot, ok := s.plots.Plot(); ok {
		snap.Plot = &plot
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nutrients != nil {
		n := *s.nutrients
		snap.Nutrients = &n
	}
	snap.Filters = s.filters
	snap.Weather = s.weather
	snap.WeatherPending = s.pending > 0
	snap.Recommendations = copyView(s.view)
	return snap
}

// WaitWeather blocks until no weather fetch is outstanding.
func (s *Session) WaitWeather(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.pending == 0 {
			s.mu.Unlock()
			return nil
		}
		idle := s.idle
		s.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Submit validates the inputs, calls the prediction service and applies the
// scored result. Only one submission may be outstanding per session. The
// returned view is the state after the call; err explains any non-success.
func (s *Session) Submit(ctx context.Context) (models.RecommendationView, error) {
	if !s.submitting.CompareAndSwap(false, true) {
		return s.Recommendations(), ErrSubmissionInFlight
	}
	defer s.submitting.Store(false)
	s.touch()
	logger := observability.LoggerFromContext(ctx, s.logger)

	s.mu.Lock()
	var plot *models.Plot
	if p, ok := s.plots.Plot(); ok {
		plot = &p
	}
	weatherSummary := s.weather
	req, err := s.builder.Build(plot, s.nutrients, &weatherSummary, s.filters)
	if err != nil {
		view := copyView(s.view)
		s.mu.Unlock()
		observability.RecommendationOutcomesTotal.WithLabelValues("invalid").Inc()
		return view, err
	}
	revision := s.revision
	s.view = models.RecommendationView{State: models.ViewLoading, UpdatedAt: time.Now()}
	s.mu.Unlock()

	resp, err := s.predictor.Predict(ctx, req)
	var result recommend.Result
	if err == nil {
		result, err = recommend.Score(resp)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revision != revision {
		observability.RecommendationOutcomesTotal.WithLabelValues("discarded").Inc()
		logger.Debug("recommendation result discarded, inputs changed during submission")
		return copyView(s.view), ErrInputsChanged
	}

	now := time.Now()
	switch {
	case err != nil:
		observability.RecommendationOutcomesTotal.WithLabelValues("error").Inc()
		logger.Warn("recommendation request failed", zap.Error(err))
		s.view = models.RecommendationView{State: models.ViewError, Message: failureMessage(err), UpdatedAt: now}
		return copyView(s.view), fmt.Errorf("submit recommendation: %w", err)
	case result.Empty:
		observability.RecommendationOutcomesTotal.WithLabelValues("empty").Inc()
		s.view = models.RecommendationView{State: models.ViewEmpty, Message: msgNoRecommendations, UpdatedAt: now}
	default:
		observability.RecommendationOutcomesTotal.WithLabelValues("success").Inc()
		confidence := result.ModelConfidence
		s.view = models.RecommendationView{
			State:           models.ViewSuccess,
			Recommendations: result.Recommendations,
			ModelConfidence: &confidence,
			UpdatedAt:       now,
		}
	}
	return copyView(s.view), nil
}

// refreshWeather aggregates weather for p in the background. Only the newest
// request's result is applied; superseded fetches are cancelled and their
// late results dropped.
func (s *Session) refreshWeather(p models.GeoPoint) {
	ctx, ticket := s.seq.Next(s.ctx)

	s.mu.Lock()
	if s.pending == 0 {
		s.idle = make(chan struct{})
	}
	s.pending++
	s.mu.Unlock()

	go func() {
		defer s.fetchDone()
		summary := s.aggregator.Aggregate(ctx, p)
		applied := s.seq.Apply(ticket, func() {
			s.mu.Lock()
			s.weather = summary
			s.mu.Unlock()
		})
		if !applied {
			observability.StaleWeatherDroppedTotal.Inc()
			s.logger.Debug("stale weather result dropped",
				zap.Uint64("ticket", uint64(ticket)),
				zap.Float64("latitude", p.Latitude),
				zap.Float64("longitude", p.Longitude))
		}
	}()
}

func (s *Session) fetchDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending--
	if s.pending == 0 {
		close(s.idle)
	}
}

// invalidate returns the view to idle after a plot or nutrient change.
func (s *Session) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revision++
	s.view = models.RecommendationView{State: models.ViewIdle, UpdatedAt: time.Now()}
}

func (s *Session) touch() {
	s.lastAccess.Store(time.Now().UnixNano())
}

// LastAccess returns when the session was last used.
func (s *Session) LastAccess() time.Time {
	return time.Unix(0, s.lastAccess.Load())
}

func copyView(v models.RecommendationView) models.RecommendationView {
	v.Recommendations = append([]models.Recommendation(nil), v.Recommendations...)
	if v.ModelConfidence != nil {
		c := *v.ModelConfidence
		v.ModelConfidence = &c
	}
	return v
}

// failureMessage is the user-facing text for a failed submission: the
// service's own message when it sent one, else a generic retry hint.
func failureMessage(err error) string {
	var reported *recommend.ServiceError
	if errors.As(err, &reported) {
		return reported.Message
	}
	var svcErr *client.ServiceError
	if errors.As(err, &svcErr) && svcErr.Message != "" {
		return svcErr.Message
	}
	return msgServiceUnavailable
}
