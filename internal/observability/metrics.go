package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/agro-advisor/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency. Watch for: p95/p99 increases on /sessions/{id}/recommendations.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream calls per upstream (weather_archive, prediction, disease) and status.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency. Watch for: archive p95 > 2s, prediction p99 near timeout.
	UpstreamDuration *prometheus.HistogramVec

	// Upstream errors by category (client.CategorizeError).
	UpstreamErrorsTotal *prometheus.CounterVec

	// Weather series cache hits and misses.
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// Cache backend errors by operation (get, set).
	CacheErrorsTotal *prometheus.CounterVec

	// Lookups that joined an identical in-flight archive fetch.
	CoalescedLookupsTotal prometheus.Counter

	// Weather results discarded because a newer location change superseded them.
	StaleWeatherDroppedTotal prometheus.Counter

	// Weather aggregations by outcome (ok, absent, failed).
	WeatherAggregationsTotal *prometheus.CounterVec

	// Recommendation submissions by outcome (success, empty, error, invalid, busy, discarded).
	RecommendationOutcomesTotal *prometheus.CounterVec

	// Device geolocation failures. Non-fatal; point stays at its previous value.
	GeolocationFailuresTotal prometheus.Counter

	// Live sessions.
	ActiveSessions prometheus.Gauge

	// Rate limit denials.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state per upstream: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per upstream.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// In-flight requests still running when shutdown drain began.
	ShutdownInFlight prometheus.Gauge

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of upstream API calls",
		},
		[]string{"upstream", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Upstream API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"upstream", "status"},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamErrorsTotal",
			Help: "Upstream errors by category",
		},
		[]string{"upstream", "category"},
	)
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherCacheHitsTotal",
			Help: "Weather series cache hits",
		},
	)
	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherCacheMissesTotal",
			Help: "Weather series cache misses",
		},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherCacheErrorsTotal",
			Help: "Weather series cache backend errors",
		},
		[]string{"operation"},
	)
	CoalescedLookupsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherCoalescedLookupsTotal",
			Help: "Weather lookups served by an identical in-flight archive fetch",
		},
	)
	StaleWeatherDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "staleWeatherDroppedTotal",
			Help: "Weather results discarded because a newer location superseded them",
		},
	)
	WeatherAggregationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherAggregationsTotal",
			Help: "Weather aggregations by outcome",
		},
		[]string{"outcome"},
	)
	RecommendationOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendationOutcomesTotal",
			Help: "Recommendation submissions by outcome",
		},
		[]string{"outcome"},
	)
	GeolocationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "geolocationFailuresTotal",
			Help: "Device geolocation failures reported by clients",
		},
	)
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "activeSessions",
			Help: "Number of live sessions",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"upstream"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"upstream", "from", "to"},
	)
	ShutdownInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "In-flight requests when shutdown drain began",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamErrorsTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CoalescedLookupsTotal,
		StaleWeatherDroppedTotal, WeatherAggregationsTotal,
		RecommendationOutcomesTotal, GeolocationFailuresTotal, ActiveSessions,
		RateLimitDeniedTotal, CircuitBreakerState, CircuitBreakerTransitionsTotal,
		ShutdownInFlight,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited paths.
// Call from main after config load with cfg.OverloadWindow.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited paths in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// RecordCircuitBreakerTransition counts a transition and updates the state gauge.
func RecordCircuitBreakerTransition(upstream, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(upstream, from, to).Inc()
	CircuitBreakerState.WithLabelValues(upstream).Set(float64(toValue))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
