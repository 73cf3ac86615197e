package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/agro-advisor/internal/observability"
)

// RouterConfig holds cross-cutting middleware settings.
type RouterConfig struct {
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewRouter wires every route. /sessions and /disease are rate limited and
// carry a request timeout; /health and /metrics are not.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	limited := func(next http.HandlerFunc) http.Handler {
		return RateLimitMiddleware(cfg.Limiter)(TimeoutMiddleware(cfg.RequestTimeout)(next))
	}
	router.Handle("/disease", limited(h.PostDisease)).Methods(http.MethodPost)

	sessions := router.PathPrefix("/sessions").Subrouter()
	sessions.Use(RateLimitMiddleware(cfg.Limiter))
	sessions.Use(TimeoutMiddleware(cfg.RequestTimeout))
	sessions.HandleFunc("", h.CreateSession).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}", h.GetSession).Methods(http.MethodGet)
	sessions.HandleFunc("/{id}", h.DeleteSession).Methods(http.MethodDelete)
	sessions.HandleFunc("/{id}/location/device", h.PostDeviceLocation).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/location", h.PutLocation).Methods(http.MethodPut)
	sessions.HandleFunc("/{id}/location", h.DeleteLocation).Methods(http.MethodDelete)
	sessions.HandleFunc("/{id}/weather", h.GetWeather).Methods(http.MethodGet)
	sessions.HandleFunc("/{id}/plot", h.PutPlot).Methods(http.MethodPut)
	sessions.HandleFunc("/{id}/plot", h.PatchPlot).Methods(http.MethodPatch)
	sessions.HandleFunc("/{id}/plot", h.DeletePlot).Methods(http.MethodDelete)
	sessions.HandleFunc("/{id}/nutrients", h.PutNutrients).Methods(http.MethodPut)
	sessions.HandleFunc("/{id}/filters", h.PutFilters).Methods(http.MethodPut)
	sessions.HandleFunc("/{id}/recommendations", h.PostRecommendations).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/recommendations", h.GetRecommendations).Methods(http.MethodGet)
	return router
}
