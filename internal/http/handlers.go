package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/agro-advisor/internal/models"
	"github.com/kjstillabower/agro-advisor/internal/observability"
	"github.com/kjstillabower/agro-advisor/internal/session"
	"github.com/kjstillabower/agro-advisor/internal/traffic"
	"github.com/kjstillabower/agro-advisor/internal/validation"
)

// DefaultMaxUploadBytes limits disease image uploads.
const DefaultMaxUploadBytes = 5 << 20

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	Version              string
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// DiseaseClassifier classifies a leaf image.
type DiseaseClassifier interface {
	Predict(ctx context.Context, filename string, image io.Reader) (models.DiseasePrediction, error)
}

// Options configure a Handler.
type Options struct {
	Health            *HealthConfig
	MaxPlotNameLength int
	MaxUploadBytes    int64
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	sessions          *session.Store
	disease           DiseaseClassifier
	healthConfig      *HealthConfig
	logger            *zap.Logger
	maxPlotNameLength int
	maxUploadBytes    int64
	draining          atomic.Bool
	healthStatusMu    sync.Mutex
	healthStatusPrev  string
}

// NewHandler returns a new Handler. disease may be nil, in which case the
// disease endpoint reports 503.
func NewHandler(sessions *session.Store, disease DiseaseClassifier, logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		sessions:          sessions,
		disease:           disease,
		healthConfig:      opts.Health,
		logger:            logger,
		maxPlotNameLength: opts.MaxPlotNameLength,
		maxUploadBytes:    opts.MaxUploadBytes,
	}
	if h.maxPlotNameLength <= 0 {
		h.maxPlotNameLength = validation.DefaultMaxPlotNameLength
	}
	if h.maxUploadBytes <= 0 {
		h.maxUploadBytes = DefaultMaxUploadBytes
	}
	return h
}

// SetDraining marks the service as shutting down; /health then reports 503.
func (h *Handler) SetDraining(v bool) {
	h.draining.Store(v)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"predictionApi": "healthy"}
	if result.reason == "error_rate_breach" {
		checks["predictionApi"] = "unhealthy"
	}
	version := "dev"
	if h.healthConfig != nil {
		if h.healthConfig.CachePing != nil {
			checks["cache"] = "healthy"
			if h.healthConfig.CachePing() != nil {
				checks["cache"] = "unhealthy"
			}
		}
		if h.healthConfig.Version != "" {
			version = h.healthConfig.Version
		}
	}
	writeJSON(w, result.statusCode, map[string]any{
		"status":         result.status,
		"service":        "agro-advisor",
		"version":        version,
		"checks":         checks,
		"activeSessions": h.sessions.Len(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.draining.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	// Overloaded: rate-limit denials in the window exceed the configured share of capacity.
	if h.healthConfig.RateLimitRPS > 0 && h.healthConfig.OverloadWindow > 0 {
		threshold := float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
		if float64(traffic.DenialCount(h.healthConfig.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	// Degraded: prediction failures in the window reach the configured error rate.
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(h.healthConfig.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// errorBody is the standard error envelope payload.
type errorBody struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	RequestID  string                 `json:"requestId"`
	Violations []validation.Violation `json:"violations,omitempty"`
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error":{code,message,requestId}} with the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{
		"error": {Code: code, Message: message, RequestID: observability.CorrelationIDFromContext(r.Context())},
	})
}

// writeViolations writes a 422 listing every input violation.
func writeViolations(w http.ResponseWriter, r *http.Request, message string, violations []validation.Violation) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]errorBody{
		"error": {
			Code:       "INVALID_INPUT",
			Message:    message,
			RequestID:  observability.CorrelationIDFromContext(r.Context()),
			Violations: violations,
		},
	})
}

const maxJSONBody = 1 << 20

// decodeJSON decodes a bounded JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		observability.LoggerFromContext(r.Context(), nil).Debug("invalid request body", zap.Error(err))
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "Request body must be valid JSON")
		return false
	}
	return true
}
