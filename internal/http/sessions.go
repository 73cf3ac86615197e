package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/kjstillabower/agro-advisor/internal/geometry"
	"github.com/kjstillabower/agro-advisor/internal/location"
	"github.com/kjstillabower/agro-advisor/internal/models"
	"github.com/kjstillabower/agro-advisor/internal/observability"
	"github.com/kjstillabower/agro-advisor/internal/recommend"
	"github.com/kjstillabower/agro-advisor/internal/session"
	"github.com/kjstillabower/agro-advisor/internal/traffic"
	"github.com/kjstillabower/agro-advisor/internal/validation"
)

// CreateSession handles POST /sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create()
	w.Header().Set("Location", "/sessions/"+s.ID)
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

// sessionFrom resolves {id}, writing a 404 when it is unknown.
func (h *Handler) sessionFrom(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found or expired")
		return nil, false
	}
	return s, true
}

// waitRequested waits for outstanding weather when ?wait=true. A timeout is
// not an error; the response then shows the fetch as pending.
func waitRequested(r *http.Request, s *session.Session) {
	if r.URL.Query().Get("wait") == "true" {
		_ = s.WaitWeather(r.Context())
	}
}

// GetSession handles GET /sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	waitRequested(r, s)
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// DeleteSession handles DELETE /sessions/{id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Delete(mux.Vars(r)["id"]) {
		writeError(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found or expired")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type locationResponse struct {
	Location models.GeoPoint `json:"location"`
	Picked   bool            `json:"picked"`
	Warning  string          `json:"warning,omitempty"`
}

// deviceFix is a browser-reported geolocation result: either coordinates or
// an error code (permission_denied, timeout, unsupported).
type deviceFix struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Error     string   `json:"error"`
}

func (f deviceFix) locator() location.LocatorFunc {
	return func(ctx context.Context) (models.GeoPoint, error) {
		switch strings.ToLower(strings.TrimSpace(f.Error)) {
		case "":
		case "permission_denied":
			return models.GeoPoint{}, location.ErrPermissionDenied
		case "timeout":
			return models.GeoPoint{}, context.DeadlineExceeded
		case "unsupported":
			return models.GeoPoint{}, location.ErrUnsupported
		default:
			return models.GeoPoint{}, errors.New(f.Error)
		}
		if f.Latitude == nil || f.Longitude == nil {
			return models.GeoPoint{}, errors.New("fix has no coordinates")
		}
		return models.GeoPoint{Latitude: *f.Latitude, Longitude: *f.Longitude}, nil
	}
}

// PostDeviceLocation handles POST /sessions/{id}/location/device. A failed
// fix is not an error response: the point is kept and a warning returned.
func (h *Handler) PostDeviceLocation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	var fix deviceFix
	if !decodeJSON(w, r, &fix) {
		return
	}
	p, err := s.LocateDevice(r.Context(), fix.locator())
	resp := locationResponse{Location: p, Picked: s.Snapshot().LocationPicked}
	if err != nil {
		resp.Warning = "Could not determine your location; using the previous point."
	}
	writeJSON(w, http.StatusOK, resp)
}

// PutLocation handles PUT /sessions/{id}/location (explicit map pick).
func (h *Handler) PutLocation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	var body struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Latitude == nil || body.Longitude == nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "latitude and longitude are required")
		return
	}
	p := models.GeoPoint{Latitude: *body.Latitude, Longitude: *body.Longitude}
	if err := s.PickLocation(p); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "INVALID_LOCATION", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, locationResponse{Location: p, Picked: true})
}

// DeleteLocation handles DELETE /sessions/{id}/location (reset to default).
func (h *Handler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, locationResponse{Location: s.ResetLocation()})
}

// GetWeather handles GET /sessions/{id}/weather.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	waitRequested(r, s)
	writeJSON(w, http.StatusOK, s.Weather())
}

// plotBody is the non-GeoJSON plot shape: an optional name plus a rectangle.
type plotBody struct {
	Name   string `json:"name"`
	Bounds *struct {
		South float64 `json:"south"`
		West  float64 `json:"west"`
		North float64 `json:"north"`
		East  float64 `json:"east"`
	} `json:"bounds"`
}

// PutPlot handles PUT /sessions/{id}/plot. The body is either GeoJSON
// (Feature, FeatureCollection or Polygon; a Feature's "name" property names
// the plot) or {name, bounds:{south,west,north,east}}.
func (h *Handler) PutPlot(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "Request body too large or unreadable")
		return
	}
	var body plotBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "Request body must be valid JSON")
		return
	}

	var ring orb.Ring
	if body.Bounds != nil {
		b := body.Bounds
		ring, err = geometry.FromBound(
			models.GeoPoint{Latitude: b.South, Longitude: b.West},
			models.GeoPoint{Latitude: b.North, Longitude: b.East})
	} else {
		ring, err = geometry.FromGeoJSON(raw)
		if body.Name == "" {
			body.Name = featureName(raw)
		}
	}
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "INVALID_GEOMETRY", err.Error())
		return
	}

	var name string
	if strings.TrimSpace(body.Name) != "" {
		if name, err = validation.ValidateName(body.Name, h.maxPlotNameLength); err != nil {
			writeViolations(w, r, "Invalid plot name", []validation.Violation{{Field: "plot.name", Message: err.Error()}})
			return
		}
	}

	plot := s.DrawPlot(ring)
	if name != "" {
		if plot, err = s.RenamePlot(name); err != nil {
			writeError(w, r, http.StatusConflict, "NO_PLOT", "Plot was cleared concurrently")
			return
		}
	}
	observability.LoggerFromContext(r.Context(), h.logger).Debug("plot drawn",
		zap.String("session_id", s.ID),
		zap.Int("vertices", len(plot.Geometry)),
		zap.Float64("area_hectares", plot.AreaHectares))
	writeJSON(w, http.StatusOK, plot)
}

// featureName returns a GeoJSON Feature's "name" property, if any.
func featureName(raw []byte) string {
	var f struct {
		Properties map[string]any `json:"properties"`
	}
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&f); err != nil {
		return ""
	}
	name, _ := f.Properties["name"].(string)
	return name
}

// PatchPlot handles PATCH /sessions/{id}/plot (rename).
func (h *Handler) PatchPlot(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	name, err := validation.ValidateName(body.Name, h.maxPlotNameLength)
	if err != nil {
		writeViolations(w, r, "Invalid plot name", []validation.Violation{{Field: "plot.name", Message: err.Error()}})
		return
	}
	plot, err := s.RenamePlot(name)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "NO_PLOT", "Draw a plot before naming it")
		return
	}
	writeJSON(w, http.StatusOK, plot)
}

// DeletePlot handles DELETE /sessions/{id}/plot.
func (h *Handler) DeletePlot(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	s.ClearPlot()
	w.WriteHeader(http.StatusNoContent)
}

// PutNutrients handles PUT /sessions/{id}/nutrients. Range checks happen at
// submission so every problem is reported together.
func (h *Handler) PutNutrients(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	var body struct {
		N  *float64 `json:"N"`
		P  *float64 `json:"P"`
		K  *float64 `json:"K"`
		PH *float64 `json:"pH"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	var missing []validation.Violation
	for _, f := range []struct {
		name  string
		value *float64
	}{{"N", body.N}, {"P", body.P}, {"K", body.K}, {"pH", body.PH}} {
		if f.value == nil {
			missing = append(missing, validation.Violation{Field: f.name, Message: f.name + " is required"})
		}
	}
	if len(missing) > 0 {
		writeViolations(w, r, "Missing nutrient values", missing)
		return
	}
	n := models.NutrientProfile{N: *body.N, P: *body.P, K: *body.K, PH: *body.PH}
	s.SetNutrients(n)
	writeJSON(w, http.StatusOK, n)
}

// PutFilters handles PUT /sessions/{id}/filters.
func (h *Handler) PutFilters(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	var f models.Filters
	if !decodeJSON(w, r, &f) {
		return
	}
	s.SetFilters(f)
	writeJSON(w, http.StatusOK, f)
}

// PostRecommendations handles POST /sessions/{id}/recommendations.
func (h *Handler) PostRecommendations(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	view, err := s.Submit(r.Context())

	var verr *recommend.ValidationError
	switch {
	case err == nil:
		traffic.RecordSuccess()
		writeJSON(w, http.StatusOK, view)
	case errors.As(err, &verr):
		writeViolations(w, r, "Fix the highlighted inputs and try again", verr.Violations)
	case errors.Is(err, session.ErrSubmissionInFlight):
		writeError(w, r, http.StatusConflict, "SUBMISSION_IN_FLIGHT", err.Error())
	case errors.Is(err, session.ErrInputsChanged):
		writeError(w, r, http.StatusConflict, "INPUTS_CHANGED", err.Error())
	default:
		traffic.RecordError()
		observability.LoggerFromContext(r.Context(), h.logger).Debug("prediction failed", zap.Error(err))
		writeError(w, r, http.StatusBadGateway, "PREDICTION_FAILED", view.Message)
	}
}

// GetRecommendations handles GET /sessions/{id}/recommendations.
func (h *Handler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFrom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Recommendations())
}
