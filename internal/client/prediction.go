package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kjstillabower/agro-advisor/internal/circuitbreaker"
	"github.com/kjstillabower/agro-advisor/internal/models"
)

// UpstreamPrediction is the metrics label for the crop prediction service.
const UpstreamPrediction = "prediction"

// PredictionClient posts recommendation requests to the crop prediction service.
type PredictionClient struct {
	upstream *upstream
}

// NewPredictionClient returns a client for the prediction endpoint at apiURL.
func NewPredictionClient(apiURL string, timeout time.Duration) (*PredictionClient, error) {
	u, err := newUpstream(UpstreamPrediction, apiURL, timeout)
	if err != nil {
		return nil, err
	}
	return &PredictionClient{upstream: u}, nil
}

// SetCircuitBreaker guards prediction calls with cb.
func (c *PredictionClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.upstream.breaker = cb
}

type predictionPayload struct {
	PredictedCrop string          `json:"predicted_crop"`
	Confidence    *float64        `json:"confidence"`
	SoilQuality   *float64        `json:"soil_quality"`
	Error         string          `json:"error"`
	Detail        json.RawMessage `json:"detail"`
}

// Predict sends req and returns the raw service response. Every failure is a
// *ServiceError (errors.Is ErrServiceFailure); its Message carries the
// service's own error detail when the response had one.
func (c *PredictionClient) Predict(ctx context.Context, req models.RecommendationRequest) (models.PredictionResponse, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return models.PredictionResponse{}, &ServiceError{Err: fmt.Errorf("encode request: %w", err)}
	}

	body, err := c.upstream.send(ctx, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.upstream.endpoint().String(), bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	})
	if err != nil {
		se := &ServiceError{Err: err}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			se.StatusCode = statusErr.StatusCode
			se.Message = serviceMessage(statusErr.Body)
		}
		return models.PredictionResponse{}, se
	}

	var payload predictionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.PredictionResponse{}, &ServiceError{
			StatusCode: http.StatusOK,
			Err:        fmt.Errorf("%w: parse prediction response: %v", ErrMalformedResponse, err),
		}
	}
	return models.PredictionResponse{
		PredictedCrop: payload.PredictedCrop,
		Confidence:    payload.Confidence,
		SoilQuality:   payload.SoilQuality,
		Error:         payload.Error,
		Detail:        detailMessage(payload.Detail),
	}, nil
}
