package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/kjstillabower/agro-advisor/internal/models"
)

// UpstreamDisease is the metrics label for the disease-image classifier.
const UpstreamDisease = "disease"

// DiseaseClient uploads leaf images to the disease classifier.
type DiseaseClient struct {
	upstream *upstream
}

// NewDiseaseClient returns a client for the classifier endpoint at apiURL.
func NewDiseaseClient(apiURL string, timeout time.Duration) (*DiseaseClient, error) {
	u, err := newUpstream(UpstreamDisease, apiURL, timeout)
	if err != nil {
		return nil, err
	}
	return &DiseaseClient{upstream: u}, nil
}

// Predict uploads image as multipart field "file" and returns the classification.
func (c *DiseaseClient) Predict(ctx context.Context, filename string, image io.Reader) (models.DiseasePrediction, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return models.DiseasePrediction{}, &ServiceError{Err: fmt.Errorf("build upload: %w", err)}
	}
	if _, err := io.Copy(part, image); err != nil {
		return models.DiseasePrediction{}, &ServiceError{Err: fmt.Errorf("read image: %w", err)}
	}
	if err := mw.Close(); err != nil {
		return models.DiseasePrediction{}, &ServiceError{Err: fmt.Errorf("build upload: %w", err)}
	}
	payload := buf.Bytes()

	body, err := c.upstream.send(ctx, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.upstream.endpoint().String(), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", mw.FormDataContentType())
		return r, nil
	})
	if err != nil {
		se := &ServiceError{Err: err}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			se.StatusCode = statusErr.StatusCode
			se.Message = serviceMessage(statusErr.Body)
		}
		return models.DiseasePrediction{}, se
	}

	var result models.DiseasePrediction
	if err := json.Unmarshal(body, &result); err != nil {
		return models.DiseasePrediction{}, &ServiceError{
			StatusCode: http.StatusOK,
			Err:        fmt.Errorf("%w: parse disease response: %v", ErrMalformedResponse, err),
		}
	}
	return result, nil
}
