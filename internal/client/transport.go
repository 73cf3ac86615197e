package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kjstillabower/agro-advisor/internal/circuitbreaker"
	"github.com/kjstillabower/agro-advisor/internal/observability"
)

const maxBodyBytes = 4 << 20

// upstream is the shared transport for one external HTTP service: per-call
// timeout, correlation header, optional circuit breaker, metrics.
type upstream struct {
	name    string
	baseURL *url.URL
	timeout time.Duration
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func newUpstream(name, rawURL string, timeout time.Duration) (*upstream, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%s: invalid URL %q: scheme must be http or https", name, rawURL)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &upstream{
		name:    name,
		baseURL: u,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// send performs one request. Non-2xx responses come back as *StatusError with
// the body attached. The request is never retried.
func (u *upstream) send(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	var body []byte
	call := func(ctx context.Context) error {
		var err error
		body, err = u.roundTrip(ctx, build)
		return err
	}

	var err error
	if u.breaker != nil {
		err = u.breaker.Call(reqCtx, call)
	} else {
		err = call(reqCtx)
	}
	if err != nil {
		observability.UpstreamErrorsTotal.WithLabelValues(u.name, string(CategorizeError(err))).Inc()
	}
	return body, err
}

func (u *upstream) roundTrip(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	start := time.Now()
	req, err := build(ctx)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(u.name, "error").Inc()
		return nil, fmt.Errorf("%s: build request: %w", u.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(u.name, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(u.name, "error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%s: request timeout: %w", u.name, err)
		}
		return nil, fmt.Errorf("%s: http request failed: %w", u.name, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(u.name, status).Inc()
	observability.UpstreamDuration.WithLabelValues(u.name, status).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read response body: %w", u.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, newStatusError(u.name, resp.StatusCode, body)
	}
	return body, nil
}

func (u *upstream) endpoint() *url.URL {
	cp := *u.baseURL
	return &cp
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == 429:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}
