package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUpstreamFailure marks a 5xx response or an unusable upstream.
	ErrUpstreamFailure = errors.New("upstream failure")
	// ErrRateLimited marks a 429 response.
	ErrRateLimited = errors.New("rate limited")
	// ErrBadRequest marks a 4xx response other than 429.
	ErrBadRequest = errors.New("upstream rejected request")
	// ErrMalformedResponse marks a 2xx response whose body could not be used.
	ErrMalformedResponse = errors.New("malformed upstream response")
	// ErrServiceFailure marks any failure of the prediction or disease service.
	ErrServiceFailure = errors.New("service failure")
)

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Upstream   string
	StatusCode int
	Body       []byte
	kind       error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.Upstream, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return e.kind }

func newStatusError(upstream string, status int, body []byte) *StatusError {
	kind := ErrUpstreamFailure
	switch {
	case status == 429:
		kind = ErrRateLimited
	case status >= 400 && status < 500:
		kind = ErrBadRequest
	}
	return &StatusError{Upstream: upstream, StatusCode: status, Body: body, kind: kind}
}

// ServiceError is a prediction or disease service failure. Message is the
// service-reported detail when one was present.
type ServiceError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return "service failure: " + e.Message
	}
	if e.Err != nil {
		return "service failure: " + e.Err.Error()
	}
	return "service failure"
}

func (e *ServiceError) Is(target error) bool { return target == ErrServiceFailure }

func (e *ServiceError) Unwrap() error { return e.Err }

// IsBreakerFailure reports whether err should count against a circuit breaker.
// Rejected requests (4xx) are the caller's fault, not the upstream's.
func IsBreakerFailure(err error) bool {
	if err == nil || errors.Is(err, ErrBadRequest) {
		return false
	}
	return CategorizeError(err) != ErrorCategoryCanceled
}

// serviceMessage extracts a human-readable message from an error body shaped
// like {"error": "..."} or FastAPI's {"detail": "..." | [...]}.
func serviceMessage(body []byte) string {
	var payload struct {
		Error  string          `json:"error"`
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if msg := strings.TrimSpace(payload.Error); msg != "" {
		return msg
	}
	return detailMessage(payload.Detail)
}

// detailMessage renders FastAPI's detail, which is a string or a list of
// validation errors with a msg field.
func detailMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var items []struct {
		Msg string `json:"msg"`
		Loc []any  `json:"loc"`
	}
	if err := json.Unmarshal(raw, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg == "" {
				continue
			}
			if len(it.Loc) > 0 {
				msgs = append(msgs, fmt.Sprintf("%v: %s", it.Loc[len(it.Loc)-1], it.Msg))
			} else {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return strings.TrimSpace(string(raw))
}
