package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kjstillabower/agro-advisor/internal/models"
	"github.com/kjstillabower/agro-advisor/internal/observability"
)

func TestNewArchiveClient_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com", "::not a url"} {
		if _, err := NewArchiveClient(raw, time.Second); err == nil {
			t.Errorf("NewArchiveClient(%q) expected error, got nil", raw)
		}
	}
}

func TestArchiveClient_GetDailySeries_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		q := r.URL.Query()
		checks := map[string]string{
			"latitude":   "12.9716",
			"longitude":  "77.5946",
			"start_date": "2026-09-19",
			"end_date":   "2026-10-19",
			"daily":      "temperature_2m_max,temperature_2m_min,precipitation_sum",
			"timezone":   "auto",
		}
		for k, want := range checks {
			if got := q.Get(k); got != want {
				t.Errorf("query %s = %q, want %q", k, got, want)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"latitude": 12.97,
			"daily": {
				"time": ["2026-10-17", "2026-10-18", "2026-10-19"],
				"temperature_2m_max": [20, 22, null],
				"temperature_2m_min": [14.5, 15, null],
				"precipitation_sum": [0, 3.2, null]
			}
		}`))
	}))
	defer server.Close()

	c, err := NewArchiveClient(server.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("NewArchiveClient() error = %v", err)
	}
	point := models.GeoPoint{Latitude: 12.9716, Longitude: 77.5946}
	got, err := c.GetDailySeries(context.Background(), point, "2026-09-19", "2026-10-19")
	if err != nil {
		t.Fatalf("GetDailySeries() error = %v", err)
	}
	if len(got.Days) != 3 {
		t.Fatalf("len(Days) = %d, want 3", len(got.Days))
	}
	if got.Days[1].Date != "2026-10-18" || *got.Days[1].MaxTemp != 22 || *got.Days[1].Rainfall != 3.2 {
		t.Errorf("Days[1] = %+v", got.Days[1])
	}
	if got.Days[2].MaxTemp != nil || got.Days[2].Rainfall != nil {
		t.Errorf("Days[2] should keep nulls as nil, got %+v", got.Days[2])
	}
	if got.Point != point || got.End != "2026-10-19" {
		t.Errorf("series metadata = %+v", got)
	}
}

func TestArchiveClient_GetDailySeries_MissingDaily(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"latitude": 1, "longitude": 2}`))
	}))
	defer server.Close()

	c, _ := NewArchiveClient(server.URL, time.Second)
	_, err := c.GetDailySeries(context.Background(), models.GeoPoint{}, "2026-01-01", "2026-01-31")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("GetDailySeries() error = %v, want ErrMalformedResponse", err)
	}
}

func TestArchiveClient_GetDailySeries_EmptyDaily(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"daily": {"time": [], "temperature_2m_max": [], "precipitation_sum": []}}`))
	}))
	defer server.Close()

	c, _ := NewArchiveClient(server.URL, time.Second)
	got, err := c.GetDailySeries(context.Background(), models.GeoPoint{}, "2026-01-01", "2026-01-31")
	if err != nil {
		t.Fatalf("GetDailySeries() error = %v", err)
	}
	if len(got.Days) != 0 {
		t.Errorf("len(Days) = %d, want 0", len(got.Days))
	}
}

func TestArchiveClient_GetDailySeries_ErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"400 with reason", http.StatusBadRequest, `{"error": true, "reason": "Parameter 'latitude' is out of range"}`, ErrBadRequest},
		{"429", http.StatusTooManyRequests, ``, ErrRateLimited},
		{"500", http.StatusInternalServerError, ``, ErrUpstreamFailure},
		{"bad json", http.StatusOK, `{"daily": [`, ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c, _ := NewArchiveClient(server.URL, time.Second)
			_, err := c.GetDailySeries(context.Background(), models.GeoPoint{}, "2026-01-01", "2026-01-31")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("GetDailySeries() error = %v, want %v", err, tt.wantErr)
			}
			if calls != 1 {
				t.Errorf("upstream called %d times, want exactly 1 (no retry)", calls)
			}
		})
	}
}

func TestArchiveClient_PropagatesCorrelationID(t *testing.T) {
	var captured string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Header.Get("X-Correlation-ID")
		_, _ = w.Write([]byte(`{"daily": {"time": []}}`))
	}))
	defer server.Close()

	c, _ := NewArchiveClient(server.URL, time.Second)
	ctx := observability.WithCorrelationID(context.Background(), "corr-42")
	if _, err := c.GetDailySeries(ctx, models.GeoPoint{}, "2026-01-01", "2026-01-31"); err != nil {
		t.Fatalf("GetDailySeries() error = %v", err)
	}
	if captured != "corr-42" {
		t.Errorf("X-Correlation-ID = %q, want corr-42", captured)
	}
}

func TestArchiveClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer server.Close()

	c, _ := NewArchiveClient(server.URL, 2*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetDailySeries(ctx, models.GeoPoint{}, "2026-01-01", "2026-01-31")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("GetDailySeries() error = %v, want context.Canceled", err)
	}
}
