package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/agro-advisor/internal/circuitbreaker"
	"github.com/kjstillabower/agro-advisor/internal/models"
)

// UpstreamArchive is the metrics label for the historical weather archive.
const UpstreamArchive = "weather_archive"

// DailyFields are the archive daily variables requested for every series.
var DailyFields = []string{"temperature_2m_max", "temperature_2m_min", "precipitation_sum"}

// ArchiveClient queries an Open-Meteo compatible historical weather archive.
type ArchiveClient struct {
	upstream *upstream
	now      func() time.Time
}

// NewArchiveClient returns a client for the archive endpoint at apiURL
// (e.g. https://archive-api.open-meteo.com/v1/archive).
func NewArchiveClient(apiURL string, timeout time.Duration) (*ArchiveClient, error) {
	u, err := newUpstream(UpstreamArchive, apiURL, timeout)
	if err != nil {
		return nil, err
	}
	return &ArchiveClient{upstream: u, now: time.Now}, nil
}

// SetCircuitBreaker guards archive calls with cb.
func (c *ArchiveClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.upstream.breaker = cb
}

type archiveResponse struct {
	Daily *struct {
		Time           []string   `json:"time"`
		TemperatureMax []*float64 `json:"temperature_2m_max"`
		TemperatureMin []*float64 `json:"temperature_2m_min"`
		Precipitation  []*float64 `json:"precipitation_sum"`
	} `json:"daily"`
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// GetDailySeries fetches the daily series for point between start and end
// (inclusive, YYYY-MM-DD). A response without a daily block is an error.
func (c *ArchiveClient) GetDailySeries(ctx context.Context, point models.GeoPoint, start, end string) (models.WeatherSeries, error) {
	body, err := c.upstream.send(ctx, func(ctx context.Context) (*http.Request, error) {
		u := c.upstream.endpoint()
		q := u.Query()
		q.Set("latitude", strconv.FormatFloat(point.Latitude, 'f', -1, 64))
		q.Set("longitude", strconv.FormatFloat(point.Longitude, 'f', -1, 64))
		q.Set("start_date", start)
		q.Set("end_date", end)
		q.Set("daily", strings.Join(DailyFields, ","))
		q.Set("timezone", "auto")
		u.RawQuery = q.Encode()
		return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	})
	if err != nil {
		if msg := archiveReason(body); msg != "" {
			return models.WeatherSeries{}, fmt.Errorf("%w (%s)", err, msg)
		}
		return models.WeatherSeries{}, err
	}

	var resp archiveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.WeatherSeries{}, fmt.Errorf("%w: parse archive response: %v", ErrMalformedResponse, err)
	}
	if resp.Error {
		return models.WeatherSeries{}, fmt.Errorf("%w: %s", ErrUpstreamFailure, resp.Reason)
	}
	if resp.Daily == nil {
		return models.WeatherSeries{}, fmt.Errorf("%w: no daily weather data available", ErrMalformedResponse)
	}

	d := resp.Daily
	n := len(d.Time)
	for _, col := range [][]*float64{d.TemperatureMax, d.TemperatureMin, d.Precipitation} {
		if len(col) > n {
			n = len(col)
		}
	}
	days := make([]models.DailyWeather, 0, n)
	for i := 0; i < n; i++ {
		day := models.DailyWeather{
			MaxTemp:  at(d.TemperatureMax, i),
			MinTemp:  at(d.TemperatureMin, i),
			Rainfall: at(d.Precipitation, i),
		}
		if i < len(d.Time) {
			day.Date = d.Time[i]
		}
		days = append(days, day)
	}

	return models.WeatherSeries{
		Point:     point,
		Start:     start,
		End:       end,
		Days:      days,
		FetchedAt: c.now(),
	}, nil
}

func at(col []*float64, i int) *float64 {
	if i < len(col) {
		return col[i]
	}
	return nil
}

func archiveReason(body []byte) string {
	var resp archiveResponse
	if len(body) == 0 || json.Unmarshal(body, &resp) != nil {
		return ""
	}
	return resp.Reason
}
