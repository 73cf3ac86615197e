package models

import "time"

// DailyWeather is one day of the upstream archive series. Nil fields are
// values the archive reported as null.
type DailyWeather struct {
	Date     string   `json:"date"`
	MaxTemp  *float64 `json:"maxTemp"`
	MinTemp  *float64 `json:"minTemp"`
	Rainfall *float64 `json:"rainfall"`
}

// WeatherSeries is a daily series as fetched for a point and date window.
type WeatherSeries struct {
	Point     GeoPoint       `json:"point"`
	Start     string         `json:"start"`
	End       string         `json:"end"`
	Days      []DailyWeather `json:"days"`
	FetchedAt time.Time      `json:"fetchedAt"`
}

// WeatherSummary is the trailing-window reduction of a series. Nil averages
// mean absent: the series was empty or the fetch failed.
type WeatherSummary struct {
	Point              GeoPoint       `json:"point"`
	AverageTemperature *float64       `json:"averageTemperature"`
	AverageRainfall    *float64       `json:"averageRainfall"`
	Series             []DailyWeather `json:"series"`
	Failed             bool           `json:"failed,omitempty"`
	Error              string         `json:"error,omitempty"`
}
