package weather

import (
	"math"

	"github.com/kjstillabower/agro-advisor/internal/models"
)

// Summarize reduces a series to its averages. Average temperature is the mean
// of the daily maxima and average rainfall the mean of the daily precipitation
// sums. Null and non-finite readings are skipped; when nothing is left the
// average is nil, never zero.
func Summarize(series models.WeatherSeries) models.WeatherSummary {
	return models.WeatherSummary{
		Point:              series.Point,
		AverageTemperature: mean(series.Days, func(d models.DailyWeather) *float64 { return d.MaxTemp }),
		AverageRainfall:    mean(series.Days, func(d models.DailyWeather) *float64 { return d.Rainfall }),
		Series:             series.Days,
	}
}

func mean(days []models.DailyWeather, field func(models.DailyWeather) *float64) *float64 {
	var sum float64
	var n int
	for _, d := range days {
		v := field(d)
		if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
			continue
		}
		sum += *v
		n++
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}
