// Package recommend turns validated inputs into prediction requests and
// prediction responses into scored crop recommendations.
package recommend

import (
	"strings"

	"github.com/kjstillabower/agro-advisor/internal/models"
	"github.com/kjstillabower/agro-advisor/internal/validation"
)

// Builder constructs prediction requests.
type Builder struct {
	Validator validation.Validator
}

// Build validates the inputs with the default limits and constructs the request.
func Build(plot *models.Plot, nutrients *models.NutrientProfile, weather *models.WeatherSummary, filters models.Filters) (models.RecommendationRequest, error) {
	return Builder{}.Build(plot, nutrients, weather, filters)
}

// Build re-runs validation and returns a *ValidationError if anything is
// wrong. Filters are trimmed; empty ones stay empty so they are omitted from
// the payload.
func (b Builder) Build(plot *models.Plot, nutrients *models.NutrientProfile, weather *models.WeatherSummary, filters models.Filters) (models.RecommendationRequest, error) {
	if v := b.Validator.Validate(plot, nutrients, weather); len(v) > 0 {
		return models.RecommendationRequest{}, &ValidationError{Violations: v}
	}
	return models.RecommendationRequest{
		N:              nutrients.N,
		P:              nutrients.P,
		K:              nutrients.K,
		PH:             nutrients.PH,
		Temperature:    *weather.AverageTemperature,
		Rainfall:       *weather.AverageRainfall,
		SoilType:       strings.TrimSpace(filters.SoilType),
		Season:         strings.TrimSpace(filters.Season),
		CropType:       strings.TrimSpace(filters.CropType),
		IrrigationType: strings.TrimSpace(filters.IrrigationType),
	}, nil
}
