// Package validation checks submission preconditions before a prediction
// request is built.
package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/kjstillabower/agro-advisor/internal/models"
)

// DefaultMaxPlotNameLength bounds plot names, in runes.
const DefaultMaxPlotNameLength = 100

var (
	// ErrNameEmpty is returned when a plot name is empty or whitespace-only after trim.
	ErrNameEmpty = errors.New("plot name is required")
	// ErrNameTooLong is returned when a plot name exceeds the maximum length.
	ErrNameTooLong = errors.New("plot name too long")
	// ErrNameInvalidChars is returned when a plot name contains control characters.
	ErrNameInvalidChars = errors.New("plot name contains invalid characters")
)

// Violation is one user-correctable problem with the submission inputs.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Violations is the full list found by a validation pass.
type Violations []Violation

// Error joins every message so the list can travel as an error.
func (v Violations) Error() string {
	msgs := make([]string, len(v))
	for i, violation := range v {
		msgs[i] = violation.Message
	}
	return strings.Join(msgs, "; ")
}

// Validator holds configurable limits. The zero value uses defaults.
type Validator struct {
	MaxPlotNameLength int
}

// Validate runs every rule against the default Validator.
func Validate(plot *models.Plot, nutrients *models.NutrientProfile, weather *models.WeatherSummary) Violations {
	return Validator{}.Validate(plot, nutrients, weather)
}

// Validate checks every rule independently and returns all violations, or
// nil when the inputs may be submitted. Nil arguments count as absent.
func (v Validator) Validate(plot *models.Plot, nutrients *models.NutrientProfile, weather *models.WeatherSummary) Violations {
	var out Violations
	add := func(field, format string, args ...any) {
		out = append(out, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if plot == nil {
		add("plot", "Draw a plot on the map first")
	} else if _, err := ValidateName(plot.Name, v.maxNameLength()); err != nil {
		switch {
		case errors.Is(err, ErrNameEmpty):
			add("plot.name", "Plot name is required")
		case errors.Is(err, ErrNameTooLong):
			add("plot.name", "Plot name must be at most %d characters", v.maxNameLength())
		default:
			add("plot.name", "Plot name contains invalid characters")
		}
	}

	if nutrients == nil {
		add("nutrients", "Enter the soil nutrient values")
	} else {
		for _, n := range []struct {
			field string
			value float64
		}{{"N", nutrients.N}, {"P", nutrients.P}, {"K", nutrients.K}} {
			if !finite(n.value) || n.value < 0 {
				add(n.field, "%s must be a number of at least 0", n.field)
			}
		}
		if !finite(nutrients.PH) || nutrients.PH < 0 || nutrients.PH > 14 {
			add("pH", "pH must be a number between 0 and 14")
		}
	}

	if weather == nil || weather.AverageTemperature == nil || !finite(*weather.AverageTemperature) {
		add("weather.averageTemperature", "Average temperature is unavailable for this location")
	}
	if weather == nil || weather.AverageRainfall == nil || !finite(*weather.AverageRainfall) {
		add("weather.averageRainfall", "Average rainfall is unavailable for this location")
	}
	return out
}

func (v Validator) maxNameLength() int {
	if v.MaxPlotNameLength > 0 {
		return v.MaxPlotNameLength
	}
	return DefaultMaxPlotNameLength
}

// ValidateName trims a plot name and enforces maxLen (in runes; 0 means no
// limit). Control characters are rejected. Returns the trimmed name.
func ValidateName(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrNameEmpty
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrNameTooLong
	}
	for _, c := range r {
		if unicode.IsControl(c) {
			return "", ErrNameInvalidChars
		}
	}
	return s, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
