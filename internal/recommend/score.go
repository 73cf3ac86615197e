package recommend

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/kjstillabower/agro-advisor/internal/models"
)

// CropDelimiter separates crop names in the service's predicted_crop string.
const CropDelimiter = " | "

// confidenceDisplayOffset is added to the model confidence shown to the user.
const confidenceDisplayOffset = 20

// scoreAnnotation matches a trailing "(87.50% GS)" per-crop score.
var scoreAnnotation = regexp.MustCompile(`^(.*?)\s*\(\s*(\d+(?:\.\d+)?)\s*%\s*GS\s*\)$`)

// Result is a scored prediction. Empty means the service answered
// successfully with no crops.
type Result struct {
	Recommendations []models.Recommendation
	ModelConfidence int
	Empty           bool
}

// Score parses a prediction response. A service-reported error yields a
// *ServiceError; an empty crop list yields Result{Empty: true}.
func Score(resp models.PredictionResponse) (Result, error) {
	if msg := strings.TrimSpace(resp.Error); msg != "" {
		return Result{}, &ServiceError{Message: msg}
	}
	if msg := strings.TrimSpace(resp.Detail); msg != "" {
		return Result{}, &ServiceError{Message: msg}
	}

	names := SplitCrops(resp.PredictedCrop)
	if len(names) == 0 {
		return Result{Empty: true}, nil
	}
	if resp.Confidence == nil || resp.SoilQuality == nil || !finite(*resp.Confidence) || !finite(*resp.SoilQuality) {
		return Result{}, ErrMalformedPrediction
	}

	confidence := clamp(*resp.Confidence, 0, 1)
	rate := SuccessRate(confidence, *resp.SoilQuality)
	recs := make([]models.Recommendation, 0, len(names))
	for _, name := range names {
		crop, score := parseAnnotation(name)
		recs = append(recs, models.Recommendation{
			CropName:     crop,
			Confidence:   confidence,
			SuccessRate:  rate,
			ServiceScore: score,
		})
	}
	return Result{Recommendations: recs, ModelConfidence: ModelConfidence(confidence)}, nil
}

// SplitCrops splits the predicted_crop string on CropDelimiter, trimming
// names and dropping empty pieces. Order is preserved.
func SplitCrops(s string) []string {
	var out []string
	for _, piece := range strings.Split(s, CropDelimiter) {
		if piece = strings.TrimSpace(piece); piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// SuccessRate is round(confidence × 100 × soilQuality / 100), clamped to [0,100].
func SuccessRate(confidence, soilQuality float64) int {
	return int(clamp(math.Round(confidence*100*soilQuality/100), 0, 100))
}

// ModelConfidence is the displayed model confidence:
// min(100, round(confidence × 100) + 20).
func ModelConfidence(confidence float64) int {
	return min(100, int(math.Round(confidence*100))+confidenceDisplayOffset)
}

func parseAnnotation(name string) (string, *float64) {
	m := scoreAnnotation.FindStringSubmatch(name)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return name, nil
	}
	v, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return name, nil
	}
	return strings.TrimSpace(m[1]), &v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
