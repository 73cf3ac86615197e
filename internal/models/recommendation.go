package models

import "time"

// Filters are the optional categorical selections. An empty field means no filter.
type Filters struct {
	SoilType       string `json:"soilType,omitempty"`
	Season         string `json:"season,omitempty"`
	CropType       string `json:"cropType,omitempty"`
	IrrigationType string `json:"irrigationType,omitempty"`
}

// RecommendationRequest is the prediction service payload. Unselected filters
// are omitted from the JSON rather than sent as null or "".
type RecommendationRequest struct {
	N              float64 `json:"N"`
	P              float64 `json:"P"`
	K              float64 `json:"K"`
	PH             float64 `json:"ph"`
	Temperature    float64 `json:"temperature"`
	Rainfall       float64 `json:"rainfall"`
	SoilType       string  `json:"soil_type,omitempty"`
	Season         string  `json:"season,omitempty"`
	CropType       string  `json:"crop_type,omitempty"`
	IrrigationType string  `json:"irrigation_type,omitempty"`
}

// PredictionResponse is the raw prediction service response.
type PredictionResponse struct {
	PredictedCrop string   `json:"predicted_crop"`
	Confidence    *float64 `json:"confidence"`
	SoilQuality   *float64 `json:"soil_quality"`
	Error         string   `json:"error,omitempty"`
	Detail        string   `json:"detail,omitempty"`
}

// Recommendation is a single scored crop suggestion.
type Recommendation struct {
	CropName     string   `json:"cropName"`
	Confidence   float64  `json:"confidence"`
	SuccessRate  int      `json:"successRate"`
	ServiceScore *float64 `json:"serviceScore,omitempty"`
}

// ViewState is the recommendation view lifecycle state.
type ViewState string

const (
	ViewIdle    ViewState = "idle"
	ViewLoading ViewState = "loading"
	ViewSuccess ViewState = "success"
	ViewEmpty   ViewState = "empty"
	ViewError   ViewState = "error"
)

// RecommendationView is what the client renders for the recommendation panel.
type RecommendationView struct {
	State           ViewState        `json:"state"`
	Recommendations []Recommendation `json:"recommendations"`
	ModelConfidence *int             `json:"modelConfidence,omitempty"`
	Message         string           `json:"message,omitempty"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// DiseasePrediction is the disease-image classifier response.
type DiseasePrediction struct {
	IsHealthy  bool    `json:"is_healthy"`
	Disease    string  `json:"disease"`
	Confidence float64 `json:"confidence"`
}
