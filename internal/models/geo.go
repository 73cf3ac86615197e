package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidPoint is returned when a coordinate is not finite or out of range.
var ErrInvalidPoint = errors.New("invalid coordinates")

// GeoPoint is a WGS84 latitude/longitude pair.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks that both coordinates are finite and within range.
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Latitude) || math.IsInf(p.Latitude, 0) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v outside [-90,90]", ErrInvalidPoint, p.Latitude)
	}
	if math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v outside [-180,180]", ErrInvalidPoint, p.Longitude)
	}
	return nil
}

// Plot is a user-delineated land parcel. Geometry is a closed ring.
type Plot struct {
	Name         string     `json:"name"`
	Geometry     []GeoPoint `json:"geometry"`
	AreaHectares float64    `json:"areaHectares"`
	Centroid     GeoPoint   `json:"centroid"`
}

// NutrientProfile holds soil N/P/K concentrations (ppm) and pH.
type NutrientProfile struct {
	N  float64 `json:"N"`
	P  float64 `json:"P"`
	K  float64 `json:"K"`
	PH float64 `json:"pH"`
}
