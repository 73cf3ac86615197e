package geometry

import (
	"errors"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"

	"github.com/kjstillabower/agro-advisor/internal/models"
)

// ErrNoPlot is returned when an operation needs an active plot and none exists.
var ErrNoPlot = errors.New("no active plot")

const squareMetersPerHectare = 10_000

// Store holds the single active plot. Drawing replaces the previous plot's
// geometry; no history is kept. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	plot     *models.Plot
	onChange func()
}

// NewStore creates an empty Store. onChange, if non-nil, runs after every
// draw, rename or clear, outside the store lock.
func NewStore(onChange func()) *Store {
	return &Store{onChange: onChange}
}

// Draw replaces the active plot's geometry, keeping its name, and returns the
// new plot. ring must come from NormalizeRing or one of its callers.
func (s *Store) Draw(ring orb.Ring) models.Plot {
	s.mu.Lock()
	plot := models.Plot{
		Geometry:     ToPoints(ring),
		AreaHectares: AreaHectares(ring),
		Centroid:     Centroid(ring),
	}
	if s.plot != nil {
		plot.Name = s.plot.Name
	}
	s.plot = &plot
	s.mu.Unlock()

	s.changed()
	return plot
}

// Rename sets the active plot's name.
func (s *Store) Rename(name string) (models.Plot, error) {
	s.mu.Lock()
	if s.plot == nil {
		s.mu.Unlock()
		return models.Plot{}, ErrNoPlot
	}
	s.plot.Name = name
	plot := *s.plot
	s.mu.Unlock()

	s.changed()
	return plot, nil
}

// Clear removes the active plot. It reports whether there was one.
func (s *Store) Clear() bool {
	s.mu.Lock()
	had := s.plot != nil
	s.plot = nil
	s.mu.Unlock()

	if had {
		s.changed()
	}
	return had
}

// Plot returns a copy of the active plot.
func (s *Store) Plot() (models.Plot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plot == nil {
		return models.Plot{}, false
	}
	plot := *s.plot
	plot.Geometry = append([]models.GeoPoint(nil), s.plot.Geometry...)
	return plot, true
}

func (s *Store) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// AreaHectares returns the geodesic area enclosed by ring.
func AreaHectares(ring orb.Ring) float64 {
	return geo.Area(orb.Polygon{ring}) / squareMetersPerHectare
}

// Centroid returns the planar centroid of ring in latitude/longitude.
func Centroid(ring orb.Ring) models.GeoPoint {
	c, _ := planar.CentroidArea(orb.Polygon{ring})
	return models.GeoPoint{Latitude: c.Lat(), Longitude: c.Lon()}
}
