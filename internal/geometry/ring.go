// Package geometry parses, normalizes and holds the active plot geometry.
package geometry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/kjstillabower/agro-advisor/internal/models"
)

var (
	// ErrInvalidGeometry is the base error for geometry that cannot form a plot.
	ErrInvalidGeometry = errors.New("invalid plot geometry")
	// ErrTooFewVertices is returned when a ring has fewer than 3 distinct vertices.
	ErrTooFewVertices = fmt.Errorf("%w: ring needs at least 3 distinct vertices", ErrInvalidGeometry)
	// ErrSelfIntersecting is returned when ring edges cross or touch.
	ErrSelfIntersecting = fmt.Errorf("%w: ring is self-intersecting", ErrInvalidGeometry)
	// ErrUnsupportedGeometry is returned for GeoJSON that is not a polygon.
	ErrUnsupportedGeometry = fmt.Errorf("%w: expected a Polygon", ErrInvalidGeometry)
)

// NormalizeRing turns user vertices into a closed, counter-clockwise ring.
// Consecutive duplicates are dropped; the ring must have at least 3 distinct
// vertices, valid coordinates and no self-intersections.
func NormalizeRing(points []models.GeoPoint) (orb.Ring, error) {
	ring := make(orb.Ring, 0, len(points)+1)
	for i, p := range points {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: vertex %d: %w", ErrInvalidGeometry, i, err)
		}
		pt := orb.Point{p.Longitude, p.Latitude}
		if len(ring) > 0 && ring[len(ring)-1].Equal(pt) {
			continue
		}
		ring = append(ring, pt)
	}
	// An explicitly closed input repeats the first vertex; drop it before counting.
	if len(ring) > 1 && ring[0].Equal(ring[len(ring)-1]) {
		ring = ring[:len(ring)-1]
	}
	if len(ring) < 3 {
		return nil, ErrTooFewVertices
	}
	ring = append(ring, ring[0])

	if selfIntersects(ring) {
		return nil, ErrSelfIntersecting
	}
	if ring.Orientation() == orb.CW {
		ring.Reverse()
	}
	return ring, nil
}

// FromGeoJSON extracts the plot ring from a GeoJSON Feature, FeatureCollection
// (its first feature) or bare Polygon. Holes are ignored.
func FromGeoJSON(data []byte) (orb.Ring, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGeometry, err)
	}

	var g orb.Geometry
	switch probe.Type {
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidGeometry, err)
		}
		g = f.Geometry
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidGeometry, err)
		}
		if len(fc.Features) == 0 {
			return nil, fmt.Errorf("%w: empty feature collection", ErrInvalidGeometry)
		}
		g = fc.Features[0].Geometry
	default:
		geom, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidGeometry, err)
		}
		g = geom.Geometry()
	}

	poly, ok := g.(orb.Polygon)
	if !ok || len(poly) == 0 {
		return nil, ErrUnsupportedGeometry
	}
	return NormalizeRing(ToPoints(poly[0]))
}

// FromBound builds the rectangle spanned by its south-west and north-east
// corners.
func FromBound(sw, ne models.GeoPoint) (orb.Ring, error) {
	if err := sw.Validate(); err != nil {
		return nil, fmt.Errorf("%w: south-west corner: %w", ErrInvalidGeometry, err)
	}
	if err := ne.Validate(); err != nil {
		return nil, fmt.Errorf("%w: north-east corner: %w", ErrInvalidGeometry, err)
	}
	if sw.Latitude >= ne.Latitude || sw.Longitude >= ne.Longitude {
		return nil, fmt.Errorf("%w: bounds must have south < north and west < east", ErrInvalidGeometry)
	}
	b := orb.Bound{
		Min: orb.Point{sw.Longitude, sw.Latitude},
		Max: orb.Point{ne.Longitude, ne.Latitude},
	}
	return NormalizeRing(ToPoints(b.ToRing()))
}

// ToPoints converts an orb ring to latitude/longitude points.
func ToPoints(ring orb.Ring) []models.GeoPoint {
	out := make([]models.GeoPoint, len(ring))
	for i, p := range ring {
		out[i] = models.GeoPoint{Latitude: p.Lat(), Longitude: p.Lon()}
	}
	return out
}

// selfIntersects reports whether any two non-adjacent edges of the closed
// ring intersect.
func selfIntersects(ring orb.Ring) bool {
	n := len(ring) - 1 // edge count
	for i := 0; i < n; i++ {
		a1, a2 := ring[i], ring[i+1]
		for j := i + 1; j < n; j++ {
			if j == i+1 || (i == 0 && j == n-1) {
				// Adjacent edges share a vertex; they only intersect if they fold back.
				if collinearOverlap(a1, a2, ring[j], ring[j+1]) {
					return true
				}
				continue
			}
			if segmentsIntersect(a1, a2, ring[j], ring[j+1]) {
				return true
			}
		}
	}
	return false
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func onSegment(p, q, r orb.Point) bool {
	return q[0] <= max(p[0], r[0]) && q[0] >= min(p[0], r[0]) &&
		q[1] <= max(p[1], r[1]) && q[1] >= min(p[1], r[1])
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := sign(cross(q1, q2, p1))
	d2 := sign(cross(q1, q2, p2))
	d3 := sign(cross(p1, p2, q1))
	d4 := sign(cross(p1, p2, q2))
	if d1 != d2 && d3 != d4 && d1 != 0 && d2 != 0 && d3 != 0 && d4 != 0 {
		return true
	}
	return (d1 == 0 && onSegment(q1, p1, q2)) ||
		(d2 == 0 && onSegment(q1, p2, q2)) ||
		(d3 == 0 && onSegment(p1, q1, p2)) ||
		(d4 == 0 && onSegment(p1, q2, p2))
}

// collinearOverlap reports whether two edges sharing a vertex lie on the same
// line and double back over each other.
func collinearOverlap(p1, p2, q1, q2 orb.Point) bool {
	if sign(cross(p1, p2, q1)) != 0 || sign(cross(p1, p2, q2)) != 0 {
		return false
	}
	// Shared vertex; the edges overlap if the far ends point the same way.
	var shared, a, b orb.Point
	switch {
	case p2.Equal(q1):
		shared, a, b = p2, p1, q2
	case p1.Equal(q2):
		shared, a, b = p1, p2, q1
	default:
		return true
	}
	return (a[0]-shared[0])*(b[0]-shared[0])+(a[1]-shared[1])*(b[1]-shared[1]) > 0
}
