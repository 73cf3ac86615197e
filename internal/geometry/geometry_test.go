package geometry

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/agro-advisor/internal/models"
)

func pts(coords ...[2]float64) []models.GeoPoint {
	out := make([]models.GeoPoint, len(coords))
	for i, c := range coords {
		out[i] = models.GeoPoint{Latitude: c[0], Longitude: c[1]}
	}
	return out
}

func TestNormalizeRing(t *testing.T) {
	tests := []struct {
		name      string
		in        []models.GeoPoint
		wantLen   int
		wantErrIs error
	}{
		{
			name:    "open triangle is closed",
			in:      pts([2]float64{0, 0}, [2]float64{0, 1}, [2]float64{1, 0}),
			wantLen: 4,
		},
		{
			name:    "already closed square",
			in:      pts([2]float64{0, 0}, [2]float64{0, 1}, [2]float64{1, 1}, [2]float64{1, 0}, [2]float64{0, 0}),
			wantLen: 5,
		},
		{
			name:    "consecutive duplicates dropped",
			in:      pts([2]float64{0, 0}, [2]float64{0, 0}, [2]float64{0, 1}, [2]float64{1, 0}, [2]float64{1, 0}),
			wantLen: 4,
		},
		{
			name:      "two distinct vertices",
			in:        pts([2]float64{0, 0}, [2]float64{0, 1}, [2]float64{0, 0}),
			wantErrIs: ErrTooFewVertices,
		},
		{
			name:      "bow tie",
			in:        pts([2]float64{0, 0}, [2]float64{1, 1}, [2]float64{1, 0}, [2]float64{0, 1}),
			wantErrIs: ErrSelfIntersecting,
		},
		{
			name:      "collinear vertices",
			in:        pts([2]float64{0, 0}, [2]float64{0, 1}, [2]float64{0, 2}),
			wantErrIs: ErrSelfIntersecting,
		},
		{
			name:      "latitude out of range",
			in:        pts([2]float64{95, 0}, [2]float64{0, 1}, [2]float64{1, 0}),
			wantErrIs: models.ErrInvalidPoint,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ring, err := NormalizeRing(tt.in)
			if tt.wantErrIs != nil {
				require.ErrorIs(t, err, tt.wantErrIs)
				assert.ErrorIs(t, err, ErrInvalidGeometry)
				return
			}
			require.NoError(t, err)
			assert.Len(t, ring, tt.wantLen)
			assert.True(t, ring.Closed())
			assert.Equal(t, orb.CCW, ring.Orientation())
		})
	}
}

func TestNormalizeRing_ClockwiseIsReversed(t *testing.T) {
	// North-west, north-east, south-east: clockwise in lon/lat space.
	ring, err := NormalizeRing(pts([2]float64{1, 0}, [2]float64{1, 1}, [2]float64{0, 1}))
	require.NoError(t, err)
	assert.Equal(t, orb.CCW, ring.Orientation())
}

func TestFromGeoJSON(t *testing.T) {
	const polygon = `{"type":"Polygon","coordinates":[[[77.59,12.97],[77.60,12.97],[77.60,12.98],[77.59,12.98],[77.59,12.97]]]}`
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"bare polygon", polygon, nil},
		{"feature", `{"type":"Feature","properties":{},"geometry":` + polygon + `}`, nil},
		{"feature collection", `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":` + polygon + `}]}`, nil},
		{"point", `{"type":"Point","coordinates":[77.59,12.97]}`, ErrUnsupportedGeometry},
		{"empty collection", `{"type":"FeatureCollection","features":[]}`, ErrInvalidGeometry},
		{"not json", `plot`, ErrInvalidGeometry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ring, err := FromGeoJSON([]byte(tt.body))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, ring, 5)
			assert.Equal(t, orb.Point{77.59, 12.97}, ring[0])
		})
	}
}

func TestFromBound(t *testing.T) {
	ring, err := FromBound(models.GeoPoint{Latitude: 12.97, Longitude: 77.59}, models.GeoPoint{Latitude: 12.98, Longitude: 77.60})
	require.NoError(t, err)
	assert.Len(t, ring, 5)
	assert.Equal(t, orb.CCW, ring.Orientation())

	_, err = FromBound(models.GeoPoint{Latitude: 12.98, Longitude: 77.59}, models.GeoPoint{Latitude: 12.97, Longitude: 77.60})
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestStore(t *testing.T) {
	changes := 0
	s := NewStore(func() { changes++ })

	_, ok := s.Plot()
	assert.False(t, ok)
	_, err := s.Rename("north field")
	assert.ErrorIs(t, err, ErrNoPlot)

	ring, err := FromBound(models.GeoPoint{Latitude: 0, Longitude: 0}, models.GeoPoint{Latitude: 0.01, Longitude: 0.01})
	require.NoError(t, err)
	plot := s.Draw(ring)
	// About 1.11 km on a side at the equator.
	assert.InDelta(t, 124.0, plot.AreaHectares, 2.0)
	assert.InDelta(t, 0.005, plot.Centroid.Latitude, 1e-9)
	assert.InDelta(t, 0.005, plot.Centroid.Longitude, 1e-9)

	_, err = s.Rename("north field")
	require.NoError(t, err)

	// Redrawing keeps the name and replaces the geometry.
	smaller, err := FromBound(models.GeoPoint{Latitude: 0, Longitude: 0}, models.GeoPoint{Latitude: 0.001, Longitude: 0.001})
	require.NoError(t, err)
	s.Draw(smaller)
	got, ok := s.Plot()
	require.True(t, ok)
	assert.Equal(t, "north field", got.Name)
	assert.Less(t, got.AreaHectares, plot.AreaHectares)

	assert.True(t, s.Clear())
	assert.False(t, s.Clear())
	_, ok = s.Plot()
	assert.False(t, ok)
	assert.Equal(t, 4, changes)
}
