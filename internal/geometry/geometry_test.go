package geometry

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"geofacts/server/internal/models"
)

func pt(lat, lng float64) orb.Point {
	return orb.Point{lng, lat}
}

func TestHaversine(t *testing.T) {
	assert.Equal(t, 0.0, Haversine(pt(51.5, -0.1), pt(51.5, -0.1)))

	// One degree of latitude along a meridian.
	assert.InDelta(t, 111.19, Haversine(pt(0, 0), pt(1, 0)), 0.01)

	// London to Paris.
	assert.InDelta(t, 343.5, Haversine(pt(51.5074, -0.1278), pt(48.8566, 2.3522)), 1)

	assert.InDelta(t, Haversine(pt(10, 20), pt(-5, 3)), Haversine(pt(-5, 3), pt(10, 20)), 1e-9)
}

func TestNearest(t *testing.T) {
	candidates := []Candidate{
		{Code: "A", Point: pt(0, 0)},
		{Code: "B", Point: pt(1, 1)},
		{Code: "C", Point: pt(10, 10)},
	}

	best, ok := Nearest(pt(0.1, 0.1), candidates, DefaultThresholdKm)
	require.True(t, ok)
	assert.Equal(t, "A", best.Code)

	best, ok = Nearest(pt(9, 9), candidates, DefaultThresholdKm)
	require.True(t, ok)
	assert.Equal(t, "C", best.Code)
}

func TestNearest_TieKeepsFirst(t *testing.T) {
	candidates := []Candidate{
		{Code: "east", Point: pt(0, 1)},
		{Code: "west", Point: pt(0, -1)},
	}
	best, ok := Nearest(pt(0, 0), candidates, DefaultThresholdKm)
	require.True(t, ok)
	assert.Equal(t, "east", best.Code)
}

func TestNearest_ThresholdFallsBackToFirst(t *testing.T) {
	candidates := []Candidate{
		{Code: "far", Point: pt(40, 40)},
		{Code: "farther", Point: pt(50, 50)},
	}
	best, ok := Nearest(pt(0, 0), candidates, 1)
	require.True(t, ok)
	assert.Equal(t, "far", best.Code)

	_, ok = Nearest(pt(0, 0), nil, 1)
	assert.False(t, ok)
}

func TestCoordinateRanges_Symmetric(t *testing.T) {
	r := CoordinateRanges(0, 0, 100, Kilometers)
	assert.InDelta(t, 0.9009, r.MaxLat, 1e-4)
	assert.InDelta(t, -0.9009, r.MinLat, 1e-4)
	assert.InDelta(t, 0.9009, r.MaxLng, 1e-4)
	assert.InDelta(t, -0.9009, r.MinLng, 1e-4)
	assert.Equal(t, -r.MinLat, r.MaxLat)
	assert.Equal(t, -r.MinLng, r.MaxLng)
}

func TestCoordinateRanges_Miles(t *testing.T) {
	km := CoordinateRanges(51.5, -0.1, 160.934, Kilometers)
	mi := CoordinateRanges(51.5, -0.1, 100, Miles)
	assert.InDelta(t, km.MaxLat, mi.MaxLat, 1e-9)
	assert.InDelta(t, km.MaxLng, mi.MaxLng, 1e-9)

	// Longitude widens away from the equator.
	assert.Greater(t, mi.MaxLng-mi.MinLng, mi.MaxLat-mi.MinLat)
}

func TestCoordinateRanges_ContainsHaversineCircle(t *testing.T) {
	center := pt(51.5, -0.1)
	r := CoordinateRanges(center.Lat(), center.Lon(), 5, Kilometers)
	for _, p := range []orb.Point{pt(51.54, -0.1), pt(51.5, -0.16), pt(51.47, -0.05)} {
		if Haversine(center, p) <= 5 {
			assert.True(t, r.Contains(p), "%v", p)
		}
	}
	assert.True(t, r.Bound().Contains(center))
}

func TestParseUnit(t *testing.T) {
	u, err := ParseUnit("")
	require.NoError(t, err)
	assert.Equal(t, Kilometers, u)

	u, err = ParseUnit("Miles")
	require.NoError(t, err)
	assert.Equal(t, Miles, u)

	_, err = ParseUnit("furlongs")
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	center := pt(51.5, -0.1)
	candidates := []Candidate{
		{Code: "far", Point: pt(52.5, -0.1)},
		{Code: "near", Point: pt(51.51, -0.1)},
		{Code: "here", Point: center},
		{Code: "mid", Point: pt(51.55, -0.1)},
	}

	matches := Search(center, 10, candidates)
	require.Len(t, matches, 3)
	assert.Equal(t, "here", matches[0].Code)
	assert.Equal(t, "near", matches[1].Code)
	assert.Equal(t, "mid", matches[2].Code)
	assert.Equal(t, 0.0, matches[0].DistanceKm)

	exact := Search(center, 0, candidates)
	require.Len(t, exact, 1)
	assert.Equal(t, "here", exact[0].Code)

	assert.Empty(t, Search(center, 1, nil))
}

type mockCandidateSource struct {
	mock.Mock
}

func (m *mockCandidateSource) AreaCandidates(ctx context.Context, areaCode string) ([]Candidate, error) {
	args := m.Called(ctx, areaCode)
	candidates, _ := args.Get(0).([]Candidate)
	return candidates, args.Error(1)
}

func TestAreaResolver(t *testing.T) {
	ctx := context.Background()
	src := &mockCandidateSource{}
	src.On("AreaCandidates", ctx, "E01").Return([]Candidate{
		{Code: "AA1 1AA", Point: pt(0, 0)},
		{Code: "AA1 1AB", Point: pt(1, 1)},
	}, nil).Once()
	src.On("AreaCandidates", ctx, "E02").Return([]Candidate{}, nil).Once()
	src.On("AreaCandidates", ctx, "E03").Return(nil, errors.New("connection refused")).Once()

	r := NewAreaResolver(src, 0, logrus.New())

	got, err := r.Resolve(ctx, "E01", pt(0.9, 0.9))
	require.NoError(t, err)
	assert.Equal(t, "AA1 1AB", got.Code)

	// Second lookup is served from the cache.
	got, err = r.Resolve(ctx, "E01", pt(0.1, 0.1))
	require.NoError(t, err)
	assert.Equal(t, "AA1 1AA", got.Code)

	_, err = r.Resolve(ctx, "E02", pt(0, 0))
	assert.ErrorIs(t, err, ErrUnassignable)

	_, err = r.Resolve(ctx, "E03", pt(0, 0))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnassignable)

	assert.Equal(t, 2, r.Areas())
	src.AssertExpectations(t)
}

func TestConvexHull(t *testing.T) {
	square := []orb.Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0.5, 0.5}, {0.2, 0.7}}
	hull := ConvexHull(square)
	require.NotNil(t, hull)
	assert.Len(t, hull, 5)
	assert.True(t, hull.Closed())
	assert.NotContains(t, hull, orb.Point{0.5, 0.5})

	assert.Nil(t, ConvexHull([]orb.Point{{0, 0}, {1, 1}}))
	assert.Nil(t, ConvexHull([]orb.Point{{0, 0}, {1, 1}, {2, 2}}), "collinear points have no area")
}

func TestDistrictHulls(t *testing.T) {
	fc := DistrictHulls(map[string][]orb.Point{
		"SW1A": {{0, 0}, {1, 0}, {0, 1}},
		"SW1B": {{0, 0}},
	})
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "SW1A", fc.Features[0].Properties["district"])
	assert.Equal(t, "Polygon", fc.Features[0].Geometry.GeoJSONType())
}

func TestMarkersFeatureCollection(t *testing.T) {
	fc := MarkersFeatureCollection([]models.MapMarker{
		{ID: 1, Latitude: 51.5, Longitude: -0.1, Type: models.MarkerProperty},
		{ID: 2, Latitude: 51.6, Longitude: -0.2, Type: models.MarkerIncident},
	})
	require.Len(t, fc.Features, 2)
	assert.Equal(t, orb.Point{-0.1, 51.5}, fc.Features[0].Geometry)
	assert.Equal(t, "incident", fc.Features[1].Properties["type"])
}
