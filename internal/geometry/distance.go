// Package geometry holds the spatial helpers shared by ingestion and queries:
// great-circle distance, nearest reference point resolution, bounding-box
// pre-filters and radius search. Points are orb.Point values, [lng, lat].
package geometry

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

const (
	// EarthRadiusKm is the mean Earth radius used for haversine distances.
	EarthRadiusKm = 6371.0

	// kmPerDegree approximates the length of one degree of latitude.
	kmPerDegree = 111.0

	kmPerMile = 1.60934
)

// Unit is a distance unit accepted by range queries.
type Unit string

const (
	Kilometers Unit = "km"
	Miles      Unit = "mi"
)

// ParseUnit accepts "km", "mi" and their long forms. Blank means kilometers.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "km", "kilometers", "kilometres":
		return Kilometers, nil
	case "mi", "mile", "miles":
		return Miles, nil
	default:
		return "", fmt.Errorf("unknown distance unit %q", s)
	}
}

// ToKm converts a distance in unit u to kilometers.
func (u Unit) ToKm(v float64) float64 {
	if u == Miles {
		return v * kmPerMile
	}
	return v
}

// Haversine returns the great-circle distance between a and b in kilometers.
func Haversine(a, b orb.Point) float64 {
	lat1 := a.Lat() * math.Pi / 180
	lat2 := b.Lat() * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Lon() - a.Lon()) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Ranges is a latitude/longitude rectangle around a point.
type Ranges struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// Bound returns the rectangle as an orb.Bound.
func (r Ranges) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{r.MinLng, r.MinLat},
		Max: orb.Point{r.MaxLng, r.MaxLat},
	}
}

// Contains reports whether p lies inside the rectangle, edges included.
func (r Ranges) Contains(p orb.Point) bool {
	return p.Lat() >= r.MinLat && p.Lat() <= r.MaxLat &&
		p.Lon() >= r.MinLng && p.Lon() <= r.MaxLng
}

// CoordinateRanges converts a radius into latitude and longitude deltas around
// (lat, lng). The rectangle is looser than the haversine circle; callers that
// need the exact predicate must filter with Haversine afterwards.
func CoordinateRanges(lat, lng, rng float64, unit Unit) Ranges {
	dLat := unit.ToKm(rng) / kmPerDegree

	dLng := 180.0
	if c := math.Cos(lat * math.Pi / 180); c > 1e-9 {
		dLng = math.Min(180, dLat/c)
	}

	return Ranges{
		MinLat: lat - dLat,
		MaxLat: lat + dLat,
		MinLng: lng - dLng,
		MaxLng: lng + dLng,
	}
}
