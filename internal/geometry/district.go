package geometry

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"geofacts/server/internal/models"
)

// ConvexHull returns the closed convex hull of points, or nil when fewer than
// three distinct non-collinear points are given. The input is not modified.
func ConvexHull(points []orb.Point) orb.Ring {
	if len(points) < 3 {
		return nil
	}

	pts := make([]orb.Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i][0] != pts[j][0] {
			return pts[i][0] < pts[j][0]
		}
		return pts[i][1] < pts[j][1]
	})

	// Monotone chain: lower hull then upper hull.
	hull := make([]orb.Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// hull ends with its first point, so a triangle has four entries.
	if len(hull) < 4 {
		return nil
	}
	return orb.Ring(hull)
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

// DistrictHulls builds one polygon feature per postcode district from the
// reference points grouped under it. Districts whose points do not span an
// area are left out.
func DistrictHulls(districts map[string][]orb.Point) *geojson.FeatureCollection {
	codes := make([]string, 0, len(districts))
	for code := range districts {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	fc := geojson.NewFeatureCollection()
	for _, code := range codes {
		hull := ConvexHull(districts[code])
		if hull == nil {
			continue
		}
		feature := geojson.NewFeature(orb.Polygon{hull})
		feature.Properties = geojson.Properties{
			"district": code,
			"points":   len(districts[code]),
		}
		fc.Append(feature)
	}
	return fc
}

// MarkersFeatureCollection renders markers as GeoJSON points.
func MarkersFeatureCollection(markers []models.MapMarker) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, m := range markers {
		feature := geojson.NewFeature(m.Location())
		feature.ID = m.ID
		feature.Properties = geojson.Properties{
			"type": string(m.Type),
		}
		fc.Append(feature)
	}
	return fc
}
