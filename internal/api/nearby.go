package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"

	"geofacts/server/internal/geometry"
	"geofacts/server/internal/models"
)

// maxRangeKm bounds the radius of nearby searches.
const maxRangeKm = 50.0

type nearbyQuery struct {
	Lat   *float64 `form:"lat" binding:"required"`
	Lng   *float64 `form:"lng" binding:"required"`
	Range *float64 `form:"range"`
	Unit  string   `form:"unit"`
	DateRange
}

type area struct {
	center   orb.Point
	radiusKm float64
	ranges   geometry.Ranges
}

func (q nearbyQuery) resolve() (area, error) {
	if *q.Lat < -90 || *q.Lat > 90 || *q.Lng < -180 || *q.Lng > 180 {
		return area{}, fmt.Errorf("coordinates out of range")
	}
	unit, err := geometry.ParseUnit(q.Unit)
	if err != nil {
		return area{}, err
	}

	rng := 1.0
	if q.Range != nil {
		rng = *q.Range
	}
	if rng < 0 || unit.ToKm(rng) > maxRangeKm {
		return area{}, fmt.Errorf("range must be between 0 and %v km", maxRangeKm)
	}

	return area{
		center:   orb.Point{*q.Lng, *q.Lat},
		radiusKm: unit.ToKm(rng),
		ranges:   geometry.CoordinateRanges(*q.Lat, *q.Lng, rng, unit),
	}, nil
}

func (h *Handler) bindArea(c *gin.Context) (nearbyQuery, area, bool) {
	var q nearbyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng are required"})
		return q, area{}, false
	}
	a, err := q.resolve()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return q, area{}, false
	}
	return q, a, true
}

// within filters items down to the exact radius, closest first. The bounding
// box pre-filter has already been applied by the store.
func within[T any](a area, items []T, location func(T) orb.Point) ([]T, []float64) {
	candidates := make([]geometry.Candidate, len(items))
	for i, item := range items {
		candidates[i] = geometry.Candidate{Code: strconv.Itoa(i), Point: location(item)}
	}

	matches := geometry.Search(a.center, a.radiusKm, candidates)
	out := make([]T, len(matches))
	distances := make([]float64, len(matches))
	for i, m := range matches {
		idx, _ := strconv.Atoi(m.Code)
		out[i] = items[idx]
		distances[i] = m.DistanceKm
	}
	return out, distances
}

type markerResult struct {
	models.MapMarker
	DistanceKm float64 `json:"distance_km"`
}

func (h *Handler) NearbyMarkers(c *gin.Context) {
	_, a, ok := h.bindArea(c)
	if !ok {
		return
	}
	kind := models.MarkerType(strings.ToLower(c.Query("type")))
	if kind != "" && !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown marker type"})
		return
	}

	markers, err := h.db.MarkersWithin(c.Request.Context(), a.ranges, kind)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get markers")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get markers"})
		return
	}

	found, distances := within(a, markers, models.MapMarker.Location)
	results := make([]markerResult, len(found))
	for i, m := range found {
		results[i] = markerResult{MapMarker: m, DistanceKm: distances[i]}
	}
	c.JSON(http.StatusOK, results)
}

// MarkersGeoJSON returns the markers around a point as a GeoJSON feature collection.
func (h *Handler) MarkersGeoJSON(c *gin.Context) {
	_, a, ok := h.bindArea(c)
	if !ok {
		return
	}

	markers, err := h.db.MarkersWithin(c.Request.Context(), a.ranges, models.MarkerType(strings.ToLower(c.Query("type"))))
	if err != nil {
		h.logger.WithError(err).Error("Failed to get markers")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get markers"})
		return
	}

	found, _ := within(a, markers, models.MapMarker.Location)
	c.JSON(http.StatusOK, geometry.MarkersFeatureCollection(found))
}

type incidentResult struct {
	models.Incident
	DistanceKm float64 `json:"distance_km"`
}

func (h *Handler) NearbyIncidents(c *gin.Context) {
	q, a, ok := h.bindArea(c)
	if !ok {
		return
	}
	from, to, err := q.DateRange.parse()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	incidents, err := h.db.IncidentsWithin(c.Request.Context(), a.ranges, from, to)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get incidents")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get incidents"})
		return
	}

	found, distances := within(a, incidents, models.Incident.Location)
	results := make([]incidentResult, len(found))
	for i, inc := range found {
		results[i] = incidentResult{Incident: inc, DistanceKm: distances[i]}
	}
	c.JSON(http.StatusOK, results)
}

type postcodeResult struct {
	Code       string  `json:"code"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	AreaCode   string  `json:"area_code,omitempty"`
	DistanceKm float64 `json:"distance_km"`
}

func (h *Handler) NearbyPostcodes(c *gin.Context) {
	_, a, ok := h.bindArea(c)
	if !ok {
		return
	}

	points, err := h.db.ReferencePointsWithin(c.Request.Context(), a.ranges)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get postcodes")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get postcodes"})
		return
	}

	found, distances := within(a, points, func(p models.ReferencePoint) orb.Point {
		loc, _ := p.Location()
		return loc
	})
	results := make([]postcodeResult, len(found))
	for i, p := range found {
		loc, _ := p.Location()
		results[i] = postcodeResult{
			Code:       p.Code,
			Latitude:   loc.Lat(),
			Longitude:  loc.Lon(),
			DistanceKm: distances[i],
		}
		if p.AreaCode != nil {
			results[i].AreaCode = *p.AreaCode
		}
	}
	c.JSON(http.StatusOK, results)
}

// DistrictHulls returns the convex hull of every postcode district under a prefix.
func (h *Handler) DistrictHulls(c *gin.Context) {
	prefix := strings.ToUpper(strings.TrimSpace(c.Param("prefix")))
	if prefix == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prefix is required"})
		return
	}

	points, err := h.db.ReferencePointsWithPrefix(c.Request.Context(), prefix)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get postcodes")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get postcodes"})
		return
	}

	districts := make(map[string][]orb.Point)
	for _, p := range points {
		loc, ok := p.Location()
		if !ok {
			continue
		}
		outward, _, _ := strings.Cut(p.Code, " ")
		districts[outward] = append(districts[outward], loc)
	}
	c.JSON(http.StatusOK, geometry.DistrictHulls(districts))
}
