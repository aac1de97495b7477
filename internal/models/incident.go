package models

import (
	"time"

	"github.com/paulmach/orb"
)

// Incident is a reported crime, assigned to its nearest postcode at ingestion.
type Incident struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	ExternalID    string    `gorm:"size:128" json:"external_id"`
	Date          time.Time `gorm:"index:idx_incidents_date" json:"date"`
	Latitude      float64   `gorm:"index:idx_incidents_location" json:"latitude"`
	Longitude     float64   `gorm:"index:idx_incidents_location" json:"longitude"`
	Category      string    `json:"category"`
	Outcome       string    `json:"outcome"`
	Place         string    `json:"place"`
	AreaCode      string    `gorm:"size:16;index:idx_incidents_area" json:"area_code"`
	ReferenceCode string    `gorm:"size:16;index:idx_incidents_reference" json:"reference_code"`
	FactKey       string    `gorm:"size:64;uniqueIndex:idx_incidents_fact" json:"-"`
}

// Location returns the incident position.
func (i Incident) Location() orb.Point {
	return orb.Point{i.Longitude, i.Latitude}
}

// MarkerType is the closed set of marker kinds.
type MarkerType string

const (
	MarkerProperty MarkerType = "property"
	MarkerIncident MarkerType = "incident"
)

// Valid reports whether t is a known marker type.
func (t MarkerType) Valid() bool {
	return t == MarkerProperty || t == MarkerIncident
}

// MapMarker is a denormalized point shown on the map. At most one per (lat, lng, type).
type MapMarker struct {
	ID        int64      `gorm:"primaryKey" json:"id"`
	Latitude  float64    `gorm:"uniqueIndex:idx_map_markers_point" json:"latitude"`
	Longitude float64    `gorm:"uniqueIndex:idx_map_markers_point" json:"longitude"`
	Type      MarkerType `gorm:"size:16;uniqueIndex:idx_map_markers_point" json:"type"`
}

// Location returns the marker position.
func (m MapMarker) Location() orb.Point {
	return orb.Point{m.Longitude, m.Latitude}
}

// Granularity levels of the pre-aggregated price series.
const (
	LevelArea     = "area"
	LevelDistrict = "district"
	LevelSector   = "sector"
	LevelPostcode = "postcode"
)

// TimeSeriesPoint is a monthly sales aggregate for a postcode prefix.
type TimeSeriesPoint struct {
	ID        int64  `gorm:"primaryKey" json:"-"`
	Code      string `gorm:"size:16;uniqueIndex:idx_time_series_point" json:"code"`
	Month     string `gorm:"size:7;uniqueIndex:idx_time_series_point" json:"month"`
	Level     string `gorm:"size:16;uniqueIndex:idx_time_series_point" json:"level"`
	Count     int64  `json:"count"`
	MeanPrice int64  `json:"mean_price"`
}
