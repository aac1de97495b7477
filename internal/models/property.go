package models

import (
	"time"

	"github.com/paulmach/orb"
)

// Property type codes as published in the price paid extract.
const (
	PropertyTypeDetached     = "D"
	PropertyTypeSemiDetached = "S"
	PropertyTypeTerraced     = "T"
	PropertyTypeFlat         = "F"
	PropertyTypeOther        = "O"
)

// Tenure codes.
const (
	TenureFreehold  = "F"
	TenureLeasehold = "L"
)

// ReferencePoint is a postcode with optional coordinates and area grouping.
type ReferencePoint struct {
	ID                 int64     `gorm:"primaryKey" json:"id"`
	Code               string    `gorm:"size:16;uniqueIndex:idx_reference_points_code" json:"code"`
	Latitude           *float64  `gorm:"index:idx_reference_points_location" json:"latitude"`
	Longitude          *float64  `gorm:"index:idx_reference_points_location" json:"longitude"`
	AreaCode           *string   `gorm:"size:16;index:idx_reference_points_area" json:"area_code"`
	GeocodingAttempted bool      `gorm:"default:false" json:"-"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Location returns the point of a reference point, if it has coordinates.
func (r ReferencePoint) Location() (orb.Point, bool) {
	if r.Latitude == nil || r.Longitude == nil {
		return orb.Point{}, false
	}
	return orb.Point{*r.Longitude, *r.Latitude}, true
}

// AddressableUnit is a single property identified by its address.
type AddressableUnit struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	GUID         string    `gorm:"size:255;uniqueIndex:idx_addressable_units_guid" json:"guid"`
	Postcode     string    `gorm:"size:16;index:idx_addressable_units_postcode" json:"postcode"`
	PropertyType string    `gorm:"size:1" json:"property_type"`
	Tenure       string    `gorm:"size:1" json:"tenure"`
	PAON         string    `json:"paon"`
	SAON         string    `json:"saon"`
	Street       string    `gorm:"index:idx_addressable_units_street" json:"street"`
	Locality     string    `json:"locality"`
	Town         string    `json:"town"`
	District     string    `json:"district"`
	County       string    `json:"county"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Sale is a transaction fact. Its identity is (UnitGUID, Date, Price).
type Sale struct {
	ID       int64     `gorm:"primaryKey" json:"id"`
	UnitGUID string    `gorm:"size:255;uniqueIndex:idx_sales_fact" json:"unit_guid"`
	Date     time.Time `gorm:"uniqueIndex:idx_sales_fact;index:idx_sales_date" json:"date"`
	Price    int64     `gorm:"uniqueIndex:idx_sales_fact" json:"price"`
}

type PropertyStats struct {
	TotalSales   int     `json:"total_sales"`
	AveragePrice float64 `json:"average_price"`
	MinPrice     int64   `json:"min_price"`
	MaxPrice     int64   `json:"max_price"`
}
