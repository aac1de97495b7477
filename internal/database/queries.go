package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"geofacts/server/internal/dedup"
	"geofacts/server/internal/geometry"
	"geofacts/server/internal/models"
)

// pageSize bounds the rows held in memory by the streaming readers. Each page
// is read completely before callbacks run, so callbacks may use the store.
const pageSize = 5000

// eachPage walks a table in primary key order. query builds the statement for
// rows after lastID; idOf extracts the key of a row.
func eachPage[T any](ctx context.Context, query func(lastID int64) *gorm.DB, idOf func(T) int64, fn func(T) error) error {
	var lastID int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var page []T
		if err := query(lastID).Limit(pageSize).Find(&page).Error; err != nil {
			return err
		}
		for _, row := range page {
			if err := fn(row); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
		lastID = idOf(page[len(page)-1])
	}
}

// ReferenceCodes returns every known postcode.
func (d *Database) ReferenceCodes(ctx context.Context) ([]string, error) {
	var codes []string
	if err := d.db.WithContext(ctx).Model(&models.ReferencePoint{}).Pluck("code", &codes).Error; err != nil {
		return nil, fmt.Errorf("failed to load reference codes: %w", err)
	}
	return codes, nil
}

// UnitGUIDs returns the identity of every stored addressable unit.
func (d *Database) UnitGUIDs(ctx context.Context) ([]string, error) {
	var guids []string
	if err := d.db.WithContext(ctx).Model(&models.AddressableUnit{}).Pluck("guid", &guids).Error; err != nil {
		return nil, fmt.Errorf("failed to load unit identities: %w", err)
	}
	return guids, nil
}

// SaleKeys calls fn with the fact key of every stored sale.
func (d *Database) SaleKeys(ctx context.Context, fn func(key string)) error {
	db := d.db.WithContext(ctx)
	err := eachPage(ctx, func(lastID int64) *gorm.DB {
		return db.Model(&models.Sale{}).Select("id", "unit_guid", "date", "price").
			Where("id > ?", lastID).Order("id")
	}, func(s models.Sale) int64 { return s.ID }, func(s models.Sale) error {
		fn(dedup.SaleKey(s.UnitGUID, s.Date, s.Price))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load sale keys: %w", err)
	}
	return nil
}

// IncidentKeys returns the fact key of every stored incident.
func (d *Database) IncidentKeys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := d.db.WithContext(ctx).Model(&models.Incident{}).Pluck("fact_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("failed to load incident keys: %w", err)
	}
	return keys, nil
}

// MarkerKeys calls fn with the key of every stored map marker.
func (d *Database) MarkerKeys(ctx context.Context, fn func(key string)) error {
	db := d.db.WithContext(ctx)
	err := eachPage(ctx, func(lastID int64) *gorm.DB {
		return db.Model(&models.MapMarker{}).Where("id > ?", lastID).Order("id")
	}, func(m models.MapMarker) int64 { return m.ID }, func(m models.MapMarker) error {
		fn(dedup.MarkerKey(m.Latitude, m.Longitude, string(m.Type)))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load marker keys: %w", err)
	}
	return nil
}

// AreaCandidates returns the located reference points of an area in storage order.
func (d *Database) AreaCandidates(ctx context.Context, areaCode string) ([]geometry.Candidate, error) {
	var points []models.ReferencePoint
	err := d.db.WithContext(ctx).
		Where("area_code = ? AND latitude IS NOT NULL AND longitude IS NOT NULL", areaCode).
		Order("id").
		Find(&points).Error
	if err != nil {
		return nil, err
	}

	candidates := make([]geometry.Candidate, 0, len(points))
	for _, p := range points {
		if loc, ok := p.Location(); ok {
			candidates = append(candidates, geometry.Candidate{Code: p.Code, Point: loc})
		}
	}
	return candidates, nil
}

// EachUnitLocation calls fn with every located postcode that has at least one
// addressable unit.
func (d *Database) EachUnitLocation(ctx context.Context, fn func(models.ReferencePoint) error) error {
	db := d.db.WithContext(ctx)
	err := eachPage(ctx, func(lastID int64) *gorm.DB {
		return db.Model(&models.ReferencePoint{}).
			Where("id > ? AND latitude IS NOT NULL AND longitude IS NOT NULL", lastID).
			Where("EXISTS (SELECT 1 FROM addressable_units u WHERE u.postcode = reference_points.code)").
			Order("id")
	}, func(p models.ReferencePoint) int64 { return p.ID }, fn)
	if err != nil {
		return fmt.Errorf("failed to scan unit locations: %w", err)
	}
	return nil
}

// EachIncident calls fn with every stored incident.
func (d *Database) EachIncident(ctx context.Context, fn func(models.Incident) error) error {
	db := d.db.WithContext(ctx)
	err := eachPage(ctx, func(lastID int64) *gorm.DB {
		return db.Model(&models.Incident{}).Where("id > ?", lastID).Order("id")
	}, func(i models.Incident) int64 { return i.ID }, fn)
	if err != nil {
		return fmt.Errorf("failed to scan incidents: %w", err)
	}
	return nil
}

// SaleRow is a sale joined with the postcode of its unit.
type SaleRow struct {
	ID       int64
	Postcode string
	Date     time.Time
	Price    int64
}

// EachSale calls fn with every sale and the postcode of its unit.
func (d *Database) EachSale(ctx context.Context, fn func(SaleRow) error) error {
	db := d.db.WithContext(ctx)
	err := eachPage(ctx, func(lastID int64) *gorm.DB {
		return db.Table("sales").
			Select("sales.id, addressable_units.postcode, sales.date, sales.price").
			Joins("JOIN addressable_units ON addressable_units.guid = sales.unit_guid").
			Where("sales.id > ?", lastID).
			Order("sales.id")
	}, func(r SaleRow) int64 { return r.ID }, fn)
	if err != nil {
		return fmt.Errorf("failed to scan sales: %w", err)
	}
	return nil
}

// PointsMissingCoordinates returns up to limit postcodes without coordinates
// that have not been geocoded yet.
func (d *Database) PointsMissingCoordinates(ctx context.Context, limit int) ([]models.ReferencePoint, error) {
	var points []models.ReferencePoint
	err := d.db.WithContext(ctx).
		Where("latitude IS NULL AND geocoding_attempted = ?", false).
		Order("id").
		Limit(limit).
		Find(&points).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load postcodes without coordinates: %w", err)
	}
	return points, nil
}

// UnitFilter narrows a unit search. Empty fields are ignored.
type UnitFilter struct {
	Postcode     string // prefix
	Street       string // substring, case-insensitive
	Town         string
	PropertyType string
}

// Page selects a window of results.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalized() Page {
	if p.Limit <= 0 || p.Limit > 500 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// SearchUnits returns one page of matching units and the total match count.
func (d *Database) SearchUnits(ctx context.Context, f UnitFilter, page Page) ([]models.AddressableUnit, int64, error) {
	q := d.db.WithContext(ctx).Model(&models.AddressableUnit{})
	if f.Postcode != "" {
		q = q.Where("postcode LIKE ?", strings.ToUpper(f.Postcode)+"%")
	}
	if f.Street != "" {
		q = q.Where("UPPER(street) LIKE ?", "%"+strings.ToUpper(f.Street)+"%")
	}
	if f.Town != "" {
		q = q.Where("UPPER(town) = ?", strings.ToUpper(f.Town))
	}
	if f.PropertyType != "" {
		q = q.Where("property_type = ?", strings.ToUpper(f.PropertyType))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count units: %w", err)
	}

	page = page.normalized()
	var units []models.AddressableUnit
	if err := q.Order("postcode, street, paon, saon").Limit(page.Limit).Offset(page.Offset).Find(&units).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to search units: %w", err)
	}
	return units, total, nil
}

// UnitByGUID returns a unit, or gorm.ErrRecordNotFound.
func (d *Database) UnitByGUID(ctx context.Context, guid string) (*models.AddressableUnit, error) {
	var unit models.AddressableUnit
	if err := d.db.WithContext(ctx).Where("guid = ?", guid).First(&unit).Error; err != nil {
		return nil, err
	}
	return &unit, nil
}

// UnitSales returns the sales of a unit, oldest first.
func (d *Database) UnitSales(ctx context.Context, guid string) ([]models.Sale, error) {
	var sales []models.Sale
	err := d.db.WithContext(ctx).Where("unit_guid = ?", guid).Order("date, id").Find(&sales).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load sales: %w", err)
	}
	return sales, nil
}

// SaleStats summarizes the sales of units whose postcode starts with prefix
// between from and to. Zero times leave the range open.
func (d *Database) SaleStats(ctx context.Context, prefix string, from, to time.Time) (models.PropertyStats, error) {
	q := d.db.WithContext(ctx).Table("sales").
		Joins("JOIN addressable_units ON addressable_units.guid = sales.unit_guid")
	if prefix != "" {
		q = q.Where("addressable_units.postcode LIKE ?", strings.ToUpper(prefix)+"%")
	}
	if !from.IsZero() {
		q = q.Where("sales.date >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("sales.date <= ?", to)
	}

	var stats models.PropertyStats
	err := q.Select(`COUNT(*) AS total_sales,
		COALESCE(AVG(sales.price), 0) AS average_price,
		COALESCE(MIN(sales.price), 0) AS min_price,
		COALESCE(MAX(sales.price), 0) AS max_price`).
		Scan(&stats).Error
	if err != nil {
		return models.PropertyStats{}, fmt.Errorf("failed to compute sale stats: %w", err)
	}
	return stats, nil
}

// within restricts a query on latitude/longitude columns to r.
func within(q *gorm.DB, r geometry.Ranges) *gorm.DB {
	return q.Where("latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?",
		r.MinLat, r.MaxLat, r.MinLng, r.MaxLng)
}

// MarkersWithin returns markers inside r, optionally of one type.
func (d *Database) MarkersWithin(ctx context.Context, r geometry.Ranges, kind models.MarkerType) ([]models.MapMarker, error) {
	q := within(d.db.WithContext(ctx).Model(&models.MapMarker{}), r)
	if kind != "" {
		q = q.Where("type = ?", kind)
	}
	var markers []models.MapMarker
	if err := q.Order("id").Find(&markers).Error; err != nil {
		return nil, fmt.Errorf("failed to load markers: %w", err)
	}
	return markers, nil
}

// IncidentsWithin returns incidents inside r, optionally limited to a date range.
func (d *Database) IncidentsWithin(ctx context.Context, r geometry.Ranges, from, to time.Time) ([]models.Incident, error) {
	q := within(d.db.WithContext(ctx).Model(&models.Incident{}), r)
	if !from.IsZero() {
		q = q.Where("date >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("date <= ?", to)
	}
	var incidents []models.Incident
	if err := q.Order("id").Find(&incidents).Error; err != nil {
		return nil, fmt.Errorf("failed to load incidents: %w", err)
	}
	return incidents, nil
}

// ReferencePointsWithin returns located postcodes inside r.
func (d *Database) ReferencePointsWithin(ctx context.Context, r geometry.Ranges) ([]models.ReferencePoint, error) {
	var points []models.ReferencePoint
	if err := within(d.db.WithContext(ctx).Model(&models.ReferencePoint{}), r).Order("id").Find(&points).Error; err != nil {
		return nil, fmt.Errorf("failed to load postcodes: %w", err)
	}
	return points, nil
}

// ReferencePointsWithPrefix returns located postcodes starting with prefix.
func (d *Database) ReferencePointsWithPrefix(ctx context.Context, prefix string) ([]models.ReferencePoint, error) {
	var points []models.ReferencePoint
	err := d.db.WithContext(ctx).
		Where("code LIKE ? AND latitude IS NOT NULL AND longitude IS NOT NULL", strings.ToUpper(prefix)+"%").
		Order("code").
		Find(&points).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load postcodes: %w", err)
	}
	return points, nil
}

// TimeSeries returns the monthly aggregates of a code at a level, oldest first.
func (d *Database) TimeSeries(ctx context.Context, code, level string) ([]models.TimeSeriesPoint, error) {
	var points []models.TimeSeriesPoint
	err := d.db.WithContext(ctx).
		Where("code = ? AND level = ?", strings.ToUpper(code), level).
		Order("month").
		Find(&points).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load time series: %w", err)
	}
	return points, nil
}

// Counts returns the row count of every table.
func (d *Database) Counts(ctx context.Context) (map[string]int64, error) {
	tables := map[string]interface{}{
		"reference_points":   &models.ReferencePoint{},
		"addressable_units":  &models.AddressableUnit{},
		"sales":              &models.Sale{},
		"incidents":          &models.Incident{},
		"map_markers":        &models.MapMarker{},
		"time_series_points": &models.TimeSeriesPoint{},
	}
	counts := make(map[string]int64, len(tables))
	for name, model := range tables {
		var n int64
		if err := d.db.WithContext(ctx).Model(model).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", name, err)
		}
		counts[name] = n
	}
	return counts, nil
}
