package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"geofacts/server/internal/models"
)

// insertChunk keeps each INSERT well under SQLite's bound variable limit.
const insertChunk = 250

// unitColumns are refreshed when an existing unit is re-ingested in update mode.
var unitColumns = []string{
	"postcode", "property_type", "tenure", "paon", "saon", "street",
	"locality", "town", "district", "county", "updated_at",
}

func conflictDoNothing(columns ...string) clause.OnConflict {
	cols := make([]clause.Column, len(columns))
	for i, c := range columns {
		cols[i] = clause.Column{Name: c}
	}
	return clause.OnConflict{Columns: cols, DoNothing: true}
}

// insertBatch writes rows in one transaction, resolving conflicts with onConflict.
func insertBatch[T any](ctx context.Context, db *gorm.DB, rows []T, onConflict clause.OnConflict) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(onConflict).CreateInBatches(&rows, insertChunk).Error
	})
}

// InsertReferencePoints adds postcodes. Existing codes are left untouched.
func (d *Database) InsertReferencePoints(ctx context.Context, points []models.ReferencePoint) error {
	if err := insertBatch(ctx, d.db, points, conflictDoNothing("code")); err != nil {
		return fmt.Errorf("failed to insert reference points: %w", err)
	}
	return nil
}

// UpsertUnits adds addressable units. With refresh set, units that already
// exist get their attributes overwritten; otherwise they are left untouched.
func (d *Database) UpsertUnits(ctx context.Context, units []models.AddressableUnit, refresh bool) error {
	onConflict := conflictDoNothing("guid")
	if refresh {
		onConflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "guid"}},
			DoUpdates: clause.AssignmentColumns(unitColumns),
		}
	}
	if err := insertBatch(ctx, d.db, units, onConflict); err != nil {
		return fmt.Errorf("failed to upsert addressable units: %w", err)
	}
	return nil
}

// InsertSales adds transaction facts. The first write of a fact wins.
func (d *Database) InsertSales(ctx context.Context, sales []models.Sale) error {
	if err := insertBatch(ctx, d.db, sales, conflictDoNothing("unit_guid", "date", "price")); err != nil {
		return fmt.Errorf("failed to insert sales: %w", err)
	}
	return nil
}

// InsertIncidents adds incident reports keyed by their fact key.
func (d *Database) InsertIncidents(ctx context.Context, incidents []models.Incident) error {
	if err := insertBatch(ctx, d.db, incidents, conflictDoNothing("fact_key")); err != nil {
		return fmt.Errorf("failed to insert incidents: %w", err)
	}
	return nil
}

// InsertMarkers adds map markers, keeping at most one per position and type.
func (d *Database) InsertMarkers(ctx context.Context, markers []models.MapMarker) error {
	if err := insertBatch(ctx, d.db, markers, conflictDoNothing("latitude", "longitude", "type")); err != nil {
		return fmt.Errorf("failed to insert map markers: %w", err)
	}
	return nil
}

// UpsertTimeSeries writes aggregates, replacing earlier values for the same
// code, month and level.
func (d *Database) UpsertTimeSeries(ctx context.Context, points []models.TimeSeriesPoint) error {
	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}, {Name: "month"}, {Name: "level"}},
		DoUpdates: clause.AssignmentColumns([]string{"count", "mean_price"}),
	}
	if err := insertBatch(ctx, d.db, points, onConflict); err != nil {
		return fmt.Errorf("failed to upsert time series: %w", err)
	}
	return nil
}

// AreaCodeUpdate assigns an area grouping to a postcode.
type AreaCodeUpdate struct {
	Code     string
	AreaCode string
}

// UpdateAreaCodes sets the area code of existing reference points and returns
// how many were updated. Unknown postcodes are skipped.
func (d *Database) UpdateAreaCodes(ctx context.Context, updates []AreaCodeUpdate) (int64, error) {
	var updated int64
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			res := tx.Model(&models.ReferencePoint{}).
				Where("code = ?", u.Code).
				Updates(map[string]interface{}{"area_code": u.AreaCode, "updated_at": time.Now()})
			if res.Error != nil {
				return res.Error
			}
			updated += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update area codes: %w", err)
	}
	return updated, nil
}

// SetCoordinates stores geocoded coordinates for a postcode.
func (d *Database) SetCoordinates(ctx context.Context, code string, lat, lng float64) error {
	return d.db.WithContext(ctx).Model(&models.ReferencePoint{}).
		Where("code = ?", code).
		Updates(map[string]interface{}{
			"latitude":            lat,
			"longitude":           lng,
			"geocoding_attempted": true,
			"updated_at":          time.Now(),
		}).Error
}

// MarkGeocodingAttempted records a failed geocoding attempt so the postcode is
// not retried on every run.
func (d *Database) MarkGeocodingAttempted(ctx context.Context, code string) error {
	return d.db.WithContext(ctx).Model(&models.ReferencePoint{}).
		Where("code = ?", code).
		Update("geocoding_attempted", true).Error
}
