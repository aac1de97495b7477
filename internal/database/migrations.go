package database

import (
	"context"
	"fmt"
	"strings"

	"geofacts/server/internal/indexes"
	"geofacts/server/internal/models"
)

// Migrate creates or updates every table. It also recreates any secondary
// index left missing by an interrupted load.
func (d *Database) Migrate(ctx context.Context) error {
	err := d.db.WithContext(ctx).AutoMigrate(
		&models.ReferencePoint{},
		&models.AddressableUnit{},
		&models.Sale{},
		&models.Incident{},
		&models.MapMarker{},
		&models.TimeSeriesPoint{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// secondaryIndexes lists the non-unique indexes declared on the models.
// Unique indexes back deduplication and are never dropped.
var secondaryIndexes = []indexes.Spec{
	{Name: "idx_reference_points_location", Table: "reference_points", Columns: []string{"latitude", "longitude"}},
	{Name: "idx_reference_points_area", Table: "reference_points", Columns: []string{"area_code"}},
	{Name: "idx_addressable_units_postcode", Table: "addressable_units", Columns: []string{"postcode"}},
	{Name: "idx_addressable_units_street", Table: "addressable_units", Columns: []string{"street"}},
	{Name: "idx_sales_date", Table: "sales", Columns: []string{"date"}},
	{Name: "idx_incidents_date", Table: "incidents", Columns: []string{"date"}},
	{Name: "idx_incidents_location", Table: "incidents", Columns: []string{"latitude", "longitude"}},
	{Name: "idx_incidents_area", Table: "incidents", Columns: []string{"area_code"}},
	{Name: "idx_incidents_reference", Table: "incidents", Columns: []string{"reference_code"}},
}

// SecondaryIndexes returns the secondary indexes of the given tables, or of
// every table when none are named.
func SecondaryIndexes(tables ...string) []indexes.Spec {
	if len(tables) == 0 {
		return append([]indexes.Spec(nil), secondaryIndexes...)
	}
	want := make(map[string]bool, len(tables))
	for _, t := range tables {
		want[t] = true
	}
	var specs []indexes.Spec
	for _, s := range secondaryIndexes {
		if want[s.Table] {
			specs = append(specs, s)
		}
	}
	return specs
}

// DropIndex removes an index if it exists.
func (d *Database) DropIndex(ctx context.Context, spec indexes.Spec) error {
	return d.db.WithContext(ctx).Exec(fmt.Sprintf("DROP INDEX IF EXISTS %s", spec.Name)).Error
}

// CreateIndex creates an index unless it already exists.
func (d *Database) CreateIndex(ctx context.Context, spec indexes.Spec) error {
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		spec.Name, spec.Table, strings.Join(spec.Columns, ", "))
	return d.db.WithContext(ctx).Exec(stmt).Error
}

// HasIndex reports whether the named index exists on table.
func (d *Database) HasIndex(table, name string) bool {
	return d.db.Migrator().HasIndex(table, name)
}
