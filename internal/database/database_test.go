package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geofacts/server/internal/dedup"
	"geofacts/server/internal/geometry"
	"geofacts/server/internal/models"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func fp(v float64) *float64 { return &v }
func sp(v string) *string   { return &v }

func TestMigrate_CreatesSecondaryIndexes(t *testing.T) {
	db := setupTestDB(t)
	for _, spec := range SecondaryIndexes() {
		assert.True(t, db.HasIndex(spec.Table, spec.Name), spec.Name)
	}
}

func TestSecondaryIndexes_ByTable(t *testing.T) {
	specs := SecondaryIndexes("incidents")
	require.Len(t, specs, 4)
	for _, s := range specs {
		assert.Equal(t, "incidents", s.Table)
	}
	assert.Len(t, SecondaryIndexes(), 9)
}

func TestIndexToggle_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	spec := SecondaryIndexes("sales")[0]

	require.NoError(t, db.DropIndex(ctx, spec))
	require.NoError(t, db.DropIndex(ctx, spec))
	assert.False(t, db.HasIndex(spec.Table, spec.Name))

	require.NoError(t, db.CreateIndex(ctx, spec))
	require.NoError(t, db.CreateIndex(ctx, spec))
	assert.True(t, db.HasIndex(spec.Table, spec.Name))
}

func TestInsertReferencePoints_FirstWriteWins(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertReferencePoints(ctx, []models.ReferencePoint{
		{Code: "SW1A 1AA", Latitude: fp(51.501009), Longitude: fp(-0.141588), AreaCode: sp("E01004736")},
		{Code: "SW1A 2AA"},
	}))
	require.NoError(t, db.InsertReferencePoints(ctx, []models.ReferencePoint{
		{Code: "SW1A 1AA", Latitude: fp(1), Longitude: fp(1)},
	}))

	codes, err := db.ReferenceCodes(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"SW1A 1AA", "SW1A 2AA"}, codes)

	candidates, err := db.AreaCandidates(ctx, "E01004736")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, 51.501009, candidates[0].Point.Lat())
}

func TestUpsertUnits_Refresh(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	unit := models.AddressableUnit{GUID: "G1", Postcode: "SW1A 1AA", Street: "DOWNING STREET", PropertyType: "T"}

	require.NoError(t, db.UpsertUnits(ctx, []models.AddressableUnit{unit}, false))

	unit.PropertyType = "F"
	require.NoError(t, db.UpsertUnits(ctx, []models.AddressableUnit{unit}, false))
	got, err := db.UnitByGUID(ctx, "G1")
	require.NoError(t, err)
	assert.Equal(t, "T", got.PropertyType)

	require.NoError(t, db.UpsertUnits(ctx, []models.AddressableUnit{unit}, true))
	got, err = db.UnitByGUID(ctx, "G1")
	require.NoError(t, err)
	assert.Equal(t, "F", got.PropertyType)

	guids, err := db.UnitGUIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"G1"}, guids)
}

func TestInsertSales_UniqueFacts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	day := time.Date(2019, 1, 4, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.UpsertUnits(ctx, []models.AddressableUnit{{GUID: "G1", Postcode: "SW1A 1AA"}}, false))
	sales := []models.Sale{
		{UnitGUID: "G1", Date: day, Price: 25000000},
		{UnitGUID: "G1", Date: day.AddDate(1, 0, 0), Price: 26000000},
	}
	require.NoError(t, db.InsertSales(ctx, sales))
	require.NoError(t, db.InsertSales(ctx, []models.Sale{{UnitGUID: "G1", Date: day, Price: 25000000}}))

	got, err := db.UnitSales(ctx, "G1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Date.Equal(day))

	var keys []string
	require.NoError(t, db.SaleKeys(ctx, func(key string) { keys = append(keys, key) }))
	assert.ElementsMatch(t, []string{
		dedup.SaleKey("G1", day, 25000000),
		dedup.SaleKey("G1", day.AddDate(1, 0, 0), 26000000),
	}, keys)

	var rows []SaleRow
	require.NoError(t, db.EachSale(ctx, func(r SaleRow) error {
		rows = append(rows, r)
		return nil
	}))
	require.Len(t, rows, 2)
	assert.Equal(t, "SW1A 1AA", rows[0].Postcode)

	stats, err := db.SaleStats(ctx, "SW1A", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalSales)
	assert.Equal(t, int64(25000000), stats.MinPrice)
	assert.Equal(t, int64(26000000), stats.MaxPrice)
	assert.InDelta(t, 25500000, stats.AveragePrice, 0.5)

	stats, err = db.SaleStats(ctx, "", day.AddDate(0, 6, 0), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalSales)
}

func TestUpdateAreaCodes_OnlyExisting(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.InsertReferencePoints(ctx, []models.ReferencePoint{
		{Code: "SW1A 1AA", Latitude: fp(51.5), Longitude: fp(-0.14)},
	}))

	n, err := db.UpdateAreaCodes(ctx, []AreaCodeUpdate{
		{Code: "SW1A 1AA", AreaCode: "E01"},
		{Code: "ZZ1 1ZZ", AreaCode: "E02"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	counts, err := db.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["reference_points"])

	candidates, err := db.AreaCandidates(ctx, "E01")
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestMarkers_WithinAndUnique(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	markers := []models.MapMarker{
		{Latitude: 51.5, Longitude: -0.1, Type: models.MarkerProperty},
		{Latitude: 51.5, Longitude: -0.1, Type: models.MarkerIncident},
		{Latitude: 53.4, Longitude: -2.2, Type: models.MarkerProperty},
	}
	require.NoError(t, db.InsertMarkers(ctx, markers))
	require.NoError(t, db.InsertMarkers(ctx, markers[:1]))

	r := geometry.CoordinateRanges(51.5, -0.1, 10, geometry.Kilometers)
	got, err := db.MarkersWithin(ctx, r, "")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = db.MarkersWithin(ctx, r, models.MarkerIncident)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.MarkerIncident, got[0].Type)

	var keys []string
	require.NoError(t, db.MarkerKeys(ctx, func(k string) { keys = append(keys, k) }))
	assert.Len(t, keys, 3)
	assert.Contains(t, keys, dedup.MarkerKey(53.4, -2.2, "property"))
}

func TestIncidents_WithinAndKeys(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	month := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

	incidents := []models.Incident{
		{ExternalID: "a", Date: month, Latitude: 51.5, Longitude: -0.1, AreaCode: "E01", FactKey: "k1"},
		{ExternalID: "a", Date: month.AddDate(0, 1, 0), Latitude: 51.5, Longitude: -0.1, AreaCode: "E01", FactKey: "k2"},
		{ExternalID: "b", Date: month, Latitude: 55.9, Longitude: -3.2, AreaCode: "S01", FactKey: "k3"},
	}
	require.NoError(t, db.InsertIncidents(ctx, incidents))
	require.NoError(t, db.InsertIncidents(ctx, incidents))

	keys, err := db.IncidentKeys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k1", "k2", "k3"}, keys)

	r := geometry.CoordinateRanges(51.5, -0.1, 5, geometry.Kilometers)
	got, err := db.IncidentsWithin(ctx, r, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = db.IncidentsWithin(ctx, r, month.AddDate(0, 1, 0), time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	n := 0
	require.NoError(t, db.EachIncident(ctx, func(models.Incident) error {
		n++
		return nil
	}))
	assert.Equal(t, 3, n)
}

func TestEachUnitLocation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertReferencePoints(ctx, []models.ReferencePoint{
		{Code: "SW1A 1AA", Latitude: fp(51.5), Longitude: fp(-0.14)},
		{Code: "SW1A 2AA", Latitude: fp(51.6), Longitude: fp(-0.13)},
		{Code: "SW1A 3AA"},
	}))
	require.NoError(t, db.UpsertUnits(ctx, []models.AddressableUnit{
		{GUID: "G1", Postcode: "SW1A 1AA"},
		{GUID: "G2", Postcode: "SW1A 1AA"},
		{GUID: "G3", Postcode: "SW1A 3AA"},
	}, false))

	var codes []string
	require.NoError(t, db.EachUnitLocation(ctx, func(p models.ReferencePoint) error {
		codes = append(codes, p.Code)
		return nil
	}))
	assert.Equal(t, []string{"SW1A 1AA"}, codes)
}

func TestGeocodingHelpers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.InsertReferencePoints(ctx, []models.ReferencePoint{
		{Code: "AB1 0AA"}, {Code: "AB1 0AB"}, {Code: "AB1 0AC", Latitude: fp(57.1), Longitude: fp(-2.2)},
	}))

	missing, err := db.PointsMissingCoordinates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 2)

	require.NoError(t, db.SetCoordinates(ctx, "AB1 0AA", 57.10, -2.25))
	require.NoError(t, db.MarkGeocodingAttempted(ctx, "AB1 0AB"))

	missing, err = db.PointsMissingCoordinates(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, missing)

	points, err := db.ReferencePointsWithPrefix(ctx, "ab1")
	require.NoError(t, err)
	assert.Len(t, points, 2)

	points, err = db.ReferencePointsWithin(ctx, geometry.CoordinateRanges(57.1, -2.2, 10, geometry.Kilometers))
	require.NoError(t, err)
	assert.Len(t, points, 2)
}

func TestSearchUnits(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.UpsertUnits(ctx, []models.AddressableUnit{
		{GUID: "G1", Postcode: "SW1A 1AA", Street: "DOWNING STREET", Town: "LONDON", PropertyType: "T"},
		{GUID: "G2", Postcode: "SW1A 2AA", Street: "WHITEHALL", Town: "LONDON", PropertyType: "O"},
		{GUID: "G3", Postcode: "M1 1AE", Street: "PICCADILLY", Town: "MANCHESTER", PropertyType: "F"},
	}, false))

	units, total, err := db.SearchUnits(ctx, UnitFilter{Postcode: "sw1a"}, Page{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, units, 1)
	assert.Equal(t, "G1", units[0].GUID)

	units, total, err = db.SearchUnits(ctx, UnitFilter{Street: "hall"}, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "G2", units[0].GUID)

	_, total, err = db.SearchUnits(ctx, UnitFilter{Town: "manchester", PropertyType: "f"}, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestUpsertTimeSeries_Replaces(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	p := models.TimeSeriesPoint{Code: "SW1A", Month: "2019-01", Level: models.LevelDistrict, Count: 1, MeanPrice: 100}
	require.NoError(t, db.UpsertTimeSeries(ctx, []models.TimeSeriesPoint{p}))
	p.Count, p.MeanPrice = 2, 150
	require.NoError(t, db.UpsertTimeSeries(ctx, []models.TimeSeriesPoint{p}))

	got, err := db.TimeSeries(ctx, "sw1a", models.LevelDistrict)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Count)
	assert.Equal(t, int64(150), got[0].MeanPrice)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"}, nil)
	assert.Error(t, err)
}

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t, "geofacts.db?_busy_timeout=5000", sqliteDSN(""))
	assert.Equal(t, "file:x?mode=memory&_busy_timeout=5000", sqliteDSN("file:x?mode=memory"))
	assert.Equal(t, "a.db?_busy_timeout=10", sqliteDSN("a.db?_busy_timeout=10"))
}
