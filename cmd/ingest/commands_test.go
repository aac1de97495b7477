package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geofacts/server/internal/pipeline"
)

func execute(t *testing.T, args ...string) (report, error) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "warn")

	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())

	var r report
	if out.Len() > 0 {
		require.NoError(t, json.Unmarshal(out.Bytes(), &r))
	}
	return r, err
}

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngest_PostcodesThenCrimes(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "geofacts.db")
	postcodes := writeCSV(t, dir, "postcodes.csv", "pcds,lat,long,lsoa11\nSW1A 1AA,51.501009,-0.141588,E01\nSW1A 2AA,51.503541,-0.127670,E01\n")
	crimes := writeCSV(t, dir, "crimes.csv", "Crime ID,Month,Longitude,Latitude,Location,LSOA code,Crime type,Last outcome category\nc1,2020-01,-0.1416,51.501,Downing Street,E01,Burglary,\n")

	r, err := execute(t, "--db-dsn", dsn, "--batch-size", "1", "postcodes", postcodes)
	require.NoError(t, err)
	assert.Equal(t, "postcodes", r.Dataset)
	assert.Equal(t, 2, r.Rows)
	assert.Equal(t, 2, r.Admitted[pipeline.EntityReferencePoint])
	assert.Equal(t, 2, r.Batches)

	r, err = execute(t, "--db-dsn", dsn, "crimes", crimes)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Admitted[pipeline.EntityIncident])

	r, err = execute(t, "--db-dsn", dsn, "markers")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Admitted[pipeline.EntityMarker])
}

func TestIngest_DryRun(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "geofacts.db")
	postcodes := writeCSV(t, dir, "postcodes.csv", "pcds,lat,long\nSW1A 1AA,51.5,-0.14\n")

	r, err := execute(t, "--db-dsn", dsn, "--dry-run", "postcodes", postcodes)
	require.NoError(t, err)
	assert.True(t, r.DryRun)
	assert.Equal(t, 1, r.Admitted[pipeline.EntityReferencePoint])

	// Nothing was written, so a real run admits the same postcode.
	r, err = execute(t, "--db-dsn", dsn, "postcodes", postcodes)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Admitted[pipeline.EntityReferencePoint])
}

func TestIngest_Preconditions(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "--db-dsn", filepath.Join(dir, "a.db"), "postcodes")
	assert.Error(t, err, "a path argument is required")

	_, err = execute(t, "--db-dsn", filepath.Join(dir, "a.db"), "postcodes", filepath.Join(dir, "missing.csv"))
	assert.ErrorIs(t, err, pipeline.ErrPrecondition)

	_, err = execute(t, "--db-driver", "oracle", "migrate")
	assert.ErrorIs(t, err, pipeline.ErrPrecondition)
}

func TestIngest_Migrate(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "geofacts.db")
	_, err := execute(t, "--db-dsn", dsn, "migrate")
	require.NoError(t, err)

	_, err = os.Stat(dsn)
	assert.NoError(t, err)
}
