// Package pipeline runs the ingestion passes: read rows, normalize, drop
// duplicates, resolve locations and write batches, all bracketed by the
// secondary index lifecycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"geofacts/server/internal/database"
	"geofacts/server/internal/geometry"
	"geofacts/server/internal/indexes"
	"geofacts/server/internal/metrics"
	"geofacts/server/internal/models"
	"geofacts/server/internal/normalize"
	"geofacts/server/internal/processor"
	"geofacts/server/internal/source"
)

// ErrPrecondition marks failures detected before any row is processed.
var ErrPrecondition = errors.New("precondition failed")

// Store is the persistence surface used by the pipeline.
type Store interface {
	geometry.CandidateSource
	indexes.Toggler

	ReferenceCodes(ctx context.Context) ([]string, error)
	UnitGUIDs(ctx context.Context) ([]string, error)
	SaleKeys(ctx context.Context, fn func(key string)) error
	IncidentKeys(ctx context.Context) ([]string, error)
	MarkerKeys(ctx context.Context, fn func(key string)) error

	InsertReferencePoints(ctx context.Context, points []models.ReferencePoint) error
	UpdateAreaCodes(ctx context.Context, updates []database.AreaCodeUpdate) (int64, error)
	UpsertUnits(ctx context.Context, units []models.AddressableUnit, refresh bool) error
	InsertSales(ctx context.Context, sales []models.Sale) error
	InsertIncidents(ctx context.Context, incidents []models.Incident) error
	InsertMarkers(ctx context.Context, markers []models.MapMarker) error
	UpsertTimeSeries(ctx context.Context, points []models.TimeSeriesPoint) error

	EachUnitLocation(ctx context.Context, fn func(models.ReferencePoint) error) error
	EachIncident(ctx context.Context, fn func(models.Incident) error) error
	EachSale(ctx context.Context, fn func(database.SaleRow) error) error

	PointsMissingCoordinates(ctx context.Context, limit int) ([]models.ReferencePoint, error)
	SetCoordinates(ctx context.Context, code string, lat, lng float64) error
	MarkGeocodingAttempted(ctx context.Context, code string) error
}

// Options are the run parameters shared by every pass.
type Options struct {
	// Path is a CSV file or a directory of CSV files.
	Path        string
	BatchSize   int
	Concurrency int
	DryRun      bool
	// Update runs incrementally: indexes stay in place and known units may be refreshed.
	Update bool
	// ThresholdKm is the distance a reference point must beat to replace the
	// first candidate of an area.
	ThresholdKm float64
}

func (o Options) validate(needsPath bool) error {
	if o.BatchSize < 0 {
		return fmt.Errorf("%w: batch size must not be negative", ErrPrecondition)
	}
	if o.Concurrency < 0 {
		return fmt.Errorf("%w: concurrency must not be negative", ErrPrecondition)
	}
	if o.ThresholdKm < 0 {
		return fmt.Errorf("%w: threshold must not be negative", ErrPrecondition)
	}
	if needsPath && o.Path == "" {
		return fmt.Errorf("%w: input path is required", ErrPrecondition)
	}
	return nil
}

// Pipeline runs ingestion passes against a store.
type Pipeline struct {
	store  Store
	logger *logrus.Logger
}

func New(store Store, logger *logrus.Logger) *Pipeline {
	return &Pipeline{store: store, logger: logger}
}

// pass describes one run of the pipeline.
type pass struct {
	dataset string
	// tables whose secondary indexes are dropped during a full load.
	tables []string
	// readsFiles requires Options.Path to name CSV input.
	readsFiles bool
	// seed loads known identities before the index bracket opens.
	seed func(ctx context.Context) error
	// load feeds the processor. ctx is cancelled when a batch write fails.
	load func(ctx context.Context, proc *processor.BatchProcessor, stats *Stats) error
	// done runs once every write has settled, before the run is reported.
	done func(stats *Stats)
}

// run validates the pass, seeds identities and runs load inside the index
// bracket. The returned stats are valid even when err is not nil.
func (p *Pipeline) run(ctx context.Context, opts Options, ps pass) (stats *Stats, err error) {
	start := time.Now()
	stats = newStats(uuid.NewString(), ps.dataset, opts.DryRun)
	log := p.logger.WithFields(logrus.Fields{"run_id": stats.RunID, "dataset": ps.dataset})

	defer func() {
		stats.Duration = time.Since(start)
		status := "ok"
		if err != nil {
			status = "failed"
		}
		metrics.RunDurationSeconds.WithLabelValues(ps.dataset, status).Observe(stats.Duration.Seconds())
		if err != nil {
			log.WithFields(stats.Fields()).WithError(err).Error("Run failed")
			return
		}
		log.WithFields(stats.Fields()).Info("Run completed")
	}()

	if err := opts.validate(ps.readsFiles); err != nil {
		return stats, err
	}
	if ps.readsFiles {
		files, err := source.Files(opts.Path)
		if err != nil {
			return stats, fmt.Errorf("%w: %w", ErrPrecondition, err)
		}
		stats.Files = len(files)
	}

	if ps.seed != nil {
		if err := ps.seed(ctx); err != nil {
			return stats, fmt.Errorf("failed to load known identities: %w", err)
		}
	}

	var specs []indexes.Spec
	if len(ps.tables) > 0 {
		specs = database.SecondaryIndexes(ps.tables...)
	}
	manager := indexes.NewManager(p.store, specs, indexes.Options{Update: opts.Update, DryRun: opts.DryRun}, p.logger)

	log.WithFields(logrus.Fields{
		"path":        opts.Path,
		"batch_size":  opts.BatchSize,
		"concurrency": opts.Concurrency,
		"update":      opts.Update,
		"dry_run":     opts.DryRun,
		"indexes":     manager.Enabled(),
	}).Info("Starting run")

	err = manager.Bracket(ctx, func(ctx context.Context) error {
		proc := processor.NewBatchProcessor(ctx, opts.BatchSize, opts.Concurrency, opts.DryRun, p.logger)
		loadErr := ps.load(proc.Context(), proc, stats)
		drainErr := proc.Drain()
		stats.Batches = proc.Batches()
		if ps.done != nil {
			ps.done(stats)
		}

		// A failed write cancels the producer, so the write error is the cause.
		if drainErr != nil {
			return drainErr
		}
		return loadErr
	})
	return stats, err
}

// ingest streams the records under opts.Path through n and hands every draft
// to handle. Rejected rows are counted and skipped.
func (p *Pipeline) ingest(ctx context.Context, opts Options, in source.Options, n normalize.Normalizer, stats *Stats, handle func(normalize.Draft) error) error {
	return source.Each(ctx, opts.Path, in, func(rec source.Record) error {
		stats.row()
		if rec.Malformed {
			stats.reject(&normalize.Rejection{Reason: normalize.ReasonMalformedRow, Detail: fmt.Sprintf("line %d", rec.Line)})
			return nil
		}

		draft, rej := n.Normalize(rec)
		if rej != nil {
			stats.reject(rej)
			p.logger.WithFields(logrus.Fields{
				"file":   rec.File,
				"line":   rec.Line,
				"reason": rej.Reason,
			}).Debug("Rejected row")
			return nil
		}
		return handle(draft)
	})
}

func unexpectedDraft(d normalize.Draft) error {
	return fmt.Errorf("unexpected draft %T", d)
}
