package pipeline

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"geofacts/server/internal/database"
	"geofacts/server/internal/dedup"
	"geofacts/server/internal/models"
	"geofacts/server/internal/normalize"
	"geofacts/server/internal/processor"
	"geofacts/server/internal/source"
)

// LoadReferencePoints ingests a postcode directory. Postcodes already stored
// are skipped; within a run the first row of a postcode wins.
func (p *Pipeline) LoadReferencePoints(ctx context.Context, opts Options) (*Stats, error) {
	var seen *dedup.Set

	return p.run(ctx, opts, pass{
		dataset:    "postcodes",
		tables:     []string{"reference_points"},
		readsFiles: true,
		seed: func(ctx context.Context) error {
			codes, err := p.store.ReferenceCodes(ctx)
			if err != nil {
				return err
			}
			seen = dedup.NewSet(len(codes))
			seen.Seed(codes...)
			return nil
		},
		load: func(ctx context.Context, proc *processor.BatchProcessor, stats *Stats) error {
			points := processor.NewBatcher[models.ReferencePoint](proc, EntityReferencePoint, p.store.InsertReferencePoints)

			err := p.ingest(ctx, opts, source.Options{Header: true}, normalize.Postcodes{}, stats, func(d normalize.Draft) error {
				draft, ok := d.(normalize.ReferencePointDraft)
				if !ok {
					return unexpectedDraft(d)
				}
				if !seen.Admit(draft.Point.Code) {
					stats.duplicate(EntityReferencePoint)
					return nil
				}
				stats.admit(EntityReferencePoint)
				return points.Add(draft.Point)
			})
			if err != nil {
				return err
			}
			return points.Flush()
		},
	})
}

// BackfillAreas assigns area codes to stored postcodes from a lookup file.
// Only the area code column changes; unknown postcodes are ignored.
func (p *Pipeline) BackfillAreas(ctx context.Context, opts Options) (*Stats, error) {
	var updated atomic.Int64
	opts.Update = true

	return p.run(ctx, opts, pass{
		dataset:    "area_codes",
		readsFiles: true,
		load: func(ctx context.Context, proc *processor.BatchProcessor, stats *Stats) error {
			seen := dedup.NewSet(0)
			updates := processor.NewBatcher[database.AreaCodeUpdate](proc, EntityAreaCode, func(ctx context.Context, batch []database.AreaCodeUpdate) error {
				n, err := p.store.UpdateAreaCodes(ctx, batch)
				updated.Add(n)
				return err
			})

			err := p.ingest(ctx, opts, source.Options{Header: true}, normalize.AreaCodes{}, stats, func(d normalize.Draft) error {
				draft, ok := d.(normalize.AreaCodeDraft)
				if !ok {
					return unexpectedDraft(d)
				}
				if !seen.Admit(draft.Code) {
					stats.duplicate(EntityAreaCode)
					return nil
				}
				stats.admit(EntityAreaCode)
				return updates.Add(database.AreaCodeUpdate{Code: draft.Code, AreaCode: draft.AreaCode})
			})
			if err != nil {
				return err
			}
			return updates.Flush()
		},
		done: func(stats *Stats) {
			stats.Updated = updated.Load()
		},
	})
}

// Geocoder resolves a postcode to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, postcode string) (lat, lng float64, err error)
}

// EnrichCoordinates geocodes up to limit stored postcodes that have no
// coordinates. Lookups run one at a time; postcodes the service cannot
// resolve are marked so later runs skip them.
func (p *Pipeline) EnrichCoordinates(ctx context.Context, geocoder Geocoder, limit int, dryRun bool) (*Stats, error) {
	if limit <= 0 {
		limit = 100
	}

	return p.run(ctx, Options{DryRun: dryRun, Update: true}, pass{
		dataset: "geocoding",
		load: func(ctx context.Context, proc *processor.BatchProcessor, stats *Stats) error {
			points, err := p.store.PointsMissingCoordinates(ctx, limit)
			if err != nil {
				return err
			}

			for _, point := range points {
				stats.row()
				if err := p.enrichOne(ctx, geocoder, point, dryRun, stats); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

func (p *Pipeline) enrichOne(ctx context.Context, geocoder Geocoder, point models.ReferencePoint, dryRun bool, stats *Stats) error {
	lat, lng, err := geocoder.Geocode(ctx, point.Code)
	if err == nil && (lat < -90 || lat > 90 || lng < -180 || lng > 180) {
		err = errors.New("coordinates out of range")
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stats.reject(&normalize.Rejection{Reason: normalize.ReasonMissingCoordinate, Detail: point.Code})
		p.logger.WithFields(logrus.Fields{"postcode": point.Code}).WithError(err).Warn("Failed to geocode postcode")
		if dryRun {
			return nil
		}
		return p.store.MarkGeocodingAttempted(ctx, point.Code)
	}

	stats.admit(EntityGeocoded)
	if dryRun {
		return nil
	}
	if err := p.store.SetCoordinates(ctx, point.Code, lat, lng); err != nil {
		return err
	}
	stats.Updated++
	return nil
}
