package pipeline

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"geofacts/server/internal/dedup"
	"geofacts/server/internal/geometry"
	"geofacts/server/internal/models"
	"geofacts/server/internal/normalize"
	"geofacts/server/internal/processor"
	"geofacts/server/internal/source"
)

// LoadCrimes ingests street level crime extracts. Each incident is assigned
// the nearest postcode of its declared area; incidents in areas without
// located postcodes are rejected.
func (p *Pipeline) LoadCrimes(ctx context.Context, opts Options) (*Stats, error) {
	var seen *dedup.Set

	return p.run(ctx, opts, pass{
		dataset:    "crimes",
		tables:     []string{"incidents"},
		readsFiles: true,
		seed: func(ctx context.Context) error {
			keys, err := p.store.IncidentKeys(ctx)
			if err != nil {
				return err
			}
			seen = dedup.NewSet(len(keys))
			seen.Seed(keys...)
			return nil
		},
		load: func(ctx context.Context, proc *processor.BatchProcessor, stats *Stats) error {
			resolver := geometry.NewAreaResolver(p.store, opts.ThresholdKm, p.logger)
			incidents := processor.NewBatcher[models.Incident](proc, EntityIncident, p.store.InsertIncidents)

			err := p.ingest(ctx, opts, source.Options{Header: true}, normalize.Crimes{}, stats, func(d normalize.Draft) error {
				draft, ok := d.(normalize.IncidentDraft)
				if !ok {
					return unexpectedDraft(d)
				}
				incident := draft.Incident
				if seen.Contains(incident.FactKey) {
					stats.duplicate(EntityIncident)
					return nil
				}

				nearest, err := resolver.Resolve(ctx, incident.AreaCode, incident.Location())
				if errors.Is(err, geometry.ErrUnassignable) {
					stats.reject(&normalize.Rejection{Reason: normalize.ReasonUnassignableArea, Detail: incident.AreaCode})
					return nil
				}
				if err != nil {
					return err
				}
				incident.ReferenceCode = nearest.Code

				seen.Admit(incident.FactKey)
				stats.admit(EntityIncident)
				return incidents.Add(incident)
			})
			if err != nil {
				return err
			}

			p.logger.WithFields(logrus.Fields{"areas": resolver.Areas()}).Debug("Resolved incident areas")
			return incidents.Flush()
		},
	})
}
