package pipeline

import (
	"context"

	"geofacts/server/internal/dedup"
	"geofacts/server/internal/models"
	"geofacts/server/internal/processor"
)

// BuildMarkers derives map markers from stored data: one property marker per
// located postcode with units and one incident marker per incident position.
// Markers that already exist are skipped.
func (p *Pipeline) BuildMarkers(ctx context.Context, opts Options) (*Stats, error) {
	var seen *dedup.Set

	return p.run(ctx, opts, pass{
		dataset: "markers",
		seed: func(ctx context.Context) error {
			seen = dedup.NewSet(0)
			return p.store.MarkerKeys(ctx, func(key string) { seen.Seed(key) })
		},
		load: func(ctx context.Context, proc *processor.BatchProcessor, stats *Stats) error {
			markers := processor.NewBatcher[models.MapMarker](proc, EntityMarker, p.store.InsertMarkers)

			add := func(lat, lng float64, kind models.MarkerType) error {
				if !seen.Admit(dedup.MarkerKey(lat, lng, string(kind))) {
					stats.duplicate(EntityMarker)
					return nil
				}
				stats.admit(EntityMarker)
				return markers.Add(models.MapMarker{Latitude: lat, Longitude: lng, Type: kind})
			}

			err := p.store.EachUnitLocation(ctx, func(point models.ReferencePoint) error {
				stats.row()
				loc, ok := point.Location()
				if !ok {
					return nil
				}
				return add(loc.Lat(), loc.Lon(), models.MarkerProperty)
			})
			if err != nil {
				return err
			}

			err = p.store.EachIncident(ctx, func(incident models.Incident) error {
				stats.row()
				return add(incident.Latitude, incident.Longitude, models.MarkerIncident)
			})
			if err != nil {
				return err
			}
			return markers.Flush()
		},
	})
}
