package pipeline

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"geofacts/server/internal/database"
	"geofacts/server/internal/dedup"
	"geofacts/server/internal/models"
	"geofacts/server/internal/normalize"
	"geofacts/server/internal/processor"
	"geofacts/server/internal/source"
)

// LoadPricePaid ingests a price paid extract. Every row yields a unit and a
// sale. A unit is written the first time its GUID is seen; in update mode a
// unit that is already stored has its attributes refreshed once per run.
func (p *Pipeline) LoadPricePaid(ctx context.Context, opts Options) (*Stats, error) {
	var (
		stored *dedup.Set
		sales  *dedup.Set
	)

	return p.run(ctx, opts, pass{
		dataset:    "price_paid",
		tables:     []string{"addressable_units", "sales"},
		readsFiles: true,
		seed: func(ctx context.Context) error {
			guids, err := p.store.UnitGUIDs(ctx)
			if err != nil {
				return err
			}
			stored = dedup.NewSet(len(guids))
			stored.Seed(guids...)

			sales = dedup.NewSet(len(guids))
			return p.store.SaleKeys(ctx, func(key string) { sales.Seed(key) })
		},
		load: func(ctx context.Context, proc *processor.BatchProcessor, stats *Stats) error {
			// GUIDs written or refreshed during this run.
			written := dedup.NewSet(0)
			units := processor.NewBatcher[models.AddressableUnit](proc, EntityUnit, func(ctx context.Context, batch []models.AddressableUnit) error {
				return p.store.UpsertUnits(ctx, batch, opts.Update)
			})
			facts := processor.NewBatcher[models.Sale](proc, EntitySale, p.store.InsertSales)

			err := p.ingest(ctx, opts, source.Options{}, normalize.PricePaid{}, stats, func(d normalize.Draft) error {
				draft, ok := d.(normalize.SaleDraft)
				if !ok {
					return unexpectedDraft(d)
				}

				guid := draft.Unit.GUID
				switch {
				case stored.Contains(guid) && opts.Update && written.Admit(guid):
					stats.admit(EntityUnitRefresh)
					if err := units.Add(draft.Unit); err != nil {
						return err
					}
				case !stored.Contains(guid) && written.Admit(guid):
					stats.admit(EntityUnit)
					if err := units.Add(draft.Unit); err != nil {
						return err
					}
				default:
					stats.duplicate(EntityUnit)
				}

				if !sales.Admit(dedup.SaleKey(guid, draft.Sale.Date, draft.Sale.Price)) {
					stats.duplicate(EntitySale)
					return nil
				}
				stats.admit(EntitySale)
				return facts.Add(draft.Sale)
			})
			if err != nil {
				return err
			}
			if err := units.Flush(); err != nil {
				return err
			}
			return facts.Flush()
		},
	})
}

// postcodeLevels splits a canonical postcode into its aggregation levels:
// area "SW", district "SW1A", sector "SW1A 1" and the full postcode.
func postcodeLevels(code string) map[string]string {
	levels := map[string]string{models.LevelPostcode: code}
	outward, inward, ok := strings.Cut(code, " ")
	if !ok || outward == "" || inward == "" {
		return levels
	}

	levels[models.LevelDistrict] = outward
	levels[models.LevelSector] = outward + " " + inward[:1]
	if i := strings.IndexFunc(outward, unicode.IsDigit); i > 0 {
		levels[models.LevelArea] = outward[:i]
	}
	return levels
}

type seriesKey struct {
	code, month, level string
}

type seriesAgg struct {
	count int64
	sum   int64
}

// roundedMean divides sum by count rounding halves away from zero.
func roundedMean(sum, count int64) int64 {
	if count == 0 {
		return 0
	}
	if sum >= 0 {
		return (sum + count/2) / count
	}
	return (sum - count/2) / count
}

// BuildTimeSeries recomputes the monthly sale aggregates for every postcode
// level from the stored sales and upserts them.
func (p *Pipeline) BuildTimeSeries(ctx context.Context, opts Options) (*Stats, error) {
	return p.run(ctx, opts, pass{
		dataset: "time_series",
		load: func(ctx context.Context, proc *processor.BatchProcessor, stats *Stats) error {
			aggs := make(map[seriesKey]*seriesAgg)
			err := p.store.EachSale(ctx, func(row database.SaleRow) error {
				stats.row()
				month := row.Date.UTC().Format("2006-01")
				for level, code := range postcodeLevels(row.Postcode) {
					key := seriesKey{code: code, month: month, level: level}
					agg, ok := aggs[key]
					if !ok {
						agg = &seriesAgg{}
						aggs[key] = agg
					}
					agg.count++
					agg.sum += row.Price
				}
				return nil
			})
			if err != nil {
				return err
			}

			keys := make([]seriesKey, 0, len(aggs))
			for k := range aggs {
				keys = append(keys, k)
			}
			sort.Slice(keys, func(i, j int) bool {
				if keys[i].level != keys[j].level {
					return keys[i].level < keys[j].level
				}
				if keys[i].code != keys[j].code {
					return keys[i].code < keys[j].code
				}
				return keys[i].month < keys[j].month
			})

			points := processor.NewBatcher[models.TimeSeriesPoint](proc, EntityTimeSeries, p.store.UpsertTimeSeries)
			for _, k := range keys {
				agg := aggs[k]
				stats.admit(EntityTimeSeries)
				err := points.Add(models.TimeSeriesPoint{
					Code:      k.code,
					Month:     k.month,
					Level:     k.level,
					Count:     agg.count,
					MeanPrice: roundedMean(agg.sum, agg.count),
				})
				if err != nil {
					return err
				}
			}
			return points.Flush()
		},
	})
}
