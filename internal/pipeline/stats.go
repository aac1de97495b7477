package pipeline

import (
	"time"

	"github.com/sirupsen/logrus"

	"geofacts/server/internal/metrics"
	"geofacts/server/internal/normalize"
)

// Entity kinds used in Stats and metrics.
const (
	EntityReferencePoint = "reference_point"
	EntityAreaCode       = "area_code"
	EntityUnit           = "unit"
	EntityUnitRefresh    = "unit_refresh"
	EntitySale           = "sale"
	EntityIncident       = "incident"
	EntityMarker         = "marker"
	EntityTimeSeries     = "time_series"
	EntityGeocoded       = "geocoded"
)

// Stats is the report of one run. It is only touched by the ingestion loop.
type Stats struct {
	RunID      string
	Dataset    string
	Files      int
	RowsRead   int
	Rejected   map[normalize.Reason]int
	Duplicates map[string]int
	Admitted   map[string]int
	Batches    int
	// Updated counts rows changed in place by update passes.
	Updated  int64
	DryRun   bool
	Duration time.Duration
}

func newStats(runID, dataset string, dryRun bool) *Stats {
	return &Stats{
		RunID:      runID,
		Dataset:    dataset,
		Rejected:   make(map[normalize.Reason]int),
		Duplicates: make(map[string]int),
		Admitted:   make(map[string]int),
		DryRun:     dryRun,
	}
}

// Rejections returns the total number of rejected rows.
func (s *Stats) Rejections() int {
	n := 0
	for _, c := range s.Rejected {
		n += c
	}
	return n
}

// TotalDuplicates returns the number of entities skipped as already known.
func (s *Stats) TotalDuplicates() int {
	n := 0
	for _, c := range s.Duplicates {
		n += c
	}
	return n
}

func (s *Stats) row() {
	s.RowsRead++
	metrics.RowsReadTotal.WithLabelValues(s.Dataset).Inc()
}

func (s *Stats) reject(rej *normalize.Rejection) {
	s.Rejected[rej.Reason]++
	metrics.RowsRejectedTotal.WithLabelValues(s.Dataset, string(rej.Reason)).Inc()
}

func (s *Stats) duplicate(entity string) {
	s.Duplicates[entity]++
	metrics.DuplicatesTotal.WithLabelValues(entity).Inc()
}

func (s *Stats) admit(entity string) {
	s.Admitted[entity]++
	metrics.EntitiesAdmittedTotal.WithLabelValues(entity).Inc()
}

// Fields renders the report for structured logging.
func (s *Stats) Fields() logrus.Fields {
	fields := logrus.Fields{
		"run_id":      s.RunID,
		"dataset":     s.Dataset,
		"files":       s.Files,
		"rows":        s.RowsRead,
		"rejected":    s.Rejections(),
		"duplicates":  s.TotalDuplicates(),
		"batches":     s.Batches,
		"dry_run":     s.DryRun,
		"duration_ms": s.Duration.Milliseconds(),
	}
	for entity, n := range s.Admitted {
		fields["admitted_"+entity] = n
	}
	for reason, n := range s.Rejected {
		fields["rejected_"+string(reason)] = n
	}
	if s.Updated > 0 {
		fields["updated"] = s.Updated
	}
	return fields
}
