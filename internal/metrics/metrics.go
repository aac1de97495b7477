package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "geofacts"

var (
	RowsReadTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_read_total",
		Help:      "Rows read from source files",
	}, []string{"dataset"})
	RowsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_rejected_total",
		Help:      "Rows rejected by validation",
	}, []string{"dataset", "reason"})
	DuplicatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicates_total",
		Help:      "Entities skipped because their identity was already known",
	}, []string{"entity"})
	EntitiesAdmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entities_admitted_total",
		Help:      "Entities admitted for writing",
	}, []string{"entity"})
	BatchesWrittenTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_written_total",
		Help:      "Bulk write batches by outcome",
	}, []string{"entity", "status"})
	BatchDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_duration_ms",
		Help:      "Bulk write duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"entity"})
	IndexOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "index_operations_total",
		Help:      "Secondary index drops and restores",
	}, []string{"operation"})
	RunDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Pipeline run duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
	}, []string{"dataset", "status"})
	GeocodeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "geocode_requests_total",
		Help:      "Geocoding lookups by result",
	}, []string{"result"})
	APIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Query API requests",
	}, []string{"route", "code"})
)

func init() {
	prometheus.MustRegister(RowsReadTotal)
	prometheus.MustRegister(RowsRejectedTotal)
	prometheus.MustRegister(DuplicatesTotal)
	prometheus.MustRegister(EntitiesAdmittedTotal)
	prometheus.MustRegister(BatchesWrittenTotal)
	prometheus.MustRegister(BatchDurationMs)
	prometheus.MustRegister(IndexOperationsTotal)
	prometheus.MustRegister(RunDurationSeconds)
	prometheus.MustRegister(GeocodeRequestsTotal)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
