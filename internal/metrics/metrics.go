// Package metrics provides Prometheus metrics for studiovault.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Object store metrics
	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studiovault_store_operation_duration_seconds",
			Help:    "Object store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studiovault_store_operations_total",
			Help: "Total object store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	storeRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studiovault_store_retries_total",
			Help: "Object store operations retried after a transient error",
		},
		[]string{"operation"},
	)

	storeDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studiovault_store_degraded",
			Help: "1 when the local fallback is servicing object store calls",
		},
	)

	storeBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studiovault_store_bytes_written_total",
			Help: "Total bytes written to the object store",
		},
	)

	// Deletion metrics
	deletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studiovault_deletions_total",
			Help: "Asset deletions by method and result",
		},
		[]string{"method", "result"},
	)

	bytesReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studiovault_bytes_reclaimed_total",
			Help: "Bytes reclaimed by committed deletions",
		},
	)

	cleanupWarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studiovault_cleanup_warnings_total",
			Help: "Non-fatal cleanup failures during deletion",
		},
		[]string{"kind"},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studiovault_batch_delete_duration_seconds",
			Help:    "Batch deletion wall time in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	collectionResyncsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studiovault_collection_resyncs_total",
			Help: "Session photo-collection resync passes",
		},
	)

	// Manifest metrics
	manifestWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studiovault_manifest_writes_total",
			Help: "Backup index manifest writes",
		},
		[]string{"op", "status"},
	)

	manifestRebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studiovault_manifest_rebuilds_total",
			Help: "Backup index manifests rebuilt from a store listing",
		},
	)

	// Upload metrics
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studiovault_uploads_total",
			Help: "Asset uploads by result",
		},
		[]string{"result"},
	)

	// Usage metrics
	usageComputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studiovault_usage_compute_duration_seconds",
			Help:    "Time to compute a tenant usage snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studiovault_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studiovault_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordStoreOperation records an object store operation.
func RecordStoreOperation(backend, operation string, duration time.Duration, success bool) {
	storeOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storeOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// RecordStoreRetry records a retried store operation.
func RecordStoreRetry(operation string) {
	storeRetriesTotal.WithLabelValues(operation).Inc()
}

// SetStoreDegraded flips the degraded gauge.
func SetStoreDegraded(degraded bool) {
	if degraded {
		storeDegraded.Set(1)
		return
	}
	storeDegraded.Set(0)
}

// RecordBytesWritten records bytes written to the store.
func RecordBytesWritten(n int64) {
	storeBytesWritten.Add(float64(n))
}

// RecordDeletion records the outcome of one asset deletion.
func RecordDeletion(method string, reclaimed int64, success bool) {
	deletionsTotal.WithLabelValues(method, status(success)).Inc()
	if success && reclaimed > 0 {
		bytesReclaimed.Add(float64(reclaimed))
	}
}

// RecordCleanupWarning records a non-fatal cleanup failure.
func RecordCleanupWarning(kind string) {
	cleanupWarningsTotal.WithLabelValues(kind).Inc()
}

// RecordBatch records a batch deletion duration.
func RecordBatch(duration time.Duration) {
	batchDuration.Observe(duration.Seconds())
}

// RecordCollectionResync records one collection resync pass.
func RecordCollectionResync() {
	collectionResyncsTotal.Inc()
}

// RecordManifestWrite records a manifest persist.
func RecordManifestWrite(op string, success bool) {
	manifestWritesTotal.WithLabelValues(op, status(success)).Inc()
}

// RecordManifestRebuild records a manifest rebuild.
func RecordManifestRebuild() {
	manifestRebuildsTotal.Inc()
}

// RecordUpload records an upload outcome.
func RecordUpload(success bool) {
	uploadsTotal.WithLabelValues(status(success)).Inc()
}

// RecordUsageCompute records usage computation time.
func RecordUsageCompute(duration time.Duration) {
	usageComputeDuration.Observe(duration.Seconds())
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}
