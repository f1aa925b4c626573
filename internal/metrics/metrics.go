package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_viewer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collection_viewer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collection_viewer_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Index engine metrics
var (
	IndexOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_viewer_index_operations_total",
			Help: "Total number of collection index operations",
		},
		[]string{"operation", "status"},
	)

	IndexOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collection_viewer_index_operation_duration_seconds",
			Help:    "Collection index operation duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)

	IndexedCollections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collection_viewer_indexed_collections",
			Help: "Number of collections in the sorted index",
		},
	)
)

// Rebuild metrics
var (
	RebuildRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_viewer_rebuild_runs_total",
			Help: "Total number of index rebuild runs",
		},
		[]string{"mode", "status"},
	)

	RebuildLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collection_viewer_rebuild_last_run_timestamp",
			Help: "Timestamp of the last index rebuild",
		},
	)

	RebuildLastRunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collection_viewer_rebuild_last_run_duration_seconds",
			Help: "Duration of the last index rebuild in seconds",
		},
	)

	RebuildCollectionsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_viewer_rebuild_collections_total",
			Help: "Collections processed by rebuild runs, by outcome",
		},
		[]string{"outcome"}, // "rebuilt", "skipped", "failed"
	)

	RebuildBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collection_viewer_rebuild_batches_total",
			Help: "Total number of rebuild batches processed",
		},
	)

	RebuildPeakMemoryBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collection_viewer_rebuild_peak_memory_bytes",
			Help: "Peak heap usage observed during the last rebuild",
		},
	)

	RebuildIsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collection_viewer_rebuild_running",
			Help: "Whether an index rebuild is currently running (1 = running, 0 = idle)",
		},
	)
)

// Key-value store metrics
var (
	KVSOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_viewer_kvs_operations_total",
			Help: "Total number of key-value store operations",
		},
		[]string{"operation", "status"},
	)

	KVSOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collection_viewer_kvs_operation_duration_seconds",
			Help:    "Key-value store operation duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	KVSKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collection_viewer_kvs_keys",
			Help: "Number of keys in the key-value store database",
		},
	)
)

// Document store metrics
var (
	DocOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_viewer_docstore_operations_total",
			Help: "Total number of document store operations",
		},
		[]string{"operation", "status"},
	)

	DocOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collection_viewer_docstore_operation_duration_seconds",
			Help:    "Document store operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)
)

// Message broker metrics
var (
	BrokerPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_viewer_broker_published_total",
			Help: "Total number of messages published to the broker",
		},
		[]string{"kind", "status"}, // status: "ok", "rejected", "error"
	)

	BrokerConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_viewer_broker_consumed_total",
			Help: "Total number of messages consumed from the broker",
		},
		[]string{"kind", "status"}, // status: "ok", "failed"
	)

	BrokerReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collection_viewer_broker_reconnects_total",
			Help: "Total number of broker connection re-creations",
		},
	)
)

// Background job metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_viewer_jobs_total",
			Help: "Total number of background jobs by terminal status",
		},
		[]string{"type", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collection_viewer_job_duration_seconds",
			Help:    "Background job duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"type"},
	)

	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collection_viewer_jobs_active",
			Help: "Number of background jobs currently running",
		},
	)

	JobsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collection_viewer_jobs_pending",
			Help: "Number of background jobs waiting to be claimed",
		},
	)
)

// Thumbnail metrics
var (
	ThumbnailEncodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_viewer_thumbnail_encodes_total",
			Help: "Total number of thumbnail inline encodes",
		},
		[]string{"mode", "status"}, // mode: "reencode", "direct"
	)

	ThumbnailEncodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collection_viewer_thumbnail_encode_duration_seconds",
			Help:    "Thumbnail inline encode duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"mode"},
	)

	ThumbnailCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collection_viewer_thumbnail_cache_hits_total",
			Help: "Total number of thumbnail blob cache hits",
		},
	)

	ThumbnailCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collection_viewer_thumbnail_cache_misses_total",
			Help: "Total number of thumbnail blob cache misses",
		},
	)
)

// Dashboard metrics
var (
	DashboardCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collection_viewer_dashboard_cache_hits_total",
			Help: "Total number of dashboard statistics cache hits",
		},
	)

	DashboardCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collection_viewer_dashboard_cache_misses_total",
			Help: "Total number of dashboard statistics cache misses",
		},
	)
)

// Authentication metrics
var (
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_viewer_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"status"},
	)
)

// File IO retry metrics
var (
	FileRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_viewer_file_retries_total",
			Help: "Retried file operations by operation and outcome",
		},
		[]string{"operation", "outcome"}, // outcome: "attempt", "success", "failure"
	)
)

// Memory pressure metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collection_viewer_memory_usage_ratio",
			Help: "Heap usage as a ratio of the configured memory limit (0.0-1.0)",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collection_viewer_memory_paused",
			Help: "Whether batch processing is paused for memory pressure (1 = paused)",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collection_viewer_memory_gc_pauses_total",
			Help: "Total number of times batch processing paused for memory pressure",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "collection_viewer_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
