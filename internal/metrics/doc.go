// Package metrics provides Prometheus instrumentation for the collection viewer.
//
// This package defines and exposes various metrics that can be scraped by Prometheus
// to monitor the health, performance, and behavior of the application. All metrics
// are prefixed with "collection_viewer_" to avoid naming collisions with other
// applications.
//
// # Metric Categories
//
// The metrics are organized into the following categories:
//
// ## HTTP Metrics
//
// Track HTTP request performance and error rates:
//   - RequestsTotal: Counter of total requests by method, path, and status
//   - RequestDuration: Histogram of request duration by method and path
//   - RequestsInFlight: Gauge of currently processing requests
//
// ## Index Metrics
//
// Monitor the collection index (navigation, pagination, search):
//   - IndexOpsTotal: Counter of index operations by operation and status
//   - IndexOpDuration: Histogram of operation duration by operation
//   - IndexedCollections: Gauge of collections currently in the index
//
// ## Rebuild Metrics
//
// Track index rebuild runs:
//   - RebuildRunsTotal: Counter of rebuilds by mode and status
//   - RebuildLastRunTimestamp: Gauge of last run completion time
//   - RebuildLastRunDuration: Gauge of last run duration
//   - RebuildCollectionsProcessed: Counter of collections by outcome
//   - RebuildBatchesTotal: Counter of processed batches
//   - RebuildPeakMemoryBytes: Gauge of peak memory during the last run
//   - RebuildIsRunning: Gauge indicating if a rebuild is active
//
// ## Key-Value Store Metrics
//
// Monitor Redis round trips:
//   - KVSOpsTotal: Counter of operations by operation and status
//   - KVSOpDuration: Histogram of operation duration
//   - KVSKeys: Gauge of keys in the index database
//
// ## Document Store Metrics
//
// Monitor MongoDB round trips:
//   - DocOpsTotal: Counter of operations by operation and status
//   - DocOpDuration: Histogram of operation duration
//
// ## Broker Metrics
//
// Track message publishing and consumption:
//   - BrokerPublishedTotal: Counter by message kind and status
//   - BrokerConsumedTotal: Counter by message kind and status
//   - BrokerReconnectsTotal: Counter of channel/connection re-establishments
//
// ## Job Metrics
//
// Track background job execution:
//   - JobsTotal: Counter of finished jobs by type and status
//   - JobDuration: Histogram of job duration by type
//   - JobsActive: Gauge of jobs currently running
//   - JobsPending: Gauge of jobs waiting to be claimed
//
// ## Thumbnail Metrics
//
// Monitor thumbnail encoding and the thumbnail cache:
//   - ThumbnailEncodesTotal: Counter by mode (reencode/direct) and status
//   - ThumbnailEncodeDuration: Histogram of encode duration by mode
//   - ThumbnailCacheHits / ThumbnailCacheMisses: Cache effectiveness counters
//
// ## Dashboard Metrics
//
//   - DashboardCacheHits / DashboardCacheMisses: Statistics cache counters
//
// ## Authentication Metrics
//
//   - AuthAttemptsTotal: Counter by status (success/failure)
//
// ## Filesystem Metrics
//
//   - FileRetriesTotal: Counter of retried filesystem operations by outcome
//
// ## Memory Metrics
//
// Track memory pressure during batch work:
//   - MemoryUsageRatio: Gauge of heap usage as a ratio of the limit (0.0-1.0)
//   - MemoryPaused: Gauge indicating if processing is paused for memory
//   - MemoryGCPauses: Counter of times processing was paused for memory
//
// ## Application Info
//
//   - AppInfo: Gauge with version, commit, and Go version labels
//
// # Usage
//
// Metrics are automatically registered with the default Prometheus registry
// using promauto. To expose them, mount the promhttp.Handler() on your
// metrics endpoint:
//
//	import "github.com/prometheus/client_golang/prometheus/promhttp"
//
//	mux.Handle("/metrics", promhttp.Handler())
//
// # Recording Metrics
//
// To record metrics from other packages, import this package and use the
// exported metric variables:
//
//	import "collection-viewer/internal/metrics"
//
//	// Increment a counter
//	metrics.IndexOpsTotal.WithLabelValues("get_navigation", "success").Inc()
//
//	// Observe a histogram value
//	metrics.KVSOpDuration.WithLabelValues("zrange").Observe(0.002)
//
//	// Set a gauge value
//	metrics.JobsActive.Set(2)
//
// # Collector
//
// The package provides a [Collector] type that periodically gathers totals
// from a [GaugeProvider] and updates the corresponding gauges. This is useful
// for metrics that have to be read from external sources like Redis or the
// job queue:
//
//	collector := metrics.NewCollector(provider, 1*time.Minute)
//	collector.Start()
//	defer collector.Stop()
//
// A provider returns a negative value for a total it could not read; the
// collector then leaves the previous gauge reading in place.
//
// # Prometheus Queries
//
// Example PromQL queries for common use cases:
//
// Request rate by endpoint:
//
//	sum(rate(collection_viewer_http_requests_total[5m])) by (path)
//
// P95 navigation lookup time:
//
//	histogram_quantile(0.95, sum(rate(collection_viewer_index_op_duration_seconds_bucket{operation="get_navigation"}[5m])) by (le))
//
// Error rate:
//
//	sum(rate(collection_viewer_http_requests_total{status=~"5.."}[5m])) / sum(rate(collection_viewer_http_requests_total[5m]))
//
// Thumbnail cache hit rate:
//
//	rate(collection_viewer_thumbnail_cache_hits_total[5m]) /
//	(rate(collection_viewer_thumbnail_cache_hits_total[5m]) + rate(collection_viewer_thumbnail_cache_misses_total[5m]))
//
// Rebuild throughput:
//
//	rate(collection_viewer_rebuild_collections_processed_total{outcome="rebuilt"}[15m])
//
// Broker rejections (queue overflow):
//
//	rate(collection_viewer_broker_published_total{status="rejected"}[5m])
//
// Pending job backlog:
//
//	collection_viewer_jobs_pending
package metrics
