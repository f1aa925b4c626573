package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	// --- Index engine operations ---
	indexOps := []string{"get_navigation", "get_siblings", "get_page",
		"get_by_library", "get_by_type", "search", "add_or_update", "remove",
		"verify"}
	for _, op := range indexOps {
		IndexOpsTotal.WithLabelValues(op, "success")
		IndexOpsTotal.WithLabelValues(op, "error")
		IndexOpDuration.WithLabelValues(op)
	}

	// --- Rebuild runs ---
	for _, mode := range []string{"full", "changed_only", "force", "verify"} {
		RebuildRunsTotal.WithLabelValues(mode, "success")
		RebuildRunsTotal.WithLabelValues(mode, "error")
		RebuildRunsTotal.WithLabelValues(mode, "aborted")
	}
	for _, outcome := range []string{"rebuilt", "skipped", "failed"} {
		RebuildCollectionsProcessed.WithLabelValues(outcome)
	}

	// --- Key-value store operations ---
	kvsOps := []string{"get", "set", "mget", "del", "zadd", "zrem", "zrank",
		"zcard", "zrange", "lpush", "ltrim", "lrange", "scan", "dbsize",
		"flush", "ping", "pipeline"}
	for _, op := range kvsOps {
		KVSOpsTotal.WithLabelValues(op, "success")
		KVSOpsTotal.WithLabelValues(op, "error")
		KVSOpDuration.WithLabelValues(op)
	}

	// --- Document store operations ---
	docOps := []string{"count_active", "find_batch", "get_collection",
		"search", "update_collection", "soft_delete", "create_job",
		"claim_job", "update_job", "list_jobs", "get_user", "get_setting"}
	for _, op := range docOps {
		DocOpsTotal.WithLabelValues(op, "success")
		DocOpsTotal.WithLabelValues(op, "error")
		DocOpDuration.WithLabelValues(op)
	}

	// --- Broker messages by kind ---
	kinds := []string{"collection_scan", "thumbnail_generation",
		"cache_generation", "collection_creation", "bulk_operation",
		"image_processing", "library_scan"}
	for _, kind := range kinds {
		BrokerPublishedTotal.WithLabelValues(kind, "ok")
		BrokerPublishedTotal.WithLabelValues(kind, "rejected")
		BrokerPublishedTotal.WithLabelValues(kind, "error")
		BrokerConsumedTotal.WithLabelValues(kind, "ok")
		BrokerConsumedTotal.WithLabelValues(kind, "failed")
	}

	// --- Background jobs by type ---
	jobTypes := []string{"scan_collection", "generate_thumbnails",
		"generate_cache", "cleanup_cache", "rebuild_index"}
	for _, t := range jobTypes {
		JobsTotal.WithLabelValues(t, "completed")
		JobsTotal.WithLabelValues(t, "failed")
		JobsTotal.WithLabelValues(t, "cancelled")
		JobDuration.WithLabelValues(t)
	}

	// --- Thumbnail encodes ---
	for _, mode := range []string{"reencode", "direct"} {
		ThumbnailEncodesTotal.WithLabelValues(mode, "success")
		ThumbnailEncodesTotal.WithLabelValues(mode, "error")
		ThumbnailEncodeDuration.WithLabelValues(mode)
	}

	// --- File retry operations ---
	for _, op := range []string{"stat", "open", "read"} {
		for _, outcome := range []string{"attempt", "success", "failure"} {
			FileRetriesTotal.WithLabelValues(op, outcome)
		}
	}

	// --- Auth attempts ---
	AuthAttemptsTotal.WithLabelValues("success")
	AuthAttemptsTotal.WithLabelValues("failure")
}
