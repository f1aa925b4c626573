package collectionindex

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"collection-viewer/internal/errs"
	"collection-viewer/internal/logging"
	"collection-viewer/internal/memory"
	"collection-viewer/internal/metrics"
	"collection-viewer/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RebuildMode selects how much of the index a rebuild touches.
type RebuildMode string

const (
	// RebuildFull clears the sorted/data/state roles and reindexes
	// everything. Thumbnail blobs keep their TTL.
	RebuildFull RebuildMode = "full"
	// RebuildChangedOnly reindexes only collections whose document moved
	// past their state record or whose first thumbnail changed.
	RebuildChangedOnly RebuildMode = "changed_only"
	// RebuildForceAll reindexes everything in place without clearing.
	RebuildForceAll RebuildMode = "force_rebuild_all"
	// RebuildVerify runs a verify pass instead of indexing.
	RebuildVerify RebuildMode = "verify"
)

// ParseRebuildMode maps request input to a mode. Empty input selects
// ChangedOnly, the cheap default for scheduled runs.
func ParseRebuildMode(s string) (RebuildMode, error) {
	switch s {
	case "":
		return RebuildChangedOnly, nil
	case string(RebuildFull):
		return RebuildFull, nil
	case string(RebuildChangedOnly), "changed":
		return RebuildChangedOnly, nil
	case string(RebuildForceAll), "force":
		return RebuildForceAll, nil
	case string(RebuildVerify):
		return RebuildVerify, nil
	}
	return "", errs.Validationf("unknown rebuild mode %q", s)
}

const (
	// rebuildBatchSize is how many documents one id-ordered batch holds.
	rebuildBatchSize = 100

	// kvsReadyTimeout bounds the wait for the key-value store before a
	// rebuild gives up; a later scheduled run retries.
	kvsReadyTimeout = 10 * time.Second

	// Safety valve: a database holding staleKeyFactor times more keys
	// than a document set smaller than smallIndexDocs can explain is
	// leftover state from an earlier deployment and gets flushed.
	smallIndexDocs = 100
	staleKeyFactor = 10
)

// RebuildOptions tune a rebuild run.
type RebuildOptions struct {
	// DryRun counts what would change without writing anything.
	DryRun bool
	// SkipThumbnailCaching writes summaries without re-encoding missing
	// thumbnails; only already-cached blobs are inlined.
	SkipThumbnailCaching bool
	// Progress, when set, is called after each batch with documents seen
	// so far and the active total.
	Progress func(done, total int64)
}

// RebuildStatistics reports what a rebuild run did.
type RebuildStatistics struct {
	Mode            RebuildMode   `json:"mode"`
	Total           int64         `json:"total"`
	Rebuilt         int64         `json:"rebuilt"`
	Skipped         int64         `json:"skipped"`
	Failed          int64         `json:"failed"`
	Duration        time.Duration `json:"duration"`
	PeakMemoryBytes uint64        `json:"peakMemoryBytes"`
	DryRun          bool          `json:"dryRun"`
}

// RebuildIndex rebuilds the derived index from the document store. One
// maintenance pass runs at a time. Document store failures abort the run;
// per-collection key-value failures are logged and counted, leaving
// whatever was already written in place.
func (e *Engine) RebuildIndex(ctx context.Context, mode RebuildMode, opts RebuildOptions) (*RebuildStatistics, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("rebuild", start, err) }()

	if !e.maintenance.TryLock() {
		err = ErrMaintenanceRunning
		return nil, err
	}
	defer e.maintenance.Unlock()

	if mode == RebuildVerify {
		var result *VerifyResult
		if result, err = e.verifyLocked(ctx, opts.DryRun); err != nil {
			return nil, err
		}
		repaired := int64(result.ToAdd + result.ToUpdate)
		return &RebuildStatistics{
			Mode:     mode,
			Total:    result.Checked,
			Rebuilt:  repaired,
			Skipped:  result.Checked - repaired,
			Duration: time.Since(start),
			DryRun:   opts.DryRun,
		}, nil
	}

	metrics.RebuildIsRunning.Set(1)
	defer metrics.RebuildIsRunning.Set(0)

	fail := func(cause error) (*RebuildStatistics, error) {
		metrics.RebuildRunsTotal.WithLabelValues(string(mode), "error").Inc()
		err = cause
		return nil, cause
	}

	if waitErr := e.kvs.WaitReady(ctx, kvsReadyTimeout); waitErr != nil {
		return fail(waitErr)
	}

	total, countErr := e.source.CountActive(ctx)
	if countErr != nil {
		return fail(countErr)
	}

	if !opts.DryRun {
		if clearErr := e.clearForRebuild(ctx, mode, total); clearErr != nil {
			return fail(clearErr)
		}
	}

	stats := &RebuildStatistics{Mode: mode, Total: total, DryRun: opts.DryRun}
	var peak memory.PeakTracker
	var done int64
	after := primitive.NilObjectID

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(errs.TransientStore(ctxErr, "rebuild interrupted"))
		}

		processed, next, batchErr := e.rebuildBatch(ctx, mode, opts, after, stats)
		if batchErr != nil {
			return fail(batchErr)
		}
		if processed == 0 {
			break
		}
		after = next

		done += int64(processed)
		if opts.Progress != nil {
			opts.Progress(done, total)
		}

		// The batch slice went out of scope in rebuildBatch; sample the
		// high-water mark it caused, then hand its pages back.
		peakNow := peak.Sample()
		memory.ForceCompactingGC()
		metrics.RebuildBatchesTotal.Inc()
		logging.Debug("collectionindex: rebuild %d/%d, peak heap %.1f MB", done, total, float64(peakNow)/(1024*1024))
	}

	if !opts.DryRun {
		if setErr := e.kvs.Set(ctx, statsTotalKey, strconv.FormatInt(total, 10), 0); setErr != nil {
			logging.Warn("collectionindex: stats total write failed: %v", setErr)
		}
		if setErr := e.kvs.Set(ctx, lastRebuildKey, time.Now().UTC().Format(time.RFC3339), 0); setErr != nil {
			logging.Warn("collectionindex: last rebuild write failed: %v", setErr)
		}
		metrics.IndexedCollections.Set(float64(total))
	}

	stats.Duration = time.Since(start)
	stats.PeakMemoryBytes = peak.Peak()

	metrics.RebuildRunsTotal.WithLabelValues(string(mode), "success").Inc()
	metrics.RebuildLastRunTimestamp.Set(float64(time.Now().Unix()))
	metrics.RebuildLastRunDuration.Set(stats.Duration.Seconds())
	metrics.RebuildPeakMemoryBytes.Set(float64(stats.PeakMemoryBytes))

	if !opts.DryRun {
		if _, dashErr := e.ComputeAndStoreDashboard(ctx); dashErr != nil {
			logging.Warn("collectionindex: dashboard refresh after rebuild failed: %v", dashErr)
		}
	}

	logging.Info("collectionindex: rebuild %s done: total=%d rebuilt=%d skipped=%d failed=%d in %s",
		mode, stats.Total, stats.Rebuilt, stats.Skipped, stats.Failed, stats.Duration.Round(time.Millisecond))
	return stats, nil
}

// rebuildBatch indexes one id-ordered batch sequentially. Returns how many
// documents it saw and the cursor for the next batch.
func (e *Engine) rebuildBatch(ctx context.Context, mode RebuildMode, opts RebuildOptions, after primitive.ObjectID, stats *RebuildStatistics) (int, primitive.ObjectID, error) {
	docs, err := e.source.ListActiveAfter(ctx, after, rebuildBatchSize)
	if err != nil {
		return 0, after, err
	}
	if len(docs) == 0 {
		return 0, after, nil
	}

	for i := range docs {
		c := &docs[i]
		if mode == RebuildChangedOnly && e.stateFresh(ctx, c) {
			stats.Skipped++
			metrics.RebuildCollectionsProcessed.WithLabelValues("skipped").Inc()
			continue
		}
		if opts.DryRun {
			stats.Rebuilt++
			continue
		}
		if writeErr := e.writeCollection(ctx, c, !opts.SkipThumbnailCaching); writeErr != nil {
			stats.Failed++
			metrics.RebuildCollectionsProcessed.WithLabelValues("failed").Inc()
			logging.Error("collectionindex: rebuild of %s failed: %v", c.ID.Hex(), writeErr)
			continue
		}
		stats.Rebuilt++
		metrics.RebuildCollectionsProcessed.WithLabelValues("rebuilt").Inc()
	}

	return len(docs), docs[len(docs)-1].ID, nil
}

// clearForRebuild applies the clearing strategy. Any mode flushes the
// whole database when the safety valve trips (stale keys from an earlier
// deployment; cached thumbnails go with them). Otherwise only Full mode
// clears, by scan-deleting the sorted/data/state roles and leaving thumb
// blobs to their TTL.
func (e *Engine) clearForRebuild(ctx context.Context, mode RebuildMode, total int64) error {
	keys, err := e.kvs.DBSize(ctx)
	if err != nil {
		return err
	}

	if total < smallIndexDocs && keys > total*staleKeyFactor {
		logging.Warn("collectionindex: %d keys for %d documents, flushing stale database", keys, total)
		return e.kvs.FlushDB(ctx)
	}

	if mode != RebuildFull {
		return nil
	}

	for _, prefix := range []string{sortedPrefix, dataPrefix, statePrefix} {
		deleted, delErr := e.kvs.DeleteByPattern(ctx, prefix+"*")
		if delErr != nil {
			return delErr
		}
		logging.Debug("collectionindex: cleared %d keys under %s", deleted, prefix)
	}
	return nil
}

// stateFresh reads the stored state record and checks it still covers the
// document.
func (e *Engine) stateFresh(ctx context.Context, c *models.Collection) bool {
	raw, err := e.kvs.Get(ctx, stateKey(c.ID.Hex()))
	if err != nil {
		return false
	}
	state, ok := parseState(raw)
	if !ok {
		return false
	}
	return stateCovers(state, c)
}

func parseState(raw string) (*models.CollectionIndexState, bool) {
	var state models.CollectionIndexState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, false
	}
	return &state, true
}

// stateCovers reports whether an index state still describes the document:
// same format version, indexed at or after the last document update, and
// the same first-thumbnail situation.
func stateCovers(state *models.CollectionIndexState, c *models.Collection) bool {
	if state.IndexVersion != indexVersion {
		return false
	}
	if state.CollectionUpdatedAt.Before(c.UpdatedAt) {
		return false
	}

	first := c.FirstThumbnail()
	if state.HasFirstThumbnail != (first != nil) {
		return false
	}
	if first != nil && state.FirstThumbnailPath != first.ThumbnailPath {
		return false
	}
	return true
}
