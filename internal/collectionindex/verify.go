package collectionindex

import (
	"context"
	"strings"
	"time"

	"collection-viewer/internal/errs"
	"collection-viewer/internal/logging"
	"collection-viewer/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// VerifyResult is the diff between the document store and the index.
type VerifyResult struct {
	// MissingInRedis lists active collections with no index presence.
	MissingInRedis []string `json:"missingInRedis"`
	// OutdatedInRedis lists indexed collections whose document moved past
	// the state record, changed its first thumbnail, or lost one of its
	// payloads.
	OutdatedInRedis []string `json:"outdatedInRedis"`
	// OrphanedInRedis lists indexed ids whose document is gone or
	// soft-deleted.
	OrphanedInRedis []string `json:"orphanedInRedis"`
	// MissingThumbnails lists collections with a first thumbnail on the
	// document but no cached blob.
	MissingThumbnails []string `json:"missingThumbnails"`

	ToAdd    int   `json:"toAdd"`
	ToUpdate int   `json:"toUpdate"`
	ToRemove int   `json:"toRemove"`
	Checked  int64 `json:"checked"`

	IsConsistent bool          `json:"isConsistent"`
	DryRun       bool          `json:"dryRun"`
	Duration     time.Duration `json:"duration"`
}

// VerifyIndex diffs the index against the document store and, unless
// dryRun is set, repairs what it found: missing and outdated entries are
// rewritten, orphans removed. Shares the maintenance lock with rebuilds.
func (e *Engine) VerifyIndex(ctx context.Context, dryRun bool) (*VerifyResult, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("verify", start, err) }()

	if !e.maintenance.TryLock() {
		err = ErrMaintenanceRunning
		return nil, err
	}
	defer e.maintenance.Unlock()

	var result *VerifyResult
	result, err = e.verifyLocked(ctx, dryRun)
	return result, err
}

func (e *Engine) verifyLocked(ctx context.Context, dryRun bool) (*VerifyResult, error) {
	start := time.Now()
	result := &VerifyResult{
		MissingInRedis:    []string{},
		OutdatedInRedis:   []string{},
		OrphanedInRedis:   []string{},
		MissingThumbnails: []string{},
		DryRun:            dryRun,
	}

	// Existence sets up front; contents are only needed for states.
	dataIDs, err := e.scanIDSet(ctx, dataPrefix)
	if err != nil {
		return nil, err
	}
	thumbIDs, err := e.scanIDSet(ctx, thumbPrefix)
	if err != nil {
		return nil, err
	}

	active := make(map[string]struct{})

	// Phase 1: walk active documents, compare against state records.
	after := primitive.NilObjectID
	for {
		docs, listErr := e.source.ListActiveAfter(ctx, after, rebuildBatchSize)
		if listErr != nil {
			return nil, listErr
		}
		if len(docs) == 0 {
			break
		}
		after = docs[len(docs)-1].ID

		keys := make([]string, len(docs))
		for i := range docs {
			keys[i] = stateKey(docs[i].ID.Hex())
		}
		states, mgetErr := e.kvs.MGet(ctx, keys...)
		if mgetErr != nil {
			return nil, mgetErr
		}

		for i := range docs {
			c := &docs[i]
			id := c.ID.Hex()
			active[id] = struct{}{}
			result.Checked++

			if c.FirstThumbnail() != nil {
				if _, ok := thumbIDs[id]; !ok {
					result.MissingThumbnails = append(result.MissingThumbnails, id)
				}
			}

			var stateVal *string
			if i < len(states) {
				stateVal = states[i]
			}
			_, hasData := dataIDs[id]

			switch {
			case stateVal == nil && !hasData:
				result.MissingInRedis = append(result.MissingInRedis, id)
				result.ToAdd++
			case stateVal == nil || !hasData:
				result.OutdatedInRedis = append(result.OutdatedInRedis, id)
				result.ToUpdate++
			default:
				if !stateJSONCovers(*stateVal, c) {
					result.OutdatedInRedis = append(result.OutdatedInRedis, id)
					result.ToUpdate++
				}
			}
		}
	}

	// Phase 2: walk state records, flag ids with no live document.
	stateKeys, scanErr := e.kvs.ScanKeys(ctx, statePrefix+"*")
	if scanErr != nil {
		return nil, scanErr
	}
	for _, key := range stateKeys {
		id := strings.TrimPrefix(key, statePrefix)
		if _, ok := active[id]; ok {
			continue
		}

		oid, hexErr := primitive.ObjectIDFromHex(id)
		if hexErr != nil {
			result.OrphanedInRedis = append(result.OrphanedInRedis, id)
			result.ToRemove++
			continue
		}
		doc, getErr := e.source.GetByID(ctx, oid)
		if getErr != nil {
			if !errs.IsNotFound(getErr) {
				return nil, getErr
			}
			result.OrphanedInRedis = append(result.OrphanedInRedis, id)
			result.ToRemove++
			continue
		}
		if doc.IsDeleted {
			result.OrphanedInRedis = append(result.OrphanedInRedis, id)
			result.ToRemove++
		}
	}

	result.IsConsistent = len(result.MissingInRedis) == 0 &&
		len(result.OutdatedInRedis) == 0 &&
		len(result.OrphanedInRedis) == 0 &&
		len(result.MissingThumbnails) == 0

	// Phase 3: repair.
	if !dryRun && !result.IsConsistent {
		e.applyVerify(ctx, result)
	}

	result.Duration = time.Since(start)
	logging.Info("collectionindex: verify checked=%d add=%d update=%d remove=%d thumbs=%d consistent=%v dryRun=%v in %s",
		result.Checked, result.ToAdd, result.ToUpdate, result.ToRemove,
		len(result.MissingThumbnails), result.IsConsistent, dryRun,
		result.Duration.Round(time.Millisecond))
	return result, nil
}

// applyVerify rewrites every flagged collection and removes orphans.
// Per-entry failures are logged; the next pass retries them.
func (e *Engine) applyVerify(ctx context.Context, result *VerifyResult) {
	seen := make(map[string]struct{})
	for _, list := range [][]string{result.MissingInRedis, result.OutdatedInRedis, result.MissingThumbnails} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}

			oid, hexErr := primitive.ObjectIDFromHex(id)
			if hexErr != nil {
				continue
			}
			doc, getErr := e.source.GetByID(ctx, oid)
			if getErr != nil || doc.IsDeleted {
				logging.Warn("collectionindex: verify repair skipped %s: document unavailable", id)
				continue
			}
			if writeErr := e.writeCollection(ctx, doc, true); writeErr != nil {
				logging.Error("collectionindex: verify repair of %s failed: %v", id, writeErr)
			}
		}
	}

	for _, id := range result.OrphanedInRedis {
		if removeErr := e.Remove(ctx, id); removeErr != nil {
			logging.Warn("collectionindex: verify removal of %s failed: %v", id, removeErr)
		}
	}
}

// scanIDSet returns the set of ids present under one key role.
func (e *Engine) scanIDSet(ctx context.Context, prefix string) (map[string]struct{}, error) {
	keys, err := e.kvs.ScanKeys(ctx, prefix+"*")
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		set[strings.TrimPrefix(key, prefix)] = struct{}{}
	}
	return set, nil
}

// stateJSONCovers parses a state payload and checks it still covers the
// document. Unparseable payloads do not cover anything.
func stateJSONCovers(raw string, c *models.Collection) bool {
	state, ok := parseState(raw)
	if !ok {
		return false
	}
	return stateCovers(state, c)
}
