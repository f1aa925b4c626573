package jobs

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"collection-viewer/internal/errs"
	"collection-viewer/internal/logging"
	"collection-viewer/internal/models"
	"collection-viewer/internal/msgbus"
	"collection-viewer/internal/scanner"
	"collection-viewer/internal/workers"
)

const (
	consumerPrefetch   = 1
	consumerRetryDelay = 5 * time.Second
)

// JobMessage announces a persisted job. The job row is the contract; the
// message is only the wake-up call, so a consumer that finds the job gone
// or already claimed simply drops the message.
type JobMessage struct {
	JobID        string `json:"jobId"`
	CollectionID string `json:"collectionId,omitempty"`
}

// BulkMessage requests one operation across many collections.
type BulkMessage struct {
	Operation     string   `json:"operation"`
	CollectionIDs []string `json:"collectionIds"`
}

// ImageMessage requests a re-render of a single image's thumbnail.
type ImageMessage struct {
	CollectionID string `json:"collectionId"`
	ImageID      string `json:"imageId"`
}

// LibraryScanMessage requests discovery across a library root.
type LibraryScanMessage struct {
	LibraryID string `json:"libraryId"`
}

// Consumers bridges bus deliveries into job executions: one delivery loop
// per message kind, reconnecting with a fixed delay when the broker drops.
type Consumers struct {
	bus    *msgbus.Client
	runner *Runner
	wg     sync.WaitGroup
}

// NewConsumers pairs a bus client with the runner.
func NewConsumers(bus *msgbus.Client, runner *Runner) *Consumers {
	return &Consumers{bus: bus, runner: runner}
}

// Start launches one consumer per kind. Cancel ctx to stop; Wait blocks
// until every loop has exited.
func (c *Consumers) Start(ctx context.Context) {
	kinds := msgbus.AllKinds()
	for _, kind := range kinds {
		c.wg.Add(1)
		go func(kind msgbus.Kind) {
			defer c.wg.Done()
			c.consumeLoop(ctx, kind)
		}(kind)
	}
	logging.Info("Job consumers started on %d queues", len(kinds))
}

// Wait blocks until all consumer loops have stopped.
func (c *Consumers) Wait() {
	c.wg.Wait()
}

func (c *Consumers) consumeLoop(ctx context.Context, kind msgbus.Kind) {
	for {
		err := c.bus.Consume(ctx, kind, consumerPrefetch, c.handleMessage)
		if err == nil {
			return // ctx cancelled
		}
		logging.Warn("Consumer for %s dropped: %v; retrying in %s", kind, err, consumerRetryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(consumerRetryDelay):
		}
	}
}

// handleMessage routes one delivery. A returned error dead-letters the
// message, so only malformed payloads and hard lookup failures return one;
// job outcomes are recorded on the job itself.
func (c *Consumers) handleMessage(ctx context.Context, msg msgbus.InboundMessage) error {
	switch msg.Kind {
	case msgbus.KindCollectionScan, msgbus.KindThumbnailGeneration,
		msgbus.KindCacheGeneration, msgbus.KindCollectionCreation:
		return c.runAnnounced(ctx, msg)
	case msgbus.KindBulkOperation:
		return c.fanOutBulk(ctx, msg)
	case msgbus.KindImageProcessing:
		return c.processImage(ctx, msg)
	case msgbus.KindLibraryScan:
		return c.scanLibrary(ctx, msg)
	}
	return errs.Validationf("no consumer for message kind %s", msg.Kind)
}

// runAnnounced claims the announced job and executes it. Losing the claim
// race to the poller is not an error.
func (c *Consumers) runAnnounced(ctx context.Context, msg msgbus.InboundMessage) error {
	var payload JobMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		return errs.Validationf("malformed %s message %s: %v", msg.Kind, msg.MessageID, err)
	}
	id, err := primitive.ObjectIDFromHex(payload.JobID)
	if err != nil {
		return errs.Validationf("message %s carries bad job id %q", msg.MessageID, payload.JobID)
	}

	job, err := c.runner.queue.ClaimByID(ctx, id)
	if errs.IsNotFound(err) {
		logging.Debug("Job %s already claimed; dropping message %s", payload.JobID, msg.MessageID)
		return nil
	}
	if err != nil {
		return err
	}

	c.runner.Execute(ctx, job)
	return nil
}

// fanOutBulk expands one bulk request into per-collection jobs. Individual
// bad ids or enqueue failures are logged and skipped; the message itself
// only fails on a malformed payload or an unknown operation.
func (c *Consumers) fanOutBulk(ctx context.Context, msg msgbus.InboundMessage) error {
	var payload BulkMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		return errs.Validationf("malformed bulk message %s: %v", msg.MessageID, err)
	}
	jobType, ok := jobTypeForBulkOp(payload.Operation)
	if !ok {
		return errs.Validationf("bulk message %s names unknown operation %q", msg.MessageID, payload.Operation)
	}

	enqueued := 0
	for _, rawID := range payload.CollectionIDs {
		id, err := primitive.ObjectIDFromHex(rawID)
		if err != nil {
			logging.Warn("Bulk %s skips bad collection id %q", payload.Operation, rawID)
			continue
		}
		job := &models.BackgroundJob{
			JobType:       jobType,
			CollectionID:  &id,
			CorrelationID: msg.CorrelationID,
		}
		if _, err := c.runner.Enqueue(ctx, job); err != nil {
			logging.Error("Bulk %s enqueue for %s failed: %v", payload.Operation, rawID, err)
			continue
		}
		enqueued++
	}
	logging.Info("Bulk %s fanned out %d of %d jobs", payload.Operation, enqueued, len(payload.CollectionIDs))
	return nil
}

func jobTypeForBulkOp(op string) (models.JobType, bool) {
	switch strings.ToLower(strings.TrimSpace(op)) {
	case "scan":
		return models.JobScanCollection, true
	case "thumbnails":
		return models.JobGenerateThumbnails, true
	case "cache":
		return models.JobGenerateCache, true
	}
	return "", false
}

func (c *Consumers) processImage(ctx context.Context, msg msgbus.InboundMessage) error {
	var payload ImageMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		return errs.Validationf("malformed image message %s: %v", msg.MessageID, err)
	}
	collectionID, err := primitive.ObjectIDFromHex(payload.CollectionID)
	if err != nil {
		return errs.Validationf("message %s carries bad collection id %q", msg.MessageID, payload.CollectionID)
	}
	imageID, err := primitive.ObjectIDFromHex(payload.ImageID)
	if err != nil {
		return errs.Validationf("message %s carries bad image id %q", msg.MessageID, payload.ImageID)
	}
	return c.runner.RefreshImageThumbnail(ctx, collectionID, imageID)
}

// scanLibrary discovers candidates under the library root, registers the
// new ones, and enqueues a scan per collection.
func (c *Consumers) scanLibrary(ctx context.Context, msg msgbus.InboundMessage) error {
	var payload LibraryScanMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		return errs.Validationf("malformed library scan message %s: %v", msg.MessageID, err)
	}
	libID, err := primitive.ObjectIDFromHex(payload.LibraryID)
	if err != nil {
		return errs.Validationf("message %s carries bad library id %q", msg.MessageID, payload.LibraryID)
	}

	lib, err := c.runner.libs.GetByID(ctx, libID)
	if err != nil {
		return err
	}
	candidates, err := scanner.DiscoverCollections(ctx, lib.Path)
	if err != nil {
		return err
	}

	// Registration is store lookups and broker publishes, so the pool is
	// sized for I/O-bound work.
	var (
		created, enqueued int64
		wg                sync.WaitGroup
		sem               = make(chan struct{}, workers.ForIO(8))
	)
	for i := range candidates {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(cand *scanner.Candidate) {
			defer wg.Done()
			defer func() { <-sem }()

			doc, err := c.runner.docs.GetByPath(ctx, cand.Path)
			if errs.IsNotFound(err) {
				now := time.Now().UTC()
				doc = &models.Collection{
					LibraryID: &lib.ID,
					Name:      cand.Name,
					Path:      cand.Path,
					Type:      cand.Type,
					IsActive:  true,
					CreatedAt: now,
					UpdatedAt: now,
				}
				if _, err := c.runner.docs.Insert(ctx, doc); err != nil {
					logging.Error("Register %s failed: %v", cand.Path, err)
					return
				}
				atomic.AddInt64(&created, 1)
			} else if err != nil {
				logging.Error("Lookup for %s failed: %v", cand.Path, err)
				return
			}

			job := &models.BackgroundJob{
				JobType:       models.JobScanCollection,
				CollectionID:  &doc.ID,
				LibraryID:     &lib.ID,
				CorrelationID: msg.CorrelationID,
			}
			if _, err := c.runner.Enqueue(ctx, job); err != nil {
				logging.Error("Scan enqueue for %s failed: %v", cand.Path, err)
				return
			}
			atomic.AddInt64(&enqueued, 1)
		}(&candidates[i])
	}
	wg.Wait()

	logging.Info("Library %s scan: %d candidates, %d new, %d scans enqueued",
		lib.Name, len(candidates), created, enqueued)
	return nil
}
