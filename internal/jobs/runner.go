// Package jobs executes background work: collection scans, thumbnail and
// cache image generation, cache cleanup, and index rebuilds.
//
// A job lives in the document store and moves pending -> running ->
// {completed, failed, cancelled}. Two things wake jobs up: the supervisor's
// poll loop and the message bus consumers. Both claim through the same
// atomic store transition, so a job that is enqueued and announced on the
// bus still runs exactly once regardless of which path gets there first.
package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"collection-viewer/internal/collectionindex"
	"collection-viewer/internal/errs"
	"collection-viewer/internal/logging"
	"collection-viewer/internal/metrics"
	"collection-viewer/internal/models"
	"collection-viewer/internal/msgbus"
	"collection-viewer/internal/thumbnail"
)

// Terminal status writes get their own deadline so a cancelled job can
// still record its outcome.
const statusWriteTimeout = 10 * time.Second

// Queue is the slice of the job store the runner drives.
type Queue interface {
	Create(ctx context.Context, job *models.BackgroundJob) (primitive.ObjectID, error)
	ClaimPending(ctx context.Context) (*models.BackgroundJob, error)
	ClaimByID(ctx context.Context, id primitive.ObjectID) (*models.BackgroundJob, error)
	CountPending(ctx context.Context) (int64, error)
	UpdateProgress(ctx context.Context, id primitive.ObjectID, current, total int64) error
	Complete(ctx context.Context, id primitive.ObjectID, result string) error
	Fail(ctx context.Context, id primitive.ObjectID, errMsg string) error
}

// Documents is the slice of the collection store the handlers touch.
type Documents interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Collection, error)
	GetByPath(ctx context.Context, path string) (*models.Collection, error)
	Insert(ctx context.Context, c *models.Collection) (primitive.ObjectID, error)
	ListActiveAfter(ctx context.Context, after primitive.ObjectID, limit int64) ([]models.Collection, error)
	ReplaceScanResults(ctx context.Context, id primitive.ObjectID, images []models.ImageEntry, thumbs []models.EmbeddedThumbnail, cache []models.CacheImage, stats models.CollectionStatistics) error
	SetThumbnails(ctx context.Context, id primitive.ObjectID, thumbs []models.EmbeddedThumbnail) error
	SetCacheImages(ctx context.Context, id primitive.ObjectID, cache []models.CacheImage) error
}

// Libraries resolves library roots for library-wide scans.
type Libraries interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Library, error)
}

// CacheFolders is the slice of the cache folder store cleanup reports to.
type CacheFolders interface {
	ListActive(ctx context.Context) ([]models.CacheFolder, error)
	RecordCleanup(ctx context.Context, id primitive.ObjectID, collectionID primitive.ObjectID) error
}

// Indexer keeps the read model current after a handler mutates a document.
type Indexer interface {
	AddOrUpdate(ctx context.Context, c *models.Collection) error
	RebuildIndex(ctx context.Context, mode collectionindex.RebuildMode, opts collectionindex.RebuildOptions) (*collectionindex.RebuildStatistics, error)
}

// Publisher announces persisted jobs on the message bus.
type Publisher interface {
	Publish(ctx context.Context, kind msgbus.Kind, payload interface{}) error
}

// MemoryGate holds heavy work back while the process is paused for memory
// pressure. WaitIfPaused blocks until pressure clears and reports false
// only when the gate is shutting down.
type MemoryGate interface {
	WaitIfPaused() bool
}

// Config carries the runner's collaborators and tunables.
type Config struct {
	Queue     Queue
	Docs      Documents
	Libraries Libraries
	Folders   CacheFolders
	Index     Indexer
	Bus       Publisher // optional; without it enqueued jobs wait for the poller
	Memory    MemoryGate // optional; claimed jobs wait out memory pauses
	CacheDir  string
	Settings  *thumbnail.SettingsCache // nil falls back to defaults
}

type handlerFunc func(ctx context.Context, job *models.BackgroundJob) (string, error)

// Runner is the shared execute path for supervisor-claimed and bus-claimed
// jobs.
type Runner struct {
	queue    Queue
	docs     Documents
	libs     Libraries
	folders  CacheFolders
	index    Indexer
	bus      Publisher
	memory   MemoryGate
	cacheDir string
	settings *thumbnail.SettingsCache

	handlers map[models.JobType]handlerFunc
}

// NewRunner wires the handler registry.
func NewRunner(cfg Config) *Runner {
	settings := cfg.Settings
	if settings == nil {
		settings = thumbnail.NewSettingsCache(nil, 0)
	}
	r := &Runner{
		queue:    cfg.Queue,
		docs:     cfg.Docs,
		libs:     cfg.Libraries,
		folders:  cfg.Folders,
		index:    cfg.Index,
		bus:      cfg.Bus,
		memory:   cfg.Memory,
		cacheDir: cfg.CacheDir,
		settings: settings,
	}
	r.handlers = map[models.JobType]handlerFunc{
		models.JobScanCollection:     r.runScan,
		models.JobGenerateThumbnails: r.runThumbnails,
		models.JobGenerateCache:      r.runCacheImages,
		models.JobCleanupCache:       r.runCleanup,
		models.JobRebuildIndex:       r.runRebuild,
	}
	return r
}

// Enqueue stores a pending job and announces it on the bus when the job's
// type has a queue. A publish failure leaves the job pending for the poller,
// so it is logged rather than returned.
func (r *Runner) Enqueue(ctx context.Context, job *models.BackgroundJob) (primitive.ObjectID, error) {
	if !models.ValidJobType(job.JobType) {
		return primitive.NilObjectID, errs.Validationf("unknown job type %q", job.JobType)
	}
	id, err := r.queue.Create(ctx, job)
	if err != nil {
		return primitive.NilObjectID, err
	}

	kind, announced := kindForJobType(job.JobType)
	if r.bus == nil || !announced {
		return id, nil
	}
	msg := JobMessage{JobID: id.Hex()}
	if job.CollectionID != nil {
		msg.CollectionID = job.CollectionID.Hex()
	}
	if err := r.bus.Publish(ctx, kind, msg); err != nil {
		logging.Warn("Announce for job %s failed; the poller will pick it up: %v", id.Hex(), err)
	}
	return id, nil
}

// Execute runs one claimed job to a terminal state. Status write failures
// are logged, never re-raised: the work already happened and the next
// verify or rebuild reconciles any bookkeeping the store missed.
func (r *Runner) Execute(ctx context.Context, job *models.BackgroundJob) {
	if r.memory != nil && !r.memory.WaitIfPaused() {
		r.recordFailure(ctx, job, errs.HandlerFailure(nil, "aborted while paused for memory pressure"))
		return
	}

	start := time.Now()
	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()
	defer func() {
		metrics.JobDuration.WithLabelValues(string(job.JobType)).Observe(time.Since(start).Seconds())
	}()

	logging.Info("Job %s started: %s", job.ID.Hex(), job.JobType)

	handler, ok := r.handlers[job.JobType]
	if !ok {
		r.recordFailure(ctx, job, errs.HandlerFailure(nil, "no handler registered for job type %q", job.JobType))
		return
	}

	result, err := handler(ctx, job)
	if err != nil {
		r.recordFailure(ctx, job, err)
		return
	}

	wctx, cancel := terminalCtx(ctx)
	defer cancel()
	if cerr := r.queue.Complete(wctx, job.ID, result); cerr != nil {
		logging.Error("Recording completion for job %s failed: %v", job.ID.Hex(), cerr)
	}
	metrics.JobsTotal.WithLabelValues(string(job.JobType), string(models.JobCompleted)).Inc()
	logging.Info("Job %s completed in %v: %s", job.ID.Hex(), time.Since(start).Round(time.Millisecond), result)
}

func (r *Runner) recordFailure(ctx context.Context, job *models.BackgroundJob, cause error) {
	logging.Error("Job %s (%s) failed: %v", job.ID.Hex(), job.JobType, cause)
	wctx, cancel := terminalCtx(ctx)
	defer cancel()
	if err := r.queue.Fail(wctx, job.ID, cause.Error()); err != nil {
		logging.Error("Recording failure for job %s failed: %v", job.ID.Hex(), err)
	}
	metrics.JobsTotal.WithLabelValues(string(job.JobType), string(models.JobFailed)).Inc()
}

// terminalCtx detaches from the job's cancellation so terminal writes land
// even when the job itself was cancelled.
func terminalCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
}

// progressFunc returns a monotone progress writer for one job. Regressions
// are dropped so an out-of-order write can never make progress appear to
// move backwards.
func (r *Runner) progressFunc(ctx context.Context, id primitive.ObjectID) func(current, total int64) {
	last := int64(-1)
	return func(current, total int64) {
		if current < last {
			return
		}
		last = current
		if err := r.queue.UpdateProgress(ctx, id, current, total); err != nil {
			logging.Debug("Progress write for job %s: %v", id.Hex(), err)
		}
	}
}

// jobCollection resolves the collection a job targets.
func (r *Runner) jobCollection(ctx context.Context, job *models.BackgroundJob) (*models.Collection, error) {
	if job.CollectionID == nil || job.CollectionID.IsZero() {
		return nil, errs.Validationf("job %s carries no collection id", job.ID.Hex())
	}
	return r.docs.GetByID(ctx, *job.CollectionID)
}

// refreshIndex reloads the document and pushes it into the read model. The
// index self-heals on the next rebuild, so a refresh failure only warns.
func (r *Runner) refreshIndex(ctx context.Context, id primitive.ObjectID) {
	c, err := r.docs.GetByID(ctx, id)
	if err != nil {
		logging.Warn("Index refresh read for %s failed: %v", id.Hex(), err)
		return
	}
	if err := r.index.AddOrUpdate(ctx, c); err != nil {
		logging.Warn("Index refresh for %s failed: %v", id.Hex(), err)
	}
}

func kindForJobType(t models.JobType) (msgbus.Kind, bool) {
	switch t {
	case models.JobScanCollection:
		return msgbus.KindCollectionScan, true
	case models.JobGenerateThumbnails:
		return msgbus.KindThumbnailGeneration, true
	case models.JobGenerateCache:
		return msgbus.KindCacheGeneration, true
	}
	return 0, false
}

func paramInt(job *models.BackgroundJob, key string, def int) int {
	raw := job.Param(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		logging.Warn("Job %s parameter %s=%q invalid; using %d", job.ID.Hex(), key, raw, def)
		return def
	}
	return n
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
