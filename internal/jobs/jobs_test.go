package jobs

import (
	"archive/zip"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"collection-viewer/internal/collectionindex"
	"collection-viewer/internal/errs"
	"collection-viewer/internal/models"
	"collection-viewer/internal/msgbus"
)

// fakeQueue is an in-memory stand-in for the background_jobs store with the
// same lifecycle rules: claims only flip pending jobs, progress and terminal
// writes only land on running ones.
type fakeQueue struct {
	mu    sync.Mutex
	jobs  map[primitive.ObjectID]*models.BackgroundJob
	order []primitive.ObjectID

	claimErr    error
	progressLog [][2]int64
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: map[primitive.ObjectID]*models.BackgroundJob{}}
}

func (q *fakeQueue) Create(ctx context.Context, job *models.BackgroundJob) (primitive.ObjectID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job.ID.IsZero() {
		job.ID = primitive.NewObjectID()
	}
	job.Status = models.JobPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	stored := *job
	q.jobs[job.ID] = &stored
	q.order = append(q.order, job.ID)
	return job.ID, nil
}

func (q *fakeQueue) ClaimPending(ctx context.Context) (*models.BackgroundJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	for _, id := range q.order {
		job := q.jobs[id]
		if job.Status == models.JobPending {
			return q.claimLocked(job), nil
		}
	}
	return nil, errs.NotFoundf("no pending jobs")
}

func (q *fakeQueue) ClaimByID(ctx context.Context, id primitive.ObjectID) (*models.BackgroundJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	job, ok := q.jobs[id]
	if !ok || job.Status != models.JobPending {
		return nil, errs.NotFoundf("job %s is not pending", id.Hex())
	}
	return q.claimLocked(job), nil
}

func (q *fakeQueue) claimLocked(job *models.BackgroundJob) *models.BackgroundJob {
	now := time.Now().UTC()
	job.Status = models.JobRunning
	job.StartedAt = &now
	claimed := *job
	return &claimed
}

func (q *fakeQueue) CountPending(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for _, job := range q.jobs {
		if job.Status == models.JobPending {
			n++
		}
	}
	return n, nil
}

func (q *fakeQueue) UpdateProgress(ctx context.Context, id primitive.ObjectID, current, total int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok || job.Status != models.JobRunning {
		return nil
	}
	job.ProgressCurrent = current
	job.ProgressTotal = total
	q.progressLog = append(q.progressLog, [2]int64{current, total})
	return nil
}

func (q *fakeQueue) Complete(ctx context.Context, id primitive.ObjectID, result string) error {
	return q.finish(id, models.JobCompleted, result, "")
}

func (q *fakeQueue) Fail(ctx context.Context, id primitive.ObjectID, errMsg string) error {
	return q.finish(id, models.JobFailed, "", errMsg)
}

func (q *fakeQueue) finish(id primitive.ObjectID, status models.JobStatus, result, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok || job.Status != models.JobRunning {
		return errs.NotFoundf("job %s is not running", id.Hex())
	}
	now := time.Now().UTC()
	job.Status = status
	job.CompletedAt = &now
	job.ResultMessage = result
	job.ErrorMessage = errMsg
	return nil
}

func (q *fakeQueue) get(t *testing.T, id primitive.ObjectID) models.BackgroundJob {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		t.Fatalf("Job %s not in queue", id.Hex())
	}
	return *job
}

func (q *fakeQueue) byStatus(status models.JobStatus) []models.BackgroundJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []models.BackgroundJob
	for _, id := range q.order {
		if q.jobs[id].Status == status {
			out = append(out, *q.jobs[id])
		}
	}
	return out
}

// fakeDocs is an in-memory collection store.
type fakeDocs struct {
	mu   sync.Mutex
	docs map[string]models.Collection

	getErr error
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: map[string]models.Collection{}}
}

func (f *fakeDocs) put(c models.Collection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[c.ID.Hex()] = c
}

func (f *fakeDocs) get(t *testing.T, id primitive.ObjectID) models.Collection {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.docs[id.Hex()]
	if !ok {
		t.Fatalf("Collection %s not stored", id.Hex())
	}
	return c
}

func (f *fakeDocs) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.docs[id.Hex()]
	if !ok {
		return nil, errs.NotFoundf("collection %s not found", id.Hex())
	}
	copied := c
	return &copied, nil
}

func (f *fakeDocs) GetByPath(ctx context.Context, path string) (*models.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.docs {
		if c.Path == path && !c.IsDeleted {
			copied := c
			return &copied, nil
		}
	}
	return nil, errs.NotFoundf("no collection at %s", path)
}

func (f *fakeDocs) Insert(ctx context.Context, c *models.Collection) (primitive.ObjectID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	f.docs[c.ID.Hex()] = *c
	return c.ID, nil
}

func (f *fakeDocs) ListActiveAfter(ctx context.Context, after primitive.ObjectID, limit int64) ([]models.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Collection
	for _, c := range f.docs {
		if c.IsDeleted {
			continue
		}
		if !after.IsZero() && c.ID.Hex() <= after.Hex() {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeDocs) ReplaceScanResults(ctx context.Context, id primitive.ObjectID, images []models.ImageEntry, thumbs []models.EmbeddedThumbnail, cache []models.CacheImage, stats models.CollectionStatistics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.docs[id.Hex()]
	if !ok {
		return errs.NotFoundf("collection %s not found", id.Hex())
	}
	c.Images = images
	c.Thumbnails = thumbs
	c.CacheImages = cache
	c.Statistics.TotalItems = stats.TotalItems
	c.Statistics.TotalSize = stats.TotalSize
	c.UpdatedAt = time.Now().UTC()
	f.docs[id.Hex()] = c
	return nil
}

func (f *fakeDocs) SetThumbnails(ctx context.Context, id primitive.ObjectID, thumbs []models.EmbeddedThumbnail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.docs[id.Hex()]
	if !ok {
		return errs.NotFoundf("collection %s not found", id.Hex())
	}
	c.Thumbnails = thumbs
	c.UpdatedAt = time.Now().UTC()
	f.docs[id.Hex()] = c
	return nil
}

func (f *fakeDocs) SetCacheImages(ctx context.Context, id primitive.ObjectID, cache []models.CacheImage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.docs[id.Hex()]
	if !ok {
		return errs.NotFoundf("collection %s not found", id.Hex())
	}
	c.CacheImages = cache
	c.UpdatedAt = time.Now().UTC()
	f.docs[id.Hex()] = c
	return nil
}

type fakeLibs struct {
	mu   sync.Mutex
	libs map[string]models.Library
}

func newFakeLibs() *fakeLibs {
	return &fakeLibs{libs: map[string]models.Library{}}
}

func (f *fakeLibs) put(lib models.Library) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.libs[lib.ID.Hex()] = lib
}

func (f *fakeLibs) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Library, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lib, ok := f.libs[id.Hex()]
	if !ok {
		return nil, errs.NotFoundf("library %s not found", id.Hex())
	}
	copied := lib
	return &copied, nil
}

type fakeCacheFolders struct {
	mu       sync.Mutex
	folders  []models.CacheFolder
	cleanups []primitive.ObjectID
}

func (f *fakeCacheFolders) ListActive(ctx context.Context) ([]models.CacheFolder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CacheFolder(nil), f.folders...), nil
}

func (f *fakeCacheFolders) RecordCleanup(ctx context.Context, id primitive.ObjectID, collectionID primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, id)
	return nil
}

// fakeIndex records read-model refreshes and rebuild delegations.
type fakeIndex struct {
	mu       sync.Mutex
	updated  []primitive.ObjectID
	mode     collectionindex.RebuildMode
	rebuilds int
	stats    *collectionindex.RebuildStatistics
	err      error
}

func (f *fakeIndex) AddOrUpdate(ctx context.Context, c *models.Collection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.updated = append(f.updated, c.ID)
	return nil
}

func (f *fakeIndex) RebuildIndex(ctx context.Context, mode collectionindex.RebuildMode, opts collectionindex.RebuildOptions) (*collectionindex.RebuildStatistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.mode = mode
	f.rebuilds++
	if opts.Progress != nil {
		opts.Progress(1, 1)
	}
	if f.stats != nil {
		return f.stats, nil
	}
	return &collectionindex.RebuildStatistics{Mode: mode}, nil
}

func (f *fakeIndex) sawUpdate(id primitive.ObjectID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.updated {
		if u == id {
			return true
		}
	}
	return false
}

type published struct {
	kind    msgbus.Kind
	payload interface{}
}

type fakeBus struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakeBus) Publish(ctx context.Context, kind msgbus.Kind, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{kind: kind, payload: payload})
	return nil
}

func (f *fakeBus) byKind(kind msgbus.Kind) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.sent {
		if p.kind == kind {
			out = append(out, p)
		}
	}
	return out
}

type testEnv struct {
	runner  *Runner
	queue   *fakeQueue
	docs    *fakeDocs
	libs    *fakeLibs
	folders *fakeCacheFolders
	index   *fakeIndex
	bus     *fakeBus
	cache   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		queue:   newFakeQueue(),
		docs:    newFakeDocs(),
		libs:    newFakeLibs(),
		folders: &fakeCacheFolders{},
		index:   &fakeIndex{},
		bus:     &fakeBus{},
		cache:   t.TempDir(),
	}
	env.runner = NewRunner(Config{
		Queue:     env.queue,
		Docs:      env.docs,
		Libraries: env.libs,
		Folders:   env.folders,
		Index:     env.index,
		Bus:       env.bus,
		CacheDir:  env.cache,
	})
	return env
}

// writeImageFile writes a real PNG so the render pipeline decodes it.
func writeImageFile(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create fixture dir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create fixture %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode fixture %s: %v", path, err)
	}
}

// writeZipArchive builds a zip whose entries are real PNGs.
func writeZipArchive(t *testing.T, path string, entries []string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create archive %s: %v", path, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Failed to add %s: %v", name, err)
		}
		img := image.NewRGBA(image.Rect(0, 0, 64, 48))
		if err := png.Encode(w, img); err != nil {
			t.Fatalf("Failed to encode %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to finish archive: %v", err)
	}
}

// folderCollection registers a folder-backed collection over dir with the
// given already-scanned entries.
func folderCollection(env *testEnv, dir string, entries ...models.ImageEntry) models.Collection {
	now := time.Now().UTC().Truncate(time.Millisecond)
	c := models.Collection{
		ID:        primitive.NewObjectID(),
		Name:      filepath.Base(dir),
		Path:      dir,
		Type:      models.TypeFolder,
		IsActive:  true,
		Images:    entries,
		CreatedAt: now.Add(-time.Hour),
		UpdatedAt: now,
	}
	env.docs.put(c)
	return c
}

func imageEntry(relPath string, size int64) models.ImageEntry {
	return models.ImageEntry{
		ID:           primitive.NewObjectID(),
		Filename:     filepath.Base(relPath),
		RelativePath: relPath,
		FileSize:     size,
		Archive: models.ArchiveRef{
			EntryName: relPath,
			FileType:  models.FileRegular,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// startJob enqueues and claims a job so Execute and the handlers see the
// running state they expect.
func startJob(t *testing.T, env *testEnv, job *models.BackgroundJob) *models.BackgroundJob {
	t.Helper()
	id, err := env.queue.Create(context.Background(), job)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	claimed, err := env.queue.ClaimByID(context.Background(), id)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	return claimed
}
