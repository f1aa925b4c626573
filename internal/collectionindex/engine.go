package collectionindex

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"collection-viewer/internal/errs"
	"collection-viewer/internal/kvstore"
	"collection-viewer/internal/logging"
	"collection-viewer/internal/metrics"
	"collection-viewer/internal/models"
	"collection-viewer/internal/thumbnail"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	// thumbTTL bounds how long a cached thumbnail blob outlives its last
	// write. Blobs are the only index keys a rebuild never clears.
	thumbTTL = 30 * 24 * time.Hour

	// indexVersion is stamped into every state record. Bump it to force a
	// full re-index on deploy of an incompatible layout.
	indexVersion = 1

	defaultPageSize = 20
	maxPageSize     = 500

	// searchLimit caps how many documents a substring search pulls from
	// the document store before ranking and paging in process.
	searchLimit = 1000
)

// ErrMaintenanceRunning is returned when a rebuild or verify is requested
// while another maintenance pass holds the lock.
var ErrMaintenanceRunning = errs.Validationf("index maintenance already in progress")

// CollectionSource is the slice of the document store the index reads.
type CollectionSource interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Collection, error)
	CountActive(ctx context.Context) (int64, error)
	ListActiveAfter(ctx context.Context, after primitive.ObjectID, limit int64) ([]models.Collection, error)
	SearchActive(ctx context.Context, term string, limit int64) ([]models.Collection, error)
}

// FolderSource lists cache folders for dashboard statistics. Optional.
type FolderSource interface {
	ListAll(ctx context.Context) ([]models.CacheFolder, error)
}

// Engine maintains the sorted indexes, summaries, state records, and
// thumbnail blobs in the key-value store, and serves ordered reads from
// them. All views it keeps are derived; the document store stays
// authoritative and a rebuild can recreate everything.
type Engine struct {
	kvs     *kvstore.Store
	source  CollectionSource
	encoder *thumbnail.Encoder

	// hooksMu guards the optional wiring below, set after construction.
	hooksMu sync.RWMutex
	folders FolderSource
	health  HealthProbe

	// maintenance serializes rebuild and verify passes.
	maintenance sync.Mutex
}

// NewEngine wires an index engine to its stores.
func NewEngine(kvs *kvstore.Store, source CollectionSource, encoder *thumbnail.Encoder) *Engine {
	return &Engine{kvs: kvs, source: source, encoder: encoder}
}

// SetFolderSource enables the cache-folder section of dashboard statistics.
func (e *Engine) SetFolderSource(f FolderSource) {
	e.hooksMu.Lock()
	e.folders = f
	e.hooksMu.Unlock()
}

func (e *Engine) folderSource() FolderSource {
	e.hooksMu.RLock()
	defer e.hooksMu.RUnlock()
	return e.folders
}

// SetHealthProbe supplies the component checks reported in dashboard
// statistics. Without one, the engine reports only the stores it touched.
func (e *Engine) SetHealthProbe(probe HealthProbe) {
	e.hooksMu.Lock()
	e.health = probe
	e.hooksMu.Unlock()
}

func (e *Engine) healthProbe() HealthProbe {
	e.hooksMu.RLock()
	defer e.hooksMu.RUnlock()
	return e.health
}

// Navigation locates a collection inside one ordering.
type Navigation struct {
	PrevID          string `json:"prevId,omitempty"`
	NextID          string `json:"nextId,omitempty"`
	CurrentPosition int64  `json:"currentPosition"`
	Total           int64  `json:"total"`
	HasPrev         bool   `json:"hasPrev"`
	HasNext         bool   `json:"hasNext"`
}

// GetNavigation returns the neighbors and 1-based rank of a collection in
// the given ordering. Not-found means the collection is not indexed.
func (e *Engine) GetNavigation(ctx context.Context, id string, field SortField, dir SortDirection) (*Navigation, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_navigation", start, err) }()

	key := primaryKey(field, dir)

	var rank, total int64
	if rank, err = e.kvs.ZRank(ctx, key, id); err != nil {
		return nil, err
	}
	if total, err = e.kvs.ZCard(ctx, key); err != nil {
		return nil, err
	}

	nav := &Navigation{
		CurrentPosition: rank + 1,
		Total:           total,
		HasPrev:         rank > 0,
		HasNext:         rank < total-1,
	}

	if nav.HasPrev {
		var prev []string
		if prev, err = e.kvs.ZRange(ctx, key, rank-1, rank-1); err != nil {
			return nil, err
		}
		if len(prev) == 1 {
			nav.PrevID = prev[0]
		}
	}
	if nav.HasNext {
		var next []string
		if next, err = e.kvs.ZRange(ctx, key, rank+1, rank+1); err != nil {
			return nil, err
		}
		if len(next) == 1 {
			nav.NextID = next[0]
		}
	}

	return nav, nil
}

// SiblingPage is a page of summaries around an anchor collection.
type SiblingPage struct {
	Siblings        []models.CollectionSummary `json:"siblings"`
	CurrentPosition int64                      `json:"currentPosition"`
	CurrentPage     int                        `json:"currentPage"`
	Total           int64                      `json:"total"`
	TotalPages      int                        `json:"totalPages"`
}

// GetSiblings returns the page of the ordering around the anchor. Page 1
// (or anything below) means "the page containing the anchor", so the first
// request always shows the anchor's surroundings; explicit later pages are
// served literally. Sibling order is the sorted-set traversal order.
func (e *Engine) GetSiblings(ctx context.Context, id string, page, size int, field SortField, dir SortDirection) (*SiblingPage, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_siblings", start, err) }()

	size = clampPageSize(size)
	key := primaryKey(field, dir)

	var rank, total int64
	if rank, err = e.kvs.ZRank(ctx, key, id); err != nil {
		return nil, err
	}
	if total, err = e.kvs.ZCard(ctx, key); err != nil {
		return nil, err
	}

	if page <= 1 {
		page = int(rank/int64(size)) + 1
	}

	first := int64(page-1) * int64(size)
	var ids []string
	if ids, err = e.kvs.ZRange(ctx, key, first, first+int64(size)-1); err != nil {
		return nil, err
	}

	var siblings []models.CollectionSummary
	if siblings, err = e.fetchSummaries(ctx, ids); err != nil {
		return nil, err
	}

	return &SiblingPage{
		Siblings:        siblings,
		CurrentPosition: rank + 1,
		CurrentPage:     page,
		Total:           total,
		TotalPages:      totalPages(total, size),
	}, nil
}

// Page is one window of an ordering.
type Page struct {
	Items      []models.CollectionSummary `json:"items"`
	Page       int                        `json:"page"`
	PageSize   int                        `json:"pageSize"`
	Total      int64                      `json:"total"`
	TotalPages int                        `json:"totalPages"`
}

// GetPage returns one page of the primary ordering.
func (e *Engine) GetPage(ctx context.Context, page, size int, field SortField, dir SortDirection) (*Page, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_page", start, err) }()

	var p *Page
	p, err = e.pageFromSet(ctx, primaryKey(field, dir), page, size)
	return p, err
}

// GetLibraryPage returns one page of a library-scoped ordering.
func (e *Engine) GetLibraryPage(ctx context.Context, libraryID string, page, size int, field SortField, dir SortDirection) (*Page, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_library_page", start, err) }()

	if libraryID == "" {
		err = errs.Validationf("library id is required")
		return nil, err
	}

	var p *Page
	p, err = e.pageFromSet(ctx, libraryKey(libraryID, field, dir), page, size)
	return p, err
}

// GetTypePage returns one page of a type-scoped ordering.
func (e *Engine) GetTypePage(ctx context.Context, t models.CollectionType, page, size int, field SortField, dir SortDirection) (*Page, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_type_page", start, err) }()

	code := t.Code()
	if code < 0 {
		err = errs.Validationf("unknown collection type %q", t)
		return nil, err
	}

	var p *Page
	p, err = e.pageFromSet(ctx, typeKey(code, field, dir), page, size)
	return p, err
}

func (e *Engine) pageFromSet(ctx context.Context, key string, page, size int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	size = clampPageSize(size)

	total, err := e.kvs.ZCard(ctx, key)
	if err != nil {
		return nil, err
	}

	first := int64(page-1) * int64(size)
	ids, err := e.kvs.ZRange(ctx, key, first, first+int64(size)-1)
	if err != nil {
		return nil, err
	}

	items, err := e.fetchSummaries(ctx, ids)
	if err != nil {
		return nil, err
	}

	return &Page{
		Items:      items,
		Page:       page,
		PageSize:   size,
		Total:      total,
		TotalPages: totalPages(total, size),
	}, nil
}

// SearchPage matches collections by case-insensitive substring on name or
// path in the document store, orders them like the requested index, and
// joins summaries from the key-value store. A summary miss is synthesized
// from the already-fetched document so search never returns holes.
func (e *Engine) SearchPage(ctx context.Context, query string, page, size int, field SortField, dir SortDirection) (*Page, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("search", start, err) }()

	term := strings.TrimSpace(query)
	if term == "" {
		var p *Page
		p, err = e.pageFromSet(ctx, primaryKey(field, dir), page, size)
		return p, err
	}

	if page < 1 {
		page = 1
	}
	size = clampPageSize(size)

	var docs []models.Collection
	if docs, err = e.source.SearchActive(ctx, term, searchLimit); err != nil {
		return nil, err
	}

	// Same order the sorted set would serve: ascending score, ties by id.
	sort.SliceStable(docs, func(i, j int) bool {
		si := scoreFor(&docs[i], field, dir)
		sj := scoreFor(&docs[j], field, dir)
		if si != sj {
			return si < sj
		}
		return docs[i].ID.Hex() < docs[j].ID.Hex()
	})

	total := int64(len(docs))
	first := (page - 1) * size
	if first > len(docs) {
		first = len(docs)
	}
	last := first + size
	if last > len(docs) {
		last = len(docs)
	}
	window := docs[first:last]

	var values []*string
	if len(window) > 0 {
		keys := make([]string, len(window))
		for i := range window {
			keys[i] = dataKey(window[i].ID.Hex())
		}
		var mgetErr error
		if values, mgetErr = e.kvs.MGet(ctx, keys...); mgetErr != nil {
			logging.Warn("collectionindex: search summary join failed, synthesizing page: %v", mgetErr)
			values = nil
		}
	}

	items := make([]models.CollectionSummary, 0, len(window))
	for i := range window {
		c := &window[i]
		if i < len(values) && values[i] != nil {
			var summary models.CollectionSummary
			if jsonErr := json.Unmarshal([]byte(*values[i]), &summary); jsonErr == nil {
				items = append(items, summary)
				continue
			}
			logging.Warn("collectionindex: bad summary payload for %s, synthesizing", c.ID.Hex())
		}
		items = append(items, e.buildSummary(ctx, c, false))
	}

	return &Page{
		Items:      items,
		Page:       page,
		PageSize:   size,
		Total:      total,
		TotalPages: totalPages(total, size),
	}, nil
}

// AddOrUpdate indexes one collection: sorted-set entries in every ordering
// plus library/type scopes, the summary payload, and the state record.
// Soft-deleted collections are removed instead. Key-value store failures
// are logged and swallowed; the next rebuild or verify heals them.
func (e *Engine) AddOrUpdate(ctx context.Context, c *models.Collection) error {
	start := time.Now()
	var err error
	defer func() { recordOp("add_or_update", start, err) }()

	if c == nil || c.ID.IsZero() {
		err = errs.Validationf("collection with no id cannot be indexed")
		return err
	}
	if c.IsDeleted {
		return e.Remove(ctx, c.ID.Hex())
	}

	if writeErr := e.writeCollection(ctx, c, true); writeErr != nil {
		logging.Error("collectionindex: indexing %s failed: %v", c.ID.Hex(), writeErr)
	}
	return nil
}

// Remove drops a collection from every ordering, using the cached summary
// to find its library and type scopes, and deletes its summary and state.
// The thumbnail blob is left to its TTL. Store failures are logged and
// swallowed.
func (e *Engine) Remove(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("remove", start, err) }()

	if id == "" {
		err = errs.Validationf("collection id is required")
		return err
	}

	var summary *models.CollectionSummary
	if raw, getErr := e.kvs.Get(ctx, dataKey(id)); getErr == nil {
		var s models.CollectionSummary
		if jsonErr := json.Unmarshal([]byte(raw), &s); jsonErr == nil {
			summary = &s
		}
	} else if !errs.IsNotFound(getErr) {
		logging.Warn("collectionindex: summary read for remove of %s failed: %v", id, getErr)
	}

	batch := e.kvs.NewBatch()
	for _, field := range SortFields() {
		for _, dir := range Directions() {
			batch.ZRem(ctx, primaryKey(field, dir), id)
			if summary == nil {
				continue
			}
			if summary.LibraryID != "" {
				batch.ZRem(ctx, libraryKey(summary.LibraryID, field, dir), id)
			}
			if code := summary.Type.Code(); code >= 0 {
				batch.ZRem(ctx, typeKey(code, field, dir), id)
			}
		}
	}
	batch.Del(ctx, dataKey(id), stateKey(id))

	if execErr := batch.Exec(ctx); execErr != nil {
		logging.Error("collectionindex: removing %s failed: %v", id, execErr)
	}
	return nil
}

// IndexedCount reports how many collections the default ordering holds.
// Polled by the metrics gauges.
func (e *Engine) IndexedCount(ctx context.Context) (int64, error) {
	return e.kvs.ZCard(ctx, primaryKey(FieldUpdatedAt, Desc))
}

// writeCollection upserts every index entry for one collection in a single
// pipeline. renderThumb controls whether a blob-cache miss may re-encode
// the thumbnail file; read paths pass false and settle for what is cached.
func (e *Engine) writeCollection(ctx context.Context, c *models.Collection, renderThumb bool) error {
	id := c.ID.Hex()
	summary := e.buildSummary(ctx, c, renderThumb)
	state := buildState(c, &summary)

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return errs.Validationf("collection %s summary not serializable: %v", id, err)
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return errs.Validationf("collection %s state not serializable: %v", id, err)
	}

	library := c.LibraryHex()
	code := c.Type.Code()

	batch := e.kvs.NewBatch()
	for _, field := range SortFields() {
		for _, dir := range Directions() {
			score := scoreFor(c, field, dir)
			batch.ZAdd(ctx, primaryKey(field, dir), score, id)
			if library != "" {
				batch.ZAdd(ctx, libraryKey(library, field, dir), score, id)
			}
			if code >= 0 {
				batch.ZAdd(ctx, typeKey(code, field, dir), score, id)
			}
		}
	}
	batch.Set(ctx, dataKey(id), string(summaryJSON), 0)
	batch.Set(ctx, stateKey(id), string(stateJSON), 0)

	return batch.Exec(ctx)
}

// buildSummary projects a collection into its index summary. The inline
// thumbnail comes from the blob cache when present; on a miss with
// renderThumb set, the file is encoded per policy and the blob cached
// best-effort.
func (e *Engine) buildSummary(ctx context.Context, c *models.Collection, renderThumb bool) models.CollectionSummary {
	id := c.ID.Hex()
	summary := models.CollectionSummary{
		ID:             id,
		Name:           c.Name,
		FirstImageID:   c.FirstImageID(),
		ImageCount:     len(c.Images),
		ThumbnailCount: len(c.Thumbnails),
		CacheCount:     len(c.CacheImages),
		TotalSize:      c.Statistics.TotalSize,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		LibraryID:      c.LibraryHex(),
		Description:    c.Description,
		Type:           c.Type,
		Tags:           c.Metadata.Tags,
		Path:           c.Path,
	}

	first := c.FirstThumbnail()
	if first == nil {
		return summary
	}

	if raw, err := e.kvs.GetBytes(ctx, thumbKey(id)); err == nil {
		metrics.ThumbnailCacheHits.Inc()
		summary.ThumbnailBase64 = thumbnail.InlineBytes(raw)
		return summary
	} else if !errs.IsNotFound(err) {
		logging.Debug("collectionindex: thumbnail cache read for %s failed: %v", id, err)
	}
	metrics.ThumbnailCacheMisses.Inc()

	if !renderThumb {
		return summary
	}

	rendered, err := e.encoder.Render(ctx, *first)
	if err != nil {
		logging.Debug("collectionindex: thumbnail for %s not rendered: %v", id, err)
		return summary
	}
	summary.ThumbnailBase64 = thumbnail.DataURL(rendered.Data, rendered.Format)

	if err := e.kvs.Set(ctx, thumbKey(id), string(rendered.Data), thumbTTL); err != nil {
		logging.Debug("collectionindex: thumbnail cache write for %s failed: %v", id, err)
	}
	return summary
}

func buildState(c *models.Collection, summary *models.CollectionSummary) models.CollectionIndexState {
	state := models.CollectionIndexState{
		CollectionID:        summary.ID,
		IndexedAt:           time.Now().UTC(),
		CollectionUpdatedAt: c.UpdatedAt,
		ImageCount:          summary.ImageCount,
		ThumbnailCount:      summary.ThumbnailCount,
		CacheCount:          summary.CacheCount,
		IndexVersion:        indexVersion,
	}
	if first := c.FirstThumbnail(); first != nil {
		state.HasFirstThumbnail = true
		state.FirstThumbnailPath = first.ThumbnailPath
	}
	return state
}

// CachedThumbnail returns the raw cached thumbnail bytes for a collection,
// or a not-found error.
func (e *Engine) CachedThumbnail(ctx context.Context, id string) ([]byte, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("cached_thumbnail", start, err) }()

	var raw []byte
	if raw, err = e.kvs.GetBytes(ctx, thumbKey(id)); err != nil {
		if errs.IsNotFound(err) {
			metrics.ThumbnailCacheMisses.Inc()
		}
		return nil, err
	}
	metrics.ThumbnailCacheHits.Inc()
	return raw, nil
}

// StoreThumbnail caches raw thumbnail bytes for a collection with the
// standard TTL.
func (e *Engine) StoreThumbnail(ctx context.Context, id string, data []byte) error {
	start := time.Now()
	var err error
	defer func() { recordOp("store_thumbnail", start, err) }()

	if id == "" || len(data) == 0 {
		err = errs.Validationf("thumbnail cache write needs an id and payload")
		return err
	}
	err = e.kvs.Set(ctx, thumbKey(id), string(data), thumbTTL)
	return err
}

// CacheThumbnails renders and caches thumbnail blobs for the given
// collections, skipping ones already cached. Render failures are logged by
// the encoder and skipped. Returns how many blobs were stored.
func (e *Engine) CacheThumbnails(ctx context.Context, cs []models.Collection) int {
	start := time.Now()
	defer func() { recordOp("cache_thumbnails", start, nil) }()

	items := make([]thumbnail.BatchItem, 0, len(cs))
	for i := range cs {
		c := &cs[i]
		first := c.FirstThumbnail()
		if first == nil || c.ID.IsZero() {
			continue
		}
		id := c.ID.Hex()
		if _, err := e.kvs.Get(ctx, thumbKey(id)); err == nil {
			continue
		}
		items = append(items, thumbnail.BatchItem{CollectionID: id, Record: *first})
	}

	rendered := e.encoder.RenderMany(ctx, items)

	stored := 0
	for id, r := range rendered {
		if err := e.kvs.Set(ctx, thumbKey(id), string(r.Data), thumbTTL); err != nil {
			logging.Warn("collectionindex: thumbnail cache write for %s failed: %v", id, err)
			continue
		}
		stored++
	}
	return stored
}

// fetchSummaries resolves ids to summaries preserving order. Missing or
// unreadable summaries are synthesized from the document store; documents
// that are gone entirely are dropped from the result.
func (e *Engine) fetchSummaries(ctx context.Context, ids []string) ([]models.CollectionSummary, error) {
	if len(ids) == 0 {
		return []models.CollectionSummary{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = dataKey(id)
	}

	values, err := e.kvs.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}

	out := make([]models.CollectionSummary, 0, len(ids))
	for i, id := range ids {
		if i < len(values) && values[i] != nil {
			var summary models.CollectionSummary
			if jsonErr := json.Unmarshal([]byte(*values[i]), &summary); jsonErr == nil {
				out = append(out, summary)
				continue
			}
			logging.Warn("collectionindex: bad summary payload for %s, synthesizing", id)
		}

		oid, hexErr := primitive.ObjectIDFromHex(id)
		if hexErr != nil {
			logging.Warn("collectionindex: dropping malformed indexed id %q", id)
			continue
		}
		doc, getErr := e.source.GetByID(ctx, oid)
		if getErr != nil || doc.IsDeleted {
			logging.Debug("collectionindex: indexed id %s has no usable document", id)
			continue
		}
		out = append(out, e.buildSummary(ctx, doc, false))
	}
	return out, nil
}

func clampPageSize(size int) int {
	if size < 1 {
		return defaultPageSize
	}
	if size > maxPageSize {
		return maxPageSize
	}
	return size
}

func totalPages(total int64, size int) int {
	if total <= 0 || size < 1 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}

// recordOp records operation metrics; a not-found outcome counts as
// success, matching the store adapters.
func recordOp(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil && !errs.IsNotFound(err) {
		status = "error"
	}
	metrics.IndexOpsTotal.WithLabelValues(operation, status).Inc()
	metrics.IndexOpDuration.WithLabelValues(operation).Observe(duration)
}
