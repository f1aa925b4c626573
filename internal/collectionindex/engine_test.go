package collectionindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"collection-viewer/internal/errs"
	"collection-viewer/internal/kvstore"
	"collection-viewer/internal/models"
	"collection-viewer/internal/thumbnail"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// oid derives a deterministic object id from a small integer, so fixture
// ids sort in numeric order.
func oid(n int) primitive.ObjectID {
	id, err := primitive.ObjectIDFromHex(fmt.Sprintf("%024x", n))
	if err != nil {
		panic(err)
	}
	return id
}

// fakeSource is an in-memory stand-in for the document store with the same
// id-ordered cursor semantics.
type fakeSource struct {
	mu   sync.Mutex
	docs map[string]models.Collection

	getErr    error
	countErr  error
	listErr   error
	searchErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{docs: make(map[string]models.Collection)}
}

func (f *fakeSource) put(c *models.Collection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[c.ID.Hex()] = *c
}

func (f *fakeSource) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
}

func (f *fakeSource) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.docs[id.Hex()]
	if !ok {
		return nil, errs.NotFoundf("collection %s not found", id.Hex())
	}
	return &c, nil
}

func (f *fakeSource) CountActive(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	var n int64
	for _, c := range f.docs {
		if !c.IsDeleted {
			n++
		}
	}
	return n, nil
}

func (f *fakeSource) ListActiveAfter(ctx context.Context, after primitive.ObjectID, limit int64) ([]models.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}

	out := make([]models.Collection, 0)
	for _, c := range f.docs {
		if c.IsDeleted || c.ID.Hex() <= after.Hex() {
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

func (f *fakeSource) SearchActive(ctx context.Context, term string, limit int64) ([]models.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}

	needle := strings.ToLower(term)
	out := make([]models.Collection, 0)
	for _, c := range f.docs {
		if c.IsDeleted {
			continue
		}
		if strings.Contains(strings.ToLower(c.Name), needle) ||
			strings.Contains(strings.ToLower(c.Path), needle) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeSource, *kvstore.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kvstore.NewStoreFromClient(client)
	t.Cleanup(func() { store.Close() })

	source := newFakeSource()
	encoder := thumbnail.NewEncoder(thumbnail.DefaultPolicy(), nil)
	return NewEngine(store, source, encoder), source, store, mr
}

func makeCollection(n int, name string, updated time.Time) *models.Collection {
	return &models.Collection{
		ID:        oid(n),
		Name:      name,
		Path:      "/library/" + name,
		Type:      models.TypeFolder,
		IsActive:  true,
		CreatedAt: updated.Add(-time.Hour),
		UpdatedAt: updated,
	}
}

// writeThumbFile drops opaque bytes on disk. A record inside the policy
// limits is inlined byte-for-byte, so no image decoding happens.
func writeThumbFile(t *testing.T, dir, name string) (string, int64) {
	t.Helper()
	path := filepath.Join(dir, name)
	data := []byte("thumbnail-bytes-" + name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write thumbnail file: %v", err)
	}
	return path, int64(len(data))
}

func withThumbnail(t *testing.T, c *models.Collection, dir string) *models.Collection {
	t.Helper()
	path, size := writeThumbFile(t, dir, c.ID.Hex()+".png")
	c.Thumbnails = []models.EmbeddedThumbnail{{
		ThumbnailPath: path,
		Width:         160,
		Height:        120,
		FileSize:      size,
		Format:        "png",
	}}
	return c
}

// seedIndexed registers a collection in the document store fake and
// indexes it.
func seedIndexed(t *testing.T, e *Engine, source *fakeSource, cs ...*models.Collection) {
	t.Helper()
	ctx := context.Background()
	for _, c := range cs {
		source.put(c)
		if err := e.AddOrUpdate(ctx, c); err != nil {
			t.Fatalf("AddOrUpdate(%s) failed: %v", c.ID.Hex(), err)
		}
	}
}

func TestGetNavigationMiddle(t *testing.T) {
	e, source, _, _ := newTestEngine(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a := makeCollection(1, "april scans", base)
	b := makeCollection(2, "beach trip", base.Add(time.Hour))
	c := makeCollection(3, "city walk", base.Add(2*time.Hour))
	seedIndexed(t, e, source, a, b, c)

	nav, err := e.GetNavigation(ctx, b.ID.Hex(), FieldUpdatedAt, Desc)
	if err != nil {
		t.Fatalf("GetNavigation failed: %v", err)
	}

	if nav.PrevID != c.ID.Hex() {
		t.Errorf("PrevID = %s, want %s (the newer neighbor)", nav.PrevID, c.ID.Hex())
	}
	if nav.NextID != a.ID.Hex() {
		t.Errorf("NextID = %s, want %s (the older neighbor)", nav.NextID, a.ID.Hex())
	}
	if nav.CurrentPosition != 2 || nav.Total != 3 {
		t.Errorf("Position = %d of %d, want 2 of 3", nav.CurrentPosition, nav.Total)
	}
	if !nav.HasPrev || !nav.HasNext {
		t.Errorf("HasPrev/HasNext = %v/%v, want true/true", nav.HasPrev, nav.HasNext)
	}
}

func TestGetNavigationEdges(t *testing.T) {
	e, source, _, _ := newTestEngine(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	oldest := makeCollection(1, "oldest", base)
	newest := makeCollection(2, "newest", base.Add(time.Hour))
	seedIndexed(t, e, source, oldest, newest)

	nav, err := e.GetNavigation(ctx, newest.ID.Hex(), FieldUpdatedAt, Desc)
	if err != nil {
		t.Fatalf("GetNavigation failed: %v", err)
	}
	if nav.HasPrev || nav.PrevID != "" {
		t.Errorf("First entry should have no prev, got HasPrev=%v PrevID=%q", nav.HasPrev, nav.PrevID)
	}
	if nav.NextID != oldest.ID.Hex() {
		t.Errorf("NextID = %s, want %s", nav.NextID, oldest.ID.Hex())
	}

	nav, err = e.GetNavigation(ctx, oldest.ID.Hex(), FieldUpdatedAt, Desc)
	if err != nil {
		t.Fatalf("GetNavigation failed: %v", err)
	}
	if nav.HasNext || nav.NextID != "" {
		t.Errorf("Last entry should have no next, got HasNext=%v NextID=%q", nav.HasNext, nav.NextID)
	}
	if nav.CurrentPosition != 2 {
		t.Errorf("CurrentPosition = %d, want 2", nav.CurrentPosition)
	}
}

func TestGetNavigationUnindexed(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	_, err := e.GetNavigation(context.Background(), oid(99).Hex(), FieldUpdatedAt, Desc)
	if !errs.IsNotFound(err) {
		t.Errorf("Expected not-found for unindexed collection, got %v", err)
	}
}

func TestGetPagePagination(t *testing.T) {
	e, source, _, _ := newTestEngine(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a := makeCollection(1, "april scans", base)
	b := makeCollection(2, "beach trip", base.Add(time.Hour))
	c := makeCollection(3, "city walk", base.Add(2*time.Hour))
	seedIndexed(t, e, source, a, b, c)

	page, err := e.GetPage(ctx, 1, 2, FieldUpdatedAt, Desc)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if page.Total != 3 || page.TotalPages != 2 || page.PageSize != 2 {
		t.Errorf("Page shape = total %d, pages %d, size %d; want 3, 2, 2",
			page.Total, page.TotalPages, page.PageSize)
	}
	if len(page.Items) != 2 || page.Items[0].Name != "city walk" || page.Items[1].Name != "beach trip" {
		t.Errorf("Page 1 items = %v", summaryNames(page.Items))
	}

	page, err = e.GetPage(ctx, 2, 2, FieldUpdatedAt, Desc)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Name != "april scans" {
		t.Errorf("Page 2 items = %v", summaryNames(page.Items))
	}

	page, err = e.GetPage(ctx, 3, 2, FieldUpdatedAt, Desc)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if len(page.Items) != 0 {
		t.Errorf("Page past the end should be empty, got %v", summaryNames(page.Items))
	}

	// Out-of-range inputs fall back to defaults.
	page, err = e.GetPage(ctx, 0, 0, FieldUpdatedAt, Desc)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if page.Page != 1 || page.PageSize != defaultPageSize || len(page.Items) != 3 {
		t.Errorf("Defaulted page = %d size %d with %d items", page.Page, page.PageSize, len(page.Items))
	}
}

func TestGetPageNameAscending(t *testing.T) {
	e, source, _, _ := newTestEngine(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	// Insertion order deliberately unrelated to name order.
	seedIndexed(t, e, source,
		makeCollection(1, "zebra crossing", base),
		makeCollection(2, "Alpine lakes", base.Add(time.Hour)),
		makeCollection(3, "meadow", base.Add(2*time.Hour)),
	)

	page, err := e.GetPage(ctx, 1, 10, FieldName, Asc)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	want := []string{"Alpine lakes", "meadow", "zebra crossing"}
	got := summaryNames(page.Items)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Name ordering = %v, want %v", got, want)
	}
}

func TestGetLibraryPageScopes(t *testing.T) {
	e, source, _, _ := newTestEngine(t)
	ctx := context.Background()

	lib := oid(50)
	other := oid(51)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	a := makeCollection(1, "in library", base)
	a.LibraryID = &lib
	b := makeCollection(2, "also in library", base.Add(time.Hour))
	b.LibraryID = &lib
	c := makeCollection(3, "elsewhere", base.Add(2*time.Hour))
	c.LibraryID = &other
	seedIndexed(t, e, source, a, b, c)

	page, err := e.GetLibraryPage(ctx, lib.Hex(), 1, 10, FieldUpdatedAt, Desc)
	if err != nil {
		t.Fatalf("GetLibraryPage failed: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 {
		t.Fatalf("Library page = %d items of %d", len(page.Items), page.Total)
	}
	if page.Items[0].Name != "also in library" || page.Items[1].Name != "in library" {
		t.Errorf("Library page items = %v", summaryNames(page.Items))
	}

	if _, err := e.GetLibraryPage(ctx, "", 1, 10, FieldUpdatedAt, Desc); !errs.Is(err, errs.KindValidation) {
		t.Errorf("Expected validation error for empty library id, got %v", err)
	}
}

func TestGetTypePageScopes(t *testing.T) {
	e, source, _, _ := newTestEngine(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	folder := makeCollection(1, "loose folder", base)
	archive := makeCollection(2, "boxed archive", base.Add(time.Hour))
	archive.Type = models.TypeArchive
	seedIndexed(t, e, source, folder, archive)

	page, err := e.GetTypePage(ctx, models.TypeArchive, 1, 10, FieldUpdatedAt, Desc)
	if err != nil {
		t.Fatalf("GetTypePage failed: %v", err)
	}
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].Name != "boxed archive" {
		t.Errorf("Type page = %v of %d", summaryNames(page.Items), page.Total)
	}

	if _, err := e.GetTypePage(ctx, models.CollectionType("tape"), 1, 10, FieldUpdatedAt, Desc); !errs.Is(err, errs.KindValidation) {
		t.Errorf("Expected validation error for unknown type, got %v", err)
	}
}

func TestGetSiblingsFindsAnchorPage(t *testing.T) {
	e, _, store, _ := newTestEngine(t)
	ctx := context.Background()

	// Seed one big ordering directly; summary resolution is not the point
	// here, page arithmetic deep into the set is.
	key := primaryKey(FieldUpdatedAt, Asc)
	const total = 30000
	batch := store.NewBatch()
	for i := 0; i < total; i++ {
		batch.ZAdd(ctx, key, float64(i), oid(i).Hex())
		if batch.Len() >= 1000 {
			if err := batch.Exec(ctx); err != nil {
				t.Fatalf("Batch exec failed: %v", err)
			}
			batch = store.NewBatch()
		}
	}
	if err := batch.Exec(ctx); err != nil {
		t.Fatalf("Batch exec failed: %v", err)
	}

	anchor := oid(24423).Hex()
	page, err := e.GetSiblings(ctx, anchor, 0, 20, FieldUpdatedAt, Asc)
	if err != nil {
		t.Fatalf("GetSiblings failed: %v", err)
	}

	if page.CurrentPage != 1222 {
		t.Errorf("CurrentPage = %d, want 1222", page.CurrentPage)
	}
	if page.CurrentPosition != 24424 {
		t.Errorf("CurrentPosition = %d, want 24424", page.CurrentPosition)
	}
	if page.Total != total {
		t.Errorf("Total = %d, want %d", page.Total, total)
	}
	if page.TotalPages != 1500 {
		t.Errorf("TotalPages = %d, want 1500", page.TotalPages)
	}
}

func TestGetSiblingsExplicitPage(t *testing.T) {
	e, source, _, _ := newTestEngine(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var cs []*models.Collection
	for i := 1; i <= 5; i++ {
		cs = append(cs, makeCollection(i, fmt.Sprintf("set %d", i), base.Add(time.Duration(i)*time.Hour)))
	}
	seedIndexed(t, e, source, cs...)

	// The anchor sits on page 1 ascending; asking for page 2 must serve
	// page 2 literally, not the anchor's page.
	page, err := e.GetSiblings(ctx, cs[0].ID.Hex(), 2, 2, FieldUpdatedAt, Asc)
	if err != nil {
		t.Fatalf("GetSiblings failed: %v", err)
	}
	if page.CurrentPage != 2 {
		t.Errorf("CurrentPage = %d, want 2", page.CurrentPage)
	}
	if page.CurrentPosition != 1 {
		t.Errorf("CurrentPosition = %d, want 1", page.CurrentPosition)
	}
	got := summaryNames(page.Siblings)
	if len(got) != 2 || got[0] != "set 3" || got[1] != "set 4" {
		t.Errorf("Page 2 siblings = %v, want [set 3, set 4]", got)
	}
}

func TestSearchPageRanksAndJoins(t *testing.T) {
	e, source, _, _ := newTestEngine(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	sunny := makeCollection(1, "sunny field", base)
	sunset := makeCollection(2, "sunset ridge", base.Add(time.Hour))
	mountain := makeCollection(3, "mountain pass", base.Add(2*time.Hour))
	seedIndexed(t, e, source, sunny, sunset, mountain)

	page, err := e.SearchPage(ctx, "sun", 1, 10, FieldName, Asc)
	if err != nil {
		t.Fatalf("SearchPage failed: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("Total = %d, want 2", page.Total)
	}
	got := summaryNames(page.Items)
	if got[0] != "sunny field" || got[1] != "sunset ridge" {
		t.Errorf("Ascending name order = %v", got)
	}

	page, err = e.SearchPage(ctx, "sun", 1, 10, FieldName, Desc)
	if err != nil {
		t.Fatalf("SearchPage failed: %v", err)
	}
	got = summaryNames(page.Items)
	if got[0] != "sunset ridge" || got[1] != "sunny field" {
		t.Errorf("Descending name order = %v", got)
	}
}

func TestSearchPageSynthesizesUnindexed(t *testing.T) {
	e, source, _, _ := newTestEngine(t)
	ctx := context.Background()

	// In the document store but never indexed.
	c := makeCollection(1, "harbor views", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	c.Images = make([]models.ImageEntry, 4)
	source.put(c)

	page, err := e.SearchPage(ctx, "harbor", 1, 10, FieldUpdatedAt, Desc)
	if err != nil {
		t.Fatalf("SearchPage failed: %v", err)
	}
	if page.Total != 1 || len(page.Items) != 1 {
		t.Fatalf("Search returned %d items of %d", len(page.Items), page.Total)
	}
	if page.Items[0].Name != "harbor views" || page.Items[0].ImageCount != 4 {
		t.Errorf("Synthesized summary = %+v", page.Items[0])
	}
}

func TestSearchPageEmptyQueryServesIndex(t *testing.T) {
	e, source, _, _ := newTestEngine(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	seedIndexed(t, e, source,
		makeCollection(1, "one", base),
		makeCollection(2, "two", base.Add(time.Hour)),
	)

	page, err := e.SearchPage(ctx, "   ", 1, 10, FieldUpdatedAt, Desc)
	if err != nil {
		t.Fatalf("SearchPage failed: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 {
		t.Errorf("Blank query should serve the index page, got %d of %d", len(page.Items), page.Total)
	}
}

func TestSearchPageWindowing(t *testing.T) {
	e, source, _, _ := newTestEngine(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var cs []*models.Collection
	for i := 1; i <= 5; i++ {
		cs = append(cs, makeCollection(i, fmt.Sprintf("trip %d", i), base.Add(time.Duration(i)*time.Hour)))
	}
	seedIndexed(t, e, source, cs...)

	page, err := e.SearchPage(ctx, "trip", 2, 2, FieldUpdatedAt, Asc)
	if err != nil {
		t.Fatalf("SearchPage failed: %v", err)
	}
	if page.Total != 5 || page.TotalPages != 3 {
		t.Errorf("Search shape = total %d, pages %d; want 5, 3", page.Total, page.TotalPages)
	}
	got := summaryNames(page.Items)
	if len(got) != 2 || got[0] != "trip 3" || got[1] != "trip 4" {
		t.Errorf("Search page 2 = %v, want [trip 3, trip 4]", got)
	}

	// A page past the end comes back empty, not an error.
	page, err = e.SearchPage(ctx, "trip", 9, 2, FieldUpdatedAt, Asc)
	if err != nil {
		t.Fatalf("SearchPage failed: %v", err)
	}
	if len(page.Items) != 0 {
		t.Errorf("Expected empty overflow page, got %v", summaryNames(page.Items))
	}
}

func TestAddOrUpdateWritesAllRoles(t *testing.T) {
	e, source, store, _ := newTestEngine(t)
	ctx := context.Background()

	lib := oid(77)
	c := makeCollection(1, "boxed gallery", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	c.LibraryID = &lib
	c.Type = models.TypeArchive
	c.Images = make([]models.ImageEntry, 2)
	seedIndexed(t, e, source, c)

	id := c.ID.Hex()

	raw, err := store.Get(ctx, dataKey(id))
	if err != nil {
		t.Fatalf("Summary read failed: %v", err)
	}
	var summary models.CollectionSummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		t.Fatalf("Summary unmarshal failed: %v", err)
	}
	if summary.ID != id || summary.Name != "boxed gallery" || summary.LibraryID != lib.Hex() ||
		summary.Type != models.TypeArchive || summary.ImageCount != 2 {
		t.Errorf("Summary = %+v", summary)
	}

	raw, err = store.Get(ctx, stateKey(id))
	if err != nil {
		t.Fatalf("State read failed: %v", err)
	}
	var state models.CollectionIndexState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		t.Fatalf("State unmarshal failed: %v", err)
	}
	if state.CollectionID != id || state.IndexVersion != indexVersion || state.HasFirstThumbnail {
		t.Errorf("State = %+v", state)
	}
	if !state.CollectionUpdatedAt.Equal(c.UpdatedAt) {
		t.Errorf("State CollectionUpdatedAt = %v, want %v", state.CollectionUpdatedAt, c.UpdatedAt)
	}

	// Membership in primary, library, and type orderings.
	for _, key := range []string{
		primaryKey(FieldName, Asc),
		libraryKey(lib.Hex(), FieldUpdatedAt, Desc),
		typeKey(models.TypeArchive.Code(), FieldTotalSize, Asc),
	} {
		if _, err := store.ZRank(ctx, key, id); err != nil {
			t.Errorf("Expected membership in %s: %v", key, err)
		}
	}
}

func TestAddOrUpdateSoftDeletedRemoves(t *testing.T) {
	e, source, store, _ := newTestEngine(t)
	ctx := context.Background()

	c := makeCollection(1, "doomed", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	seedIndexed(t, e, source, c)

	c.IsDeleted = true
	source.put(c)
	if err := e.AddOrUpdate(ctx, c); err != nil {
		t.Fatalf("AddOrUpdate failed: %v", err)
	}

	id := c.ID.Hex()
	if _, err := store.ZRank(ctx, primaryKey(FieldUpdatedAt, Desc), id); !errs.IsNotFound(err) {
		t.Errorf("Expected membership gone, got %v", err)
	}
	if _, err := store.Get(ctx, dataKey(id)); !errs.IsNotFound(err) {
		t.Errorf("Expected summary gone, got %v", err)
	}
	if _, err := store.Get(ctx, stateKey(id)); !errs.IsNotFound(err) {
		t.Errorf("Expected state gone, got %v", err)
	}
}

func TestAddOrUpdateValidation(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	if err := e.AddOrUpdate(ctx, nil); !errs.Is(err, errs.KindValidation) {
		t.Errorf("Expected validation error for nil, got %v", err)
	}
	if err := e.AddOrUpdate(ctx, &models.Collection{}); !errs.Is(err, errs.KindValidation) {
		t.Errorf("Expected validation error for zero id, got %v", err)
	}
}

func TestRemoveCleansSecondarySets(t *testing.T) {
	e, source, store, _ := newTestEngine(t)
	ctx := context.Background()

	lib := oid(88)
	c := makeCollection(1, "scoped", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	c.LibraryID = &lib
	c.Type = models.TypeArchive
	seedIndexed(t, e, source, c)

	id := c.ID.Hex()
	if err := store.Set(ctx, thumbKey(id), "blob", time.Hour); err != nil {
		t.Fatalf("Thumb seed failed: %v", err)
	}

	if err := e.Remove(ctx, id); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	for _, key := range []string{
		primaryKey(FieldUpdatedAt, Desc),
		libraryKey(lib.Hex(), FieldUpdatedAt, Desc),
		typeKey(models.TypeArchive.Code(), FieldUpdatedAt, Desc),
	} {
		if _, err := store.ZRank(ctx, key, id); !errs.IsNotFound(err) {
			t.Errorf("Expected %s membership gone, got %v", key, err)
		}
	}

	// The thumbnail blob rides out its TTL.
	if got, err := store.Get(ctx, thumbKey(id)); err != nil || got != "blob" {
		t.Errorf("Thumbnail blob = %q, %v; want it retained", got, err)
	}

	if err := e.Remove(ctx, ""); !errs.Is(err, errs.KindValidation) {
		t.Errorf("Expected validation error for empty id, got %v", err)
	}
}

func TestIndexedCount(t *testing.T) {
	e, source, _, _ := newTestEngine(t)
	ctx := context.Background()

	if n, err := e.IndexedCount(ctx); err != nil || n != 0 {
		t.Fatalf("Expected empty index to count 0, got %d, %v", n, err)
	}

	seedIndexed(t, e, source,
		makeCollection(1, "one", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
		makeCollection(2, "two", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)),
	)

	if n, err := e.IndexedCount(ctx); err != nil || n != 2 {
		t.Errorf("Expected 2 indexed collections, got %d, %v", n, err)
	}
}

func TestPageSkipsVanishedDocuments(t *testing.T) {
	e, _, store, _ := newTestEngine(t)
	ctx := context.Background()

	// A member with no summary and no document behind it.
	if err := store.ZAdd(ctx, primaryKey(FieldUpdatedAt, Desc), 1, oid(9).Hex()); err != nil {
		t.Fatalf("ZAdd failed: %v", err)
	}

	page, err := e.GetPage(ctx, 1, 10, FieldUpdatedAt, Desc)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if len(page.Items) != 0 {
		t.Errorf("Expected vanished member dropped, got %v", summaryNames(page.Items))
	}
	if page.Total != 1 {
		t.Errorf("Total = %d, want 1 (the set still counts the member)", page.Total)
	}
}

func TestPageSynthesizesMissingSummary(t *testing.T) {
	e, source, store, _ := newTestEngine(t)
	ctx := context.Background()

	c := makeCollection(1, "rebuilt later", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	seedIndexed(t, e, source, c)

	// Simulate a lost summary payload; the membership survives.
	if err := store.Del(ctx, dataKey(c.ID.Hex())); err != nil {
		t.Fatalf("Del failed: %v", err)
	}

	page, err := e.GetPage(ctx, 1, 10, FieldUpdatedAt, Desc)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Name != "rebuilt later" {
		t.Errorf("Expected synthesized summary, got %v", summaryNames(page.Items))
	}
}

func TestThumbnailCacheRoundTrip(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	id := oid(1).Hex()
	payload := []byte{0xff, 0xd8, 0x01, 0x02}

	if _, err := e.CachedThumbnail(ctx, id); !errs.IsNotFound(err) {
		t.Errorf("Expected not-found before store, got %v", err)
	}

	if err := e.StoreThumbnail(ctx, id, payload); err != nil {
		t.Fatalf("StoreThumbnail failed: %v", err)
	}

	got, err := e.CachedThumbnail(ctx, id)
	if err != nil {
		t.Fatalf("CachedThumbnail failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("CachedThumbnail = %v, want %v", got, payload)
	}

	if err := e.StoreThumbnail(ctx, "", payload); !errs.Is(err, errs.KindValidation) {
		t.Errorf("Expected validation error for empty id, got %v", err)
	}
	if err := e.StoreThumbnail(ctx, id, nil); !errs.Is(err, errs.KindValidation) {
		t.Errorf("Expected validation error for empty payload, got %v", err)
	}
}

func TestAddOrUpdateInlinesThumbnail(t *testing.T) {
	e, source, store, _ := newTestEngine(t)
	ctx := context.Background()

	c := withThumbnail(t, makeCollection(1, "pictured", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)), t.TempDir())
	seedIndexed(t, e, source, c)

	id := c.ID.Hex()

	// The render path cached the blob under the thumbnail TTL.
	ttl, err := store.TTL(ctx, thumbKey(id))
	if err != nil {
		t.Fatalf("TTL read failed: %v", err)
	}
	if ttl <= 0 || ttl > thumbTTL {
		t.Errorf("Thumb TTL = %v, want within (0, %v]", ttl, thumbTTL)
	}

	raw, err := store.Get(ctx, dataKey(id))
	if err != nil {
		t.Fatalf("Summary read failed: %v", err)
	}
	var summary models.CollectionSummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		t.Fatalf("Summary unmarshal failed: %v", err)
	}
	if !strings.HasPrefix(summary.ThumbnailBase64, "data:image/") {
		t.Errorf("ThumbnailBase64 = %q, want a data URL", summary.ThumbnailBase64)
	}

	var state models.CollectionIndexState
	rawState, err := store.Get(ctx, stateKey(id))
	if err != nil {
		t.Fatalf("State read failed: %v", err)
	}
	if err := json.Unmarshal([]byte(rawState), &state); err != nil {
		t.Fatalf("State unmarshal failed: %v", err)
	}
	if !state.HasFirstThumbnail || state.FirstThumbnailPath != c.Thumbnails[0].ThumbnailPath {
		t.Errorf("State thumbnail fields = %+v", state)
	}
}

func TestCacheThumbnails(t *testing.T) {
	e, _, store, _ := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	pictured := withThumbnail(t, makeCollection(1, "pictured", base), dir)
	cached := withThumbnail(t, makeCollection(2, "already cached", base), dir)
	bare := makeCollection(3, "no thumbnail", base)

	if err := store.Set(ctx, thumbKey(cached.ID.Hex()), "existing", thumbTTL); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	stored := e.CacheThumbnails(ctx, []models.Collection{*pictured, *cached, *bare})
	if stored != 1 {
		t.Errorf("CacheThumbnails stored %d, want 1", stored)
	}

	if _, err := store.Get(ctx, thumbKey(pictured.ID.Hex())); err != nil {
		t.Errorf("Expected blob for freshly rendered collection: %v", err)
	}
	if got, _ := store.Get(ctx, thumbKey(cached.ID.Hex())); got != "existing" {
		t.Errorf("Cached blob overwritten: %q", got)
	}
	if _, err := store.Get(ctx, thumbKey(bare.ID.Hex())); !errs.IsNotFound(err) {
		t.Errorf("Expected no blob for bare collection, got %v", err)
	}
}

func summaryNames(items []models.CollectionSummary) []string {
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.Name
	}
	return names
}
