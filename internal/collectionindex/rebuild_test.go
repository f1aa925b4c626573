package collectionindex

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"collection-viewer/internal/errs"
	"collection-viewer/internal/models"
)

func TestParseRebuildMode(t *testing.T) {
	tests := []struct {
		input   string
		want    RebuildMode
		wantErr bool
	}{
		{input: "", want: RebuildChangedOnly},
		{input: "full", want: RebuildFull},
		{input: "changed_only", want: RebuildChangedOnly},
		{input: "changed", want: RebuildChangedOnly},
		{input: "force_rebuild_all", want: RebuildForceAll},
		{input: "force", want: RebuildForceAll},
		{input: "verify", want: RebuildVerify},
		{input: "bogus", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("input "+tt.input, func(t *testing.T) {
			got, err := ParseRebuildMode(tt.input)
			if tt.wantErr {
				if !errs.Is(err, errs.KindValidation) {
					t.Errorf("Expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRebuildMode failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseRebuildMode(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func seedSource(source *fakeSource, n int) []*models.Collection {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	out := make([]*models.Collection, 0, n)
	for i := 1; i <= n; i++ {
		c := makeCollection(i, fmt.Sprintf("collection %d", i), base.Add(time.Duration(i)*time.Hour))
		source.put(c)
		out = append(out, c)
	}
	return out
}

func TestRebuildFullIndexesEverything(t *testing.T) {
	e, source, store, _ := newTestEngine(t)
	ctx := context.Background()
	cs := seedSource(source, 5)

	stats, err := e.RebuildIndex(ctx, RebuildFull, RebuildOptions{SkipThumbnailCaching: true})
	if err != nil {
		t.Fatalf("RebuildIndex failed: %v", err)
	}

	if stats.Mode != RebuildFull || stats.Total != 5 || stats.Rebuilt != 5 || stats.Skipped != 0 || stats.Failed != 0 {
		t.Errorf("Stats = %+v", stats)
	}

	// Every collection is readable through the index afterwards.
	page, err := e.GetPage(ctx, 1, 10, FieldUpdatedAt, Desc)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if len(page.Items) != 5 || page.Items[0].Name != cs[4].Name {
		t.Errorf("Indexed page = %v", summaryNames(page.Items))
	}

	if got, err := store.Get(ctx, statsTotalKey); err != nil || got != "5" {
		t.Errorf("stats:total = %q, %v; want \"5\"", got, err)
	}
	raw, err := store.Get(ctx, lastRebuildKey)
	if err != nil {
		t.Fatalf("last_rebuild read failed: %v", err)
	}
	if _, parseErr := time.Parse(time.RFC3339, raw); parseErr != nil {
		t.Errorf("last_rebuild %q is not RFC3339: %v", raw, parseErr)
	}

	// The finishing pass cached dashboard statistics.
	if !e.DashboardFresh(ctx) {
		t.Error("Expected fresh dashboard statistics after rebuild")
	}
}

func TestRebuildChangedOnlySkipsFreshStates(t *testing.T) {
	e, source, _, _ := newTestEngine(t)
	ctx := context.Background()
	cs := seedSource(source, 5)

	if _, err := e.RebuildIndex(ctx, RebuildFull, RebuildOptions{SkipThumbnailCaching: true}); err != nil {
		t.Fatalf("Full rebuild failed: %v", err)
	}

	// Nothing changed, so a changed-only pass writes nothing.
	stats, err := e.RebuildIndex(ctx, RebuildChangedOnly, RebuildOptions{SkipThumbnailCaching: true})
	if err != nil {
		t.Fatalf("ChangedOnly rebuild failed: %v", err)
	}
	if stats.Rebuilt != 0 || stats.Skipped != 5 {
		t.Errorf("Idle pass: rebuilt %d, skipped %d; want 0, 5", stats.Rebuilt, stats.Skipped)
	}

	// One document moves forward; only it is reindexed.
	cs[2].UpdatedAt = cs[2].UpdatedAt.Add(time.Hour)
	source.put(cs[2])

	stats, err = e.RebuildIndex(ctx, RebuildChangedOnly, RebuildOptions{SkipThumbnailCaching: true})
	if err != nil {
		t.Fatalf("ChangedOnly rebuild failed: %v", err)
	}
	if stats.Rebuilt != 1 || stats.Skipped != 4 {
		t.Errorf("After update: rebuilt %d, skipped %d; want 1, 4", stats.Rebuilt, stats.Skipped)
	}
}

func TestRebuildChangedOnlyDetectsNewThumbnail(t *testing.T) {
	e, source, _, _ := newTestEngine(t)
	ctx := context.Background()
	cs := seedSource(source, 4)

	if _, err := e.RebuildIndex(ctx, RebuildFull, RebuildOptions{SkipThumbnailCaching: true}); err != nil {
		t.Fatalf("Full rebuild failed: %v", err)
	}

	// A thumbnail appears without the document timestamp moving.
	withThumbnail(t, cs[1], t.TempDir())
	source.put(cs[1])

	stats, err := e.RebuildIndex(ctx, RebuildChangedOnly, RebuildOptions{SkipThumbnailCaching: true})
	if err != nil {
		t.Fatalf("ChangedOnly rebuild failed: %v", err)
	}
	if stats.Rebuilt != 1 || stats.Skipped != 3 {
		t.Errorf("Thumbnail appearance: rebuilt %d, skipped %d; want 1, 3", stats.Rebuilt, stats.Skipped)
	}
}

func TestRebuildForceAllReindexesWithoutClearing(t *testing.T) {
	e, source, store, _ := newTestEngine(t)
	ctx := context.Background()
	seedSource(source, 5)

	if _, err := e.RebuildIndex(ctx, RebuildFull, RebuildOptions{SkipThumbnailCaching: true}); err != nil {
		t.Fatalf("Full rebuild failed: %v", err)
	}

	// A leftover member force mode must not clear.
	stale := oid(900).Hex()
	if err := store.ZAdd(ctx, primaryKey(FieldUpdatedAt, Desc), 1, stale); err != nil {
		t.Fatalf("ZAdd failed: %v", err)
	}

	stats, err := e.RebuildIndex(ctx, RebuildForceAll, RebuildOptions{SkipThumbnailCaching: true})
	if err != nil {
		t.Fatalf("ForceAll rebuild failed: %v", err)
	}
	if stats.Rebuilt != 5 || stats.Skipped != 0 {
		t.Errorf("Force pass: rebuilt %d, skipped %d; want 5, 0", stats.Rebuilt, stats.Skipped)
	}

	if _, err := store.ZRank(ctx, primaryKey(FieldUpdatedAt, Desc), stale); err != nil {
		t.Errorf("Force mode should not clear leftovers (verify handles them): %v", err)
	}
}

func TestRebuildDryRunWritesNothing(t *testing.T) {
	e, source, store, _ := newTestEngine(t)
	ctx := context.Background()
	seedSource(source, 3)

	stats, err := e.RebuildIndex(ctx, RebuildFull, RebuildOptions{DryRun: true, SkipThumbnailCaching: true})
	if err != nil {
		t.Fatalf("Dry run failed: %v", err)
	}
	if !stats.DryRun || stats.Rebuilt != 3 {
		t.Errorf("Dry run stats = %+v", stats)
	}

	n, err := store.DBSize(ctx)
	if err != nil {
		t.Fatalf("DBSize failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Dry run wrote %d keys", n)
	}
}

func TestRebuildSafetyValveFlushesStaleDatabase(t *testing.T) {
	e, source, store, _ := newTestEngine(t)
	ctx := context.Background()
	seedSource(source, 2)

	// Far more keys than two documents can explain.
	for i := 0; i < 25; i++ {
		if err := store.Set(ctx, fmt.Sprintf("leftover:%d", i), "x", 0); err != nil {
			t.Fatalf("Seed failed: %v", err)
		}
	}
	if err := store.Set(ctx, thumbKey(oid(700).Hex()), "blob", thumbTTL); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	stats, err := e.RebuildIndex(ctx, RebuildChangedOnly, RebuildOptions{SkipThumbnailCaching: true})
	if err != nil {
		t.Fatalf("RebuildIndex failed: %v", err)
	}
	if stats.Rebuilt != 2 {
		t.Errorf("Rebuilt = %d, want 2 after flush", stats.Rebuilt)
	}

	if _, err := store.Get(ctx, "leftover:0"); !errs.IsNotFound(err) {
		t.Errorf("Expected leftovers flushed, got %v", err)
	}
	// The flush takes cached thumbnails with it.
	if _, err := store.Get(ctx, thumbKey(oid(700).Hex())); !errs.IsNotFound(err) {
		t.Errorf("Expected thumbnail flushed with the database, got %v", err)
	}
}

func TestRebuildFullClearPreservesThumbnails(t *testing.T) {
	e, source, store, _ := newTestEngine(t)
	ctx := context.Background()
	seedSource(source, 1)

	gone := oid(800).Hex()
	if err := store.ZAdd(ctx, primaryKey(FieldUpdatedAt, Desc), 1, gone); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if err := store.Set(ctx, dataKey(gone), "{}", 0); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if err := store.Set(ctx, thumbKey(gone), "blob", thumbTTL); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	if _, err := e.RebuildIndex(ctx, RebuildFull, RebuildOptions{SkipThumbnailCaching: true}); err != nil {
		t.Fatalf("RebuildIndex failed: %v", err)
	}

	if _, err := store.ZRank(ctx, primaryKey(FieldUpdatedAt, Desc), gone); !errs.IsNotFound(err) {
		t.Errorf("Expected stale membership cleared, got %v", err)
	}
	if _, err := store.Get(ctx, dataKey(gone)); !errs.IsNotFound(err) {
		t.Errorf("Expected stale summary cleared, got %v", err)
	}
	if got, err := store.Get(ctx, thumbKey(gone)); err != nil || got != "blob" {
		t.Errorf("Thumbnail blob = %q, %v; full clear must leave thumbs to their TTL", got, err)
	}
}

func TestRebuildVerifyModeDelegates(t *testing.T) {
	e, source, _, _ := newTestEngine(t)
	ctx := context.Background()
	cs := seedSource(source, 2)

	if err := e.AddOrUpdate(ctx, cs[0]); err != nil {
		t.Fatalf("AddOrUpdate failed: %v", err)
	}

	stats, err := e.RebuildIndex(ctx, RebuildVerify, RebuildOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Verify mode failed: %v", err)
	}
	if stats.Mode != RebuildVerify || stats.Total != 2 || stats.Rebuilt != 1 || stats.Skipped != 1 {
		t.Errorf("Verify stats = %+v", stats)
	}
}

func TestRebuildRefusedWhileMaintenanceRuns(t *testing.T) {
	e, source, _, _ := newTestEngine(t)
	seedSource(source, 1)

	e.maintenance.Lock()
	defer e.maintenance.Unlock()

	_, err := e.RebuildIndex(context.Background(), RebuildFull, RebuildOptions{})
	if !errors.Is(err, ErrMaintenanceRunning) {
		t.Errorf("Expected ErrMaintenanceRunning, got %v", err)
	}
}

func TestRebuildReportsProgress(t *testing.T) {
	e, source, _, _ := newTestEngine(t)
	ctx := context.Background()
	seedSource(source, 5)

	var calls [][2]int64
	opts := RebuildOptions{
		SkipThumbnailCaching: true,
		Progress: func(done, total int64) {
			calls = append(calls, [2]int64{done, total})
		},
	}
	if _, err := e.RebuildIndex(ctx, RebuildFull, opts); err != nil {
		t.Fatalf("RebuildIndex failed: %v", err)
	}

	if len(calls) == 0 {
		t.Fatal("Expected at least one progress callback")
	}
	last := calls[len(calls)-1]
	if last[0] != 5 || last[1] != 5 {
		t.Errorf("Final progress = %d/%d, want 5/5", last[0], last[1])
	}
}

func TestRebuildSurfacesDocumentStoreFailure(t *testing.T) {
	e, source, store, _ := newTestEngine(t)
	ctx := context.Background()
	seedSource(source, 2)
	source.countErr = errs.TransientStore(nil, "document store down")

	_, err := e.RebuildIndex(ctx, RebuildFull, RebuildOptions{})
	if !errs.IsTransient(err) {
		t.Fatalf("Expected transient error, got %v", err)
	}

	n, err := store.DBSize(ctx)
	if err != nil {
		t.Fatalf("DBSize failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Aborted rebuild wrote %d keys", n)
	}
}

func TestStateCovers(t *testing.T) {
	updated := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	plain := makeCollection(1, "plain", updated)

	thumbed := makeCollection(2, "thumbed", updated)
	thumbed.Thumbnails = []models.EmbeddedThumbnail{{ThumbnailPath: "/thumbs/a.png"}}

	covering := func(c *models.Collection) *models.CollectionIndexState {
		state := &models.CollectionIndexState{
			CollectionID:        c.ID.Hex(),
			CollectionUpdatedAt: c.UpdatedAt,
			IndexVersion:        indexVersion,
		}
		if first := c.FirstThumbnail(); first != nil {
			state.HasFirstThumbnail = true
			state.FirstThumbnailPath = first.ThumbnailPath
		}
		return state
	}

	if !stateCovers(covering(plain), plain) {
		t.Error("Matching state should cover the document")
	}
	if !stateCovers(covering(thumbed), thumbed) {
		t.Error("Matching state with thumbnail should cover the document")
	}

	stale := covering(plain)
	stale.CollectionUpdatedAt = updated.Add(-time.Second)
	if stateCovers(stale, plain) {
		t.Error("State older than the document must not cover it")
	}

	oldLayout := covering(plain)
	oldLayout.IndexVersion = indexVersion - 1
	if stateCovers(oldLayout, plain) {
		t.Error("State from another layout version must not cover")
	}

	noThumb := covering(thumbed)
	noThumb.HasFirstThumbnail = false
	noThumb.FirstThumbnailPath = ""
	if stateCovers(noThumb, thumbed) {
		t.Error("A thumbnail appearing on the document must invalidate the state")
	}

	moved := covering(thumbed)
	moved.FirstThumbnailPath = "/thumbs/other.png"
	if stateCovers(moved, thumbed) {
		t.Error("A relocated first thumbnail must invalidate the state")
	}
}
