package collectionindex

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"collection-viewer/internal/errs"
	"collection-viewer/internal/logging"
	"collection-viewer/internal/metrics"
	"collection-viewer/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	dashboardTTL   = 5 * time.Minute
	activityMaxLen = 100
	topListSize    = 10
)

// HealthProbe reports point-in-time component reachability for dashboard
// statistics.
type HealthProbe func(ctx context.Context) models.SystemHealth

// ComputeDashboard aggregates dashboard statistics in one streaming pass
// over active collections, so the working set stays one batch deep.
func (e *Engine) ComputeDashboard(ctx context.Context) (*models.DashboardStatistics, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("dashboard_compute", start, err) }()

	stats := &models.DashboardStatistics{
		CollectionsByType: make(map[string]int64),
		TopByViews:        []models.RankedCollection{},
		TopBySize:         []models.RankedCollection{},
		RecentlyAdded:     []models.RecentCollection{},
		CacheFolders:      []models.CacheFolderSnapshot{},
		GeneratedAt:       time.Now().UTC(),
	}

	after := primitive.NilObjectID
	for {
		var docs []models.Collection
		if docs, err = e.source.ListActiveAfter(ctx, after, rebuildBatchSize); err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			break
		}
		after = docs[len(docs)-1].ID

		for i := range docs {
			c := &docs[i]
			stats.TotalCollections++
			stats.TotalImages += int64(len(c.Images))
			stats.TotalSizeBytes += c.Statistics.TotalSize
			stats.TotalViews += c.Statistics.TotalViews
			stats.CollectionsByType[string(c.Type)]++

			stats.TopByViews = rankInto(stats.TopByViews,
				models.RankedCollection{ID: c.ID.Hex(), Name: c.Name, Value: c.Statistics.TotalViews})
			stats.TopBySize = rankInto(stats.TopBySize,
				models.RankedCollection{ID: c.ID.Hex(), Name: c.Name, Value: c.Statistics.TotalSize})
			stats.RecentlyAdded = recentInto(stats.RecentlyAdded,
				models.RecentCollection{ID: c.ID.Hex(), Name: c.Name, CreatedAt: c.CreatedAt})
		}
	}

	if folders := e.folderSource(); folders != nil {
		list, folderErr := folders.ListAll(ctx)
		if folderErr != nil {
			logging.Warn("collectionindex: dashboard cache folder listing failed: %v", folderErr)
		} else {
			for i := range list {
				stats.CacheFolders = append(stats.CacheFolders, snapshotFolder(&list[i]))
			}
		}
	}

	if probe := e.healthProbe(); probe != nil {
		stats.Health = probe(ctx)
	} else {
		// The streaming pass above already proved the document store.
		stats.Health = models.SystemHealth{
			IndexStoreConnected: e.kvs.Ping(ctx) == nil,
			DocStoreConnected:   true,
		}
	}
	return stats, nil
}

// Dashboard returns the cached statistics snapshot. A miss comes back as a
// not-found error; callers refresh via ComputeAndStoreDashboard.
func (e *Engine) Dashboard(ctx context.Context) (*models.DashboardStatistics, error) {
	raw, err := e.kvs.Get(ctx, dashboardStatsKey)
	if err != nil {
		if errs.IsNotFound(err) {
			metrics.DashboardCacheMisses.Inc()
		}
		return nil, err
	}

	var stats models.DashboardStatistics
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		// A corrupt entry is as good as a miss; the refresh overwrites it.
		metrics.DashboardCacheMisses.Inc()
		return nil, errs.NotFoundf("dashboard statistics cache entry is corrupt")
	}
	metrics.DashboardCacheHits.Inc()
	return &stats, nil
}

// StoreDashboard caches a snapshot under the dashboard TTL.
func (e *Engine) StoreDashboard(ctx context.Context, stats *models.DashboardStatistics) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return errs.Validationf("marshal dashboard statistics: %v", err)
	}
	return e.kvs.Set(ctx, dashboardStatsKey, string(payload), dashboardTTL)
}

// ComputeAndStoreDashboard refreshes the cached snapshot and returns it.
func (e *Engine) ComputeAndStoreDashboard(ctx context.Context) (*models.DashboardStatistics, error) {
	stats, err := e.ComputeDashboard(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.StoreDashboard(ctx, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// DashboardFresh reports whether a cached snapshot exists with TTL left.
func (e *Engine) DashboardFresh(ctx context.Context) bool {
	ttl, err := e.kvs.TTL(ctx, dashboardStatsKey)
	return err == nil && ttl > 0
}

// AppendActivity pushes one entry onto the bounded activity feed.
func (e *Engine) AppendActivity(ctx context.Context, entry models.ActivityEntry) error {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return errs.Validationf("marshal activity entry: %v", err)
	}
	return e.kvs.LPushTrim(ctx, dashboardFeedKey, string(payload), activityMaxLen)
}

// RecentActivity returns up to limit feed entries, newest first. Entries
// that no longer parse are skipped.
func (e *Engine) RecentActivity(ctx context.Context, limit int64) ([]models.ActivityEntry, error) {
	if limit <= 0 || limit > activityMaxLen {
		limit = activityMaxLen
	}
	raws, err := e.kvs.LRange(ctx, dashboardFeedKey, 0, limit-1)
	if err != nil {
		return nil, err
	}

	entries := make([]models.ActivityEntry, 0, len(raws))
	for _, raw := range raws {
		var entry models.ActivityEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			logging.Warn("collectionindex: skipping malformed activity entry: %v", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// rankInto inserts item into a descending top-N list capped at topListSize.
// Equal values keep first-seen order.
func rankInto(list []models.RankedCollection, item models.RankedCollection) []models.RankedCollection {
	pos := sort.Search(len(list), func(i int) bool { return list[i].Value < item.Value })
	if pos >= topListSize {
		return list
	}
	list = append(list, models.RankedCollection{})
	copy(list[pos+1:], list[pos:])
	list[pos] = item
	if len(list) > topListSize {
		list = list[:topListSize]
	}
	return list
}

// recentInto is rankInto for the recently-added list, newest first.
func recentInto(list []models.RecentCollection, item models.RecentCollection) []models.RecentCollection {
	pos := sort.Search(len(list), func(i int) bool { return list[i].CreatedAt.Before(item.CreatedAt) })
	if pos >= topListSize {
		return list
	}
	list = append(list, models.RecentCollection{})
	copy(list[pos+1:], list[pos:])
	list[pos] = item
	if len(list) > topListSize {
		list = list[:topListSize]
	}
	return list
}

func snapshotFolder(f *models.CacheFolder) models.CacheFolderSnapshot {
	return models.CacheFolderSnapshot{
		Name:               f.Name,
		Path:               f.Path,
		CurrentSizeBytes:   f.CurrentSizeBytes,
		MaxSizeBytes:       f.MaxSizeBytes,
		TotalFiles:         f.TotalFiles,
		UtilizationPercent: f.UtilizationPercent(),
	}
}
