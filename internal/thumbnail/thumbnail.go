// Package thumbnail turns stored thumbnail records into inline data-URL
// payloads for collection summaries.
//
// The policy has three layers: a direct-original flag, a dimension cap, and
// a file-size cap. Anything over a cap is re-encoded to the configured size
// before inlining; everything else is inlined byte-for-byte.
package thumbnail

import (
	"context"
	"encoding/base64"
	"strconv"
	"sync"
	"time"

	"collection-viewer/internal/errs"
	"collection-viewer/internal/fsutil"
	"collection-viewer/internal/imageproc"
	"collection-viewer/internal/logging"
	"collection-viewer/internal/mediatypes"
	"collection-viewer/internal/metrics"
	"collection-viewer/internal/models"
	"collection-viewer/internal/workers"
)

// Policy decides whether a stored thumbnail needs re-encoding before it can
// be inlined. Limits are strict: a 400x400 thumbnail at exactly the size cap
// passes untouched.
type Policy struct {
	MaxDimension int
	MaxFileSize  int64
}

// DefaultPolicy caps thumbnails at 400px per side and 500 KiB.
func DefaultPolicy() Policy {
	return Policy{MaxDimension: 400, MaxFileSize: 500 * 1024}
}

// NeedsReencode applies the three policy layers in order.
func (p Policy) NeedsReencode(t models.EmbeddedThumbnail) bool {
	if t.IsDirect {
		return true
	}
	if t.Width > p.MaxDimension || t.Height > p.MaxDimension {
		return true
	}
	return t.FileSize > p.MaxFileSize
}

// Settings carries the configured re-encode parameters.
type Settings struct {
	Size    int
	Format  string
	Quality int
}

// DefaultSettings is used when the settings store has no overrides.
func DefaultSettings() Settings {
	return Settings{Size: 300, Format: "jpg", Quality: 85}
}

// SettingsGetter is the slice of the settings store this package reads.
type SettingsGetter interface {
	Get(ctx context.Context, key string) (*models.SystemSetting, error)
}

// SettingsCache reads thumbnail settings through a short-lived cache so a
// rebuild over thousands of collections hits the store once, not per
// summary.
type SettingsCache struct {
	source SettingsGetter
	ttl    time.Duration

	mu       sync.Mutex
	cached   Settings
	loadedAt time.Time
}

// NewSettingsCache builds a cache over the given source. A nil source
// always yields defaults.
func NewSettingsCache(source SettingsGetter, ttl time.Duration) *SettingsCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SettingsCache{source: source, ttl: ttl}
}

// Get returns the current settings, refreshing from the store when the
// cache has expired. Keys the store cannot serve keep their defaults.
func (c *SettingsCache) Get(ctx context.Context) Settings {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loadedAt.IsZero() && time.Since(c.loadedAt) < c.ttl {
		return c.cached
	}

	settings := DefaultSettings()
	if c.source != nil {
		settings = c.load(ctx, settings)
	}
	c.cached = settings
	c.loadedAt = time.Now()
	return settings
}

func (c *SettingsCache) load(ctx context.Context, defaults Settings) Settings {
	out := defaults
	if v, ok := c.fetch(ctx, models.SettingThumbnailSize); ok {
		if size, err := strconv.Atoi(v); err == nil && size > 0 {
			out.Size = size
		}
	}
	if v, ok := c.fetch(ctx, models.SettingThumbnailFormat); ok && v != "" {
		out.Format = v
	}
	if v, ok := c.fetch(ctx, models.SettingThumbnailQuality); ok {
		if q, err := strconv.Atoi(v); err == nil && q > 0 && q <= 100 {
			out.Quality = q
		}
	}
	return out
}

func (c *SettingsCache) fetch(ctx context.Context, key string) (string, bool) {
	setting, err := c.source.Get(ctx, key)
	if err != nil {
		if !errs.IsNotFound(err) {
			logging.Debug("Thumbnail setting %s unavailable: %v", key, err)
		}
		return "", false
	}
	return setting.Value, true
}

// Encoder produces inline data URLs from thumbnail records.
type Encoder struct {
	policy   Policy
	settings *SettingsCache
}

// NewEncoder wires a policy and a settings cache.
func NewEncoder(policy Policy, settings *SettingsCache) *Encoder {
	if settings == nil {
		settings = NewSettingsCache(nil, 0)
	}
	return &Encoder{policy: policy, settings: settings}
}

// Rendered is the final thumbnail payload: encoded bytes plus the format
// they ended up in.
type Rendered struct {
	Data   []byte
	Format string
}

// Render produces the final thumbnail bytes for one record, re-encoding
// when the policy demands it. The record's path must point at a readable
// file.
func (e *Encoder) Render(ctx context.Context, t models.EmbeddedThumbnail) (Rendered, error) {
	if t.ThumbnailPath == "" {
		return Rendered{}, errs.NotFoundf("thumbnail record has no path")
	}
	if _, err := fsutil.StatWithRetry(t.ThumbnailPath, fsutil.DefaultRetryConfig()); err != nil {
		return Rendered{}, errs.NotFoundf("thumbnail file %s not accessible: %v", t.ThumbnailPath, err)
	}

	if !e.policy.NeedsReencode(t) {
		out, err := e.renderDirect(t)
		if err != nil {
			metrics.ThumbnailEncodesTotal.WithLabelValues("direct", "error").Inc()
			return Rendered{}, err
		}
		metrics.ThumbnailEncodesTotal.WithLabelValues("direct", "ok").Inc()
		return out, nil
	}

	out, err := e.reencode(ctx, t)
	if err != nil {
		metrics.ThumbnailEncodesTotal.WithLabelValues("reencode", "error").Inc()
		return Rendered{}, err
	}
	metrics.ThumbnailEncodesTotal.WithLabelValues("reencode", "ok").Inc()
	return out, nil
}

// Inline is Render followed by data-URL assembly.
func (e *Encoder) Inline(ctx context.Context, t models.EmbeddedThumbnail) (string, error) {
	rendered, err := e.Render(ctx, t)
	if err != nil {
		return "", err
	}
	return DataURL(rendered.Data, rendered.Format), nil
}

// BatchItem pairs a collection with its first thumbnail record for batch
// rendering.
type BatchItem struct {
	CollectionID string
	Record       models.EmbeddedThumbnail
}

// RenderMany renders a set of thumbnails on a bounded worker pool and
// returns the successful payloads keyed by collection id. Failures are
// logged and skipped so one unreadable file cannot sink the batch.
func (e *Encoder) RenderMany(ctx context.Context, items []BatchItem) map[string]Rendered {
	out := make(map[string]Rendered, len(items))
	if len(items) == 0 {
		return out
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, workers.ForCPU(8))
	)

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(item BatchItem) {
			defer wg.Done()
			defer func() { <-sem }()

			rendered, err := e.Render(ctx, item.Record)
			if err != nil {
				logging.Warn("Thumbnail render failed for collection %s: %v", item.CollectionID, err)
				return
			}
			mu.Lock()
			out[item.CollectionID] = rendered
			mu.Unlock()
		}(item)
	}
	wg.Wait()
	return out
}

func (e *Encoder) renderDirect(t models.EmbeddedThumbnail) (Rendered, error) {
	data, err := fsutil.ReadFileWithRetry(t.ThumbnailPath, fsutil.DefaultRetryConfig())
	if err != nil {
		return Rendered{}, err
	}
	format := t.Format
	if format == "" {
		format = mediatypes.FormatForPath(t.ThumbnailPath)
	}
	return Rendered{Data: data, Format: format}, nil
}

func (e *Encoder) reencode(ctx context.Context, t models.EmbeddedThumbnail) (Rendered, error) {
	settings := e.settings.Get(ctx)

	img, err := imageproc.LoadForThumbnail(t.ThumbnailPath, settings.Size, settings.Size)
	if err != nil {
		return Rendered{}, err
	}
	data, err := imageproc.EncodeBytes(img, settings.Format, settings.Quality)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{Data: data, Format: settings.Format}, nil
}

// DataURL assembles the payload string. The mime type comes from the format
// table; unknown formats fall back to image/jpeg.
func DataURL(data []byte, format string) string {
	return "data:" + mediatypes.ThumbnailMime(format) + ";base64," +
		base64.StdEncoding.EncodeToString(data)
}

// InlineBytes wraps already-encoded bytes (typically read back from the
// key-value cache) as a data URL, sniffing the format from the payload.
func InlineBytes(data []byte) string {
	format := imageproc.SniffBytes(data)
	if format == "unknown" {
		format = "jpg"
	}
	return DataURL(data, format)
}
