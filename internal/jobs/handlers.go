package jobs

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"collection-viewer/internal/archives"
	"collection-viewer/internal/collectionindex"
	"collection-viewer/internal/errs"
	"collection-viewer/internal/imageproc"
	"collection-viewer/internal/logging"
	"collection-viewer/internal/models"
	"collection-viewer/internal/scanner"
)

const (
	// Cache images render at full-screen resolution; thumbnails take their
	// box from the settings store.
	defaultCacheWidth  = 1920
	defaultCacheHeight = 1080

	// cacheImageMaxAge is the hard cap cleanup enforces even on entries
	// without an explicit expiry.
	cacheImageMaxAge = 30 * 24 * time.Hour

	cleanupBatchSize = 100
)

// runScan re-inventories the collection's folder or archive, carrying over
// ids for entries whose relative path is unchanged, and drops thumbnail and
// cache records whose image vanished.
func (r *Runner) runScan(ctx context.Context, job *models.BackgroundJob) (string, error) {
	c, err := r.jobCollection(ctx, job)
	if err != nil {
		return "", err
	}

	result, err := scanner.Scan(ctx, c.Path)
	if err != nil {
		return "", err
	}

	images, thumbs, cache := mergeInventory(c, result.Images)
	if err := r.docs.ReplaceScanResults(ctx, c.ID, images, thumbs, cache, result.Stats); err != nil {
		return "", err
	}
	r.refreshIndex(ctx, c.ID)

	return fmt.Sprintf("scanned %d images; kept %d thumbnails, %d cache entries",
		len(images), len(thumbs), len(cache)), nil
}

// mergeInventory matches fresh scan entries against the stored inventory by
// relative path so unchanged entries keep their ids, then filters thumbnail
// and cache records down to the ids that survived. Without the id carry-over
// every rescan would orphan every generated artifact.
func mergeInventory(c *models.Collection, fresh []models.ImageEntry) ([]models.ImageEntry, []models.EmbeddedThumbnail, []models.CacheImage) {
	prior := make(map[string]models.ImageEntry, len(c.Images))
	for _, img := range c.Images {
		prior[img.RelativePath] = img
	}

	keep := make(map[primitive.ObjectID]bool, len(fresh))
	for i := range fresh {
		if old, ok := prior[fresh[i].RelativePath]; ok {
			fresh[i].ID = old.ID
			if !old.CreatedAt.IsZero() {
				fresh[i].CreatedAt = old.CreatedAt
			}
		}
		keep[fresh[i].ID] = true
	}

	var thumbs []models.EmbeddedThumbnail
	for _, t := range c.Thumbnails {
		if keep[t.ImageID] {
			thumbs = append(thumbs, t)
		}
	}
	var cache []models.CacheImage
	for _, ci := range c.CacheImages {
		if keep[ci.ImageID] {
			cache = append(cache, ci)
		}
	}
	return fresh, thumbs, cache
}

// runThumbnails renders a thumbnail file per image. Per-image failures are
// logged and counted; the job only fails when the collection itself cannot
// be read or the results cannot be stored.
func (r *Runner) runThumbnails(ctx context.Context, job *models.BackgroundJob) (string, error) {
	c, err := r.jobCollection(ctx, job)
	if err != nil {
		return "", err
	}

	settings := r.settings.Get(ctx)
	width := paramInt(job, "width", settings.Size)
	height := paramInt(job, "height", settings.Size)

	loader, err := newSourceLoader(c)
	if err != nil {
		return "", err
	}
	defer loader.Close()

	dir := filepath.Join(r.cacheDir, "thumbnails", c.ID.Hex())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errs.HandlerFailure(err, "create thumbnail directory %s", dir)
	}

	report := r.progressFunc(ctx, job.ID)
	total := int64(len(c.Images))
	report(0, total)

	now := time.Now().UTC()
	thumbs := make([]models.EmbeddedThumbnail, 0, len(c.Images))
	failed := 0
	for i := range c.Images {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		entry := &c.Images[i]
		rendered, err := renderEntryToFile(loader, entry, dir, width, height, settings.Format, settings.Quality)
		if err != nil {
			failed++
			logging.Warn("Thumbnail for %s/%s failed: %v", c.ID.Hex(), entry.Filename, err)
		} else {
			thumbs = append(thumbs, models.EmbeddedThumbnail{
				ImageID:       entry.ID,
				ThumbnailPath: rendered.Path,
				Width:         rendered.Width,
				Height:        rendered.Height,
				FileSize:      rendered.Size,
				Format:        rendered.Format,
				GeneratedAt:   now,
			})
		}
		report(int64(i+1), total)
	}

	if err := r.docs.SetThumbnails(ctx, c.ID, thumbs); err != nil {
		return "", err
	}
	r.refreshIndex(ctx, c.ID)

	return fmt.Sprintf("generated %d of %d thumbnails (%d failed)", len(thumbs), len(c.Images), failed), nil
}

// runCacheImages is the thumbnail pass at display resolution: one cache
// file per image under the cache root, stored on the cacheImages field.
func (r *Runner) runCacheImages(ctx context.Context, job *models.BackgroundJob) (string, error) {
	c, err := r.jobCollection(ctx, job)
	if err != nil {
		return "", err
	}

	settings := r.settings.Get(ctx)
	width := paramInt(job, "width", defaultCacheWidth)
	height := paramInt(job, "height", defaultCacheHeight)

	var expires *time.Time
	if ttl, perr := time.ParseDuration(job.Param("expiresIn", "")); perr == nil && ttl > 0 {
		at := time.Now().UTC().Add(ttl)
		expires = &at
	}

	loader, err := newSourceLoader(c)
	if err != nil {
		return "", err
	}
	defer loader.Close()

	dir := filepath.Join(r.cacheDir, "images", c.ID.Hex())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errs.HandlerFailure(err, "create cache directory %s", dir)
	}

	report := r.progressFunc(ctx, job.ID)
	total := int64(len(c.Images))
	report(0, total)

	now := time.Now().UTC()
	cache := make([]models.CacheImage, 0, len(c.Images))
	failed := 0
	for i := range c.Images {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		entry := &c.Images[i]
		rendered, err := renderEntryToFile(loader, entry, dir, width, height, settings.Format, settings.Quality)
		if err != nil {
			failed++
			logging.Warn("Cache image for %s/%s failed: %v", c.ID.Hex(), entry.Filename, err)
		} else {
			cache = append(cache, models.CacheImage{
				ImageID:   entry.ID,
				CachePath: rendered.Path,
				Width:     rendered.Width,
				Height:    rendered.Height,
				FileSize:  rendered.Size,
				CreatedAt: now,
				ExpiresAt: expires,
			})
		}
		report(int64(i+1), total)
	}

	if err := r.docs.SetCacheImages(ctx, c.ID, cache); err != nil {
		return "", err
	}
	r.refreshIndex(ctx, c.ID)

	return fmt.Sprintf("generated %d of %d cache images (%d failed)", len(cache), len(c.Images), failed), nil
}

// runCleanup streams every live collection, prunes cache images that have
// expired or outlived the age cap, deletes their files, and stamps the
// cache folders with the completed run.
func (r *Runner) runCleanup(ctx context.Context, job *models.BackgroundJob) (string, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-cacheImageMaxAge)

	checked, removed := 0, 0
	var freed int64

	var after primitive.ObjectID
	for {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		batch, err := r.docs.ListActiveAfter(ctx, after, cleanupBatchSize)
		if err != nil {
			return "", err
		}
		if len(batch) == 0 {
			break
		}
		for i := range batch {
			c := &batch[i]
			checked++

			kept := make([]models.CacheImage, 0, len(c.CacheImages))
			var dropped []models.CacheImage
			for _, ci := range c.CacheImages {
				if cacheImageExpired(ci, cutoff, now) {
					dropped = append(dropped, ci)
				} else {
					kept = append(kept, ci)
				}
			}
			if len(dropped) == 0 {
				continue
			}

			for _, ci := range dropped {
				if ci.CachePath != "" {
					if err := os.Remove(ci.CachePath); err != nil && !os.IsNotExist(err) {
						logging.Warn("Cleanup could not remove %s: %v", ci.CachePath, err)
					}
				}
				removed++
				freed += ci.FileSize
			}
			if err := r.docs.SetCacheImages(ctx, c.ID, kept); err != nil {
				logging.Warn("Cleanup update for %s failed: %v", c.ID.Hex(), err)
			}
		}
		after = batch[len(batch)-1].ID
	}

	folders, err := r.folders.ListActive(ctx)
	if err != nil {
		logging.Warn("Cache folder listing failed: %v", err)
	} else {
		for i := range folders {
			if err := r.folders.RecordCleanup(ctx, folders[i].ID, primitive.NilObjectID); err != nil {
				logging.Warn("Cleanup stamp for folder %s failed: %v", folders[i].Name, err)
			}
		}
	}

	return fmt.Sprintf("checked %d collections, removed %d cache entries (%s freed)",
		checked, removed, formatBytes(freed)), nil
}

func cacheImageExpired(ci models.CacheImage, cutoff, now time.Time) bool {
	if ci.ExpiresAt != nil && ci.ExpiresAt.Before(now) {
		return true
	}
	return !ci.CreatedAt.IsZero() && ci.CreatedAt.Before(cutoff)
}

// runRebuild delegates to the index engine, mapping batch progress onto the
// job's progress counters.
func (r *Runner) runRebuild(ctx context.Context, job *models.BackgroundJob) (string, error) {
	mode, err := collectionindex.ParseRebuildMode(job.Param("mode", ""))
	if err != nil {
		return "", err
	}

	report := r.progressFunc(ctx, job.ID)
	stats, err := r.index.RebuildIndex(ctx, mode, collectionindex.RebuildOptions{
		DryRun:               job.Param("dryRun", "") == "true",
		SkipThumbnailCaching: job.Param("skipThumbnails", "") == "true",
		Progress:             func(done, total int64) { report(done, total) },
	})
	if err != nil {
		return "", err
	}
	msg := fmt.Sprintf("mode %s: %d rebuilt, %d skipped, %d failed of %d",
		stats.Mode, stats.Rebuilt, stats.Skipped, stats.Failed, stats.Total)
	if stats.DryRun {
		msg += " (dry run)"
	}
	return msg, nil
}

// RefreshImageThumbnail regenerates the thumbnail for one image and swaps
// its record into the collection, replacing rather than appending.
func (r *Runner) RefreshImageThumbnail(ctx context.Context, collectionID, imageID primitive.ObjectID) error {
	c, err := r.docs.GetByID(ctx, collectionID)
	if err != nil {
		return err
	}

	var entry *models.ImageEntry
	for i := range c.Images {
		if c.Images[i].ID == imageID {
			entry = &c.Images[i]
			break
		}
	}
	if entry == nil {
		return errs.NotFoundf("image %s not present in collection %s", imageID.Hex(), collectionID.Hex())
	}

	loader, err := newSourceLoader(c)
	if err != nil {
		return err
	}
	defer loader.Close()

	settings := r.settings.Get(ctx)
	dir := filepath.Join(r.cacheDir, "thumbnails", c.ID.Hex())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.HandlerFailure(err, "create thumbnail directory %s", dir)
	}

	rendered, err := renderEntryToFile(loader, entry, dir, settings.Size, settings.Size, settings.Format, settings.Quality)
	if err != nil {
		return err
	}

	record := models.EmbeddedThumbnail{
		ImageID:       entry.ID,
		ThumbnailPath: rendered.Path,
		Width:         rendered.Width,
		Height:        rendered.Height,
		FileSize:      rendered.Size,
		Format:        rendered.Format,
		GeneratedAt:   time.Now().UTC(),
	}
	if err := r.docs.SetThumbnails(ctx, c.ID, replaceThumbnail(c.Thumbnails, record)); err != nil {
		return err
	}
	r.refreshIndex(ctx, c.ID)
	return nil
}

func replaceThumbnail(list []models.EmbeddedThumbnail, record models.EmbeddedThumbnail) []models.EmbeddedThumbnail {
	out := append([]models.EmbeddedThumbnail(nil), list...)
	for i := range out {
		if out[i].ImageID == record.ImageID {
			out[i] = record
			return out
		}
	}
	return append(out, record)
}

// sourceLoader decodes entry images, holding the archive open across a
// whole batch for archive-backed collections.
type sourceLoader struct {
	collection *models.Collection
	reader     archives.Reader // nil for folder collections
}

func newSourceLoader(c *models.Collection) (*sourceLoader, error) {
	l := &sourceLoader{collection: c}
	if c.Type == models.TypeArchive {
		reader, err := archives.Open(c.Path)
		if err != nil {
			return nil, err
		}
		l.reader = reader
	}
	return l, nil
}

func (l *sourceLoader) Close() {
	if l.reader != nil {
		_ = l.reader.Close()
	}
}

func (l *sourceLoader) load(entry *models.ImageEntry, width, height int) (image.Image, error) {
	if l.reader == nil {
		path := filepath.Join(l.collection.Path, filepath.FromSlash(entry.RelativePath))
		return imageproc.LoadForThumbnail(path, width, height)
	}

	found, ok := archives.FindEntry(l.reader.Entries(), entry.Archive.EntryName, entry.RelativePath)
	if !ok {
		return nil, errs.NotFoundf("entry %s missing from archive %s", entry.Archive.EntryName, l.collection.Path)
	}
	rc, err := l.reader.Open(found.Name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errs.HandlerFailure(err, "read archive entry %s", found.Name)
	}
	return imageproc.DecodeBytes(data)
}

// renderedFile describes one written artifact.
type renderedFile struct {
	Path   string
	Width  int
	Height int
	Size   int64
	Format string
}

// renderEntryToFile loads one source image, fits it inside the target box,
// and writes the encoded result under dir named by the image id.
func renderEntryToFile(loader *sourceLoader, entry *models.ImageEntry, dir string, width, height int, format string, quality int) (renderedFile, error) {
	img, err := loader.load(entry, width, height)
	if err != nil {
		return renderedFile{}, err
	}

	fitted := imageproc.Fit(img, width, height)
	data, err := imageproc.EncodeBytes(fitted, format, quality)
	if err != nil {
		return renderedFile{}, err
	}

	outPath := filepath.Join(dir, entry.ID.Hex()+"."+format)
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return renderedFile{}, errs.HandlerFailure(err, "write %s", outPath)
	}

	bounds := fitted.Bounds()
	return renderedFile{
		Path:   outPath,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Size:   int64(len(data)),
		Format: format,
	}, nil
}
