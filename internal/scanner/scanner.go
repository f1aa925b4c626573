// Package scanner builds the image inventory for a collection from its
// backing folder or archive.
//
// Scanning is deliberately cheap: entries carry filename, path, and size,
// and leave dimensions at zero for the thumbnail pass to fill in. Hidden
// files and dot-directories are skipped the same way in both folder and
// archive collections.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"collection-viewer/internal/archives"
	"collection-viewer/internal/errs"
	"collection-viewer/internal/fsutil"
	"collection-viewer/internal/logging"
	"collection-viewer/internal/mediatypes"
	"collection-viewer/internal/models"
)

// Result is the inventory of one scanned collection. Stats carries item and
// byte totals only; view counters are never touched by a scan.
type Result struct {
	Type   models.CollectionType
	Images []models.ImageEntry
	Stats  models.CollectionStatistics
}

// Candidate is a collection discovered under a library root.
type Candidate struct {
	Name string
	Path string
	Type models.CollectionType
}

// Scan inventories the folder or archive at the given path.
func Scan(ctx context.Context, collectionPath string) (*Result, error) {
	info, err := fsutil.StatWithRetry(collectionPath, fsutil.DefaultRetryConfig())
	if err != nil {
		return nil, errs.NotFoundf("collection path %s not accessible: %v", collectionPath, err)
	}

	if info.IsDir() {
		return scanFolder(ctx, collectionPath)
	}
	if mediatypes.IsArchivePath(collectionPath) {
		return scanArchive(ctx, collectionPath)
	}
	return nil, errs.Validationf("path %s is neither a folder nor a supported archive", collectionPath)
}

// DiscoverCollections lists the immediate children of a library root that
// can back a collection: directories and archive files. Hidden entries are
// skipped.
func DiscoverCollections(ctx context.Context, root string) ([]Candidate, error) {
	entries, err := fsutil.ReadDirWithRetry(root, fsutil.DefaultRetryConfig())
	if err != nil {
		return nil, errs.NotFoundf("library root %s not accessible: %v", root, err)
	}

	var candidates []Candidate
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		switch {
		case entry.IsDir():
			candidates = append(candidates, Candidate{
				Name: name,
				Path: filepath.Join(root, name),
				Type: models.TypeFolder,
			})
		case mediatypes.IsArchivePath(name):
			candidates = append(candidates, Candidate{
				Name: strings.TrimSuffix(name, filepath.Ext(name)),
				Path: filepath.Join(root, name),
				Type: models.TypeArchive,
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })
	return candidates, nil
}

func scanFolder(ctx context.Context, root string) (*Result, error) {
	result := &Result{Type: models.TypeFolder}

	err := filepath.Walk(root, func(walkPath string, info os.FileInfo, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logging.Warn("Error accessing path %s: %v", walkPath, err)
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") && walkPath != root {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if !mediatypes.IsImagePath(info.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, walkPath)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		result.Images = append(result.Images, models.ImageEntry{
			ID:           primitive.NewObjectID(),
			Filename:     info.Name(),
			RelativePath: rel,
			FileSize:     info.Size(),
			Archive: models.ArchiveRef{
				EntryName: rel,
				FileType:  models.FileRegular,
			},
			CreatedAt: time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan folder %s: %w", root, err)
	}

	finalize(result)
	return result, nil
}

func scanArchive(ctx context.Context, archivePath string) (*Result, error) {
	reader, err := archives.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	result := &Result{Type: models.TypeArchive}
	for _, entry := range reader.Entries() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !mediatypes.IsImagePath(entry.Name) {
			continue
		}
		result.Images = append(result.Images, models.ImageEntry{
			ID:           primitive.NewObjectID(),
			Filename:     path.Base(entry.Name),
			RelativePath: entry.Name,
			FileSize:     entry.UncompressedSize,
			Archive: models.ArchiveRef{
				ArchivePath:      archivePath,
				EntryName:        entry.Name,
				EntryPath:        entry.Name,
				FileType:         models.FileArchiveEntry,
				CompressedSize:   entry.CompressedSize,
				UncompressedSize: entry.UncompressedSize,
			},
			CreatedAt: time.Now().UTC(),
		})
	}

	finalize(result)
	return result, nil
}

// finalize sorts entries by path and fills the totals.
func finalize(result *Result) {
	sort.Slice(result.Images, func(i, j int) bool {
		return result.Images[i].RelativePath < result.Images[j].RelativePath
	})
	result.Stats.TotalItems = int64(len(result.Images))
	for _, img := range result.Images {
		result.Stats.TotalSize += img.FileSize
	}
}

// Repair rebuilds a collection's image entries so entryName carries the
// full path again. Legacy records stored only the filename, which breaks
// entry lookup in nested archives. Existing ids and creation times are
// kept; entries that cannot be matched are left untouched.
func Repair(ctx context.Context, c *models.Collection) ([]models.ImageEntry, bool, error) {
	candidates, err := repairCandidates(ctx, c)
	if err != nil {
		return nil, false, err
	}

	changed := false
	unmatched := 0
	repaired := make([]models.ImageEntry, len(c.Images))
	for i, img := range c.Images {
		entry, ok := archives.FindEntry(candidates, img.Archive.EntryName, img.RelativePath)
		if !ok {
			unmatched++
			repaired[i] = img
			continue
		}
		next := img
		next.Filename = path.Base(entry.Name)
		next.RelativePath = entry.Name
		next.Archive.EntryName = entry.Name
		if c.Type == models.TypeArchive {
			next.Archive.EntryPath = entry.Name
			next.Archive.ArchivePath = c.Path
			next.Archive.FileType = models.FileArchiveEntry
			next.Archive.CompressedSize = entry.CompressedSize
			next.Archive.UncompressedSize = entry.UncompressedSize
		} else {
			next.Archive.FileType = models.FileRegular
		}
		if entry.UncompressedSize > 0 {
			next.FileSize = entry.UncompressedSize
		}
		if next != img {
			changed = true
		}
		repaired[i] = next
	}

	if unmatched > 0 {
		logging.Warn("Repair left %d of %d entries unmatched for collection %s",
			unmatched, len(c.Images), c.Path)
	}
	return repaired, changed, nil
}

// repairCandidates lists what the backing store actually contains, in the
// same Entry shape for both folder and archive collections.
func repairCandidates(ctx context.Context, c *models.Collection) ([]archives.Entry, error) {
	if c.Type == models.TypeArchive {
		reader, err := archives.Open(c.Path)
		if err != nil {
			return nil, err
		}
		defer reader.Close()

		var out []archives.Entry
		for _, entry := range reader.Entries() {
			if mediatypes.IsImagePath(entry.Name) {
				out = append(out, entry)
			}
		}
		return out, nil
	}

	scanned, err := scanFolder(ctx, c.Path)
	if err != nil {
		return nil, err
	}
	out := make([]archives.Entry, 0, len(scanned.Images))
	for _, img := range scanned.Images {
		out = append(out, archives.Entry{
			Name:             img.RelativePath,
			UncompressedSize: img.FileSize,
		})
	}
	return out, nil
}
