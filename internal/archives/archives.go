// Package archives reads image entries out of collection archives. Zip and
// cbz go through the standard library; rar/cbr and 7z/cb7 go through their
// respective decoders.
//
// Entry names are normalized to forward slashes so records built on one
// platform resolve on another. macOS resource-fork directories (__MACOSX)
// are never listed; AppleDouble files (._name) outside them are listed and
// left to fail image decoding downstream.
package archives

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode/v2"

	"collection-viewer/internal/errs"
)

// Entry describes one file inside an archive.
type Entry struct {
	Name             string // full in-archive path, forward slashes
	CompressedSize   int64  // 0 when the format does not expose it per file
	UncompressedSize int64
}

// Reader is random access over one open archive. Close releases the
// underlying file; readers returned by Open must be closed independently.
type Reader interface {
	Entries() []Entry
	Open(name string) (io.ReadCloser, error)
	Close() error
}

// Open picks a reader for the archive at path by its extension.
func Open(archivePath string) (Reader, error) {
	switch strings.ToLower(filepath.Ext(archivePath)) {
	case ".zip", ".cbz":
		return openZip(archivePath)
	case ".rar", ".cbr":
		return openRar(archivePath)
	case ".7z", ".cb7":
		return openSevenZip(archivePath)
	default:
		return nil, errs.Validationf("unsupported archive format %q", filepath.Ext(archivePath))
	}
}

// FindEntry locates the entry backing an image record, tolerating legacy
// records that stored only a filename instead of the full in-archive path.
// Match order: exact entry name, exact relative path, then first entry with
// a matching base name.
func FindEntry(entries []Entry, entryName, relativePath string) (Entry, bool) {
	if entryName != "" {
		for _, e := range entries {
			if e.Name == entryName {
				return e, true
			}
		}
	}
	if relativePath != "" && relativePath != entryName {
		for _, e := range entries {
			if e.Name == relativePath {
				return e, true
			}
		}
	}
	base := path.Base(entryName)
	if base == "." || base == "/" || base == "" {
		base = path.Base(relativePath)
	}
	if base == "." || base == "/" || base == "" {
		return Entry{}, false
	}
	for _, e := range entries {
		if path.Base(e.Name) == base {
			return e, true
		}
	}
	return Entry{}, false
}

func normalizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	return strings.TrimPrefix(name, "./")
}

// skipEntry filters directory placeholders and macOS resource forks out of
// listings.
func skipEntry(name string, isDir bool) bool {
	if isDir || name == "" {
		return true
	}
	if name == "__MACOSX" || strings.HasPrefix(name, "__MACOSX/") || strings.Contains(name, "/__MACOSX/") {
		return true
	}
	return false
}

type zipReader struct {
	rc      *zip.ReadCloser
	entries []Entry
	files   map[string]*zip.File
}

func openZip(archivePath string) (*zipReader, error) {
	rc, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open zip %s: %w", archivePath, err)
	}

	r := &zipReader{rc: rc, files: make(map[string]*zip.File, len(rc.File))}
	for _, f := range rc.File {
		name := normalizeName(f.Name)
		if skipEntry(name, f.FileInfo().IsDir()) {
			continue
		}
		r.entries = append(r.entries, Entry{
			Name:             name,
			CompressedSize:   int64(f.CompressedSize64),
			UncompressedSize: int64(f.UncompressedSize64),
		})
		r.files[name] = f
	}
	return r, nil
}

func (r *zipReader) Entries() []Entry { return r.entries }

func (r *zipReader) Open(name string) (io.ReadCloser, error) {
	f, ok := r.files[name]
	if !ok {
		return nil, errs.NotFoundf("entry %q not in archive", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %q: %w", name, err)
	}
	return rc, nil
}

func (r *zipReader) Close() error { return r.rc.Close() }

// rarReader lists entries up front; rar is a sequential format, so Open
// re-reads the archive from the start until it reaches the wanted entry.
type rarReader struct {
	path    string
	entries []Entry
}

func openRar(archivePath string) (*rarReader, error) {
	rc, err := rardecode.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open rar %s: %w", archivePath, err)
	}
	defer rc.Close()

	r := &rarReader{path: archivePath}
	for {
		hdr, err := rc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rar %s: %w", archivePath, err)
		}
		name := normalizeName(hdr.Name)
		if skipEntry(name, hdr.IsDir) {
			continue
		}
		r.entries = append(r.entries, Entry{
			Name:             name,
			CompressedSize:   hdr.PackedSize,
			UncompressedSize: hdr.UnPackedSize,
		})
	}
	return r, nil
}

func (r *rarReader) Entries() []Entry { return r.entries }

func (r *rarReader) Open(name string) (io.ReadCloser, error) {
	rc, err := rardecode.OpenReader(r.path)
	if err != nil {
		return nil, fmt.Errorf("open rar %s: %w", r.path, err)
	}
	for {
		hdr, err := rc.Next()
		if err == io.EOF {
			rc.Close()
			return nil, errs.NotFoundf("entry %q not in archive", name)
		}
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("seek rar %s: %w", r.path, err)
		}
		if normalizeName(hdr.Name) == name {
			return &rarEntry{rc: rc}, nil
		}
	}
}

func (r *rarReader) Close() error { return nil }

// rarEntry reads the current entry and closes the whole archive with it.
type rarEntry struct {
	rc *rardecode.ReadCloser
}

func (e *rarEntry) Read(p []byte) (int, error) { return e.rc.Read(p) }
func (e *rarEntry) Close() error               { return e.rc.Close() }

type sevenZipReader struct {
	rc      *sevenzip.ReadCloser
	entries []Entry
	files   map[string]*sevenzip.File
}

func openSevenZip(archivePath string) (*sevenZipReader, error) {
	rc, err := sevenzip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open 7z %s: %w", archivePath, err)
	}

	r := &sevenZipReader{rc: rc, files: make(map[string]*sevenzip.File, len(rc.File))}
	for _, f := range rc.File {
		name := normalizeName(f.Name)
		if skipEntry(name, f.FileInfo().IsDir()) {
			continue
		}
		// 7z compresses files in solid blocks; there is no per-file
		// compressed size to report.
		r.entries = append(r.entries, Entry{
			Name:             name,
			UncompressedSize: int64(f.UncompressedSize),
		})
		r.files[name] = f
	}
	return r, nil
}

func (r *sevenZipReader) Entries() []Entry { return r.entries }

func (r *sevenZipReader) Open(name string) (io.ReadCloser, error) {
	f, ok := r.files[name]
	if !ok {
		return nil, errs.NotFoundf("entry %q not in archive", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open 7z entry %q: %w", name, err)
	}
	return rc, nil
}

func (r *sevenZipReader) Close() error { return r.rc.Close() }
