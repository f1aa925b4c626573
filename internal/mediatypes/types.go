package mediatypes

import (
	"path/filepath"
	"strings"
)

// EntryKind classifies what a collection entry is on disk.
type EntryKind string

const (
	// KindImage is a supported still image.
	KindImage EntryKind = "image"
	// KindVideo is a video file (thumbnailed via frame extraction).
	KindVideo EntryKind = "video"
	// KindArchive is a supported archive container.
	KindArchive EntryKind = "archive"
	// KindOther is an unknown or unsupported file.
	KindOther EntryKind = "other"
)

// ImageExtensions maps file extensions to whether they are supported image formats.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
}

// VideoExtensions maps file extensions to whether they are supported video formats.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".webm": true,
	".m4v":  true,
	".mpeg": true,
	".mpg":  true,
}

// ArchiveExtensions maps file extensions to whether they are supported
// archive containers. The cb* variants are the comic-book renamings of the
// same formats.
var ArchiveExtensions = map[string]bool{
	".zip": true,
	".cbz": true,
	".rar": true,
	".cbr": true,
	".7z":  true,
	".cb7": true,
}

// thumbnailMimes maps a thumbnail format name to the MIME type used in data
// URLs. Unknown formats deliberately fall back to image/jpeg.
var thumbnailMimes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
}

// KindForExtension returns the EntryKind for a file extension. The extension
// is matched case-insensitively and may omit the leading dot's casing, e.g.
// ".JPG" and ".jpg" are equivalent.
func KindForExtension(ext string) EntryKind {
	ext = strings.ToLower(ext)
	switch {
	case ImageExtensions[ext]:
		return KindImage
	case VideoExtensions[ext]:
		return KindVideo
	case ArchiveExtensions[ext]:
		return KindArchive
	}
	return KindOther
}

// KindForPath classifies a path by its extension.
func KindForPath(path string) EntryKind {
	return KindForExtension(filepath.Ext(path))
}

// IsImagePath reports whether the path names a supported still image.
func IsImagePath(path string) bool {
	return KindForPath(path) == KindImage
}

// IsVideoPath reports whether the path names a supported video file.
func IsVideoPath(path string) bool {
	return KindForPath(path) == KindVideo
}

// IsArchivePath reports whether the path names a supported archive.
func IsArchivePath(path string) bool {
	return KindForPath(path) == KindArchive
}

// ThumbnailMime returns the data-URL MIME type for a thumbnail format name
// ("jpg", "png", ...). The format is matched without a leading dot,
// case-insensitively; unrecognized formats map to image/jpeg.
func ThumbnailMime(format string) string {
	format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if mime, ok := thumbnailMimes[format]; ok {
		return mime
	}
	return "image/jpeg"
}

// FormatForPath returns the thumbnail format name derived from a file path
// ("photo.PNG" -> "png"). Falls back to "jpg" for unknown extensions.
func FormatForPath(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if _, ok := thumbnailMimes[ext]; ok {
		return ext
	}
	return "jpg"
}
