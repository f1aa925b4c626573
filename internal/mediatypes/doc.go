// Package mediatypes provides shared type definitions and utilities for
// classifying collection content across the collection-viewer application.
//
// This package exists as a dependency-free foundation that can be imported by
// other packages without creating import cycles. It contains primitive types,
// constants, and pure utility functions with no external dependencies beyond
// the standard library.
//
// # Entry Kinds
//
// The package defines an EntryKind enum for categorizing files:
//
//	mediatypes.KindImage   // Supported still images (jpg, png, webp, etc.)
//	mediatypes.KindVideo   // Video files (mp4, mkv, etc.)
//	mediatypes.KindArchive // Archive containers (zip/cbz, rar/cbr, 7z/cb7)
//	mediatypes.KindOther   // Unrecognized or unsupported files
//
// Use KindForPath (or KindForExtension) to classify a file:
//
//	switch mediatypes.KindForPath(name) {
//	case mediatypes.KindImage:
//	    // scan as collection content
//	case mediatypes.KindArchive:
//	    // open as an archive-backed collection
//	}
//
// # Thumbnail MIME mapping
//
// ThumbnailMime maps a thumbnail format name to the MIME type used when
// assembling data URLs. GIF maps to image/gif and unknown formats fall back
// to image/jpeg:
//
//	mime := mediatypes.ThumbnailMime("gif") // "image/gif"
package mediatypes
