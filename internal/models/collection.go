package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CollectionType identifies how a collection is backed on disk
type CollectionType string

const (
	// TypeFolder is a collection backed by a filesystem directory
	TypeFolder CollectionType = "folder"
	// TypeArchive is a collection backed by a single archive file
	TypeArchive CollectionType = "archive"
)

// Code returns the numeric code used in secondary index keys
func (t CollectionType) Code() int {
	switch t {
	case TypeFolder:
		return 0
	case TypeArchive:
		return 1
	default:
		return -1
	}
}

// CollectionTypeFromCode is the inverse of Code
func CollectionTypeFromCode(code int) (CollectionType, bool) {
	switch code {
	case 0:
		return TypeFolder, true
	case 1:
		return TypeArchive, true
	default:
		return "", false
	}
}

// FileType distinguishes loose files from archive members
type FileType string

const (
	// FileRegular is a file on the filesystem
	FileRegular FileType = "regular"
	// FileArchiveEntry is a member of an archive
	FileArchiveEntry FileType = "archive_entry"
)

// ArchiveRef locates an image's bytes, either on disk or inside an archive.
// For folder collections EntryName is the path relative to the collection
// root; for archive collections it is the full path inside the archive.
type ArchiveRef struct {
	ArchivePath      string   `bson:"archivePath,omitempty" json:"archivePath,omitempty"`
	EntryName        string   `bson:"entryName" json:"entryName"`
	EntryPath        string   `bson:"entryPath,omitempty" json:"entryPath,omitempty"`
	FileType         FileType `bson:"fileType" json:"fileType"`
	CompressedSize   int64    `bson:"compressedSize,omitempty" json:"compressedSize,omitempty"`
	UncompressedSize int64    `bson:"uncompressedSize,omitempty" json:"uncompressedSize,omitempty"`
}

// ImageEntry is one image inside a collection. Width/Height of 0 mean the
// dimensions have not been extracted yet.
type ImageEntry struct {
	ID           primitive.ObjectID `bson:"id" json:"id"`
	Filename     string             `bson:"filename" json:"filename"`
	RelativePath string             `bson:"relativePath" json:"relativePath"`
	Width        int                `bson:"width" json:"width"`
	Height       int                `bson:"height" json:"height"`
	FileSize     int64              `bson:"fileSize" json:"fileSize"`
	Archive      ArchiveRef         `bson:"archiveEntry" json:"archiveEntry"`
	CreatedAt    time.Time          `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
}

// EmbeddedThumbnail is a generated (or direct) thumbnail record on a
// collection. IsDirect means ThumbnailPath points at the original image and
// the file has not been resized.
type EmbeddedThumbnail struct {
	ImageID       primitive.ObjectID `bson:"imageId,omitempty" json:"imageId,omitempty"`
	ThumbnailPath string             `bson:"thumbnailPath,omitempty" json:"thumbnailPath,omitempty"`
	Width         int                `bson:"width" json:"width"`
	Height        int                `bson:"height" json:"height"`
	FileSize      int64              `bson:"fileSize" json:"fileSize"`
	Format        string             `bson:"format" json:"format"`
	IsDirect      bool               `bson:"isDirect" json:"isDirect"`
	GeneratedAt   time.Time          `bson:"generatedAt,omitempty" json:"generatedAt,omitempty"`
}

// CacheImage is a full-size cached render of a collection image
type CacheImage struct {
	ImageID   primitive.ObjectID `bson:"imageId,omitempty" json:"imageId,omitempty"`
	CachePath string             `bson:"cachePath" json:"cachePath"`
	Width     int                `bson:"width" json:"width"`
	Height    int                `bson:"height" json:"height"`
	FileSize  int64              `bson:"fileSize" json:"fileSize"`
	CreatedAt time.Time          `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	ExpiresAt *time.Time         `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
}

// CollectionStatistics carries the aggregate counters kept on a collection
type CollectionStatistics struct {
	TotalItems int64      `bson:"totalItems" json:"totalItems"`
	TotalSize  int64      `bson:"totalSize" json:"totalSize"`
	TotalViews int64      `bson:"totalViews" json:"totalViews"`
	LastViewed *time.Time `bson:"lastViewed,omitempty" json:"lastViewed,omitempty"`
}

// CollectionMetadata holds user-editable annotation fields
type CollectionMetadata struct {
	Tags []string `bson:"tags,omitempty" json:"tags,omitempty"`
}

// SearchIndexFields holds derived keywords maintained for text search
type SearchIndexFields struct {
	Keywords []string `bson:"keywords,omitempty" json:"keywords,omitempty"`
}

// Collection is the authoritative document. Deletion is logical: IsDeleted
// flips to true and DeletedAt is set; the document is never erased.
type Collection struct {
	ID          primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	LibraryID   *primitive.ObjectID  `bson:"libraryId,omitempty" json:"libraryId,omitempty"`
	Name        string               `bson:"name" json:"name"`
	Description string               `bson:"description,omitempty" json:"description,omitempty"`
	Path        string               `bson:"path" json:"path"`
	Type        CollectionType       `bson:"type" json:"type"`
	IsActive    bool                 `bson:"isActive" json:"isActive"`
	IsDeleted   bool                 `bson:"isDeleted" json:"isDeleted"`
	CreatedAt   time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time            `bson:"updatedAt" json:"updatedAt"`
	DeletedAt   *time.Time           `bson:"deletedAt,omitempty" json:"deletedAt,omitempty"`
	Statistics  CollectionStatistics `bson:"statistics" json:"statistics"`
	Metadata    CollectionMetadata   `bson:"metadata,omitempty" json:"metadata,omitempty"`
	SearchIndex SearchIndexFields    `bson:"searchIndex,omitempty" json:"searchIndex,omitempty"`
	Images      []ImageEntry         `bson:"images,omitempty" json:"images,omitempty"`
	Thumbnails  []EmbeddedThumbnail  `bson:"thumbnails,omitempty" json:"thumbnails,omitempty"`
	CacheImages []CacheImage         `bson:"cacheImages,omitempty" json:"cacheImages,omitempty"`
}

// FirstThumbnail returns the collection's leading thumbnail record, or nil
func (c *Collection) FirstThumbnail() *EmbeddedThumbnail {
	if len(c.Thumbnails) == 0 {
		return nil
	}
	return &c.Thumbnails[0]
}

// FirstImageID returns the hex id of the first image, or ""
func (c *Collection) FirstImageID() string {
	if len(c.Images) == 0 {
		return ""
	}
	return c.Images[0].ID.Hex()
}

// LibraryHex returns the hex library id, or "" when unassigned
func (c *Collection) LibraryHex() string {
	if c.LibraryID == nil || c.LibraryID.IsZero() {
		return ""
	}
	return c.LibraryID.Hex()
}

// CollectionSummary is the compact projection stored in the key-value index
// for listing and navigation responses. ThumbnailBase64, when present, is a
// data URL ready for direct rendering.
type CollectionSummary struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	FirstImageID    string         `json:"firstImageId,omitempty"`
	ImageCount      int            `json:"imageCount"`
	ThumbnailCount  int            `json:"thumbnailCount"`
	CacheCount      int            `json:"cacheCount"`
	TotalSize       int64          `json:"totalSize"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	LibraryID       string         `json:"libraryId,omitempty"`
	Description     string         `json:"description,omitempty"`
	Type            CollectionType `json:"type"`
	Tags            []string       `json:"tags,omitempty"`
	Path            string         `json:"path"`
	ThumbnailBase64 string         `json:"thumbnailBase64,omitempty"`
}

// CollectionIndexState records what the index last wrote for a collection.
// IndexedAt is always >= CollectionUpdatedAt immediately after a successful
// write.
type CollectionIndexState struct {
	CollectionID        string    `json:"collectionId"`
	IndexedAt           time.Time `json:"indexedAt"`
	CollectionUpdatedAt time.Time `json:"collectionUpdatedAt"`
	ImageCount          int       `json:"imageCount"`
	ThumbnailCount      int       `json:"thumbnailCount"`
	CacheCount          int       `json:"cacheCount"`
	HasFirstThumbnail   bool      `json:"hasFirstThumbnail"`
	FirstThumbnailPath  string    `json:"firstThumbnailPath,omitempty"`
	IndexVersion        int       `json:"indexVersion"`
}
