package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User roles
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is an account document. Passwords are stored as bcrypt hashes only.
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username     string             `bson:"username" json:"username"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"passwordHash" json:"-"`
	Role         string             `bson:"role" json:"role"`
	IsActive     bool               `bson:"isActive" json:"isActive"`
	IsDeleted    bool               `bson:"isDeleted" json:"-"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt" json:"updatedAt"`
	LastLoginAt  *time.Time         `bson:"lastLoginAt,omitempty" json:"lastLoginAt,omitempty"`
}

// RefreshToken is a stored refresh credential. The collection carries a TTL
// index on ExpiresAt so expired documents age out on their own.
type RefreshToken struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID `bson:"userId" json:"userId"`
	Token     string             `bson:"token" json:"-"`
	ExpiresAt time.Time          `bson:"expiresAt" json:"expiresAt"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	RevokedAt *time.Time         `bson:"revokedAt,omitempty" json:"revokedAt,omitempty"`
}

// Valid reports whether the token is usable at the given instant
func (t *RefreshToken) Valid(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// Library groups collections under a root path
type Library struct {
	ID        primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Name      string              `bson:"name" json:"name"`
	Path      string              `bson:"path" json:"path"`
	OwnerID   *primitive.ObjectID `bson:"ownerId,omitempty" json:"ownerId,omitempty"`
	IsPublic  bool                `bson:"isPublic" json:"isPublic"`
	IsActive  bool                `bson:"isActive" json:"isActive"`
	IsDeleted bool                `bson:"isDeleted" json:"-"`
	CreatedAt time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// CacheFolder is a disk area that holds generated cache images
type CacheFolder struct {
	ID                  primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	Name                string               `bson:"name" json:"name"`
	Path                string               `bson:"path" json:"path"`
	CurrentSizeBytes    int64                `bson:"currentSizeBytes" json:"currentSizeBytes"`
	MaxSizeBytes        int64                `bson:"maxSizeBytes" json:"maxSizeBytes"`
	TotalFiles          int64                `bson:"totalFiles" json:"totalFiles"`
	CachedCollectionIDs []primitive.ObjectID `bson:"cachedCollectionIds,omitempty" json:"cachedCollectionIds,omitempty"`
	IsActive            bool                 `bson:"isActive" json:"isActive"`
	Priority            int                  `bson:"priority" json:"priority"`
	LastCleanupAt       *time.Time           `bson:"lastCleanupAt,omitempty" json:"lastCleanupAt,omitempty"`
}

// UtilizationPercent returns how full the folder is, 0 when unbounded
func (f *CacheFolder) UtilizationPercent() float64 {
	if f.MaxSizeBytes <= 0 {
		return 0
	}
	return float64(f.CurrentSizeBytes) / float64(f.MaxSizeBytes) * 100
}

// SystemSetting is a single configuration row keyed by SettingKey
type SystemSetting struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SettingKey string             `bson:"settingKey" json:"settingKey"`
	Value      string             `bson:"value" json:"value"`
	Category   string             `bson:"category,omitempty" json:"category,omitempty"`
	UpdatedAt  time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// Well-known setting keys
const (
	SettingThumbnailSize    = "thumbnail.size"
	SettingThumbnailFormat  = "thumbnail.format"
	SettingThumbnailQuality = "thumbnail.quality"
)
