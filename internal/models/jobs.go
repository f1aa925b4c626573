package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// JobType identifies a background job handler
type JobType string

const (
	// JobScanCollection rescans a collection's folder or archive
	JobScanCollection JobType = "scan_collection"
	// JobGenerateThumbnails renders thumbnails for a collection's images
	JobGenerateThumbnails JobType = "generate_thumbnails"
	// JobGenerateCache renders full-size cache images for a collection
	JobGenerateCache JobType = "generate_cache"
	// JobCleanupCache removes expired and stale cache entries
	JobCleanupCache JobType = "cleanup_cache"
	// JobRebuildIndex runs a collection index rebuild
	JobRebuildIndex JobType = "rebuild_index"
)

// ValidJobType reports whether t names a known job type
func ValidJobType(t JobType) bool {
	switch t {
	case JobScanCollection, JobGenerateThumbnails, JobGenerateCache,
		JobCleanupCache, JobRebuildIndex:
		return true
	}
	return false
}

// JobStatus is a background job lifecycle state
type JobStatus string

const (
	// JobPending means the job is queued and unclaimed
	JobPending JobStatus = "pending"
	// JobRunning means a worker has claimed the job
	JobRunning JobStatus = "running"
	// JobCompleted is the success terminal state
	JobCompleted JobStatus = "completed"
	// JobFailed is the failure terminal state
	JobFailed JobStatus = "failed"
	// JobCancelled is the cancellation terminal state
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether s is a terminal lifecycle state
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// BackgroundJob is a persisted unit of background work. Lifecycle is
// pending -> running -> {completed, failed, cancelled}; StartedAt is set on
// the transition to running, CompletedAt on any terminal transition.
type BackgroundJob struct {
	ID              primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	JobType         JobType             `bson:"jobType" json:"jobType"`
	Status          JobStatus           `bson:"status" json:"status"`
	CollectionID    *primitive.ObjectID `bson:"collectionId,omitempty" json:"collectionId,omitempty"`
	LibraryID       *primitive.ObjectID `bson:"libraryId,omitempty" json:"libraryId,omitempty"`
	Parameters      map[string]string   `bson:"parameters,omitempty" json:"parameters,omitempty"`
	ProgressCurrent int64               `bson:"progressCurrent" json:"progressCurrent"`
	ProgressTotal   int64               `bson:"progressTotal" json:"progressTotal"`
	ResultMessage   string              `bson:"resultMessage,omitempty" json:"resultMessage,omitempty"`
	ErrorMessage    string              `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	CorrelationID   string              `bson:"correlationId,omitempty" json:"correlationId,omitempty"`
	CreatedAt       time.Time           `bson:"createdAt" json:"createdAt"`
	StartedAt       *time.Time          `bson:"startedAt,omitempty" json:"startedAt,omitempty"`
	CompletedAt     *time.Time          `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
}

// Param returns a job parameter or the given default
func (j *BackgroundJob) Param(key, def string) string {
	if j.Parameters == nil {
		return def
	}
	if v, ok := j.Parameters[key]; ok && v != "" {
		return v
	}
	return def
}

// ScheduledJob is a cron-driven job template. HangfireJobID carries the
// scheduler id from legacy deployments and is never written by this code.
type ScheduledJob struct {
	ID            primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Name          string              `bson:"name" json:"name"`
	JobType       JobType             `bson:"jobType" json:"jobType"`
	CronExpr      string              `bson:"cronExpression" json:"cronExpression"`
	IsEnabled     bool                `bson:"isEnabled" json:"isEnabled"`
	LibraryID     *primitive.ObjectID `bson:"libraryId,omitempty" json:"libraryId,omitempty"`
	CollectionID  *primitive.ObjectID `bson:"collectionId,omitempty" json:"collectionId,omitempty"`
	Parameters    map[string]string   `bson:"parameters,omitempty" json:"parameters,omitempty"`
	LastRunAt     *time.Time          `bson:"lastRunAt,omitempty" json:"lastRunAt,omitempty"`
	NextRunAt     *time.Time          `bson:"nextRunAt,omitempty" json:"nextRunAt,omitempty"`
	HangfireJobID string              `bson:"hangfireJobId,omitempty" json:"-"`
	CreatedAt     time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time           `bson:"updatedAt" json:"updatedAt"`
}
