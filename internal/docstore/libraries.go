package docstore

import (
	"context"
	"time"

	"collection-viewer/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LibraryStore accesses the libraries collection.
type LibraryStore struct {
	coll *mongo.Collection
}

// GetByID fetches one live library.
func (s *LibraryStore) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Library, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("libraries.get_by_id", start, err) }()

	var lib models.Library
	err = s.coll.FindOne(ctx, bson.M{"_id": id, "isDeleted": false}).Decode(&lib)
	if err != nil {
		return nil, wrapDoc("libraries.get_by_id", err)
	}
	return &lib, nil
}

// ListActive returns live, enabled libraries in name order.
func (s *LibraryStore) ListActive(ctx context.Context) ([]models.Library, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("libraries.list_active", start, err) }()

	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := s.coll.Find(ctx, bson.M{"isActive": true, "isDeleted": false}, opts)
	if err != nil {
		return nil, wrapDoc("libraries.list_active", err)
	}
	defer cursor.Close(ctx)

	var out []models.Library
	if err = cursor.All(ctx, &out); err != nil {
		return nil, wrapDoc("libraries.list_active", err)
	}
	return out, nil
}

// Create stores a new library. A live duplicate path trips the unique
// (path, isDeleted) index and comes back as a validation error.
func (s *LibraryStore) Create(ctx context.Context, lib *models.Library) (primitive.ObjectID, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("libraries.create", start, err) }()

	now := time.Now().UTC()
	lib.CreatedAt = now
	lib.UpdatedAt = now

	res, err := s.coll.InsertOne(ctx, lib)
	if err != nil {
		return primitive.NilObjectID, wrapDoc("libraries.create", err)
	}
	id, _ := res.InsertedID.(primitive.ObjectID)
	lib.ID = id
	return id, nil
}

// SoftDelete marks a library deleted without touching its collections; those
// are detached by the caller as a separate pass.
func (s *LibraryStore) SoftDelete(ctx context.Context, id primitive.ObjectID) error {
	start := time.Now()
	var err error
	defer func() { recordOp("libraries.soft_delete", start, err) }()

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "isDeleted": false},
		bson.M{"$set": bson.M{
			"isDeleted": true,
			"isActive":  false,
			"updatedAt": time.Now().UTC(),
		}},
	)
	if err != nil {
		return wrapDoc("libraries.soft_delete", err)
	}
	if res.MatchedCount == 0 {
		err = mongo.ErrNoDocuments
		return wrapDoc("libraries.soft_delete", err)
	}
	return nil
}

// CacheFolderStore accesses the cache_folders collection.
type CacheFolderStore struct {
	coll *mongo.Collection
}

// ListActive returns enabled cache folders in priority order, lowest number
// first. The first folder with headroom wins placement.
func (s *CacheFolderStore) ListActive(ctx context.Context) ([]models.CacheFolder, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("cache_folders.list_active", start, err) }()

	opts := options.Find().SetSort(bson.D{{Key: "priority", Value: 1}})
	cursor, err := s.coll.Find(ctx, bson.M{"isActive": true}, opts)
	if err != nil {
		return nil, wrapDoc("cache_folders.list_active", err)
	}
	defer cursor.Close(ctx)

	var out []models.CacheFolder
	if err = cursor.All(ctx, &out); err != nil {
		return nil, wrapDoc("cache_folders.list_active", err)
	}
	return out, nil
}

// ListAll returns every cache folder for dashboard reporting.
func (s *CacheFolderStore) ListAll(ctx context.Context) ([]models.CacheFolder, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("cache_folders.list_all", start, err) }()

	cursor, err := s.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, wrapDoc("cache_folders.list_all", err)
	}
	defer cursor.Close(ctx)

	var out []models.CacheFolder
	if err = cursor.All(ctx, &out); err != nil {
		return nil, wrapDoc("cache_folders.list_all", err)
	}
	return out, nil
}

// Create registers a cache folder.
func (s *CacheFolderStore) Create(ctx context.Context, f *models.CacheFolder) (primitive.ObjectID, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("cache_folders.create", start, err) }()

	res, err := s.coll.InsertOne(ctx, f)
	if err != nil {
		return primitive.NilObjectID, wrapDoc("cache_folders.create", err)
	}
	id, _ := res.InsertedID.(primitive.ObjectID)
	f.ID = id
	return id, nil
}

// UpdateUsage applies a size and file-count delta and records that the folder
// now holds files for a collection. Deltas may be negative on cleanup.
func (s *CacheFolderStore) UpdateUsage(ctx context.Context, id primitive.ObjectID, sizeDelta, fileDelta int64, collectionID primitive.ObjectID) error {
	start := time.Now()
	var err error
	defer func() { recordOp("cache_folders.update_usage", start, err) }()

	update := bson.M{
		"$inc": bson.M{
			"currentSizeBytes": sizeDelta,
			"totalFiles":       fileDelta,
		},
	}
	if !collectionID.IsZero() {
		update["$addToSet"] = bson.M{"cachedCollectionIds": collectionID}
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return wrapDoc("update_usage", err)
	}
	if res.MatchedCount == 0 {
		err = mongo.ErrNoDocuments
		return wrapDoc("update_usage", err)
	}
	return nil
}

// RecordCleanup stamps a completed cleanup run and detaches a collection.
func (s *CacheFolderStore) RecordCleanup(ctx context.Context, id primitive.ObjectID, collectionID primitive.ObjectID) error {
	start := time.Now()
	var err error
	defer func() { recordOp("cache_folders.record_cleanup", start, err) }()

	update := bson.M{
		"$set": bson.M{"lastCleanupAt": time.Now().UTC()},
	}
	if !collectionID.IsZero() {
		update["$pull"] = bson.M{"cachedCollectionIds": collectionID}
	}

	_, err = s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return wrapDoc("record_cleanup", err)
	}
	return nil
}

// ScheduledJobStore accesses the scheduled_jobs collection.
type ScheduledJobStore struct {
	coll *mongo.Collection
}

// ListEnabled returns every enabled schedule.
func (s *ScheduledJobStore) ListEnabled(ctx context.Context) ([]models.ScheduledJob, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("scheduled_jobs.list_enabled", start, err) }()

	cursor, err := s.coll.Find(ctx, bson.M{"isEnabled": true})
	if err != nil {
		return nil, wrapDoc("list_enabled", err)
	}
	defer cursor.Close(ctx)

	var out []models.ScheduledJob
	if err = cursor.All(ctx, &out); err != nil {
		return nil, wrapDoc("list_enabled", err)
	}
	return out, nil
}

// GetByID fetches one schedule.
func (s *ScheduledJobStore) GetByID(ctx context.Context, id primitive.ObjectID) (*models.ScheduledJob, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("scheduled_jobs.get_by_id", start, err) }()

	var job models.ScheduledJob
	err = s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		return nil, wrapDoc("scheduled_jobs.get_by_id", err)
	}
	return &job, nil
}

// Create stores a new schedule.
func (s *ScheduledJobStore) Create(ctx context.Context, job *models.ScheduledJob) (primitive.ObjectID, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("scheduled_jobs.create", start, err) }()

	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	res, err := s.coll.InsertOne(ctx, job)
	if err != nil {
		return primitive.NilObjectID, wrapDoc("scheduled_jobs.create", err)
	}
	id, _ := res.InsertedID.(primitive.ObjectID)
	job.ID = id
	return id, nil
}

// MarkRun records that a schedule fired and when it fires next.
func (s *ScheduledJobStore) MarkRun(ctx context.Context, id primitive.ObjectID, ranAt, nextAt time.Time) error {
	start := time.Now()
	var err error
	defer func() { recordOp("scheduled_jobs.mark_run", start, err) }()

	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"lastRunAt": ranAt,
			"nextRunAt": nextAt,
			"updatedAt": time.Now().UTC(),
		}},
	)
	if err != nil {
		return wrapDoc("mark_run", err)
	}
	return nil
}
