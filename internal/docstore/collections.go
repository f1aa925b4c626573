package docstore

import (
	"context"
	"regexp"
	"time"

	"collection-viewer/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionStore accesses the collections collection.
type CollectionStore struct {
	coll *mongo.Collection
}

// GetByID fetches one collection by id, deleted or not.
func (s *CollectionStore) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Collection, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("collections.get_by_id", start, err) }()

	var c models.Collection
	err = s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err != nil {
		return nil, wrapDoc("get_by_id", err)
	}
	return &c, nil
}

// GetByPath fetches the live collection registered at path.
func (s *CollectionStore) GetByPath(ctx context.Context, path string) (*models.Collection, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("collections.get_by_path", start, err) }()

	var c models.Collection
	err = s.coll.FindOne(ctx, bson.M{"path": path, "isDeleted": false}).Decode(&c)
	if err != nil {
		return nil, wrapDoc("get_by_path", err)
	}
	return &c, nil
}

// CountActive counts non-deleted collections.
func (s *CollectionStore) CountActive(ctx context.Context) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("collections.count_active", start, err) }()

	n, err := s.coll.CountDocuments(ctx, activeFilter())
	if err != nil {
		return 0, wrapDoc("count_active", err)
	}
	return n, nil
}

// ListActiveAfter streams non-deleted collections in _id order, returning up
// to limit documents with _id strictly greater than after. Pass a zero
// ObjectID to start from the beginning. This is the batch cursor used by
// index rebuilds: id-ordered pages are stable even while documents mutate.
func (s *CollectionStore) ListActiveAfter(ctx context.Context, after primitive.ObjectID, limit int64) ([]models.Collection, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("collections.list_active_after", start, err) }()

	filter := activeFilter()
	if !after.IsZero() {
		filter["_id"] = bson.M{"$gt": after}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(limit)

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapDoc("list_active_after", err)
	}
	defer cursor.Close(ctx)

	var out []models.Collection
	if err = cursor.All(ctx, &out); err != nil {
		return nil, wrapDoc("list_active_after", err)
	}
	return out, nil
}

// SearchActive finds non-deleted collections whose name or path contains the
// term, case-insensitively. Matches come back in name order.
func (s *CollectionStore) SearchActive(ctx context.Context, term string, limit int64) ([]models.Collection, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("collections.search_active", start, err) }()

	pattern := primitive.Regex{Pattern: regexp.QuoteMeta(term), Options: "i"}
	filter := bson.M{
		"isDeleted": false,
		"$or": []bson.M{
			{"name": pattern},
			{"path": pattern},
		},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "name", Value: 1}}).
		SetLimit(limit)

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapDoc("search_active", err)
	}
	defer cursor.Close(ctx)

	var out []models.Collection
	if err = cursor.All(ctx, &out); err != nil {
		return nil, wrapDoc("search_active", err)
	}
	return out, nil
}

// Insert stores a new collection, stamping timestamps and returning the
// assigned id. A live duplicate path comes back as a validation error from
// the unique (path, isDeleted) index.
func (s *CollectionStore) Insert(ctx context.Context, c *models.Collection) (primitive.ObjectID, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("collections.insert", start, err) }()

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	res, err := s.coll.InsertOne(ctx, c)
	if err != nil {
		return primitive.NilObjectID, wrapDoc("insert", err)
	}
	id, _ := res.InsertedID.(primitive.ObjectID)
	c.ID = id
	return id, nil
}

// Update applies a partial update and bumps updatedAt.
func (s *CollectionStore) Update(ctx context.Context, id primitive.ObjectID, set bson.M) error {
	start := time.Now()
	var err error
	defer func() { recordOp("collections.update", start, err) }()

	if set == nil {
		set = bson.M{}
	}
	set["updatedAt"] = time.Now().UTC()

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return wrapDoc("update", err)
	}
	if res.MatchedCount == 0 {
		err = mongo.ErrNoDocuments
		return wrapDoc("update", err)
	}
	return nil
}

// SoftDelete marks the collection deleted. The document stays behind so the
// path history and view counters survive.
func (s *CollectionStore) SoftDelete(ctx context.Context, id primitive.ObjectID) error {
	start := time.Now()
	var err error
	defer func() { recordOp("collections.soft_delete", start, err) }()

	now := time.Now().UTC()
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "isDeleted": false},
		bson.M{"$set": bson.M{
			"isDeleted": true,
			"isActive":  false,
			"deletedAt": now,
			"updatedAt": now,
		}},
	)
	if err != nil {
		return wrapDoc("soft_delete", err)
	}
	if res.MatchedCount == 0 {
		err = mongo.ErrNoDocuments
		return wrapDoc("soft_delete", err)
	}
	return nil
}

// IncrementViews bumps the view counter and lastViewed without touching
// updatedAt, so a page view never forces a reindex.
func (s *CollectionStore) IncrementViews(ctx context.Context, id primitive.ObjectID) error {
	start := time.Now()
	var err error
	defer func() { recordOp("collections.increment_views", start, err) }()

	now := time.Now().UTC()
	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"statistics.totalViews": 1},
			"$set": bson.M{"statistics.lastViewed": now},
		},
	)
	if err != nil {
		return wrapDoc("increment_views", err)
	}
	return nil
}

// ReplaceScanResults swaps in the image, thumbnail, and cache arrays produced
// by a scan, together with the recomputed statistics, in one write.
func (s *CollectionStore) ReplaceScanResults(ctx context.Context, id primitive.ObjectID, images []models.ImageEntry, thumbs []models.EmbeddedThumbnail, cache []models.CacheImage, stats models.CollectionStatistics) error {
	start := time.Now()
	var err error
	defer func() { recordOp("collections.replace_scan_results", start, err) }()

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"images":                images,
			"thumbnails":            thumbs,
			"cacheImages":           cache,
			"statistics.totalItems": stats.TotalItems,
			"statistics.totalSize":  stats.TotalSize,
			"updatedAt":             time.Now().UTC(),
		}},
	)
	if err != nil {
		return wrapDoc("replace_scan_results", err)
	}
	if res.MatchedCount == 0 {
		err = mongo.ErrNoDocuments
		return wrapDoc("replace_scan_results", err)
	}
	return nil
}

// AppendThumbnails adds generated thumbnail records and bumps updatedAt.
func (s *CollectionStore) AppendThumbnails(ctx context.Context, id primitive.ObjectID, thumbs []models.EmbeddedThumbnail) error {
	start := time.Now()
	var err error
	defer func() { recordOp("collections.append_thumbnails", start, err) }()

	if len(thumbs) == 0 {
		return nil
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$push": bson.M{"thumbnails": bson.M{"$each": thumbs}},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return wrapDoc("append_thumbnails", err)
	}
	if res.MatchedCount == 0 {
		err = mongo.ErrNoDocuments
		return wrapDoc("append_thumbnails", err)
	}
	return nil
}

// SetThumbnails replaces the thumbnail records wholesale and bumps updatedAt.
// The thumbnail job regenerates every record, so a full replace is simpler
// than reconciling per image.
func (s *CollectionStore) SetThumbnails(ctx context.Context, id primitive.ObjectID, thumbs []models.EmbeddedThumbnail) error {
	start := time.Now()
	var err error
	defer func() { recordOp("collections.set_thumbnails", start, err) }()

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"thumbnails": thumbs,
			"updatedAt":  time.Now().UTC(),
		}},
	)
	if err != nil {
		return wrapDoc("set_thumbnails", err)
	}
	if res.MatchedCount == 0 {
		err = mongo.ErrNoDocuments
		return wrapDoc("set_thumbnails", err)
	}
	return nil
}

// SetCacheImages replaces the cache image records and bumps updatedAt.
func (s *CollectionStore) SetCacheImages(ctx context.Context, id primitive.ObjectID, cache []models.CacheImage) error {
	start := time.Now()
	var err error
	defer func() { recordOp("collections.set_cache_images", start, err) }()

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"cacheImages": cache,
			"updatedAt":   time.Now().UTC(),
		}},
	)
	if err != nil {
		return wrapDoc("set_cache_images", err)
	}
	if res.MatchedCount == 0 {
		err = mongo.ErrNoDocuments
		return wrapDoc("set_cache_images", err)
	}
	return nil
}

// activeFilter is the base filter for live documents.
func activeFilter() bson.M {
	return bson.M{"isDeleted": false}
}
