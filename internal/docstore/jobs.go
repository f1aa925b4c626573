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

// JobStore accesses the background_jobs collection.
type JobStore struct {
	coll *mongo.Collection
}

// Create enqueues a new pending job and returns its id.
func (s *JobStore) Create(ctx context.Context, job *models.BackgroundJob) (primitive.ObjectID, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("jobs.create", start, err) }()

	job.Status = models.JobPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	res, err := s.coll.InsertOne(ctx, job)
	if err != nil {
		return primitive.NilObjectID, wrapDoc("jobs.create", err)
	}
	id, _ := res.InsertedID.(primitive.ObjectID)
	job.ID = id
	return id, nil
}

// ClaimPending atomically flips the oldest pending job to running and returns
// it. The single FindOneAndUpdate is what keeps the poller and the message
// consumer from both executing the same job. Returns a not-found error when
// the queue is empty.
func (s *JobStore) ClaimPending(ctx context.Context) (*models.BackgroundJob, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("jobs.claim_pending", start, err) }()

	now := time.Now().UTC()
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetReturnDocument(options.After)

	var job models.BackgroundJob
	err = s.coll.FindOneAndUpdate(ctx,
		bson.M{"status": models.JobPending},
		bson.M{"$set": bson.M{
			"status":    models.JobRunning,
			"startedAt": now,
		}},
		opts,
	).Decode(&job)
	if err != nil {
		return nil, wrapDoc("claim_pending", err)
	}
	return &job, nil
}

// ClaimByID atomically claims one specific job if it is still pending. A job
// already claimed elsewhere comes back as a not-found error.
func (s *JobStore) ClaimByID(ctx context.Context, id primitive.ObjectID) (*models.BackgroundJob, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("jobs.claim_by_id", start, err) }()

	now := time.Now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var job models.BackgroundJob
	err = s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": models.JobPending},
		bson.M{"$set": bson.M{
			"status":    models.JobRunning,
			"startedAt": now,
		}},
		opts,
	).Decode(&job)
	if err != nil {
		return nil, wrapDoc("claim_by_id", err)
	}
	return &job, nil
}

// CountPending returns the number of unclaimed jobs.
func (s *JobStore) CountPending(ctx context.Context) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("jobs.count_pending", start, err) }()

	n, err := s.coll.CountDocuments(ctx, bson.M{"status": models.JobPending})
	if err != nil {
		return 0, wrapDoc("count_pending", err)
	}
	return n, nil
}

// UpdateProgress records progress counters on a running job.
func (s *JobStore) UpdateProgress(ctx context.Context, id primitive.ObjectID, current, total int64) error {
	start := time.Now()
	var err error
	defer func() { recordOp("jobs.update_progress", start, err) }()

	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.JobRunning},
		bson.M{"$set": bson.M{
			"progressCurrent": current,
			"progressTotal":   total,
		}},
	)
	if err != nil {
		return wrapDoc("update_progress", err)
	}
	return nil
}

// Complete marks a job completed with a result message.
func (s *JobStore) Complete(ctx context.Context, id primitive.ObjectID, result string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("jobs.complete", start, err) }()

	err = s.finish(ctx, id, models.JobCompleted, bson.M{"resultMessage": result})
	return err
}

// Fail marks a job failed with an error message.
func (s *JobStore) Fail(ctx context.Context, id primitive.ObjectID, errMsg string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("jobs.fail", start, err) }()

	err = s.finish(ctx, id, models.JobFailed, bson.M{"errorMessage": errMsg})
	return err
}

// Cancel cancels a job that has not started yet. Running jobs cannot be
// cancelled from here; the handler owns them until they finish.
func (s *JobStore) Cancel(ctx context.Context, id primitive.ObjectID) error {
	start := time.Now()
	var err error
	defer func() { recordOp("jobs.cancel", start, err) }()

	now := time.Now().UTC()
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.JobPending},
		bson.M{"$set": bson.M{
			"status":      models.JobCancelled,
			"completedAt": now,
		}},
	)
	if err != nil {
		return wrapDoc("cancel", err)
	}
	if res.MatchedCount == 0 {
		err = mongo.ErrNoDocuments
		return wrapDoc("cancel", err)
	}
	return nil
}

func (s *JobStore) finish(ctx context.Context, id primitive.ObjectID, status models.JobStatus, extra bson.M) error {
	set := bson.M{
		"status":      status,
		"completedAt": time.Now().UTC(),
	}
	for k, v := range extra {
		set[k] = v
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.JobRunning},
		bson.M{"$set": set},
	)
	if err != nil {
		return wrapDoc("finish", err)
	}
	if res.MatchedCount == 0 {
		return wrapDoc("finish", mongo.ErrNoDocuments)
	}
	return nil
}

// GetByID fetches one job.
func (s *JobStore) GetByID(ctx context.Context, id primitive.ObjectID) (*models.BackgroundJob, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("jobs.get_by_id", start, err) }()

	var job models.BackgroundJob
	err = s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		return nil, wrapDoc("jobs.get_by_id", err)
	}
	return &job, nil
}

// List returns jobs newest first, optionally filtered by status.
func (s *JobStore) List(ctx context.Context, status models.JobStatus, limit int64) ([]models.BackgroundJob, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("jobs.list", start, err) }()

	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapDoc("jobs.list", err)
	}
	defer cursor.Close(ctx)

	var out []models.BackgroundJob
	if err = cursor.All(ctx, &out); err != nil {
		return nil, wrapDoc("jobs.list", err)
	}
	return out, nil
}
