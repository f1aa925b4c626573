// Package docstore wraps the MongoDB driver behind typed accessors for each
// collection the application owns.
//
// The document store is the system of record: collections, users, libraries,
// background jobs, scheduled jobs, refresh tokens, cache folders, and system
// settings all live here. The Redis index is derived state and can always be
// rebuilt from these documents.
package docstore

import (
	"context"
	"errors"
	"time"

	"collection-viewer/internal/errs"
	"collection-viewer/internal/logging"
	"collection-viewer/internal/metrics"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names
const (
	collCollections   = "collections"
	collUsers         = "users"
	collLibraries     = "libraries"
	collCacheFolders  = "cache_folders"
	collScheduledJobs = "scheduled_jobs"
	collJobs          = "background_jobs"
	collRefreshTokens = "refresh_tokens"
	collSettings      = "system_settings"
)

// Store owns the MongoDB client and exposes per-collection accessors.
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	Collections   *CollectionStore
	Jobs          *JobStore
	Users         *UserStore
	RefreshTokens *RefreshTokenStore
	Libraries     *LibraryStore
	CacheFolders  *CacheFolderStore
	ScheduledJobs *ScheduledJobStore
	Settings      *SettingsStore
}

// Connect establishes a client, verifies the server is reachable, and wires
// the per-collection accessors.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errs.TransientStore(err, "document store connect failed")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errs.TransientStore(err, "document store unreachable")
	}

	db := client.Database(dbName)
	s := &Store{client: client, db: db}
	s.Collections = &CollectionStore{coll: db.Collection(collCollections)}
	s.Jobs = &JobStore{coll: db.Collection(collJobs)}
	s.Users = &UserStore{coll: db.Collection(collUsers)}
	s.RefreshTokens = &RefreshTokenStore{coll: db.Collection(collRefreshTokens)}
	s.Libraries = &LibraryStore{coll: db.Collection(collLibraries)}
	s.CacheFolders = &CacheFolderStore{coll: db.Collection(collCacheFolders)}
	s.ScheduledJobs = &ScheduledJobStore{coll: db.Collection(collScheduledJobs)}
	s.Settings = &SettingsStore{coll: db.Collection(collSettings)}

	logging.Info("Document store connected: %s", dbName)
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.client.Ping(ctx, readpref.Primary())
	recordOp("ping", start, err)
	if err != nil {
		return errs.TransientStore(err, "document store ping failed")
	}
	return nil
}

// wrapDoc translates driver errors into the application error taxonomy.
func wrapDoc(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errs.NotFoundf("docstore %s: document not found", op)
	}
	if mongo.IsDuplicateKeyError(err) {
		return errs.Validationf("docstore %s: duplicate key", op)
	}
	return errs.TransientStore(err, "docstore %s failed", op)
}

// recordOp records operation metrics in the same shape for every query.
func recordOp(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		status = "error"
	}
	metrics.DocOpsTotal.WithLabelValues(operation, status).Inc()
	metrics.DocOpDuration.WithLabelValues(operation).Observe(duration)
}
