package docstore

import (
	"context"
	"fmt"
	"time"

	"collection-viewer/internal/logging"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates every index the application relies on. Creation is
// idempotent; existing indexes with matching definitions are left alone.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	start := time.Now()

	for _, set := range []struct {
		name   string
		models []mongo.IndexModel
	}{
		{collCollections, collectionIndexes()},
		{collUsers, userIndexes()},
		{collLibraries, libraryIndexes()},
		{collCacheFolders, cacheFolderIndexes()},
		{collScheduledJobs, scheduledJobIndexes()},
		{collJobs, backgroundJobIndexes()},
		{collRefreshTokens, refreshTokenIndexes()},
		{collSettings, settingsIndexes()},
	} {
		if _, err := s.db.Collection(set.name).Indexes().CreateMany(ctx, set.models); err != nil {
			return fmt.Errorf("create indexes for %s: %w", set.name, err)
		}
		logging.Debug("Indexes ensured for %s (%d definitions)", set.name, len(set.models))
	}

	logging.Info("Document store indexes ensured in %v", time.Since(start))
	return nil
}

func collectionIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "libraryId", Value: 1}, {Key: "isDeleted", Value: 1}},
		},
		{
			// One live collection per path; soft-deleted rows keep the path
			// available for re-creation.
			Keys:    bson.D{{Key: "path", Value: 1}, {Key: "isDeleted", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "isActive", Value: 1}, {Key: "isDeleted", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "type", Value: 1}, {Key: "isDeleted", Value: 1}},
		},
		{
			Keys: bson.D{
				{Key: "name", Value: "text"},
				{Key: "metadata.tags", Value: "text"},
				{Key: "searchIndex.keywords", Value: "text"},
				{Key: "description", Value: "text"},
			},
			Options: options.Index().
				SetName("collection_text_search").
				SetWeights(bson.D{
					{Key: "name", Value: 10},
					{Key: "metadata.tags", Value: 5},
					{Key: "searchIndex.keywords", Value: 3},
					{Key: "description", Value: 1},
				}),
		},
		{
			Keys: bson.D{{Key: "createdAt", Value: -1}, {Key: "isDeleted", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "updatedAt", Value: -1}, {Key: "isDeleted", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "images.relativePath", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "cacheImages.cachePath", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}
}

func userIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "isActive", Value: 1}, {Key: "isDeleted", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "role", Value: 1}, {Key: "isActive", Value: 1}},
		},
	}
}

func libraryIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "isDeleted", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "path", Value: 1}, {Key: "isDeleted", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "isActive", Value: 1}, {Key: "isDeleted", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "isPublic", Value: 1}, {Key: "isActive", Value: 1}, {Key: "isDeleted", Value: 1}},
		},
	}
}

func cacheFolderIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "path", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "isActive", Value: 1}, {Key: "priority", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "cachedCollectionIds", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}
}

func scheduledJobIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "jobType", Value: 1}, {Key: "isEnabled", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "libraryId", Value: 1}, {Key: "isEnabled", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "nextRunAt", Value: 1}, {Key: "isEnabled", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "hangfireJobId", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}
}

func backgroundJobIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "jobType", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "createdAt", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "startedAt", Value: -1}},
			Options: options.Index().SetSparse(true),
		},
	}
}

func refreshTokenIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "expiresAt", Value: 1}},
		},
		{
			// Server-side cleanup of expired tokens.
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
}

func settingsIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "settingKey", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "category", Value: 1}},
		},
	}
}
