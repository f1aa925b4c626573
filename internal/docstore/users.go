package docstore

import (
	"context"
	"strings"
	"time"

	"collection-viewer/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UserStore accesses the users collection.
type UserStore struct {
	coll *mongo.Collection
}

// GetByUsername fetches a live user by username. Usernames are stored
// lowercase.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("users.get_by_username", start, err) }()

	var u models.User
	err = s.coll.FindOne(ctx, bson.M{
		"username":  strings.ToLower(username),
		"isDeleted": false,
	}).Decode(&u)
	if err != nil {
		return nil, wrapDoc("get_by_username", err)
	}
	return &u, nil
}

// GetByEmail fetches a live user by email address.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("users.get_by_email", start, err) }()

	var u models.User
	err = s.coll.FindOne(ctx, bson.M{
		"email":     strings.ToLower(email),
		"isDeleted": false,
	}).Decode(&u)
	if err != nil {
		return nil, wrapDoc("get_by_email", err)
	}
	return &u, nil
}

// GetByID fetches one user.
func (s *UserStore) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("users.get_by_id", start, err) }()

	var u models.User
	err = s.coll.FindOne(ctx, bson.M{"_id": id, "isDeleted": false}).Decode(&u)
	if err != nil {
		return nil, wrapDoc("users.get_by_id", err)
	}
	return &u, nil
}

// Create stores a new user. Username and email are lowercased before insert
// so the unique indexes compare apples to apples.
func (s *UserStore) Create(ctx context.Context, u *models.User) (primitive.ObjectID, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("users.create", start, err) }()

	now := time.Now().UTC()
	u.Username = strings.ToLower(u.Username)
	u.Email = strings.ToLower(u.Email)
	u.CreatedAt = now
	u.UpdatedAt = now
	if u.Role == "" {
		u.Role = models.RoleUser
	}

	res, err := s.coll.InsertOne(ctx, u)
	if err != nil {
		return primitive.NilObjectID, wrapDoc("users.create", err)
	}
	id, _ := res.InsertedID.(primitive.ObjectID)
	u.ID = id
	return id, nil
}

// SetPassword replaces the stored hash.
func (s *UserStore) SetPassword(ctx context.Context, id primitive.ObjectID, passwordHash string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("users.set_password", start, err) }()

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "isDeleted": false},
		bson.M{"$set": bson.M{
			"passwordHash": passwordHash,
			"updatedAt":    time.Now().UTC(),
		}},
	)
	if err != nil {
		return wrapDoc("set_password", err)
	}
	if res.MatchedCount == 0 {
		err = mongo.ErrNoDocuments
		return wrapDoc("set_password", err)
	}
	return nil
}

// UpdateLastLogin stamps a successful login.
func (s *UserStore) UpdateLastLogin(ctx context.Context, id primitive.ObjectID) error {
	start := time.Now()
	var err error
	defer func() { recordOp("users.update_last_login", start, err) }()

	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"lastLoginAt": time.Now().UTC()}},
	)
	if err != nil {
		return wrapDoc("update_last_login", err)
	}
	return nil
}

// CountActive counts live, enabled accounts.
func (s *UserStore) CountActive(ctx context.Context) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("users.count_active", start, err) }()

	n, err := s.coll.CountDocuments(ctx, bson.M{"isActive": true, "isDeleted": false})
	if err != nil {
		return 0, wrapDoc("users.count_active", err)
	}
	return n, nil
}

// RefreshTokenStore accesses the refresh_tokens collection.
type RefreshTokenStore struct {
	coll *mongo.Collection
}

// Create stores a freshly issued refresh token.
func (s *RefreshTokenStore) Create(ctx context.Context, t *models.RefreshToken) error {
	start := time.Now()
	var err error
	defer func() { recordOp("refresh_tokens.create", start, err) }()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err = s.coll.InsertOne(ctx, t)
	if err != nil {
		return wrapDoc("refresh_tokens.create", err)
	}
	return nil
}

// GetByToken looks a token up by its opaque value.
func (s *RefreshTokenStore) GetByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("refresh_tokens.get_by_token", start, err) }()

	var t models.RefreshToken
	err = s.coll.FindOne(ctx, bson.M{"token": token}).Decode(&t)
	if err != nil {
		return nil, wrapDoc("get_by_token", err)
	}
	return &t, nil
}

// Revoke marks one token unusable.
func (s *RefreshTokenStore) Revoke(ctx context.Context, token string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("refresh_tokens.revoke", start, err) }()

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"token": token, "revokedAt": nil},
		bson.M{"$set": bson.M{"revokedAt": time.Now().UTC()}},
	)
	if err != nil {
		return wrapDoc("revoke", err)
	}
	if res.MatchedCount == 0 {
		err = mongo.ErrNoDocuments
		return wrapDoc("revoke", err)
	}
	return nil
}

// RevokeAllForUser revokes every outstanding token a user holds. Used on
// password change and on explicit logout-everywhere.
func (s *RefreshTokenStore) RevokeAllForUser(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("refresh_tokens.revoke_all", start, err) }()

	res, err := s.coll.UpdateMany(ctx,
		bson.M{"userId": userID, "revokedAt": nil},
		bson.M{"$set": bson.M{"revokedAt": time.Now().UTC()}},
	)
	if err != nil {
		return 0, wrapDoc("revoke_all", err)
	}
	return res.ModifiedCount, nil
}

// SettingsStore accesses the system_settings collection.
type SettingsStore struct {
	coll *mongo.Collection
}

// Get fetches one setting by key.
func (s *SettingsStore) Get(ctx context.Context, key string) (*models.SystemSetting, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("settings.get", start, err) }()

	var setting models.SystemSetting
	err = s.coll.FindOne(ctx, bson.M{"settingKey": key}).Decode(&setting)
	if err != nil {
		return nil, wrapDoc("settings.get", err)
	}
	return &setting, nil
}

// Upsert writes a setting, creating it when absent.
func (s *SettingsStore) Upsert(ctx context.Context, key, value, category string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("settings.upsert", start, err) }()

	_, err = s.coll.UpdateOne(ctx,
		bson.M{"settingKey": key},
		bson.M{"$set": bson.M{
			"value":     value,
			"category":  category,
			"updatedAt": time.Now().UTC(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return wrapDoc("settings.upsert", err)
	}
	return nil
}

// GetAll returns every setting, keyed for quick lookup.
func (s *SettingsStore) GetAll(ctx context.Context) (map[string]models.SystemSetting, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("settings.get_all", start, err) }()

	cursor, err := s.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, wrapDoc("settings.get_all", err)
	}
	defer cursor.Close(ctx)

	var rows []models.SystemSetting
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, wrapDoc("settings.get_all", err)
	}
	out := make(map[string]models.SystemSetting, len(rows))
	for _, row := range rows {
		out[row.SettingKey] = row
	}
	return out, nil
}
