package httpapi

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"collection-viewer/internal/collectionindex"
	"collection-viewer/internal/credentials"
	"collection-viewer/internal/logging"
	"collection-viewer/internal/models"
)

// authCheckTTL bounds how often enforcement re-counts user accounts.
const authCheckTTL = 30 * time.Second

// CollectionSource is the slice of the collection store the API reads.
type CollectionSource interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Collection, error)
	IncrementViews(ctx context.Context, id primitive.ObjectID) error
}

// JobQueue is the job store surface the API uses.
type JobQueue interface {
	Create(ctx context.Context, job *models.BackgroundJob) (primitive.ObjectID, error)
	ClaimByID(ctx context.Context, id primitive.ObjectID) (*models.BackgroundJob, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.BackgroundJob, error)
	List(ctx context.Context, status models.JobStatus, limit int64) ([]models.BackgroundJob, error)
	Cancel(ctx context.Context, id primitive.ObjectID) error
}

// JobRunner enqueues announced jobs and executes claimed ones.
type JobRunner interface {
	Enqueue(ctx context.Context, job *models.BackgroundJob) (primitive.ObjectID, error)
	Execute(ctx context.Context, job *models.BackgroundJob)
}

// UserSource is the user store surface the auth endpoints use.
type UserSource interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id primitive.ObjectID) error
	CountActive(ctx context.Context) (int64, error)
}

// RefreshTokenSource persists, resolves, and revokes refresh tokens.
type RefreshTokenSource interface {
	Create(ctx context.Context, t *models.RefreshToken) error
	GetByToken(ctx context.Context, token string) (*models.RefreshToken, error)
	Revoke(ctx context.Context, token string) error
}

// HealthFunc reports component reachability for the health endpoints.
type HealthFunc func(ctx context.Context) models.SystemHealth

// Config wires the handler dependencies.
type Config struct {
	Collections CollectionSource
	Queue       JobQueue
	Runner      JobRunner
	Users       UserSource
	Tokens      RefreshTokenSource
	Engine      *collectionindex.Engine
	Issuer      *credentials.TokenIssuer
	Health      HealthFunc
}

// Handlers carries the API endpoint implementations.
type Handlers struct {
	collections CollectionSource
	queue       JobQueue
	runner      JobRunner
	users       UserSource
	tokens      RefreshTokenSource
	engine      *collectionindex.Engine
	issuer      *credentials.TokenIssuer
	health      HealthFunc
	startedAt   time.Time

	authMu        sync.Mutex
	authCheckedAt time.Time
	authEnforced  bool
}

// New builds the handler set.
func New(cfg Config) *Handlers {
	return &Handlers{
		collections: cfg.Collections,
		queue:       cfg.Queue,
		runner:      cfg.Runner,
		users:       cfg.Users,
		tokens:      cfg.Tokens,
		engine:      cfg.Engine,
		issuer:      cfg.Issuer,
		health:      cfg.Health,
		startedAt:   time.Now(),
	}
}

// AuthEnforced reports whether bearer tokens are required. Enforcement
// stays off until the first account exists so a fresh install can be set
// up through the API; the count is re-checked at most every 30 seconds.
// When the user store cannot be reached the last answer stands, defaulting
// to enforced.
func (h *Handlers) AuthEnforced() bool {
	h.authMu.Lock()
	defer h.authMu.Unlock()

	if !h.authCheckedAt.IsZero() && time.Since(h.authCheckedAt) < authCheckTTL {
		return h.authEnforced
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, err := h.users.CountActive(ctx)
	if err != nil {
		logging.Warn("Auth enforcement check failed, keeping previous state: %v", err)
		if h.authCheckedAt.IsZero() {
			h.authEnforced = true
		}
		h.authCheckedAt = time.Now()
		return h.authEnforced
	}

	h.authCheckedAt = time.Now()
	h.authEnforced = count > 0
	return h.authEnforced
}
