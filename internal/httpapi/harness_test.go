package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"collection-viewer/internal/collectionindex"
	"collection-viewer/internal/credentials"
	"collection-viewer/internal/errs"
	"collection-viewer/internal/kvstore"
	"collection-viewer/internal/models"
	"collection-viewer/internal/thumbnail"
)

// oid derives a deterministic object id from a small integer, so fixture
// ids sort in numeric order.
func oid(n int) primitive.ObjectID {
	id, err := primitive.ObjectIDFromHex(fmt.Sprintf("%024x", n))
	if err != nil {
		panic(err)
	}
	return id
}

// fakeCollections stands in for the collection store. GetByID is a raw
// lookup that still returns soft-deleted documents, matching the real
// store; the index-facing methods filter them out.
type fakeCollections struct {
	mu     sync.Mutex
	docs   map[string]models.Collection
	views  map[string]int
	getErr error
}

func newFakeCollections() *fakeCollections {
	return &fakeCollections{
		docs:  make(map[string]models.Collection),
		views: make(map[string]int),
	}
}

func (f *fakeCollections) put(c *models.Collection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[c.ID.Hex()] = *c
}

func (f *fakeCollections) viewCount(id primitive.ObjectID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.views[id.Hex()]
}

func (f *fakeCollections) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.docs[id.Hex()]
	if !ok {
		return nil, errs.NotFoundf("collection %s not found", id.Hex())
	}
	return &c, nil
}

func (f *fakeCollections) IncrementViews(ctx context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views[id.Hex()]++
	return nil
}

func (f *fakeCollections) CountActive(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, c := range f.docs {
		if !c.IsDeleted {
			n++
		}
	}
	return n, nil
}

func (f *fakeCollections) ListActiveAfter(ctx context.Context, after primitive.ObjectID, limit int64) ([]models.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Collection, 0)
	for _, c := range f.docs {
		if c.IsDeleted || c.ID.Hex() <= after.Hex() {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeCollections) SearchActive(ctx context.Context, term string, limit int64) ([]models.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	needle := strings.ToLower(term)
	out := make([]models.Collection, 0)
	for _, c := range f.docs {
		if c.IsDeleted {
			continue
		}
		if strings.Contains(strings.ToLower(c.Name), needle) ||
			strings.Contains(strings.ToLower(c.Path), needle) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeQueue is an in-memory job store with the same lifecycle guards as
// the real one: claim only moves pending jobs, cancel only pending ones.
type fakeQueue struct {
	mu        sync.Mutex
	jobs      map[string]models.BackgroundJob
	seq       int
	createErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: make(map[string]models.BackgroundJob), seq: 1000}
}

func (f *fakeQueue) get(id primitive.ObjectID) (models.BackgroundJob, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id.Hex()]
	return j, ok
}

func (f *fakeQueue) Create(ctx context.Context, job *models.BackgroundJob) (primitive.ObjectID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return primitive.NilObjectID, f.createErr
	}
	f.seq++
	job.ID = oid(f.seq)
	job.Status = models.JobPending
	job.CreatedAt = time.Now().UTC()
	f.jobs[job.ID.Hex()] = *job
	return job.ID, nil
}

func (f *fakeQueue) ClaimByID(ctx context.Context, id primitive.ObjectID) (*models.BackgroundJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id.Hex()]
	if !ok || j.Status != models.JobPending {
		return nil, errs.NotFoundf("job %s not claimable", id.Hex())
	}
	now := time.Now().UTC()
	j.Status = models.JobRunning
	j.StartedAt = &now
	f.jobs[id.Hex()] = j
	return &j, nil
}

func (f *fakeQueue) GetByID(ctx context.Context, id primitive.ObjectID) (*models.BackgroundJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id.Hex()]
	if !ok {
		return nil, errs.NotFoundf("job %s not found", id.Hex())
	}
	return &j, nil
}

func (f *fakeQueue) List(ctx context.Context, status models.JobStatus, limit int64) ([]models.BackgroundJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.BackgroundJob, 0)
	for _, j := range f.jobs {
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeQueue) Cancel(ctx context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id.Hex()]
	if !ok || j.Status != models.JobPending {
		return errs.NotFoundf("job %s not cancellable", id.Hex())
	}
	now := time.Now().UTC()
	j.Status = models.JobCancelled
	j.CompletedAt = &now
	f.jobs[id.Hex()] = j
	return nil
}

// fakeRunner persists through the queue like the real runner, records the
// announcement, and signals executions on a channel.
type fakeRunner struct {
	mu       sync.Mutex
	queue    *fakeQueue
	enqueued []models.BackgroundJob
	executed chan models.BackgroundJob
}

func newFakeRunner(queue *fakeQueue) *fakeRunner {
	return &fakeRunner{queue: queue, executed: make(chan models.BackgroundJob, 4)}
}

func (f *fakeRunner) Enqueue(ctx context.Context, job *models.BackgroundJob) (primitive.ObjectID, error) {
	id, err := f.queue.Create(ctx, job)
	if err != nil {
		return primitive.NilObjectID, err
	}
	f.mu.Lock()
	f.enqueued = append(f.enqueued, *job)
	f.mu.Unlock()
	return id, nil
}

func (f *fakeRunner) Execute(ctx context.Context, job *models.BackgroundJob) {
	f.executed <- *job
}

func (f *fakeRunner) lastEnqueued(t *testing.T) models.BackgroundJob {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.enqueued) == 0 {
		t.Fatal("Expected a job to be enqueued")
	}
	return f.enqueued[len(f.enqueued)-1]
}

// fakeUsers mirrors the user store's lookup filters: usernames are
// case-insensitive and soft-deleted accounts are invisible.
type fakeUsers struct {
	mu       sync.Mutex
	users    map[string]models.User
	countErr error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[string]models.User)}
}

func (f *fakeUsers) put(u *models.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID.Hex()] = *u
}

func (f *fakeUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	needle := strings.ToLower(username)
	for _, u := range f.users {
		if !u.IsDeleted && strings.ToLower(u.Username) == needle {
			return &u, nil
		}
	}
	return nil, errs.NotFoundf("user %s not found", username)
}

func (f *fakeUsers) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id.Hex()]
	if !ok || u.IsDeleted {
		return nil, errs.NotFoundf("user %s not found", id.Hex())
	}
	return &u, nil
}

func (f *fakeUsers) UpdateLastLogin(ctx context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id.Hex()]
	if !ok {
		return errs.NotFoundf("user %s not found", id.Hex())
	}
	now := time.Now().UTC()
	u.LastLoginAt = &now
	f.users[id.Hex()] = u
	return nil
}

func (f *fakeUsers) CountActive(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	var n int64
	for _, u := range f.users {
		if u.IsActive && !u.IsDeleted {
			n++
		}
	}
	return n, nil
}

// fakeTokens stores refresh tokens keyed by their opaque value. Revoking
// an unknown or already-revoked token reports not found, like the store.
type fakeTokens struct {
	mu     sync.Mutex
	tokens map[string]models.RefreshToken
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{tokens: make(map[string]models.RefreshToken)}
}

func (f *fakeTokens) put(t *models.RefreshToken) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[t.Token] = *t
}

func (f *fakeTokens) Create(ctx context.Context, t *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[t.Token] = *t
	return nil
}

func (f *fakeTokens) GetByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok {
		return nil, errs.NotFoundf("refresh token not found")
	}
	return &t, nil
}

func (f *fakeTokens) Revoke(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok || t.RevokedAt != nil {
		return errs.NotFoundf("refresh token not found")
	}
	now := time.Now().UTC()
	t.RevokedAt = &now
	f.tokens[token] = t
	return nil
}

func (f *fakeTokens) revoked(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	return ok && t.RevokedAt != nil
}

// fixtures bundles the fakes behind a handler set built over a real index
// engine on miniredis.
type fixtures struct {
	collections *fakeCollections
	queue       *fakeQueue
	runner      *fakeRunner
	users       *fakeUsers
	tokens      *fakeTokens
	engine      *collectionindex.Engine
	issuer      *credentials.TokenIssuer

	healthMu sync.Mutex
	health   models.SystemHealth
}

func (fx *fixtures) setHealth(h models.SystemHealth) {
	fx.healthMu.Lock()
	defer fx.healthMu.Unlock()
	fx.health = h
}

func (fx *fixtures) probe(ctx context.Context) models.SystemHealth {
	fx.healthMu.Lock()
	defer fx.healthMu.Unlock()
	return fx.health
}

func newTestHandlers(t *testing.T) (*Handlers, *fixtures) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kvstore.NewStoreFromClient(client)
	t.Cleanup(func() { store.Close() })

	collections := newFakeCollections()
	encoder := thumbnail.NewEncoder(thumbnail.DefaultPolicy(), nil)
	engine := collectionindex.NewEngine(store, collections, encoder)

	queue := newFakeQueue()
	fx := &fixtures{
		collections: collections,
		queue:       queue,
		runner:      newFakeRunner(queue),
		users:       newFakeUsers(),
		tokens:      newFakeTokens(),
		engine:      engine,
		issuer: credentials.NewTokenIssuer(
			[]byte("0123456789abcdef0123456789abcdef"),
			"collection-viewer", "collection-viewer-api"),
		health: models.SystemHealth{
			IndexStoreConnected: true,
			DocStoreConnected:   true,
			BrokerConnected:     true,
		},
	}

	h := New(Config{
		Collections: fx.collections,
		Queue:       fx.queue,
		Runner:      fx.runner,
		Users:       fx.users,
		Tokens:      fx.tokens,
		Engine:      fx.engine,
		Issuer:      fx.issuer,
		Health:      fx.probe,
	})
	return h, fx
}

func makeCollection(n int, name string, updated time.Time) *models.Collection {
	return &models.Collection{
		ID:        oid(n),
		Name:      name,
		Path:      "/library/" + name,
		Type:      models.TypeFolder,
		IsActive:  true,
		CreatedAt: updated.Add(-time.Hour),
		UpdatedAt: updated,
	}
}

// seedIndexed registers collections in the store fake and indexes them.
func seedIndexed(t *testing.T, fx *fixtures, cs ...*models.Collection) {
	t.Helper()
	ctx := context.Background()
	for _, c := range cs {
		fx.collections.put(c)
		if err := fx.engine.AddOrUpdate(ctx, c); err != nil {
			t.Fatalf("AddOrUpdate(%s) failed: %v", c.ID.Hex(), err)
		}
	}
}

func makeUser(n int, username, password string) *models.User {
	hash, err := credentials.HashPassword(password)
	if err != nil {
		panic(err)
	}
	now := time.Now().UTC()
	return &models.User{
		ID:           oid(n),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Role:         models.RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// serve runs one request through a single handler func.
func serve(handler http.HandlerFunc, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	handler(w, r)
	return w
}

// decodeJSON unpacks a response body, failing the test on malformed JSON.
func decodeJSON(t *testing.T, body io.Reader, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
}

// jsonBody builds a request body from a value.
func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal request body: %v", err)
	}
	return strings.NewReader(string(data))
}

// withID attaches the {id} route variable to a request without running
// the router.
func withID(r *http.Request, id string) *http.Request {
	return mux.SetURLVars(r, map[string]string{"id": id})
}
