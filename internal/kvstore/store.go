// Package kvstore wraps the Redis client used for the collection index.
//
// All index reads and writes go through [Store], which translates driver
// errors into the application error taxonomy and records per-operation
// metrics. A miss (redis.Nil) is reported as a not-found error; everything
// else coming back from the server is treated as a transient store failure.
package kvstore

import (
	"context"
	"errors"
	"time"

	"collection-viewer/internal/errs"
	"collection-viewer/internal/logging"
	"collection-viewer/internal/metrics"

	"github.com/redis/go-redis/v9"
)

// Store is the application-facing Redis adapter.
type Store struct {
	client *redis.Client
}

// NewStore connects a Store to the given Redis instance. The connection is
// lazy; use Ping or WaitReady to verify reachability.
func NewStore(addr, password string, db int) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Store{client: client}
}

// NewStoreFromClient wraps an existing client. Used by tests to point the
// store at an in-process server.
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.client.Ping(ctx).Err()
	recordOp("ping", start, err)
	return s.wrap("ping", err)
}

// WaitReady pings the server until it responds or the timeout elapses.
// Rebuilds call this before touching the index so a short Redis restart
// does not turn into a half-cleared keyspace.
func (s *Store) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error

	for time.Now().Before(deadline) {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.client.Ping(pingCtx).Err()
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err
		logging.Debug("Index store not ready, retrying: %v", err)

		select {
		case <-ctx.Done():
			return errs.TransientStore(ctx.Err(), "index store wait canceled")
		case <-time.After(500 * time.Millisecond):
		}
	}

	return errs.TransientStore(lastErr, "index store not ready after %v", timeout)
}

// Get returns the string value at key. A missing key yields a not-found error.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()
	val, err := s.client.Get(ctx, key).Result()
	recordOp("get", start, err)
	if err != nil {
		return "", s.wrap("get", err)
	}
	return val, nil
}

// GetBytes returns the raw bytes at key, for binary payloads such as
// cached thumbnails. A missing key yields a not-found error.
func (s *Store) GetBytes(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	val, err := s.client.Get(ctx, key).Bytes()
	recordOp("get", start, err)
	if err != nil {
		return nil, s.wrap("get", err)
	}
	return val, nil
}

// Set stores a string value. A zero ttl means no expiration.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()
	err := s.client.Set(ctx, key, value, ttl).Err()
	recordOp("set", start, err)
	return s.wrap("set", err)
}

// MGet returns the values for keys in order, with nil entries for misses.
func (s *Store) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	start := time.Now()
	vals, err := s.client.MGet(ctx, keys...).Result()
	recordOp("mget", start, err)
	if err != nil {
		return nil, s.wrap("mget", err)
	}

	out := make([]*string, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok {
			out[i] = &str
		}
	}
	return out, nil
}

// Del removes keys. Removing a missing key is not an error.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	start := time.Now()
	err := s.client.Del(ctx, keys...).Err()
	recordOp("del", start, err)
	return s.wrap("del", err)
}

// TTL returns the remaining lifetime of a key. Keys without an expiration
// report a negative duration, matching the server behavior.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	start := time.Now()
	ttl, err := s.client.TTL(ctx, key).Result()
	recordOp("ttl", start, err)
	if err != nil {
		return 0, s.wrap("ttl", err)
	}
	return ttl, nil
}

// ZAdd inserts or updates a member with the given score.
func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	start := time.Now()
	err := s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
	recordOp("zadd", start, err)
	return s.wrap("zadd", err)
}

// ZRem removes members from a sorted set.
func (s *Store) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}

	start := time.Now()
	err := s.client.ZRem(ctx, key, toAnySlice(members)...).Err()
	recordOp("zrem", start, err)
	return s.wrap("zrem", err)
}

// ZRank returns the zero-based rank of member ordered by ascending score.
// A missing member yields a not-found error.
func (s *Store) ZRank(ctx context.Context, key, member string) (int64, error) {
	start := time.Now()
	rank, err := s.client.ZRank(ctx, key, member).Result()
	recordOp("zrank", start, err)
	if err != nil {
		return 0, s.wrap("zrank", err)
	}
	return rank, nil
}

// ZCard returns the number of members in a sorted set.
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	n, err := s.client.ZCard(ctx, key).Result()
	recordOp("zcard", start, err)
	if err != nil {
		return 0, s.wrap("zcard", err)
	}
	return n, nil
}

// ZRange returns members by rank range, inclusive on both ends. Negative
// indexes count from the end, so ZRange(key, 0, -1) returns everything.
func (s *Store) ZRange(ctx context.Context, key string, startIdx, stopIdx int64) ([]string, error) {
	start := time.Now()
	members, err := s.client.ZRange(ctx, key, startIdx, stopIdx).Result()
	recordOp("zrange", start, err)
	if err != nil {
		return nil, s.wrap("zrange", err)
	}
	return members, nil
}

// LPushTrim prepends a value to a list and trims the list to maxLen entries.
func (s *Store) LPushTrim(ctx context.Context, key, value string, maxLen int64) error {
	start := time.Now()
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, value)
	pipe.LTrim(ctx, key, 0, maxLen-1)
	_, err := pipe.Exec(ctx)
	recordOp("lpush", start, err)
	return s.wrap("lpush", err)
}

// LRange returns list entries by index range, inclusive on both ends.
func (s *Store) LRange(ctx context.Context, key string, startIdx, stopIdx int64) ([]string, error) {
	start := time.Now()
	vals, err := s.client.LRange(ctx, key, startIdx, stopIdx).Result()
	recordOp("lrange", start, err)
	if err != nil {
		return nil, s.wrap("lrange", err)
	}
	return vals, nil
}

// ScanKeys returns all keys matching pattern. This walks the keyspace with
// SCAN rather than KEYS so it stays safe on a loaded server.
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	start := time.Now()
	var keys []string

	iter := s.client.Scan(ctx, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	err := iter.Err()
	recordOp("scan", start, err)
	if err != nil {
		return nil, s.wrap("scan", err)
	}
	return keys, nil
}

// DeleteByPattern removes all keys matching pattern in chunks and returns
// the number of keys removed.
func (s *Store) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := s.ScanKeys(ctx, pattern)
	if err != nil {
		return 0, err
	}

	var removed int64
	const chunk = 500
	for i := 0; i < len(keys); i += chunk {
		end := i + chunk
		if end > len(keys) {
			end = len(keys)
		}

		start := time.Now()
		n, delErr := s.client.Del(ctx, keys[i:end]...).Result()
		recordOp("del", start, delErr)
		if delErr != nil {
			return removed, s.wrap("del", delErr)
		}
		removed += n
	}

	if removed > 0 {
		logging.Debug("Removed %d keys matching %s", removed, pattern)
	}
	return removed, nil
}

// DBSize returns the total number of keys in the current database.
func (s *Store) DBSize(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.client.DBSize(ctx).Result()
	recordOp("dbsize", start, err)
	if err != nil {
		return 0, s.wrap("dbsize", err)
	}
	return n, nil
}

// FlushDB removes every key in the current database.
func (s *Store) FlushDB(ctx context.Context) error {
	start := time.Now()
	err := s.client.FlushDB(ctx).Err()
	recordOp("flush", start, err)
	if err == nil {
		logging.Warn("Index database flushed")
	}
	return s.wrap("flush", err)
}

// Batch queues writes for a single pipelined round trip.
type Batch struct {
	pipe redis.Pipeliner
	ops  int
}

// NewBatch starts an empty pipeline.
func (s *Store) NewBatch() *Batch {
	return &Batch{pipe: s.client.Pipeline()}
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	return b.ops
}

// Set queues a string write. A zero ttl means no expiration.
func (b *Batch) Set(ctx context.Context, key, value string, ttl time.Duration) {
	b.pipe.Set(ctx, key, value, ttl)
	b.ops++
}

// ZAdd queues a sorted set insert.
func (b *Batch) ZAdd(ctx context.Context, key string, score float64, member string) {
	b.pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	b.ops++
}

// ZRem queues a sorted set removal.
func (b *Batch) ZRem(ctx context.Context, key string, members ...string) {
	if len(members) == 0 {
		return
	}
	b.pipe.ZRem(ctx, key, toAnySlice(members)...)
	b.ops++
}

// Del queues a key removal.
func (b *Batch) Del(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	b.pipe.Del(ctx, keys...)
	b.ops++
}

// LPushTrim queues a list prepend followed by a trim to maxLen entries.
func (b *Batch) LPushTrim(ctx context.Context, key, value string, maxLen int64) {
	b.pipe.LPush(ctx, key, value)
	b.pipe.LTrim(ctx, key, 0, maxLen-1)
	b.ops += 2
}

// Exec sends the queued operations. The first command error is returned.
func (b *Batch) Exec(ctx context.Context) error {
	if b.ops == 0 {
		return nil
	}

	start := time.Now()
	_, err := b.pipe.Exec(ctx)
	recordOp("pipeline", start, err)
	if err != nil && !errors.Is(err, redis.Nil) {
		return errs.TransientStore(err, "kvstore pipeline failed")
	}
	return nil
}

// wrap translates driver errors into the application error taxonomy.
func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return errs.NotFoundf("kvstore %s: key not found", op)
	}
	return errs.TransientStore(err, "kvstore %s failed", op)
}

// recordOp records operation metrics in the same shape for every command.
func recordOp(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil && !errors.Is(err, redis.Nil) {
		status = "error"
	}
	metrics.KVSOpsTotal.WithLabelValues(operation, status).Inc()
	metrics.KVSOpDuration.WithLabelValues(operation).Observe(duration)
}

func toAnySlice(members []string) []interface{} {
	out := make([]interface{}, len(members))
	for i, m := range members {
		out[i] = m
	}
	return out
}
