package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HatiCode/rackguard/pkg/actions"
)

const (
	recordKeyPrefix = "rackguard:action:"
	entityListKey   = "rackguard:actions:"
	allListKey      = "rackguard:actions"

	// maxListLen bounds the per-entity and global id lists.
	maxListLen = 5000
)

// RedisStore implements ActionStore on Redis. Each record is stored as a JSON
// value under its own key with TTL, and per-entity plus global lists of ids
// preserve append order for List.
type RedisStore struct {
	mu     sync.Mutex
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed action record store.
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string for no auth)
//   - db: Redis database number
//   - ttl: record expiration (0 uses a default of 24h)
//
// Returns an error if the connection to Redis fails.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

// Append implements ActionStore.
func (r *RedisStore) Append(ctx context.Context, rec actions.Record) error {
	if rec.ID == "" {
		return errors.New("record id required")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, recordKeyPrefix+rec.ID, data, r.ttl)
	pipe.LPush(ctx, allListKey, rec.ID)
	pipe.LTrim(ctx, allListKey, 0, maxListLen-1)
	if rec.Entity != "" {
		key := entityListKey + rec.Entity
		pipe.LPush(ctx, key, rec.ID)
		pipe.LTrim(ctx, key, 0, maxListLen-1)
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append record to redis: %w", err)
	}
	return nil
}

// List implements ActionStore. Ids whose record key has expired are skipped.
func (r *RedisStore) List(ctx context.Context, entity string, limit int) ([]actions.Record, error) {
	if limit <= 0 || limit > maxListLen {
		limit = maxListLen
	}

	key := allListKey
	if entity != "" {
		key = entityListKey + entity
	}

	ids, err := r.client.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list record ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKeyPrefix + id
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}

	out := make([]actions.Record, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // expired
		}
		var rec actions.Record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Get implements ActionStore.
func (r *RedisStore) Get(ctx context.Context, id string) (actions.Record, bool, error) {
	data, err := r.client.Get(ctx, recordKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return actions.Record{}, false, nil
		}
		return actions.Record{}, false, fmt.Errorf("failed to get record: %w", err)
	}
	var rec actions.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return actions.Record{}, false, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, true, nil
}

// AttachOutcome implements ActionStore.
func (r *RedisStore) AttachOutcome(ctx context.Context, id string, realized map[string]float64, rolledBack bool) error {
	rec, found, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("record %q not found", id)
	}

	rec.Realized = realized
	rec.RolledBack = rolledBack

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := r.client.Set(ctx, recordKeyPrefix+id, data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	return nil
}

// Ping checks the Redis connection health.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
// It is safe to call multiple times (idempotent).
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if err != nil && err.Error() == "redis: client is closed" {
		return nil
	}
	return err
}
