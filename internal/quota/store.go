// Package quota tracks per-user consumption of the expensive model tier
// and decides, before costly work starts, whether a request should run
// at the degraded capability level instead.
//
// Counters live in Redis, keyed per username, with upsert semantics:
// the record is created on first increment. The store applies a
// whole-record TTL independent of the counters — the counters themselves
// are cumulative and are never explicitly reset.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/forgebot/forgebot/internal/config"
	"github.com/go-redis/redis/v8"
)

const (
	flagPayingUser = "is_paying_user"
	flagTrialUser  = "is_trial_user"
)

// CounterStore is the durable aggregation store behind the governor.
// Implementations must provide atomic increments; the governor does no
// in-process locking.
type CounterStore interface {
	// IncrCounters atomically increments each named period counter for
	// the username, creating the record if needed.
	IncrCounters(ctx context.Context, username string, keys ...string) error
	// Counter reads one period counter, returning 0 when absent.
	Counter(ctx context.Context, username, key string) (int64, error)
	// Flags reads the paying/trial markers for the username.
	Flags(ctx context.Context, username string) (paying, trial bool, err error)
	// SetFlag sets or clears a tier marker.
	SetFlag(ctx context.Context, username, flag string, value bool) error
	// Ping checks reachability.
	Ping(ctx context.Context) error
	// Close releases the underlying connection pool.
	Close() error
}

// RedisStore implements CounterStore on a Redis hash per username.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore connects to Redis and verifies reachability before
// returning. Callers treat a connect failure as "store unavailable" and
// fall back to the degraded path.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("quota: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("quota: connect redis: %w", err)
	}
	return &RedisStore{rdb: rdb, ttl: cfg.RecordTTL}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests.
func NewRedisStoreFromClient(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func usageKey(username string) string {
	return "usage:" + username
}

// IncrCounters increments the given period counters in one pipeline and
// refreshes the record-level TTL. HINCRBY upserts, so first use of a
// period key starts at the increment value.
func (s *RedisStore) IncrCounters(ctx context.Context, username string, keys ...string) error {
	key := usageKey(username)
	pipe := s.rdb.TxPipeline()
	for _, k := range keys {
		pipe.HIncrBy(ctx, key, k, 1)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("quota: increment counters for %s: %w", username, err)
	}
	return nil
}

// Counter reads one counter field, defaulting to 0 when the field or
// the whole record is absent.
func (s *RedisStore) Counter(ctx context.Context, username, key string) (int64, error) {
	n, err := s.rdb.HGet(ctx, usageKey(username), key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota: read counter %s for %s: %w", key, username, err)
	}
	return n, nil
}

// Flags reads the two tier markers. Both default to false when unset.
func (s *RedisStore) Flags(ctx context.Context, username string) (bool, bool, error) {
	vals, err := s.rdb.HMGet(ctx, usageKey(username), flagPayingUser, flagTrialUser).Result()
	if err != nil {
		return false, false, fmt.Errorf("quota: read flags for %s: %w", username, err)
	}
	return vals[0] == "1", vals[1] == "1", nil
}

// SetFlag writes a tier marker.
func (s *RedisStore) SetFlag(ctx context.Context, username, flag string, value bool) error {
	v := "0"
	if value {
		v = "1"
	}
	if err := s.rdb.HSet(ctx, usageKey(username), flag, v).Err(); err != nil {
		return fmt.Errorf("quota: set flag %s for %s: %w", flag, username, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
