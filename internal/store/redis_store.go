package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	followersCountKeyPrefix = "social:followers:"
	followingCountKeyPrefix = "social:following:"
	countsVersionKeyPrefix  = "social:countsver:"
	hotKeyScoresKey         = "social:hotkey:scores"

	// versionTTL outlives any read-through fill by a wide margin.
	versionTTL = 24 * time.Hour
)

// CountStore defines Redis operations for follow counter caching and hot key tracking.
//
// Every Invalidate bumps a per-user version. A reader that fills the cache
// from the database takes the version first and writes through
// SetCountsIfVersion, so a fill that raced with a committed edge change is
// dropped instead of resurrecting the old counters.
type CountStore interface {
	// GetCounts returns (followers, following, true, nil) on a hit. Both
	// counters must be present for a hit.
	GetCounts(ctx context.Context, userID string) (int64, int64, bool, error)
	SetCounts(ctx context.Context, userID string, followers, following int64) error
	// CountsVersion returns the current version of userID's counters.
	CountsVersion(ctx context.Context, userID string) (int64, error)
	// SetCountsIfVersion stores the counters only while the version still
	// equals version. It reports whether they were stored.
	SetCountsIfVersion(ctx context.Context, userID string, version, followers, following int64) (bool, error)
	// Invalidate drops the cached counters of every given user and bumps
	// their versions.
	Invalidate(ctx context.Context, userIDs ...string) error
	RecordAccess(ctx context.Context, userID string) error
	GetTopHotKeys(ctx context.Context, n int64) ([]string, error)
	ResetHotKeyScores(ctx context.Context) error
	Close() error
}

// Options configures the Redis connection.
type Options struct {
	Address      string
	Password     string
	DB           int
	TTL          time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisCountStore implements CountStore backed by Redis.
type RedisCountStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCountStore connects to Redis and returns a count store.
func NewRedisCountStore(opts Options) (*RedisCountStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisCountStoreFromClient(client, opts.TTL), nil
}

// NewRedisCountStoreFromClient wraps an existing client. A zero ttl keeps
// entries until they are invalidated.
func NewRedisCountStoreFromClient(client *redis.Client, ttl time.Duration) *RedisCountStore {
	return &RedisCountStore{client: client, ttl: ttl}
}

func followersCountKey(userID string) string {
	return followersCountKeyPrefix + userID
}

func followingCountKey(userID string) string {
	return followingCountKeyPrefix + userID
}

func countsVersionKey(userID string) string {
	return countsVersionKeyPrefix + userID
}

// GetCounts returns the cached counters for a user.
func (s *RedisCountStore) GetCounts(ctx context.Context, userID string) (int64, int64, bool, error) {
	vals, err := s.client.MGet(ctx, followersCountKey(userID), followingCountKey(userID)).Result()
	if err != nil {
		return 0, 0, false, fmt.Errorf("redis get counts: %w", err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return 0, 0, false, nil
	}

	followers, err := parseCount(vals[0])
	if err != nil {
		return 0, 0, false, fmt.Errorf("parse followers count: %w", err)
	}
	following, err := parseCount(vals[1])
	if err != nil {
		return 0, 0, false, fmt.Errorf("parse following count: %w", err)
	}
	return followers, following, true, nil
}

func parseCount(v interface{}) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected type %T", v)
	}
	return strconv.ParseInt(s, 10, 64)
}

// SetCounts caches both counters for a user.
func (s *RedisCountStore) SetCounts(ctx context.Context, userID string, followers, following int64) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, followersCountKey(userID), followers, s.ttl)
	pipe.Set(ctx, followingCountKey(userID), following, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set counts: %w", err)
	}
	return nil
}

// CountsVersion reads the version key. A missing key is version 0.
func (s *RedisCountStore) CountsVersion(ctx context.Context, userID string) (int64, error) {
	v, err := s.client.Get(ctx, countsVersionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get counts version: %w", err)
	}
	return v, nil
}

// SetCountsIfVersion writes both counters in a MULTI guarded by WATCH on the
// version key.
func (s *RedisCountStore) SetCountsIfVersion(ctx context.Context, userID string, version, followers, following int64) (bool, error) {
	verKey := countsVersionKey(userID)
	stored := false

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, verKey).Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != version {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, followersCountKey(userID), followers, s.ttl)
			pipe.Set(ctx, followingCountKey(userID), following, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		stored = true
		return nil
	}, verKey)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis set counts if version: %w", err)
	}
	return stored, nil
}

// Invalidate deletes the cached counters of the given users and bumps their
// versions in one transaction.
func (s *RedisCountStore) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	keys := make([]string, 0, 2*len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, followersCountKey(id), followingCountKey(id))
		pipe.Incr(ctx, countsVersionKey(id))
		pipe.Expire(ctx, countsVersionKey(id), versionTTL)
	}
	pipe.Del(ctx, keys...)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis invalidate counts: %w", err)
	}
	return nil
}

// RecordAccess increments the access score for a user in the hot key sorted set.
func (s *RedisCountStore) RecordAccess(ctx context.Context, userID string) error {
	err := s.client.ZIncrBy(ctx, hotKeyScoresKey, 1, userID).Err()
	if err != nil {
		return fmt.Errorf("redis record access: %w", err)
	}
	return nil
}

// GetTopHotKeys returns the top-n most accessed user IDs.
func (s *RedisCountStore) GetTopHotKeys(ctx context.Context, n int64) ([]string, error) {
	keys, err := s.client.ZRevRange(ctx, hotKeyScoresKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get top hot keys: %w", err)
	}
	return keys, nil
}

// ResetHotKeyScores deletes the hot key scores sorted set.
func (s *RedisCountStore) ResetHotKeyScores(ctx context.Context) error {
	err := s.client.Del(ctx, hotKeyScoresKey).Err()
	if err != nil {
		return fmt.Errorf("redis reset hot key scores: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisCountStore) Close() error {
	return s.client.Close()
}

// NopCountStore never caches. It is used when Redis is not configured.
type NopCountStore struct{}

func (NopCountStore) GetCounts(context.Context, string) (int64, int64, bool, error) {
	return 0, 0, false, nil
}
func (NopCountStore) SetCounts(context.Context, string, int64, int64) error { return nil }
func (NopCountStore) CountsVersion(context.Context, string) (int64, error) { return 0, nil }
func (NopCountStore) SetCountsIfVersion(context.Context, string, int64, int64, int64) (bool, error) {
	return false, nil
}
func (NopCountStore) Invalidate(context.Context, ...string) error { return nil }
func (NopCountStore) RecordAccess(context.Context, string) error { return nil }
func (NopCountStore) GetTopHotKeys(context.Context, int64) ([]string, error) { return nil, nil }
func (NopCountStore) ResetHotKeyScores(context.Context) error { return nil }
func (NopCountStore) Close() error { return nil }

// Ensure interface is satisfied at compile time.
var (
	_ CountStore = (*RedisCountStore)(nil)
	_ CountStore = NopCountStore{}
)
