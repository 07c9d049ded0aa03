// Package store wraps the shared Redis-like key-value store used across the
// job queue, rate limiter, pub/sub and read-through cache (spec.md §5's
// "Shared-resource policy").
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/realtime-resource-server/infrastructure/logging"
)

// Config configures the shared store connection.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

// Store wraps a *redis.Client with the operations the queue, rate limiter,
// pub/sub fabric and read-through cache need.
type Store struct {
	client *redis.Client
	logger *logging.Logger
}

// New dials Redis using cfg and verifies connectivity with a PING.
func New(ctx context.Context, cfg Config, logger *logging.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Store{client: client, logger: logger}, nil
}

// NewFromClient wraps an already-constructed *redis.Client, used by tests
// to point the store at a miniredis instance.
func NewFromClient(client *redis.Client, logger *logging.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Raw exposes the underlying client for callers that need a command this
// wrapper doesn't surface (migrations of this package should add a method
// instead of leaking this further).
func (s *Store) Raw() *redis.Client {
	return s.client
}

// Get returns the string value for key, or ("", false) if absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set stores value under key with an optional TTL (0 = no expiry).
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// SetNX stores value under key only if it does not already exist, returning
// whether the set happened. Used for job idempotency keys and worker leases.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

// Delete removes one or more keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Expire sets a TTL on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

// InvalidatePattern deletes every key matching a glob pattern, implementing
// spec.md §5's "any create/update/delete for a kind invalidates all keys
// matching <kind>:*" cache policy. Failures are logged and swallowed — cache
// invalidation must never surface an error to the caller.
func (s *Store) InvalidatePattern(ctx context.Context, pattern string) {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			if s.logger != nil {
				s.logger.LogCacheFailure(ctx, pattern, err)
			}
			return
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil && s.logger != nil {
				s.logger.LogCacheFailure(ctx, pattern, err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
}

// ZAdd adds member with the given score to a sorted set (rate-limit windows,
// scheduled job visibility timestamps).
func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.client.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err()
}

// ZRemRangeByScore removes members whose score falls in [min, max].
func (s *Store) ZRemRangeByScore(ctx context.Context, key, min, max string) error {
	return s.client.ZRemRangeByScore(ctx, key, min, max).Err()
}

// ZCount counts members whose score falls in [min, max].
func (s *Store) ZCount(ctx context.Context, key, min, max string) (int64, error) {
	return s.client.ZCount(ctx, key, min, max).Result()
}

// ZRangeByScore returns members whose score falls in [min, max], ascending.
func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max string, count int64) ([]string, error) {
	return s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   min,
		Max:   max,
		Count: count,
	}).Result()
}

// ZRangeByScoreWithScores is like ZRangeByScore but also returns each
// member's score, used by the job queue to read scheduled_time back out.
func (s *Store) ZRangeByScoreWithScores(ctx context.Context, key string, min, max string, count int64) ([]redis.Z, error) {
	return s.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   min,
		Max:   max,
		Count: count,
	}).Result()
}

// ZRem removes a member from a sorted set.
func (s *Store) ZRem(ctx context.Context, key, member string) error {
	return s.client.ZRem(ctx, key, member).Err()
}

// ZRemClaim removes member from a sorted set and reports whether this call
// was the one that removed it, used by the job queue to atomically claim a
// job out of the pending set when multiple workers race for it.
func (s *Store) ZRemClaim(ctx context.Context, key, member string) (bool, error) {
	n, err := s.client.ZRem(ctx, key, member).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ZScore returns a member's score in a sorted set.
func (s *Store) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	score, err := s.client.ZScore(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

// HSet stores a hash field, used for job records and delivery records.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]interface{}) error {
	return s.client.HSet(ctx, key, fields).Err()
}

// HGetAll reads every field of a hash.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

// Publish publishes a JSON-encoded payload to a channel (spec.md §9's design
// note: all pub/sub payloads are JSON-encoded uniformly, never `%v`/str(dict)).
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

// Subscriber wraps a redis.PubSub for a single pattern subscription.
type Subscriber struct {
	pubsub *redis.PubSub
}

// PSubscribe subscribes to every channel matching pattern (e.g.
// "task_notifications:*").
func (s *Store) PSubscribe(ctx context.Context, pattern string) *Subscriber {
	return &Subscriber{pubsub: s.client.PSubscribe(ctx, pattern)}
}

// Channel returns the receive channel for incoming messages.
func (s *Subscriber) Channel() <-chan *redis.Message {
	return s.pubsub.Channel()
}

// Close stops the subscription.
func (s *Subscriber) Close() error {
	return s.pubsub.Close()
}

// Ping reports whether the store is reachable right now. Callers that must
// fail open (rate limiter, cache) check this instead of propagating errors.
func (s *Store) Ping(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}
