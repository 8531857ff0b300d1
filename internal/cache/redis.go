package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/boxingbuddies/engagement/pkg/config"
	"github.com/boxingbuddies/engagement/pkg/logging"
)

// redisEnvelope is the stored form of a cache entry. Redis expiry
// enforces the stale deadline (TTL + grace); the fresh deadline
// travels inside the envelope.
type redisEnvelope struct {
	Data       []byte    `json:"data"`
	FreshUntil time.Time `json:"fresh_until"`
}

// Redis is the redis-backed Bus. Each tag keeps a set of the entry
// keys written under it, so explicit invalidation can delete them all.
type Redis struct {
	client *redis.Client
	grace  time.Duration
	logger *zap.Logger
}

// NewRedis creates a Redis cache bus from configuration.
func NewRedis(cfg *config.RedisConfig, grace time.Duration) (*Redis, error) {
	if !cfg.Enabled {
		logging.GetLogger().Info("Redis cache disabled")
		return nil, ErrCacheDisabled
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetLogger().Info("Redis connection established")

	return &Redis{
		client: client,
		grace:  grace,
		logger: logging.GetLogger().With(zap.String("component", "redis-cache")),
	}, nil
}

// Get implements Bus.
func (r *Redis) Get(ctx context.Context, tag, key string, ttl time.Duration, load Loader) ([]byte, error) {
	k := r.namespaceKey(entryKey(tag, key))

	var env *redisEnvelope
	if raw, err := r.client.Get(ctx, k).Bytes(); err == nil {
		var e redisEnvelope
		if err := json.Unmarshal(raw, &e); err == nil {
			env = &e
		}
	}
	if env != nil && time.Now().Before(env.FreshUntil) {
		return env.Data, nil
	}

	data, err := load(ctx)
	if err != nil {
		// The entry's redis expiry is TTL+grace, so its mere presence
		// means it is still inside the stale window.
		if env != nil {
			r.logger.Warn("serving stale cache entry after load failure",
				zap.String("tag", tag),
				zap.String("key", key),
				zap.Error(err))
			return env.Data, nil
		}
		return nil, err
	}

	raw, err := json.Marshal(redisEnvelope{
		Data:       data,
		FreshUntil: time.Now().Add(ttl),
	})
	if err != nil {
		return data, nil
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, k, raw, ttl+r.grace)
	pipe.SAdd(ctx, r.tagKey(tag), k)
	pipe.Expire(ctx, r.tagKey(tag), ttl+r.grace)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("failed to store cache entry",
			zap.String("tag", tag),
			zap.String("key", key),
			zap.Error(err))
	}

	return data, nil
}

// Invalidate implements Bus.
func (r *Redis) Invalidate(ctx context.Context, tag string) error {
	keys, err := r.client.SMembers(ctx, r.tagKey(tag)).Result()
	if err != nil {
		return err
	}
	keys = append(keys, r.tagKey(tag))
	return r.client.Del(ctx, keys...).Err()
}

// Close implements Bus.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Health checks Redis health
func (r *Redis) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// namespaceKey prefixes keys so the bus shares a redis database with
// other services without collisions.
func (r *Redis) namespaceKey(key string) string {
	return "engagement:" + key
}

func (r *Redis) tagKey(tag string) string {
	return r.namespaceKey("tag/" + tag)
}
