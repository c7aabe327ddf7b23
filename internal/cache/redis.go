package cache

import (
	"context"
	"errors"
	"time"

	"github.com/Aslarex/go-curl2/internal/config"
	"github.com/redis/go-redis/v9"
)

// Redis stores entries in a Redis server using SET NX PX for conditional writes.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis store. No connection is made until Connect.
func NewRedis(cfg config.RedisCacheConfig, ttl time.Duration) *Redis {
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	return NewRedisClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), ttl)
}

// NewRedisClient wraps an existing client.
func NewRedisClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = config.DefaultCacheTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// DefaultTTL implements Store.
func (r *Redis) DefaultTTL() time.Duration { return r.ttl }

// Connect verifies the server is reachable.
func (r *Redis) Connect(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, key, value string, opts SetOptions) (bool, error) {
	ttl := effectiveTTL(opts, r.ttl)
	if opts.OnlyIfAbsent {
		return r.client.SetNX(ctx, key, value, ttl).Result()
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the client's connections.
func (r *Redis) Close() error {
	return r.client.Close()
}
