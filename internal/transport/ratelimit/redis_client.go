package ratelimit

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// GoRedisAdapter adapts *redis.Client to the RedisClient interface this
// package depends on, so the rest of ratelimit never imports go-redis
// directly.
type GoRedisAdapter struct {
	Client *redis.Client
}

// NewGoRedisAdapter constructs a GoRedisAdapter over a connected
// *redis.Client.
func NewGoRedisAdapter(addr string, db int) *GoRedisAdapter {
	return &GoRedisAdapter{Client: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

func (a *GoRedisAdapter) Incr(ctx context.Context, key string) (int64, error) {
	return a.Client.Incr(ctx, key).Result()
}

func (a *GoRedisAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return a.Client.Expire(ctx, key, ttl).Err()
}

func (a *GoRedisAdapter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return a.Client.TTL(ctx, key).Result()
}

// Close releases the underlying connection pool.
func (a *GoRedisAdapter) Close() error {
	return a.Client.Close()
}
