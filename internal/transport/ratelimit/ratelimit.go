// Package ratelimit provides per-client request throttling for the HTTP
// transport, with a pluggable backend: an in-memory default for
// single-instance deployments, and a Redis-backed implementation for
// distributed deployments behind the same interface. Modeled on the
// teacher's RateLimiter/RedisRateLimiter split (ui/security/wrapper.go,
// ui/security/rate_limiter.go, ui/security/redis_limiter.go) — fixed
// fail-open-on-backend-error counter algorithm rather than the
// teacher's optional sliding-window variant, which is unnecessary
// precision for Superego's throttling needs.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter is satisfied by both the in-memory and Redis-backed rate
// limiters, so callers (the HTTP transport) never depend on the
// backend.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfterSeconds int)
}

// Config configures a Limiter.
type Config struct {
	RequestsPerMinute int
}

func (c Config) limit() int {
	if c.RequestsPerMinute <= 0 {
		return 120
	}
	return c.RequestsPerMinute
}

// InMemory is the zero-dependency default: one fixed one-minute window
// counter per key, guarded by a mutex. Adequate for a single process;
// NewRedis should be used across multiple replicas.
type InMemory struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	count      int
	windowEnds time.Time
}

// NewInMemory constructs an in-memory Limiter.
func NewInMemory(cfg Config) *InMemory {
	return &InMemory{cfg: cfg, buckets: make(map[string]*bucket)}
}

// Allow implements Limiter.
func (l *InMemory) Allow(ctx context.Context, key string) (bool, int) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.After(b.windowEnds) {
		b = &bucket{count: 0, windowEnds: now.Add(time.Minute)}
		l.buckets[key] = b
	}

	b.count++
	if b.count > l.cfg.limit() {
		return false, int(time.Until(b.windowEnds).Seconds()) + 1
	}
	return true, 0
}

// RedisClient is the minimal subset of go-redis this package needs,
// declared locally so the Limiter contract does not leak the
// go-redis/redis/v8 type into callers that never wire Redis.
type RedisClient interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Redis is a distributed Limiter backed by Redis INCR + EXPIRE, usable
// across multiple Superego replicas sharing one rate-limit namespace.
type Redis struct {
	cfg    Config
	client RedisClient
}

// NewRedis constructs a Redis-backed Limiter.
func NewRedis(cfg Config, client RedisClient) *Redis {
	return &Redis{cfg: cfg, client: client}
}

// Allow implements Limiter. Redis errors fail open — an unreachable
// rate-limit backend must never itself become a denial-of-service
// vector for the gateway it is meant to protect.
func (l *Redis) Allow(ctx context.Context, key string) (bool, int) {
	rateLimitKey := fmt.Sprintf("superego:ratelimit:%s", key)

	count, err := l.client.Incr(ctx, rateLimitKey)
	if err != nil {
		return true, 0
	}
	if count == 1 {
		_ = l.client.Expire(ctx, rateLimitKey, time.Minute)
	}

	if count > int64(l.cfg.limit()) {
		ttl, err := l.client.TTL(ctx, rateLimitKey)
		if err != nil || ttl < 0 {
			ttl = time.Minute
		}
		return false, int(ttl.Seconds()) + 1
	}
	return true, 0
}
