package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_AllowsUnderLimit(t *testing.T) {
	l := NewInMemory(Config{RequestsPerMinute: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _ := l.Allow(ctx, "client-a")
		require.True(t, allowed)
	}
}

func TestInMemory_DeniesOverLimit(t *testing.T) {
	l := NewInMemory(Config{RequestsPerMinute: 2})
	ctx := context.Background()

	l.Allow(ctx, "client-b")
	l.Allow(ctx, "client-b")
	allowed, retryAfter := l.Allow(ctx, "client-b")

	assert.False(t, allowed)
	assert.Greater(t, retryAfter, 0)
}

func TestInMemory_TracksKeysIndependently(t *testing.T) {
	l := NewInMemory(Config{RequestsPerMinute: 1})
	ctx := context.Background()

	l.Allow(ctx, "client-c")
	allowedC, _ := l.Allow(ctx, "client-c")
	allowedD, _ := l.Allow(ctx, "client-d")

	assert.False(t, allowedC)
	assert.True(t, allowedD)
}

type fakeRedisClient struct {
	counts map[string]int64
	err    error
}

func (f *fakeRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeRedisClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (f *fakeRedisClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	return time.Minute, nil
}

func TestRedis_DeniesOverLimit(t *testing.T) {
	client := &fakeRedisClient{counts: map[string]int64{}}
	l := NewRedis(Config{RequestsPerMinute: 2}, client)
	ctx := context.Background()

	l.Allow(ctx, "client-e")
	l.Allow(ctx, "client-e")
	allowed, retryAfter := l.Allow(ctx, "client-e")

	assert.False(t, allowed)
	assert.Greater(t, retryAfter, 0)
}

func TestRedis_FailsOpenOnBackendError(t *testing.T) {
	client := &fakeRedisClient{counts: map[string]int64{}, err: assertErr{}}
	l := NewRedis(Config{RequestsPerMinute: 1}, client)

	allowed, retryAfter := l.Allow(context.Background(), "client-f")
	assert.True(t, allowed)
	assert.Equal(t, 0, retryAfter)
}

type assertErr struct{}

func (assertErr) Error() string { return "redis unavailable" }
