package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimitsPerKey(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	l := NewLocal(1, 2)
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}
	ok, _ := l.Allow(ctx, "alice")
	assert.False(t, ok, "burst exhausted")

	ok, _ = l.Allow(ctx, "bob")
	assert.True(t, ok, "other keys have their own bucket")

	clock = clock.Add(time.Second)
	ok, _ = l.Allow(ctx, "alice")
	assert.True(t, ok, "token refilled after one second")
}

func TestLocalSweepsIdleBuckets(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	l := NewLocal(1, 1)
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	_, _ = l.Allow(ctx, "alice")
	clock = clock.Add(defaultIdleTTL + time.Minute)
	_, _ = l.Allow(ctx, "bob")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.buckets, "alice")
	assert.Contains(t, l.buckets, "bob")
}

func TestRedisReportsConnectionErrors(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	ok, err := NewRedis(rdb, 5, time.Second).Allow(context.Background(), "alice")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestNewRedisClientRejectsBadURL(t *testing.T) {
	_, err := NewRedisClient("http://not-redis")
	assert.Error(t, err)

	client, err := NewRedisClient("redis://localhost:6379/2")
	require.NoError(t, err)
	assert.Equal(t, 2, client.Options().DB)
	_ = client.Close()
}
