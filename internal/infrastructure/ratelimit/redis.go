package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "kqa:ratelimit:"

// Redis is a sliding-window limiter shared by every replica. Each admitted
// request is a sorted-set member scored by its arrival time in milliseconds.
type Redis struct {
	rdb    redis.UniversalClient
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedis(rdb redis.UniversalClient, limit int, window time.Duration) *Redis {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Redis{rdb: rdb, limit: limit, window: window, now: time.Now}
}

// NewRedisClient builds a client from a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (l *Redis) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := keyPrefix + key
	now := l.now().UnixMilli()
	windowStart := now - l.window.Milliseconds()

	pipe := l.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit window: %w", err)
	}
	if countCmd.Val() >= int64(l.limit) {
		return false, nil
	}

	pipe = l.rdb.Pipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now),
		Member: strconv.FormatInt(now, 10) + "-" + uuid.NewString(),
	})
	pipe.Expire(ctx, redisKey, l.window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit record: %w", err)
	}
	return true, nil
}
