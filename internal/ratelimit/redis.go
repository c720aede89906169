package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisWindow enforces the same sliding-window bound against a shared
// redis instance, so the quota holds across replicas. Each client maps
// to a sorted set of admitted-request timestamps scored in
// milliseconds.
type RedisWindow struct {
	client *redis.Client
	window time.Duration
	max    int
}

// NewRedisWindow builds a redis-backed limiter.
func NewRedisWindow(client *redis.Client, window time.Duration, max int) *RedisWindow {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMaxRequests
	}
	return &RedisWindow{client: client, window: window, max: max}
}

// Admit prunes entries older than the window, checks the quota, and
// records the attempt only when admitted. Redis failures fail open:
// admission control protects the upstream, it is not a security
// boundary, and an unreachable redis should not take chat down.
func (w *RedisWindow) Admit(clientID string, now time.Time) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := "ratelimit:client:" + clientID
	cutoff := now.Add(-w.window).UnixMilli()

	pipe := w.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return true
	}

	if countCmd.Val() >= int64(w.max) {
		return false
	}

	add := w.client.Pipeline()
	add.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	add.Expire(ctx, key, 2*w.window)
	_, _ = add.Exec(ctx)
	return true
}
