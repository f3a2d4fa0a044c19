package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/brickfolio/brickfolio-sync-go/internal/infrastructure/providers"
)

// RedisLimiter is a fixed-window counter shared across service instances, so
// the per-provider API quota holds even with several dispatchers running.
// Redis trouble fails open: losing the limiter must not stop syncing.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, perWindow int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: perWindow, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, provider string) error {
	bucket := time.Now().UTC().Truncate(l.window).Unix()
	key := fmt.Sprintf("ratelimit:%s:%d", provider, bucket)

	n, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Str("provider", provider).Msg("rate limiter unavailable, allowing call")
		return nil
	}
	if n == 1 {
		l.client.Expire(ctx, key, l.window)
	}
	if n > int64(l.limit) {
		return providers.ErrRateLimited
	}
	return nil
}
