package redisadapter

import (
	"context"
	"fmt"
	"time"

	"mnx/contexts/event-spine/gateway-service/ports"

	"github.com/redis/go-redis/v9"
)

// RateLimiter shares the fixed window across gateway replicas via Redis
// INCR + EXPIRE. Keys roll over per window.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1000
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{client: client, limit: limit, window: window}
}

func (l *RateLimiter) Allow(ctx context.Context, clientID string) (bool, ports.RateInfo, error) {
	windowStart := time.Now().Truncate(l.window)
	key := fmt.Sprintf("mnx:ratelimit:%s:%d", clientID, windowStart.Unix())

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, ports.RateInfo{}, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, ports.RateInfo{}, fmt.Errorf("rate limit expire: %w", err)
		}
	}

	info := ports.RateInfo{Limit: l.limit}
	if int(count) > l.limit {
		info.RetryAfter = windowStart.Add(l.window).Sub(time.Now())
		return false, info, nil
	}
	info.Remaining = l.limit - int(count)
	return true, info, nil
}
