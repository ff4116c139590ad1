package memoryadapter

import (
	"context"
	"sync"
	"time"

	"mnx/contexts/event-spine/gateway-service/ports"
)

// RateLimiter is the in-process fixed-window limiter used when no Redis is
// configured and in tests.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1000
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *RateLimiter) Allow(_ context.Context, clientID string) (bool, ports.RateInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.buckets[clientID]
	if !ok || now.After(entry.resetAt) {
		entry = &bucket{resetAt: now.Add(l.window)}
		l.buckets[clientID] = entry
	}

	info := ports.RateInfo{Limit: l.limit}
	if entry.count >= l.limit {
		info.RetryAfter = entry.resetAt.Sub(now)
		return false, info, nil
	}
	entry.count++
	info.Remaining = l.limit - entry.count
	return true, info, nil
}
