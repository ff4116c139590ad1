package ports

import (
	"context"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RateInfo describes the caller's current window for response headers.
type RateInfo struct {
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter enforces the per-key fixed request window.
type RateLimiter interface {
	Allow(ctx context.Context, clientID string) (bool, RateInfo, error)
}

// ProjectorAdminClient forwards admin operations (snapshot, restore,
// rebuild) to the projector that owns the target lens.
type ProjectorAdminClient interface {
	Forward(ctx context.Context, lens, operation string, body []byte) (status int, response []byte, err error)
}
