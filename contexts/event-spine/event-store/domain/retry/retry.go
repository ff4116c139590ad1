package retry

import (
	"math/rand"
	"time"
)

// Backoff policy for outbox redelivery. Lives in the store's domain so
// every publisher instance schedules retries identically.

const (
	MaxRetries   = 10
	MaxDelay     = time.Hour
	exponentCap  = 10
	jitterFactor = 0.1
)

// NextDelay returns base × 2^min(attempt, 10) plus up to 10% jitter, capped
// at one hour. attempt is the number of attempts already made.
func NextDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	exponent := attempt
	if exponent > exponentCap {
		exponent = exponentCap
	}
	delay := base << uint(exponent)
	if delay > MaxDelay || delay <= 0 {
		delay = MaxDelay
	}
	jitter := time.Duration(float64(delay) * jitterFactor * rand.Float64())
	if delay+jitter > MaxDelay {
		return MaxDelay
	}
	return delay + jitter
}

// Retryable reports whether an event with the given attempt count stays in
// the outbox. Beyond MaxRetries it moves to the DLQ.
func Retryable(attempts int) bool {
	return attempts <= MaxRetries
}
