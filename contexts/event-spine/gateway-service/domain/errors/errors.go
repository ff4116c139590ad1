package errors

import "errors"

var (
	ErrMissingAPIKey          = errors.New("api key required")
	ErrInvalidAPIKey          = errors.New("invalid api key")
	ErrInsufficientScope      = errors.New("api key scope does not permit this operation")
	ErrRateLimited            = errors.New("rate limit exceeded")
	ErrInvalidCorrelationID   = errors.New("x-correlation-id must be a valid UUID")
	ErrIdempotencyKeyMismatch = errors.New("idempotency key in header and envelope must match")
	ErrIdempotencyKeyEmpty    = errors.New("idempotency-key cannot be an empty string")
	ErrIdempotencyKeyRequired = errors.New("idempotency key required for this event kind")
	ErrUnknownLens            = errors.New("unknown lens")
	ErrUnknownAdminOperation  = errors.New("unknown admin operation")
)
