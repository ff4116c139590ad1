package errors

import "errors"

var (
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrEventNotFound           = errors.New("event not found")
	ErrOutboxRowNotFound       = errors.New("outbox row not found")
	ErrAlreadyPublished        = errors.New("outbox row already published")
	ErrBranchExists            = errors.New("branch already exists")
	ErrBranchNotFound          = errors.New("branch not found")
)
