package ports

import (
	"context"

	"mnx/internal/shared/events"
)

// Emitter appends a translated emo.* envelope back onto the log. A duplicate
// idempotency key is success: the translated event is already there.
type Emitter interface {
	Emit(ctx context.Context, envelope events.Envelope) error
}
