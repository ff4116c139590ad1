package ports

import (
	"context"

	"mnx/internal/shared/events"
)

// SubscriberClient delivers one event to one projector endpoint. A nil error
// means the subscriber accepted (and deduplicates re-deliveries itself).
type SubscriberClient interface {
	Deliver(ctx context.Context, endpoint string, delivery events.Delivery) error
}
