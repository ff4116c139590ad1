package queries

import (
	"context"

	esports "mnx/contexts/event-spine/event-store/ports"
)

type GetEventUseCase struct {
	Store esports.EventStore
}

func (uc GetEventUseCase) Execute(ctx context.Context, eventID string) (esports.StoredEvent, error) {
	return uc.Store.GetByEventID(ctx, eventID)
}
