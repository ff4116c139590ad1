package queries

import (
	"context"

	esports "mnx/contexts/event-spine/event-store/ports"
)

const maxListLimit = 1000

type ListEventsResult struct {
	Items              []esports.StoredEvent
	HasMore            bool
	NextAfterGlobalSeq int64
}

type ListEventsUseCase struct {
	Store esports.EventStore
}

func (uc ListEventsUseCase) Execute(ctx context.Context, filter esports.EventFilter) (ListEventsResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	items, hasMore, err := uc.Store.ListEvents(ctx, filter)
	if err != nil {
		return ListEventsResult{}, err
	}

	result := ListEventsResult{Items: items, HasMore: hasMore}
	if hasMore && len(items) > 0 {
		result.NextAfterGlobalSeq = items[len(items)-1].GlobalSeq
	}
	return result, nil
}
