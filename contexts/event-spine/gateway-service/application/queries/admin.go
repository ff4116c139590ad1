package queries

import (
	"context"

	esports "mnx/contexts/event-spine/event-store/ports"
	domainerrors "mnx/contexts/event-spine/gateway-service/domain/errors"
	gwports "mnx/contexts/event-spine/gateway-service/ports"
)

// ProjectorLag is the per-projector health summary derived from watermarks.
type ProjectorLag struct {
	ProjectorName    string
	WorldID          string
	Branch           string
	LastProcessedSeq int64
	Lag              int64
}

type AdminHealthResult struct {
	LatestGlobalSeq int64
	Projectors      []ProjectorLag
}

type AdminHealthUseCase struct {
	Store esports.EventStore
}

func (uc AdminHealthUseCase) Execute(ctx context.Context) (AdminHealthResult, error) {
	latest, err := uc.Store.LatestGlobalSeq(ctx)
	if err != nil {
		return AdminHealthResult{}, err
	}
	watermarks, err := uc.Store.ProjectorWatermarks(ctx)
	if err != nil {
		return AdminHealthResult{}, err
	}

	result := AdminHealthResult{LatestGlobalSeq: latest}
	for _, wm := range watermarks {
		lag := latest - wm.LastProcessedSeq
		if lag < 0 {
			lag = 0
		}
		result.Projectors = append(result.Projectors, ProjectorLag{
			ProjectorName:    wm.ProjectorName,
			WorldID:          wm.WorldID,
			Branch:           wm.Branch,
			LastProcessedSeq: wm.LastProcessedSeq,
			Lag:              lag,
		})
	}
	return result, nil
}

var adminOperations = map[string]bool{
	"snapshot": true,
	"restore":  true,
	"rebuild":  true,
}

// ProjectorAdminUseCase forwards snapshot/restore/rebuild to the projector
// owning the lens; the gateway itself never touches lens stores.
type ProjectorAdminUseCase struct {
	Client gwports.ProjectorAdminClient
	Lenses map[string]string
}

func (uc ProjectorAdminUseCase) Execute(ctx context.Context, lens, operation string, body []byte) (int, []byte, error) {
	if !adminOperations[operation] {
		return 0, nil, domainerrors.ErrUnknownAdminOperation
	}
	if _, ok := uc.Lenses[lens]; !ok {
		return 0, nil, domainerrors.ErrUnknownLens
	}
	return uc.Client.Forward(ctx, lens, operation, body)
}
