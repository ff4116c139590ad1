package queries

import (
	"context"
	"log/slog"
	"time"

	esports "mnx/contexts/event-spine/event-store/ports"
	"mnx/internal/shared/events"
)

type CreateBranchCommand struct {
	WorldID      string
	Name         string
	ParentBranch string
	CreatedBy    string
	Metadata     map[string]any
}

type BranchUseCase struct {
	Registry esports.BranchRegistry
	Logger   *slog.Logger
}

func (uc BranchUseCase) Create(ctx context.Context, cmd CreateBranchCommand) (esports.Branch, error) {
	if err := events.ValidateBranchName(cmd.Name); err != nil {
		return esports.Branch{}, err
	}
	if cmd.ParentBranch != "" {
		if err := events.ValidateBranchName(cmd.ParentBranch); err != nil {
			return esports.Branch{}, err
		}
	}
	branch := esports.Branch{
		WorldID:      cmd.WorldID,
		Name:         cmd.Name,
		ParentBranch: cmd.ParentBranch,
		CreatedAt:    time.Now().UTC(),
		CreatedBy:    cmd.CreatedBy,
		Metadata:     cmd.Metadata,
	}
	if err := uc.Registry.CreateBranch(ctx, branch); err != nil {
		return esports.Branch{}, err
	}
	if uc.Logger != nil {
		uc.Logger.Info("branch created",
			"event", "gateway_branch_created",
			"module", "event-spine/gateway-service",
			"layer", "command",
			"world_id", cmd.WorldID,
			"branch", cmd.Name,
			"parent", cmd.ParentBranch,
		)
	}
	return branch, nil
}

func (uc BranchUseCase) Get(ctx context.Context, worldID, name string) (esports.Branch, error) {
	return uc.Registry.GetBranch(ctx, worldID, name)
}

func (uc BranchUseCase) List(ctx context.Context, worldID string) ([]esports.Branch, error) {
	return uc.Registry.ListBranches(ctx, worldID)
}
