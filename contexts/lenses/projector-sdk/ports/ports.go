package ports

import (
	"context"
	"time"

	"mnx/internal/shared/events"
)

// Watermark is the per-(world, branch) progress record a lens owns.
type Watermark struct {
	WorldID          string
	Branch           string
	LastProcessedSeq int64
	DeterminismHash  string
	UpdatedAt        time.Time
}

// Lens is implemented by every concrete projector. Apply must be atomic:
// lens mutation and watermark advance commit together, and a failed apply
// leaves both untouched. Apply returns false when the delivery's global_seq
// is at or below the watermark (re-delivery no-op).
type Lens interface {
	Name() string
	LensID() string

	Apply(ctx context.Context, delivery events.Delivery) (bool, error)

	Watermarks(ctx context.Context) ([]Watermark, error)

	// SnapshotState returns the canonical JSON representation of the lens
	// state for (world, branch): sorted rows, stable field order, only
	// fields that are pure functions of event content.
	SnapshotState(ctx context.Context, worldID, branch string) (string, error)

	RecordDeterminismHash(ctx context.Context, worldID, branch, hash string) error

	// Rebuild truncates lens rows and resets the watermark to zero in one
	// transaction. Replay happens through subsequent deliveries.
	Rebuild(ctx context.Context, worldID, branch string) error

	// RestoreWatermark overwrites the watermark to match an
	// operator-provided snapshot. Unlike Apply it may move backwards.
	RestoreWatermark(ctx context.Context, worldID, branch string, lastProcessedSeq int64, determinismHash string) error
}
