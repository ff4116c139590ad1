package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	domainerrors "mnx/contexts/lenses/projector-sdk/domain/errors"
	"mnx/contexts/lenses/projector-sdk/ports"
	"mnx/internal/shared/events"
)

// Runtime is the lens-agnostic receive loop: integrity check, apply, and the
// admin operations. One Runtime serves one Lens.
type Runtime struct {
	Lens   ports.Lens
	Logger *slog.Logger
}

// SnapshotEntry is the captured watermark + state hash for one branch.
type SnapshotEntry struct {
	WorldID          string
	Branch           string
	LastProcessedSeq int64
	DeterminismHash  string
}

// HandleDelivery verifies the payload hash and applies the event. It returns
// whether the event mutated the lens (false for re-delivery no-ops).
func (r Runtime) HandleDelivery(ctx context.Context, delivery events.Delivery) (bool, error) {
	logger := r.logger()
	started := time.Now()

	ok, err := delivery.VerifyPayloadHash()
	if err != nil {
		return false, fmt.Errorf("verify payload hash: %w", err)
	}
	if !ok {
		hashMismatchTotal.WithLabelValues(r.Lens.Name()).Inc()
		logger.Error("payload hash mismatch",
			"event", "projector_hash_mismatch",
			"module", "lenses/projector-sdk",
			"layer", "application",
			"projector", r.Lens.Name(),
			"global_seq", delivery.GlobalSeq,
			"event_id", delivery.EventID,
		)
		return false, domainerrors.ErrPayloadHashMismatch
	}

	applied, err := r.Lens.Apply(ctx, delivery)
	if err != nil {
		logger.Error("event apply failed",
			"event", "projector_apply_error",
			"module", "lenses/projector-sdk",
			"layer", "application",
			"projector", r.Lens.Name(),
			"global_seq", delivery.GlobalSeq,
			"kind", delivery.Envelope.Kind,
			"error", err.Error(),
		)
		return false, err
	}

	if !applied {
		redeliveriesTotal.WithLabelValues(r.Lens.Name()).Inc()
		return false, nil
	}

	eventsAppliedTotal.WithLabelValues(r.Lens.Name(), delivery.Envelope.Kind).Inc()
	applyDuration.WithLabelValues(r.Lens.Name()).Observe(time.Since(started).Seconds())
	return true, nil
}

// Snapshot computes and records the determinism hash for every branch the
// lens has a watermark for.
func (r Runtime) Snapshot(ctx context.Context) ([]SnapshotEntry, error) {
	watermarks, err := r.Lens.Watermarks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}

	entries := make([]SnapshotEntry, 0, len(watermarks))
	for _, wm := range watermarks {
		state, err := r.Lens.SnapshotState(ctx, wm.WorldID, wm.Branch)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s/%s: %w", wm.WorldID, wm.Branch, err)
		}
		hash := HashState(state)
		if err := r.Lens.RecordDeterminismHash(ctx, wm.WorldID, wm.Branch, hash); err != nil {
			return nil, fmt.Errorf("record hash %s/%s: %w", wm.WorldID, wm.Branch, err)
		}
		entries = append(entries, SnapshotEntry{
			WorldID:          wm.WorldID,
			Branch:           wm.Branch,
			LastProcessedSeq: wm.LastProcessedSeq,
			DeterminismHash:  hash,
		})
	}
	return entries, nil
}

func (r Runtime) Restore(ctx context.Context, worldID, branch string, lastProcessedSeq int64, determinismHash string) error {
	if err := r.Lens.RestoreWatermark(ctx, worldID, branch, lastProcessedSeq, determinismHash); err != nil {
		return err
	}
	r.logger().Info("watermark restored",
		"event", "projector_restored",
		"module", "lenses/projector-sdk",
		"layer", "application",
		"projector", r.Lens.Name(),
		"world_id", worldID,
		"branch", branch,
		"last_processed_seq", lastProcessedSeq,
	)
	return nil
}

func (r Runtime) Rebuild(ctx context.Context, worldID, branch string) error {
	if err := r.Lens.Rebuild(ctx, worldID, branch); err != nil {
		return err
	}
	r.logger().Info("lens rebuilt",
		"event", "projector_rebuilt",
		"module", "lenses/projector-sdk",
		"layer", "application",
		"projector", r.Lens.Name(),
		"world_id", worldID,
		"branch", branch,
	)
	return nil
}

// StateHash recomputes the determinism hash for one branch without
// persisting it.
func (r Runtime) StateHash(ctx context.Context, worldID, branch string) (string, error) {
	state, err := r.Lens.SnapshotState(ctx, worldID, branch)
	if err != nil {
		return "", err
	}
	return HashState(state), nil
}

// HashState hashes a canonical state string.
func HashState(state string) string {
	sum := sha256.Sum256([]byte(state))
	return hex.EncodeToString(sum[:])
}

func (r Runtime) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
