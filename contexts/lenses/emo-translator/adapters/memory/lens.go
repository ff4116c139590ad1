package memoryadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"mnx/contexts/lenses/emo-translator/domain/translate"
	"mnx/contexts/lenses/emo-translator/ports"
	sdkmemory "mnx/contexts/lenses/projector-sdk/adapters/memory"
	sdkports "mnx/contexts/lenses/projector-sdk/ports"
	"mnx/internal/shared/events"
)

// Lens is the in-memory translator for tests. Version counters live in a
// map; emission goes through the injected Emitter.
type Lens struct {
	mu         sync.Mutex
	versions   map[string]int
	watermarks *sdkmemory.Watermarks
	emitter    ports.Emitter
	logger     *slog.Logger
}

func NewLens(emitter ports.Emitter, logger *slog.Logger) *Lens {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lens{
		versions:   make(map[string]int),
		watermarks: sdkmemory.NewWatermarks(),
		emitter:    emitter,
		logger:     logger,
	}
}

func (l *Lens) Name() string   { return "translator_memory_to_emo" }
func (l *Lens) LensID() string { return "translator" }

func versionKey(worldID, branch, emoID string) string {
	return worldID + "|" + branch + "|" + emoID
}

func (l *Lens) Apply(ctx context.Context, delivery events.Delivery) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	envelope := delivery.Envelope
	prev, existed := l.watermarks.Get(envelope.WorldID, envelope.Branch)
	if !l.watermarks.Advance(envelope.WorldID, envelope.Branch, delivery.GlobalSeq) {
		return false, nil
	}

	switch envelope.Kind {
	case "memory.item.upserted":
		if err := l.translate(ctx, envelope, translate.Upserted); err != nil {
			l.watermarks.Restore(envelope.WorldID, envelope.Branch, prev, existed)
			return false, err
		}
	case "memory.item.deleted":
		emoID, err := deriveID(envelope)
		if err != nil {
			l.watermarks.Restore(envelope.WorldID, envelope.Branch, prev, existed)
			return false, err
		}
		if l.versions[versionKey(envelope.WorldID, envelope.Branch, emoID)] == 0 {
			l.logger.Warn("delete for untranslated memory item",
				"event", "translator_unknown_delete",
				"module", "lenses/emo-translator",
				"layer", "adapter",
				"emo_id", emoID,
			)
			return true, nil
		}
		if err := l.translate(ctx, envelope, translate.Deleted); err != nil {
			l.watermarks.Restore(envelope.WorldID, envelope.Branch, prev, existed)
			return false, err
		}
	case "memory.embed.generated":
		l.logger.Info("memory embedding observed",
			"event", "translator_embed_observed",
			"module", "lenses/emo-translator",
			"layer", "adapter",
		)
	}
	return true, nil
}

func (l *Lens) translate(ctx context.Context, envelope events.Envelope, fn func(events.Envelope, int) (translate.Translation, error)) error {
	emoID, err := deriveID(envelope)
	if err != nil {
		return err
	}
	current := l.versions[versionKey(envelope.WorldID, envelope.Branch, emoID)]
	translation, err := fn(envelope, current)
	if err != nil {
		return err
	}
	if err := l.emitter.Emit(ctx, translation.Envelope); err != nil {
		return err
	}
	l.versions[versionKey(envelope.WorldID, envelope.Branch, translation.EMOID)] = translation.NewVersion
	return nil
}

func (l *Lens) Watermarks(ctx context.Context) ([]sdkports.Watermark, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.watermarks.List(), nil
}

func (l *Lens) SnapshotState(ctx context.Context, worldID, branch string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prefix := worldID + "|" + branch + "|"
	entries := make([]translate.VersionEntry, 0)
	for key, version := range l.versions {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			entries = append(entries, translate.VersionEntry{EMOID: key[len(prefix):], Version: version})
		}
	}
	return translate.RenderSnapshot(worldID, branch, entries)
}

func (l *Lens) RecordDeterminismHash(ctx context.Context, worldID, branch, hash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watermarks.RecordHash(worldID, branch, hash)
	return nil
}

func (l *Lens) Rebuild(ctx context.Context, worldID, branch string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prefix := worldID + "|" + branch + "|"
	for key := range l.versions {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(l.versions, key)
		}
	}
	l.watermarks.Set(worldID, branch, 0, "")
	return nil
}

func (l *Lens) RestoreWatermark(ctx context.Context, worldID, branch string, lastProcessedSeq int64, determinismHash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watermarks.Set(worldID, branch, lastProcessedSeq, determinismHash)
	return nil
}

// Version returns the tracked counter for one EMO. Test helper.
func (l *Lens) Version(worldID, branch, emoID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.versions[versionKey(worldID, branch, emoID)]
}

func deriveID(envelope events.Envelope) (string, error) {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(envelope.Payload, &p); err != nil {
		return "", fmt.Errorf("decode %s payload: %w", envelope.Kind, err)
	}
	if p.ID == "" {
		return "", fmt.Errorf("%s payload has no id", envelope.Kind)
	}
	return translate.DeriveEMOID(p.ID), nil
}
