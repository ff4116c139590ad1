package memoryadapter

import (
	"context"
	"sync"

	sdkmemory "mnx/contexts/lenses/projector-sdk/adapters/memory"
	sdkports "mnx/contexts/lenses/projector-sdk/ports"
	"mnx/contexts/lenses/semantic-projector/domain/embedding"
	"mnx/contexts/lenses/semantic-projector/ports"
	"mnx/internal/shared/events"
)

// Lens is the in-memory semantic lens for tests and local runs.
type Lens struct {
	mu         sync.Mutex
	rows       map[string]embedding.Row
	watermarks *sdkmemory.Watermarks
	embedder   ports.Embedder
}

func NewLens(embedder ports.Embedder) *Lens {
	return &Lens{
		rows:       make(map[string]embedding.Row),
		watermarks: sdkmemory.NewWatermarks(),
		embedder:   embedder,
	}
}

func (l *Lens) Name() string   { return "projector_sem" }
func (l *Lens) LensID() string { return "sem" }

func rowKey(worldID, branch, entityID, entityType, modelID string) string {
	return worldID + "|" + branch + "|" + entityID + "|" + entityType + "|" + modelID
}

func (l *Lens) Apply(ctx context.Context, delivery events.Delivery) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	envelope := delivery.Envelope
	prev, existed := l.watermarks.Get(envelope.WorldID, envelope.Branch)
	if !l.watermarks.Advance(envelope.WorldID, envelope.Branch, delivery.GlobalSeq) {
		return false, nil
	}

	change, err := embedding.ChangeFor(envelope)
	if err != nil {
		l.watermarks.Restore(envelope.WorldID, envelope.Branch, prev, existed)
		return false, err
	}
	switch change.Op {
	case embedding.OpUpsert:
		vector, err := l.embedder.Embed(ctx, change.Text)
		if err != nil {
			l.watermarks.Restore(envelope.WorldID, envelope.Branch, prev, existed)
			return false, err
		}
		key := rowKey(envelope.WorldID, envelope.Branch, change.EntityID, change.EntityType, l.embedder.ModelID())
		l.rows[key] = embedding.Row{
			WorldID:      envelope.WorldID,
			Branch:       envelope.Branch,
			EntityID:     change.EntityID,
			EntityType:   change.EntityType,
			EMOVersion:   change.EMOVersion,
			ModelID:      l.embedder.ModelID(),
			ModelVersion: l.embedder.ModelVersion(),
			TemplateID:   l.embedder.TemplateID(),
			ContentHash:  embedding.ContentHash(change.Text),
			Vector:       vector,
		}
	case embedding.OpDelete:
		for key, row := range l.rows {
			if row.WorldID == envelope.WorldID && row.Branch == envelope.Branch &&
				row.EntityID == change.EntityID && row.EntityType == change.EntityType {
				delete(l.rows, key)
			}
		}
	}
	return true, nil
}

func (l *Lens) Watermarks(ctx context.Context) ([]sdkports.Watermark, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.watermarks.List(), nil
}

func (l *Lens) SnapshotState(ctx context.Context, worldID, branch string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows := make([]embedding.Row, 0)
	for _, row := range l.rows {
		if row.WorldID == worldID && row.Branch == branch && row.ModelID == l.embedder.ModelID() {
			rows = append(rows, row)
		}
	}
	return embedding.RenderSnapshot(worldID, branch,
		l.embedder.ModelID(), l.embedder.ModelVersion(), l.embedder.TemplateID(), rows)
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
	for key, row := range l.rows {
		if row.WorldID == worldID && row.Branch == branch {
			delete(l.rows, key)
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

// Embedding returns the stored row for an entity, if any. Test helper.
func (l *Lens) Embedding(worldID, branch, entityID, entityType string) (embedding.Row, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[rowKey(worldID, branch, entityID, entityType, l.embedder.ModelID())]
	return row, ok
}
