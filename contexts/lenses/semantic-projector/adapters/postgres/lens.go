package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	sdkpostgres "mnx/contexts/lenses/projector-sdk/adapters/postgres"
	sdkports "mnx/contexts/lenses/projector-sdk/ports"
	"mnx/contexts/lenses/semantic-projector/domain/embedding"
	"mnx/contexts/lenses/semantic-projector/ports"
	"mnx/internal/shared/events"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errAlreadyProcessed = errors.New("delivery already processed")

// Lens materializes embeddings for note and EMO content. The embedder runs
// inside the apply transaction; it must be deterministic for rebuild parity.
type Lens struct {
	db         *gorm.DB
	watermarks sdkpostgres.Watermarks
	embedder   ports.Embedder
	logger     *slog.Logger
}

func NewLens(db *gorm.DB, embedder ports.Embedder, logger *slog.Logger) *Lens {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lens{
		db:         db,
		watermarks: sdkpostgres.Watermarks{ProjectorName: "projector_sem"},
		embedder:   embedder,
		logger:     logger,
	}
}

func (l *Lens) Name() string   { return "projector_sem" }
func (l *Lens) LensID() string { return "sem" }

func (l *Lens) Migrate() error {
	if err := l.db.AutoMigrate(&embeddingModel{}); err != nil {
		return err
	}
	return l.watermarks.Migrate(l.db)
}

func (l *Lens) Apply(ctx context.Context, delivery events.Delivery) (bool, error) {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		advanced, err := l.watermarks.Advance(tx, delivery.Envelope.WorldID, delivery.Envelope.Branch, delivery.GlobalSeq)
		if err != nil {
			return err
		}
		if !advanced {
			return errAlreadyProcessed
		}

		change, err := embedding.ChangeFor(delivery.Envelope)
		if err != nil {
			return err
		}
		switch change.Op {
		case embedding.OpUpsert:
			return l.upsert(ctx, tx, delivery.Envelope, change)
		case embedding.OpDelete:
			return tx.Where("world_id = ? AND branch = ? AND entity_id = ? AND entity_type = ?",
				delivery.Envelope.WorldID, delivery.Envelope.Branch, change.EntityID, change.EntityType).
				Delete(&embeddingModel{}).Error
		default:
			return nil
		}
	})
	if errors.Is(err, errAlreadyProcessed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *Lens) upsert(ctx context.Context, tx *gorm.DB, envelope events.Envelope, change embedding.Change) error {
	vector, err := l.embedder.Embed(ctx, change.Text)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	row := embeddingModel{
		WorldID:      envelope.WorldID,
		Branch:       envelope.Branch,
		EntityID:     change.EntityID,
		EntityType:   change.EntityType,
		ModelID:      l.embedder.ModelID(),
		ModelVersion: l.embedder.ModelVersion(),
		TemplateID:   l.embedder.TemplateID(),
		EMOVersion:   change.EMOVersion,
		ContentHash:  embedding.ContentHash(change.Text),
		Vector:       raw,
		UpdatedAt:    time.Now().UTC(),
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "world_id"}, {Name: "branch"},
			{Name: "entity_id"}, {Name: "entity_type"}, {Name: "model_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"model_version", "template_id", "emo_version", "content_hash", "vector", "updated_at",
		}),
	}).Create(&row).Error
}

func (l *Lens) Watermarks(ctx context.Context) ([]sdkports.Watermark, error) {
	return l.watermarks.List(l.db.WithContext(ctx))
}

func (l *Lens) SnapshotState(ctx context.Context, worldID, branch string) (string, error) {
	var rows []embeddingModel
	err := l.db.WithContext(ctx).
		Where("world_id = ? AND branch = ? AND model_id = ?", worldID, branch, l.embedder.ModelID()).
		Order("entity_id, entity_type").
		Find(&rows).Error
	if err != nil {
		return "", err
	}

	entries := make([]embedding.Row, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, embedding.Row{
			WorldID:     row.WorldID,
			Branch:      row.Branch,
			EntityID:    row.EntityID,
			EntityType:  row.EntityType,
			EMOVersion:  row.EMOVersion,
			ContentHash: row.ContentHash,
		})
	}
	return embedding.RenderSnapshot(worldID, branch,
		l.embedder.ModelID(), l.embedder.ModelVersion(), l.embedder.TemplateID(), entries)
}

func (l *Lens) RecordDeterminismHash(ctx context.Context, worldID, branch, hash string) error {
	return l.watermarks.RecordHash(l.db.WithContext(ctx), worldID, branch, hash)
}

func (l *Lens) Rebuild(ctx context.Context, worldID, branch string) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("world_id = ? AND branch = ?", worldID, branch).
			Delete(&embeddingModel{}).Error; err != nil {
			return err
		}
		return l.watermarks.Set(tx, worldID, branch, 0, "")
	})
}

func (l *Lens) RestoreWatermark(ctx context.Context, worldID, branch string, lastProcessedSeq int64, determinismHash string) error {
	return l.watermarks.Set(l.db.WithContext(ctx), worldID, branch, lastProcessedSeq, determinismHash)
}
