package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mnx/contexts/lenses/emo-translator/domain/translate"
	"mnx/contexts/lenses/emo-translator/ports"
	sdkpostgres "mnx/contexts/lenses/projector-sdk/adapters/postgres"
	sdkports "mnx/contexts/lenses/projector-sdk/ports"
	"mnx/internal/shared/events"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errAlreadyProcessed = errors.New("delivery already processed")

// Lens is the memory-to-EMO translator. Its only materialized state is the
// per-EMO version counter; the translated events live in the log like any
// other append. Emission runs inside the apply transaction, so a failed emit
// rolls the watermark back and redelivery retries.
type Lens struct {
	db         *gorm.DB
	watermarks sdkpostgres.Watermarks
	emitter    ports.Emitter
	logger     *slog.Logger
}

func NewLens(db *gorm.DB, emitter ports.Emitter, logger *slog.Logger) *Lens {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lens{
		db:         db,
		watermarks: sdkpostgres.Watermarks{ProjectorName: "translator_memory_to_emo"},
		emitter:    emitter,
		logger:     logger,
	}
}

func (l *Lens) Name() string   { return "translator_memory_to_emo" }
func (l *Lens) LensID() string { return "translator" }

func (l *Lens) Migrate() error {
	if err := l.db.AutoMigrate(&versionModel{}); err != nil {
		return err
	}
	return l.watermarks.Migrate(l.db)
}

func (l *Lens) Apply(ctx context.Context, delivery events.Delivery) (bool, error) {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		envelope := delivery.Envelope
		advanced, err := l.watermarks.Advance(tx, envelope.WorldID, envelope.Branch, delivery.GlobalSeq)
		if err != nil {
			return err
		}
		if !advanced {
			return errAlreadyProcessed
		}

		switch envelope.Kind {
		case "memory.item.upserted":
			return l.translateUpserted(ctx, tx, envelope)
		case "memory.item.deleted":
			return l.translateDeleted(ctx, tx, envelope)
		case "memory.embed.generated":
			l.logger.Info("memory embedding observed",
				"event", "translator_embed_observed",
				"module", "lenses/emo-translator",
				"layer", "adapter",
				"world_id", envelope.WorldID,
				"branch", envelope.Branch,
			)
			return nil
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

func (l *Lens) translateUpserted(ctx context.Context, tx *gorm.DB, envelope events.Envelope) error {
	var p struct {
		ID string `json:"id"`
	}
	if err := decodeID(envelope, &p); err != nil {
		return err
	}
	emoID := translate.DeriveEMOID(p.ID)

	current, err := l.currentVersion(tx, envelope.WorldID, envelope.Branch, emoID)
	if err != nil {
		return err
	}
	translation, err := translate.Upserted(envelope, current)
	if err != nil {
		return err
	}
	if err := l.emitter.Emit(ctx, translation.Envelope); err != nil {
		return err
	}
	return l.setVersion(tx, envelope.WorldID, envelope.Branch, translation.EMOID, translation.NewVersion)
}

func (l *Lens) translateDeleted(ctx context.Context, tx *gorm.DB, envelope events.Envelope) error {
	var p struct {
		ID string `json:"id"`
	}
	if err := decodeID(envelope, &p); err != nil {
		return err
	}
	emoID := translate.DeriveEMOID(p.ID)

	current, err := l.currentVersion(tx, envelope.WorldID, envelope.Branch, emoID)
	if err != nil {
		return err
	}
	if current == 0 {
		l.logger.Warn("delete for untranslated memory item",
			"event", "translator_unknown_delete",
			"module", "lenses/emo-translator",
			"layer", "adapter",
			"world_id", envelope.WorldID,
			"branch", envelope.Branch,
			"emo_id", emoID,
		)
		return nil
	}

	translation, err := translate.Deleted(envelope, current)
	if err != nil {
		return err
	}
	if err := l.emitter.Emit(ctx, translation.Envelope); err != nil {
		return err
	}
	return l.setVersion(tx, envelope.WorldID, envelope.Branch, translation.EMOID, translation.NewVersion)
}

func (l *Lens) currentVersion(tx *gorm.DB, worldID, branch, emoID string) (int, error) {
	var row versionModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("world_id = ? AND branch = ? AND emo_id = ?", worldID, branch, emoID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Version, nil
}

func (l *Lens) setVersion(tx *gorm.DB, worldID, branch, emoID string, version int) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "world_id"}, {Name: "branch"}, {Name: "emo_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"version", "updated_at"}),
	}).Create(&versionModel{
		WorldID:   worldID,
		Branch:    branch,
		EMOID:     emoID,
		Version:   version,
		UpdatedAt: time.Now().UTC(),
	}).Error
}

func (l *Lens) Watermarks(ctx context.Context) ([]sdkports.Watermark, error) {
	return l.watermarks.List(l.db.WithContext(ctx))
}

func (l *Lens) SnapshotState(ctx context.Context, worldID, branch string) (string, error) {
	var rows []versionModel
	err := l.db.WithContext(ctx).
		Where("world_id = ? AND branch = ?", worldID, branch).
		Order("emo_id").
		Find(&rows).Error
	if err != nil {
		return "", err
	}

	entries := make([]translate.VersionEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, translate.VersionEntry{EMOID: row.EMOID, Version: row.Version})
	}
	return translate.RenderSnapshot(worldID, branch, entries)
}

func (l *Lens) RecordDeterminismHash(ctx context.Context, worldID, branch, hash string) error {
	return l.watermarks.RecordHash(l.db.WithContext(ctx), worldID, branch, hash)
}

func (l *Lens) Rebuild(ctx context.Context, worldID, branch string) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("world_id = ? AND branch = ?", worldID, branch).
			Delete(&versionModel{}).Error; err != nil {
			return err
		}
		return l.watermarks.Set(tx, worldID, branch, 0, "")
	})
}

func (l *Lens) RestoreWatermark(ctx context.Context, worldID, branch string, lastProcessedSeq int64, determinismHash string) error {
	return l.watermarks.Set(l.db.WithContext(ctx), worldID, branch, lastProcessedSeq, determinismHash)
}

func decodeID(envelope events.Envelope, target any) error {
	if err := json.Unmarshal(envelope.Payload, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.Kind, err)
	}
	return nil
}
