package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"mnx/contexts/lenses/relational-projector/domain/projection"
	sdkpostgres "mnx/contexts/lenses/projector-sdk/adapters/postgres"
	sdkports "mnx/contexts/lenses/projector-sdk/ports"
	"mnx/internal/shared/events"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errAlreadyProcessed aborts the apply transaction without writing anything
// when the watermark already covers the delivery.
var errAlreadyProcessed = errors.New("delivery already processed")

// Lens materializes the relational read model. Apply runs the projection and
// the watermark CAS in one gorm transaction.
type Lens struct {
	db         *gorm.DB
	watermarks sdkpostgres.Watermarks
	logger     *slog.Logger
}

func NewLens(db *gorm.DB, logger *slog.Logger) *Lens {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lens{
		db:         db,
		watermarks: sdkpostgres.Watermarks{ProjectorName: "projector_rel"},
		logger:     logger,
	}
}

func (l *Lens) Name() string   { return "projector_rel" }
func (l *Lens) LensID() string { return "rel" }

func (l *Lens) Migrate() error {
	if err := l.db.AutoMigrate(
		&noteModel{}, &noteTagModel{}, &linkModel{},
		&emoCurrentModel{}, &emoHistoryModel{}, &emoLinkModel{},
	); err != nil {
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
		return projection.Apply(lensTx{tx: tx}, delivery.Envelope)
	})
	if errors.Is(err, errAlreadyProcessed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *Lens) Watermarks(ctx context.Context) ([]sdkports.Watermark, error) {
	return l.watermarks.List(l.db.WithContext(ctx))
}

func (l *Lens) SnapshotState(ctx context.Context, worldID, branch string) (string, error) {
	db := l.db.WithContext(ctx)

	var noteRows []noteModel
	if err := db.Where("world_id = ? AND branch = ?", worldID, branch).Order("note_id").Find(&noteRows).Error; err != nil {
		return "", err
	}
	var tagRows []noteTagModel
	if err := db.Where("world_id = ? AND branch = ?", worldID, branch).Order("note_id, tag").Find(&tagRows).Error; err != nil {
		return "", err
	}
	var linkRows []linkModel
	if err := db.Where("world_id = ? AND branch = ?", worldID, branch).Order("src_id, dst_id, link_type").Find(&linkRows).Error; err != nil {
		return "", err
	}
	var emoRows []emoCurrentModel
	if err := db.Where("world_id = ? AND branch = ?", worldID, branch).Order("emo_id").Find(&emoRows).Error; err != nil {
		return "", err
	}
	var emoLinkRows []emoLinkModel
	if err := db.Where("world_id = ? AND branch = ?", worldID, branch).Order("emo_id, rel, target_emo_id, target_uri").Find(&emoLinkRows).Error; err != nil {
		return "", err
	}

	notes := make([]projection.Note, 0, len(noteRows))
	for _, row := range noteRows {
		notes = append(notes, projection.Note{
			WorldID: row.WorldID, Branch: row.Branch, NoteID: row.NoteID,
			Title: row.Title, Body: row.Body,
		})
	}
	tags := make([]projection.NoteTag, 0, len(tagRows))
	for _, row := range tagRows {
		tags = append(tags, projection.NoteTag{
			WorldID: row.WorldID, Branch: row.Branch, NoteID: row.NoteID, Tag: row.Tag,
		})
	}
	links := make([]projection.Link, 0, len(linkRows))
	for _, row := range linkRows {
		links = append(links, projection.Link{
			WorldID: row.WorldID, Branch: row.Branch,
			SrcID: row.SrcID, DstID: row.DstID, LinkType: row.LinkType,
		})
	}
	emos := make([]projection.EMOCurrent, 0, len(emoRows))
	for _, row := range emoRows {
		emos = append(emos, projection.EMOCurrent{
			WorldID: row.WorldID, Branch: row.Branch, EMOID: row.EMOID,
			EMOType: row.EMOType, EMOVersion: row.EMOVersion,
			Content: row.Content, Deleted: row.Deleted,
		})
	}
	emoLinks := make([]projection.EMOLink, 0, len(emoLinkRows))
	for _, row := range emoLinkRows {
		emoLinks = append(emoLinks, projection.EMOLink{
			WorldID: row.WorldID, Branch: row.Branch, EMOID: row.EMOID,
			Rel: row.Rel, TargetEMOID: row.TargetEMOID, TargetURI: row.TargetURI,
		})
	}

	return projection.RenderSnapshot(worldID, branch, notes, tags, links, emos, emoLinks)
}

func (l *Lens) RecordDeterminismHash(ctx context.Context, worldID, branch, hash string) error {
	return l.watermarks.RecordHash(l.db.WithContext(ctx), worldID, branch, hash)
}

func (l *Lens) Rebuild(ctx context.Context, worldID, branch string) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope := "world_id = ? AND branch = ?"
		for _, model := range []any{
			&noteModel{}, &noteTagModel{}, &linkModel{},
			&emoCurrentModel{}, &emoHistoryModel{}, &emoLinkModel{},
		} {
			if err := tx.Where(scope, worldID, branch).Delete(model).Error; err != nil {
				return err
			}
		}
		return l.watermarks.Set(tx, worldID, branch, 0, "")
	})
}

func (l *Lens) RestoreWatermark(ctx context.Context, worldID, branch string, lastProcessedSeq int64, determinismHash string) error {
	return l.watermarks.Set(l.db.WithContext(ctx), worldID, branch, lastProcessedSeq, determinismHash)
}

// lensTx adapts a gorm transaction to the projection mutation surface.
type lensTx struct {
	tx *gorm.DB
}

func (t lensTx) InsertNote(note projection.Note) error {
	return t.tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&noteModel{
		WorldID:   note.WorldID,
		Branch:    note.Branch,
		NoteID:    note.NoteID,
		Title:     note.Title,
		Body:      note.Body,
		CreatedAt: note.CreatedAt,
		UpdatedAt: note.UpdatedAt,
	}).Error
}

func (t lensTx) UpdateNote(worldID, branch, noteID, title, body, updatedAt string) error {
	return t.tx.Model(&noteModel{}).
		Where("world_id = ? AND branch = ? AND note_id = ?", worldID, branch, noteID).
		Updates(map[string]any{"title": title, "body": body, "updated_at": updatedAt}).Error
}

func (t lensTx) DeleteNoteCascade(worldID, branch, noteID string) error {
	if err := t.tx.Where("world_id = ? AND branch = ? AND note_id = ?", worldID, branch, noteID).
		Delete(&noteTagModel{}).Error; err != nil {
		return err
	}
	return t.tx.Where("world_id = ? AND branch = ? AND (src_id = ? OR dst_id = ?)", worldID, branch, noteID, noteID).
		Delete(&linkModel{}).Error
}

func (t lensTx) InsertNoteTag(tag projection.NoteTag) error {
	return t.tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&noteTagModel{
		WorldID:   tag.WorldID,
		Branch:    tag.Branch,
		NoteID:    tag.NoteID,
		Tag:       tag.Tag,
		AppliedAt: tag.AppliedAt,
	}).Error
}

func (t lensTx) DeleteNoteTag(worldID, branch, noteID, tag string) error {
	return t.tx.Where("world_id = ? AND branch = ? AND note_id = ? AND tag = ?", worldID, branch, noteID, tag).
		Delete(&noteTagModel{}).Error
}

func (t lensTx) InsertLink(link projection.Link) error {
	return t.tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&linkModel{
		WorldID:   link.WorldID,
		Branch:    link.Branch,
		SrcID:     link.SrcID,
		DstID:     link.DstID,
		LinkType:  link.LinkType,
		CreatedAt: link.CreatedAt,
	}).Error
}

func (t lensTx) DeleteLink(worldID, branch, srcID, dstID, linkType string) error {
	return t.tx.Where("world_id = ? AND branch = ? AND src_id = ? AND dst_id = ? AND link_type = ?",
		worldID, branch, srcID, dstID, linkType).
		Delete(&linkModel{}).Error
}

func (t lensTx) InsertEMO(emo projection.EMOCurrent) error {
	tags, err := json.Marshal(emo.Tags)
	if err != nil {
		return err
	}
	return t.tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&emoCurrentModel{
		WorldID:    emo.WorldID,
		Branch:     emo.Branch,
		EMOID:      emo.EMOID,
		EMOType:    emo.EMOType,
		EMOVersion: emo.EMOVersion,
		TenantID:   emo.TenantID,
		MimeType:   emo.MimeType,
		Content:    emo.Content,
		Tags:       tags,
		SourceKind: emo.SourceKind,
		SourceURI:  emo.SourceURI,
		UpdatedAt:  time.Now().UTC(),
	}).Error
}

func (t lensTx) UpdateEMO(emo projection.EMOCurrent) error {
	tags, err := json.Marshal(emo.Tags)
	if err != nil {
		return err
	}
	return t.tx.Model(&emoCurrentModel{}).
		Where("world_id = ? AND branch = ? AND emo_id = ?", emo.WorldID, emo.Branch, emo.EMOID).
		Updates(map[string]any{
			"emo_type":    emo.EMOType,
			"emo_version": emo.EMOVersion,
			"mime_type":   emo.MimeType,
			"content":     emo.Content,
			"tags":        tags,
			"updated_at":  time.Now().UTC(),
		}).Error
}

func (t lensTx) SoftDeleteEMO(worldID, branch, emoID, reason string) error {
	now := time.Now().UTC()
	return t.tx.Model(&emoCurrentModel{}).
		Where("world_id = ? AND branch = ? AND emo_id = ?", worldID, branch, emoID).
		Updates(map[string]any{
			"deleted":         true,
			"deleted_at":      &now,
			"deletion_reason": reason,
			"updated_at":      now,
		}).Error
}

func (t lensTx) InsertEMOHistory(entry projection.EMOHistory) error {
	return t.tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&emoHistoryModel{
		WorldID:     entry.WorldID,
		Branch:      entry.Branch,
		EMOID:       entry.EMOID,
		EMOVersion:  entry.EMOVersion,
		Operation:   entry.Operation,
		ContentHash: entry.ContentHash,
		RecordedAt:  time.Now().UTC(),
	}).Error
}

func (t lensTx) ReplaceEMOLinks(worldID, branch, emoID string, links []projection.EMOLink) error {
	if err := t.tx.Where("world_id = ? AND branch = ? AND emo_id = ?", worldID, branch, emoID).
		Delete(&emoLinkModel{}).Error; err != nil {
		return err
	}
	for _, link := range links {
		if err := t.tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&emoLinkModel{
			WorldID:     link.WorldID,
			Branch:      link.Branch,
			EMOID:       link.EMOID,
			Rel:         link.Rel,
			TargetEMOID: link.TargetEMOID,
			TargetURI:   link.TargetURI,
		}).Error; err != nil {
			return err
		}
	}
	return nil
}
