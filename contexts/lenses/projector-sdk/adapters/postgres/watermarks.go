package postgresadapter

import (
	"errors"
	"time"

	"mnx/contexts/lenses/projector-sdk/ports"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type watermarkModel struct {
	ProjectorName    string    `gorm:"column:projector_name;primaryKey"`
	WorldID          string    `gorm:"column:world_id;type:uuid;primaryKey"`
	Branch           string    `gorm:"column:branch;primaryKey"`
	LastProcessedSeq int64     `gorm:"column:last_processed_seq"`
	DeterminismHash  string    `gorm:"column:determinism_hash"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

func (watermarkModel) TableName() string { return "projector_watermarks" }

// Watermarks owns a projector's rows in the shared projector_watermarks
// table. Advance is meant to run inside the lens's apply transaction so the
// watermark commits with the lens mutation.
type Watermarks struct {
	ProjectorName string
}

func (w Watermarks) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&watermarkModel{})
}

// Advance performs the CAS: the row is locked, and the watermark moves only
// when seq is strictly greater than last_processed_seq. Returns false for
// re-deliveries.
func (w Watermarks) Advance(tx *gorm.DB, worldID, branch string, seq int64) (bool, error) {
	var row watermarkModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("projector_name = ? AND world_id = ? AND branch = ?", w.ProjectorName, worldID, branch).
		First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = watermarkModel{
			ProjectorName:    w.ProjectorName,
			WorldID:          worldID,
			Branch:           branch,
			LastProcessedSeq: seq,
			UpdatedAt:        time.Now().UTC(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, err
	}

	if seq <= row.LastProcessedSeq {
		return false, nil
	}
	return true, tx.Model(&watermarkModel{}).
		Where("projector_name = ? AND world_id = ? AND branch = ?", w.ProjectorName, worldID, branch).
		Updates(map[string]any{
			"last_processed_seq": seq,
			"updated_at":         time.Now().UTC(),
		}).Error
}

func (w Watermarks) List(db *gorm.DB) ([]ports.Watermark, error) {
	var rows []watermarkModel
	if err := db.Where("projector_name = ?", w.ProjectorName).
		Order("world_id, branch").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	watermarks := make([]ports.Watermark, 0, len(rows))
	for _, row := range rows {
		watermarks = append(watermarks, ports.Watermark{
			WorldID:          row.WorldID,
			Branch:           row.Branch,
			LastProcessedSeq: row.LastProcessedSeq,
			DeterminismHash:  row.DeterminismHash,
			UpdatedAt:        row.UpdatedAt,
		})
	}
	return watermarks, nil
}

func (w Watermarks) RecordHash(db *gorm.DB, worldID, branch, hash string) error {
	return db.Model(&watermarkModel{}).
		Where("projector_name = ? AND world_id = ? AND branch = ?", w.ProjectorName, worldID, branch).
		Updates(map[string]any{
			"determinism_hash": hash,
			"updated_at":       time.Now().UTC(),
		}).Error
}

// Set overwrites the watermark unconditionally (restore and rebuild paths).
func (w Watermarks) Set(tx *gorm.DB, worldID, branch string, seq int64, hash string) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "projector_name"}, {Name: "world_id"}, {Name: "branch"}},
		DoUpdates: clause.Assignments(map[string]any{
			"last_processed_seq": seq,
			"determinism_hash":   hash,
			"updated_at":         time.Now().UTC(),
		}),
	}).Create(&watermarkModel{
		ProjectorName:    w.ProjectorName,
		WorldID:          worldID,
		Branch:           branch,
		LastProcessedSeq: seq,
		DeterminismHash:  hash,
		UpdatedAt:        time.Now().UTC(),
	}).Error
}
