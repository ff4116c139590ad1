package postgresadapter

import "time"

type versionModel struct {
	WorldID   string    `gorm:"column:world_id;type:uuid;primaryKey"`
	Branch    string    `gorm:"column:branch;primaryKey"`
	EMOID     string    `gorm:"column:emo_id;type:uuid;primaryKey"`
	Version   int       `gorm:"column:version"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (versionModel) TableName() string { return "lens_translator_versions" }
