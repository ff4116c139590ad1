package postgresadapter

import "time"

type embeddingModel struct {
	WorldID      string    `gorm:"column:world_id;type:uuid;primaryKey"`
	Branch       string    `gorm:"column:branch;primaryKey"`
	EntityID     string    `gorm:"column:entity_id;primaryKey"`
	EntityType   string    `gorm:"column:entity_type;primaryKey"`
	ModelID      string    `gorm:"column:model_id;primaryKey"`
	ModelVersion string    `gorm:"column:model_version"`
	TemplateID   string    `gorm:"column:template_id"`
	EMOVersion   int       `gorm:"column:emo_version"`
	ContentHash  string    `gorm:"column:content_hash"`
	Vector       []byte    `gorm:"column:vector;type:jsonb"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (embeddingModel) TableName() string { return "lens_sem_embeddings" }
