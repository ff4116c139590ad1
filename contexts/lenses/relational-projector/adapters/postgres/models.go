package postgresadapter

import "time"

type noteModel struct {
	WorldID   string `gorm:"column:world_id;type:uuid;primaryKey"`
	Branch    string `gorm:"column:branch;primaryKey"`
	NoteID    string `gorm:"column:note_id;primaryKey"`
	Title     string `gorm:"column:title"`
	Body      string `gorm:"column:body"`
	CreatedAt string `gorm:"column:created_at"`
	UpdatedAt string `gorm:"column:updated_at"`
}

func (noteModel) TableName() string { return "lens_rel_notes" }

type noteTagModel struct {
	WorldID   string `gorm:"column:world_id;type:uuid;primaryKey"`
	Branch    string `gorm:"column:branch;primaryKey"`
	NoteID    string `gorm:"column:note_id;primaryKey"`
	Tag       string `gorm:"column:tag;primaryKey"`
	AppliedAt string `gorm:"column:applied_at"`
}

func (noteTagModel) TableName() string { return "lens_rel_note_tags" }

type linkModel struct {
	WorldID   string `gorm:"column:world_id;type:uuid;primaryKey"`
	Branch    string `gorm:"column:branch;primaryKey"`
	SrcID     string `gorm:"column:src_id;primaryKey"`
	DstID     string `gorm:"column:dst_id;primaryKey"`
	LinkType  string `gorm:"column:link_type;primaryKey"`
	CreatedAt string `gorm:"column:created_at"`
}

func (linkModel) TableName() string { return "lens_rel_links" }

type emoCurrentModel struct {
	WorldID        string     `gorm:"column:world_id;type:uuid;primaryKey"`
	Branch         string     `gorm:"column:branch;primaryKey"`
	EMOID          string     `gorm:"column:emo_id;type:uuid;primaryKey"`
	EMOType        string     `gorm:"column:emo_type"`
	EMOVersion     int        `gorm:"column:emo_version"`
	TenantID       string     `gorm:"column:tenant_id"`
	MimeType       string     `gorm:"column:mime_type"`
	Content        string     `gorm:"column:content"`
	Tags           []byte     `gorm:"column:tags;type:jsonb"`
	SourceKind     string     `gorm:"column:source_kind"`
	SourceURI      string     `gorm:"column:source_uri"`
	Deleted        bool       `gorm:"column:deleted"`
	DeletedAt      *time.Time `gorm:"column:deleted_at"`
	DeletionReason string     `gorm:"column:deletion_reason"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (emoCurrentModel) TableName() string { return "lens_emo_current" }

type emoHistoryModel struct {
	WorldID     string    `gorm:"column:world_id;type:uuid;primaryKey"`
	Branch      string    `gorm:"column:branch;primaryKey"`
	EMOID       string    `gorm:"column:emo_id;type:uuid;primaryKey"`
	EMOVersion  int       `gorm:"column:emo_version;primaryKey"`
	Operation   string    `gorm:"column:operation"`
	ContentHash string    `gorm:"column:content_hash"`
	RecordedAt  time.Time `gorm:"column:recorded_at"`
}

func (emoHistoryModel) TableName() string { return "lens_emo_history" }

type emoLinkModel struct {
	WorldID     string `gorm:"column:world_id;type:uuid;primaryKey"`
	Branch      string `gorm:"column:branch;primaryKey"`
	EMOID       string `gorm:"column:emo_id;type:uuid;primaryKey"`
	Rel         string `gorm:"column:rel;primaryKey"`
	TargetEMOID string `gorm:"column:target_emo_id;primaryKey"`
	TargetURI   string `gorm:"column:target_uri;primaryKey"`
}

func (emoLinkModel) TableName() string { return "lens_emo_links" }
