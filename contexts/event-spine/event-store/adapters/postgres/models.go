package postgresadapter

import "time"

type eventLogModel struct {
	GlobalSeq      int64      `gorm:"column:global_seq;primaryKey;autoIncrement"`
	EventID        string     `gorm:"column:event_id;type:uuid;uniqueIndex:ux_event_log_event_id"`
	WorldID        string     `gorm:"column:world_id;type:uuid;index:ix_event_log_scope;uniqueIndex:ux_event_log_idem"`
	Branch         string     `gorm:"column:branch;index:ix_event_log_scope;uniqueIndex:ux_event_log_idem"`
	Kind           string     `gorm:"column:kind"`
	Envelope       []byte     `gorm:"column:envelope;type:jsonb"`
	PayloadHash    string     `gorm:"column:payload_hash"`
	IdempotencyKey *string    `gorm:"column:idempotency_key;uniqueIndex:ux_event_log_idem"`
	OccurredAt     *time.Time `gorm:"column:occurred_at"`
	ReceivedAt     time.Time  `gorm:"column:received_at"`
}

func (eventLogModel) TableName() string { return "event_log" }

type outboxModel struct {
	GlobalSeq          int64      `gorm:"column:global_seq;primaryKey"`
	EventID            string     `gorm:"column:event_id;type:uuid"`
	WorldID            string     `gorm:"column:world_id;type:uuid;index:ix_outbox_scope"`
	Branch             string     `gorm:"column:branch;index:ix_outbox_scope"`
	Kind               string     `gorm:"column:kind"`
	Envelope           []byte     `gorm:"column:envelope;type:jsonb"`
	PayloadHash        string     `gorm:"column:payload_hash"`
	ProcessingAttempts int        `gorm:"column:processing_attempts"`
	LastError          string     `gorm:"column:last_error"`
	NextRetryAt        *time.Time `gorm:"column:next_retry_at"`
	PublishedAt        *time.Time `gorm:"column:published_at;index:ix_outbox_published_at"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
}

func (outboxModel) TableName() string { return "outbox" }

type deadLetterModel struct {
	OriginalGlobalSeq int64     `gorm:"column:original_global_seq;primaryKey"`
	EventID           string    `gorm:"column:event_id;type:uuid"`
	WorldID           string    `gorm:"column:world_id;type:uuid"`
	Branch            string    `gorm:"column:branch"`
	Kind              string    `gorm:"column:kind"`
	Envelope          []byte    `gorm:"column:envelope;type:jsonb"`
	Reason            string    `gorm:"column:reason"`
	PoisonedBy        string    `gorm:"column:poisoned_by"`
	MovedAt           time.Time `gorm:"column:moved_at"`
}

func (deadLetterModel) TableName() string { return "dead_letter_queue" }

type branchModel struct {
	WorldID      string    `gorm:"column:world_id;type:uuid;primaryKey"`
	BranchName   string    `gorm:"column:branch_name;primaryKey"`
	ParentBranch string    `gorm:"column:parent_branch"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	CreatedBy    string    `gorm:"column:created_by"`
	Metadata     []byte    `gorm:"column:metadata;type:jsonb"`
}

func (branchModel) TableName() string { return "branches" }

// watermarkReadModel is a read-only view of the table owned by the
// projector SDK; the gateway reports lag from it.
type watermarkReadModel struct {
	ProjectorName    string    `gorm:"column:projector_name"`
	WorldID          string    `gorm:"column:world_id"`
	Branch           string    `gorm:"column:branch"`
	LastProcessedSeq int64     `gorm:"column:last_processed_seq"`
	DeterminismHash  string    `gorm:"column:determinism_hash"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

func (watermarkReadModel) TableName() string { return "projector_watermarks" }
