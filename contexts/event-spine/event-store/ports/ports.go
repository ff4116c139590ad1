package ports

import (
	"context"
	"time"

	"mnx/internal/shared/events"
)

// AppendResult is returned to the gateway caller after a successful
// transactional append of log row + outbox row.
type AppendResult struct {
	EventID    string
	GlobalSeq  int64
	ReceivedAt string
}

// StoredEvent is a log row read back from the event log.
type StoredEvent struct {
	GlobalSeq   int64
	EventID     string
	WorldID     string
	Branch      string
	Kind        string
	Envelope    events.Envelope
	PayloadHash string
	ReceivedAt  string
}

// OutboxRow is an unpublished event claimed for fan-out.
type OutboxRow struct {
	GlobalSeq          int64
	EventID            string
	WorldID            string
	Branch             string
	Kind               string
	Envelope           events.Envelope
	PayloadHash        string
	ProcessingAttempts int
	LastError          string
	NextRetryAt        *time.Time
	PublishedAt        *time.Time
}

// DeadLetter is a poison event parked for manual investigation.
type DeadLetter struct {
	OriginalGlobalSeq int64
	EventID           string
	WorldID           string
	Branch            string
	Kind              string
	Envelope          events.Envelope
	Reason            string
	PoisonedBy        string
	MovedAt           time.Time
}

// Branch is a registered divergence within a world.
type Branch struct {
	WorldID      string
	Name         string
	ParentBranch string
	CreatedAt    time.Time
	CreatedBy    string
	Metadata     map[string]any
}

// ProjectorWatermark is the per-(projector, world, branch) progress record.
// Lenses own the writes; the gateway only reads these for health/lag.
type ProjectorWatermark struct {
	ProjectorName    string
	WorldID          string
	Branch           string
	LastProcessedSeq int64
	DeterminismHash  string
	UpdatedAt        time.Time
}

// EventFilter narrows ListEvents. Zero values mean "no filter"; Limit is
// clamped to 1..1000 by callers.
type EventFilter struct {
	WorldID        string
	Branch         string
	Kind           string
	AfterGlobalSeq int64
	Limit          int
}

// EventStore is the append-only log plus its transactional outbox and DLQ.
// Append is all-or-nothing: the log row and outbox row commit together.
type EventStore interface {
	// Append validates nothing beyond uniqueness; callers validate the
	// envelope first. A non-empty idempotencyKey that collides within
	// (world_id, branch) fails with ErrDuplicateIdempotencyKey.
	Append(ctx context.Context, envelope events.Envelope, idempotencyKey string) (AppendResult, error)

	GetByEventID(ctx context.Context, eventID string) (StoredEvent, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]StoredEvent, bool, error)
	LatestGlobalSeq(ctx context.Context) (int64, error)

	// GetUnpublishedBatch claims up to limit due rows in global_seq order.
	// Claimed rows are invisible to concurrent claimers until the claim
	// window lapses or the row is marked published/retried.
	GetUnpublishedBatch(ctx context.Context, limit int) ([]OutboxRow, error)

	// MarkPublished stamps published_at and clears retry metadata. Idempotent.
	MarkPublished(ctx context.Context, globalSeq int64) error

	// MarkRetry increments attempts, records the error, and schedules the
	// next attempt with exponential backoff. Returns false when the retry
	// budget is exhausted and the row should move to the DLQ.
	MarkRetry(ctx context.Context, globalSeq int64, cause string, baseDelay time.Duration) (bool, error)

	// MoveToDLQ inserts the dead-letter row and removes the outbox row in
	// one transaction. Poisoned events never re-enter the outbox.
	MoveToDLQ(ctx context.Context, globalSeq int64, reason, poisonedBy string) error

	// ComputeDeterminismHash hashes `global_seq|event_id|kind|payload_hash`
	// lines for events in the inclusive range, ordered by global_seq.
	ComputeDeterminismHash(ctx context.Context, worldID, branch string, startSeq, endSeq int64) (string, error)

	ProjectorWatermarks(ctx context.Context) ([]ProjectorWatermark, error)
}

// BranchRegistry tracks legal branches and their lineage.
type BranchRegistry interface {
	CreateBranch(ctx context.Context, branch Branch) error
	GetBranch(ctx context.Context, worldID, name string) (Branch, error)
	ListBranches(ctx context.Context, worldID string) ([]Branch, error)
}
