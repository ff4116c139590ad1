package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	domainerrors "mnx/contexts/event-spine/event-store/domain/errors"
	"mnx/contexts/event-spine/event-store/domain/determinism"
	"mnx/contexts/event-spine/event-store/domain/retry"
	"mnx/contexts/event-spine/event-store/ports"
	"mnx/internal/shared/events"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// claimWindow keeps freshly claimed outbox rows invisible to concurrent
// publishers until the claimer reports an outcome.
const claimWindow = 30 * time.Second

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, logger: logger}
}

// Migrate creates the event-spine tables. Versioned DDL artifacts ship with
// deployments; this covers development and test databases.
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&eventLogModel{},
		&outboxModel{},
		&deadLetterModel{},
		&branchModel{},
	)
}

func (r *Repository) Append(ctx context.Context, envelope events.Envelope, idempotencyKey string) (ports.AppendResult, error) {
	receivedAt := time.Now().UTC()
	payloadHash, err := envelope.ComputePayloadHash()
	if err != nil {
		return ports.AppendResult{}, fmt.Errorf("compute payload hash: %w", err)
	}

	enriched := envelope
	enriched.ReceivedAt = events.FormatUTCTimestamp(receivedAt)
	enriched.PayloadHash = payloadHash
	if idempotencyKey != "" {
		enriched.IdempotencyKey = idempotencyKey
	}
	envelopeJSON, err := json.Marshal(enriched)
	if err != nil {
		return ports.AppendResult{}, fmt.Errorf("encode envelope: %w", err)
	}

	var occurredAt *time.Time
	if envelope.OccurredAt != "" {
		parsed, err := events.ParseUTCTimestamp(envelope.OccurredAt)
		if err != nil {
			return ports.AppendResult{}, err
		}
		utc := parsed.UTC()
		occurredAt = &utc
	}

	var key *string
	if idempotencyKey != "" {
		key = &idempotencyKey
	}

	row := eventLogModel{
		EventID:        uuid.NewString(),
		WorldID:        envelope.WorldID,
		Branch:         envelope.Branch,
		Kind:           envelope.Kind,
		Envelope:       envelopeJSON,
		PayloadHash:    payloadHash,
		IdempotencyKey: key,
		OccurredAt:     occurredAt,
		ReceivedAt:     receivedAt,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrDuplicateIdempotencyKey
			}
			return err
		}
		outbox := outboxModel{
			GlobalSeq:   row.GlobalSeq,
			EventID:     row.EventID,
			WorldID:     row.WorldID,
			Branch:      row.Branch,
			Kind:        row.Kind,
			Envelope:    envelopeJSON,
			PayloadHash: payloadHash,
			CreatedAt:   receivedAt,
		}
		return tx.Create(&outbox).Error
	})
	if err != nil {
		return ports.AppendResult{}, err
	}

	return ports.AppendResult{
		EventID:    row.EventID,
		GlobalSeq:  row.GlobalSeq,
		ReceivedAt: enriched.ReceivedAt,
	}, nil
}

func (r *Repository) GetByEventID(ctx context.Context, eventID string) (ports.StoredEvent, error) {
	var row eventLogModel
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.StoredEvent{}, domainerrors.ErrEventNotFound
		}
		return ports.StoredEvent{}, err
	}
	return storedEventFromLogModel(row)
}

func (r *Repository) ListEvents(ctx context.Context, filter ports.EventFilter) ([]ports.StoredEvent, bool, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	tx := r.db.WithContext(ctx).Model(&eventLogModel{})
	if filter.WorldID != "" {
		tx = tx.Where("world_id = ?", filter.WorldID)
	}
	if filter.Branch != "" {
		tx = tx.Where("branch = ?", filter.Branch)
	}
	if filter.Kind != "" {
		tx = tx.Where("kind = ?", filter.Kind)
	}
	if filter.AfterGlobalSeq > 0 {
		tx = tx.Where("global_seq > ?", filter.AfterGlobalSeq)
	}

	var rows []eventLogModel
	if err := tx.Order("global_seq").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, false, err
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	items := make([]ports.StoredEvent, 0, len(rows))
	for _, row := range rows {
		item, err := storedEventFromLogModel(row)
		if err != nil {
			return nil, false, err
		}
		items = append(items, item)
	}
	return items, hasMore, nil
}

func (r *Repository) LatestGlobalSeq(ctx context.Context) (int64, error) {
	var latest int64
	err := r.db.WithContext(ctx).
		Model(&eventLogModel{}).
		Select("COALESCE(MAX(global_seq), 0)").
		Scan(&latest).
		Error
	return latest, err
}

func (r *Repository) GetUnpublishedBatch(ctx context.Context, limit int) ([]ports.OutboxRow, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []outboxModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("published_at IS NULL").
			Where("next_retry_at IS NULL OR next_retry_at <= ?", time.Now().UTC()).
			Order("global_seq").
			Limit(limit).
			Find(&rows).
			Error
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		seqs := make([]int64, 0, len(rows))
		for _, row := range rows {
			seqs = append(seqs, row.GlobalSeq)
		}
		// Stamp a claim so concurrent pollers skip these rows until the
		// claimer marks them published or retried.
		return tx.Model(&outboxModel{}).
			Where("global_seq IN ?", seqs).
			Update("next_retry_at", time.Now().UTC().Add(claimWindow)).
			Error
	})
	if err != nil {
		return nil, err
	}

	items := make([]ports.OutboxRow, 0, len(rows))
	for _, row := range rows {
		item, err := outboxRowFromModel(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *Repository) MarkPublished(ctx context.Context, globalSeq int64) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("global_seq = ? AND published_at IS NULL", globalSeq).
		Updates(map[string]any{
			"published_at":  now,
			"next_retry_at": nil,
			"last_error":    "",
		}).
		Error
}

func (r *Repository) MarkRetry(ctx context.Context, globalSeq int64, cause string, baseDelay time.Duration) (bool, error) {
	var retryable bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row outboxModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("global_seq = ?", globalSeq).
			First(&row).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrOutboxRowNotFound
			}
			return err
		}
		if row.PublishedAt != nil {
			return domainerrors.ErrAlreadyPublished
		}

		attempts := row.ProcessingAttempts + 1
		nextRetry := time.Now().UTC().Add(retry.NextDelay(baseDelay, attempts))
		retryable = retry.Retryable(attempts)

		return tx.Model(&outboxModel{}).
			Where("global_seq = ?", globalSeq).
			Updates(map[string]any{
				"processing_attempts": attempts,
				"last_error":          cause,
				"next_retry_at":       nextRetry,
			}).
			Error
	})
	if err != nil {
		return false, err
	}
	return retryable, nil
}

func (r *Repository) MoveToDLQ(ctx context.Context, globalSeq int64, reason, poisonedBy string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row outboxModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("global_seq = ?", globalSeq).
			First(&row).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrOutboxRowNotFound
			}
			return err
		}

		dead := deadLetterModel{
			OriginalGlobalSeq: row.GlobalSeq,
			EventID:           row.EventID,
			WorldID:           row.WorldID,
			Branch:            row.Branch,
			Kind:              row.Kind,
			Envelope:          row.Envelope,
			Reason:            reason,
			PoisonedBy:        poisonedBy,
			MovedAt:           time.Now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "original_global_seq"}},
			DoNothing: true,
		}).Create(&dead).Error; err != nil {
			return err
		}
		return tx.Where("global_seq = ?", globalSeq).Delete(&outboxModel{}).Error
	})
}

func (r *Repository) ComputeDeterminismHash(ctx context.Context, worldID, branch string, startSeq, endSeq int64) (string, error) {
	var rows []eventLogModel
	err := r.db.WithContext(ctx).
		Select("global_seq", "event_id", "kind", "payload_hash").
		Where("world_id = ? AND branch = ?", worldID, branch).
		Where("global_seq >= ? AND global_seq <= ?", startSeq, endSeq).
		Order("global_seq").
		Find(&rows).
		Error
	if err != nil {
		return "", err
	}

	lines := make([]determinism.Line, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, determinism.Line{
			GlobalSeq:   row.GlobalSeq,
			EventID:     row.EventID,
			Kind:        row.Kind,
			PayloadHash: row.PayloadHash,
		})
	}
	return determinism.Hash(lines), nil
}

func (r *Repository) ProjectorWatermarks(ctx context.Context) ([]ports.ProjectorWatermark, error) {
	var rows []watermarkReadModel
	err := r.db.WithContext(ctx).
		Order("projector_name, world_id, branch").
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}

	items := make([]ports.ProjectorWatermark, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.ProjectorWatermark{
			ProjectorName:    row.ProjectorName,
			WorldID:          row.WorldID,
			Branch:           row.Branch,
			LastProcessedSeq: row.LastProcessedSeq,
			DeterminismHash:  row.DeterminismHash,
			UpdatedAt:        row.UpdatedAt,
		})
	}
	return items, nil
}

func (r *Repository) CreateBranch(ctx context.Context, branch ports.Branch) error {
	metadata := []byte("{}")
	if branch.Metadata != nil {
		encoded, err := json.Marshal(branch.Metadata)
		if err != nil {
			return fmt.Errorf("encode branch metadata: %w", err)
		}
		metadata = encoded
	}
	row := branchModel{
		WorldID:      branch.WorldID,
		BranchName:   branch.Name,
		ParentBranch: branch.ParentBranch,
		CreatedAt:    branch.CreatedAt.UTC(),
		CreatedBy:    branch.CreatedBy,
		Metadata:     metadata,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrBranchExists
		}
		return err
	}
	return nil
}

func (r *Repository) GetBranch(ctx context.Context, worldID, name string) (ports.Branch, error) {
	var row branchModel
	err := r.db.WithContext(ctx).
		Where("world_id = ? AND branch_name = ?", worldID, name).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Branch{}, domainerrors.ErrBranchNotFound
		}
		return ports.Branch{}, err
	}
	return branchFromModel(row)
}

func (r *Repository) ListBranches(ctx context.Context, worldID string) ([]ports.Branch, error) {
	var rows []branchModel
	err := r.db.WithContext(ctx).
		Where("world_id = ?", worldID).
		Order("branch_name").
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}

	items := make([]ports.Branch, 0, len(rows))
	for _, row := range rows {
		item, err := branchFromModel(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func storedEventFromLogModel(row eventLogModel) (ports.StoredEvent, error) {
	var envelope events.Envelope
	if err := json.Unmarshal(row.Envelope, &envelope); err != nil {
		return ports.StoredEvent{}, fmt.Errorf("decode stored envelope %d: %w", row.GlobalSeq, err)
	}
	return ports.StoredEvent{
		GlobalSeq:   row.GlobalSeq,
		EventID:     row.EventID,
		WorldID:     row.WorldID,
		Branch:      row.Branch,
		Kind:        row.Kind,
		Envelope:    envelope,
		PayloadHash: row.PayloadHash,
		ReceivedAt:  events.FormatUTCTimestamp(row.ReceivedAt),
	}, nil
}

func outboxRowFromModel(row outboxModel) (ports.OutboxRow, error) {
	var envelope events.Envelope
	if err := json.Unmarshal(row.Envelope, &envelope); err != nil {
		return ports.OutboxRow{}, fmt.Errorf("decode outbox envelope %d: %w", row.GlobalSeq, err)
	}
	return ports.OutboxRow{
		GlobalSeq:          row.GlobalSeq,
		EventID:            row.EventID,
		WorldID:            row.WorldID,
		Branch:             row.Branch,
		Kind:               row.Kind,
		Envelope:           envelope,
		PayloadHash:        row.PayloadHash,
		ProcessingAttempts: row.ProcessingAttempts,
		LastError:          row.LastError,
		NextRetryAt:        row.NextRetryAt,
		PublishedAt:        row.PublishedAt,
	}, nil
}

func branchFromModel(row branchModel) (ports.Branch, error) {
	var metadata map[string]any
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			return ports.Branch{}, fmt.Errorf("decode branch metadata: %w", err)
		}
	}
	return ports.Branch{
		WorldID:      row.WorldID,
		Name:         row.BranchName,
		ParentBranch: row.ParentBranch,
		CreatedAt:    row.CreatedAt,
		CreatedBy:    row.CreatedBy,
		Metadata:     metadata,
	}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
