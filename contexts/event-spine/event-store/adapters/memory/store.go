package memoryadapter

import (
	"context"
	"sort"
	"sync"
	"time"

	"mnx/contexts/event-spine/event-store/domain/determinism"
	domainerrors "mnx/contexts/event-spine/event-store/domain/errors"
	"mnx/contexts/event-spine/event-store/domain/retry"
	"mnx/contexts/event-spine/event-store/ports"
	"mnx/internal/shared/events"

	"github.com/google/uuid"
)

// Store is the in-memory event store used by tests. It mirrors the postgres
// adapter's semantics: transactional append, claim window on unpublished
// batches, store-computed backoff, DLQ moves.
type Store struct {
	mu          sync.Mutex
	nextSeq     int64
	log         []ports.StoredEvent
	outbox      map[int64]*ports.OutboxRow
	dead        map[int64]ports.DeadLetter
	branches    map[string]ports.Branch
	watermarks  []ports.ProjectorWatermark
	claimWindow time.Duration
	now         func() time.Time
}

func NewStore() *Store {
	return &Store{
		outbox:      make(map[int64]*ports.OutboxRow),
		dead:        make(map[int64]ports.DeadLetter),
		branches:    make(map[string]ports.Branch),
		claimWindow: 30 * time.Second,
		now:         time.Now,
	}
}

func (s *Store) Append(_ context.Context, envelope events.Envelope, idempotencyKey string) (ports.AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idempotencyKey != "" {
		for _, stored := range s.log {
			if stored.WorldID == envelope.WorldID &&
				stored.Branch == envelope.Branch &&
				stored.Envelope.IdempotencyKey == idempotencyKey {
				return ports.AppendResult{}, domainerrors.ErrDuplicateIdempotencyKey
			}
		}
	}

	payloadHash, err := envelope.ComputePayloadHash()
	if err != nil {
		return ports.AppendResult{}, err
	}

	receivedAt := events.FormatUTCTimestamp(s.now().UTC())
	enriched := envelope
	enriched.ReceivedAt = receivedAt
	enriched.PayloadHash = payloadHash
	if idempotencyKey != "" {
		enriched.IdempotencyKey = idempotencyKey
	}

	s.nextSeq++
	stored := ports.StoredEvent{
		GlobalSeq:   s.nextSeq,
		EventID:     uuid.NewString(),
		WorldID:     envelope.WorldID,
		Branch:      envelope.Branch,
		Kind:        envelope.Kind,
		Envelope:    enriched,
		PayloadHash: payloadHash,
		ReceivedAt:  receivedAt,
	}
	s.log = append(s.log, stored)
	s.outbox[stored.GlobalSeq] = &ports.OutboxRow{
		GlobalSeq:   stored.GlobalSeq,
		EventID:     stored.EventID,
		WorldID:     stored.WorldID,
		Branch:      stored.Branch,
		Kind:        stored.Kind,
		Envelope:    enriched,
		PayloadHash: payloadHash,
	}

	return ports.AppendResult{
		EventID:    stored.EventID,
		GlobalSeq:  stored.GlobalSeq,
		ReceivedAt: receivedAt,
	}, nil
}

func (s *Store) GetByEventID(_ context.Context, eventID string) (ports.StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stored := range s.log {
		if stored.EventID == eventID {
			return stored, nil
		}
	}
	return ports.StoredEvent{}, domainerrors.ErrEventNotFound
}

func (s *Store) ListEvents(_ context.Context, filter ports.EventFilter) ([]ports.StoredEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var matched []ports.StoredEvent
	for _, stored := range s.log {
		if filter.WorldID != "" && stored.WorldID != filter.WorldID {
			continue
		}
		if filter.Branch != "" && stored.Branch != filter.Branch {
			continue
		}
		if filter.Kind != "" && stored.Kind != filter.Kind {
			continue
		}
		if filter.AfterGlobalSeq > 0 && stored.GlobalSeq <= filter.AfterGlobalSeq {
			continue
		}
		matched = append(matched, stored)
	}

	hasMore := len(matched) > limit
	if hasMore {
		matched = matched[:limit]
	}
	return matched, hasMore, nil
}

func (s *Store) LatestGlobalSeq(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq, nil
}

func (s *Store) GetUnpublishedBatch(_ context.Context, limit int) ([]ports.OutboxRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	now := s.now().UTC()

	due := make([]*ports.OutboxRow, 0, len(s.outbox))
	for _, row := range s.outbox {
		if row.PublishedAt != nil {
			continue
		}
		if row.NextRetryAt != nil && row.NextRetryAt.After(now) {
			continue
		}
		due = append(due, row)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].GlobalSeq < due[j].GlobalSeq })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]ports.OutboxRow, 0, len(due))
	claimUntil := now.Add(s.claimWindow)
	for _, row := range due {
		row.NextRetryAt = &claimUntil
		claimed = append(claimed, *row)
	}
	return claimed, nil
}

func (s *Store) MarkPublished(_ context.Context, globalSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.outbox[globalSeq]
	if !ok || row.PublishedAt != nil {
		return nil
	}
	now := s.now().UTC()
	row.PublishedAt = &now
	row.NextRetryAt = nil
	row.LastError = ""
	return nil
}

func (s *Store) MarkRetry(_ context.Context, globalSeq int64, cause string, baseDelay time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.outbox[globalSeq]
	if !ok {
		return false, domainerrors.ErrOutboxRowNotFound
	}
	if row.PublishedAt != nil {
		return false, domainerrors.ErrAlreadyPublished
	}

	row.ProcessingAttempts++
	row.LastError = cause
	next := s.now().UTC().Add(retry.NextDelay(baseDelay, row.ProcessingAttempts))
	row.NextRetryAt = &next
	return retry.Retryable(row.ProcessingAttempts), nil
}

func (s *Store) MoveToDLQ(_ context.Context, globalSeq int64, reason, poisonedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.outbox[globalSeq]
	if !ok {
		return domainerrors.ErrOutboxRowNotFound
	}
	s.dead[globalSeq] = ports.DeadLetter{
		OriginalGlobalSeq: row.GlobalSeq,
		EventID:           row.EventID,
		WorldID:           row.WorldID,
		Branch:            row.Branch,
		Kind:              row.Kind,
		Envelope:          row.Envelope,
		Reason:            reason,
		PoisonedBy:        poisonedBy,
		MovedAt:           s.now().UTC(),
	}
	delete(s.outbox, globalSeq)
	return nil
}

func (s *Store) ComputeDeterminismHash(_ context.Context, worldID, branch string, startSeq, endSeq int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lines []determinism.Line
	for _, stored := range s.log {
		if stored.WorldID != worldID || stored.Branch != branch {
			continue
		}
		if stored.GlobalSeq < startSeq || stored.GlobalSeq > endSeq {
			continue
		}
		lines = append(lines, determinism.Line{
			GlobalSeq:   stored.GlobalSeq,
			EventID:     stored.EventID,
			Kind:        stored.Kind,
			PayloadHash: stored.PayloadHash,
		})
	}
	return determinism.Hash(lines), nil
}

func (s *Store) ProjectorWatermarks(_ context.Context) ([]ports.ProjectorWatermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.ProjectorWatermark, len(s.watermarks))
	copy(out, s.watermarks)
	return out, nil
}

// SetProjectorWatermarks seeds watermark rows for gateway health tests.
func (s *Store) SetProjectorWatermarks(watermarks []ports.ProjectorWatermark) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks = append([]ports.ProjectorWatermark(nil), watermarks...)
}

func (s *Store) CreateBranch(_ context.Context, branch ports.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := branch.WorldID + "/" + branch.Name
	if _, ok := s.branches[key]; ok {
		return domainerrors.ErrBranchExists
	}
	s.branches[key] = branch
	return nil
}

func (s *Store) GetBranch(_ context.Context, worldID, name string) (ports.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, ok := s.branches[worldID+"/"+name]
	if !ok {
		return ports.Branch{}, domainerrors.ErrBranchNotFound
	}
	return branch, nil
}

func (s *Store) ListBranches(_ context.Context, worldID string) ([]ports.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ports.Branch
	for _, branch := range s.branches {
		if branch.WorldID == worldID {
			out = append(out, branch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// OutboxSize reports unpublished rows; used by tests and lag metrics.
func (s *Store) OutboxSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.outbox {
		if row.PublishedAt == nil {
			n++
		}
	}
	return n
}

// DeadLetters returns a copy of the DLQ contents.
func (s *Store) DeadLetters() []ports.DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.DeadLetter, 0, len(s.dead))
	for _, d := range s.dead {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OriginalGlobalSeq < out[j].OriginalGlobalSeq })
	return out
}

// OutboxRow returns the current row state for assertions.
func (s *Store) OutboxRow(globalSeq int64) (ports.OutboxRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.outbox[globalSeq]
	if !ok {
		return ports.OutboxRow{}, false
	}
	return *row, true
}
