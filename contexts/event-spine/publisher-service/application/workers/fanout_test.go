package workers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	esmemory "mnx/contexts/event-spine/event-store/adapters/memory"
	esports "mnx/contexts/event-spine/event-store/ports"
	"mnx/contexts/event-spine/publisher-service/application/workers"
	"mnx/internal/shared/events"
)

const testWorld = "3f8e2a4c-5b6d-4e7f-8a9b-0c1d2e3f4a5b"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingClient fails delivery to every endpoint listed in failing.
type recordingClient struct {
	mu         sync.Mutex
	deliveries map[string][]events.Delivery
	failing    map[string]error
}

func newRecordingClient() *recordingClient {
	return &recordingClient{
		deliveries: make(map[string][]events.Delivery),
		failing:    make(map[string]error),
	}
}

func (c *recordingClient) Deliver(_ context.Context, endpoint string, delivery events.Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.failing[endpoint]; ok {
		return err
	}
	c.deliveries[endpoint] = append(c.deliveries[endpoint], delivery)
	return nil
}

func (c *recordingClient) count(endpoint string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deliveries[endpoint])
}

// fakeStore scripts the outbox methods the worker exercises and records the
// terminal call per row.
type fakeStore struct {
	esports.EventStore

	mu        sync.Mutex
	batch     []esports.OutboxRow
	retryable bool

	published []int64
	retried   []string
	dead      []string
	poisoned  string
}

func (s *fakeStore) GetUnpublishedBatch(context.Context, int) ([]esports.OutboxRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.batch
	s.batch = nil
	return batch, nil
}

func (s *fakeStore) MarkPublished(_ context.Context, globalSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, globalSeq)
	return nil
}

func (s *fakeStore) MarkRetry(_ context.Context, _ int64, cause string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retried = append(s.retried, cause)
	return s.retryable, nil
}

func (s *fakeStore) MoveToDLQ(_ context.Context, _ int64, reason, poisonedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead = append(s.dead, reason)
	s.poisoned = poisonedBy
	return nil
}

func outboxRow(seq int64, kind string) esports.OutboxRow {
	return esports.OutboxRow{
		GlobalSeq: seq,
		EventID:   "evt-1",
		WorldID:   testWorld,
		Branch:    "main",
		Kind:      kind,
		Envelope: events.Envelope{
			WorldID:    testWorld,
			Branch:     "main",
			Kind:       kind,
			Payload:    json.RawMessage(`{"id":"n1"}`),
			By:         map[string]any{"agent": "user:alice"},
			ReceivedAt: events.FormatUTCTimestamp(time.Now().UTC()),
		},
		PayloadHash: "abc123",
	}
}

func TestProcessBatchPublishesWhenAllEndpointsAccept(t *testing.T) {
	store := &fakeStore{batch: []esports.OutboxRow{outboxRow(1, "note.created")}}
	client := newRecordingClient()
	worker := &workers.FanoutWorker{
		Store:     store,
		Client:    client,
		Endpoints: []string{"http://rel:8000/events", "http://sem:8000/events"},
		Logger:    discardLogger(),
	}

	processed, err := worker.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 processed, got %d", processed)
	}
	if client.count("http://rel:8000/events") != 1 || client.count("http://sem:8000/events") != 1 {
		t.Fatalf("expected one delivery per endpoint")
	}
	if len(store.published) != 1 || store.published[0] != 1 {
		t.Fatalf("expected seq 1 marked published, got %v", store.published)
	}
	if len(store.retried) != 0 || len(store.dead) != 0 {
		t.Fatalf("expected no retry or DLQ on success")
	}
}

func TestProcessBatchDeliveriesCarryPayloadHash(t *testing.T) {
	store := &fakeStore{batch: []esports.OutboxRow{outboxRow(7, "note.updated")}}
	client := newRecordingClient()
	worker := &workers.FanoutWorker{
		Store:     store,
		Client:    client,
		Endpoints: []string{"http://rel:8000/events"},
		Logger:    discardLogger(),
	}

	if _, err := worker.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	delivered := client.deliveries["http://rel:8000/events"]
	if len(delivered) != 1 {
		t.Fatalf("expected one delivery, got %d", len(delivered))
	}
	if delivered[0].GlobalSeq != 7 || delivered[0].PayloadHash != "abc123" {
		t.Fatalf("unexpected delivery: %+v", delivered[0])
	}
}

func TestProcessBatchRetriesOnPartialFailure(t *testing.T) {
	store := &fakeStore{batch: []esports.OutboxRow{outboxRow(1, "note.created")}, retryable: true}
	client := newRecordingClient()
	client.failing["http://sem:8000/events"] = errors.New("status 503")
	worker := &workers.FanoutWorker{
		Store:     store,
		Client:    client,
		Endpoints: []string{"http://rel:8000/events", "http://sem:8000/events"},
		Logger:    discardLogger(),
	}

	if _, err := worker.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(store.published) != 0 {
		t.Fatalf("expected no publish on partial failure, got %v", store.published)
	}
	if len(store.retried) != 1 || !strings.Contains(store.retried[0], "http://sem:8000/events") {
		t.Fatalf("expected retry cause naming failed endpoint, got %v", store.retried)
	}
	if len(store.dead) != 0 {
		t.Fatalf("expected no DLQ while retry budget remains")
	}
	// The healthy endpoint still got the event; it deduplicates re-delivery.
	if client.count("http://rel:8000/events") != 1 {
		t.Fatalf("expected delivery to healthy endpoint")
	}
}

func TestProcessBatchDeadLettersOnExhaustion(t *testing.T) {
	store := &fakeStore{batch: []esports.OutboxRow{outboxRow(1, "note.created")}, retryable: false}
	client := newRecordingClient()
	client.failing["http://rel:8000/events"] = errors.New("connection refused")
	worker := &workers.FanoutWorker{
		Store:       store,
		Client:      client,
		Endpoints:   []string{"http://rel:8000/events"},
		PublisherID: "publisher-1",
		Logger:      discardLogger(),
	}

	if _, err := worker.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(store.dead) != 1 || !strings.Contains(store.dead[0], "connection refused") {
		t.Fatalf("expected dead letter with cause, got %v", store.dead)
	}
	if store.poisoned != "publisher-1" {
		t.Fatalf("expected poisoned_by publisher-1, got %q", store.poisoned)
	}
	if len(store.published) != 0 {
		t.Fatalf("expected no publish for poisoned row")
	}
}

func TestProcessBatchEmptyOutbox(t *testing.T) {
	store := &fakeStore{}
	worker := &workers.FanoutWorker{
		Store:     store,
		Client:    newRecordingClient(),
		Endpoints: []string{"http://rel:8000/events"},
		Logger:    discardLogger(),
	}

	processed, err := worker.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if processed != 0 {
		t.Fatalf("expected 0 processed, got %d", processed)
	}
}

func TestProcessBatchDrainsMemoryStoreOutbox(t *testing.T) {
	store := esmemory.NewStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		envelope := events.Envelope{
			WorldID: testWorld,
			Branch:  "main",
			Kind:    "note.created",
			Payload: json.RawMessage(`{"id":"n1","title":"t"}`),
			By:      map[string]any{"agent": "user:alice"},
		}
		if _, err := store.Append(ctx, envelope, ""); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	client := newRecordingClient()
	worker := &workers.FanoutWorker{
		Store:     store,
		Client:    client,
		Endpoints: []string{"http://rel:8000/events"},
		Logger:    discardLogger(),
	}

	processed, err := worker.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if processed != 3 {
		t.Fatalf("expected 3 processed, got %d", processed)
	}
	if size := store.OutboxSize(); size != 0 {
		t.Fatalf("expected drained outbox, got %d rows", size)
	}
	if client.count("http://rel:8000/events") != 3 {
		t.Fatalf("expected 3 deliveries, got %d", client.count("http://rel:8000/events"))
	}
}
