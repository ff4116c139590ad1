package memoryadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"mnx/contexts/lenses/emo-translator/domain/translate"
	"mnx/internal/shared/events"
)

const testWorld = "3f8e2a4c-5b6d-4e7f-8a9b-0c1d2e3f4a5b"

// captureEmitter records emitted envelopes and can be told to fail.
type captureEmitter struct {
	emitted []events.Envelope
	err     error
}

func (e *captureEmitter) Emit(_ context.Context, envelope events.Envelope) error {
	if e.err != nil {
		return e.err
	}
	e.emitted = append(e.emitted, envelope)
	return nil
}

func newTestLens(emitter *captureEmitter) *Lens {
	return NewLens(emitter, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func memoryDelivery(t *testing.T, seq int64, kind string, payload map[string]any) events.Delivery {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return events.Delivery{
		GlobalSeq: seq,
		EventID:   "evt",
		Envelope: events.Envelope{
			WorldID:    testWorld,
			Branch:     "main",
			Kind:       kind,
			Payload:    raw,
			By:         map[string]any{"agent": "user:alice"},
			OccurredAt: "2026-08-24T10:00:00Z",
		},
	}
}

func mustApply(t *testing.T, lens *Lens, d events.Delivery) {
	t.Helper()
	applied, err := lens.Apply(context.Background(), d)
	if err != nil {
		t.Fatalf("apply seq %d (%s): %v", d.GlobalSeq, d.Envelope.Kind, err)
	}
	if !applied {
		t.Fatalf("apply seq %d (%s): unexpectedly skipped", d.GlobalSeq, d.Envelope.Kind)
	}
}

func TestUpsertEmitsCreatedThenUpdated(t *testing.T) {
	emitter := &captureEmitter{}
	lens := newTestLens(emitter)
	emoID := translate.DeriveEMOID("mem-1")

	mustApply(t, lens, memoryDelivery(t, 1, "memory.item.upserted", map[string]any{
		"id": "mem-1", "title": "note", "content": "first",
	}))
	mustApply(t, lens, memoryDelivery(t, 2, "memory.item.upserted", map[string]any{
		"id": "mem-1", "title": "note", "content": "second",
	}))

	if len(emitter.emitted) != 2 {
		t.Fatalf("expected 2 emissions, got %d", len(emitter.emitted))
	}
	if emitter.emitted[0].Kind != "emo.created" || emitter.emitted[1].Kind != "emo.updated" {
		t.Fatalf("expected created then updated, got %s then %s", emitter.emitted[0].Kind, emitter.emitted[1].Kind)
	}
	if got := lens.Version(testWorld, "main", emoID); got != 2 {
		t.Fatalf("expected version 2, got %d", got)
	}
	if want := translate.IdempotencyKey(emoID, 2, "updated"); emitter.emitted[1].IdempotencyKey != want {
		t.Fatalf("expected key %s, got %s", want, emitter.emitted[1].IdempotencyKey)
	}
}

func TestDeleteEmitsNextVersion(t *testing.T) {
	emitter := &captureEmitter{}
	lens := newTestLens(emitter)
	emoID := translate.DeriveEMOID("mem-1")

	mustApply(t, lens, memoryDelivery(t, 1, "memory.item.upserted", map[string]any{
		"id": "mem-1", "title": "note", "content": "c",
	}))
	mustApply(t, lens, memoryDelivery(t, 2, "memory.item.deleted", map[string]any{"id": "mem-1"}))

	if len(emitter.emitted) != 2 || emitter.emitted[1].Kind != "emo.deleted" {
		t.Fatalf("expected emo.deleted emission, got %+v", emitter.emitted)
	}
	if got := lens.Version(testWorld, "main", emoID); got != 2 {
		t.Fatalf("expected delete to claim version 2, got %d", got)
	}
}

func TestDeleteOfUnknownMemoryIsNoOp(t *testing.T) {
	emitter := &captureEmitter{}
	lens := newTestLens(emitter)

	mustApply(t, lens, memoryDelivery(t, 1, "memory.item.deleted", map[string]any{"id": "mem-ghost"}))

	if len(emitter.emitted) != 0 {
		t.Fatalf("expected no emission for unknown delete, got %+v", emitter.emitted)
	}
	if got := lens.Version(testWorld, "main", translate.DeriveEMOID("mem-ghost")); got != 0 {
		t.Fatalf("expected no version tracked, got %d", got)
	}
}

func TestEmbedGeneratedIsObservedOnly(t *testing.T) {
	emitter := &captureEmitter{}
	lens := newTestLens(emitter)

	mustApply(t, lens, memoryDelivery(t, 1, "memory.embed.generated", map[string]any{"id": "mem-1"}))
	if len(emitter.emitted) != 0 {
		t.Fatalf("expected no emission for embed event, got %+v", emitter.emitted)
	}
}

func TestEmitFailureRollsBackWatermark(t *testing.T) {
	emitter := &captureEmitter{err: errors.New("gateway unreachable")}
	lens := newTestLens(emitter)
	emoID := translate.DeriveEMOID("mem-1")
	delivery := memoryDelivery(t, 1, "memory.item.upserted", map[string]any{
		"id": "mem-1", "title": "note", "content": "c",
	})

	if _, err := lens.Apply(context.Background(), delivery); err == nil {
		t.Fatalf("expected emit failure to propagate")
	}
	if got := lens.Version(testWorld, "main", emoID); got != 0 {
		t.Fatalf("expected version untouched after failure, got %d", got)
	}

	// The same delivery applies once the gateway recovers.
	emitter.err = nil
	mustApply(t, lens, delivery)
	if got := lens.Version(testWorld, "main", emoID); got != 1 {
		t.Fatalf("expected version 1 after retry, got %d", got)
	}
	if len(emitter.emitted) != 1 || emitter.emitted[0].Kind != "emo.created" {
		t.Fatalf("expected single emo.created after retry, got %+v", emitter.emitted)
	}
}

func TestRedeliverySkipsEmission(t *testing.T) {
	emitter := &captureEmitter{}
	lens := newTestLens(emitter)
	delivery := memoryDelivery(t, 1, "memory.item.upserted", map[string]any{
		"id": "mem-1", "title": "note", "content": "c",
	})

	mustApply(t, lens, delivery)
	applied, err := lens.Apply(context.Background(), delivery)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if applied {
		t.Fatalf("expected re-delivery to be skipped")
	}
	if len(emitter.emitted) != 1 {
		t.Fatalf("expected single emission, got %d", len(emitter.emitted))
	}
}

func TestSnapshotListsTrackedVersions(t *testing.T) {
	emitter := &captureEmitter{}
	lens := newTestLens(emitter)
	mustApply(t, lens, memoryDelivery(t, 1, "memory.item.upserted", map[string]any{
		"id": "mem-1", "title": "note", "content": "c",
	}))

	snapshot, err := lens.SnapshotState(context.Background(), testWorld, "main")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	var state struct {
		Lens     string `json:"lens"`
		Versions []struct {
			EMOID   string `json:"emo_id"`
			Version int    `json:"version"`
		} `json:"versions"`
	}
	if err := json.Unmarshal([]byte(snapshot), &state); err != nil {
		t.Fatalf("decode snapshot %q: %v", snapshot, err)
	}
	if state.Lens != "translator" || len(state.Versions) != 1 {
		t.Fatalf("unexpected snapshot: %+v", state)
	}
	if state.Versions[0].EMOID != translate.DeriveEMOID("mem-1") || state.Versions[0].Version != 1 {
		t.Fatalf("unexpected version entry: %+v", state.Versions[0])
	}
}

// The emitted emo.* stream must be consumable by the downstream lenses: the
// translator's output payloads carry everything the relational projection
// needs to materialize current state and history.
func TestEmittedPayloadRoundTripsIDs(t *testing.T) {
	emitter := &captureEmitter{}
	lens := newTestLens(emitter)
	mustApply(t, lens, memoryDelivery(t, 1, "memory.item.upserted", map[string]any{
		"id": "mem-1", "title": "note", "content": "c",
		"parent_id":  "mem-0",
		"references": []string{"mem-9"},
	}))

	var payload struct {
		EMOID   string `json:"emo_id"`
		Parents []struct {
			EMOID string `json:"emo_id"`
			Rel   string `json:"rel"`
		} `json:"parents"`
		Links []struct {
			Kind string `json:"kind"`
			Ref  string `json:"ref"`
		} `json:"links"`
	}
	if err := json.Unmarshal(emitter.emitted[0].Payload, &payload); err != nil {
		t.Fatalf("decode emitted payload: %v", err)
	}
	if payload.EMOID != translate.DeriveEMOID("mem-1") {
		t.Fatalf("unexpected emo_id: %s", payload.EMOID)
	}
	if len(payload.Parents) != 1 || payload.Parents[0].EMOID != translate.DeriveEMOID("mem-0") || payload.Parents[0].Rel != "derived" {
		t.Fatalf("unexpected parents: %+v", payload.Parents)
	}
	if len(payload.Links) != 1 || payload.Links[0].Kind != "emo" || payload.Links[0].Ref != translate.DeriveEMOID("mem-9") {
		t.Fatalf("unexpected links: %+v", payload.Links)
	}
}
