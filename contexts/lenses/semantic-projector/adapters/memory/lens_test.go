package memoryadapter

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	hashadapter "mnx/contexts/lenses/semantic-projector/adapters/hash"
	"mnx/contexts/lenses/semantic-projector/domain/embedding"
	"mnx/internal/shared/events"
)

const testWorld = "3f8e2a4c-5b6d-4e7f-8a9b-0c1d2e3f4a5b"

func delivery(t *testing.T, seq int64, kind string, payload map[string]any) events.Delivery {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return events.Delivery{
		GlobalSeq: seq,
		EventID:   "evt",
		Envelope: events.Envelope{
			WorldID: testWorld,
			Branch:  "main",
			Kind:    kind,
			Payload: raw,
			By:      map[string]any{"agent": "user:alice"},
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

func TestNoteEmbeddingUpsertAndDelete(t *testing.T) {
	lens := NewLens(hashadapter.NewEmbedder())

	mustApply(t, lens, delivery(t, 1, "note.created", map[string]any{
		"id": "n1", "title": "greeting", "body": "hello world",
	}))

	row, ok := lens.Embedding(testWorld, "main", "n1", "note")
	if !ok {
		t.Fatalf("expected embedding row")
	}
	if row.ContentHash != embedding.ContentHash("greeting\n\nhello world") {
		t.Fatalf("expected content hash over title and body")
	}
	if len(row.Vector) == 0 {
		t.Fatalf("expected non-empty vector")
	}

	mustApply(t, lens, delivery(t, 2, "note.updated", map[string]any{
		"id": "n1", "title": "greeting", "body": "changed",
	}))
	updated, _ := lens.Embedding(testWorld, "main", "n1", "note")
	if updated.ContentHash == row.ContentHash {
		t.Fatalf("expected content hash to change on update")
	}

	mustApply(t, lens, delivery(t, 3, "note.deleted", map[string]any{"id": "n1"}))
	if _, ok := lens.Embedding(testWorld, "main", "n1", "note"); ok {
		t.Fatalf("expected embedding removed on delete")
	}
}

func TestEMOEmbeddingCarriesVersion(t *testing.T) {
	lens := NewLens(hashadapter.NewEmbedder())

	mustApply(t, lens, delivery(t, 1, "emo.created", map[string]any{
		"emo_id": "e1", "emo_version": 1, "content": "first body",
	}))
	mustApply(t, lens, delivery(t, 2, "emo.updated", map[string]any{
		"emo_id": "e1", "emo_version": 2, "content": "second body",
	}))

	row, ok := lens.Embedding(testWorld, "main", "e1", "emo")
	if !ok {
		t.Fatalf("expected embedding row")
	}
	if row.EMOVersion != 2 {
		t.Fatalf("expected emo_version 2, got %d", row.EMOVersion)
	}
}

func TestEmbedderIsDeterministic(t *testing.T) {
	embedder := hashadapter.NewEmbedder()
	ctx := context.Background()

	first, err := embedder.Embed(ctx, "same text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	second, err := embedder.Embed(ctx, "same text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(first) != embedder.Dimensions() {
		t.Fatalf("expected %d dimensions, got %d", embedder.Dimensions(), len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("expected identical vectors for identical text at dim %d", i)
		}
		if first[i] < -1 || first[i] >= 1 {
			t.Fatalf("expected component in [-1,1), got %v", first[i])
		}
	}

	other, err := embedder.Embed(ctx, "different text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	same := true
	for i := range first {
		if first[i] != other[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("expected different vectors for different text")
	}
}

func TestSnapshotExcludesVectorsAndIsStable(t *testing.T) {
	ctx := context.Background()
	lens := NewLens(hashadapter.NewEmbedder())
	mustApply(t, lens, delivery(t, 1, "note.created", map[string]any{"id": "n2", "title": "b", "body": "y"}))
	mustApply(t, lens, delivery(t, 2, "note.created", map[string]any{"id": "n1", "title": "a", "body": "x"}))

	snapshot, err := lens.SnapshotState(ctx, testWorld, "main")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if strings.Contains(snapshot, "vector") {
		t.Fatalf("expected snapshot to omit vector bytes: %s", snapshot)
	}
	// Entries sort by entity id regardless of arrival order.
	if strings.Index(snapshot, `"n1"`) > strings.Index(snapshot, `"n2"`) {
		t.Fatalf("expected sorted entries: %s", snapshot)
	}

	again, err := lens.SnapshotState(ctx, testWorld, "main")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot != again {
		t.Fatalf("expected stable snapshot rendering")
	}
}

func TestRebuildDropsBranchRows(t *testing.T) {
	ctx := context.Background()
	lens := NewLens(hashadapter.NewEmbedder())
	mustApply(t, lens, delivery(t, 1, "note.created", map[string]any{"id": "n1", "title": "a", "body": "x"}))

	if err := lens.Rebuild(ctx, testWorld, "main"); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if _, ok := lens.Embedding(testWorld, "main", "n1", "note"); ok {
		t.Fatalf("expected rows dropped on rebuild")
	}

	// Watermark reset to zero: seq 1 applies again.
	mustApply(t, lens, delivery(t, 1, "note.created", map[string]any{"id": "n1", "title": "a", "body": "x"}))
	if _, ok := lens.Embedding(testWorld, "main", "n1", "note"); !ok {
		t.Fatalf("expected replay after rebuild")
	}
}
