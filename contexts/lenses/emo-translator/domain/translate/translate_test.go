package translate

import (
	"encoding/json"
	"strings"
	"testing"

	"mnx/internal/shared/events"

	"github.com/google/uuid"
)

const testWorld = "3f8e2a4c-5b6d-4e7f-8a9b-0c1d2e3f4a5b"

func memoryEnvelope(t *testing.T, payload map[string]any) events.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return events.Envelope{
		WorldID:    testWorld,
		Branch:     "main",
		Kind:       "memory.item.upserted",
		Payload:    raw,
		By:         map[string]any{"agent": "user:alice"},
		OccurredAt: "2026-08-24T10:00:00Z",
	}
}

func TestDeriveEMOIDIsStable(t *testing.T) {
	first := DeriveEMOID("mem-123")
	second := DeriveEMOID("mem-123")
	if first != second {
		t.Fatalf("expected stable id, got %s and %s", first, second)
	}
	if first == DeriveEMOID("mem-124") {
		t.Fatalf("expected distinct ids for distinct memories")
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Fatalf("expected a valid UUID, got %s: %v", first, err)
	}
}

func TestInferType(t *testing.T) {
	cases := []struct {
		name    string
		title   string
		content string
		want    string
	}{
		{"short note", "shopping", "milk and eggs", "note"},
		{"long content is doc", "anything", strings.Repeat("x", 1001), "doc"},
		{"markdown heading is doc", "anything", "# Title\nbody", "doc"},
		{"subheading is doc", "anything", "intro\n## Section", "doc"},
		{"fact keyword", "Definition of churn", "short", "fact"},
		{"rule keyword", "House Rule 7", "short", "fact"},
		{"profile keyword", "Contact: Sam", "short", "profile"},
		{"person keyword", "Person of interest", "short", "profile"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := InferType(tc.title, tc.content); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestExtractSource(t *testing.T) {
	if src := ExtractSource("user:alice", memoryPayload{}); src.Kind != "user" {
		t.Fatalf("expected user, got %s", src.Kind)
	}
	if src := ExtractSource("ingest-pipeline", memoryPayload{}); src.Kind != "ingest" {
		t.Fatalf("expected ingest, got %s", src.Kind)
	}
	if src := ExtractSource("importer:docs", memoryPayload{}); src.Kind != "ingest" {
		t.Fatalf("expected ingest for importer, got %s", src.Kind)
	}
	if src := ExtractSource("assistant:planner", memoryPayload{}); src.Kind != "agent" {
		t.Fatalf("expected agent fallback, got %s", src.Kind)
	}

	src := ExtractSource("user", memoryPayload{SourceURI: "https://a", URI: "https://b"})
	if src.URI != "https://a" {
		t.Fatalf("expected source_uri to win, got %s", src.URI)
	}
	if src := ExtractSource("user", memoryPayload{URI: "https://b"}); src.URI != "https://b" {
		t.Fatalf("expected uri fallback, got %s", src.URI)
	}
}

func TestInferParents(t *testing.T) {
	parents := InferParents(memoryPayload{
		ParentID:   "p1",
		Supersedes: "s1",
		MergedFrom: []string{"m1", "m2"},
	})
	if len(parents) != 4 {
		t.Fatalf("expected 4 parents, got %d", len(parents))
	}
	if parents[0].Rel != "derived" || parents[0].EMOID != DeriveEMOID("p1") {
		t.Fatalf("unexpected derived parent: %+v", parents[0])
	}
	if parents[1].Rel != "supersedes" {
		t.Fatalf("unexpected supersedes parent: %+v", parents[1])
	}
	if parents[2].Rel != "merges" || parents[3].Rel != "merges" {
		t.Fatalf("unexpected merge parents: %+v", parents[2:])
	}

	if parents := InferParents(memoryPayload{}); len(parents) != 0 {
		t.Fatalf("expected no parents, got %+v", parents)
	}
}

func TestExtractLinks(t *testing.T) {
	links := ExtractLinks(memoryPayload{
		Links: []json.RawMessage{
			json.RawMessage(`"https://plain"`),
			json.RawMessage(`{"uri":"https://object"}`),
			json.RawMessage(`""`),
			json.RawMessage(`{"other":"ignored"}`),
		},
		References: []string{"ref-1"},
	})
	if len(links) != 3 {
		t.Fatalf("expected 3 links, got %d: %+v", len(links), links)
	}
	if links[0].Kind != "uri" || links[0].Ref != "https://plain" {
		t.Fatalf("unexpected string link: %+v", links[0])
	}
	if links[1].Kind != "uri" || links[1].Ref != "https://object" {
		t.Fatalf("unexpected object link: %+v", links[1])
	}
	if links[2].Kind != "emo" || links[2].Ref != DeriveEMOID("ref-1") {
		t.Fatalf("unexpected reference link: %+v", links[2])
	}
}

func TestUpsertedFirstVersionIsCreated(t *testing.T) {
	envelope := memoryEnvelope(t, map[string]any{
		"id": "mem-1", "title": "note", "content": "hello",
	})

	translation, err := Upserted(envelope, 0)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if translation.Envelope.Kind != "emo.created" {
		t.Fatalf("expected emo.created, got %s", translation.Envelope.Kind)
	}
	if translation.NewVersion != 1 {
		t.Fatalf("expected version 1, got %d", translation.NewVersion)
	}
	wantKey := IdempotencyKey(translation.EMOID, 1, "created")
	if translation.Envelope.IdempotencyKey != wantKey {
		t.Fatalf("expected key %s, got %s", wantKey, translation.Envelope.IdempotencyKey)
	}

	var payload map[string]any
	if err := json.Unmarshal(translation.Envelope.Payload, &payload); err != nil {
		t.Fatalf("decode emitted payload: %v", err)
	}
	if payload["tenant_id"] != testWorld || payload["world_id"] != testWorld {
		t.Fatalf("expected tenant to default to world, got %+v", payload)
	}
	if payload["mime_type"] != "text/markdown" {
		t.Fatalf("expected mime default, got %v", payload["mime_type"])
	}
	if payload["schema_version"] != float64(1) {
		t.Fatalf("expected schema_version 1, got %v", payload["schema_version"])
	}
	if tags, ok := payload["tags"].([]any); !ok || len(tags) != 0 {
		t.Fatalf("expected empty tags array, got %v", payload["tags"])
	}
}

func TestUpsertedBumpsExistingVersion(t *testing.T) {
	envelope := memoryEnvelope(t, map[string]any{
		"id": "mem-1", "title": "note", "body": "from body field",
	})

	translation, err := Upserted(envelope, 3)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if translation.Envelope.Kind != "emo.updated" || translation.NewVersion != 4 {
		t.Fatalf("expected emo.updated v4, got %s v%d", translation.Envelope.Kind, translation.NewVersion)
	}

	var payload map[string]any
	if err := json.Unmarshal(translation.Envelope.Payload, &payload); err != nil {
		t.Fatalf("decode emitted payload: %v", err)
	}
	if payload["content"] != "note\n\nfrom body field" {
		t.Fatalf("expected title and body composed into content, got %v", payload["content"])
	}
}

func TestContentComposition(t *testing.T) {
	cases := []struct {
		name string
		p    memoryPayload
		want string
	}{
		{"explicit content wins", memoryPayload{Content: "c", Title: "t", Body: "b"}, "c"},
		{"title and body compose", memoryPayload{Title: "T", Body: "B"}, "T\n\nB"},
		{"body only", memoryPayload{Body: "B"}, "B"},
		{"title only", memoryPayload{Title: "T"}, "T"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := content(tc.p); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestUpsertedRequiresID(t *testing.T) {
	envelope := memoryEnvelope(t, map[string]any{"title": "no id"})
	if _, err := Upserted(envelope, 0); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestDeletedClaimsNextVersion(t *testing.T) {
	envelope := memoryEnvelope(t, map[string]any{"id": "mem-1"})
	envelope.Kind = "memory.item.deleted"

	translation, err := Deleted(envelope, 2)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if translation.Envelope.Kind != "emo.deleted" || translation.NewVersion != 3 {
		t.Fatalf("expected emo.deleted v3, got %s v%d", translation.Envelope.Kind, translation.NewVersion)
	}
	wantKey := IdempotencyKey(translation.EMOID, 3, "deleted")
	if translation.Envelope.IdempotencyKey != wantKey {
		t.Fatalf("expected key %s, got %s", wantKey, translation.Envelope.IdempotencyKey)
	}

	var payload map[string]any
	if err := json.Unmarshal(translation.Envelope.Payload, &payload); err != nil {
		t.Fatalf("decode emitted payload: %v", err)
	}
	if payload["emo_version"] != float64(3) {
		t.Fatalf("expected emo_version 3, got %v", payload["emo_version"])
	}
}

func TestUpsertedCarriesVectorMeta(t *testing.T) {
	envelope := memoryEnvelope(t, map[string]any{
		"id": "mem-1", "title": "t", "content": "c",
		"embedding": map[string]any{
			"model_id": "m1", "model_version": "2", "template_id": "plain:v1", "embed_dim": 768,
		},
	})

	translation, err := Upserted(envelope, 0)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	var payload struct {
		VectorMeta *memoryEmbedding `json:"vector_meta"`
	}
	if err := json.Unmarshal(translation.Envelope.Payload, &payload); err != nil {
		t.Fatalf("decode emitted payload: %v", err)
	}
	if payload.VectorMeta == nil || payload.VectorMeta.ModelID != "m1" || payload.VectorMeta.EmbedDim != 768 {
		t.Fatalf("expected vector meta carried through, got %+v", payload.VectorMeta)
	}
}
