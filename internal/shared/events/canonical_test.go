package events

import (
	"encoding/json"
	"testing"
)

func TestCanonicalizeSortsKeysRecursively(t *testing.T) {
	raw := json.RawMessage(`{"b":1,"a":{"z":true,"m":[{"y":2,"x":1}]}}`)

	canonical, err := CanonicalizeRaw(raw)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	want := `{"a":{"m":[{"x":1,"y":2}],"z":true},"b":1}`
	if string(canonical) != want {
		t.Fatalf("expected %s, got %s", want, canonical)
	}
}

func TestCanonicalizePreservesNumbersVerbatim(t *testing.T) {
	raw := json.RawMessage(`{"big":12345678901234567890,"frac":0.1000}`)

	canonical, err := CanonicalizeRaw(raw)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	want := `{"big":12345678901234567890,"frac":0.1000}`
	if string(canonical) != want {
		t.Fatalf("expected %s, got %s", want, canonical)
	}
}

func TestCanonicalizeDoesNotEscapeHTML(t *testing.T) {
	raw := json.RawMessage(`{"url":"https://example.com/a?b=1&c=<d>"}`)

	canonical, err := CanonicalizeRaw(raw)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	want := `{"url":"https://example.com/a?b=1&c=<d>"}`
	if string(canonical) != want {
		t.Fatalf("expected %s, got %s", want, canonical)
	}
}

func TestPayloadHashIgnoresKeyOrder(t *testing.T) {
	first, err := PayloadHash(json.RawMessage(`{"title":"note","body":"text"}`))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	second, err := PayloadHash(json.RawMessage(`{"body":"text","title":"note"}`))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical hashes, got %s and %s", first, second)
	}
}

func TestPayloadHashSensitiveToValues(t *testing.T) {
	first, err := PayloadHash(json.RawMessage(`{"n":1}`))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	second, err := PayloadHash(json.RawMessage(`{"n":2}`))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if first == second {
		t.Fatalf("expected different hashes for different values")
	}
}

func TestCanonicalizeRejectsEmptyDocument(t *testing.T) {
	if _, err := CanonicalizeRaw(nil); err == nil {
		t.Fatalf("expected error for empty document")
	}
}
