package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"mnx/contexts/lenses/projector-sdk/application"
	"mnx/contexts/lenses/projector-sdk/ports"
	httptransport "mnx/contexts/lenses/projector-sdk/transport/http"
	"mnx/internal/shared/events"
)

const testWorld = "3f8e2a4c-5b6d-4e7f-8a9b-0c1d2e3f4a5b"

type stubLens struct {
	applied  bool
	applyErr error

	watermarks []ports.Watermark
	state      string
	restored   bool
	rebuilt    bool
}

func (l *stubLens) Name() string   { return "projector_stub" }
func (l *stubLens) LensID() string { return "stub" }

func (l *stubLens) Apply(context.Context, events.Delivery) (bool, error) {
	return l.applied, l.applyErr
}

func (l *stubLens) Watermarks(context.Context) ([]ports.Watermark, error) {
	return l.watermarks, nil
}

func (l *stubLens) SnapshotState(context.Context, string, string) (string, error) {
	return l.state, nil
}

func (l *stubLens) RecordDeterminismHash(context.Context, string, string, string) error {
	return nil
}

func (l *stubLens) Rebuild(context.Context, string, string) error {
	l.rebuilt = true
	return nil
}

func (l *stubLens) RestoreWatermark(context.Context, string, string, int64, string) error {
	l.restored = true
	return nil
}

func newTestServer(lens ports.Lens, extra func(*http.ServeMux)) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runtime := application.Runtime{Lens: lens, Logger: logger}
	return httptransport.NewServer(runtime, "", logger, extra).Handler()
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func hashedDelivery(t *testing.T, seq int64) events.Delivery {
	t.Helper()
	envelope := events.Envelope{
		WorldID: testWorld,
		Branch:  "main",
		Kind:    "note.created",
		Payload: json.RawMessage(`{"id":"n1","title":"t"}`),
		By:      map[string]any{"agent": "user:alice"},
	}
	hash, err := envelope.ComputePayloadHash()
	if err != nil {
		t.Fatalf("compute payload hash: %v", err)
	}
	return events.Delivery{GlobalSeq: seq, EventID: "evt-1", Envelope: envelope, PayloadHash: hash}
}

func TestDeliveryEndpointProcessed(t *testing.T) {
	handler := newTestServer(&stubLens{applied: true}, nil)

	recorder := postJSON(t, handler, "/events", hashedDelivery(t, 5))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var resp httptransport.DeliveryResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "processed" || resp.GlobalSeq != 5 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDeliveryEndpointSkipped(t *testing.T) {
	handler := newTestServer(&stubLens{applied: false}, nil)

	recorder := postJSON(t, handler, "/events", hashedDelivery(t, 5))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var resp httptransport.DeliveryResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "skipped" {
		t.Fatalf("expected skipped, got %q", resp.Status)
	}
}

func TestDeliveryEndpointHashMismatch(t *testing.T) {
	handler := newTestServer(&stubLens{applied: true}, nil)

	delivery := hashedDelivery(t, 5)
	delivery.PayloadHash = "deadbeef"

	recorder := postJSON(t, handler, "/events", delivery)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	var resp httptransport.ErrorResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != "payload_hash_mismatch" {
		t.Fatalf("expected payload_hash_mismatch, got %q", resp.Code)
	}
}

func TestDeliveryEndpointProcessingError(t *testing.T) {
	handler := newTestServer(&stubLens{applyErr: errors.New("storage down")}, nil)

	recorder := postJSON(t, handler, "/events", hashedDelivery(t, 5))
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
}

func TestDeliveryEndpointRejectsMalformedJSON(t *testing.T) {
	handler := newTestServer(&stubLens{applied: true}, nil)

	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader([]byte("{not json")))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestHealthReportsLensIdentity(t *testing.T) {
	lens := &stubLens{watermarks: []ports.Watermark{{WorldID: testWorld, Branch: "main"}}}
	handler := newTestServer(lens, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var resp httptransport.HealthResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ProjectorName != "projector_stub" || resp.Lens != "stub" || resp.WatermarkCount != 1 {
		t.Fatalf("unexpected health: %+v", resp)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	lens := &stubLens{
		watermarks: []ports.Watermark{{WorldID: testWorld, Branch: "main", LastProcessedSeq: 10}},
		state:      `{"lens":"stub","rows":[]}`,
	}
	handler := newTestServer(lens, nil)

	recorder := postJSON(t, handler, "/admin/snapshot", map[string]any{})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var resp httptransport.SnapshotResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(resp.Entries))
	}
	want := application.HashState(`{"lens":"stub","rows":[]}`)
	if resp.Entries[0].DeterminismHash != want || resp.Entries[0].LastProcessedSeq != 10 {
		t.Fatalf("unexpected snapshot entry: %+v", resp.Entries[0])
	}
}

func TestRestoreEndpointValidation(t *testing.T) {
	lens := &stubLens{}
	handler := newTestServer(lens, nil)

	missing := postJSON(t, handler, "/admin/restore", httptransport.RestoreRequest{WorldID: testWorld})
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing branch, got %d", missing.Code)
	}
	if lens.restored {
		t.Fatalf("expected restore to be rejected before reaching lens")
	}

	ok := postJSON(t, handler, "/admin/restore", httptransport.RestoreRequest{
		WorldID:          testWorld,
		Branch:           "main",
		LastProcessedSeq: 42,
		DeterminismHash:  "abc",
	})
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", ok.Code, ok.Body.String())
	}
	if !lens.restored {
		t.Fatalf("expected restore to reach lens")
	}
}

func TestRebuildEndpoint(t *testing.T) {
	lens := &stubLens{}
	handler := newTestServer(lens, nil)

	recorder := postJSON(t, handler, "/admin/rebuild", httptransport.RebuildRequest{WorldID: testWorld, Branch: "main"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if !lens.rebuilt {
		t.Fatalf("expected rebuild to reach lens")
	}
}

func TestExtraRoutesHook(t *testing.T) {
	handler := newTestServer(&stubLens{}, func(mux *http.ServeMux) {
		mux.HandleFunc("GET /custom", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/custom", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected extra route to be registered, got %d", recorder.Code)
	}
}
