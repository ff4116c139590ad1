package httpadapter_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	gatewayservice "mnx/contexts/event-spine/gateway-service"
	httptransport "mnx/contexts/event-spine/gateway-service/transport/http"
)

const testWorld = "3f8e2a4c-5b6d-4e7f-8a9b-0c1d2e3f4a5b"

func newTestHandler() http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return gatewayservice.NewInMemoryModule(logger).Server.Handler()
}

func doRequest(t *testing.T, handler http.Handler, method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(recorder.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return out
}

func noteEnvelope(kind, id string) map[string]any {
	return map[string]any{
		"world_id": testWorld,
		"branch":   "main",
		"kind":     kind,
		"payload":  map[string]any{"id": id, "title": "t", "body": "b"},
		"by":       map[string]any{"agent": "user:alice"},
	}
}

func TestAppendEventAccepted(t *testing.T) {
	handler := newTestHandler()
	correlationID := "11111111-2222-4333-8444-555555555555"

	recorder := doRequest(t, handler, http.MethodPost, "/v1/events",
		map[string]string{"X-Correlation-ID": correlationID}, noteEnvelope("note.created", "n1"))
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	accepted := decodeBody[httptransport.EventAccepted](t, recorder)
	if accepted.EventID == "" {
		t.Fatalf("expected event_id in response")
	}
	if accepted.GlobalSeq != 1 {
		t.Fatalf("expected global_seq 1, got %d", accepted.GlobalSeq)
	}
	if accepted.CorrelationID != correlationID {
		t.Fatalf("expected correlation id echoed, got %q", accepted.CorrelationID)
	}
	if got := recorder.Header().Get("X-Correlation-ID"); got != correlationID {
		t.Fatalf("expected correlation header echoed, got %q", got)
	}
}

func TestAppendEventDuplicateIdempotencyKey(t *testing.T) {
	handler := newTestHandler()
	headers := map[string]string{"Idempotency-Key": "note-n1-create"}

	first := doRequest(t, handler, http.MethodPost, "/v1/events", headers, noteEnvelope("note.created", "n1"))
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}

	second := doRequest(t, handler, http.MethodPost, "/v1/events", headers, noteEnvelope("note.created", "n1"))
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", second.Code, second.Body.String())
	}
	errResp := decodeBody[httptransport.ErrorResponse](t, second)
	if errResp.Code != "duplicate_idempotency_key" {
		t.Fatalf("expected duplicate_idempotency_key, got %q", errResp.Code)
	}
}

func TestAppendEventIdempotencyKeyInBody(t *testing.T) {
	handler := newTestHandler()
	envelope := noteEnvelope("note.created", "n1")
	envelope["idempotency_key"] = "body-key-1"

	first := doRequest(t, handler, http.MethodPost, "/v1/events", nil, envelope)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}

	second := doRequest(t, handler, http.MethodPost, "/v1/events", nil, envelope)
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", second.Code, second.Body.String())
	}
	errResp := decodeBody[httptransport.ErrorResponse](t, second)
	if errResp.IdempotencyKey != "body-key-1" {
		t.Fatalf("expected idempotency_key echoed, got %q", errResp.IdempotencyKey)
	}
}

func TestAppendEventRejections(t *testing.T) {
	handler := newTestHandler()

	cases := []struct {
		name     string
		headers  map[string]string
		envelope map[string]any
		wantCode string
	}{
		{
			name:     "missing world",
			envelope: map[string]any{"branch": "main", "kind": "note.created", "payload": map[string]any{"id": "n1"}, "by": map[string]any{"agent": "user:a"}},
			wantCode: "invalid_envelope",
		},
		{
			name: "bad kind",
			envelope: func() map[string]any {
				e := noteEnvelope("NoteCreated", "n1")
				return e
			}(),
			wantCode: "invalid_envelope",
		},
		{
			name:     "empty header key",
			headers:  map[string]string{"Idempotency-Key": "  "},
			envelope: noteEnvelope("note.created", "n1"),
			wantCode: "empty_idempotency_key",
		},
		{
			name:    "header and body keys disagree",
			headers: map[string]string{"Idempotency-Key": "header-key"},
			envelope: func() map[string]any {
				e := noteEnvelope("note.created", "n1")
				e["idempotency_key"] = "body-key"
				return e
			}(),
			wantCode: "idempotency_key_mismatch",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := doRequest(t, handler, http.MethodPost, "/v1/events", tc.headers, tc.envelope)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", recorder.Code, recorder.Body.String())
			}
			errResp := decodeBody[httptransport.ErrorResponse](t, recorder)
			if errResp.Code != tc.wantCode {
				t.Fatalf("expected code %q, got %q", tc.wantCode, errResp.Code)
			}
		})
	}
}

func TestAppendEventRejectsMalformedJSON(t *testing.T) {
	handler := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader([]byte("{not json")))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	errResp := decodeBody[httptransport.ErrorResponse](t, recorder)
	if errResp.Code != "invalid_json" {
		t.Fatalf("expected invalid_json, got %q", errResp.Code)
	}
}

func TestInvalidCorrelationIDRejected(t *testing.T) {
	handler := newTestHandler()

	recorder := doRequest(t, handler, http.MethodPost, "/v1/events",
		map[string]string{"X-Correlation-ID": "not-a-uuid"}, noteEnvelope("note.created", "n1"))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	errResp := decodeBody[httptransport.ErrorResponse](t, recorder)
	if errResp.Code != "invalid_correlation_id" {
		t.Fatalf("expected invalid_correlation_id, got %q", errResp.Code)
	}
}

func TestGetEventByID(t *testing.T) {
	handler := newTestHandler()

	created := doRequest(t, handler, http.MethodPost, "/v1/events", nil, noteEnvelope("note.created", "n1"))
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", created.Code)
	}
	accepted := decodeBody[httptransport.EventAccepted](t, created)

	fetched := doRequest(t, handler, http.MethodGet, "/v1/events/"+accepted.EventID, nil, nil)
	if fetched.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", fetched.Code, fetched.Body.String())
	}
	item := decodeBody[httptransport.EventItem](t, fetched)
	if item.EventID != accepted.EventID || item.Kind != "note.created" || item.WorldID != testWorld {
		t.Fatalf("unexpected event item: %+v", item)
	}
	if item.PayloadHash == "" {
		t.Fatalf("expected payload_hash to be stamped")
	}

	missing := doRequest(t, handler, http.MethodGet, "/v1/events/no-such-event", nil, nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
}

func TestListEventsFilterAndPagination(t *testing.T) {
	handler := newTestHandler()
	for i := 0; i < 5; i++ {
		recorder := doRequest(t, handler, http.MethodPost, "/v1/events", nil,
			noteEnvelope("note.created", fmt.Sprintf("n%d", i)))
		if recorder.Code != http.StatusCreated {
			t.Fatalf("append %d: expected 201, got %d", i, recorder.Code)
		}
	}

	path := "/v1/events?world_id=" + testWorld + "&branch=main&limit=3"
	recorder := doRequest(t, handler, http.MethodGet, path, nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	page := decodeBody[httptransport.EventListResponse](t, recorder)
	if len(page.Items) != 3 || !page.HasMore {
		t.Fatalf("expected 3 items with has_more, got %d items has_more=%v", len(page.Items), page.HasMore)
	}

	next := fmt.Sprintf("%s&after_global_seq=%d", path, page.NextAfterGlobalSeq)
	recorder = doRequest(t, handler, http.MethodGet, next, nil, nil)
	rest := decodeBody[httptransport.EventListResponse](t, recorder)
	if len(rest.Items) != 2 || rest.HasMore {
		t.Fatalf("expected final 2 items, got %d items has_more=%v", len(rest.Items), rest.HasMore)
	}

	bad := doRequest(t, handler, http.MethodGet, "/v1/events?after_global_seq=abc", nil, nil)
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d", bad.Code)
	}
}

func TestBranchLifecycle(t *testing.T) {
	handler := newTestHandler()

	create := httptransport.CreateBranchRequest{WorldID: testWorld, Name: "experiment", ParentBranch: "main"}
	recorder := doRequest(t, handler, http.MethodPost, "/v1/branches", nil, create)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	branch := decodeBody[httptransport.BranchResponse](t, recorder)
	if branch.Name != "experiment" || branch.ParentBranch != "main" || branch.CreatedAt == "" {
		t.Fatalf("unexpected branch response: %+v", branch)
	}

	duplicate := doRequest(t, handler, http.MethodPost, "/v1/branches", nil, create)
	if duplicate.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate branch, got %d", duplicate.Code)
	}

	invalid := doRequest(t, handler, http.MethodPost, "/v1/branches", nil,
		httptransport.CreateBranchRequest{WorldID: testWorld, Name: "has space"})
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid name, got %d", invalid.Code)
	}

	fetched := doRequest(t, handler, http.MethodGet, "/v1/branches/experiment?world_id="+testWorld, nil, nil)
	if fetched.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", fetched.Code, fetched.Body.String())
	}

	missing := doRequest(t, handler, http.MethodGet, "/v1/branches/nope?world_id="+testWorld, nil, nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}

	noWorld := doRequest(t, handler, http.MethodGet, "/v1/branches/experiment", nil, nil)
	if noWorld.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without world_id, got %d", noWorld.Code)
	}

	list := doRequest(t, handler, http.MethodGet, "/v1/branches?world_id="+testWorld, nil, nil)
	if list.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", list.Code)
	}
	branches := decodeBody[httptransport.BranchListResponse](t, list)
	if len(branches.Items) != 1 || branches.Items[0].Name != "experiment" {
		t.Fatalf("unexpected branch list: %+v", branches.Items)
	}
}

func TestAdminHealthReportsLatestSeq(t *testing.T) {
	handler := newTestHandler()

	for i := 0; i < 3; i++ {
		doRequest(t, handler, http.MethodPost, "/v1/events", nil, noteEnvelope("note.created", fmt.Sprintf("n%d", i)))
	}

	recorder := doRequest(t, handler, http.MethodGet, "/v1/admin/health", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	health := decodeBody[httptransport.AdminHealthResponse](t, recorder)
	if health.Status != "ok" || health.LatestGlobalSeq != 3 {
		t.Fatalf("unexpected admin health: %+v", health)
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler()

	recorder := doRequest(t, handler, http.MethodGet, "/health", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	health := decodeBody[httptransport.HealthResponse](t, recorder)
	if health.Status != "ok" {
		t.Fatalf("expected ok status, got %q", health.Status)
	}
}
