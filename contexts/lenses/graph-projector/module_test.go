package graphprojector_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	graphprojector "mnx/contexts/lenses/graph-projector"
	"mnx/internal/shared/events"
)

const testWorld = "3f8e2a4c-5b6d-4e7f-8a9b-0c1d2e3f4a5b"

type cyclesResponse struct {
	WorldID string     `json:"world_id"`
	Branch  string     `json:"branch"`
	Cycles  [][]string `json:"cycles"`
}

func newModule(t *testing.T) graphprojector.Module {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return graphprojector.NewInMemoryModule(logger)
}

func applyLink(t *testing.T, module graphprojector.Module, seq int64, src, dst string) {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"src": src, "dst": dst})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	applied, err := module.Memory.Apply(context.Background(), events.Delivery{
		GlobalSeq: seq,
		EventID:   "evt",
		Envelope: events.Envelope{
			WorldID: testWorld,
			Branch:  "main",
			Kind:    "link.added",
			Payload: payload,
			By:      map[string]any{"agent": "user:alice"},
		},
	})
	if err != nil || !applied {
		t.Fatalf("apply link %s->%s: applied=%v err=%v", src, dst, applied, err)
	}
}

func TestCyclesEndpoint(t *testing.T) {
	module := newModule(t)
	applyLink(t, module, 1, "n1", "n2")
	applyLink(t, module, 2, "n2", "n1")

	req := httptest.NewRequest(http.MethodGet, "/graph/cycles?world_id="+testWorld+"&branch=main", nil)
	recorder := httptest.NewRecorder()
	module.Server.Handler().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var resp cyclesResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %v", resp.Cycles)
	}
	if resp.WorldID != testWorld || resp.Branch != "main" {
		t.Fatalf("expected scope echoed, got %+v", resp)
	}
}

func TestCyclesEndpointEmptyGraph(t *testing.T) {
	module := newModule(t)

	req := httptest.NewRequest(http.MethodGet, "/graph/cycles?world_id="+testWorld+"&branch=main", nil)
	recorder := httptest.NewRecorder()
	module.Server.Handler().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var resp cyclesResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Cycles == nil || len(resp.Cycles) != 0 {
		t.Fatalf("expected empty cycle list, got %v", resp.Cycles)
	}
}

func TestCyclesEndpointValidation(t *testing.T) {
	module := newModule(t)
	handler := module.Server.Handler()

	for _, path := range []string{
		"/graph/cycles",
		"/graph/cycles?world_id=" + testWorld,
		"/graph/cycles?world_id=" + testWorld + "&branch=main&max_depth=0",
		"/graph/cycles?world_id=" + testWorld + "&branch=main&max_depth=abc",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", path, recorder.Code)
		}
	}
}

func TestCyclesEndpointRespectsMaxDepth(t *testing.T) {
	module := newModule(t)
	applyLink(t, module, 1, "a", "b")
	applyLink(t, module, 2, "b", "c")
	applyLink(t, module, 3, "c", "d")
	applyLink(t, module, 4, "d", "a")

	req := httptest.NewRequest(http.MethodGet, "/graph/cycles?world_id="+testWorld+"&branch=main&max_depth=3", nil)
	recorder := httptest.NewRecorder()
	module.Server.Handler().ServeHTTP(recorder, req)

	var resp cyclesResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Cycles) != 0 {
		t.Fatalf("expected depth bound to hide the loop, got %v", resp.Cycles)
	}
}
