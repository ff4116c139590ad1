package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"mnx/contexts/lenses/projector-sdk/application"
	domainerrors "mnx/contexts/lenses/projector-sdk/domain/errors"
	"mnx/internal/platform/metrics"
	"mnx/internal/shared/events"
)

type DeliveryResponse struct {
	Status    string `json:"status"`
	GlobalSeq int64  `json:"global_seq"`
	Message   string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Service        string `json:"service"`
	Status         string `json:"status"`
	ProjectorName  string `json:"projector_name"`
	Lens           string `json:"lens"`
	WatermarkCount int    `json:"watermark_count"`
}

type SnapshotEntryDTO struct {
	WorldID          string `json:"world_id"`
	Branch           string `json:"branch"`
	LastProcessedSeq int64  `json:"last_processed_seq"`
	DeterminismHash  string `json:"determinism_hash"`
}

type SnapshotResponse struct {
	Projector string             `json:"projector"`
	Entries   []SnapshotEntryDTO `json:"entries"`
}

type RestoreRequest struct {
	WorldID          string `json:"world_id"`
	Branch           string `json:"branch"`
	LastProcessedSeq int64  `json:"last_processed_seq"`
	DeterminismHash  string `json:"determinism_hash"`
}

type RebuildRequest struct {
	WorldID string `json:"world_id"`
	Branch  string `json:"branch"`
}

// Server is the projector-side HTTP surface: the publisher-facing /events
// receiver plus health, metrics, and the admin operations the gateway
// forwards.
type Server struct {
	mux     *http.ServeMux
	logger  *slog.Logger
	addr    string
	runtime application.Runtime
}

func NewServer(runtime application.Runtime, addr string, logger *slog.Logger, extra func(*http.ServeMux)) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8000"
	}

	s := &Server{
		mux:     http.NewServeMux(),
		logger:  logger,
		addr:    addr,
		runtime: runtime,
	}
	s.registerRoutes()
	if extra != nil {
		extra(s.mux)
	}
	return s
}

func (s *Server) Start() error {
	s.logger.Info("projector http server starting",
		"event", "projector_server_starting",
		"module", "lenses/projector-sdk",
		"layer", "transport",
		"projector", s.runtime.Lens.Name(),
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the routed mux for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /events", s.handleDelivery)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("POST /admin/snapshot", s.handleSnapshot)
	s.mux.HandleFunc("POST /admin/restore", s.handleRestore)
	s.mux.HandleFunc("POST /admin/rebuild", s.handleRebuild)
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "invalid_body", Message: "failed to read request body"})
		return
	}

	var delivery events.Delivery
	if err := json.Unmarshal(body, &delivery); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "invalid_json", Message: "request body must be a valid delivery"})
		return
	}

	applied, err := s.runtime.HandleDelivery(r.Context(), delivery)
	if err != nil {
		if errors.Is(err, domainerrors.ErrPayloadHashMismatch) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "payload_hash_mismatch", Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Code: "processing_error", Message: err.Error()})
		return
	}

	status := "processed"
	if !applied {
		status = "skipped"
	}
	writeJSON(w, http.StatusOK, DeliveryResponse{Status: status, GlobalSeq: delivery.GlobalSeq})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	watermarks, err := s.runtime.Lens.Watermarks(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Code: "internal_error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Service:        "projector-" + s.runtime.Lens.LensID(),
		Status:         "healthy",
		ProjectorName:  s.runtime.Lens.Name(),
		Lens:           s.runtime.Lens.LensID(),
		WatermarkCount: len(watermarks),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	entries, err := s.runtime.Snapshot(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Code: "snapshot_failed", Message: err.Error()})
		return
	}

	resp := SnapshotResponse{Projector: s.runtime.Lens.Name()}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, SnapshotEntryDTO{
			WorldID:          entry.WorldID,
			Branch:           entry.Branch,
			LastProcessedSeq: entry.LastProcessedSeq,
			DeterminismHash:  entry.DeterminismHash,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "invalid_json", Message: "request body must be valid JSON"})
		return
	}
	if req.WorldID == "" || req.Branch == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "invalid_request", Message: "world_id and branch are required"})
		return
	}

	if err := s.runtime.Restore(r.Context(), req.WorldID, req.Branch, req.LastProcessedSeq, req.DeterminismHash); err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Code: "restore_failed", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req RebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "invalid_json", Message: "request body must be valid JSON"})
		return
	}
	if req.WorldID == "" || req.Branch == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "invalid_request", Message: "world_id and branch are required"})
		return
	}

	if err := s.runtime.Rebuild(r.Context(), req.WorldID, req.Branch); err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Code: "rebuild_failed", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
