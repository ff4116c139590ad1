package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"mnx/internal/platform/metrics"
)

// HealthServer exposes liveness and Prometheus metrics for the publisher
// process.
type HealthServer struct {
	mux    *http.ServeMux
	logger *slog.Logger
	addr   string
}

func NewHealthServer(addr string, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":9100"
	}

	s := &HealthServer{mux: http.NewServeMux(), logger: logger, addr: addr}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())
	return s
}

func (s *HealthServer) Start() error {
	s.logger.Info("publisher health server starting",
		"event", "cdc_health_server_starting",
		"module", "event-spine/publisher-service",
		"layer", "adapter",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"service": "mnx-cdc-publisher", "status": "ok"})
}
