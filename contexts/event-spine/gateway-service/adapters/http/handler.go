package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	eserrors "mnx/contexts/event-spine/event-store/domain/errors"
	esports "mnx/contexts/event-spine/event-store/ports"
	"mnx/contexts/event-spine/gateway-service/application/commands"
	"mnx/contexts/event-spine/gateway-service/application/queries"
	domainerrors "mnx/contexts/event-spine/gateway-service/domain/errors"
	gwports "mnx/contexts/event-spine/gateway-service/ports"
	httptransport "mnx/contexts/event-spine/gateway-service/transport/http"
	"mnx/internal/platform/metrics"
	"mnx/internal/shared/events"

	"github.com/google/uuid"
)

type scope int

const (
	scopeNone scope = iota
	scopeRead
	scopeWrite
	scopeAdmin
)

// APIKeys maps static keys to scopes. An empty set disables authentication,
// which is only acceptable for local development.
type APIKeys struct {
	Admin string
	Write string
	Read  string
	Dev   string
}

func (k APIKeys) empty() bool {
	return k.Admin == "" && k.Write == "" && k.Read == "" && k.Dev == ""
}

func (k APIKeys) resolve(key string) scope {
	switch {
	case k.Admin != "" && key == k.Admin:
		return scopeAdmin
	case k.Write != "" && key == k.Write:
		return scopeWrite
	case k.Dev != "" && key == k.Dev:
		return scopeWrite
	case k.Read != "" && key == k.Read:
		return scopeRead
	default:
		return scopeNone
	}
}

// Server is the gateway's HTTP surface: the single write door plus the read
// and admin endpoints.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
	addr   string

	appendEvent    commands.AppendEventUseCase
	getEvent       queries.GetEventUseCase
	listEvents     queries.ListEventsUseCase
	branches       queries.BranchUseCase
	adminHealth    queries.AdminHealthUseCase
	projectorAdmin queries.ProjectorAdminUseCase

	keys    APIKeys
	limiter gwports.RateLimiter
}

type ServerDeps struct {
	AppendEvent    commands.AppendEventUseCase
	GetEvent       queries.GetEventUseCase
	ListEvents     queries.ListEventsUseCase
	Branches       queries.BranchUseCase
	AdminHealth    queries.AdminHealthUseCase
	ProjectorAdmin queries.ProjectorAdminUseCase
	Keys           APIKeys
	Limiter        gwports.RateLimiter
	Logger         *slog.Logger
	Addr           string
}

func NewServer(deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Addr == "" {
		deps.Addr = ":8081"
	}

	s := &Server{
		mux:            http.NewServeMux(),
		logger:         deps.Logger,
		addr:           deps.Addr,
		appendEvent:    deps.AppendEvent,
		getEvent:       deps.GetEvent,
		listEvents:     deps.ListEvents,
		branches:       deps.Branches,
		adminHealth:    deps.AdminHealth,
		projectorAdmin: deps.ProjectorAdmin,
		keys:           deps.Keys,
		limiter:        deps.Limiter,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("gateway http server starting",
		"event", "gateway_server_starting",
		"module", "event-spine/gateway-service",
		"layer", "adapter",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the routed mux for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /v1/events", s.requireScope(scopeWrite, s.handleAppendEvent))
	s.mux.HandleFunc("GET /v1/events", s.requireScope(scopeRead, s.handleListEvents))
	s.mux.HandleFunc("GET /v1/events/{event_id}", s.requireScope(scopeRead, s.handleGetEvent))

	s.mux.HandleFunc("POST /v1/branches", s.requireScope(scopeWrite, s.handleCreateBranch))
	s.mux.HandleFunc("GET /v1/branches", s.requireScope(scopeRead, s.handleListBranches))
	s.mux.HandleFunc("GET /v1/branches/{name}", s.requireScope(scopeRead, s.handleGetBranch))

	s.mux.HandleFunc("GET /v1/admin/health", s.requireScope(scopeAdmin, s.handleAdminHealth))
	s.mux.HandleFunc("POST /v1/admin/projectors/{lens}/{operation}", s.requireScope(scopeAdmin, s.handleProjectorAdmin))

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

// requireScope authenticates via X-API-Key (or Bearer token) and enforces the
// minimum scope. Correlation IDs are validated and echoed on every response.
func (s *Server) requireScope(minimum scope, next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID != "" {
			if _, err := uuid.Parse(correlationID); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_correlation_id", domainerrors.ErrInvalidCorrelationID.Error(), correlationID)
				return
			}
		} else {
			correlationID = uuid.NewString()
		}
		w.Header().Set("X-Correlation-ID", correlationID)

		if !s.keys.empty() {
			key := resolveAPIKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing_api_key", domainerrors.ErrMissingAPIKey.Error(), correlationID)
				return
			}
			granted := s.keys.resolve(key)
			if granted == scopeNone {
				writeError(w, http.StatusUnauthorized, "invalid_api_key", domainerrors.ErrInvalidAPIKey.Error(), correlationID)
				return
			}
			if granted < minimum {
				writeError(w, http.StatusForbidden, "insufficient_scope", domainerrors.ErrInsufficientScope.Error(), correlationID)
				return
			}
		}

		if s.limiter != nil {
			allowed, info, err := s.limiter.Allow(r.Context(), rateLimitClientID(r))
			if err != nil {
				s.logger.Error("rate limiter unavailable",
					"event", "gateway_rate_limiter_error",
					"module", "event-spine/gateway-service",
					"layer", "adapter",
					"error", err.Error(),
				)
				// Fail open: a broken limiter must not take down ingest.
			} else {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
				if !allowed {
					rateLimitedTotal.Inc()
					retryAfter := int(info.RetryAfter.Seconds())
					if retryAfter < 1 {
						retryAfter = 1
					}
					w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
					writeError(w, http.StatusTooManyRequests, "rate_limited", domainerrors.ErrRateLimited.Error(), correlationID)
					return
				}
			}
		}

		next(w, r, correlationID)
	}
}

func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request, correlationID string) {
	started := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to read request body", correlationID)
		return
	}

	var envelope events.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		eventsRejectedTotal.WithLabelValues("invalid_json").Inc()
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be a valid JSON envelope", correlationID)
		return
	}

	headerKey := r.Header.Get("Idempotency-Key")
	if _, present := r.Header["Idempotency-Key"]; present && strings.TrimSpace(headerKey) == "" {
		eventsRejectedTotal.WithLabelValues("empty_idempotency_key").Inc()
		writeError(w, http.StatusBadRequest, "empty_idempotency_key", domainerrors.ErrIdempotencyKeyEmpty.Error(), correlationID)
		return
	}

	result, err := s.appendEvent.Execute(r.Context(), commands.AppendEventCommand{
		Envelope:          envelope,
		HeaderIdempotency: headerKey,
		CorrelationID:     correlationID,
	})
	if err != nil {
		s.writeAppendError(w, err, envelope, correlationID)
		return
	}

	appendDuration.Observe(time.Since(started).Seconds())
	eventsAcceptedTotal.WithLabelValues(envelope.Kind).Inc()
	writeJSON(w, http.StatusCreated, httptransport.EventAccepted{
		EventID:       result.EventID,
		GlobalSeq:     result.GlobalSeq,
		ReceivedAt:    result.ReceivedAt,
		CorrelationID: correlationID,
	})
}

func (s *Server) writeAppendError(w http.ResponseWriter, err error, envelope events.Envelope, correlationID string) {
	switch {
	case errors.Is(err, eserrors.ErrDuplicateIdempotencyKey):
		duplicateEventsTotal.Inc()
		writeJSON(w, http.StatusConflict, httptransport.ErrorResponse{
			Code:           "duplicate_idempotency_key",
			Message:        "an event with this idempotency key already exists in this world and branch",
			CorrelationID:  correlationID,
			IdempotencyKey: envelope.IdempotencyKey,
		})
	case errors.Is(err, domainerrors.ErrIdempotencyKeyMismatch):
		eventsRejectedTotal.WithLabelValues("idempotency_key_mismatch").Inc()
		writeError(w, http.StatusBadRequest, "idempotency_key_mismatch", err.Error(), correlationID)
	case errors.Is(err, domainerrors.ErrIdempotencyKeyRequired):
		eventsRejectedTotal.WithLabelValues("idempotency_key_required").Inc()
		writeError(w, http.StatusBadRequest, "idempotency_key_required", err.Error(), correlationID)
	case errors.Is(err, events.ErrMissingField),
		errors.Is(err, events.ErrInvalidWorldID),
		errors.Is(err, events.ErrInvalidBranch),
		errors.Is(err, events.ErrInvalidKind),
		errors.Is(err, events.ErrMissingAgent),
		errors.Is(err, events.ErrEmptyPayload),
		errors.Is(err, events.ErrInvalidVersion),
		errors.Is(err, events.ErrInvalidTimestamp),
		errors.Is(err, events.ErrFutureTimestamp):
		eventsRejectedTotal.WithLabelValues("validation").Inc()
		writeError(w, http.StatusBadRequest, "invalid_envelope", err.Error(), correlationID)
	default:
		s.logger.Error("append failed",
			"event", "gateway_append_error",
			"module", "event-spine/gateway-service",
			"layer", "adapter",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", correlationID)
	}
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request, correlationID string) {
	eventID := r.PathValue("event_id")
	item, err := s.getEvent.Execute(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, eserrors.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "event_not_found", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, toEventItem(item))
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request, correlationID string) {
	query := r.URL.Query()
	filter := esports.EventFilter{
		WorldID: query.Get("world_id"),
		Branch:  query.Get("branch"),
		Kind:    query.Get("kind"),
	}
	if raw := query.Get("after_global_seq"); raw != "" {
		after, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_cursor", "after_global_seq must be an integer", correlationID)
			return
		}
		filter.AfterGlobalSeq = after
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer", correlationID)
			return
		}
		filter.Limit = limit
	}

	result, err := s.listEvents.Execute(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", correlationID)
		return
	}

	resp := httptransport.EventListResponse{
		Items:              make([]httptransport.EventItem, 0, len(result.Items)),
		HasMore:            result.HasMore,
		NextAfterGlobalSeq: result.NextAfterGlobalSeq,
	}
	for _, item := range result.Items {
		resp.Items = append(resp.Items, toEventItem(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateBranch(w http.ResponseWriter, r *http.Request, correlationID string) {
	var req httptransport.CreateBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", correlationID)
		return
	}
	if req.WorldID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_branch", "world_id and name are required", correlationID)
		return
	}
	if _, err := uuid.Parse(req.WorldID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_branch", events.ErrInvalidWorldID.Error(), correlationID)
		return
	}

	branch, err := s.branches.Create(r.Context(), queries.CreateBranchCommand{
		WorldID:      req.WorldID,
		Name:         req.Name,
		ParentBranch: req.ParentBranch,
		CreatedBy:    resolveAPIKey(r),
		Metadata:     req.Metadata,
	})
	if err != nil {
		switch {
		case errors.Is(err, eserrors.ErrBranchExists):
			writeError(w, http.StatusConflict, "branch_exists", err.Error(), correlationID)
		case errors.Is(err, events.ErrInvalidBranch):
			writeError(w, http.StatusBadRequest, "invalid_branch", err.Error(), correlationID)
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", correlationID)
		}
		return
	}
	writeJSON(w, http.StatusCreated, toBranchResponse(branch))
}

func (s *Server) handleGetBranch(w http.ResponseWriter, r *http.Request, correlationID string) {
	worldID := r.URL.Query().Get("world_id")
	name := r.PathValue("name")
	if worldID == "" {
		writeError(w, http.StatusBadRequest, "invalid_branch", "world_id query parameter is required", correlationID)
		return
	}

	branch, err := s.branches.Get(r.Context(), worldID, name)
	if err != nil {
		if errors.Is(err, eserrors.ErrBranchNotFound) {
			writeError(w, http.StatusNotFound, "branch_not_found", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, toBranchResponse(branch))
}

func (s *Server) handleListBranches(w http.ResponseWriter, r *http.Request, correlationID string) {
	worldID := r.URL.Query().Get("world_id")
	if worldID == "" {
		writeError(w, http.StatusBadRequest, "invalid_branch", "world_id query parameter is required", correlationID)
		return
	}

	items, err := s.branches.List(r.Context(), worldID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", correlationID)
		return
	}

	resp := httptransport.BranchListResponse{Items: make([]httptransport.BranchResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, toBranchResponse(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdminHealth(w http.ResponseWriter, r *http.Request, correlationID string) {
	result, err := s.adminHealth.Execute(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", correlationID)
		return
	}

	resp := httptransport.AdminHealthResponse{
		Status:          "ok",
		LatestGlobalSeq: result.LatestGlobalSeq,
		Projectors:      make([]httptransport.ProjectorLagEntry, 0, len(result.Projectors)),
	}
	for _, item := range result.Projectors {
		resp.Projectors = append(resp.Projectors, httptransport.ProjectorLagEntry{
			ProjectorName:    item.ProjectorName,
			WorldID:          item.WorldID,
			Branch:           item.Branch,
			LastProcessedSeq: item.LastProcessedSeq,
			Lag:              item.Lag,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProjectorAdmin(w http.ResponseWriter, r *http.Request, correlationID string) {
	lens := r.PathValue("lens")
	operation := r.PathValue("operation")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to read request body", correlationID)
		return
	}

	status, response, err := s.projectorAdmin.Execute(r.Context(), lens, operation, body)
	if err != nil {
		switch {
		case errors.Is(err, domainerrors.ErrUnknownLens):
			writeError(w, http.StatusNotFound, "unknown_lens", err.Error(), correlationID)
		case errors.Is(err, domainerrors.ErrUnknownAdminOperation):
			writeError(w, http.StatusNotFound, "unknown_admin_operation", err.Error(), correlationID)
		default:
			s.logger.Error("projector admin forward failed",
				"event", "gateway_projector_admin_error",
				"module", "event-spine/gateway-service",
				"layer", "adapter",
				"lens", lens,
				"operation", operation,
				"error", err.Error(),
			)
			writeError(w, http.StatusBadGateway, "projector_unreachable", "projector admin endpoint unreachable", correlationID)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, httptransport.HealthResponse{Service: "mnx-gateway", Status: "ok"})
}

func toEventItem(item esports.StoredEvent) httptransport.EventItem {
	return httptransport.EventItem{
		EventID:     item.EventID,
		GlobalSeq:   item.GlobalSeq,
		WorldID:     item.WorldID,
		Branch:      item.Branch,
		Kind:        item.Kind,
		ReceivedAt:  item.ReceivedAt,
		PayloadHash: item.PayloadHash,
		Envelope:    item.Envelope,
	}
}

func toBranchResponse(branch esports.Branch) httptransport.BranchResponse {
	return httptransport.BranchResponse{
		WorldID:      branch.WorldID,
		Name:         branch.Name,
		ParentBranch: branch.ParentBranch,
		CreatedAt:    events.FormatUTCTimestamp(branch.CreatedAt),
		CreatedBy:    branch.CreatedBy,
		Metadata:     branch.Metadata,
	}
}

func resolveAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return ""
}

// rateLimitClientID buckets by API key when present, remote address otherwise.
func rateLimitClientID(r *http.Request) string {
	if key := resolveAPIKey(r); key != "" {
		return key
	}
	return r.RemoteAddr
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, httptransport.ErrorResponse{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
