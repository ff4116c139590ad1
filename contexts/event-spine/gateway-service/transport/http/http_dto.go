package httptransport

import "mnx/internal/shared/events"

// EventAccepted is the 201 body for POST /v1/events.
type EventAccepted struct {
	EventID       string `json:"event_id"`
	GlobalSeq     int64  `json:"global_seq"`
	ReceivedAt    string `json:"received_at"`
	CorrelationID string `json:"correlation_id"`
}

// ErrorResponse is the standardized error body.
type ErrorResponse struct {
	Code           string         `json:"code"`
	Message        string         `json:"message"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	EventID        string         `json:"event_id,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// EventItem is one stored event in read responses.
type EventItem struct {
	EventID     string          `json:"event_id"`
	GlobalSeq   int64           `json:"global_seq"`
	WorldID     string          `json:"world_id"`
	Branch      string          `json:"branch"`
	Kind        string          `json:"kind"`
	ReceivedAt  string          `json:"received_at"`
	PayloadHash string          `json:"payload_hash"`
	Envelope    events.Envelope `json:"envelope"`
}

type EventListResponse struct {
	Items              []EventItem `json:"items"`
	HasMore            bool        `json:"has_more"`
	NextAfterGlobalSeq int64       `json:"next_after_global_seq,omitempty"`
}

type CreateBranchRequest struct {
	WorldID      string         `json:"world_id"`
	Name         string         `json:"name"`
	ParentBranch string         `json:"parent_branch,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type BranchResponse struct {
	WorldID      string         `json:"world_id"`
	Name         string         `json:"name"`
	ParentBranch string         `json:"parent_branch,omitempty"`
	CreatedAt    string         `json:"created_at"`
	CreatedBy    string         `json:"created_by"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type BranchListResponse struct {
	Items []BranchResponse `json:"items"`
}

type ProjectorLagEntry struct {
	ProjectorName    string `json:"projector_name"`
	WorldID          string `json:"world_id"`
	Branch           string `json:"branch"`
	LastProcessedSeq int64  `json:"last_processed_seq"`
	Lag              int64  `json:"lag"`
}

type AdminHealthResponse struct {
	Status          string              `json:"status"`
	LatestGlobalSeq int64               `json:"latest_global_seq"`
	Projectors      []ProjectorLagEntry `json:"projectors"`
}

type HealthResponse struct {
	Service string `json:"service"`
	Status  string `json:"status"`
}
