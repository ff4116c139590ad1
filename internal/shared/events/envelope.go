package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope is the immutable event record accepted by the gateway. Fields up
// to IdempotencyKey are client-supplied; ReceivedAt and PayloadHash are
// assigned by the server on append and present only on stored envelopes.
type Envelope struct {
	WorldID        string          `json:"world_id"`
	Branch         string          `json:"branch"`
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	By             map[string]any  `json:"by"`
	OccurredAt     string          `json:"occurred_at,omitempty"`
	Version        int             `json:"version,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`

	ReceivedAt  string `json:"received_at,omitempty"`
	PayloadHash string `json:"payload_hash,omitempty"`
}

// Delivery is the wire body the publisher POSTs to projector endpoints.
type Delivery struct {
	GlobalSeq   int64    `json:"global_seq"`
	EventID     string   `json:"event_id"`
	Envelope    Envelope `json:"envelope"`
	PayloadHash string   `json:"payload_hash"`
}

var (
	ErrMissingField     = errors.New("missing required envelope field")
	ErrInvalidWorldID   = errors.New("world_id must be a valid UUID")
	ErrInvalidBranch    = errors.New("branch must be alphanumeric with hyphens/underscores, max 100 chars")
	ErrInvalidKind      = errors.New("kind must be a dotted lowercase identifier")
	ErrMissingAgent     = errors.New("by.agent is required for the audit trail")
	ErrEmptyPayload     = errors.New("payload cannot be empty")
	ErrInvalidVersion   = errors.New("envelope version must be 1 or 2")
	ErrInvalidTimestamp = errors.New("occurred_at must be an RFC3339 UTC timestamp")
	ErrFutureTimestamp  = errors.New("occurred_at is too far in the future")
)

var (
	kindPattern   = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)
	branchPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// Agent returns the audit principal or "" when absent.
func (e Envelope) Agent() string {
	agent, _ := e.By["agent"].(string)
	return strings.TrimSpace(agent)
}

// Validate enforces the gateway envelope rules. maxFutureSkew bounds how far
// ahead of now a client occurred_at may be.
func (e Envelope) Validate(now time.Time, maxFutureSkew time.Duration) error {
	if e.WorldID == "" || e.Branch == "" || e.Kind == "" || e.By == nil {
		return ErrMissingField
	}
	if _, err := uuid.Parse(e.WorldID); err != nil {
		return ErrInvalidWorldID
	}
	if len(e.Branch) > 100 || !branchPattern.MatchString(e.Branch) {
		return ErrInvalidBranch
	}
	if !kindPattern.MatchString(e.Kind) {
		return ErrInvalidKind
	}
	if e.Agent() == "" {
		return ErrMissingAgent
	}
	if emptyPayload(e.Payload) {
		return ErrEmptyPayload
	}
	if e.Version != 0 && (e.Version < 1 || e.Version > 2) {
		return ErrInvalidVersion
	}
	if e.OccurredAt != "" {
		occurred, err := ParseUTCTimestamp(e.OccurredAt)
		if err != nil {
			return err
		}
		if occurred.After(now.Add(maxFutureSkew)) {
			return ErrFutureTimestamp
		}
	}
	return nil
}

// ValidateBranchName checks a branch name outside of envelope validation,
// for branch registration.
func ValidateBranchName(name string) error {
	if name == "" || len(name) > 100 || !branchPattern.MatchString(name) {
		return ErrInvalidBranch
	}
	return nil
}

// ComputePayloadHash canonicalizes the payload and hashes it.
func (e Envelope) ComputePayloadHash() (string, error) {
	return PayloadHash(e.Payload)
}

// VerifyPayloadHash recomputes the payload hash and compares it to the one
// carried in the delivery. Projectors fail fast on a mismatch.
func (d Delivery) VerifyPayloadHash() (bool, error) {
	if d.PayloadHash == "" {
		// Hash is optional on the wire; absence is not an integrity failure.
		return true, nil
	}
	computed, err := d.Envelope.ComputePayloadHash()
	if err != nil {
		return false, err
	}
	return computed == d.PayloadHash, nil
}

// ParseUTCTimestamp parses an RFC3339 timestamp and requires an explicit UTC
// offset (Z or +00:00).
func ParseUTCTimestamp(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, value)
	}
	if !strings.HasSuffix(value, "Z") && !strings.HasSuffix(value, "+00:00") {
		return time.Time{}, fmt.Errorf("%w: %q is not UTC", ErrInvalidTimestamp, value)
	}
	return parsed, nil
}

// FormatUTCTimestamp renders server timestamps the way stored envelopes
// carry them: millisecond precision, Z suffix.
func FormatUTCTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func emptyPayload(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	switch trimmed {
	case "", "null", "{}", "[]":
		return true
	}
	return false
}
