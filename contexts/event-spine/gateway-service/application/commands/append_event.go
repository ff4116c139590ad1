package commands

import (
	"context"
	"log/slog"
	"time"

	esports "mnx/contexts/event-spine/event-store/ports"
	domainerrors "mnx/contexts/event-spine/gateway-service/domain/errors"
	"mnx/internal/shared/events"
)

// AppendEventCommand carries the envelope plus the header-level key. The
// header value wins when only one source is present; when both are present
// they must match.
type AppendEventCommand struct {
	Envelope          events.Envelope
	HeaderIdempotency string
	CorrelationID     string
}

type AppendEventUseCase struct {
	Store            esports.EventStore
	MaxFutureSkew    time.Duration
	IdempotencyKinds []string
	Logger           *slog.Logger
}

func (uc AppendEventUseCase) Execute(ctx context.Context, cmd AppendEventCommand) (esports.AppendResult, error) {
	logger := resolveLogger(uc.Logger)

	if err := cmd.Envelope.Validate(time.Now().UTC(), uc.MaxFutureSkew); err != nil {
		return esports.AppendResult{}, err
	}

	key, err := resolveIdempotencyKey(cmd.HeaderIdempotency, cmd.Envelope.IdempotencyKey)
	if err != nil {
		return esports.AppendResult{}, err
	}
	if key == "" && uc.kindRequiresIdempotency(cmd.Envelope.Kind) {
		return esports.AppendResult{}, domainerrors.ErrIdempotencyKeyRequired
	}

	result, err := uc.Store.Append(ctx, cmd.Envelope, key)
	if err != nil {
		logger.Error("event append failed",
			"event", "gateway_append_failed",
			"module", "event-spine/gateway-service",
			"layer", "command",
			"world_id", cmd.Envelope.WorldID,
			"branch", cmd.Envelope.Branch,
			"kind", cmd.Envelope.Kind,
			"correlation_id", cmd.CorrelationID,
			"error", err.Error(),
		)
		return esports.AppendResult{}, err
	}

	logger.Info("event appended",
		"event", "gateway_append_ok",
		"module", "event-spine/gateway-service",
		"layer", "command",
		"world_id", cmd.Envelope.WorldID,
		"branch", cmd.Envelope.Branch,
		"kind", cmd.Envelope.Kind,
		"global_seq", result.GlobalSeq,
		"event_id", result.EventID,
		"correlation_id", cmd.CorrelationID,
	)
	return result, nil
}

func (uc AppendEventUseCase) kindRequiresIdempotency(kind string) bool {
	for _, required := range uc.IdempotencyKinds {
		if required == kind {
			return true
		}
	}
	return false
}

func resolveIdempotencyKey(header, envelope string) (string, error) {
	switch {
	case header != "" && envelope != "" && header != envelope:
		return "", domainerrors.ErrIdempotencyKeyMismatch
	case header != "":
		return header, nil
	default:
		return envelope, nil
	}
}

func resolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
