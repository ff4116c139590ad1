package workers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	esports "mnx/contexts/event-spine/event-store/ports"
	"mnx/contexts/event-spine/publisher-service/ports"
	"mnx/internal/shared/events"
)

// FanoutWorker drains the transactional outbox and pushes every event to
// every configured projector endpoint. Delivery is at-least-once: an event is
// marked published only after ALL endpoints accepted it, so a partial failure
// re-delivers to endpoints that already succeeded. Subscribers deduplicate by
// global_seq.
type FanoutWorker struct {
	Store       esports.EventStore
	Client      ports.SubscriberClient
	Endpoints   []string
	PublisherID string

	PollInterval time.Duration
	BatchSize    int
	BaseDelay    time.Duration
	Concurrency  int

	Logger *slog.Logger
}

// Run polls until the context is cancelled. Each tick drains the outbox in
// claimed batches; in-flight events finish before Run returns.
func (w *FanoutWorker) Run(ctx context.Context) error {
	logger := w.logger()
	logger.Info("cdc publisher starting",
		"event", "cdc_publisher_starting",
		"module", "event-spine/publisher-service",
		"layer", "worker",
		"publisher_id", w.PublisherID,
		"endpoints", strings.Join(w.Endpoints, ","),
		"poll_interval", w.pollInterval().String(),
		"batch_size", w.batchSize(),
	)

	ticker := time.NewTicker(w.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cdc publisher stopping",
				"event", "cdc_publisher_stopping",
				"module", "event-spine/publisher-service",
				"layer", "worker",
				"publisher_id", w.PublisherID,
			)
			return ctx.Err()
		case <-ticker.C:
			for {
				processed, err := w.ProcessBatch(ctx)
				if err != nil {
					logger.Error("outbox batch failed",
						"event", "cdc_batch_error",
						"module", "event-spine/publisher-service",
						"layer", "worker",
						"error", err.Error(),
					)
					break
				}
				if processed == 0 {
					break
				}
			}
		}
	}
}

// ProcessBatch claims one batch and fans it out. Returns the number of rows
// claimed so callers can keep draining while the outbox is non-empty.
func (w *FanoutWorker) ProcessBatch(ctx context.Context) (int, error) {
	rows, err := w.Store.GetUnpublishedBatch(ctx, w.batchSize())
	if err != nil {
		return 0, fmt.Errorf("claim outbox batch: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	w.observeLag(rows)

	sem := make(chan struct{}, w.concurrency())
	var wg sync.WaitGroup
	for _, row := range rows {
		wg.Add(1)
		sem <- struct{}{}
		go func(row esports.OutboxRow) {
			defer wg.Done()
			defer func() { <-sem }()
			w.processRow(ctx, row)
		}(row)
	}
	wg.Wait()
	return len(rows), nil
}

func (w *FanoutWorker) processRow(ctx context.Context, row esports.OutboxRow) {
	logger := w.logger()
	started := time.Now()

	delivery := events.Delivery{
		GlobalSeq:   row.GlobalSeq,
		EventID:     row.EventID,
		Envelope:    row.Envelope,
		PayloadHash: row.PayloadHash,
	}

	var failures []string
	for _, endpoint := range w.Endpoints {
		if err := w.Client.Deliver(ctx, endpoint, delivery); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", endpoint, err))
			eventsFailedTotal.WithLabelValues(classifyError(err)).Inc()
		}
	}

	if len(failures) == 0 {
		if err := w.Store.MarkPublished(ctx, row.GlobalSeq); err != nil {
			logger.Error("mark published failed",
				"event", "cdc_mark_published_error",
				"module", "event-spine/publisher-service",
				"layer", "worker",
				"global_seq", row.GlobalSeq,
				"error", err.Error(),
			)
			return
		}
		eventsPublishedTotal.Inc()
		publishDuration.Observe(time.Since(started).Seconds())
		logger.Info("event published",
			"event", "cdc_event_published",
			"module", "event-spine/publisher-service",
			"layer", "worker",
			"global_seq", row.GlobalSeq,
			"event_id", row.EventID,
			"kind", row.Kind,
			"endpoints", len(w.Endpoints),
		)
		return
	}

	cause := strings.Join(failures, "; ")
	retryable, err := w.Store.MarkRetry(ctx, row.GlobalSeq, cause, w.BaseDelay)
	if err != nil {
		logger.Error("mark retry failed",
			"event", "cdc_mark_retry_error",
			"module", "event-spine/publisher-service",
			"layer", "worker",
			"global_seq", row.GlobalSeq,
			"error", err.Error(),
		)
		return
	}
	if retryable {
		logger.Warn("event delivery failed, scheduled retry",
			"event", "cdc_event_retry",
			"module", "event-spine/publisher-service",
			"layer", "worker",
			"global_seq", row.GlobalSeq,
			"attempts", row.ProcessingAttempts+1,
			"cause", cause,
		)
		return
	}

	if err := w.Store.MoveToDLQ(ctx, row.GlobalSeq, cause, w.PublisherID); err != nil {
		logger.Error("dead letter move failed",
			"event", "cdc_dlq_error",
			"module", "event-spine/publisher-service",
			"layer", "worker",
			"global_seq", row.GlobalSeq,
			"error", err.Error(),
		)
		return
	}
	eventsDeadLetteredTotal.Inc()
	logger.Error("event moved to dead letter queue",
		"event", "cdc_event_dead_lettered",
		"module", "event-spine/publisher-service",
		"layer", "worker",
		"global_seq", row.GlobalSeq,
		"event_id", row.EventID,
		"cause", cause,
	)
}

func (w *FanoutWorker) observeLag(rows []esports.OutboxRow) {
	now := time.Now().UTC()
	for _, row := range rows {
		received, err := events.ParseUTCTimestamp(row.Envelope.ReceivedAt)
		if err != nil {
			continue
		}
		outboxLagSeconds.WithLabelValues(row.WorldID, row.Branch).Set(now.Sub(received).Seconds())
	}
}

func classifyError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return "connection"
	case strings.Contains(msg, "status 4"):
		return "client_rejected"
	case strings.Contains(msg, "status 5"):
		return "server_error"
	default:
		return "other"
	}
}

func (w *FanoutWorker) pollInterval() time.Duration {
	if w.PollInterval <= 0 {
		return 100 * time.Millisecond
	}
	return w.PollInterval
}

func (w *FanoutWorker) batchSize() int {
	if w.BatchSize <= 0 {
		return 50
	}
	return w.BatchSize
}

func (w *FanoutWorker) concurrency() int {
	if w.Concurrency <= 0 {
		return 4
	}
	return w.Concurrency
}

func (w *FanoutWorker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}
