package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"mnx/internal/shared/events"
)

// SubscriberClient POSTs deliveries to projector /events endpoints. 200 and
// 202 both count as accepted; everything else is a delivery failure that the
// worker schedules for retry.
type SubscriberClient struct {
	Client      *http.Client
	PublisherID string
}

func NewSubscriberClient(timeout time.Duration, publisherID string) *SubscriberClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SubscriberClient{
		Client:      &http.Client{Timeout: timeout},
		PublisherID: publisherID,
	}
}

func (c *SubscriberClient) Deliver(ctx context.Context, endpoint string, delivery events.Delivery) error {
	body, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Publisher-ID", c.PublisherID)

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("deliver to %s: status %d: %s", endpoint, resp.StatusCode, string(snippet))
}
