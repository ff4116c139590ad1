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

// GatewayEmitter appends translated envelopes through the gateway ingress,
// so emitted emo.* events take the same validation and outbox path as any
// client write. 409 is success: the idempotency key already landed.
type GatewayEmitter struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewGatewayEmitter(baseURL, apiKey string) *GatewayEmitter {
	return &GatewayEmitter{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (e *GatewayEmitter) Emit(ctx context.Context, envelope events.Envelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/v1/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build emit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("X-API-Key", e.APIKey)
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("emit %s: %w", envelope.Kind, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusConflict:
		return nil
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("emit %s: gateway returned %d: %s", envelope.Kind, resp.StatusCode, snippet)
	}
}
