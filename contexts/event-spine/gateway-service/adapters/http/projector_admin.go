package httpadapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	domainerrors "mnx/contexts/event-spine/gateway-service/domain/errors"
)

// ProjectorAdminClient forwards snapshot/restore/rebuild requests to the
// admin endpoint of the projector owning the lens. The gateway relays the
// projector's status and body verbatim.
type ProjectorAdminClient struct {
	BaseURLs map[string]string
	Client   *http.Client
}

func NewProjectorAdminClient(baseURLs map[string]string) *ProjectorAdminClient {
	return &ProjectorAdminClient{
		BaseURLs: baseURLs,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *ProjectorAdminClient) Forward(ctx context.Context, lens, operation string, body []byte) (int, []byte, error) {
	baseURL, ok := c.BaseURLs[lens]
	if !ok {
		return 0, nil, domainerrors.ErrUnknownLens
	}

	url := fmt.Sprintf("%s/admin/%s", baseURL, operation)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build projector admin request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("forward %s to lens %s: %w", operation, lens, err)
	}
	defer resp.Body.Close()

	response, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read projector admin response: %w", err)
	}
	return resp.StatusCode, response, nil
}
