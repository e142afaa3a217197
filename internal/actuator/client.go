package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client starts or extends an irrigation zone. Calling Activate again for a
// zone whose timer is still running extends it; the controller firmware owns
// that idempotence, we just rely on it.
type Client interface {
	Activate(ctx context.Context, zone string, duration time.Duration) error
}

// HTTPClient talks to the irrigation controller's local API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Activate(ctx context.Context, zone string, duration time.Duration) error {
	payload, err := json.Marshal(map[string]any{
		"zone":             zone,
		"duration_seconds": int(duration.Seconds()),
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/zones/%s/activate", c.baseURL, zone)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("actuator call for zone %s: %w", zone, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("actuator rejected zone %s: %d %s", zone, resp.StatusCode, string(body))
	}
	return nil
}
