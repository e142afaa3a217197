package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrSnapshotUnavailable marks a transient capture failure. The burst
// controller retries these; anything else aborts the attempt loop for that
// frame only.
var ErrSnapshotUnavailable = errors.New("snapshot unavailable")

// CameraClient abstracts the vendor transport. The daemon only ever asks for
// a still or pulls a finished recording by handle.
type CameraClient interface {
	Snapshot(ctx context.Context, cameraID string) ([]byte, error)
	DownloadRecording(ctx context.Context, url string) ([]byte, error)
}

// HTTPCameraClient talks to the camera gateway (go2rtc-style): stills at
// {base}/{camera}/snapshot, recordings by the URL the bus handed us.
type HTTPCameraClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPCameraClient(baseURL string, timeout time.Duration) *HTTPCameraClient {
	return &HTTPCameraClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPCameraClient) Snapshot(ctx context.Context, cameraID string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/snapshot", c.baseURL, cameraID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: gateway returned %d", ErrSnapshotUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotUnavailable, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrSnapshotUnavailable)
	}
	return body, nil
}

func (c *HTTPCameraClient) DownloadRecording(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download recording: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("download recording: gateway returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
