package capture

import (
	"context"
	"log"
	"time"
)

const (
	// retryDelay between failed snapshot attempts for the same frame.
	retryDelay = 200 * time.Millisecond
	// burstOverhead pads the overall deadline beyond count*interval to
	// absorb retries. The fast path budget caps the whole thing anyway.
	burstOverhead = 3 * time.Second
)

// Controller acquires the post-motion snapshot burst.
type Controller struct {
	camera CameraClient
}

func NewController(camera CameraClient) *Controller {
	return &Controller{camera: camera}
}

// CaptureBurst requests count snapshots, sleeping interval between frames.
// Each frame gets up to attempts tries on transient failure. A camera that
// yields nothing returns an empty slice and nil error: degraded evidence is
// the fusion engine's problem, not a pipeline failure.
func (c *Controller) CaptureBurst(ctx context.Context, cameraID string, count int, interval time.Duration, attempts int) ([][]byte, error) {
	if attempts <= 0 {
		attempts = 3
	}
	deadline := time.Duration(count)*interval + burstOverhead
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	frames := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				log.Printf("[WARN] Burst (%s): deadline hit after %d/%d frames", cameraID, len(frames), count)
				return frames, nil
			case <-time.After(interval):
			}
		}

		frame, err := c.captureOne(ctx, cameraID, attempts)
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("[WARN] Burst (%s): deadline hit after %d/%d frames", cameraID, len(frames), count)
				return frames, nil
			}
			log.Printf("[WARN] Burst (%s): frame %d/%d lost after %d attempts: %v", cameraID, i+1, count, attempts, err)
			continue
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func (c *Controller) captureOne(ctx context.Context, cameraID string, attempts int) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		frame, err := c.camera.Snapshot(ctx, cameraID)
		if err == nil {
			return frame, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return nil, lastErr
}
