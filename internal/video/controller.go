package video

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"yardguard/internal/capture"
	"yardguard/internal/data"
	"yardguard/internal/fusion"
)

// ErrTimeout means no recording showed up in time. It is not negative
// evidence: the coordinator keeps whatever the burst phase concluded.
var ErrTimeout = errors.New("no recording arrived before the wait timeout")

// Controller runs the slow confirmation path for one event: wait for the
// recording, pull it, sample frames, fuse.
type Controller struct {
	registry *Registry
	camera   capture.CameraClient
	sampler  FrameSampler
	engine   *fusion.Engine
}

func NewController(registry *Registry, camera capture.CameraClient, sampler FrameSampler, engine *fusion.Engine) *Controller {
	return &Controller{registry: registry, camera: camera, sampler: sampler, engine: engine}
}

// AwaitAndAnalyze blocks until the camera's recording for this trigger is
// announced, then downloads, samples at sampleInterval and fuses with the
// video threshold. On timeout the verdict carries zero frames and ErrTimeout.
// Runs on the event's own goroutine, never the dispatch path.
func (c *Controller) AwaitAndAnalyze(ctx context.Context, cameraID string, triggerTime time.Time, timeout, sampleInterval time.Duration, threshold float64) (data.DetectionVerdict, error) {
	empty := data.DetectionVerdict{Source: data.SourceVideo}

	ch := c.registry.Subscribe(cameraID, triggerTime)
	defer c.registry.Unsubscribe(cameraID)

	var sig RecordingSignal
	select {
	case <-ctx.Done():
		return empty, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	case <-time.After(timeout):
		return empty, ErrTimeout
	case sig = <-ch:
	}

	log.Printf("Video (%s): recording available after %s, downloading", cameraID, time.Since(triggerTime).Round(time.Second))
	recording, err := c.camera.DownloadRecording(ctx, sig.URL)
	if err != nil {
		return empty, fmt.Errorf("video download for %s: %w", cameraID, err)
	}

	frames, err := c.sampler.Sample(ctx, recording, sampleInterval)
	if err != nil {
		return empty, fmt.Errorf("video sampling for %s: %w", cameraID, err)
	}
	log.Printf("Video (%s): sampled %d frames from %d byte recording", cameraID, len(frames), len(recording))

	return c.engine.Fuse(ctx, frames, data.SourceVideo, threshold)
}
