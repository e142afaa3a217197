package video

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yardguard/internal/data"
	"yardguard/internal/detector"
	"yardguard/internal/fusion"
)

type fakeCamera struct {
	recording []byte
	gotURL    string
}

func (f *fakeCamera) Snapshot(ctx context.Context, cameraID string) ([]byte, error) {
	return nil, nil
}

func (f *fakeCamera) DownloadRecording(ctx context.Context, url string) ([]byte, error) {
	f.gotURL = url
	return f.recording, nil
}

type fakeSampler struct {
	frames [][]byte
}

func (f *fakeSampler) Sample(ctx context.Context, recording []byte, interval time.Duration) ([][]byte, error) {
	return f.frames, nil
}

type fixedDetector struct {
	confidence float64
}

func (d fixedDetector) Detect(ctx context.Context, image []byte) ([]detector.Detection, error) {
	if d.confidence == 0 {
		return nil, nil
	}
	return []detector.Detection{{Label: "deer", Confidence: d.confidence}}, nil
}

func TestAwaitAndAnalyze_Timeout(t *testing.T) {
	reg := NewRegistry()
	c := NewController(reg, &fakeCamera{}, &fakeSampler{}, fusion.NewEngine(fixedDetector{}))

	start := time.Now()
	v, err := c.AwaitAndAnalyze(context.Background(), "cam-front", start, 30*time.Millisecond, 500*time.Millisecond, 0.35)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, data.SourceVideo, v.Source)
	assert.Zero(t, v.FrameCount, "timeout carries no evidence either way")
	assert.False(t, v.Detected)
}

func TestAwaitAndAnalyze_SignalArrivesWhileWaiting(t *testing.T) {
	reg := NewRegistry()
	cam := &fakeCamera{recording: []byte("mp4-bytes")}
	sampler := &fakeSampler{frames: [][]byte{{1}, {2}, {3}}}
	c := NewController(reg, cam, sampler, fusion.NewEngine(fixedDetector{confidence: 0.62}))

	start := time.Now()
	go func() {
		time.Sleep(10 * time.Millisecond)
		reg.Notify(RecordingSignal{CameraID: "cam-front", URL: "http://nvr/rec/42.mp4", NotifiedAt: time.Now()})
	}()

	v, err := c.AwaitAndAnalyze(context.Background(), "cam-front", start, 2*time.Second, 500*time.Millisecond, 0.35)
	require.NoError(t, err)
	assert.True(t, v.Detected)
	assert.Equal(t, 0.62, v.Confidence)
	assert.Equal(t, 3, v.FrameCount)
	assert.Equal(t, data.SourceVideo, v.Source)
	assert.Equal(t, "http://nvr/rec/42.mp4", cam.gotURL)
}

func TestAwaitAndAnalyze_CancelledContextCountsAsTimeout(t *testing.T) {
	reg := NewRegistry()
	c := NewController(reg, &fakeCamera{}, &fakeSampler{}, fusion.NewEngine(fixedDetector{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.AwaitAndAnalyze(ctx, "cam-front", time.Now(), time.Minute, 500*time.Millisecond, 0.35)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestRegistry_ParkedSignalDeliveredToLateSubscriber(t *testing.T) {
	reg := NewRegistry()
	trigger := time.Now()

	// Notification races ahead of the video task spawn.
	reg.Notify(RecordingSignal{CameraID: "cam-front", URL: "http://nvr/rec/7.mp4", NotifiedAt: trigger.Add(time.Second)})

	ch := reg.Subscribe("cam-front", trigger)
	defer reg.Unsubscribe("cam-front")

	select {
	case sig := <-ch:
		assert.Equal(t, "http://nvr/rec/7.mp4", sig.URL)
	default:
		t.Fatal("parked signal was not delivered")
	}
}

func TestRegistry_StaleParkedSignalIgnored(t *testing.T) {
	reg := NewRegistry()
	trigger := time.Now()

	// A leftover notice from before this trigger must not satisfy the wait.
	reg.Notify(RecordingSignal{CameraID: "cam-front", URL: "http://nvr/rec/old.mp4", NotifiedAt: trigger.Add(-time.Minute)})

	ch := reg.Subscribe("cam-front", trigger)
	defer reg.Unsubscribe("cam-front")

	select {
	case sig := <-ch:
		t.Fatalf("stale signal delivered: %s", sig.URL)
	default:
	}
}
