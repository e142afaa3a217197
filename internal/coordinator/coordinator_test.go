package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"yardguard/internal/config"
	"yardguard/internal/data"
	"yardguard/internal/detector"
	"yardguard/internal/fusion"
	"yardguard/internal/gating"
	"yardguard/internal/video"
)

// --- test doubles ---

type stubSettings struct {
	cfg config.DetectionConfig
}

func (s stubSettings) Detection() config.DetectionConfig { return s.cfg }

type stubDetector struct {
	confidence float64
	err        error
}

func (d stubDetector) Detect(ctx context.Context, image []byte) ([]detector.Detection, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.confidence == 0 {
		return nil, nil
	}
	return []detector.Detection{{Label: "deer", Confidence: d.confidence}}, nil
}

type stubBurst struct {
	frames [][]byte
}

func (b stubBurst) CaptureBurst(ctx context.Context, cameraID string, count int, interval time.Duration, attempts int) ([][]byte, error) {
	return b.frames, nil
}

type MockVideo struct {
	mock.Mock
}

func (m *MockVideo) AwaitAndAnalyze(ctx context.Context, cameraID string, triggerTime time.Time, timeout, sampleInterval time.Duration, threshold float64) (data.DetectionVerdict, error) {
	args := m.Called(ctx, cameraID, triggerTime, timeout, sampleInterval, threshold)
	return args.Get(0).(data.DetectionVerdict), args.Error(1)
}

type MockActuator struct {
	mock.Mock
}

func (m *MockActuator) Activate(ctx context.Context, zone string, duration time.Duration) error {
	args := m.Called(ctx, zone, duration)
	return args.Error(0)
}

// chanPublisher signals once the event is fully resolved; the tests use it to
// join on the video goroutine.
type chanPublisher struct {
	resolved chan *data.MotionEvent
}

func newChanPublisher() *chanPublisher {
	return &chanPublisher{resolved: make(chan *data.MotionEvent, 1)}
}

func (p *chanPublisher) PublishResolved(ev *data.MotionEvent) error {
	p.resolved <- ev
	return nil
}

func (p *chanPublisher) wait(t *testing.T) *data.MotionEvent {
	t.Helper()
	select {
	case ev := <-p.resolved:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("event never resolved")
		return nil
	}
}

func testSettings() config.DetectionConfig {
	return config.DetectionConfig{
		// No season/hours windows: gating reduces to cooldown.
		ActiveHours:     config.ActiveHoursWindow{Enabled: false},
		CooldownSeconds: 300,
		Burst: config.BurstConfig{
			Count: 1, IntervalMs: 1, AttemptsPerFrame: 1,
			Threshold: 0.45, BaseDurationSeconds: 30,
		},
		Video: config.VideoConfig{
			WaitTimeoutSeconds: 1, SampleIntervalMs: 500,
			Threshold: 0.35, ExtendDurationSeconds: 90,
		},
		Zones: map[string]string{"cam-front": "zone-1"},
	}
}

// countingCooldowns wraps the memory store so tests can assert how many times
// the cooldown was actually charged.
type countingCooldowns struct {
	*gating.MemoryCooldownStore
	marks int
}

func (c *countingCooldowns) MarkTriggered(ctx context.Context, zone string, at time.Time) error {
	c.marks++
	return c.MemoryCooldownStore.MarkTriggered(ctx, zone, at)
}

type fixture struct {
	store     *data.MemoryEventStore
	cooldowns *countingCooldowns
	videoMock *MockVideo
	act       *MockActuator
	pub       *chanPublisher
	coord     *Coordinator
}

func newFixture(t *testing.T, det detector.Client, cfg config.DetectionConfig) *fixture {
	t.Helper()
	f := &fixture{
		store:     data.NewMemoryEventStore(),
		cooldowns: &countingCooldowns{MemoryCooldownStore: gating.NewMemoryCooldownStore()},
		videoMock: new(MockVideo),
		act:       new(MockActuator),
		pub:       newChanPublisher(),
	}
	engine := fusion.NewEngine(det)
	policy := gating.NewPolicy(f.cooldowns)
	f.coord = New(f.store, stubBurst{frames: [][]byte{{1}}}, f.videoMock, engine,
		policy, f.cooldowns, f.act, stubSettings{cfg}, f.pub)
	return f
}

// --- scenarios ---

func TestLateTrigger_VideoDetectsWhereBurstMissed(t *testing.T) {
	// Burst sees nothing (0.0), video later finds 0.62 across 22 frames.
	f := newFixture(t, stubDetector{confidence: 0}, testSettings())

	videoVerdict := data.DetectionVerdict{Detected: true, Confidence: 0.62, FrameCount: 22, Source: data.SourceVideo}
	f.videoMock.On("AwaitAndAnalyze", mock.Anything, "cam-front", mock.Anything, mock.Anything, mock.Anything, 0.35).
		Return(videoVerdict, nil)
	f.act.On("Activate", mock.Anything, "zone-1", 90*time.Second).Return(nil)

	f.coord.HandleMotion(context.Background(), "cam-front", time.Now())
	ev := f.pub.wait(t)

	assert.Equal(t, data.PhaseResolved, ev.Phase)
	require.NotNil(t, ev.BurstResult)
	assert.False(t, ev.BurstResult.Detected)
	assert.True(t, ev.Final.Detected)
	assert.Equal(t, data.SourceVideo, ev.Final.Source)
	assert.Equal(t, 0.62, ev.Final.Confidence)

	assert.True(t, ev.Actuation.Triggered)
	assert.Equal(t, data.ProvenanceVideoLate, ev.Actuation.Provenance)
	f.act.AssertExpectations(t)

	// Late triggers still charge the cooldown.
	_, ok, err := f.cooldowns.Get(context.Background(), "zone-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, f.cooldowns.marks)
}

func TestVideoTimeout_PreservesBurstResult(t *testing.T) {
	// Burst detects at 0.80 and triggers; the recording never shows up.
	f := newFixture(t, stubDetector{confidence: 0.80}, testSettings())

	f.videoMock.On("AwaitAndAnalyze", mock.Anything, "cam-front", mock.Anything, mock.Anything, mock.Anything, 0.35).
		Return(data.DetectionVerdict{Source: data.SourceVideo}, video.ErrTimeout)
	f.act.On("Activate", mock.Anything, "zone-1", 30*time.Second).Return(nil)

	f.coord.HandleMotion(context.Background(), "cam-front", time.Now())
	ev := f.pub.wait(t)

	assert.Equal(t, data.PhaseResolved, ev.Phase)
	assert.Nil(t, ev.VideoResult, "a timeout is no new evidence")
	assert.True(t, ev.Final.Detected)
	assert.Equal(t, data.SourceBurst, ev.Final.Source)
	assert.Equal(t, 0.80, ev.Final.Confidence)
	assert.Equal(t, data.ProvenanceBurst, ev.Actuation.Provenance)
}

func TestVideoConfirm_ExtendsWithoutRechargingCooldown(t *testing.T) {
	f := newFixture(t, stubDetector{confidence: 0.80}, testSettings())

	videoVerdict := data.DetectionVerdict{Detected: true, Confidence: 0.91, FrameCount: 40, Source: data.SourceVideo}
	f.videoMock.On("AwaitAndAnalyze", mock.Anything, "cam-front", mock.Anything, mock.Anything, mock.Anything, 0.35).
		Return(videoVerdict, nil)
	f.act.On("Activate", mock.Anything, "zone-1", 30*time.Second).Return(nil).Once()
	f.act.On("Activate", mock.Anything, "zone-1", 90*time.Second).Return(nil).Once()

	f.coord.HandleMotion(context.Background(), "cam-front", time.Now())
	ev := f.pub.wait(t)

	assert.Equal(t, data.ProvenanceVideoExtend, ev.Actuation.Provenance)
	assert.Equal(t, data.SourceVideo, ev.Final.Source, "video supersedes burst as final")
	assert.Equal(t, 0.91, ev.Final.Confidence)
	f.act.AssertExpectations(t)

	// Two Activate calls, one physical trigger: the extend reuses the
	// burst's cooldown charge.
	assert.Equal(t, 1, f.cooldowns.marks)
}

func TestAllBurstFramesFail_MarksDetectionErrorWithoutActuation(t *testing.T) {
	f := newFixture(t, stubDetector{err: errors.New("sidecar down")}, testSettings())

	f.videoMock.On("AwaitAndAnalyze", mock.Anything, "cam-front", mock.Anything, mock.Anything, mock.Anything, 0.35).
		Return(data.DetectionVerdict{Source: data.SourceVideo}, video.ErrTimeout)

	f.coord.HandleMotion(context.Background(), "cam-front", time.Now())
	ev := f.pub.wait(t)

	assert.Equal(t, data.PhaseResolved, ev.Phase, "the event advances, it does not hang")
	assert.Equal(t, data.ErrNoteDetectionError, ev.ErrorNote)
	assert.Nil(t, ev.BurstResult)
	assert.False(t, ev.Actuation.Triggered)
	f.act.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything, mock.Anything)
}

func TestDuplicateMotion_IgnoredWhileInFlight(t *testing.T) {
	f := newFixture(t, stubDetector{confidence: 0}, testSettings())

	release := make(chan struct{})
	f.videoMock.On("AwaitAndAnalyze", mock.Anything, "cam-front", mock.Anything, mock.Anything, mock.Anything, 0.35).
		Run(func(mock.Arguments) { <-release }).
		Return(data.DetectionVerdict{Source: data.SourceVideo}, video.ErrTimeout)

	f.coord.HandleMotion(context.Background(), "cam-front", time.Now())
	require.True(t, f.coord.InFlight("cam-front"))

	// Second signal for the same camera while the first is pending video.
	f.coord.HandleMotion(context.Background(), "cam-front", time.Now())

	events, err := f.store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, events, 1, "no second MotionEvent for the same occurrence")

	close(release)
	f.pub.wait(t)
	// The slot frees a hair after publish; poll rather than race the defer.
	require.Eventually(t, func() bool { return !f.coord.InFlight("cam-front") },
		time.Second, 5*time.Millisecond)

	// After resolution a fresh signal starts a fresh event.
	f.videoMock.On("AwaitAndAnalyze", mock.Anything, "cam-front", mock.Anything, mock.Anything, mock.Anything, 0.35).
		Return(data.DetectionVerdict{Source: data.SourceVideo}, video.ErrTimeout)
	f.coord.HandleMotion(context.Background(), "cam-front", time.Now())
	f.pub.wait(t)

	events, err = f.store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestGatingDenied_NoActuationButVerdictRecorded(t *testing.T) {
	cfg := testSettings()
	f := newFixture(t, stubDetector{confidence: 0.80}, cfg)

	// Zone already cooling down.
	require.NoError(t, f.cooldowns.MarkTriggered(context.Background(), "zone-1", time.Now().UTC()))

	f.videoMock.On("AwaitAndAnalyze", mock.Anything, "cam-front", mock.Anything, mock.Anything, mock.Anything, 0.35).
		Return(data.DetectionVerdict{Source: data.SourceVideo}, video.ErrTimeout)

	f.coord.HandleMotion(context.Background(), "cam-front", time.Now())
	ev := f.pub.wait(t)

	assert.True(t, ev.Final.Detected, "gating hides nothing from the record")
	assert.False(t, ev.Actuation.Triggered)
	f.act.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything, mock.Anything)
}

func TestVideoUnconfirmed_AnnotatesAndSupersedes(t *testing.T) {
	// Burst triggered, video ran fine and found nothing. Authority law: the
	// video verdict becomes final; the actuation stays on the record.
	f := newFixture(t, stubDetector{confidence: 0.80}, testSettings())

	videoVerdict := data.DetectionVerdict{Detected: false, FrameCount: 30, Source: data.SourceVideo}
	f.videoMock.On("AwaitAndAnalyze", mock.Anything, "cam-front", mock.Anything, mock.Anything, mock.Anything, 0.35).
		Return(videoVerdict, nil)
	f.act.On("Activate", mock.Anything, "zone-1", 30*time.Second).Return(nil)

	f.coord.HandleMotion(context.Background(), "cam-front", time.Now())
	ev := f.pub.wait(t)

	assert.False(t, ev.Final.Detected)
	assert.Equal(t, data.SourceVideo, ev.Final.Source)
	assert.Equal(t, "VIDEO_UNCONFIRMED", ev.ErrorNote)
	assert.True(t, ev.Actuation.Triggered, "the burst actuation is annotated, never retracted")
	assert.Equal(t, data.ProvenanceBurst, ev.Actuation.Provenance)
}

func TestDrain_ResolvesInFlightEvents(t *testing.T) {
	f := newFixture(t, stubDetector{confidence: 0}, testSettings())

	// Video waits on a context that only Drain cancels.
	f.videoMock.On("AwaitAndAnalyze", mock.Anything, "cam-front", mock.Anything, mock.Anything, mock.Anything, 0.35).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		}).
		Return(data.DetectionVerdict{Source: data.SourceVideo}, video.ErrTimeout)

	f.coord.HandleMotion(context.Background(), "cam-front", time.Now())
	f.coord.Drain(50 * time.Millisecond)

	ev := f.pub.wait(t)
	assert.Equal(t, data.PhaseResolved, ev.Phase, "shutdown leaves nothing in VIDEO_PENDING")

	// Post-drain signals are refused.
	f.coord.HandleMotion(context.Background(), "cam-front", time.Now())
	events, err := f.store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
