package coordinator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"yardguard/internal/actuator"
	"yardguard/internal/config"
	"yardguard/internal/data"
	"yardguard/internal/fusion"
	"yardguard/internal/gating"
	"yardguard/internal/metrics"
	"yardguard/internal/video"
)

// persistTimeout bounds the store writes done after a phase finishes, so a
// cancelled pipeline context can still record its partial result.
const persistTimeout = 5 * time.Second

// SettingsProvider hands out the operator settings snapshot for one decision.
type SettingsProvider interface {
	Detection() config.DetectionConfig
}

// BurstCapturer is the fast-path frame source (capture.Controller in prod).
type BurstCapturer interface {
	CaptureBurst(ctx context.Context, cameraID string, count int, interval time.Duration, attempts int) ([][]byte, error)
}

// VideoConfirmer is the slow-path analysis (video.Controller in prod).
type VideoConfirmer interface {
	AwaitAndAnalyze(ctx context.Context, cameraID string, triggerTime time.Time, timeout, sampleInterval time.Duration, threshold float64) (data.DetectionVerdict, error)
}

// ResolvedPublisher receives every event that reaches RESOLVED.
type ResolvedPublisher interface {
	PublishResolved(ev *data.MotionEvent) error
}

// Coordinator owns the per-event state machine: on a motion signal it runs
// the burst fast path synchronously, then spawns the video confirmation task
// and reconciles its verdict when it lands. One camera never has two events
// in flight.
type Coordinator struct {
	store     data.EventStore
	burst     BurstCapturer
	video     VideoConfirmer
	engine    *fusion.Engine
	policy    *gating.Policy
	cooldowns gating.CooldownStore
	actuator  actuator.Client
	settings  SettingsProvider
	publisher ResolvedPublisher // optional

	mu       sync.Mutex
	inflight map[string]uuid.UUID // camera_id -> event id
	stopping bool

	wg        sync.WaitGroup
	videoCtx  context.Context
	videoStop context.CancelFunc
}

func New(store data.EventStore, burst BurstCapturer, vc VideoConfirmer,
	engine *fusion.Engine, policy *gating.Policy, cooldowns gating.CooldownStore,
	act actuator.Client, settings SettingsProvider, publisher ResolvedPublisher) *Coordinator {

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:     store,
		burst:     burst,
		video:     vc,
		engine:    engine,
		policy:    policy,
		cooldowns: cooldowns,
		actuator:  act,
		settings:  settings,
		publisher: publisher,
		inflight:  make(map[string]uuid.UUID),
		videoCtx:  ctx,
		videoStop: cancel,
	}
}

// HandleMotion dispatches one motion signal. Runs on the bus consumer
// goroutine per camera message; the burst phase completes here (fast path),
// the video phase is spawned and left to its own goroutine.
func (c *Coordinator) HandleMotion(ctx context.Context, cameraID string, receivedAt time.Time) {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		metrics.RecordIgnoredSignal("shutting_down")
		return
	}
	if id, busy := c.inflight[cameraID]; busy {
		c.mu.Unlock()
		log.Printf("Coordinator (%s): motion ignored, event %s still in flight", cameraID, id)
		metrics.RecordIgnoredSignal("in_flight")
		return
	}
	c.mu.Unlock()

	cfg := c.settings.Detection()

	// The registry only knows this process. A recent unresolved row in the
	// store means a previous run (or another instance) owns this occurrence.
	if prior, err := c.store.GetInFlight(ctx, cameraID); err == nil && prior != nil {
		maxAge := time.Duration(cfg.Video.WaitTimeoutSeconds)*time.Second + time.Minute
		if time.Since(prior.ReceivedAt) < maxAge {
			log.Printf("Coordinator (%s): motion ignored, stored event %s still in flight", cameraID, prior.ID)
			metrics.RecordIgnoredSignal("in_flight_stored")
			return
		}
		log.Printf("[WARN] Coordinator (%s): stale unresolved event %s ignored as a guard", cameraID, prior.ID)
	}

	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		metrics.RecordIgnoredSignal("shutting_down")
		return
	}
	if id, busy := c.inflight[cameraID]; busy {
		c.mu.Unlock()
		metrics.RecordIgnoredSignal("in_flight")
		log.Printf("Coordinator (%s): motion ignored, event %s still in flight", cameraID, id)
		return
	}
	ev := &data.MotionEvent{
		ID:         uuid.New(),
		CameraID:   cameraID,
		ReceivedAt: receivedAt.UTC(),
		Phase:      data.PhasePending,
		Final:      data.DetectionVerdict{Source: data.SourceBurst},
	}
	c.inflight[cameraID] = ev.ID
	c.mu.Unlock()

	if err := c.store.CreateEvent(ctx, ev); err != nil {
		log.Printf("[ERROR] Coordinator (%s): create event failed, dropping signal: %v", cameraID, err)
		c.release(cameraID)
		return
	}
	metrics.InFlightEvents.Inc()
	log.Printf("Coordinator (%s): motion event %s dispatched", cameraID, ev.ID)

	c.runBurstPhase(ctx, ev, cfg)

	c.wg.Add(1)
	go c.runVideoPhase(ev)
}

func (c *Coordinator) release(cameraID string) {
	c.mu.Lock()
	delete(c.inflight, cameraID)
	c.mu.Unlock()
}

// runBurstPhase executes capture -> fuse -> gate/actuate and advances the
// event to BURST_DONE. All failures degrade; the fast path never hangs the
// dispatcher past its deadline budget.
func (c *Coordinator) runBurstPhase(ctx context.Context, ev *data.MotionEvent, cfg config.DetectionConfig) {
	started := time.Now()
	interval := time.Duration(cfg.Burst.IntervalMs) * time.Millisecond

	frames, err := c.burst.CaptureBurst(ctx, ev.CameraID, cfg.Burst.Count, interval, cfg.Burst.AttemptsPerFrame)
	if err != nil {
		// CaptureBurst degrades to an empty frame set; an error here is a
		// programming bug, not a camera problem.
		log.Printf("[ERROR] Coordinator (%s): burst capture: %v", ev.CameraID, err)
		frames = nil
	}

	verdict, fuseErr := c.engine.Fuse(ctx, frames, data.SourceBurst, cfg.Burst.Threshold)
	upd := data.EventUpdate{}
	phase := data.PhaseBurstDone
	upd.Phase = &phase

	if fuseErr != nil {
		// All frames failed at the detector. Record the wipeout rather than
		// a fake "nothing there"; the video phase may still save the event.
		note := data.ErrNoteDetectionError
		upd.ErrorNote = &note
		log.Printf("[ERROR] Coordinator (%s): burst fusion: %v", ev.CameraID, fuseErr)
		ev.ErrorNote = note
	} else {
		upd.BurstResult = &verdict
		upd.Final = &verdict
		ev.BurstResult = &verdict
		ev.Final = verdict

		if verdict.Detected {
			duration := time.Duration(cfg.Burst.BaseDurationSeconds) * time.Second
			act := c.tryActuate(ctx, cfg, ev.CameraID, duration, data.ProvenanceBurst, true)
			upd.Actuation = &act
			ev.Actuation = act
		}
	}

	if err := c.store.UpdateEvent(ctx, ev.ID, upd); err != nil {
		log.Printf("[ERROR] Coordinator (%s): persist burst result: %v", ev.CameraID, err)
	}
	ev.Phase = data.PhaseBurstDone
	metrics.BurstPipelineSeconds.Observe(time.Since(started).Seconds())
}

// tryActuate gates and fires the sprinkler. chargeCooldown is false for a
// video extend, which refreshes nothing: extending a running zone must not
// double-charge the cooldown. Gating errors deny; a broken cooldown store
// must not water the garden on a guess.
func (c *Coordinator) tryActuate(ctx context.Context, cfg config.DetectionConfig, cameraID string, duration time.Duration, provenance data.ActuationProvenance, chargeCooldown bool) data.Actuation {
	zone, ok := cfg.Zones[cameraID]
	if !ok {
		log.Printf("[WARN] Coordinator (%s): no irrigation zone mapped, skipping actuation", cameraID)
		return data.Actuation{}
	}

	now := time.Now().UTC()
	if provenance != data.ProvenanceVideoExtend {
		decision, err := c.policy.Evaluate(ctx, cfg, zone, now)
		if err != nil {
			log.Printf("[ERROR] Coordinator (%s): gating check failed, denying: %v", cameraID, err)
			return data.Actuation{Zone: zone}
		}
		if !decision.Allowed {
			log.Printf("Coordinator (%s): actuation denied for zone %s: %s (cooldown remaining %s)",
				cameraID, zone, decision.Reason, decision.CooldownRemaining.Round(time.Second))
			metrics.RecordGatingDenied(string(decision.Reason))
			return data.Actuation{Zone: zone}
		}
	}

	if err := c.actuator.Activate(ctx, zone, duration); err != nil {
		// Surfaced but never rolled back into the detection record: the deer
		// was there whether or not the sprinkler valve answered.
		log.Printf("[ERROR] Coordinator (%s): actuator call for zone %s: %v", cameraID, zone, err)
		return data.Actuation{Zone: zone}
	}

	if chargeCooldown {
		if err := c.cooldowns.MarkTriggered(ctx, zone, now); err != nil {
			log.Printf("[ERROR] Coordinator (%s): cooldown update for zone %s: %v", cameraID, zone, err)
		}
	}
	metrics.RecordActuation(string(provenance))
	log.Printf("Coordinator (%s): zone %s activated for %s (%s)", cameraID, zone, duration, provenance)

	return data.Actuation{
		Triggered:       true,
		Zone:            zone,
		DurationSeconds: int(duration.Seconds()),
		TriggeredAt:     &now,
		Provenance:      provenance,
	}
}

// runVideoPhase is the slow confirmation task: one goroutine per event. It
// owns the BURST_DONE -> VIDEO_PENDING -> RESOLVED tail of the state machine
// and releases the camera's in-flight slot when done.
func (c *Coordinator) runVideoPhase(ev *data.MotionEvent) {
	defer c.wg.Done()
	defer c.release(ev.CameraID)
	defer metrics.InFlightEvents.Dec()

	cfg := c.settings.Detection()

	phase := data.PhaseVideoPending
	if err := c.updateEvent(ev.ID, data.EventUpdate{Phase: &phase}); err != nil {
		log.Printf("[ERROR] Coordinator (%s): persist VIDEO_PENDING: %v", ev.CameraID, err)
	}
	ev.Phase = data.PhaseVideoPending

	timeout := time.Duration(cfg.Video.WaitTimeoutSeconds) * time.Second
	sampleInterval := time.Duration(cfg.Video.SampleIntervalMs) * time.Millisecond
	verdict, err := c.video.AwaitAndAnalyze(c.videoCtx, ev.CameraID, ev.ReceivedAt, timeout, sampleInterval, cfg.Video.Threshold)

	c.reconcile(ev, cfg, verdict, err)

	metrics.VideoConfirmSeconds.Observe(time.Since(ev.ReceivedAt).Seconds())
	c.publishResolved(ev.ID)
}

// reconcile merges the confirmation verdict into the event and resolves it.
// Authority is monotonic: a real video verdict always supersedes burst as
// `final`. A timeout is no new evidence and leaves `final` alone.
func (c *Coordinator) reconcile(ev *data.MotionEvent, cfg config.DetectionConfig, verdict data.DetectionVerdict, videoErr error) {
	resolved := data.PhaseResolved
	upd := data.EventUpdate{Phase: &resolved}
	outcome := "resolved_no_detection"

	switch {
	case errors.Is(videoErr, video.ErrTimeout):
		// No recording showed up. Keep the burst verdict, flag the phase.
		timeoutPhase := data.PhaseVideoTimeout
		if err := c.updateEvent(ev.ID, data.EventUpdate{Phase: &timeoutPhase}); err != nil {
			log.Printf("[ERROR] Coordinator (%s): persist VIDEO_TIMEOUT: %v", ev.CameraID, err)
		}
		log.Printf("Coordinator (%s): video confirmation timed out, keeping burst verdict", ev.CameraID)
		outcome = "video_timeout"

	case errors.Is(videoErr, fusion.ErrAllFramesFailed):
		note := data.ErrNoteDetectionError
		upd.ErrorNote = &note
		log.Printf("[ERROR] Coordinator (%s): video fusion: %v", ev.CameraID, videoErr)
		outcome = "detection_error"

	case videoErr != nil:
		// Download or sampling failure: no new evidence, same as a timeout
		// for the verdict, but worth the louder log line.
		log.Printf("[ERROR] Coordinator (%s): video confirmation: %v", ev.CameraID, videoErr)
		outcome = "video_error"

	default:
		upd.VideoResult = &verdict
		upd.Final = &verdict
		ev.VideoResult = &verdict

		switch {
		case verdict.Detected && ev.Actuation.Triggered:
			// Same physical occurrence, now confirmed: extend the running
			// zone rather than re-trigger it.
			duration := time.Duration(cfg.Video.ExtendDurationSeconds) * time.Second
			act := c.tryActuate(context.Background(), cfg, ev.CameraID, duration, data.ProvenanceVideoExtend, false)
			if act.Triggered {
				upd.Actuation = &act
				ev.Actuation = act
			}
			outcome = "confirmed"

		case verdict.Detected:
			// Late trigger: the fast path missed, the slow path must not be
			// suppressed by that miss.
			duration := time.Duration(cfg.Video.ExtendDurationSeconds) * time.Second
			act := c.tryActuate(context.Background(), cfg, ev.CameraID, duration, data.ProvenanceVideoLate, true)
			upd.Actuation = &act
			ev.Actuation = act
			outcome = "late_trigger"

		case ev.BurstResult != nil && ev.BurstResult.Detected:
			// Burst fired but video saw nothing. Annotate only: the water is
			// already on the lawn and the audit trail stays honest.
			note := "VIDEO_UNCONFIRMED"
			upd.ErrorNote = &note
			outcome = "unconfirmed"
		}
		ev.Final = verdict
	}

	if err := c.updateEvent(ev.ID, upd); err != nil {
		log.Printf("[ERROR] Coordinator (%s): persist resolution: %v", ev.CameraID, err)
	}
	ev.Phase = data.PhaseResolved
	metrics.RecordOutcome(outcome)
	log.Printf("Coordinator (%s): event %s resolved (%s)", ev.CameraID, ev.ID, outcome)
}

// updateEvent writes with its own short deadline so results persist even
// while the pipeline context is being torn down.
func (c *Coordinator) updateEvent(id uuid.UUID, upd data.EventUpdate) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return c.store.UpdateEvent(ctx, id, upd)
}

func (c *Coordinator) publishResolved(id uuid.UUID) {
	if c.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	ev, err := c.store.GetEvent(ctx, id)
	if err != nil {
		log.Printf("[ERROR] Coordinator: load event %s for publish: %v", id, err)
		return
	}
	if err := c.publisher.PublishResolved(ev); err != nil {
		log.Printf("[ERROR] Coordinator: publish resolved event %s: %v", id, err)
	}
}

// InFlight reports whether a camera currently has an unresolved event.
func (c *Coordinator) InFlight(cameraID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[cameraID]
	return ok
}

// Drain stops accepting motion signals and gives in-flight video tasks a
// grace period to persist what they have. After the grace the wait contexts
// are cancelled, which drives each task down its timeout path; no event is
// left sitting in VIDEO_PENDING.
func (c *Coordinator) Drain(grace time.Duration) {
	c.mu.Lock()
	c.stopping = true
	remaining := len(c.inflight)
	c.mu.Unlock()

	if remaining > 0 {
		log.Printf("Coordinator: draining %d in-flight event(s), grace %s", remaining, grace)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(grace):
		log.Printf("[WARN] Coordinator: grace period elapsed, cancelling video waits")
		c.videoStop()
	}

	select {
	case <-done:
	case <-time.After(persistTimeout * 2):
		log.Printf("[ERROR] Coordinator: video tasks did not finish after cancellation")
	}
}
