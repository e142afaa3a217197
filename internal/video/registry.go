package video

import (
	"log"
	"sync"
	"time"
)

// RecordingSignal is a "recording available" notification from the bus.
type RecordingSignal struct {
	CameraID   string
	URL        string
	NotifiedAt time.Time
}

// Registry hands recording-available signals from the bus goroutine to the
// per-event video task. One waiter per camera; the in-flight guard upstream
// guarantees that. A signal with no waiter is parked so a notification racing
// the task spawn is not lost.
type Registry struct {
	mu      sync.Mutex
	waiters map[string]chan RecordingSignal
	parked  map[string]RecordingSignal
}

func NewRegistry() *Registry {
	return &Registry{
		waiters: make(map[string]chan RecordingSignal),
		parked:  make(map[string]RecordingSignal),
	}
}

// Notify delivers a signal to the camera's waiter, or parks it.
func (r *Registry) Notify(sig RecordingSignal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.waiters[sig.CameraID]; ok {
		select {
		case ch <- sig:
		default:
			// Waiter already got one; later signals belong to a later event.
			log.Printf("[WARN] VideoRegistry (%s): dropping extra recording signal", sig.CameraID)
		}
		return
	}
	r.parked[sig.CameraID] = sig
}

// Subscribe registers a waiter for the camera. Signals parked after
// triggerTime are delivered immediately. Callers must Unsubscribe.
func (r *Registry) Subscribe(cameraID string, triggerTime time.Time) <-chan RecordingSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan RecordingSignal, 1)
	r.waiters[cameraID] = ch
	if sig, ok := r.parked[cameraID]; ok {
		delete(r.parked, cameraID)
		if sig.NotifiedAt.After(triggerTime) {
			ch <- sig
		}
	}
	return ch
}

func (r *Registry) Unsubscribe(cameraID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiters, cameraID)
}
