package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryEventStore keeps events in a map. Used by tests and by `server -dev`
// runs where no postgres is around.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*MotionEvent
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[uuid.UUID]*MotionEvent)}
}

func (s *MemoryEventStore) CreateEvent(ctx context.Context, ev *MotionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.UpdatedAt = time.Now().UTC()
	cp := *ev
	s.events[ev.ID] = &cp
	return nil
}

func (s *MemoryEventStore) UpdateEvent(ctx context.Context, id uuid.UUID, upd EventUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return ErrRecordNotFound
	}
	if upd.Phase != nil {
		ev.Phase = *upd.Phase
	}
	if upd.BurstResult != nil {
		v := *upd.BurstResult
		ev.BurstResult = &v
	}
	if upd.VideoResult != nil {
		v := *upd.VideoResult
		ev.VideoResult = &v
	}
	if upd.Final != nil {
		ev.Final = *upd.Final
	}
	if upd.Actuation != nil {
		ev.Actuation = *upd.Actuation
	}
	if upd.ErrorNote != nil {
		ev.ErrorNote = *upd.ErrorNote
	}
	ev.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryEventStore) GetEvent(ctx context.Context, id uuid.UUID) (*MotionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *MemoryEventStore) GetInFlight(ctx context.Context, cameraID string) (*MotionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *MotionEvent
	for _, ev := range s.events {
		if ev.CameraID != cameraID || ev.Phase == PhaseResolved {
			continue
		}
		if latest == nil || ev.ReceivedAt.After(latest.ReceivedAt) {
			latest = ev
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryEventStore) ListRecent(ctx context.Context, limit int) ([]*MotionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*MotionEvent, 0, len(s.events))
	for _, ev := range s.events {
		cp := *ev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
