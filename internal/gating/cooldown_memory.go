package gating

import (
	"context"
	"sync"
	"time"
)

// MemoryCooldownStore keeps last_triggered_at per zone in process. A per-zone
// mutex serializes writers so a burst trigger and a later video extend for the
// same zone cannot interleave.
type MemoryCooldownStore struct {
	mu    sync.Mutex
	zones map[string]*zoneEntry
}

type zoneEntry struct {
	mu            sync.Mutex
	lastTriggered time.Time
	set           bool
}

func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{zones: make(map[string]*zoneEntry)}
}

func (s *MemoryCooldownStore) entry(zone string) *zoneEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.zones[zone]
	if !ok {
		e = &zoneEntry{}
		s.zones[zone] = e
	}
	return e
}

func (s *MemoryCooldownStore) Get(ctx context.Context, zone string) (time.Time, bool, error) {
	e := s.entry(zone)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTriggered, e.set, nil
}

func (s *MemoryCooldownStore) MarkTriggered(ctx context.Context, zone string, at time.Time) error {
	e := s.entry(zone)
	e.mu.Lock()
	defer e.mu.Unlock()
	// Never move the cooldown backwards; a delayed burst write must not
	// undercut a video extend that already landed.
	if !e.set || at.After(e.lastTriggered) {
		e.lastTriggered = at
		e.set = true
	}
	return nil
}
