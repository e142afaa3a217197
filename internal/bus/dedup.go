package bus

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// SignalDedup suppresses repeats of the same bus signal inside a TTL window.
// This only papers over sensor flapping at the transport edge; the
// coordinator's in-flight registry is the real duplicate guard.
type SignalDedup struct {
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
}

func NewSignalDedup(maxKeys int, ttl time.Duration) *SignalDedup {
	c, _ := lru.New[string, time.Time](maxKeys)
	return &SignalDedup{cache: c, ttl: ttl}
}

// IsDuplicate reports whether key was seen inside the TTL, and stamps it.
func (d *SignalDedup) IsDuplicate(key string) bool {
	if addedAt, ok := d.cache.Get(key); ok {
		if time.Since(addedAt) < d.ttl {
			return true
		}
	}
	d.cache.Add(key, time.Now())
	return false
}
