package gating

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCooldownStore shares zone cooldowns across processes (e.g. a second
// yardguard instance covering another camera group hitting the same irrigation
// zones). Serialization per zone comes from a compare-and-set script: the
// stored timestamp only ever moves forward.
type RedisCooldownStore struct {
	rdb    *redis.Client
	prefix string
}

var markTriggeredScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur or tonumber(ARGV[1]) > tonumber(cur) then
  redis.call("SET", KEYS[1], ARGV[1])
  return 1
end
return 0
`)

func NewRedisCooldownStore(rdb *redis.Client, prefix string) *RedisCooldownStore {
	return &RedisCooldownStore{rdb: rdb, prefix: prefix}
}

func (s *RedisCooldownStore) key(zone string) string {
	return fmt.Sprintf("%s:cooldown:%s", s.prefix, zone)
}

func (s *RedisCooldownStore) Get(ctx context.Context, zone string) (time.Time, bool, error) {
	v, err := s.rdb.Get(ctx, s.key(zone)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis cooldown get: %w", err)
	}
	return time.UnixMilli(v).UTC(), true, nil
}

func (s *RedisCooldownStore) MarkTriggered(ctx context.Context, zone string, at time.Time) error {
	err := markTriggeredScript.Run(ctx, s.rdb, []string{s.key(zone)}, at.UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("redis cooldown mark: %w", err)
	}
	return nil
}
