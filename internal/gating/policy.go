package gating

import (
	"context"
	"fmt"
	"time"

	"yardguard/internal/config"
)

// DenyReason enumerates why a trigger was not permitted.
type DenyReason string

const (
	ReasonOK                 DenyReason = "OK"
	ReasonOutsideSeason      DenyReason = "OUTSIDE_SEASON"
	ReasonOutsideActiveHours DenyReason = "OUTSIDE_ACTIVE_HOURS"
	ReasonCooldownActive     DenyReason = "COOLDOWN_ACTIVE"
)

// Decision is computed per attempt and never stored.
type Decision struct {
	Allowed           bool
	Reason            DenyReason
	CooldownRemaining time.Duration
}

// CooldownStore tracks last_triggered_at per irrigation zone. Implementations
// must serialize MarkTriggered per zone; a burst trigger and a video extend
// for the same zone can race otherwise.
type CooldownStore interface {
	Get(ctx context.Context, zone string) (time.Time, bool, error)
	MarkTriggered(ctx context.Context, zone string, at time.Time) error
}

// Policy decides whether an actuation is currently permitted. Checks run in
// order: season, active hours, cooldown; the first failure short-circuits.
type Policy struct {
	cooldowns CooldownStore
}

func NewPolicy(cooldowns CooldownStore) *Policy {
	return &Policy{cooldowns: cooldowns}
}

// Evaluate applies the season/active-hours/cooldown checks against the given
// settings snapshot. Deterministic given cfg, the stored cooldown and now.
func (p *Policy) Evaluate(ctx context.Context, cfg config.DetectionConfig, zone string, now time.Time) (Decision, error) {
	if !InSeason(cfg.Season, now) {
		return Decision{Reason: ReasonOutsideSeason}, nil
	}
	if cfg.ActiveHours.Enabled && !InActiveHours(cfg.ActiveHours, now) {
		return Decision{Reason: ReasonOutsideActiveHours}, nil
	}

	last, ok, err := p.cooldowns.Get(ctx, zone)
	if err != nil {
		return Decision{}, fmt.Errorf("cooldown lookup for zone %s: %w", zone, err)
	}
	if ok {
		cooldown := time.Duration(cfg.CooldownSeconds) * time.Second
		elapsed := now.Sub(last)
		if elapsed < cooldown {
			return Decision{
				Reason:            ReasonCooldownActive,
				CooldownRemaining: cooldown - elapsed,
			}, nil
		}
	}
	return Decision{Allowed: true, Reason: ReasonOK}, nil
}

// InSeason reports whether now falls in the MM-DD window. An empty window
// means always in season. End before start wraps the year boundary
// (e.g. 10-01 .. 04-30).
func InSeason(w config.SeasonWindow, now time.Time) bool {
	if w.Start == "" || w.End == "" {
		return true
	}
	start, err := config.ParseMonthDay(w.Start)
	if err != nil {
		return true // validated at load; never gate on a parse bug
	}
	end, err := config.ParseMonthDay(w.End)
	if err != nil {
		return true
	}

	today := config.MonthDay{Month: now.Month(), Day: now.Day()}.Ordinal()
	s, e := start.Ordinal(), end.Ordinal()
	if s <= e {
		return today >= s && today <= e
	}
	// Wrapped season: inside if after start OR before end.
	return today >= s || today <= e
}

// InActiveHours reports whether now's hour falls in [start, end), wrapping
// past midnight when end <= start (22..6 covers 23:00 and 05:00, not 12:00).
func InActiveHours(w config.ActiveHoursWindow, now time.Time) bool {
	h := now.Hour()
	if w.StartHour == w.EndHour {
		return true // degenerate window = whole day
	}
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	return h >= w.StartHour || h < w.EndHour
}
