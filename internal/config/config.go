package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration. Everything under Detection is
// operator-tunable at runtime via the settings watcher; the rest is wiring
// that only changes across restarts.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bus       BusConfig       `yaml:"bus"`
	NATS      NATSConfig      `yaml:"nats"`
	Redis     RedisConfig     `yaml:"redis"`
	Detector  DetectorConfig  `yaml:"detector"`
	Actuator  ActuatorConfig  `yaml:"actuator"`
	Detection DetectionConfig `yaml:"detection"`
}

type ServerConfig struct {
	ListenAddr           string `yaml:"listen_addr"`
	ShutdownGraceSeconds int    `yaml:"shutdown_grace_seconds"`
}

type BusConfig struct {
	Broker          string `yaml:"broker"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TopicPrefix     string `yaml:"topic_prefix"` // e.g. "yard/cameras"
	DedupTTLSeconds int    `yaml:"dedup_ttl_seconds"`
	DedupMaxKeys    int    `yaml:"dedup_max_keys"`
}

type NATSConfig struct {
	URL             string `yaml:"url"`
	Subject         string `yaml:"subject"`
	PublishRetryMax int    `yaml:"publish_retry_max"`
}

type RedisConfig struct {
	// Addr empty = in-process cooldown store.
	Addr      string `yaml:"addr"`
	KeyPrefix string `yaml:"key_prefix"`
}

type DetectorConfig struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type ActuatorConfig struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// DetectionConfig is the per-decision settings block. A snapshot of it is
// taken at each decision point, never cached across events.
type DetectionConfig struct {
	Season      SeasonWindow      `yaml:"season"`
	ActiveHours ActiveHoursWindow `yaml:"active_hours"`

	CooldownSeconds int `yaml:"cooldown_seconds"`

	Burst BurstConfig `yaml:"burst"`
	Video VideoConfig `yaml:"video"`

	// Zones maps camera id -> irrigation zone id.
	Zones map[string]string `yaml:"zones"`
}

type BurstConfig struct {
	Count               int     `yaml:"count"`
	IntervalMs          int     `yaml:"interval_ms"`
	AttemptsPerFrame    int     `yaml:"attempts_per_frame"`
	Threshold           float64 `yaml:"threshold"`
	BaseDurationSeconds int     `yaml:"base_duration_seconds"`
}

type VideoConfig struct {
	WaitTimeoutSeconds    int     `yaml:"wait_timeout_seconds"`
	SampleIntervalMs      int     `yaml:"sample_interval_ms"`
	Threshold             float64 `yaml:"threshold"`
	ExtendDurationSeconds int     `yaml:"extend_duration_seconds"`
}

// SeasonWindow is an MM-DD date range. End before start means the season wraps
// the year boundary (e.g. 10-01 .. 04-30).
type SeasonWindow struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type ActiveHoursWindow struct {
	Enabled   bool `yaml:"enabled"`
	StartHour int  `yaml:"start_hour"`
	EndHour   int  `yaml:"end_hour"`
}

// MonthDay is a parsed MM-DD value.
type MonthDay struct {
	Month time.Month
	Day   int
}

func ParseMonthDay(s string) (MonthDay, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	if len(parts) != 2 {
		return MonthDay{}, fmt.Errorf("invalid MM-DD value %q", s)
	}
	m, err := strconv.Atoi(parts[0])
	if err != nil || m < 1 || m > 12 {
		return MonthDay{}, fmt.Errorf("invalid month in %q", s)
	}
	d, err := strconv.Atoi(parts[1])
	if err != nil || d < 1 || d > 31 {
		return MonthDay{}, fmt.Errorf("invalid day in %q", s)
	}
	return MonthDay{Month: time.Month(m), Day: d}, nil
}

// Ordinal is a comparable day-of-year stand-in (month*32+day); fine for
// window comparisons, leap years included.
func (md MonthDay) Ordinal() int {
	return int(md.Month)*32 + md.Day
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8090"
	}
	if c.Server.ShutdownGraceSeconds <= 0 {
		c.Server.ShutdownGraceSeconds = 30
	}
	if c.Bus.ClientID == "" {
		c.Bus.ClientID = "yardguard"
	}
	if c.Bus.TopicPrefix == "" {
		c.Bus.TopicPrefix = "yard/cameras"
	}
	if c.Bus.DedupTTLSeconds <= 0 {
		c.Bus.DedupTTLSeconds = 5
	}
	if c.Bus.DedupMaxKeys <= 0 {
		c.Bus.DedupMaxKeys = 1024
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "yardguard.events.resolved"
	}
	if c.NATS.PublishRetryMax <= 0 {
		c.NATS.PublishRetryMax = 3
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "yardguard"
	}
	if c.Detector.TimeoutMs <= 0 {
		c.Detector.TimeoutMs = 2500
	}
	if c.Actuator.TimeoutMs <= 0 {
		c.Actuator.TimeoutMs = 3000
	}

	d := &c.Detection
	if d.CooldownSeconds <= 0 {
		d.CooldownSeconds = 300
	}
	if d.Burst.Count <= 0 {
		d.Burst.Count = 3
	}
	if d.Burst.IntervalMs <= 0 {
		d.Burst.IntervalMs = 700
	}
	if d.Burst.AttemptsPerFrame <= 0 {
		d.Burst.AttemptsPerFrame = 3
	}
	if d.Burst.Threshold <= 0 {
		d.Burst.Threshold = 0.45
	}
	if d.Burst.BaseDurationSeconds <= 0 {
		d.Burst.BaseDurationSeconds = 30
	}
	if d.Video.WaitTimeoutSeconds <= 0 {
		d.Video.WaitTimeoutSeconds = 65
	}
	if d.Video.SampleIntervalMs <= 0 {
		d.Video.SampleIntervalMs = 500
	}
	if d.Video.Threshold <= 0 {
		d.Video.Threshold = 0.35
	}
	if d.Video.ExtendDurationSeconds <= 0 {
		d.Video.ExtendDurationSeconds = 90
	}
}

func (c *Config) Validate() error {
	if c.Detection.Season.Start != "" {
		if _, err := ParseMonthDay(c.Detection.Season.Start); err != nil {
			return fmt.Errorf("detection.season.start: %w", err)
		}
	}
	if c.Detection.Season.End != "" {
		if _, err := ParseMonthDay(c.Detection.Season.End); err != nil {
			return fmt.Errorf("detection.season.end: %w", err)
		}
	}
	ah := c.Detection.ActiveHours
	if ah.Enabled {
		if ah.StartHour < 0 || ah.StartHour > 23 || ah.EndHour < 0 || ah.EndHour > 23 {
			return fmt.Errorf("detection.active_hours: hours must be 0-23 (got %d..%d)", ah.StartHour, ah.EndHour)
		}
	}
	if c.Detection.Burst.Threshold > 1 || c.Detection.Video.Threshold > 1 {
		return fmt.Errorf("detection thresholds must be in (0,1]")
	}
	return nil
}
