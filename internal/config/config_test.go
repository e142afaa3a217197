package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalYAML = `
bus:
  broker: "tcp://broker:1883"
detection:
  season:
    start: "10-01"
    end: "04-30"
  active_hours:
    enabled: true
    start_hour: 22
    end_hour: 6
  zones:
    cam-front: "zone-1"
`

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.Server.ListenAddr)
	assert.Equal(t, 30, cfg.Server.ShutdownGraceSeconds)
	assert.Equal(t, "yard/cameras", cfg.Bus.TopicPrefix)
	assert.Equal(t, 300, cfg.Detection.CooldownSeconds)
	assert.Equal(t, 3, cfg.Detection.Burst.Count)
	assert.Equal(t, 0.45, cfg.Detection.Burst.Threshold)
	assert.Equal(t, 0.35, cfg.Detection.Video.Threshold)
	assert.Equal(t, 65, cfg.Detection.Video.WaitTimeoutSeconds)
	assert.Equal(t, "zone-1", cfg.Detection.Zones["cam-front"])
}

func TestLoad_RejectsBadSeason(t *testing.T) {
	_, err := Load(writeConfig(t, `
detection:
  season:
    start: "13-01"
    end: "04-30"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "season.start")
}

func TestLoad_RejectsBadActiveHours(t *testing.T) {
	_, err := Load(writeConfig(t, `
detection:
  active_hours:
    enabled: true
    start_hour: 22
    end_hour: 24
`))
	require.Error(t, err)
}

func TestParseMonthDay(t *testing.T) {
	md, err := ParseMonthDay("10-01")
	require.NoError(t, err)
	assert.Equal(t, time.October, md.Month)
	assert.Equal(t, 1, md.Day)

	for _, bad := range []string{"", "10", "00-10", "10-32", "abc-de"} {
		_, err := ParseMonthDay(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestMonthDay_OrdinalOrdering(t *testing.T) {
	oct := MonthDay{Month: time.October, Day: 1}
	apr := MonthDay{Month: time.April, Day: 30}
	assert.Greater(t, oct.Ordinal(), apr.Ordinal())
}

func TestProvider_ReloadSwapsSettings(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	p := NewProvider(path, cfg)
	assert.Equal(t, 300, p.Detection().CooldownSeconds)

	require.NoError(t, os.WriteFile(path, []byte(`
detection:
  cooldown_seconds: 60
`), 0o644))
	p.Reload()

	assert.Equal(t, 60, p.Detection().CooldownSeconds)
}

func TestProvider_BadReloadKeepsPrevious(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	p := NewProvider(path, cfg)

	require.NoError(t, os.WriteFile(path, []byte(`detection: {season: {start: "99-99"}}`), 0o644))
	p.Reload()

	assert.Equal(t, "10-01", p.Detection().Season.Start, "broken edits never replace working settings")
}
