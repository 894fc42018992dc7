package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.FramesInFlight)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel())

	req := cfg.Requirements()
	assert.Equal(t, []string{"VK_KHR_swapchain"}, req.Extensions)
	assert.True(t, req.Timelines)
	assert.False(t, req.Subgroups)
}

func TestParseKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
app_name: particles
frames_in_flight: 2
log_level: debug
window:
  width: 1280
`))
	require.NoError(t, err)

	assert.Equal(t, "particles", cfg.AppName)
	assert.Equal(t, 2, cfg.FramesInFlight)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
	assert.Equal(t, 1280, cfg.Window.Width)
	assert.Equal(t, 600, cfg.Window.Height)
	assert.Equal(t, 4096, cfg.Particles)
	assert.True(t, cfg.Validation)
}

func TestParseRejectsInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"frames":    "frames_in_flight: 0",
		"particles": "particles: -1",
		"window":    "window: {width: 0}",
		"level":     "log_level: loud",
		"timelines": "timelines: false",
		"app":       `app_name: ""`,
		"syntax":    "app_name: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestRequirementsAlwaysNeedTimelines(t *testing.T) {
	cfg := Default()
	cfg.Timelines = false
	assert.Error(t, cfg.Validate())
	assert.True(t, cfg.Requirements().Timelines)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urn.yaml")
	require.NoError(t, os.WriteFile(path, []byte("particles: 128\nsubgroups: true\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Particles)
	assert.True(t, cfg.Requirements().Subgroups)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
