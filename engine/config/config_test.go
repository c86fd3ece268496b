package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 2, cfg.Renderer.FramesInFlight)
	assert.True(t, cfg.Renderer.VSync)
	assert.True(t, cfg.Animation.Loop)
	assert.Equal(t, float32(1.0), cfg.Animation.Speed)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadLayersOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prism.yaml")
	data := []byte(`
window:
  title: test-window
  width: 800
renderer:
  frames_in_flight: 3
  vsync: false
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-window", cfg.Window.Title)
	assert.Equal(t, 800, cfg.Window.Width)
	// Height unset in the file, keeps the default.
	assert.Equal(t, 720, cfg.Window.Height)
	assert.Equal(t, 3, cfg.Renderer.FramesInFlight)
	assert.False(t, cfg.Renderer.VSync)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadClampsValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prism.yaml")
	data := []byte(`
renderer:
  frames_in_flight: 9
  msaa_samples: 5
animation:
  speed: -2.0
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Renderer.FramesInFlight)
	assert.Equal(t, 1, cfg.Renderer.MSAASamples)
	assert.Equal(t, float32(1.0), cfg.Animation.Speed)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/prism.yaml")
	assert.Error(t, err)
	assert.Equal(t, Default(), cfg)
}
