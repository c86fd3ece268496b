// Package config loads engine configuration from a YAML file, falling back
// to sensible defaults for anything unset.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/prismgfx/prism/common"
)

// Config is the root engine configuration.
type Config struct {
	Window    WindowConfig    `yaml:"window"`
	Renderer  RendererConfig  `yaml:"renderer"`
	Animation AnimationConfig `yaml:"animation"`
	Log       LogConfig       `yaml:"log"`
}

// WindowConfig configures the application window.
type WindowConfig struct {
	Title  string `yaml:"title"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// RendererConfig configures the frame loop and surface.
type RendererConfig struct {
	// FramesInFlight bounds how many frames may be recorded before the CPU
	// blocks on a completion fence. Clamped to [2, 3].
	FramesInFlight int `yaml:"frames_in_flight"`

	// MSAASamples is the multisample count for the color target (1, 2, 4, 8).
	MSAASamples int `yaml:"msaa_samples"`

	// VSync selects FIFO presentation when true, mailbox/immediate otherwise.
	VSync bool `yaml:"vsync"`
}

// AnimationConfig configures playback of animation clips.
type AnimationConfig struct {
	// Loop wraps sample time around the clip duration; when false time is
	// clamped to the final keyframe.
	Loop bool `yaml:"loop"`

	// Speed is a playback rate multiplier applied to frame delta time.
	Speed float32 `yaml:"speed"`
}

// LogConfig configures structured logging output.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration used when no file is provided.
//
// Returns:
//   - Config: the default configuration
func Default() Config {
	return Config{
		Window: WindowConfig{
			Title:  "prism",
			Width:  1280,
			Height: 720,
		},
		Renderer: RendererConfig{
			FramesInFlight: 2,
			MSAASamples:    1,
			VSync:          true,
		},
		Animation: AnimationConfig{
			Loop:  true,
			Speed: 1.0,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML configuration file, layering it over Default.
//
// Parameters:
//   - path: path to the YAML file
//
// Returns:
//   - Config: the merged configuration
//   - error: error if the file cannot be read or parsed
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.normalize()
	return cfg, nil
}

// normalize clamps values into their supported ranges.
func (c *Config) normalize() {
	c.Window.Title = common.Coalesce(c.Window.Title, "prism")
	c.Log.Level = common.Coalesce(c.Log.Level, "info")
	if c.Renderer.FramesInFlight < 2 {
		c.Renderer.FramesInFlight = 2
	}
	if c.Renderer.FramesInFlight > 3 {
		c.Renderer.FramesInFlight = 3
	}
	switch c.Renderer.MSAASamples {
	case 1, 2, 4, 8:
	default:
		c.Renderer.MSAASamples = 1
	}
	if c.Animation.Speed <= 0 {
		c.Animation.Speed = 1.0
	}
	if c.Window.Width <= 0 {
		c.Window.Width = 1280
	}
	if c.Window.Height <= 0 {
		c.Window.Height = 720
	}
}
