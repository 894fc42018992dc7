// Package config loads engine and demo settings from YAML.
package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/family"
	"gopkg.in/yaml.v3"
)

type Window struct {
	Title  string `yaml:"title"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

type Config struct {
	AppName          string   `yaml:"app_name"`
	Validation       bool     `yaml:"validation"`
	ValidationLayers []string `yaml:"validation_layers"`
	DeviceExtensions []string `yaml:"device_extensions"`
	Timelines        bool     `yaml:"timelines"`
	Subgroups        bool     `yaml:"subgroups"`
	FramesInFlight   int      `yaml:"frames_in_flight"`
	Particles        int      `yaml:"particles"`
	Level            string   `yaml:"log_level"`
	Window           Window   `yaml:"window"`
}

func Default() Config {
	return Config{
		AppName:          "urn",
		Validation:       true,
		ValidationLayers: []string{"VK_LAYER_KHRONOS_validation"},
		DeviceExtensions: []string{"VK_KHR_swapchain"},
		Timelines:        true,
		Subgroups:        false,
		FramesInFlight:   1,
		Particles:        4096,
		Level:            "info",
		Window: Window{
			Title:  "urn",
			Width:  800,
			Height: 600,
		},
	}
}

// Parse reads YAML over the defaults. Keys absent from data keep their
// default value.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	cfg, err := Parse(data)
	return cfg, errors.Wrapf(err, "%s", path)
}

func (c Config) Validate() error {
	if c.AppName == "" {
		return errors.New("config: app_name is empty")
	}
	if c.FramesInFlight < 1 {
		return errors.Newf("config: frames_in_flight must be at least 1, got %d", c.FramesInFlight)
	}
	if !c.Timelines {
		return errors.New("config: timelines cannot be disabled, frame pacing runs on a timeline semaphore")
	}
	if c.Particles < 0 {
		return errors.Newf("config: particles must not be negative, got %d", c.Particles)
	}
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return errors.Newf("config: window size %dx%d", c.Window.Width, c.Window.Height)
	}
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	return nil
}

func (c Config) Requirements() family.Requirements {
	return family.Requirements{
		Extensions: append([]string(nil), c.DeviceExtensions...),
		Timelines:  true,
		Subgroups:  c.Subgroups,
	}
}

func (c Config) LogLevel() slog.Level {
	level, _ := parseLevel(c.Level)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.Newf("config: unknown log_level %q", s)
	}
}
