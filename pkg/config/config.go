// Package config loads hydration settings from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/delaneyj/sprinkle/hydrate"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Prefix        string        `yaml:"prefix"`
	EventPrefix   string        `yaml:"event_prefix"`
	Reactive      bool          `yaml:"reactive"`
	Clean         bool          `yaml:"clean"`
	StripCloak    bool          `yaml:"strip_cloak"`
	DedupeFlush   bool          `yaml:"dedupe_flush"`
	FrameInterval time.Duration `yaml:"frame_interval"`
	Debug         bool          `yaml:"debug"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Prefix:        hydrate.DefaultPrefix,
		EventPrefix:   hydrate.DefaultEventPrefix,
		Reactive:      true,
		Clean:         true,
		FrameInterval: 16 * time.Millisecond,
	}
}

// Load reads path over the defaults. An empty path or a missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults. Keys that are absent keep their
// default value.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.FrameInterval <= 0 {
		return nil, fmt.Errorf("frame_interval must be positive, got %s", cfg.FrameInterval)
	}
	return cfg, nil
}

// Logger builds a development logger in debug mode and a production one
// otherwise.
func (c *Config) Logger() (*zap.Logger, error) {
	if c.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Options maps the settings onto hydrate options. The scheduler is left to
// the caller.
func (c *Config) Options(logger *zap.Logger) []hydrate.Option {
	return []hydrate.Option{
		hydrate.WithPrefix(c.Prefix),
		hydrate.WithEventPrefix(c.EventPrefix),
		hydrate.WithReactive(c.Reactive),
		hydrate.WithClean(c.Clean),
		hydrate.WithStripCloak(c.StripCloak),
		hydrate.WithDedupe(c.DedupeFlush),
		hydrate.WithLogger(logger),
	}
}
