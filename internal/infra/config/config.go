// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Playback PlaybackConfig `yaml:"playback"`
	Volume   VolumeConfig   `yaml:"volume"`
	Device   DeviceConfig   `yaml:"device"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Output string `yaml:"output" default:"stderr"`
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	File   string `yaml:"file"`
}

// PlaybackConfig represents decode and feed configuration.
type PlaybackConfig struct {
	BufferSizeKB   int `yaml:"buffer_size_kb" default:"256" validate:"gte=4,lte=4096"`
	PollIntervalMs int `yaml:"poll_interval_ms" default:"50" validate:"gte=5,lte=1000"`
	EventBuffer    int `yaml:"event_buffer" default:"32" validate:"gte=1"`
}

// VolumeConfig represents the gain of each track type.
// Pointers keep an explicit 0 from being replaced by the default.
type VolumeConfig struct {
	Voice *float64 `yaml:"voice" default:"1" validate:"required,gte=0,lte=1"`
	Song  *float64 `yaml:"song" default:"1" validate:"required,gte=0,lte=1"`
	Video *float64 `yaml:"video" default:"1" validate:"required,gte=0,lte=1"`
}

// DeviceConfig represents output device configuration.
type DeviceConfig struct {
	Backend  string         `yaml:"backend" default:"oto" validate:"oneof=null oto"`
	Slots    int            `yaml:"slots" default:"3" validate:"gte=2,lte=16"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MetricsConfig represents the metrics endpoint configuration.
type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// Load loads configuration from a YAML file. An empty path loads defaults only.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("AUDIOFEED_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("AUDIOFEED_LOG_FILE"); v != "" {
		c.Log.Output = "file"
		c.Log.File = v
	}
	if v := os.Getenv("AUDIOFEED_DEVICE_BACKEND"); v != "" {
		c.Device.Backend = v
	}
	if v := os.Getenv("AUDIOFEED_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	if c.Log.Output != "stdout" && c.Log.Output != "stderr" && c.Log.Output != "" && c.Log.File == "" {
		return errors.Newf("log.file is required for output %q", c.Log.Output)
	}
	return nil
}

// BufferSize returns the playback buffer budget in bytes.
func (c *Config) BufferSize() int {
	return c.Playback.BufferSizeKB * 1024
}

// PollInterval returns the device poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Playback.PollIntervalMs) * time.Millisecond
}
