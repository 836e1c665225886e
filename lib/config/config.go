// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Vigil components.
//
// Configuration is loaded from a single YAML file specified by:
//   - VIGIL_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. Environment
// variables never override file values; the file is the single
// source of truth, which keeps configuration deterministic and
// auditable.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vigil-systems/vigil/lib/capture"
)

// Config is the master configuration for a Vigil stream consumer.
type Config struct {
	// Stream configures the patrol event stream connection.
	Stream StreamConfig `yaml:"stream"`

	// Capture configures raw traffic capture. Disabled when Path is
	// empty.
	Capture CaptureConfig `yaml:"capture"`

	// Log configures diagnostic logging.
	Log LogConfig `yaml:"log"`
}

// StreamConfig configures the connection and its patience limits.
type StreamConfig struct {
	// Endpoint is the HTTP(S) URL of the patrol event stream.
	Endpoint string `yaml:"endpoint"`

	// Headers holds extra request headers, typically authentication.
	Headers map[string]string `yaml:"headers"`

	// ReadTimeout bounds a single transport read.
	ReadTimeout Duration `yaml:"read_timeout"`

	// IdleTimeout is the maximum time without byte progress before
	// the session is considered stalled.
	IdleTimeout Duration `yaml:"idle_timeout"`

	// MaxReconnects bounds reconnect attempts after stalls.
	MaxReconnects int `yaml:"max_reconnects"`

	// BackoffBase and BackoffMax shape the reconnect delay.
	BackoffBase Duration `yaml:"backoff_base"`
	BackoffMax  Duration `yaml:"backoff_max"`
}

// CaptureConfig configures traffic capture.
type CaptureConfig struct {
	// Path is the capture file to write. Empty disables capture.
	Path string `yaml:"path"`

	// Compression is the segment compression: none, lz4, or zstd.
	Compression string `yaml:"compression"`

	// SegmentSize is the uncompressed batch size (bytes) that
	// triggers a segment flush. Zero takes the writer's default.
	SegmentSize int `yaml:"segment_size"`
}

// LogConfig configures diagnostic logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns the default configuration. The defaults make all
// fields usable before the file is loaded; the endpoint is still
// required.
func Default() *Config {
	return &Config{
		Stream: StreamConfig{
			ReadTimeout:   Duration(300 * time.Second),
			IdleTimeout:   Duration(300 * time.Second),
			MaxReconnects: 3,
			BackoffBase:   Duration(time.Second),
			BackoffMax:    Duration(30 * time.Second),
		},
		Capture: CaptureConfig{
			Compression: "lz4",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the VIGIL_CONFIG environment
// variable. If it is not set, Load fails: there is no search path.
func Load() (*Config, error) {
	path := os.Getenv("VIGIL_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("VIGIL_CONFIG environment variable not set; " +
			"set it to the path of your vigil.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merged
// over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors. All problems are
// reported at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Stream.Endpoint == "" {
		errs = append(errs, fmt.Errorf("stream.endpoint is required"))
	} else if parsed, err := url.Parse(c.Stream.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("stream.endpoint: %w", err))
	} else if parsed.Scheme != "http" && parsed.Scheme != "https" {
		errs = append(errs, fmt.Errorf("stream.endpoint must be an http or https URL"))
	}

	if c.Stream.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stream.read_timeout must be positive"))
	}
	if c.Stream.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stream.idle_timeout must be positive"))
	}
	if c.Stream.MaxReconnects < 0 {
		errs = append(errs, fmt.Errorf("stream.max_reconnects must not be negative"))
	}
	if c.Stream.BackoffBase <= 0 {
		errs = append(errs, fmt.Errorf("stream.backoff_base must be positive"))
	}
	if c.Stream.BackoffMax < c.Stream.BackoffBase {
		errs = append(errs, fmt.Errorf("stream.backoff_max must be at least stream.backoff_base"))
	}

	if _, err := capture.ParseCompressionTag(c.Capture.Compression); err != nil {
		errs = append(errs, fmt.Errorf("capture.compression: %w", err))
	}
	if c.Capture.SegmentSize < 0 {
		errs = append(errs, fmt.Errorf("capture.segment_size must not be negative"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error"))
	}

	return errors.Join(errs...)
}

// Duration is a time.Duration that unmarshals from YAML duration
// strings like "300s" or "1m30s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler, so a round-tripped config
// keeps its human-readable durations.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
