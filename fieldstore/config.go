// Copyright 2026 Fieldrover Project
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for opening the field store.
type Config struct {
	Path        string        `yaml:"path"`
	WALMode     bool          `yaml:"wal_mode"`
	ForeignKeys bool          `yaml:"foreign_keys"`
	BusyTimeout time.Duration `yaml:"-"`

	// Logger is used for open/close and migration events. Defaults to
	// slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns a configuration with settings matching mobile
// best practices: WAL journaling, enforced foreign keys, a busy timeout that
// tolerates a concurrent writer.
func DefaultConfig(path string) *Config {
	return &Config{
		Path:        path,
		WALMode:     true,
		ForeignKeys: true,
		BusyTimeout: 5 * time.Second,
	}
}

// rawConfig is the YAML-facing shape; durations are parsed in a second pass
// since YAML has no native duration type.
type rawConfig struct {
	Path        string `yaml:"path"`
	WALMode     *bool  `yaml:"wal_mode"`
	ForeignKeys *bool  `yaml:"foreign_keys"`
	BusyTimeout string `yaml:"busy_timeout"`
}

// LoadConfig reads a YAML configuration file. Absent fields keep their
// DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg := DefaultConfig(raw.Path)
	if raw.WALMode != nil {
		cfg.WALMode = *raw.WALMode
	}
	if raw.ForeignKeys != nil {
		cfg.ForeignKeys = *raw.ForeignKeys
	}
	if raw.BusyTimeout != "" {
		d, err := time.ParseDuration(raw.BusyTimeout)
		if err != nil {
			return nil, fmt.Errorf("parsing busy_timeout: %w", err)
		}
		cfg.BusyTimeout = d
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("busy_timeout must not be negative")
	}
	return nil
}
