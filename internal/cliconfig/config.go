// Package cliconfig resolves configuration for the plasmite tooling
// from flags, environment, and an optional TOML file. Precedence is
// flags over environment over file over defaults; the changed map from
// pflag records which flags were set explicitly.
package cliconfig

import (
	"fmt"
	"time"
)

// Backend names accepted by --backend.
const (
	BackendNative = "native"
	BackendFile   = "file"
)

// Config holds CLI configuration for the conformance runner.
type Config struct {
	// Backend selects the pool implementation: "native" binds
	// libplasmite, "file" uses the pure-Go backend.
	Backend string

	// BinPath locates the external plasmite binary used by spawn_poke
	// and pool_info.
	BinPath string

	// TailTimeout bounds each underlying fetch during tail steps.
	TailTimeout time.Duration

	// LogLevel is a zerolog level name: debug, info, warn, error.
	LogLevel string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Backend:     BackendNative,
		TailTimeout: 500 * time.Millisecond,
		LogLevel:    "info",
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendNative, BackendFile:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendNative, BackendFile)
	}
	if c.TailTimeout <= 0 {
		return fmt.Errorf("tail timeout must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

// configSetter helps apply configuration values while respecting flag
// precedence. It only applies values if the corresponding flag hasn't
// been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag
// not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}
