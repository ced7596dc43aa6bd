// Package config loads mudlark configuration from a TOML file with
// MUDLARK_* environment overrides layered on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Default values.
const (
	DefaultLogLevel    = "info"
	DefaultJoinTimeout = 2 * time.Second
)

// Config is the full mudlark configuration.
type Config struct {
	// ScriptPaths are the ordered search paths for script artifacts.
	ScriptPaths []string `toml:"script_paths"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// Addr is the TCP address to read protocol lines from. Empty means
	// read from stdin.
	Addr string `toml:"addr"`

	// JoinTimeout bounds kill joins and child-task reaping, as a
	// time.ParseDuration string.
	JoinTimeout string `toml:"join_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ScriptPaths: []string{"scripts"},
		LogLevel:    DefaultLogLevel,
		JoinTimeout: DefaultJoinTimeout.String(),
	}
}

// Load reads the configuration file at path and applies environment
// overrides. A missing file is not an error; defaults are used.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fall through to env overrides
	case err != nil:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if _, err := cfg.JoinTimeoutDuration(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays MUDLARK_* environment variables. MUDLARK_SCRIPT_PATHS
// uses the platform path-list separator.
func (c *Config) applyEnv() {
	if v := os.Getenv("MUDLARK_SCRIPT_PATHS"); v != "" {
		c.ScriptPaths = filepath.SplitList(v)
	}
	if v := os.Getenv("MUDLARK_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("MUDLARK_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("MUDLARK_JOIN_TIMEOUT"); v != "" {
		c.JoinTimeout = v
	}
}

// JoinTimeoutDuration parses the join timeout, defaulting when unset.
func (c Config) JoinTimeoutDuration() (time.Duration, error) {
	if c.JoinTimeout == "" {
		return DefaultJoinTimeout, nil
	}
	d, err := time.ParseDuration(c.JoinTimeout)
	if err != nil {
		return 0, fmt.Errorf("config: join_timeout: %w", err)
	}
	return d, nil
}
