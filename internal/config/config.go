// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads daemon configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/tombee/duraflow/pkg/errors"
)

// Config is the daemon configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
	Log      LogConfig      `yaml:"log"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ListenConfig configures the HTTP listener.
type ListenConfig struct {
	// Addr is the host:port the API binds to.
	Addr string `yaml:"addr"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" is accepted for tests.
	Path string `yaml:"path"`

	// WAL enables write-ahead logging.
	WAL bool `yaml:"wal"`
}

// EngineConfig configures the execution engine.
type EngineConfig struct {
	// MaxConcurrentRuns bounds simultaneous run workers.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	// RetryActionFailures counts action handler errors as retryable.
	RetryActionFailures bool `yaml:"retry_action_failures"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	// Enabled turns span export on.
	Enabled bool `yaml:"enabled"`

	// Pretty emits multi-line JSON spans.
	Pretty bool `yaml:"pretty"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Addr: "127.0.0.1:8080",
		},
		Database: DatabaseConfig{
			Path: "duraflow.db",
			WAL:  true,
		},
		Engine: EngineConfig{
			MaxConcurrentRuns:   8,
			RetryActionFailures: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Pretty:  false,
		},
	}
}

// Load reads configuration from an optional YAML file, applies
// environment overrides, and validates the result. An empty path loads
// defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &errors.ConfigError{Key: "file", Reason: "cannot read config file", Cause: err}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &errors.ConfigError{Key: "file", Reason: "cannot parse config file", Cause: err}
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from DURAFLOW_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DURAFLOW_LISTEN_ADDR"); v != "" {
		cfg.Listen.Addr = v
	}
	if v := os.Getenv("DURAFLOW_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DURAFLOW_MAX_CONCURRENT_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxConcurrentRuns = n
		}
	}
	if v := os.Getenv("DURAFLOW_RETRY_ACTION_FAILURES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Engine.RetryActionFailures = b
		}
	}
	if v := os.Getenv("DURAFLOW_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DURAFLOW_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("DURAFLOW_TRACING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tracing.Enabled = b
		}
	}
}

func (c *Config) validate() error {
	if c.Listen.Addr == "" {
		return &errors.ConfigError{Key: "listen.addr", Reason: "listen address is required"}
	}
	if c.Database.Path == "" {
		return &errors.ConfigError{Key: "database.path", Reason: "database path is required"}
	}
	if c.Engine.MaxConcurrentRuns <= 0 {
		return &errors.ConfigError{
			Key:    "engine.max_concurrent_runs",
			Reason: fmt.Sprintf("must be > 0, got %d", c.Engine.MaxConcurrentRuns),
		}
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return &errors.ConfigError{Key: "log.format", Reason: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	return nil
}
