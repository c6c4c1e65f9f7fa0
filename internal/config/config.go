// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

// Package config provides layered application configuration via Koanf v2.
// Precedence: environment variables > YAML config file > built-in defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Dedupe    DedupeConfig    `koanf:"dedupe"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Capture   CaptureConfig   `koanf:"capture"`
	Recording RecordingConfig `koanf:"recording"`
	Security  SecurityConfig  `koanf:"security"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// DedupeConfig holds the BadgerDB idempotency store settings.
type DedupeConfig struct {
	Enabled bool          `koanf:"enabled"`
	Path    string        `koanf:"path"` // empty = in-memory
	TTL     time.Duration `koanf:"ttl"`
}

// IngestConfig holds the in-process pipeline settings.
type IngestConfig struct {
	// BatchSize is how many events the consumer accumulates before a
	// store write. FlushInterval bounds latency for slow trickles.
	BatchSize     int           `koanf:"batch_size"`
	FlushInterval time.Duration `koanf:"flush_interval"`
	BufferSize    int           `koanf:"buffer_size"` // gochannel buffer
}

// CaptureConfig carries the defaults handed to SDK capture contexts via the
// remote-config endpoint.
type CaptureConfig struct {
	BatchSize        int           `koanf:"batch_size"`
	FlushInterval    time.Duration `koanf:"flush_interval"`
	ScrollThrottle   time.Duration `koanf:"scroll_throttle"`
	MoveThrottle     time.Duration `koanf:"move_throttle"`
	DwellThreshold   time.Duration `koanf:"dwell_threshold"`
	HeatmapEnabled   bool          `koanf:"heatmap_enabled"`
	AdminPathPrefix  string        `koanf:"admin_path_prefix"`
	MaxRetryAttempts int           `koanf:"max_retry_attempts"`
}

// RecordingConfig holds session-replay relay settings.
type RecordingConfig struct {
	FlushInterval time.Duration `koanf:"flush_interval"`
	MaxBuffered   int           `koanf:"max_buffered"`
}

// SecurityConfig holds the admin bearer check and rate limit settings.
// The full authentication subsystem lives outside the analytics core; only
// the admin signal that drives capture suppression and control routes is
// configured here.
type SecurityConfig struct {
	JWTSecret         string        `koanf:"jwt_secret"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values that would break startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest.batch_size must be positive, got %d", c.Ingest.BatchSize)
	}
	if c.Capture.BatchSize <= 0 {
		return fmt.Errorf("capture.batch_size must be positive, got %d", c.Capture.BatchSize)
	}
	if c.Capture.DwellThreshold <= 0 {
		return fmt.Errorf("capture.dwell_threshold must be positive, got %s", c.Capture.DwellThreshold)
	}
	if c.Recording.MaxBuffered <= 0 {
		return fmt.Errorf("recording.max_buffered must be positive, got %d", c.Recording.MaxBuffered)
	}
	if !c.Security.RateLimitDisabled && c.Security.RateLimitReqs <= 0 {
		return fmt.Errorf("security.rate_limit_reqs must be positive when rate limiting is enabled")
	}
	return nil
}
