// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package config

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestDefaultCaptureSettings(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Capture.BatchSize != 20 {
		t.Errorf("expected capture batch size 20, got %d", cfg.Capture.BatchSize)
	}
	if cfg.Capture.FlushInterval != 5*time.Second {
		t.Errorf("expected 5s flush interval, got %s", cfg.Capture.FlushInterval)
	}
	if cfg.Capture.DwellThreshold != time.Second {
		t.Errorf("expected 1s dwell threshold, got %s", cfg.Capture.DwellThreshold)
	}
	if cfg.Capture.ScrollThrottle != 500*time.Millisecond {
		t.Errorf("expected 500ms scroll throttle, got %s", cfg.Capture.ScrollThrottle)
	}
	if cfg.Recording.MaxBuffered != 50 {
		t.Errorf("expected 50 max buffered frames, got %d", cfg.Recording.MaxBuffered)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"zero ingest batch", func(c *Config) { c.Ingest.BatchSize = 0 }},
		{"zero capture batch", func(c *Config) { c.Capture.BatchSize = 0 }},
		{"zero dwell threshold", func(c *Config) { c.Capture.DwellThreshold = 0 }},
		{"zero recording buffer", func(c *Config) { c.Recording.MaxBuffered = 0 }},
		{"rate limit zero while enabled", func(c *Config) { c.Security.RateLimitReqs = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env      string
		expected string
	}{
		{"SHOPSIGHT_SERVER_PORT", "server.port"},
		{"SHOPSIGHT_DATABASE_MAX_MEMORY", "database.max_memory"},
		{"SHOPSIGHT_CAPTURE_DWELL_THRESHOLD", "capture.dwell_threshold"},
		{"SHOPSIGHT_INGEST_BATCH_SIZE", "ingest.batch_size"},
		{"SHOPSIGHT_SECURITY_CORS_ORIGINS", "security.cors_origins"},
		{"SHOPSIGHT_LOGGING_LEVEL", "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			if got := envTransformFunc(tt.env); got != tt.expected {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.expected)
			}
		})
	}
}

func TestLoadWithKoanfUsesEnv(t *testing.T) {
	t.Setenv("SHOPSIGHT_SERVER_PORT", "9190")
	t.Setenv("SHOPSIGHT_DATABASE_PATH", ":memory:")
	t.Setenv("SHOPSIGHT_SECURITY_CORS_ORIGINS", "https://shop.example.com, https://admin.example.com")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf: %v", err)
	}

	if cfg.Server.Port != 9190 {
		t.Errorf("expected port 9190 from env, got %d", cfg.Server.Port)
	}
	if cfg.Database.Path != ":memory:" {
		t.Errorf("expected :memory: path from env, got %q", cfg.Database.Path)
	}
	if len(cfg.Security.CORSOrigins) != 2 {
		t.Errorf("expected 2 CORS origins from comma list, got %v", cfg.Security.CORSOrigins)
	}
}
