// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

/*
schema.go - Database Schema Management

Tables:
  - events: immutable captured interactions (append-only, never mutated)
  - sessions: per-visit documents maintained by the ingest consumer
  - performance_samples: network telemetry from the instrumented HTTP client
  - recordings: session-replay documents, one per recorded session
  - recording_frames: opaque replay frames, append-only per recording
  - funnels: conversion funnel definitions with cached stats snapshot
  - cohorts: cohort definitions with cached user count

Schema Strategy:
All columns are defined in the initial CREATE TABLE statements. Funnel steps
and cohort conditions are stored as JSON text; DuckDB never inspects them,
the application (de)serializes with goccy/go-json.
*/
package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// tableCreationQueries returns the table creation SQL statements.
func tableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS events (
			event_id UUID PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			project_id TEXT,
			event_type TEXT NOT NULL,
			event_name TEXT,
			page_url TEXT,
			referrer TEXT,
			element_selector TEXT,
			metadata TEXT,
			device_type TEXT,
			browser TEXT,
			browser_version TEXT,
			os TEXT,
			screen_width INTEGER,
			screen_height INTEGER,
			country TEXT,
			region TEXT,
			city TEXT,
			timezone TEXT,
			utm_source TEXT,
			utm_medium TEXT,
			utm_campaign TEXT,
			timestamp TIMESTAMP NOT NULL,
			schema_version INTEGER NOT NULL DEFAULT 1
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			project_id TEXT,
			device TEXT,
			browser TEXT,
			os TEXT,
			country TEXT,
			referrer TEXT,
			utm_source TEXT,
			entry_path TEXT,
			start_time TIMESTAMP NOT NULL,
			end_time TIMESTAMP,
			duration DOUBLE NOT NULL DEFAULT 0,
			events_count BIGINT NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS performance_samples (
			id UUID PRIMARY KEY,
			session_id TEXT NOT NULL,
			url TEXT NOT NULL,
			method TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			duration_ms BIGINT NOT NULL,
			error TEXT,
			timestamp TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS recordings (
			session_id TEXT PRIMARY KEY,
			project_id TEXT,
			start_time TIMESTAMP NOT NULL,
			end_time TIMESTAMP,
			frame_count BIGINT NOT NULL DEFAULT 0,
			stat_events BIGINT NOT NULL DEFAULT 0,
			stat_clicks BIGINT NOT NULL DEFAULT 0,
			stat_scrolls BIGINT NOT NULL DEFAULT 0,
			stat_moves BIGINT NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS recording_frames (
			id UUID PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			data TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS funnels (
			id UUID PRIMARY KEY,
			project_id TEXT,
			name TEXT NOT NULL,
			steps TEXT NOT NULL,
			time_window TEXT,
			stats TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS cohorts (
			id UUID PRIMARY KEY,
			project_id TEXT,
			name TEXT NOT NULL,
			conditions TEXT NOT NULL,
			user_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
}

// createIndexes creates indexes for the common query patterns: funnel step
// scans (type + matcher + time), cohort session filters, and per-session
// frame reads.
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_events_type_time ON events (event_type, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events (session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_time ON events (user_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions (start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_perf_session ON performance_samples (session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_frames_session_seq ON recording_frames (session_id, seq)`,
	}

	for _, idx := range indexes {
		if _, err := db.conn.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", idx, err)
		}
	}

	return nil
}
