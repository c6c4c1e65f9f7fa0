// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/shopsight/shopsight/internal/metrics"
	"github.com/shopsight/shopsight/internal/models"
)

// InsertEvents writes a batch of events in a single transaction. Events are
// append-only; duplicates on event_id fail the row, so callers dedupe first.
func (db *DB) InsertEvents(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	start := time.Now()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (
		event_id, session_id, user_id, project_id, event_type, event_name,
		page_url, referrer, element_selector, metadata,
		device_type, browser, browser_version, os, screen_width, screen_height,
		country, region, city, timezone,
		utm_source, utm_medium, utm_campaign, timestamp, schema_version
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer closeQuietly(stmt)

	for i := range events {
		e := &events[i]

		var metadata interface{}
		if len(e.Metadata) > 0 {
			raw, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata for event %s: %w", e.EventID, err)
			}
			metadata = string(raw)
		}

		if _, err := stmt.ExecContext(ctx,
			e.EventID, e.SessionID, e.UserID, nullable(e.ProjectID),
			string(e.EventType), nullable(e.EventName),
			nullable(e.PageURL), nullable(e.Referrer), nullable(e.ElementSelector), metadata,
			nullable(e.Device.Type), nullable(e.Device.Browser), nullable(e.Device.BrowserVersion),
			nullable(e.Device.OS), e.Device.ScreenWidth, e.Device.ScreenHeight,
			nullable(e.Location.Country), nullable(e.Location.Region),
			nullable(e.Location.City), nullable(e.Location.Timezone),
			nullable(e.UTMSource), nullable(e.UTMMedium), nullable(e.UTMCampaign),
			e.Timestamp, e.SchemaVersion,
		); err != nil {
			metrics.RecordDBQuery("INSERT", "events", time.Since(start), err)
			return fmt.Errorf("insert event %s: %w", e.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordDBQuery("INSERT", "events", time.Since(start), err)
		return fmt.Errorf("commit event batch: %w", err)
	}

	metrics.RecordDBQuery("INSERT", "events", time.Since(start), nil)
	return nil
}

// InsertPerformanceSamples writes network telemetry records.
func (db *DB) InsertPerformanceSamples(ctx context.Context, samples []models.PerformanceSample) error {
	if len(samples) == 0 {
		return nil
	}

	start := time.Now()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO performance_samples (
		id, session_id, url, method, status_code, duration_ms, error, timestamp
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer closeQuietly(stmt)

	for _, s := range samples {
		ts := s.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(), s.SessionID, s.URL, s.Method,
			s.StatusCode, s.DurationMS, nullable(s.Error), ts,
		); err != nil {
			return fmt.Errorf("insert performance sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordDBQuery("INSERT", "performance_samples", time.Since(start), err)
		return fmt.Errorf("commit sample batch: %w", err)
	}

	metrics.RecordDBQuery("INSERT", "performance_samples", time.Since(start), nil)
	return nil
}

// DistinctUserCount counts distinct users matching the event filter.
func (db *DB) DistinctUserCount(ctx context.Context, filter EventFilter) (int64, error) {
	where, args, err := buildEventWhere(filter)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	var count int64
	query := "SELECT COUNT(DISTINCT user_id) FROM events WHERE " + where
	err = db.conn.QueryRowContext(ctx, query, args...).Scan(&count)
	metrics.RecordDBQuery("SELECT", "events", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("count distinct users: %w", err)
	}
	return count, nil
}

// FirstEventTimes returns, for each user matching the filter, the timestamp
// of their earliest matching event. Funnel analysis uses this both for step
// user counts and for step-to-step timing.
func (db *DB) FirstEventTimes(ctx context.Context, filter EventFilter) (map[string]time.Time, error) {
	where, args, err := buildEventWhere(filter)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := make(map[string]time.Time)
	query := "SELECT user_id, MIN(timestamp) FROM events WHERE " + where + " GROUP BY user_id"
	err = db.queryAndScan(ctx, query, args, func(rows *sql.Rows) error {
		var userID string
		var ts time.Time
		if err := rows.Scan(&userID, &ts); err != nil {
			return err
		}
		result[userID] = ts
		return nil
	})
	metrics.RecordDBQuery("SELECT", "events", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("first event times: %w", err)
	}
	return result, nil
}

// CountEvents counts events matching the filter.
func (db *DB) CountEvents(ctx context.Context, filter EventFilter) (int64, error) {
	where, args, err := buildEventWhere(filter)
	if err != nil {
		return 0, err
	}

	var count int64
	query := "SELECT COUNT(*) FROM events WHERE " + where
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// ActiveUserCount counts distinct users among userIDs with at least one
// event in [start, end]. Retention buckets are computed from this.
func (db *DB) ActiveUserCount(ctx context.Context, userIDs []string, start, end time.Time) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	return db.DistinctUserCount(ctx, EventFilter{
		UserIDs: userIDs,
		Start:   start,
		End:     end,
	})
}

// FindEvents returns events matching the filter ordered by timestamp,
// capped at limit (0 means a server-side default of 1000).
func (db *DB) FindEvents(ctx context.Context, filter EventFilter, limit int) ([]models.Event, error) {
	where, args, err := buildEventWhere(filter)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}

	query := `SELECT event_id, session_id, user_id, COALESCE(project_id, ''),
		event_type, COALESCE(event_name, ''), COALESCE(page_url, ''),
		COALESCE(referrer, ''), COALESCE(element_selector, ''), COALESCE(metadata, ''),
		COALESCE(device_type, ''), COALESCE(browser, ''), COALESCE(os, ''),
		COALESCE(country, ''), COALESCE(utm_source, ''), COALESCE(utm_medium, ''),
		COALESCE(utm_campaign, ''), timestamp, schema_version
	FROM events WHERE ` + where + " ORDER BY timestamp LIMIT ?"
	args = append(args, limit)

	events := make([]models.Event, 0, 64)
	err = db.queryAndScan(ctx, query, args, func(rows *sql.Rows) error {
		var e models.Event
		var eventType, rawMetadata string
		if err := rows.Scan(
			&e.EventID, &e.SessionID, &e.UserID, &e.ProjectID,
			&eventType, &e.EventName, &e.PageURL,
			&e.Referrer, &e.ElementSelector, &rawMetadata,
			&e.Device.Type, &e.Device.Browser, &e.Device.OS,
			&e.Location.Country, &e.UTMSource, &e.UTMMedium,
			&e.UTMCampaign, &e.Timestamp, &e.SchemaVersion,
		); err != nil {
			return err
		}
		e.EventType = models.EventType(eventType)
		if rawMetadata != "" {
			if err := json.Unmarshal([]byte(rawMetadata), &e.Metadata); err != nil {
				return fmt.Errorf("unmarshal metadata for event %s: %w", e.EventID, err)
			}
		}
		events = append(events, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	return events, nil
}

// nullable maps empty strings to SQL NULL so COALESCE defaults stay clean.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
