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

	"github.com/shopsight/shopsight/internal/metrics"
	"github.com/shopsight/shopsight/internal/models"
)

// UpsertSessions merges per-batch session deltas into the sessions table.
// The ingest consumer produces one delta per session seen in a batch:
// events_count accumulates, end_time extends forward, and an identified
// user id wins over the anonymous marker.
func (db *DB) UpsertSessions(ctx context.Context, sessions []models.Session) error {
	if len(sessions) == 0 {
		return nil
	}

	start := time.Now()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO sessions (
		session_id, user_id, project_id, device, browser, os, country,
		referrer, utm_source, entry_path, start_time, end_time, duration, events_count
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (session_id) DO UPDATE SET
		user_id = CASE WHEN excluded.user_id != '`+models.AnonymousUserID+`'
			THEN excluded.user_id ELSE sessions.user_id END,
		end_time = greatest(sessions.end_time, excluded.end_time),
		duration = epoch(greatest(sessions.end_time, excluded.end_time) - sessions.start_time),
		events_count = sessions.events_count + excluded.events_count`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer closeQuietly(stmt)

	for _, s := range sessions {
		end := s.EndTime
		if end.IsZero() {
			end = s.StartTime
		}
		duration := end.Sub(s.StartTime).Seconds()
		if _, err := stmt.ExecContext(ctx,
			s.SessionID, s.UserID, nullable(s.ProjectID),
			nullable(s.Device), nullable(s.Browser), nullable(s.OS), nullable(s.Country),
			nullable(s.Referrer), nullable(s.UTMSource), nullable(s.EntryPath),
			s.StartTime, end, duration, s.EventsCount,
		); err != nil {
			return fmt.Errorf("upsert session %s: %w", s.SessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordDBQuery("UPSERT", "sessions", time.Since(start), err)
		return fmt.Errorf("commit session batch: %w", err)
	}

	metrics.RecordDBQuery("UPSERT", "sessions", time.Since(start), nil)
	return nil
}

// DistinctSessionUsers returns the distinct user ids of sessions matching
// the filter. This is the cohort membership query.
func (db *DB) DistinctSessionUsers(ctx context.Context, filter SessionFilter) ([]string, error) {
	where, args, err := buildSessionWhere(filter)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	users := make([]string, 0, 64)
	query := "SELECT DISTINCT user_id FROM sessions WHERE " + where + " ORDER BY user_id"
	err = db.queryAndScan(ctx, query, args, func(rows *sql.Rows) error {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		users = append(users, id)
		return nil
	})
	metrics.RecordDBQuery("SELECT", "sessions", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("distinct session users: %w", err)
	}
	return users, nil
}

// FindSessions returns sessions matching the filter ordered by start time,
// capped at limit (0 means a server-side default of 1000).
func (db *DB) FindSessions(ctx context.Context, filter SessionFilter, limit int) ([]models.Session, error) {
	where, args, err := buildSessionWhere(filter)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}

	query := `SELECT session_id, user_id, COALESCE(project_id, ''),
		COALESCE(device, ''), COALESCE(browser, ''), COALESCE(os, ''),
		COALESCE(country, ''), COALESCE(referrer, ''), COALESCE(utm_source, ''),
		COALESCE(entry_path, ''), start_time, COALESCE(end_time, start_time),
		duration, events_count
	FROM sessions WHERE ` + where + " ORDER BY start_time LIMIT ?"
	args = append(args, limit)

	sessions := make([]models.Session, 0, 64)
	err = db.queryAndScan(ctx, query, args, func(rows *sql.Rows) error {
		var s models.Session
		if err := rows.Scan(
			&s.SessionID, &s.UserID, &s.ProjectID,
			&s.Device, &s.Browser, &s.OS,
			&s.Country, &s.Referrer, &s.UTMSource,
			&s.EntryPath, &s.StartTime, &s.EndTime,
			&s.Duration, &s.EventsCount,
		); err != nil {
			return err
		}
		sessions = append(sessions, s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find sessions: %w", err)
	}
	return sessions, nil
}

// SessionAggregates is the one-pass behavior summary over a user set.
type SessionAggregates struct {
	SessionCount    int64
	TotalEvents     int64
	DurationSum     float64 // seconds, positive durations only
	DurationSamples int64
}

// AggregateSessions computes behavior aggregates for the given users within
// [start, end]. Zero-duration sessions (single-event visits) are excluded
// from the duration average but counted everywhere else.
func (db *DB) AggregateSessions(ctx context.Context, userIDs []string, start, end time.Time) (SessionAggregates, error) {
	var agg SessionAggregates
	if len(userIDs) == 0 {
		return agg, nil
	}

	where, args, err := buildSessionWhere(SessionFilter{UserIDs: userIDs, Start: start, End: end})
	if err != nil {
		return agg, err
	}

	queryStart := time.Now()
	query := `SELECT COUNT(*), COALESCE(SUM(events_count), 0),
		COALESCE(SUM(duration) FILTER (WHERE duration > 0), 0),
		COUNT(*) FILTER (WHERE duration > 0)
	FROM sessions WHERE ` + where
	err = db.conn.QueryRowContext(ctx, query, args...).Scan(
		&agg.SessionCount, &agg.TotalEvents, &agg.DurationSum, &agg.DurationSamples,
	)
	metrics.RecordDBQuery("SELECT", "sessions", time.Since(queryStart), err)
	if err != nil {
		return agg, fmt.Errorf("aggregate sessions: %w", err)
	}
	return agg, nil
}
