// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shopsight/shopsight/internal/metrics"
	"github.com/shopsight/shopsight/internal/models"
)

// ErrRecordingNotFound is returned when no recording exists for a session.
var ErrRecordingNotFound = errors.New("recording not found")

// AppendFrames appends a flushed frame batch to a session's recording,
// creating the recording document lazily on the first batch. Appends for
// the same session are serialized; the recording row carries the running
// frame count and stat counters.
func (db *DB) AppendFrames(ctx context.Context, sessionID, projectID string, frames []models.Frame, stats models.RecordingStats) error {
	if len(frames) == 0 {
		return nil
	}

	mu := db.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Lazy create; frame_count/stat updates below also cover the insert case.
	firstTS := frames[0].Timestamp
	if firstTS.IsZero() {
		firstTS = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO recordings (session_id, project_id, start_time)
		VALUES (?, ?, ?)
		ON CONFLICT (session_id) DO NOTHING`,
		sessionID, nullable(projectID), firstTS,
	); err != nil {
		return fmt.Errorf("create recording %s: %w", sessionID, err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		"SELECT frame_count FROM recordings WHERE session_id = ?", sessionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("read frame count for %s: %w", sessionID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO recording_frames (id, session_id, seq, timestamp, data)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare frame insert: %w", err)
	}
	defer closeQuietly(stmt)

	for _, f := range frames {
		ts := f.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, uuid.New().String(), sessionID, seq, ts, string(f.Data)); err != nil {
			return fmt.Errorf("insert frame for %s: %w", sessionID, err)
		}
		seq++
	}

	if _, err := tx.ExecContext(ctx, `UPDATE recordings SET
		frame_count = ?,
		stat_events = stat_events + ?,
		stat_clicks = stat_clicks + ?,
		stat_scrolls = stat_scrolls + ?,
		stat_moves = stat_moves + ?
	WHERE session_id = ?`,
		seq, stats.Events, stats.Clicks, stats.Scrolls, stats.Moves, sessionID,
	); err != nil {
		return fmt.Errorf("update recording stats for %s: %w", sessionID, err)
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordDBQuery("INSERT", "recording_frames", time.Since(start), err)
		return fmt.Errorf("commit frame batch: %w", err)
	}

	metrics.RecordDBQuery("INSERT", "recording_frames", time.Since(start), nil)
	metrics.RecordingFlushDuration.Observe(time.Since(start).Seconds())
	return nil
}

// CloseRecording finalizes a recording by setting its end time. Closing an
// already-closed or unknown recording is a no-op, stop signals may arrive
// more than once (explicit stop plus page exit).
func (db *DB) CloseRecording(ctx context.Context, sessionID string, endTime time.Time) error {
	mu := db.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	if endTime.IsZero() {
		endTime = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx,
		"UPDATE recordings SET end_time = ? WHERE session_id = ? AND end_time IS NULL",
		endTime, sessionID,
	)
	if err != nil {
		return fmt.Errorf("close recording %s: %w", sessionID, err)
	}
	return nil
}

// GetRecording loads one recording document.
func (db *DB) GetRecording(ctx context.Context, sessionID string) (*models.Recording, error) {
	var r models.Recording
	var endTime sql.NullTime
	err := db.conn.QueryRowContext(ctx, `SELECT session_id, COALESCE(project_id, ''),
		start_time, end_time, frame_count,
		stat_events, stat_clicks, stat_scrolls, stat_moves
	FROM recordings WHERE session_id = ?`, sessionID).Scan(
		&r.SessionID, &r.ProjectID, &r.StartTime, &endTime, &r.FrameCount,
		&r.Stats.Events, &r.Stats.Clicks, &r.Stats.Scrolls, &r.Stats.Moves,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recording %s: %w", sessionID, err)
	}
	if endTime.Valid {
		r.EndTime = &endTime.Time
	}
	return &r, nil
}

// ListRecordings returns recordings ordered by start time descending.
func (db *DB) ListRecordings(ctx context.Context, limit int) ([]models.Recording, error) {
	if limit <= 0 {
		limit = 100
	}

	recordings := make([]models.Recording, 0, 16)
	err := db.queryAndScan(ctx, `SELECT session_id, COALESCE(project_id, ''),
		start_time, end_time, frame_count,
		stat_events, stat_clicks, stat_scrolls, stat_moves
	FROM recordings ORDER BY start_time DESC LIMIT ?`, []interface{}{limit}, func(rows *sql.Rows) error {
		var r models.Recording
		var endTime sql.NullTime
		if err := rows.Scan(
			&r.SessionID, &r.ProjectID, &r.StartTime, &endTime, &r.FrameCount,
			&r.Stats.Events, &r.Stats.Clicks, &r.Stats.Scrolls, &r.Stats.Moves,
		); err != nil {
			return err
		}
		if endTime.Valid {
			r.EndTime = &endTime.Time
		}
		recordings = append(recordings, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	return recordings, nil
}

// GetFrames returns a recording's frames in append order for playback.
func (db *DB) GetFrames(ctx context.Context, sessionID string, offset, limit int) ([]models.Frame, error) {
	if limit <= 0 {
		limit = 1000
	}

	frames := make([]models.Frame, 0, 64)
	err := db.queryAndScan(ctx,
		"SELECT timestamp, data FROM recording_frames WHERE session_id = ? ORDER BY seq LIMIT ? OFFSET ?",
		[]interface{}{sessionID, limit, offset}, func(rows *sql.Rows) error {
			var f models.Frame
			var data string
			if err := rows.Scan(&f.Timestamp, &data); err != nil {
				return err
			}
			f.Data = []byte(data)
			frames = append(frames, f)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("get frames for %s: %w", sessionID, err)
	}
	return frames, nil
}
