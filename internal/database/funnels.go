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

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/shopsight/shopsight/internal/models"
)

// ErrFunnelNotFound is returned when a funnel id does not exist.
var ErrFunnelNotFound = errors.New("funnel not found")

// CreateFunnel persists a new funnel definition and fills in id/timestamps.
func (db *DB) CreateFunnel(ctx context.Context, f *models.Funnel) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	steps, err := json.Marshal(f.Steps)
	if err != nil {
		return fmt.Errorf("marshal funnel steps: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, `INSERT INTO funnels
		(id, project_id, name, steps, time_window, stats, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?)`,
		f.ID, nullable(f.ProjectID), f.Name, string(steps), nullable(f.TimeWindow),
		f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create funnel: %w", err)
	}
	return nil
}

// GetFunnel loads one funnel definition.
func (db *DB) GetFunnel(ctx context.Context, id string) (*models.Funnel, error) {
	var f models.Funnel
	var steps string
	var stats sql.NullString
	err := db.conn.QueryRowContext(ctx, `SELECT id, COALESCE(project_id, ''), name,
		steps, COALESCE(time_window, ''), stats, created_at, updated_at
	FROM funnels WHERE id = ?`, id).Scan(
		&f.ID, &f.ProjectID, &f.Name, &steps, &f.TimeWindow, &stats,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFunnelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get funnel %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(steps), &f.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal funnel steps for %s: %w", id, err)
	}
	if stats.Valid && stats.String != "" {
		f.Stats = &models.FunnelStats{}
		if err := json.Unmarshal([]byte(stats.String), f.Stats); err != nil {
			return nil, fmt.Errorf("unmarshal funnel stats for %s: %w", id, err)
		}
	}
	return &f, nil
}

// ListFunnels returns all funnels ordered by creation time descending.
func (db *DB) ListFunnels(ctx context.Context) ([]models.Funnel, error) {
	funnels := make([]models.Funnel, 0, 16)
	err := db.queryAndScan(ctx, `SELECT id, COALESCE(project_id, ''), name,
		steps, COALESCE(time_window, ''), stats, created_at, updated_at
	FROM funnels ORDER BY created_at DESC`, nil, func(rows *sql.Rows) error {
		var f models.Funnel
		var steps string
		var stats sql.NullString
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Name, &steps, &f.TimeWindow,
			&stats, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(steps), &f.Steps); err != nil {
			return fmt.Errorf("unmarshal funnel steps for %s: %w", f.ID, err)
		}
		if stats.Valid && stats.String != "" {
			f.Stats = &models.FunnelStats{}
			if err := json.Unmarshal([]byte(stats.String), f.Stats); err != nil {
				return fmt.Errorf("unmarshal funnel stats for %s: %w", f.ID, err)
			}
		}
		funnels = append(funnels, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list funnels: %w", err)
	}
	return funnels, nil
}

// UpdateFunnel replaces a funnel's definition fields. The cached stats
// snapshot is left untouched.
func (db *DB) UpdateFunnel(ctx context.Context, f *models.Funnel) error {
	steps, err := json.Marshal(f.Steps)
	if err != nil {
		return fmt.Errorf("marshal funnel steps: %w", err)
	}
	f.UpdatedAt = time.Now().UTC()

	res, err := db.conn.ExecContext(ctx, `UPDATE funnels SET
		name = ?, steps = ?, time_window = ?, updated_at = ? WHERE id = ?`,
		f.Name, string(steps), nullable(f.TimeWindow), f.UpdatedAt, f.ID,
	)
	if err != nil {
		return fmt.Errorf("update funnel %s: %w", f.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrFunnelNotFound
	}
	return nil
}

// DeleteFunnel removes a funnel definition. Historical events are untouched.
func (db *DB) DeleteFunnel(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM funnels WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete funnel %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrFunnelNotFound
	}
	return nil
}

// SaveFunnelStats overwrites the cached stats snapshot, last-writer-wins.
func (db *DB) SaveFunnelStats(ctx context.Context, id string, stats *models.FunnelStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal funnel stats: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx,
		"UPDATE funnels SET stats = ? WHERE id = ?", string(raw), id,
	); err != nil {
		return fmt.Errorf("save funnel stats for %s: %w", id, err)
	}
	return nil
}
