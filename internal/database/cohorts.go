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

// ErrCohortNotFound is returned when a cohort id does not exist.
var ErrCohortNotFound = errors.New("cohort not found")

// CreateCohort persists a new cohort definition and fills in id/timestamps.
// Conditions are stored in their wire shape (array or object) so the
// historical polymorphism round-trips.
func (db *DB) CreateCohort(ctx context.Context, c *models.Cohort) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	conditions, err := json.Marshal(c.Conditions)
	if err != nil {
		return fmt.Errorf("marshal cohort conditions: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, `INSERT INTO cohorts
		(id, project_id, name, conditions, user_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, nullable(c.ProjectID), c.Name, string(conditions), c.UserCount,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create cohort: %w", err)
	}
	return nil
}

// GetCohort loads one cohort definition.
func (db *DB) GetCohort(ctx context.Context, id string) (*models.Cohort, error) {
	var c models.Cohort
	var conditions string
	err := db.conn.QueryRowContext(ctx, `SELECT id, COALESCE(project_id, ''), name,
		conditions, user_count, created_at, updated_at
	FROM cohorts WHERE id = ?`, id).Scan(
		&c.ID, &c.ProjectID, &c.Name, &conditions, &c.UserCount,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCohortNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cohort %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(conditions), &c.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshal cohort conditions for %s: %w", id, err)
	}
	return &c, nil
}

// ListCohorts returns all cohorts ordered by creation time descending.
func (db *DB) ListCohorts(ctx context.Context) ([]models.Cohort, error) {
	cohorts := make([]models.Cohort, 0, 16)
	err := db.queryAndScan(ctx, `SELECT id, COALESCE(project_id, ''), name,
		conditions, user_count, created_at, updated_at
	FROM cohorts ORDER BY created_at DESC`, nil, func(rows *sql.Rows) error {
		var c models.Cohort
		var conditions string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Name, &conditions,
			&c.UserCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(conditions), &c.Conditions); err != nil {
			return fmt.Errorf("unmarshal cohort conditions for %s: %w", c.ID, err)
		}
		cohorts = append(cohorts, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list cohorts: %w", err)
	}
	return cohorts, nil
}

// UpdateCohort replaces a cohort's definition fields.
func (db *DB) UpdateCohort(ctx context.Context, c *models.Cohort) error {
	conditions, err := json.Marshal(c.Conditions)
	if err != nil {
		return fmt.Errorf("marshal cohort conditions: %w", err)
	}
	c.UpdatedAt = time.Now().UTC()

	res, err := db.conn.ExecContext(ctx, `UPDATE cohorts SET
		name = ?, conditions = ?, updated_at = ? WHERE id = ?`,
		c.Name, string(conditions), c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update cohort %s: %w", c.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrCohortNotFound
	}
	return nil
}

// DeleteCohort removes a cohort definition.
func (db *DB) DeleteCohort(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM cohorts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete cohort %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrCohortNotFound
	}
	return nil
}

// SaveCohortUserCount overwrites the cached user count. Callers only write
// when the recomputed count differs from the stored one.
func (db *DB) SaveCohortUserCount(ctx context.Context, id string, count int64) error {
	if _, err := db.conn.ExecContext(ctx,
		"UPDATE cohorts SET user_count = ? WHERE id = ?", count, id,
	); err != nil {
		return fmt.Errorf("save cohort user count for %s: %w", id, err)
	}
	return nil
}
