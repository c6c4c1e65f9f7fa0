// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

// Package cohort evaluates stored cohort definitions into user sets and
// computes weekly retention and behavior aggregates over them.
//
// Membership is evaluated against session documents, not raw events: a user
// belongs to a cohort when any of their sessions matches every property
// condition. Event-based conditions are accepted for storage but not
// evaluated; they are logged and skipped at query-build time.
package cohort

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopsight/shopsight/internal/database"
	"github.com/shopsight/shopsight/internal/funnel"
	"github.com/shopsight/shopsight/internal/logging"
	"github.com/shopsight/shopsight/internal/metrics"
	"github.com/shopsight/shopsight/internal/models"
)

// Store is the persistence surface the engine needs. *database.DB satisfies
// it; tests use a fake.
type Store interface {
	GetCohort(ctx context.Context, id string) (*models.Cohort, error)
	SaveCohortUserCount(ctx context.Context, id string, count int64) error
	DistinctSessionUsers(ctx context.Context, filter database.SessionFilter) ([]string, error)
	ActiveUserCount(ctx context.Context, userIDs []string, start, end time.Time) (int64, error)
	AggregateSessions(ctx context.Context, userIDs []string, start, end time.Time) (database.SessionAggregates, error)
}

// ErrNoConditions is returned when a cohort carries no evaluable clause.
var ErrNoConditions = errors.New("cohort has no evaluable conditions")

// DefaultWindow is the analysis range applied when the request carries none.
const DefaultWindow = "30d"

const week = 7 * 24 * time.Hour

// Engine runs cohort evaluations. Stateless; safe for concurrent use.
type Engine struct {
	store Store
}

// NewEngine creates a cohort engine backed by the given store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// buildFilter compiles the stored conditions into a session filter. Event
// conditions have no session-level equivalent and are skipped with a log
// line so their presence stays visible in operation.
func buildFilter(c *models.Cohort) (database.SessionFilter, error) {
	filter := database.SessionFilter{ProjectID: c.ProjectID}

	if c.Conditions.Structured != nil {
		s := c.Conditions.Structured
		if len(s.Events) > 0 {
			logging.Warn().
				Str("cohort_id", c.ID).
				Int("event_conditions", len(s.Events)).
				Msg("Cohort carries event conditions; they are stored but not evaluated")
		}
		for _, p := range s.Properties {
			filter.Properties = append(filter.Properties, database.PropertyClause{
				Field:    p.Key,
				Operator: p.Operator,
				Value:    p.Value,
			})
		}
	} else {
		for _, cond := range c.Conditions.Simple {
			filter.Properties = append(filter.Properties, database.PropertyClause{
				Field:    cond.Field,
				Operator: cond.Operator,
				Value:    cond.Value,
			})
		}
	}

	if len(filter.Properties) == 0 {
		return filter, ErrNoConditions
	}
	return filter, nil
}

// members evaluates the cohort's user set. Zero start/end bounds evaluate
// membership over all time; an analysis passes its window so the base set
// only counts users with a matching session inside it.
func (e *Engine) members(ctx context.Context, c *models.Cohort, start, end time.Time) ([]string, error) {
	filter, err := buildFilter(c)
	if err != nil {
		return nil, err
	}
	filter.Start = start
	filter.End = end
	users, err := e.store.DistinctSessionUsers(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("evaluate cohort %s: %w", c.ID, err)
	}
	return users, nil
}

// RefreshUserCount re-evaluates all-time membership and updates the cached
// count when it changed. Reads recompute; the stored value is only a summary.
func (e *Engine) RefreshUserCount(ctx context.Context, c *models.Cohort) (int64, error) {
	users, err := e.members(ctx, c, time.Time{}, time.Time{})
	if err != nil {
		return 0, err
	}
	count := int64(len(users))
	if count != c.UserCount {
		if err := e.store.SaveCohortUserCount(ctx, c.ID, count); err != nil {
			logging.Warn().Err(err).Str("cohort_id", c.ID).Msg("Failed to update cached cohort user count")
		}
		c.UserCount = count
	}
	return count, nil
}

// Options narrow an analysis run.
type Options struct {
	// Window is a relative range like "30d" or "12w"; DefaultWindow applies
	// when empty. Retention is bucketed into weeks of this window.
	Window string
}

// Analyze evaluates the cohort and computes weekly retention plus behavior
// aggregates over the window ending now. The base set counts only users
// with a matching session inside the window.
//
// Week 0 is the cohort base itself and reports 100% by construction; later
// buckets report the share of members with at least one event in that week.
func (e *Engine) Analyze(ctx context.Context, cohortID string, opts Options) (*models.CohortAnalysis, error) {
	started := time.Now()

	c, err := e.store.GetCohort(ctx, cohortID)
	if err != nil {
		return nil, err
	}

	window := opts.Window
	if window == "" {
		window = DefaultWindow
	}
	span, err := funnel.ParseWindow(window)
	if err != nil {
		return nil, err
	}
	end := time.Now().UTC()
	start := end.Add(-span)

	// Windowed membership: the cached all-time summary stays untouched,
	// it belongs to RefreshUserCount.
	users, err := e.members(ctx, c, start, end)
	if err != nil {
		return nil, err
	}
	count := int64(len(users))

	analysis := &models.CohortAnalysis{
		CohortID:  c.ID,
		DateRange: window,
		UserCount: count,
	}

	weeks := int(math.Ceil(float64(span) / float64(week)))
	analysis.Retention = make([]models.RetentionBucket, 0, weeks)
	analysis.Retention = append(analysis.Retention, models.RetentionBucket{
		Week:          0,
		ActiveUsers:   count,
		RetentionRate: 100.0,
	})
	for i := 1; i < weeks; i++ {
		bucketStart := start.Add(time.Duration(i) * week)
		bucketEnd := bucketStart.Add(week)
		if bucketEnd.After(end) {
			bucketEnd = end
		}

		var active int64
		if count > 0 {
			active, err = e.store.ActiveUserCount(ctx, users, bucketStart, bucketEnd)
			if err != nil {
				return nil, fmt.Errorf("retention week %d: %w", i, err)
			}
		}

		rate := 0.0
		if count > 0 {
			rate = round1(float64(active) / float64(count) * 100)
		}
		analysis.Retention = append(analysis.Retention, models.RetentionBucket{
			Week:          i,
			ActiveUsers:   active,
			RetentionRate: rate,
		})
	}

	behavior, err := e.behavior(ctx, users, start, end)
	if err != nil {
		return nil, err
	}
	analysis.Behavior = behavior

	analysis.GeneratedAt = time.Now().UTC()
	analysis.QueryTimeMS = time.Since(started).Milliseconds()
	metrics.CohortAnalysisDuration.Observe(time.Since(started).Seconds())
	return analysis, nil
}

// behavior computes the activity aggregates for the user set within the
// window. Zero-duration sessions are excluded from the duration mean only.
func (e *Engine) behavior(ctx context.Context, users []string, start, end time.Time) (models.CohortBehavior, error) {
	var b models.CohortBehavior
	if len(users) == 0 {
		return b, nil
	}

	agg, err := e.store.AggregateSessions(ctx, users, start, end)
	if err != nil {
		return b, fmt.Errorf("behavior aggregates: %w", err)
	}

	n := float64(len(users))
	b.AvgSessionsPerUser = round1(float64(agg.SessionCount) / n)
	b.AvgEventsPerUser = round1(float64(agg.TotalEvents) / n)
	if agg.DurationSamples > 0 {
		b.AvgSessionDuration = round1(agg.DurationSum / float64(agg.DurationSamples))
	}

	active, err := e.store.ActiveUserCount(ctx, users, end.Add(-week), end)
	if err != nil {
		return b, fmt.Errorf("trailing active users: %w", err)
	}
	b.ActiveLast7Days = active
	return b, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
