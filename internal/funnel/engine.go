// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

// Package funnel computes conversion funnel analyses over stored events.
//
// Steps are evaluated as independent cross-sections of the analysis window:
// a user counts toward a step if they performed a matching event in the
// window, whether or not they entered via earlier steps. Step-over-step
// conversion divides each step's user count by the previous step's.
package funnel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopsight/shopsight/internal/database"
	"github.com/shopsight/shopsight/internal/logging"
	"github.com/shopsight/shopsight/internal/metrics"
	"github.com/shopsight/shopsight/internal/models"
)

// Store is the persistence surface the engine needs. *database.DB satisfies
// it; tests use a fake.
type Store interface {
	GetFunnel(ctx context.Context, id string) (*models.Funnel, error)
	SaveFunnelStats(ctx context.Context, id string, stats *models.FunnelStats) error
	DistinctUserCount(ctx context.Context, filter database.EventFilter) (int64, error)
	FirstEventTimes(ctx context.Context, filter database.EventFilter) (map[string]time.Time, error)
}

// Engine analysis errors.
var (
	ErrTooFewSteps   = errors.New("funnel needs at least two steps")
	ErrInvalidWindow = errors.New("invalid analysis window")
)

// DefaultWindow is applied when neither the request nor the funnel
// definition carries a window.
const DefaultWindow = "30d"

// Engine runs funnel analyses. Stateless; safe for concurrent use.
type Engine struct {
	store Store
}

// NewEngine creates a funnel engine backed by the given store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Options narrow an analysis run.
type Options struct {
	// Window is a relative range like "24h", "7d" or "30d". When empty the
	// funnel's own time_window applies, then DefaultWindow.
	Window  string
	Segment models.SegmentFilter
}

// ParseWindow turns a relative window string into a duration.
// Supported suffixes: h (hours), d (days), w (weeks).
func ParseWindow(window string) (time.Duration, error) {
	if len(window) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, window)
	}
	n, err := strconv.Atoi(window[:len(window)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, window)
	}
	switch strings.ToLower(window[len(window)-1:]) {
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "w":
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, window)
	}
}

// Analyze loads the funnel, walks its steps over the window and produces
// per-step counts, step-over-step conversion, timing, and (when a segment
// filter is set) a baseline comparison. The funnel's cached stats snapshot
// is refreshed best-effort; a stats write failure never fails the analysis.
func (e *Engine) Analyze(ctx context.Context, funnelID string, opts Options) (*models.FunnelAnalysis, error) {
	started := time.Now()

	f, err := e.store.GetFunnel(ctx, funnelID)
	if err != nil {
		return nil, err
	}
	if len(f.Steps) < 2 {
		return nil, ErrTooFewSteps
	}

	window := opts.Window
	if window == "" {
		window = f.TimeWindow
	}
	if window == "" {
		window = DefaultWindow
	}
	span, err := ParseWindow(window)
	if err != nil {
		return nil, err
	}
	end := time.Now().UTC()
	start := end.Add(-span)

	steps := make([]models.FunnelStep, len(f.Steps))
	copy(steps, f.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	// One earliest-event-per-user map per step; counts and timing both
	// come out of it.
	stepTimes := make([]map[string]time.Time, len(steps))
	for i, step := range steps {
		times, err := e.store.FirstEventTimes(ctx, e.stepFilter(f, step, start, end, opts.Segment))
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", step.Order, step.Name, err)
		}
		stepTimes[i] = times
	}

	results := make([]models.FunnelStepResult, len(steps))
	for i, step := range steps {
		users := int64(len(stepTimes[i]))
		r := models.FunnelStepResult{
			Order: step.Order,
			Name:  step.Name,
			Users: users,
		}

		if i == 0 {
			r.ConversionRate = 100.0
		} else if prev := int64(len(stepTimes[i-1])); prev > 0 {
			r.ConversionRate = round1(float64(users) / float64(prev) * 100)
		}
		r.DropoffRate = round1(100 - r.ConversionRate)

		if i < len(steps)-1 {
			r.AvgTimeToNext = avgTransitionSeconds(stepTimes[i], stepTimes[i+1])
		}
		results[i] = r
	}

	analysis := &models.FunnelAnalysis{
		FunnelID:  f.ID,
		DateRange: window,
		Steps:     results,
	}

	if !opts.Segment.Empty() {
		baseline, err := e.completionRate(ctx, f, steps, start, end, models.SegmentFilter{})
		if err != nil {
			return nil, fmt.Errorf("baseline pass: %w", err)
		}
		analysis.Filtered = true
		analysis.BaselineRate = baseline
		analysis.FilteredRate = overallRate(results)
		if baseline > 0 {
			analysis.ConversionLiftPct = round1((analysis.FilteredRate - baseline) / baseline * 100)
		}
	}

	e.refreshStats(ctx, f.ID, results)

	analysis.GeneratedAt = time.Now().UTC()
	analysis.QueryTimeMS = time.Since(started).Milliseconds()
	metrics.FunnelAnalysisDuration.Observe(time.Since(started).Seconds())
	return analysis, nil
}

// stepFilter builds the event filter for one step matcher.
func (e *Engine) stepFilter(f *models.Funnel, step models.FunnelStep, start, end time.Time, segment models.SegmentFilter) database.EventFilter {
	return database.EventFilter{
		ProjectID:       f.ProjectID,
		EventType:       step.EventType,
		PageURL:         step.PageURL,
		ElementSelector: step.ElementSelector,
		Start:           start,
		End:             end,
		Segment:         segment,
	}
}

// completionRate computes last-step users over first-step users as a percent
// for the given segment, using count queries only.
func (e *Engine) completionRate(ctx context.Context, f *models.Funnel, steps []models.FunnelStep, start, end time.Time, segment models.SegmentFilter) (float64, error) {
	first, err := e.store.DistinctUserCount(ctx, e.stepFilter(f, steps[0], start, end, segment))
	if err != nil {
		return 0, err
	}
	if first == 0 {
		return 0, nil
	}
	last, err := e.store.DistinctUserCount(ctx, e.stepFilter(f, steps[len(steps)-1], start, end, segment))
	if err != nil {
		return 0, err
	}
	return round1(float64(last) / float64(first) * 100), nil
}

// refreshStats overwrites the funnel's cached snapshot, last-writer-wins.
// Failures are logged, never surfaced: the snapshot is a convenience.
func (e *Engine) refreshStats(ctx context.Context, funnelID string, results []models.FunnelStepResult) {
	stats := &models.FunnelStats{
		TotalEntries:    results[0].Users,
		TotalCompletion: results[len(results)-1].Users,
		ConversionRate:  overallRate(results),
		AnalyzedAt:      time.Now().UTC(),
	}
	if err := e.store.SaveFunnelStats(ctx, funnelID, stats); err != nil {
		logging.Warn().Err(err).Str("funnel_id", funnelID).Msg("Failed to refresh funnel stats snapshot")
	}
}

// overallRate is last-step users over first-step users as a percent.
func overallRate(results []models.FunnelStepResult) float64 {
	first := results[0].Users
	if first == 0 {
		return 0
	}
	return round1(float64(results[len(results)-1].Users) / float64(first) * 100)
}

// avgTransitionSeconds averages, over users present in both steps whose
// next-step event came strictly later, the seconds between the two earliest
// events. Nil when no user made the transition in order.
func avgTransitionSeconds(current, next map[string]time.Time) *float64 {
	var sum float64
	var n int64
	for user, t0 := range current {
		t1, ok := next[user]
		if !ok || !t1.After(t0) {
			continue
		}
		sum += t1.Sub(t0).Seconds()
		n++
	}
	if n == 0 {
		return nil
	}
	avg := round1(sum / float64(n))
	return &avg
}

// round1 rounds to one decimal place, the precision all rates are reported at.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
