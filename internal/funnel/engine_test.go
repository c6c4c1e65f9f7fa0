// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package funnel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopsight/shopsight/internal/database"
	"github.com/shopsight/shopsight/internal/models"
)

// fakeStore serves canned step results keyed by the step matcher so tests
// control exactly who reached which step and when.
type fakeStore struct {
	funnel     *models.Funnel
	getErr     error
	savedStats *models.FunnelStats

	// times maps "event_type|page_url|element_selector|device" to per-user
	// earliest event times.
	times map[string]map[string]time.Time
}

func stepKey(f database.EventFilter) string {
	return string(f.EventType) + "|" + f.PageURL + "|" + f.ElementSelector + "|" + f.Segment.Device
}

func (s *fakeStore) GetFunnel(_ context.Context, id string) (*models.Funnel, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.funnel == nil || s.funnel.ID != id {
		return nil, database.ErrFunnelNotFound
	}
	return s.funnel, nil
}

func (s *fakeStore) SaveFunnelStats(_ context.Context, _ string, stats *models.FunnelStats) error {
	s.savedStats = stats
	return nil
}

func (s *fakeStore) DistinctUserCount(ctx context.Context, f database.EventFilter) (int64, error) {
	times, err := s.FirstEventTimes(ctx, f)
	if err != nil {
		return 0, err
	}
	return int64(len(times)), nil
}

func (s *fakeStore) FirstEventTimes(_ context.Context, f database.EventFilter) (map[string]time.Time, error) {
	return s.times[stepKey(f)], nil
}

func checkoutFunnel() *models.Funnel {
	return &models.Funnel{
		ID:   "f1",
		Name: "checkout",
		Steps: []models.FunnelStep{
			{Order: 1, Name: "add to cart", EventType: models.EventClick, ElementSelector: "#add"},
			{Order: 0, Name: "view product", EventType: models.EventPageView, PageURL: "/products"},
			{Order: 2, Name: "purchase", EventType: models.EventSubmit, ElementSelector: "#buy"},
		},
	}
}

func TestAnalyzeStepConversion(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{
		funnel: checkoutFunnel(),
		times: map[string]map[string]time.Time{
			"pageview|/products||": {
				"u1": base, "u2": base, "u3": base, "u4": base,
			},
			"click||#add|": {
				"u1": base.Add(30 * time.Second),
				"u2": base.Add(90 * time.Second),
				"u3": base.Add(-time.Minute), // out of order: no transition credit
			},
			"submit||#buy|": {
				"u1": base.Add(2 * time.Minute),
			},
		},
	}

	analysis, err := NewEngine(store).Analyze(context.Background(), "f1", Options{Window: "7d"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(analysis.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(analysis.Steps))
	}

	// Steps come back sorted by order despite shuffled definition.
	if analysis.Steps[0].Name != "view product" || analysis.Steps[2].Name != "purchase" {
		t.Errorf("steps not ordered: %+v", analysis.Steps)
	}

	s0, s1, s2 := analysis.Steps[0], analysis.Steps[1], analysis.Steps[2]
	if s0.Users != 4 || s0.ConversionRate != 100.0 || s0.DropoffRate != 0.0 {
		t.Errorf("step 0 unexpected: %+v", s0)
	}
	if s1.Users != 3 || s1.ConversionRate != 75.0 || s1.DropoffRate != 25.0 {
		t.Errorf("step 1 unexpected: %+v", s1)
	}
	// 1 of 3 = 33.3 rounded to one decimal.
	if s2.Users != 1 || s2.ConversionRate != 33.3 || s2.DropoffRate != 66.7 {
		t.Errorf("step 2 unexpected: %+v", s2)
	}

	// u1 (30s) and u2 (90s) transitioned in order; u3's cart click predates
	// the pageview and earns no credit. Mean is 60s.
	if s0.AvgTimeToNext == nil || *s0.AvgTimeToNext != 60.0 {
		t.Errorf("step 0 avg time unexpected: %v", s0.AvgTimeToNext)
	}
	// Only u1 purchased, 30s after the cart click.
	if s1.AvgTimeToNext == nil || *s1.AvgTimeToNext != 90.0 {
		t.Errorf("step 1 avg time unexpected: %v", s1.AvgTimeToNext)
	}
	if s2.AvgTimeToNext != nil {
		t.Error("last step must not carry a transition time")
	}

	if analysis.Filtered {
		t.Error("unfiltered run must not set Filtered")
	}

	// Cached snapshot refreshed: 4 entries, 1 completion, 25%.
	if store.savedStats == nil {
		t.Fatal("expected stats snapshot refresh")
	}
	if store.savedStats.TotalEntries != 4 || store.savedStats.TotalCompletion != 1 || store.savedStats.ConversionRate != 25.0 {
		t.Errorf("unexpected snapshot: %+v", store.savedStats)
	}
}

func TestAnalyzeSegmentBaseline(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	f := &models.Funnel{
		ID:   "f2",
		Name: "two step",
		Steps: []models.FunnelStep{
			{Order: 0, Name: "view", EventType: models.EventPageView, PageURL: "/p"},
			{Order: 1, Name: "buy", EventType: models.EventSubmit, ElementSelector: "#b"},
		},
	}
	store := &fakeStore{
		funnel: f,
		times: map[string]map[string]time.Time{
			// Unfiltered: 10 viewers, 2 buyers -> 20% baseline.
			"pageview|/p||": manyUsers(10, base),
			"submit||#b|":   manyUsers(2, base.Add(time.Minute)),
			// Mobile segment: 4 viewers, 2 buyers -> 50% filtered.
			"pageview|/p||mobile": manyUsers(4, base),
			"submit||#b|mobile":   manyUsers(2, base.Add(time.Minute)),
		},
	}

	analysis, err := NewEngine(store).Analyze(context.Background(), "f2", Options{
		Window:  "7d",
		Segment: models.SegmentFilter{Device: "mobile"},
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if !analysis.Filtered {
		t.Fatal("expected Filtered to be set")
	}
	if analysis.BaselineRate != 20.0 {
		t.Errorf("baseline = %v, want 20.0", analysis.BaselineRate)
	}
	if analysis.FilteredRate != 50.0 {
		t.Errorf("filtered = %v, want 50.0", analysis.FilteredRate)
	}
	if analysis.ConversionLiftPct != 150.0 {
		t.Errorf("lift = %v, want 150.0", analysis.ConversionLiftPct)
	}
}

func manyUsers(n int, ts time.Time) map[string]time.Time {
	users := make(map[string]time.Time, n)
	for i := 0; i < n; i++ {
		users["user"+string(rune('a'+i))] = ts
	}
	return users
}

func TestAnalyzeEmptyWindow(t *testing.T) {
	store := &fakeStore{
		funnel: checkoutFunnel(),
		times:  map[string]map[string]time.Time{},
	}

	analysis, err := NewEngine(store).Analyze(context.Background(), "f1", Options{Window: "24h"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	for i, s := range analysis.Steps {
		if s.Users != 0 {
			t.Errorf("step %d expected 0 users, got %d", i, s.Users)
		}
		if s.AvgTimeToNext != nil {
			t.Errorf("step %d expected nil transition time", i)
		}
	}
	// Zero entries: step 0 stays 100 by definition, later steps report 0.
	if analysis.Steps[1].ConversionRate != 0 {
		t.Errorf("expected 0 conversion with empty previous step, got %v", analysis.Steps[1].ConversionRate)
	}
}

func TestAnalyzeNotFound(t *testing.T) {
	store := &fakeStore{times: map[string]map[string]time.Time{}}
	_, err := NewEngine(store).Analyze(context.Background(), "missing", Options{})
	if !errors.Is(err, database.ErrFunnelNotFound) {
		t.Errorf("expected ErrFunnelNotFound, got %v", err)
	}
}

func TestAnalyzeTooFewSteps(t *testing.T) {
	store := &fakeStore{
		funnel: &models.Funnel{ID: "f3", Steps: []models.FunnelStep{{Order: 0, Name: "only", EventType: models.EventPageView}}},
	}
	_, err := NewEngine(store).Analyze(context.Background(), "f3", Options{})
	if !errors.Is(err, ErrTooFewSteps) {
		t.Errorf("expected ErrTooFewSteps, got %v", err)
	}
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"24h", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"30d", 30 * 24 * time.Hour, false},
		{"", 0, true},
		{"d", 0, true},
		{"-1d", 0, true},
		{"7x", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWindow(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseWindow(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseWindow(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseWindow(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
