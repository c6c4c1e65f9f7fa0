// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package models

import "time"

// FunnelStep is one stage of a conversion funnel. The step matcher is the
// {event_type, page_url?, element_selector?} predicate; empty optional
// fields match any value.
type FunnelStep struct {
	Order           int       `json:"order"`
	Name            string    `json:"name" validate:"required"`
	EventType       EventType `json:"event_type" validate:"required"`
	PageURL         string    `json:"page_url,omitempty"`
	ElementSelector string    `json:"element_selector,omitempty"`
}

// FunnelStats is the cached snapshot of the last analysis run. It is
// refreshed only when an analysis is executed, last-writer-wins.
type FunnelStats struct {
	TotalEntries    int64     `json:"total_entries"`
	TotalCompletion int64     `json:"total_completion"`
	ConversionRate  float64   `json:"conversion_rate"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
}

// Funnel is an ordered conversion funnel definition. Invariant: at least two
// steps with unique, monotonically increasing orders.
type Funnel struct {
	ID         string       `json:"id"`
	ProjectID  string       `json:"project_id,omitempty"`
	Name       string       `json:"name" validate:"required"`
	Steps      []FunnelStep `json:"steps" validate:"required,min=2,dive"`
	TimeWindow string       `json:"time_window,omitempty"` // default analysis range
	Stats      *FunnelStats `json:"stats,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// SegmentFilter narrows a funnel analysis to a user segment. Zero-value
// fields are not applied.
type SegmentFilter struct {
	Device           string `json:"device,omitempty"`
	Country          string `json:"country,omitempty"`
	UTMSource        string `json:"utm_source,omitempty"`
	ReferrerContains string `json:"referrer_contains,omitempty"`
	PathPrefix       string `json:"path_prefix,omitempty"`
}

// Empty reports whether no segment dimension is set. An empty filter skips
// the baseline pass entirely.
func (f SegmentFilter) Empty() bool {
	return f == SegmentFilter{}
}

// FunnelStepResult is the per-step output of an analysis run.
//
// ConversionRate measures step-over-step retention against the previous
// step, not against step 0.
type FunnelStepResult struct {
	Order          int     `json:"order"`
	Name           string  `json:"name"`
	Users          int64   `json:"users"`
	ConversionRate float64 `json:"conversion_rate"` // percent, 1 decimal
	DropoffRate    float64 `json:"dropoff_rate"`    // 100 - conversion_rate

	// AvgTimeToNext is the mean seconds between a user's step event and
	// their earliest next-step event. Nil for the last step and when no
	// user completed the transition.
	AvgTimeToNext *float64 `json:"avg_time_to_next,omitempty"`
}

// FunnelAnalysis is the full output of FunnelEngine.Analyze. Never persisted
// as an entity; only the funnel's cached stats snapshot is refreshed.
type FunnelAnalysis struct {
	FunnelID  string             `json:"funnel_id"`
	DateRange string             `json:"date_range"`
	Steps     []FunnelStepResult `json:"steps"`

	// Baseline comparison, populated only when a segment filter was applied.
	Filtered          bool    `json:"filtered"`
	BaselineRate      float64 `json:"baseline_rate"`       // unfiltered completion %
	FilteredRate      float64 `json:"filtered_rate"`       // segment completion %
	ConversionLiftPct float64 `json:"conversion_lift_pct"` // 0 when unfiltered

	GeneratedAt time.Time `json:"generated_at"`
	QueryTimeMS int64     `json:"query_time_ms"`
}
