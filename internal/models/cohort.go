// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package models

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Condition operators supported by cohort queries.
const (
	OpEquals     = "equals"
	OpNotEquals  = "not_equals"
	OpContains   = "contains"
	OpStartsWith = "starts_with"
)

// ValidConditionOperator reports whether op is a supported operator.
func ValidConditionOperator(op string) bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpStartsWith:
		return true
	}
	return false
}

// CohortCondition is one clause of the simple (flat list) condition form.
type CohortCondition struct {
	Field    string `json:"field" validate:"required"`
	Operator string `json:"operator" validate:"required,oneof=equals not_equals contains starts_with"`
	Value    string `json:"value"`
}

// PropertyCondition is one clause of the structured form's properties array.
type PropertyCondition struct {
	Key      string `json:"key" validate:"required"`
	Operator string `json:"operator" validate:"required,oneof=equals not_equals contains starts_with"`
	Value    string `json:"value"`
}

// EventCondition is a count/sequence-based clause of the structured form.
// Accepted for storage but NOT evaluated by CohortEngine; it is logged and
// ignored at query-build time. Changing this needs product input, not code.
type EventCondition struct {
	EventName string `json:"event_name"`
	Operator  string `json:"operator,omitempty"`
	Count     int    `json:"count,omitempty"`
	Days      int    `json:"days,omitempty"`
}

// StructuredConditions is the object-shaped condition variant.
type StructuredConditions struct {
	Properties []PropertyCondition `json:"properties"`
	Events     []EventCondition    `json:"events,omitempty"`
}

// CohortConditions is the tagged union of the two condition shapes a cohort
// may carry: a flat ordered list (Simple) or the structured object form.
// Exactly one variant is set.
//
// The wire format keeps the historical polymorphism: a JSON array decodes as
// Simple, a JSON object as Structured.
type CohortConditions struct {
	Simple     []CohortCondition     `json:"-"`
	Structured *StructuredConditions `json:"-"`
}

// ErrEmptyConditions is returned when neither variant carries a clause.
var ErrEmptyConditions = errors.New("cohort conditions are empty")

// IsSimple reports whether the simple variant is set.
func (c *CohortConditions) IsSimple() bool {
	return c.Structured == nil
}

// Empty reports whether the conditions carry no clause at all.
func (c *CohortConditions) Empty() bool {
	if c.Structured != nil {
		return len(c.Structured.Properties) == 0 && len(c.Structured.Events) == 0
	}
	return len(c.Simple) == 0
}

// UnmarshalJSON decodes either condition shape based on the leading token.
func (c *CohortConditions) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return ErrEmptyConditions
	}

	switch trimmed[0] {
	case '[':
		c.Structured = nil
		return json.Unmarshal(data, &c.Simple)
	case '{':
		c.Simple = nil
		c.Structured = &StructuredConditions{}
		return json.Unmarshal(data, c.Structured)
	case 'n': // null
		return ErrEmptyConditions
	default:
		return fmt.Errorf("cohort conditions must be an array or an object, got %q", trimmed[0])
	}
}

// MarshalJSON re-emits the variant that was stored.
func (c CohortConditions) MarshalJSON() ([]byte, error) {
	if c.Structured != nil {
		return json.Marshal(c.Structured)
	}
	return json.Marshal(c.Simple)
}

// Cohort is a named, re-evaluable user set defined by stored conditions.
// UserCount is a cached summary recomputed on read; the stored value is
// overwritten only when it differs (benign last-writer-wins).
type Cohort struct {
	ID         string           `json:"id"`
	ProjectID  string           `json:"project_id,omitempty"`
	Name       string           `json:"name" validate:"required"`
	Conditions CohortConditions `json:"conditions"`
	UserCount  int64            `json:"user_count"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// RetentionBucket is one weekly retention point of a cohort analysis.
type RetentionBucket struct {
	Week          int     `json:"week"` // offset from window start
	ActiveUsers   int64   `json:"active_users"`
	RetentionRate float64 `json:"retention_rate"` // percent of the cohort base
}

// CohortBehavior aggregates activity over the analyzed user set.
type CohortBehavior struct {
	AvgSessionsPerUser float64 `json:"avg_sessions_per_user"`
	AvgEventsPerUser   float64 `json:"avg_events_per_user"`
	AvgSessionDuration float64 `json:"avg_session_duration"` // seconds, positive durations only
	ActiveLast7Days    int64   `json:"active_last_7_days"`
}

// CohortAnalysis is the output of CohortEngine.Analyze.
type CohortAnalysis struct {
	CohortID    string            `json:"cohort_id"`
	DateRange   string            `json:"date_range"`
	UserCount   int64             `json:"user_count"`
	Retention   []RetentionBucket `json:"retention"`
	Behavior    CohortBehavior    `json:"behavior"`
	GeneratedAt time.Time         `json:"generated_at"`
	QueryTimeMS int64             `json:"query_time_ms"`
}
