// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopsight/shopsight/internal/models"
)

// filters.go - Shared WHERE-clause compilation for event and session queries.
// Both analysis engines express their predicates as filters; this file turns
// them into parameterized SQL against a column whitelist. Field names that
// do not appear in the whitelist are rejected, never interpolated.

// PropertyClause is one generic field/operator/value predicate, produced by
// cohort condition compilation.
type PropertyClause struct {
	Field    string
	Operator string
	Value    string
}

// EventFilter selects events. Zero-value fields are not applied.
type EventFilter struct {
	ProjectID       string
	EventType       models.EventType
	EventName       string
	PageURL         string
	ElementSelector string
	UserIDs         []string
	Start           time.Time
	End             time.Time

	Segment    models.SegmentFilter
	Properties []PropertyClause
}

// SessionFilter selects session documents. Zero-value fields are not applied.
type SessionFilter struct {
	ProjectID  string
	UserIDs    []string
	Start      time.Time
	End        time.Time
	Properties []PropertyClause
}

// eventColumns whitelists the queryable event columns, keyed by the external
// field name used in cohort conditions and segment filters.
var eventColumns = map[string]string{
	"session_id":   "session_id",
	"user_id":      "user_id",
	"event_name":   "event_name",
	"page_url":     "page_url",
	"referrer":     "referrer",
	"device":       "device_type",
	"browser":      "browser",
	"os":           "os",
	"country":      "country",
	"region":       "region",
	"city":         "city",
	"utm_source":   "utm_source",
	"utm_medium":   "utm_medium",
	"utm_campaign": "utm_campaign",
}

// sessionColumns whitelists the queryable session columns.
var sessionColumns = map[string]string{
	"session_id": "session_id",
	"user_id":    "user_id",
	"device":     "device",
	"browser":    "browser",
	"os":         "os",
	"country":    "country",
	"referrer":   "referrer",
	"utm_source": "utm_source",
	"entry_path": "entry_path",
}

// escapeLike escapes LIKE wildcards in user-supplied match values.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// clauseFor compiles one property clause against a column whitelist.
func clauseFor(p PropertyClause, columns map[string]string) (string, interface{}, error) {
	col, ok := columns[p.Field]
	if !ok {
		return "", nil, fmt.Errorf("unknown filter field %q", p.Field)
	}

	switch p.Operator {
	case models.OpEquals:
		return col + " = ?", p.Value, nil
	case models.OpNotEquals:
		return "(" + col + " IS NULL OR " + col + " != ?)", p.Value, nil
	case models.OpContains:
		return col + ` LIKE ? ESCAPE '\'`, "%" + escapeLike(p.Value) + "%", nil
	case models.OpStartsWith:
		return col + ` LIKE ? ESCAPE '\'`, escapeLike(p.Value) + "%", nil
	default:
		return "", nil, fmt.Errorf("unknown filter operator %q", p.Operator)
	}
}

// buildEventWhere builds a WHERE clause and args from an event filter.
func buildEventWhere(filter EventFilter) (string, []interface{}, error) {
	whereClauses := make([]string, 0, 12)
	args := []interface{}{}

	if filter.ProjectID != "" {
		whereClauses = append(whereClauses, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.EventType != "" {
		whereClauses = append(whereClauses, "event_type = ?")
		args = append(args, string(filter.EventType))
	}
	if filter.EventName != "" {
		whereClauses = append(whereClauses, "event_name = ?")
		args = append(args, filter.EventName)
	}
	if filter.PageURL != "" {
		whereClauses = append(whereClauses, "page_url = ?")
		args = append(args, filter.PageURL)
	}
	if filter.ElementSelector != "" {
		whereClauses = append(whereClauses, "element_selector = ?")
		args = append(args, filter.ElementSelector)
	}
	if !filter.Start.IsZero() {
		whereClauses = append(whereClauses, "timestamp >= ?")
		args = append(args, filter.Start)
	}
	if !filter.End.IsZero() {
		whereClauses = append(whereClauses, "timestamp <= ?")
		args = append(args, filter.End)
	}
	if len(filter.UserIDs) > 0 {
		placeholders := make([]string, len(filter.UserIDs))
		for i, id := range filter.UserIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		whereClauses = append(whereClauses, fmt.Sprintf("user_id IN (%s)", strings.Join(placeholders, ", ")))
	}

	// Segment dimensions
	seg := filter.Segment
	if seg.Device != "" {
		whereClauses = append(whereClauses, "device_type = ?")
		args = append(args, seg.Device)
	}
	if seg.Country != "" {
		whereClauses = append(whereClauses, "country = ?")
		args = append(args, seg.Country)
	}
	if seg.UTMSource != "" {
		// Source attribution is sloppy in the wild: the value lands in
		// utm_medium or utm_campaign on misconfigured campaigns, or only in
		// the referrer when tags were stripped. Match all carriers.
		whereClauses = append(whereClauses,
			`(utm_source = ? OR utm_medium = ? OR utm_campaign = ? OR referrer LIKE ? ESCAPE '\')`)
		args = append(args, seg.UTMSource, seg.UTMSource, seg.UTMSource,
			"%"+escapeLike(seg.UTMSource)+"%")
	}
	if seg.ReferrerContains != "" {
		whereClauses = append(whereClauses, `referrer LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(seg.ReferrerContains)+"%")
	}
	if seg.PathPrefix != "" {
		whereClauses = append(whereClauses, `page_url LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(seg.PathPrefix)+"%")
	}

	for _, p := range filter.Properties {
		clause, arg, err := clauseFor(p, eventColumns)
		if err != nil {
			return "", nil, err
		}
		whereClauses = append(whereClauses, clause)
		args = append(args, arg)
	}

	if len(whereClauses) == 0 {
		return "1=1", args, nil
	}
	return strings.Join(whereClauses, " AND "), args, nil
}

// buildSessionWhere builds a WHERE clause and args from a session filter.
func buildSessionWhere(filter SessionFilter) (string, []interface{}, error) {
	whereClauses := make([]string, 0, 8)
	args := []interface{}{}

	if filter.ProjectID != "" {
		whereClauses = append(whereClauses, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if !filter.Start.IsZero() {
		whereClauses = append(whereClauses, "start_time >= ?")
		args = append(args, filter.Start)
	}
	if !filter.End.IsZero() {
		whereClauses = append(whereClauses, "start_time <= ?")
		args = append(args, filter.End)
	}
	if len(filter.UserIDs) > 0 {
		placeholders := make([]string, len(filter.UserIDs))
		for i, id := range filter.UserIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		whereClauses = append(whereClauses, fmt.Sprintf("user_id IN (%s)", strings.Join(placeholders, ", ")))
	}

	for _, p := range filter.Properties {
		clause, arg, err := clauseFor(p, sessionColumns)
		if err != nil {
			return "", nil, err
		}
		whereClauses = append(whereClauses, clause)
		args = append(args, arg)
	}

	if len(whereClauses) == 0 {
		return "1=1", args, nil
	}
	return strings.Join(whereClauses, " AND "), args, nil
}
