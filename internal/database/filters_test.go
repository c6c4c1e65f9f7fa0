// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package database

import (
	"strings"
	"testing"

	"github.com/shopsight/shopsight/internal/models"
)

func TestBuildEventWhereEmpty(t *testing.T) {
	where, args, err := buildEventWhere(EventFilter{})
	if err != nil {
		t.Fatalf("buildEventWhere: %v", err)
	}
	if where != "1=1" || len(args) != 0 {
		t.Errorf("expected trivial clause, got %q with %v", where, args)
	}
}

func TestBuildEventWhereSegment(t *testing.T) {
	where, args, err := buildEventWhere(EventFilter{
		EventType: models.EventPageView,
		Segment: models.SegmentFilter{
			Device:     "mobile",
			PathPrefix: "/products",
		},
	})
	if err != nil {
		t.Fatalf("buildEventWhere: %v", err)
	}
	if !strings.Contains(where, "event_type = ?") {
		t.Errorf("missing event_type clause: %q", where)
	}
	if !strings.Contains(where, "device_type = ?") {
		t.Errorf("missing device clause: %q", where)
	}
	if !strings.Contains(where, "page_url LIKE ?") {
		t.Errorf("missing path prefix clause: %q", where)
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %v", args)
	}
	if args[2] != "/products%" {
		t.Errorf("expected prefix pattern, got %v", args[2])
	}
}

func TestBuildEventWhereUTMSourceMatchesAllCarriers(t *testing.T) {
	where, args, err := buildEventWhere(EventFilter{
		Segment: models.SegmentFilter{UTMSource: "newsletter"},
	})
	if err != nil {
		t.Fatalf("buildEventWhere: %v", err)
	}
	for _, col := range []string{"utm_source = ?", "utm_medium = ?", "utm_campaign = ?", "referrer LIKE ?"} {
		if !strings.Contains(where, col) {
			t.Errorf("utm source clause missing carrier %q: %q", col, where)
		}
	}
	if !strings.Contains(where, " OR ") {
		t.Errorf("carriers must be OR-joined, got %q", where)
	}
	if len(args) != 4 {
		t.Fatalf("expected 4 args, got %v", args)
	}
	if args[3] != "%newsletter%" {
		t.Errorf("referrer match must be a substring pattern, got %v", args[3])
	}
}

func TestBuildEventWhereRejectsUnknownField(t *testing.T) {
	_, _, err := buildEventWhere(EventFilter{
		Properties: []PropertyClause{{Field: "password", Operator: models.OpEquals, Value: "x"}},
	})
	if err == nil {
		t.Fatal("expected rejection of non-whitelisted field")
	}
}

func TestBuildSessionWhereRejectsUnknownOperator(t *testing.T) {
	_, _, err := buildSessionWhere(SessionFilter{
		Properties: []PropertyClause{{Field: "device", Operator: "regex", Value: ".*"}},
	})
	if err == nil {
		t.Fatal("expected rejection of unknown operator")
	}
}

func TestClauseForOperators(t *testing.T) {
	tests := []struct {
		name       string
		op         string
		value      string
		wantClause string
		wantArg    string
	}{
		{"equals", models.OpEquals, "mobile", "device = ?", "mobile"},
		{"not equals treats null as mismatch", models.OpNotEquals, "mobile", "(device IS NULL OR device != ?)", "mobile"},
		{"contains wraps wildcards", models.OpContains, "goog", `device LIKE ? ESCAPE '\'`, "%goog%"},
		{"starts_with appends wildcard", models.OpStartsWith, "des", `device LIKE ? ESCAPE '\'`, "des%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause, arg, err := clauseFor(PropertyClause{Field: "device", Operator: tt.op, Value: tt.value}, sessionColumns)
			if err != nil {
				t.Fatalf("clauseFor: %v", err)
			}
			if clause != tt.wantClause {
				t.Errorf("clause = %q, want %q", clause, tt.wantClause)
			}
			if arg != tt.wantArg {
				t.Errorf("arg = %v, want %q", arg, tt.wantArg)
			}
		})
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike("50%_off"); got != `50\%\_off` {
		t.Errorf("escapeLike = %q", got)
	}
}
