// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package models

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestCohortConditionsDecodeSimple(t *testing.T) {
	raw := `[{"field":"device","operator":"equals","value":"mobile"},
	         {"field":"country","operator":"not_equals","value":"US"}]`

	var c CohortConditions
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unmarshal simple conditions: %v", err)
	}

	if !c.IsSimple() {
		t.Fatal("expected simple variant")
	}
	if len(c.Simple) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(c.Simple))
	}
	if c.Simple[0].Field != "device" || c.Simple[0].Operator != OpEquals || c.Simple[0].Value != "mobile" {
		t.Errorf("unexpected first condition: %+v", c.Simple[0])
	}
}

func TestCohortConditionsDecodeStructured(t *testing.T) {
	raw := `{"properties":[{"key":"utm_source","operator":"starts_with","value":"news"}],
	         "events":[{"event_name":"purchase","operator":"gte","count":3,"days":30}]}`

	var c CohortConditions
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unmarshal structured conditions: %v", err)
	}

	if c.IsSimple() {
		t.Fatal("expected structured variant")
	}
	if len(c.Structured.Properties) != 1 {
		t.Fatalf("expected 1 property condition, got %d", len(c.Structured.Properties))
	}
	if len(c.Structured.Events) != 1 {
		t.Fatalf("expected 1 event condition, got %d", len(c.Structured.Events))
	}
	if c.Structured.Events[0].Count != 3 {
		t.Errorf("expected event count 3, got %d", c.Structured.Events[0].Count)
	}
}

func TestCohortConditionsRoundTripKeepsVariant(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want byte // leading token after re-marshal
	}{
		{"simple stays array", `[{"field":"device","operator":"equals","value":"mobile"}]`, '['},
		{"structured stays object", `{"properties":[]}`, '{'},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c CohortConditions
			if err := json.Unmarshal([]byte(tt.raw), &c); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			out, err := json.Marshal(c)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if out[0] != tt.want {
				t.Errorf("expected leading %q, got %s", tt.want, out)
			}
		})
	}
}

func TestCohortConditionsRejectsScalar(t *testing.T) {
	var c CohortConditions
	if err := json.Unmarshal([]byte(`"device=mobile"`), &c); err == nil {
		t.Fatal("expected error for scalar conditions")
	}
	if err := json.Unmarshal([]byte(`null`), &c); err == nil {
		t.Fatal("expected error for null conditions")
	}
}

func TestCohortConditionsEmpty(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		empty bool
	}{
		{"empty array", `[]`, true},
		{"empty structured", `{"properties":[],"events":[]}`, true},
		{"events only is not empty", `{"properties":[],"events":[{"event_name":"purchase"}]}`, false},
		{"one simple clause", `[{"field":"device","operator":"equals","value":"mobile"}]`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c CohortConditions
			if err := json.Unmarshal([]byte(tt.raw), &c); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := c.Empty(); got != tt.empty {
				t.Errorf("Empty() = %v, want %v", got, tt.empty)
			}
		})
	}
}

func TestEventValidate(t *testing.T) {
	e := NewEvent("sess-1", EventClick)
	if err := e.Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	e.SessionID = ""
	if err := e.Validate(); err != ErrMissingSessionID {
		t.Errorf("expected ErrMissingSessionID, got %v", err)
	}

	e.SessionID = "sess-1"
	e.EventType = "drag"
	if err := e.Validate(); err != ErrInvalidEventType {
		t.Errorf("expected ErrInvalidEventType, got %v", err)
	}
}

func TestEventNormalizeDefaults(t *testing.T) {
	e := &Event{SessionID: "sess-1", EventType: EventPageView}
	e.Normalize()

	if e.UserID != AnonymousUserID {
		t.Errorf("expected anonymous marker, got %q", e.UserID)
	}
	if e.EventID == "" {
		t.Error("expected generated event id")
	}
	if e.SchemaVersion != SchemaVersion {
		t.Errorf("expected schema version %d, got %d", SchemaVersion, e.SchemaVersion)
	}
	if e.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}
