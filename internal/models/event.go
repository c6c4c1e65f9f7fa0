// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

// Package models defines the shared data model for the analytics core:
// captured events, session documents, recordings, funnels and cohorts.
// The capture SDK, the ingest pipeline and both analysis engines all
// speak these types; nothing else defines event shapes.
package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current event schema version.
// Increment this when making breaking changes to Event.
const SchemaVersion = 1

// AnonymousUserID marks events captured before Identify() was called.
const AnonymousUserID = "anonymous"

// EventType enumerates the interaction kinds the capture SDK emits.
type EventType string

// Event types accepted by the ingest endpoints. Anything else is rejected
// at validation time.
const (
	EventPageView EventType = "pageview"
	EventClick    EventType = "click"
	EventHover    EventType = "hover"
	EventScroll   EventType = "scroll"
	EventInput    EventType = "input"
	EventSubmit   EventType = "submit"
	EventCustom   EventType = "custom"
)

// ValidEventType reports whether t is one of the accepted event types.
func ValidEventType(t EventType) bool {
	switch t {
	case EventPageView, EventClick, EventHover, EventScroll, EventInput, EventSubmit, EventCustom:
		return true
	}
	return false
}

// DeviceInfo is the device snapshot attached to every event.
type DeviceInfo struct {
	Type           string `json:"type,omitempty"` // desktop, mobile, tablet
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	ScreenWidth    int    `json:"screen_width,omitempty"`
	ScreenHeight   int    `json:"screen_height,omitempty"`
}

// LocationInfo is the coarse location snapshot attached to every event.
type LocationInfo struct {
	Country  string `json:"country,omitempty"`
	Region   string `json:"region,omitempty"`
	City     string `json:"city,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Event is one captured interaction or custom signal. Events are immutable
// once persisted: the core never mutates or deletes them.
//
// EventID doubles as the idempotency key for receiver-side deduplication of
// at-least-once deliveries.
type Event struct {
	SchemaVersion int `json:"schema_version,omitempty"`

	EventID   string    `json:"event_id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	ProjectID string    `json:"project_id,omitempty"`
	EventType EventType `json:"event_type"`
	EventName string    `json:"event_name,omitempty"`
	PageURL   string    `json:"page_url,omitempty"`
	Referrer  string    `json:"referrer,omitempty"`

	// ElementSelector identifies the DOM element for click/hover/input
	// events; funnel step matchers filter on it.
	ElementSelector string `json:"element_selector,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Device   DeviceInfo             `json:"device,omitempty"`
	Location LocationInfo           `json:"location,omitempty"`

	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates an event with a fresh idempotency key and timestamp.
func NewEvent(sessionID string, eventType EventType) *Event {
	return &Event{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		SessionID:     sessionID,
		UserID:        AnonymousUserID,
		EventType:     eventType,
		Timestamp:     time.Now().UTC(),
	}
}

// Event validation errors.
var (
	ErrMissingSessionID = errors.New("event is missing session_id")
	ErrInvalidEventType = errors.New("invalid event type")
)

// Validate checks the fields required before an event may be enqueued or
// ingested. An event without a session id is dropped, never stored.
func (e *Event) Validate() error {
	if e.SessionID == "" {
		return ErrMissingSessionID
	}
	if !ValidEventType(e.EventType) {
		return ErrInvalidEventType
	}
	return nil
}

// Normalize applies ingest-side defaults: anonymous user marker, schema
// version and a timestamp for events that arrived without one.
func (e *Event) Normalize() {
	if e.UserID == "" {
		e.UserID = AnonymousUserID
	}
	if e.SchemaVersion == 0 {
		e.SchemaVersion = SchemaVersion
	}
	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

// Session is the per-visit document maintained by the ingest consumer.
// CohortEngine queries run against sessions rather than raw events.
type Session struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	ProjectID   string    `json:"project_id,omitempty"`
	Device      string    `json:"device,omitempty"`
	Browser     string    `json:"browser,omitempty"`
	OS          string    `json:"os,omitempty"`
	Country     string    `json:"country,omitempty"`
	Referrer    string    `json:"referrer,omitempty"`
	UTMSource   string    `json:"utm_source,omitempty"`
	EntryPath   string    `json:"entry_path,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time,omitempty"`
	Duration    float64   `json:"duration,omitempty"` // seconds
	EventsCount int64     `json:"events_count"`
}

// PerformanceSample is one network telemetry record produced by the
// instrumented HTTP client. These land on their own endpoint and table,
// separate from the interaction queue.
type PerformanceSample struct {
	SessionID  string    `json:"session_id"`
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	StatusCode int       `json:"status_code"` // 0 for transport failures
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventBatch is the payload of the batch ingestion endpoint.
type EventBatch struct {
	SessionID    string  `json:"session_id" validate:"required"`
	UserID       string  `json:"user_id"`
	ProjectID    string  `json:"project_id"`
	Interactions []Event `json:"interactions" validate:"required,min=1,dive"`
}
