// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Frame is one opaque unit of the session-replay stream. The payload is
// stored and relayed verbatim; the server never interprets it.
type Frame struct {
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// RecordingStats are the running counters updated on every frame flush.
type RecordingStats struct {
	Events  int64 `json:"events"`
	Clicks  int64 `json:"clicks"`
	Scrolls int64 `json:"scrolls"`
	Moves   int64 `json:"moves"`
}

// Recording is the session-replay document for one session. It is created
// lazily on the first frame, appended to by every flush, and closed (EndTime
// set) on a stop command or page-exit signal.
//
// Recording is the only entity mutated by concurrent writers; appends are
// serialized per session key by the store.
type Recording struct {
	SessionID  string         `json:"session_id"`
	ProjectID  string         `json:"project_id,omitempty"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    *time.Time     `json:"end_time,omitempty"` // nil until closed
	FrameCount int64          `json:"frame_count"`
	Stats      RecordingStats `json:"stats"`
}

// FrameBatch is the payload of the recording-frame ingestion endpoint.
type FrameBatch struct {
	SessionID string  `json:"session_id" validate:"required"`
	ProjectID string  `json:"project_id,omitempty"`
	Events    []Frame `json:"events" validate:"required,min=1"`
}

// Closed reports whether the recording has been finalized.
func (r *Recording) Closed() bool {
	return r.EndTime != nil
}
