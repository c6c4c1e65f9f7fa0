// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopsight/shopsight/internal/database"
)

// RecordingStart signals storefront clients of a session to begin streaming
// replay frames. The recording document itself is created lazily by the
// first frame batch; this control message only travels the websocket.
func (h *Handlers) RecordingStart(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)
	sessionID := chi.URLParam(r, "sessionID")

	h.hub.BroadcastRecordingStarted(sessionID, r.URL.Query().Get("project_id"))
	rw.Success(map[string]interface{}{
		"session_id": sessionID,
		"status":     "recording",
	})
}

// RecordingStop flushes and finalizes a session's recording, then notifies
// websocket clients. Stopping a session with no stored frames is a no-op
// that still broadcasts, duplicate stop signals are expected.
func (h *Handlers) RecordingStop(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.relay.Stop(r.Context(), sessionID, time.Now().UTC()); err != nil {
		rw.StorageError(err)
		return
	}

	var frameCount int64
	if rec, err := h.db.GetRecording(r.Context(), sessionID); err == nil {
		frameCount = rec.FrameCount
	}
	h.hub.BroadcastRecordingStopped(sessionID, frameCount)

	rw.Success(map[string]interface{}{
		"session_id":  sessionID,
		"status":      "stopped",
		"frame_count": frameCount,
	})
}

// RecordingList returns recordings ordered by start time descending.
func (h *Handlers) RecordingList(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recordings, err := h.db.ListRecordings(r.Context(), limit)
	if err != nil {
		rw.StorageError(err)
		return
	}
	rw.Success(recordings)
}

// RecordingGet returns one recording document.
func (h *Handlers) RecordingGet(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)

	rec, err := h.db.GetRecording(r.Context(), chi.URLParam(r, "sessionID"))
	if errors.Is(err, database.ErrRecordingNotFound) {
		rw.NotFound("recording not found")
		return
	}
	if err != nil {
		rw.StorageError(err)
		return
	}
	rw.Success(rec)
}

// RecordingFrames returns a page of a recording's frames in append order
// for player consumption. The payloads stay opaque.
func (h *Handlers) RecordingFrames(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := h.db.GetRecording(r.Context(), sessionID); err != nil {
		if errors.Is(err, database.ErrRecordingNotFound) {
			rw.NotFound("recording not found")
		} else {
			rw.StorageError(err)
		}
		return
	}

	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	frames, err := h.db.GetFrames(r.Context(), sessionID, offset, limit)
	if err != nil {
		rw.StorageError(err)
		return
	}
	rw.Success(frames)
}
