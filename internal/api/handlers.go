// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package api

import (
	"net/http"
	"time"

	"github.com/shopsight/shopsight/internal/cohort"
	"github.com/shopsight/shopsight/internal/config"
	"github.com/shopsight/shopsight/internal/database"
	"github.com/shopsight/shopsight/internal/funnel"
	"github.com/shopsight/shopsight/internal/ingest"
	"github.com/shopsight/shopsight/internal/models"
	"github.com/shopsight/shopsight/internal/replay"
	"github.com/shopsight/shopsight/internal/validation"
	"github.com/shopsight/shopsight/internal/websocket"
)

// Handlers carries the wired components every endpoint reaches into.
type Handlers struct {
	db        *database.DB
	pipeline  *ingest.Pipeline
	funnels   *funnel.Engine
	cohorts   *cohort.Engine
	relay     *replay.Relay
	hub       *websocket.Hub
	cfg       *config.Config
	startTime time.Time
}

// NewHandlers wires the handler set.
func NewHandlers(
	db *database.DB,
	pipeline *ingest.Pipeline,
	funnels *funnel.Engine,
	cohorts *cohort.Engine,
	relay *replay.Relay,
	hub *websocket.Hub,
	cfg *config.Config,
) *Handlers {
	return &Handlers{
		db:        db,
		pipeline:  pipeline,
		funnels:   funnels,
		cohorts:   cohorts,
		relay:     relay,
		hub:       hub,
		cfg:       cfg,
		startTime: time.Now(),
	}
}

// CaptureBatch ingests an interaction batch from the capture SDK. The batch
// envelope stamps session/user/project onto interactions that arrived
// without them; invalid and duplicate events are dropped silently inside
// the pipeline, so redelivered batches are safe.
func (h *Handlers) CaptureBatch(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)

	var batch models.EventBatch
	if err := decodeJSON(r, &batch); err != nil {
		rw.ValidationError("malformed batch payload", nil)
		return
	}
	if verr := validation.ValidateStruct(&batch); verr != nil {
		rw.ValidationError("invalid batch", verr.Details())
		return
	}

	for i := range batch.Interactions {
		e := &batch.Interactions[i]
		if e.SessionID == "" {
			e.SessionID = batch.SessionID
		}
		if e.UserID == "" {
			e.UserID = batch.UserID
		}
		if e.ProjectID == "" {
			e.ProjectID = batch.ProjectID
		}
	}

	accepted, err := h.pipeline.Publish(r.Context(), batch.Interactions)
	if err != nil {
		rw.StorageError(err)
		return
	}

	for i := range batch.Interactions[:accepted] {
		h.hub.BroadcastLiveEvent(&batch.Interactions[i])
	}

	rw.Accepted(map[string]interface{}{
		"accepted": accepted,
		"received": len(batch.Interactions),
	})
}

// CaptureEvent ingests one event, the beacon-style single-shot path.
func (h *Handlers) CaptureEvent(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)

	var e models.Event
	if err := decodeJSON(r, &e); err != nil {
		rw.ValidationError("malformed event payload", nil)
		return
	}

	accepted, err := h.pipeline.Publish(r.Context(), []models.Event{e})
	if err != nil {
		rw.StorageError(err)
		return
	}
	if accepted > 0 {
		h.hub.BroadcastLiveEvent(&e)
	}

	rw.Accepted(map[string]interface{}{"accepted": accepted})
}

// CapturePerformance stores network telemetry samples.
func (h *Handlers) CapturePerformance(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)

	var samples []models.PerformanceSample
	if err := decodeJSON(r, &samples); err != nil {
		rw.ValidationError("malformed performance payload", nil)
		return
	}
	if len(samples) == 0 {
		rw.Accepted(map[string]interface{}{"accepted": 0})
		return
	}

	if err := h.db.InsertPerformanceSamples(r.Context(), samples); err != nil {
		rw.StorageError(err)
		return
	}
	rw.Accepted(map[string]interface{}{"accepted": len(samples)})
}

// CaptureRecording ingests a batch of opaque session-replay frames.
func (h *Handlers) CaptureRecording(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)

	var batch models.FrameBatch
	if err := decodeJSON(r, &batch); err != nil {
		rw.ValidationError("malformed frame payload", nil)
		return
	}
	if verr := validation.ValidateStruct(&batch); verr != nil {
		rw.ValidationError("invalid frame batch", verr.Details())
		return
	}

	h.relay.Record(r.Context(), batch.SessionID, batch.ProjectID, batch.Events)
	rw.Accepted(map[string]interface{}{"accepted": len(batch.Events)})
}

// CaptureConfig serves the tuning the SDK applies at init, so deployed
// storefronts can be retuned without a release.
func (h *Handlers) CaptureConfig(w http.ResponseWriter, r *http.Request) {
	c := h.cfg.Capture
	NewResponseWriter(w).Success(map[string]interface{}{
		"batch_size":         c.BatchSize,
		"flush_interval_ms":  c.FlushInterval.Milliseconds(),
		"scroll_throttle_ms": c.ScrollThrottle.Milliseconds(),
		"move_throttle_ms":   c.MoveThrottle.Milliseconds(),
		"dwell_threshold_ms": c.DwellThreshold.Milliseconds(),
		"heatmap_enabled":    c.HeatmapEnabled,
		"admin_path_prefix":  c.AdminPathPrefix,
		"max_retry_attempts": c.MaxRetryAttempts,
	})
}

// WebSocket upgrades the connection and attaches it to the live feed hub.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWS(h.hub, w, r)
}
