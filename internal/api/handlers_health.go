// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package api

import (
	"net/http"
	"time"
)

// HealthLive answers liveness probes; reachable means alive.
func (h *Handlers) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w).Success(map[string]string{"status": "alive"})
}

// HealthReady answers readiness probes by pinging the store.
func (h *Handlers) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)
	if err := h.db.Ping(r.Context()); err != nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeStorage, "database not ready")
		return
	}
	rw.Success(map[string]string{"status": "ready"})
}

// Health returns the operational snapshot: uptime, pipeline counters, live
// websocket clients and in-flight recordings.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)

	dbStatus := "up"
	if err := h.db.Ping(r.Context()); err != nil {
		dbStatus = "down"
	}

	stats := h.pipeline.Stats()
	rw.Success(map[string]interface{}{
		"status":         dbStatus,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"ingest": map[string]int64{
			"published":  stats.Published,
			"stored":     stats.Stored,
			"dropped":    stats.Dropped,
			"duplicates": stats.Duplicates,
		},
		"websocket_clients": h.hub.GetClientCount(),
		"active_recordings": h.relay.ActiveSessions(),
	})
}
