// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

// Package websocket pushes live capture activity to dashboard clients:
// incoming events as they clear ingestion, recording lifecycle changes and
// periodic stats refreshes.
package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopsight/shopsight/internal/logging"
	"github.com/shopsight/shopsight/internal/metrics"
	"github.com/shopsight/shopsight/internal/models"
)

// Message types pushed to dashboard clients.
const (
	MessageTypeLiveEvent        = "live_event"
	MessageTypeRecordingStarted = "recording_started"
	MessageTypeRecordingStopped = "recording_stopped"
	MessageTypeStatsUpdate      = "stats_update"
	MessageTypePing             = "ping"
	MessageTypePong             = "pong"
)

// Message is the envelope for every hub broadcast.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active dashboard clients and fans broadcasts out
// to them. Lifecycle events take priority over broadcasts so the client set
// is consistent before any message is delivered; broadcasts go out in
// client-id order to keep delivery deterministic.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a hub. Run it under the supervisor via RunWithContext.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext runs the hub loop until the context is canceled, then
// closes every client and returns ctx.Err() so the supervisor can restart
// the hub without orphaned connections.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		// Lifecycle first: a registration racing a broadcast must win.
		select {
		case client := <-h.Register:
			h.add(client)
			continue
		case client := <-h.Unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Inc()
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		metrics.WSConnections.Dec()
	}
	total := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

func (h *Hub) shutdown(ctx context.Context) {
	closed := h.closeAllClients()
	reason := "context_canceled"
	if ctx.Err() == context.DeadlineExceeded {
		reason = "context_deadline"
	}
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", reason).
		Int("clients_closed", closed).
		Msg("websocket hub stopped")
}

// broadcastToClients delivers one message to every client in id order. A
// client whose send buffer is full is dropped; a stalled dashboard must not
// stall the hub.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
			metrics.WSMessagesSent.WithLabelValues(message.Type).Inc()
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		metrics.WSConnections.Dec()
		metrics.WSErrors.WithLabelValues("slow_client").Inc()
		logging.Warn().Uint64("client_id", client.id).Msg("dropped slow websocket client")
	}
}

func (h *Hub) closeAllClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
		metrics.WSConnections.Dec()
	}
	return len(clients)
}

// enqueue offers a message to the broadcast channel without blocking.
func (h *Hub) enqueue(message Message) {
	select {
	case h.broadcast <- message:
	default:
		metrics.WSErrors.WithLabelValues("broadcast_full").Inc()
		logging.Warn().Str("message_type", message.Type).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastLiveEvent pushes one ingested event to the live dashboard feed.
func (h *Hub) BroadcastLiveEvent(e *models.Event) {
	h.enqueue(Message{Type: MessageTypeLiveEvent, Data: e})
}

// RecordingStatusData accompanies recording_started and recording_stopped.
type RecordingStatusData struct {
	SessionID  string `json:"session_id"`
	ProjectID  string `json:"project_id,omitempty"`
	Timestamp  string `json:"timestamp"`
	FrameCount int64  `json:"frame_count,omitempty"`
}

// BroadcastRecordingStarted notifies clients a session began recording.
func (h *Hub) BroadcastRecordingStarted(sessionID, projectID string) {
	h.enqueue(Message{
		Type: MessageTypeRecordingStarted,
		Data: RecordingStatusData{
			SessionID: sessionID,
			ProjectID: projectID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// BroadcastRecordingStopped notifies clients a recording was finalized.
func (h *Hub) BroadcastRecordingStopped(sessionID string, frameCount int64) {
	h.enqueue(Message{
		Type: MessageTypeRecordingStopped,
		Data: RecordingStatusData{
			SessionID:  sessionID,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			FrameCount: frameCount,
		},
	})
}

// StatsUpdateData accompanies stats_update.
type StatsUpdateData struct {
	Timestamp      string `json:"timestamp"`
	EventsReceived int64  `json:"events_received"`
	EventsStored   int64  `json:"events_stored"`
	EventsDropped  int64  `json:"events_dropped"`
}

// BroadcastStatsUpdate pushes refreshed ingestion counters to clients.
func (h *Hub) BroadcastStatsUpdate(received, stored, dropped int64) {
	h.enqueue(Message{
		Type: MessageTypeStatsUpdate,
		Data: StatsUpdateData{
			Timestamp:      time.Now().UTC().Format(time.RFC3339),
			EventsReceived: received,
			EventsStored:   stored,
			EventsDropped:  dropped,
		},
	})
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
