// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

// Package replay buffers opaque session-replay frames between the ingestion
// surface and the recording store. Frame payloads are never interpreted
// beyond a shallow peek at their type tag for the stat counters.
package replay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/shopsight/shopsight/internal/logging"
	"github.com/shopsight/shopsight/internal/metrics"
	"github.com/shopsight/shopsight/internal/models"
)

// Recorder persists flushed frame batches. Implemented by *database.DB.
type Recorder interface {
	AppendFrames(ctx context.Context, sessionID, projectID string, frames []models.Frame, stats models.RecordingStats) error
	CloseRecording(ctx context.Context, sessionID string, endTime time.Time) error
}

const (
	// DefaultFlushInterval bounds how stale a buffered frame can get.
	DefaultFlushInterval = 400 * time.Millisecond

	// DefaultMaxFrames triggers an early flush for busy recordings.
	DefaultMaxFrames = 50

	// retainLimit caps a session buffer while the store is failing. Beyond
	// it the oldest frames are dropped; a replay with a gap still plays.
	retainLimit = DefaultMaxFrames * 4
)

// Relay accumulates frames per session and flushes each buffer when it
// reaches DefaultMaxFrames or on the flush interval, whichever comes first.
// A session buffer survives client reconnects: frames for a session id the
// relay already tracks simply continue the same recording.
type Relay struct {
	rec      Recorder
	interval time.Duration
	maxBuf   int

	mu       sync.Mutex
	sessions map[string]*sessionBuffer

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type sessionBuffer struct {
	projectID string
	frames    []models.Frame
	stats     models.RecordingStats
}

// New creates and starts a relay flushing into rec.
func New(rec Recorder) *Relay {
	r := &Relay{
		rec:      rec,
		interval: DefaultFlushInterval,
		maxBuf:   DefaultMaxFrames,
		sessions: make(map[string]*sessionBuffer),
		stopCh:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Relay) run() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.FlushAll(context.Background())
		}
	}
}

// framePeek is the only structure the relay reads out of a frame payload.
type framePeek struct {
	Type string `json:"type"`
}

// classify updates the running stat counters for one frame. Unknown or
// unparseable payloads still count as events.
func classify(f models.Frame, stats *models.RecordingStats) {
	stats.Events++

	var peek framePeek
	if err := json.Unmarshal(f.Data, &peek); err != nil {
		return
	}
	switch strings.ToLower(peek.Type) {
	case "click":
		stats.Clicks++
	case "scroll":
		stats.Scrolls++
	case "mousemove", "move":
		stats.Moves++
	}
}

// Record buffers a batch of frames for a session, flushing early when the
// buffer reaches the frame threshold.
func (r *Relay) Record(ctx context.Context, sessionID, projectID string, frames []models.Frame) {
	if sessionID == "" || len(frames) == 0 {
		return
	}
	metrics.RecordingFramesReceived.Add(float64(len(frames)))

	r.mu.Lock()
	buf, ok := r.sessions[sessionID]
	if !ok {
		buf = &sessionBuffer{projectID: projectID}
		r.sessions[sessionID] = buf
		metrics.RecordingsActive.Inc()
	}
	for _, f := range frames {
		classify(f, &buf.stats)
	}
	buf.frames = append(buf.frames, frames...)
	full := len(buf.frames) >= r.maxBuf
	r.mu.Unlock()

	if full {
		r.flushSession(ctx, sessionID)
	}
}

// take detaches a session's pending frames and stats under the lock.
func (r *Relay) take(sessionID string) (string, []models.Frame, models.RecordingStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.sessions[sessionID]
	if !ok || len(buf.frames) == 0 {
		return "", nil, models.RecordingStats{}
	}
	frames := buf.frames
	stats := buf.stats
	buf.frames = nil
	buf.stats = models.RecordingStats{}
	return buf.projectID, frames, stats
}

func (r *Relay) flushSession(ctx context.Context, sessionID string) {
	projectID, frames, stats := r.take(sessionID)
	if len(frames) == 0 {
		return
	}

	if err := r.rec.AppendFrames(ctx, sessionID, projectID, frames, stats); err != nil {
		logging.Error().Err(err).
			Str("session_id", sessionID).
			Int("frames", len(frames)).
			Msg("Failed to persist recording frames, retaining buffer")
		r.retain(sessionID, frames, stats)
	}
}

// retain puts failed frames back at the front of the buffer so the next
// flush retries them in order, trimming the oldest past the retain limit.
func (r *Relay) retain(sessionID string, frames []models.Frame, stats models.RecordingStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.sessions[sessionID]
	if !ok {
		// The session was stopped while the flush was failing; drop.
		return
	}
	buf.frames = append(frames, buf.frames...)
	buf.stats.Events += stats.Events
	buf.stats.Clicks += stats.Clicks
	buf.stats.Scrolls += stats.Scrolls
	buf.stats.Moves += stats.Moves
	if over := len(buf.frames) - retainLimit; over > 0 {
		buf.frames = buf.frames[over:]
	}
}

// FlushAll flushes every session with pending frames.
func (r *Relay) FlushAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id, buf := range r.sessions {
		if len(buf.frames) > 0 {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.flushSession(ctx, id)
	}
}

// Stop flushes a session's remaining frames, finalizes the recording and
// releases the buffer. Stopping an unknown session still closes the stored
// recording; stop signals arrive from both explicit stops and page exits.
func (r *Relay) Stop(ctx context.Context, sessionID string, endTime time.Time) error {
	r.flushSession(ctx, sessionID)

	r.mu.Lock()
	if _, ok := r.sessions[sessionID]; ok {
		delete(r.sessions, sessionID)
		metrics.RecordingsActive.Dec()
	}
	r.mu.Unlock()

	return r.rec.CloseRecording(ctx, sessionID, endTime)
}

// ActiveSessions returns how many recordings currently hold a buffer.
func (r *Relay) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops the flusher and drains every remaining buffer. Recordings are
// left open; an interrupted server must not fake end times.
func (r *Relay) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.FlushAll(ctx)
}
