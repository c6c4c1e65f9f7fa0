// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

// Package capture is the client-side telemetry SDK embedded in storefront
// applications. It batches interaction events toward the collection API,
// throttles high-frequency signals, detects hover dwell, instruments the
// app's own HTTP calls, and suppresses capture on admin surfaces.
//
// Capture is strictly best-effort: no method returns an error to the
// caller, and no failure in this package may ever disturb the shopper.
package capture

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shopsight/shopsight/internal/models"
)

// Config carries the capture tuning, usually fetched from the collector's
// remote-config endpoint so operators can tune deployed storefronts.
type Config struct {
	BatchSize        int
	FlushInterval    time.Duration
	ScrollThrottle   time.Duration
	MoveThrottle     time.Duration
	DwellThreshold   time.Duration
	MaxBuffered      int
	MaxRetryAttempts int

	// AdminPathPrefix marks pages where capture is suppressed; staff
	// browsing the admin panel must not pollute shopper analytics.
	AdminPathPrefix string

	ProjectID string
}

// DefaultConfig mirrors the collector's shipped defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:        20,
		FlushInterval:    5 * time.Second,
		ScrollThrottle:   500 * time.Millisecond,
		MoveThrottle:     100 * time.Millisecond,
		DwellThreshold:   time.Second,
		MaxBuffered:      1000,
		MaxRetryAttempts: 5,
		AdminPathPrefix:  "/admin",
	}
}

// Capture is one capture context: one session, one queue, one sender.
type Capture struct {
	cfg    Config
	sender Sender

	sessionID string

	mu         sync.RWMutex
	userID     string
	superProps map[string]interface{}
	device     models.DeviceInfo
	suppressed bool
	destroyed  bool

	queue    *queue
	registry *registry
	scroll   *throttle
	move     *throttle
	dwell    *dwellTracker

	perfMu  sync.Mutex
	perfBuf []models.PerformanceSample
}

// Init creates and starts a capture context with a fresh session id.
func Init(cfg Config, sender Sender) *Capture {
	c := &Capture{
		cfg:        cfg,
		sender:     sender,
		sessionID:  uuid.New().String(),
		userID:     models.AnonymousUserID,
		superProps: make(map[string]interface{}),
		registry:   newRegistry(),
		scroll:     newThrottle(cfg.ScrollThrottle),
		move:       newThrottle(cfg.MoveThrottle),
		dwell:      newDwellTracker(cfg.DwellThreshold),
	}
	c.queue = newQueue(cfg.BatchSize, cfg.FlushInterval, cfg.MaxBuffered, cfg.MaxRetryAttempts, c.sendBatch)
	c.queue.start()
	return c
}

// SessionID returns the context's session id.
func (c *Capture) SessionID() string {
	return c.sessionID
}

// Identify attaches a user id to the session. Later events carry it; the
// server folds it back onto the session document.
func (c *Capture) Identify(userID string) {
	if userID == "" {
		return
	}
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// Register sets a super property stamped onto every subsequent event's
// metadata. An empty value removes the property.
func (c *Capture) Register(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == nil {
		delete(c.superProps, key)
		return
	}
	c.superProps[key] = value
}

// SetDevice records the device snapshot attached to every event.
func (c *Capture) SetDevice(d models.DeviceInfo) {
	c.mu.Lock()
	c.device = d
	c.mu.Unlock()
}

// SetSuppressed toggles admin suppression explicitly (e.g. after the
// embedder authenticates a staff user).
func (c *Capture) SetSuppressed(suppressed bool) {
	c.mu.Lock()
	c.suppressed = suppressed
	c.mu.Unlock()
}

// Subscribe registers a listener for one event type.
func (c *Capture) Subscribe(t models.EventType, l Listener) {
	c.registry.register(t, l)
}

// suppressedFor re-evaluates suppression for every single event: the flag
// may flip mid-session when staff navigates into the admin panel.
func (c *Capture) suppressedFor(pageURL string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.destroyed || c.suppressed {
		return true
	}
	return c.cfg.AdminPathPrefix != "" && strings.HasPrefix(pageURL, c.cfg.AdminPathPrefix)
}

// Options carries the per-event fields of a capture call.
type Options struct {
	EventName       string
	PageURL         string
	Referrer        string
	ElementSelector string
	Metadata        map[string]interface{}
}

// Track captures one event. Suppressed, invalid or overflowing events are
// dropped silently.
func (c *Capture) Track(t models.EventType, opts Options) {
	if !models.ValidEventType(t) {
		return
	}
	if c.suppressedFor(opts.PageURL) {
		return
	}
	c.emit(t, opts)
}

// TrackScroll captures a scroll event, throttled to one per window.
func (c *Capture) TrackScroll(opts Options) {
	if c.suppressedFor(opts.PageURL) {
		return
	}
	if !c.scroll.allow() {
		return
	}
	c.emit(models.EventScroll, opts)
}

// TrackMouseMove captures a pointer move, throttled to one per window.
// Move samples feed heatmaps; they are the highest-volume signal by far.
func (c *Capture) TrackMouseMove(opts Options) {
	if c.suppressedFor(opts.PageURL) {
		return
	}
	if !c.move.allow() {
		return
	}
	c.emit(models.EventCustom, Options{
		EventName:       "mousemove",
		PageURL:         opts.PageURL,
		ElementSelector: opts.ElementSelector,
		Metadata:        opts.Metadata,
	})
}

// HoverStart marks the pointer entering an element.
func (c *Capture) HoverStart(selector string) {
	c.dwell.enter(selector, time.Now())
}

// HoverEnd marks the pointer leaving. A hover event is emitted only when
// the dwell met the configured threshold.
func (c *Capture) HoverEnd(selector string, opts Options) {
	dwell, fired := c.dwell.leave(selector, time.Now())
	if !fired {
		return
	}
	if c.suppressedFor(opts.PageURL) {
		return
	}

	md := make(map[string]interface{}, len(opts.Metadata)+1)
	for k, v := range opts.Metadata {
		md[k] = v
	}
	md["dwell_ms"] = dwell.Milliseconds()
	c.emit(models.EventHover, Options{
		PageURL:         opts.PageURL,
		ElementSelector: selector,
		Metadata:        md,
	})
}

// emit builds the event, stamps identity and super properties, notifies
// listeners and enqueues it.
func (c *Capture) emit(t models.EventType, opts Options) {
	e := models.NewEvent(c.sessionID, t)

	c.mu.RLock()
	e.UserID = c.userID
	e.ProjectID = c.cfg.ProjectID
	e.Device = c.device
	if len(c.superProps) > 0 {
		if e.Metadata == nil {
			e.Metadata = make(map[string]interface{}, len(c.superProps)+len(opts.Metadata))
		}
		for k, v := range c.superProps {
			e.Metadata[k] = v
		}
	}
	c.mu.RUnlock()

	e.EventName = opts.EventName
	e.PageURL = opts.PageURL
	e.Referrer = opts.Referrer
	e.ElementSelector = opts.ElementSelector
	for k, v := range opts.Metadata {
		if e.Metadata == nil {
			e.Metadata = make(map[string]interface{}, len(opts.Metadata))
		}
		e.Metadata[k] = v
	}

	c.registry.dispatch(e)
	c.queue.enqueue(*e)
}

// sendBatch is the queue's delivery callback.
func (c *Capture) sendBatch(ctx context.Context, items []queuedEvent) error {
	batch := c.toBatch(items)
	return c.sender.SendBatch(ctx, batch)
}

func (c *Capture) toBatch(items []queuedEvent) models.EventBatch {
	c.mu.RLock()
	userID := c.userID
	c.mu.RUnlock()

	events := make([]models.Event, 0, len(items))
	for _, item := range items {
		if e, ok := item.payload.(models.Event); ok {
			events = append(events, e)
		}
	}
	return models.EventBatch{
		SessionID:    c.sessionID,
		UserID:       userID,
		ProjectID:    c.cfg.ProjectID,
		Interactions: events,
	}
}

// RecordPerformance buffers one network telemetry sample. Wire this as the
// observer of an InstrumentedClient. A full buffer drains in the
// background; the instrumented call path never waits on telemetry.
func (c *Capture) RecordPerformance(sample models.PerformanceSample) {
	c.perfMu.Lock()
	c.perfBuf = append(c.perfBuf, sample)
	full := len(c.perfBuf) >= c.cfg.BatchSize
	var batch []models.PerformanceSample
	if full {
		batch = c.perfBuf
		c.perfBuf = nil
	}
	c.perfMu.Unlock()

	if full {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.sender.SendPerformance(ctx, batch) // best effort
		}()
	}
}

// Flush forces delivery of everything buffered right now.
func (c *Capture) Flush(ctx context.Context) {
	c.queue.flush(ctx)

	c.perfMu.Lock()
	batch := c.perfBuf
	c.perfBuf = nil
	c.perfMu.Unlock()
	if len(batch) > 0 {
		_ = c.sender.SendPerformance(ctx, batch)
	}
}

// Destroy stops the context and beacons out whatever is still buffered.
// Further Track calls are suppressed. Safe to call more than once.
func (c *Capture) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.mu.Unlock()

	remaining := c.queue.stop()
	if len(remaining) > 0 {
		c.sender.SendBeacon(c.toBatch(remaining))
	}

	c.perfMu.Lock()
	batch := c.perfBuf
	c.perfBuf = nil
	c.perfMu.Unlock()
	if len(batch) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.sender.SendPerformance(ctx, batch)
	}
}
