// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package capture

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shopsight/shopsight/internal/logging"
	"github.com/shopsight/shopsight/internal/models"
)

// Listener observes captured events before they are queued. Listeners are
// for embedders (heatmap overlays, debugging); a panicking listener is
// isolated and logged, it never breaks capture.
type Listener func(e *models.Event)

// registry holds per-event-type listeners.
type registry struct {
	mu       sync.RWMutex
	handlers map[models.EventType][]Listener
}

func newRegistry() *registry {
	return &registry{handlers: make(map[models.EventType][]Listener)}
}

func (r *registry) register(t models.EventType, l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = append(r.handlers[t], l)
}

// dispatch notifies listeners for the event's type, isolating panics.
func (r *registry) dispatch(e *models.Event) {
	r.mu.RLock()
	listeners := r.handlers[e.EventType]
	r.mu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logging.Warn().
						Interface("panic", rec).
						Str("event_type", string(e.EventType)).
						Msg("Capture listener panicked")
				}
			}()
			l(e)
		}()
	}
}

// throttle admits at most one event per window. Scroll and mousemove fire
// far faster than they are worth recording; the first event in each window
// passes, the rest are discarded.
type throttle struct {
	lim *rate.Limiter
}

func newThrottle(window time.Duration) *throttle {
	return &throttle{lim: rate.NewLimiter(rate.Every(window), 1)}
}

func (t *throttle) allow() bool {
	return t.lim.Allow()
}

// dwellTracker turns enter/leave pairs into hover events. A hover only
// counts when the pointer stayed on the element for at least threshold;
// quick passes produce nothing.
type dwellTracker struct {
	mu        sync.Mutex
	threshold time.Duration
	entered   map[string]time.Time
}

func newDwellTracker(threshold time.Duration) *dwellTracker {
	return &dwellTracker{
		threshold: threshold,
		entered:   make(map[string]time.Time),
	}
}

// enter records the pointer arriving on an element.
func (d *dwellTracker) enter(selector string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entered[selector] = at
}

// leave records the pointer leaving. Returns the dwell duration and whether
// it met the threshold.
func (d *dwellTracker) leave(selector string, at time.Time) (time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start, ok := d.entered[selector]
	if !ok {
		return 0, false
	}
	delete(d.entered, selector)

	dwell := at.Sub(start)
	return dwell, dwell >= d.threshold
}
