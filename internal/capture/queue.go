// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package capture

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shopsight/shopsight/internal/logging"
)

// sendFunc delivers one batch of queued items; an error requeues the batch.
type sendFunc func(ctx context.Context, items []queuedEvent) error

// queuedEvent pairs an event with its delivery attempt count.
type queuedEvent struct {
	index    int // original enqueue order, for stable re-insertion
	attempts int
	payload  interface{}
}

// queue is the bounded interaction buffer. A flush fires when the buffer
// reaches batchSize or when the flush interval elapses, whichever is first,
// and always sends the ENTIRE buffer in one request. Only one flush is in
// flight at a time; a failed batch returns to the FRONT of the queue with
// its order intact and is retried with exponential backoff until its
// attempt budget is spent, then dropped silently.
type queue struct {
	mu       sync.Mutex
	buf      []queuedEvent
	send     sendFunc
	nextSeq  int
	inFlight bool
	stopped  bool

	batchSize   int
	interval    time.Duration
	maxBuffered int
	maxAttempts int

	backoff  *backoff.ExponentialBackOff
	holdOff  time.Time // no sends before this instant after a failure
	dropped  int64
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newQueue(batchSize int, interval time.Duration, maxBuffered, maxAttempts int, send sendFunc) *queue {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second

	return &queue{
		buf:         make([]queuedEvent, 0, maxBuffered),
		send:        send,
		batchSize:   batchSize,
		interval:    interval,
		maxBuffered: maxBuffered,
		maxAttempts: maxAttempts,
		backoff:     bo,
		stopCh:      make(chan struct{}),
	}
}

// start runs the interval flusher.
func (q *queue) start() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.interval)
		defer ticker.Stop()
		for {
			select {
			case <-q.stopCh:
				return
			case <-ticker.C:
				q.flush(context.Background())
			}
		}
	}()
}

// stop ends the flusher, waits out any in-flight threshold flush and
// returns whatever is still buffered, in order.
func (q *queue) stop() []queuedEvent {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.mu.Unlock()
		close(q.stopCh)
	})
	q.wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	remaining := q.buf
	q.buf = nil
	return remaining
}

// enqueue appends an item and kicks off a background flush if the batch
// threshold is reached; the caller never waits on delivery. When the buffer
// is full the OLDEST item is dropped: recent interactions matter more than
// stale ones once delivery is already behind.
func (q *queue) enqueue(item interface{}) {
	q.mu.Lock()
	q.nextSeq++
	if len(q.buf) >= q.maxBuffered {
		q.buf = q.buf[1:]
		q.dropped++
		logging.Debug().Msg("Capture buffer full, dropped oldest event")
	}
	q.buf = append(q.buf, queuedEvent{index: q.nextSeq, payload: item})
	full := len(q.buf) >= q.batchSize
	q.mu.Unlock()

	if full {
		q.asyncFlush()
	}
}

// asyncFlush runs a flush on its own goroutine, tracked so stop() can wait
// for it. No-op once the queue is stopping.
func (q *queue) asyncFlush() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		q.flush(context.Background())
	}()
}

// flush sends the whole buffer in one request. Returns immediately when a
// flush is already in flight, the backoff window is open, or the queue is
// empty.
func (q *queue) flush(ctx context.Context) {
	q.mu.Lock()
	if q.inFlight || len(q.buf) == 0 || time.Now().Before(q.holdOff) {
		q.mu.Unlock()
		return
	}
	batch := make([]queuedEvent, len(q.buf))
	copy(batch, q.buf)
	q.buf = q.buf[:0]
	q.inFlight = true
	q.mu.Unlock()

	err := q.send(ctx, batch)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight = false

	if err == nil {
		q.backoff.Reset()
		q.holdOff = time.Time{}
		return
	}

	// Requeue at the front, preserving original order, minus items that
	// have exhausted their attempt budget.
	kept := batch[:0]
	for _, item := range batch {
		item.attempts++
		if item.attempts >= q.maxAttempts {
			q.dropped++
			continue
		}
		kept = append(kept, item)
	}
	if len(kept) > 0 {
		q.buf = append(append(make([]queuedEvent, 0, len(kept)+len(q.buf)), kept...), q.buf...)
	}
	q.holdOff = time.Now().Add(q.backoff.NextBackOff())
	logging.Debug().Err(err).Int("requeued", len(kept)).Msg("Capture flush failed, batch requeued")
}

// droppedCount returns how many events were discarded (buffer overflow or
// exhausted retries).
func (q *queue) droppedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// length returns the current buffer depth.
func (q *queue) length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
