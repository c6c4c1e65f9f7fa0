// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopsight/shopsight/internal/models"
)

// fakeSender records delivered batches and can fail the first N sends.
type fakeSender struct {
	mu       sync.Mutex
	batches  []models.EventBatch
	beacons  []models.EventBatch
	perf     []models.PerformanceSample
	failNext int
	fails    int
}

func (s *fakeSender) SendBatch(_ context.Context, batch models.EventBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		s.fails++
		return errors.New("collector unreachable")
	}
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeSender) SendBeacon(batch models.EventBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beacons = append(s.beacons, batch)
}

func (s *fakeSender) SendPerformance(_ context.Context, samples []models.PerformanceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perf = append(s.perf, samples...)
	return nil
}

func (s *fakeSender) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *fakeSender) failCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fails
}

func (s *fakeSender) allEvents() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []models.Event
	for _, b := range s.batches {
		events = append(events, b.Interactions...)
	}
	return events
}

// waitFor polls until cond holds; threshold flushes run in the background.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testCaptureConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 3
	cfg.FlushInterval = time.Hour // interval flush disabled unless a test wants it
	cfg.ScrollThrottle = 50 * time.Millisecond
	cfg.MoveThrottle = 20 * time.Millisecond
	cfg.DwellThreshold = 30 * time.Millisecond
	cfg.MaxBuffered = 10
	cfg.MaxRetryAttempts = 2
	return cfg
}

func TestBatchSizeTriggersFlush(t *testing.T) {
	sender := &fakeSender{}
	c := Init(testCaptureConfig(), sender)
	defer c.Destroy()

	c.Track(models.EventPageView, Options{PageURL: "/a"})
	c.Track(models.EventClick, Options{PageURL: "/a", ElementSelector: "#x"})
	if sender.batchCount() != 0 {
		t.Fatal("must not flush below batch size")
	}

	c.Track(models.EventPageView, Options{PageURL: "/b"})
	waitFor(t, "threshold flush", func() bool { return sender.batchCount() == 1 })

	sender.mu.Lock()
	got := len(sender.batches[0].Interactions)
	sender.mu.Unlock()
	if got != 3 {
		t.Errorf("expected 3 events in batch, got %d", got)
	}
}

func TestTrackDoesNotBlockOnThresholdFlush(t *testing.T) {
	sender := &slowSender{delay: 400 * time.Millisecond}
	c := Init(testCaptureConfig(), sender)
	defer c.Destroy()

	c.Track(models.EventPageView, Options{PageURL: "/a"})
	c.Track(models.EventClick, Options{PageURL: "/a"})

	start := time.Now()
	c.Track(models.EventPageView, Options{PageURL: "/b"}) // hits the threshold
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Track blocked on delivery for %s", elapsed)
	}

	waitFor(t, "slow delivery", func() bool { return sender.batchCount() == 1 })
}

// slowSender stalls deliveries to expose callers that wait on them.
type slowSender struct {
	fakeSender
	delay time.Duration
}

func (s *slowSender) SendBatch(ctx context.Context, batch models.EventBatch) error {
	time.Sleep(s.delay)
	return s.fakeSender.SendBatch(ctx, batch)
}

func TestFailedBatchRequeuedInOrder(t *testing.T) {
	sender := &fakeSender{failNext: 1}
	cfg := testCaptureConfig()
	cfg.MaxRetryAttempts = 5
	c := Init(cfg, sender)
	defer c.Destroy()

	c.Track(models.EventPageView, Options{EventName: "first"})
	c.Track(models.EventClick, Options{EventName: "second"})
	c.Track(models.EventClick, Options{EventName: "third"}) // triggers failing flush

	waitFor(t, "failed flush", func() bool { return sender.failCount() == 1 })
	waitFor(t, "requeue", func() bool { return c.queue.length() == 3 })
	if sender.batchCount() != 0 {
		t.Fatal("first flush should have failed")
	}

	// Wait out the backoff hold-off, then retry.
	time.Sleep(800 * time.Millisecond)
	c.Flush(context.Background())

	events := sender.allEvents()
	if len(events) != 3 {
		t.Fatalf("expected 3 delivered events, got %d", len(events))
	}
	names := []string{events[0].EventName, events[1].EventName, events[2].EventName}
	want := []string{"first", "second", "third"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("order not preserved after requeue: %v", names)
		}
	}
}

func TestBatchDroppedAfterRetryBudget(t *testing.T) {
	sender := &fakeSender{failNext: 10}
	cfg := testCaptureConfig()
	cfg.MaxRetryAttempts = 2
	c := Init(cfg, sender)
	defer c.Destroy()

	c.Track(models.EventPageView, Options{})
	c.Track(models.EventClick, Options{})
	c.Track(models.EventClick, Options{}) // flush #1 fails, attempts=1

	waitFor(t, "first failed flush", func() bool { return sender.failCount() == 1 })
	time.Sleep(800 * time.Millisecond)
	c.Flush(context.Background()) // flush #2 fails, attempts=2 -> dropped

	if got := c.queue.droppedCount(); got != 3 {
		t.Errorf("expected 3 dropped after budget, got %d", got)
	}
	if c.queue.length() != 0 {
		t.Errorf("expected empty queue, got %d", c.queue.length())
	}
}

func TestBufferOverflowDropsOldest(t *testing.T) {
	sender := &fakeSender{failNext: 1000}
	cfg := testCaptureConfig()
	cfg.BatchSize = 1000 // no size-triggered flush
	cfg.MaxBuffered = 3
	c := Init(cfg, sender)
	defer c.Destroy()

	for _, name := range []string{"a", "b", "c", "d"} {
		c.Track(models.EventClick, Options{EventName: name})
	}

	if c.queue.length() != 3 {
		t.Fatalf("expected bounded buffer of 3, got %d", c.queue.length())
	}
	if c.queue.droppedCount() != 1 {
		t.Errorf("expected 1 overflow drop, got %d", c.queue.droppedCount())
	}
}

func TestAdminSuppression(t *testing.T) {
	sender := &fakeSender{}
	cfg := testCaptureConfig()
	cfg.BatchSize = 100
	c := Init(cfg, sender)
	defer c.Destroy()

	c.Track(models.EventPageView, Options{PageURL: "/products"})
	c.Track(models.EventPageView, Options{PageURL: "/admin/orders"}) // suppressed by path
	if c.queue.length() != 1 {
		t.Fatalf("admin page event must be suppressed, queue=%d", c.queue.length())
	}

	// Suppression flag flips mid-session and is re-checked per event.
	c.SetSuppressed(true)
	c.Track(models.EventClick, Options{PageURL: "/products"})
	if c.queue.length() != 1 {
		t.Fatal("suppressed context must drop events")
	}

	c.SetSuppressed(false)
	c.Track(models.EventClick, Options{PageURL: "/products"})
	if c.queue.length() != 2 {
		t.Fatal("capture must resume after suppression lifts")
	}
}

func TestIdentifyAndSuperProps(t *testing.T) {
	sender := &fakeSender{}
	cfg := testCaptureConfig()
	cfg.BatchSize = 2
	c := Init(cfg, sender)
	defer c.Destroy()

	c.Track(models.EventPageView, Options{PageURL: "/"})

	c.Identify("alice")
	c.Register("plan", "premium")
	c.Track(models.EventClick, Options{PageURL: "/", Metadata: map[string]interface{}{"sku": "A-1"}})

	waitFor(t, "batch delivery", func() bool { return len(sender.allEvents()) == 2 })
	events := sender.allEvents()
	if events[0].UserID != models.AnonymousUserID {
		t.Errorf("pre-identify event must be anonymous, got %q", events[0].UserID)
	}
	if events[1].UserID != "alice" {
		t.Errorf("post-identify event must carry user, got %q", events[1].UserID)
	}
	if events[1].Metadata["plan"] != "premium" || events[1].Metadata["sku"] != "A-1" {
		t.Errorf("super props and metadata must merge: %v", events[1].Metadata)
	}
	if events[0].SessionID != c.SessionID() || events[1].SessionID != c.SessionID() {
		t.Error("all events must share the context session id")
	}
}

func TestScrollThrottle(t *testing.T) {
	sender := &fakeSender{}
	cfg := testCaptureConfig()
	cfg.BatchSize = 100
	c := Init(cfg, sender)
	defer c.Destroy()

	c.TrackScroll(Options{PageURL: "/"})
	c.TrackScroll(Options{PageURL: "/"}) // inside the window, discarded
	if c.queue.length() != 1 {
		t.Fatalf("expected 1 scroll after throttle, got %d", c.queue.length())
	}

	time.Sleep(60 * time.Millisecond)
	c.TrackScroll(Options{PageURL: "/"})
	if c.queue.length() != 2 {
		t.Fatalf("expected throttle window to reopen, got %d", c.queue.length())
	}
}

func TestHoverDwellThreshold(t *testing.T) {
	d := newDwellTracker(time.Second)
	base := time.Now()

	// 600ms dwell: under the 1s threshold, no event.
	d.enter("#product-1", base)
	if _, fired := d.leave("#product-1", base.Add(600*time.Millisecond)); fired {
		t.Error("600ms dwell must not fire with 1s threshold")
	}

	// 1200ms dwell fires with the measured duration.
	d.enter("#product-1", base)
	dwell, fired := d.leave("#product-1", base.Add(1200*time.Millisecond))
	if !fired {
		t.Fatal("1200ms dwell must fire with 1s threshold")
	}
	if dwell != 1200*time.Millisecond {
		t.Errorf("expected 1200ms dwell, got %s", dwell)
	}

	// Leave without enter is a no-op.
	if _, fired := d.leave("#never-entered", base); fired {
		t.Error("leave without enter must not fire")
	}
}

func TestHoverEndEmitsEvent(t *testing.T) {
	sender := &fakeSender{}
	cfg := testCaptureConfig()
	cfg.BatchSize = 100
	c := Init(cfg, sender)
	defer c.Destroy()

	c.HoverStart("#hero")
	time.Sleep(40 * time.Millisecond) // above the 30ms test threshold
	c.HoverEnd("#hero", Options{PageURL: "/"})

	if c.queue.length() != 1 {
		t.Fatalf("expected 1 hover event, got %d", c.queue.length())
	}

	c.HoverStart("#hero")
	c.HoverEnd("#hero", Options{PageURL: "/"}) // immediate leave, no dwell
	if c.queue.length() != 1 {
		t.Error("sub-threshold hover must not emit")
	}
}

func TestListenerPanicIsolated(t *testing.T) {
	sender := &fakeSender{}
	cfg := testCaptureConfig()
	cfg.BatchSize = 100
	c := Init(cfg, sender)
	defer c.Destroy()

	c.Subscribe(models.EventClick, func(_ *models.Event) { panic("listener bug") })
	var seen int
	c.Subscribe(models.EventClick, func(_ *models.Event) { seen++ })

	c.Track(models.EventClick, Options{PageURL: "/"})

	if seen != 1 {
		t.Error("second listener must still run after a panic")
	}
	if c.queue.length() != 1 {
		t.Error("event must still be captured after a listener panic")
	}
}

func TestDestroyBeaconsRemainder(t *testing.T) {
	sender := &fakeSender{}
	cfg := testCaptureConfig()
	cfg.BatchSize = 100
	c := Init(cfg, sender)

	c.Track(models.EventPageView, Options{PageURL: "/"})
	c.Track(models.EventClick, Options{PageURL: "/"})
	c.Destroy()

	sender.mu.Lock()
	beacons := len(sender.beacons)
	var beaconed int
	if beacons > 0 {
		beaconed = len(sender.beacons[0].Interactions)
	}
	sender.mu.Unlock()

	if beacons != 1 || beaconed != 2 {
		t.Fatalf("expected one beacon with 2 events, got %d beacons", beacons)
	}

	// Tracking after destroy is a silent no-op; Destroy is idempotent.
	c.Track(models.EventClick, Options{PageURL: "/"})
	c.Destroy()
}
