// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

// Package dedupe implements receiver-side idempotency for the ingest
// pipeline. Delivery is at-least-once (the capture SDK re-queues failed
// batches), so every event carries a client-generated idempotency key and
// the receiver drops keys it has already seen inside the TTL window.
//
// Seen keys are a duplicate-delivery signal, not an error: CheckAndStore
// reports them as a boolean and the pipeline skips the event silently.
package dedupe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/shopsight/shopsight/internal/logging"
	"github.com/shopsight/shopsight/internal/metrics"
)

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = errors.New("dedupe store is closed")

// Store is the idempotency-key tracker interface.
type Store interface {
	// CheckAndStore atomically records key and reports whether it is new.
	// A false return means the key was already seen inside the TTL window.
	CheckAndStore(ctx context.Context, key string) (bool, error)

	// Close releases resources.
	Close() error
}

// MemoryStore is an in-memory tracker. Keys are lost on restart, which only
// widens the duplicate window; storage-level primary keys still backstop.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	expires map[string]time.Time
	closed  bool
}

// NewMemoryStore creates an in-memory tracker with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		expires: make(map[string]time.Time),
	}
}

// CheckAndStore atomically checks and records an idempotency key.
func (s *MemoryStore) CheckAndStore(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	now := time.Now()
	if expiry, ok := s.expires[key]; ok && now.Before(expiry) {
		metrics.IngestEventsDeduplicated.Inc()
		return false, nil
	}

	s.expires[key] = now.Add(s.ttl)

	// Opportunistic cleanup keeps the map bounded without a sweeper
	// goroutine; one expired entry is reclaimed per insert on average.
	for k, expiry := range s.expires {
		if now.After(expiry) {
			delete(s.expires, k)
		}
		break
	}

	return true, nil
}

// Close closes the tracker.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.expires = nil
	return nil
}

// BadgerStore is a BadgerDB-backed tracker for production use. Entries carry
// a TTL so Badger's own garbage collection reclaims them.
type BadgerStore struct {
	db     *badger.DB
	ttl    time.Duration
	prefix []byte
	mu     sync.RWMutex
	closed bool
}

// Open opens a Badger-backed store at path; an empty path opens Badger
// in-memory, which keeps the dedupe window per-process.
func Open(path string, ttl time.Duration) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{
		db:     db,
		ttl:    ttl,
		prefix: []byte("idem:"),
	}, nil
}

func (s *BadgerStore) makeKey(key string) []byte {
	return append(s.prefix, []byte(key)...)
}

// CheckAndStore atomically checks and records an idempotency key.
func (s *BadgerStore) CheckAndStore(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return false, ErrStoreClosed
	}
	s.mu.RUnlock()

	k := s.makeKey(key)
	fresh := false

	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		if err == nil {
			return nil // seen inside the TTL window
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		fresh = true
		e := badger.NewEntry(k, []byte{1}).WithTTL(s.ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		return false, err
	}

	if !fresh {
		metrics.IngestEventsDeduplicated.Inc()
	}
	return fresh, nil
}

// Close closes the underlying Badger database.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close dedupe store")
		return err
	}
	return nil
}
