package store

import (
	"context"
	"sync"
	"time"

	"github.com/hackload/paymentcore/core"
)

// InMemoryPaymentStore is a process-local PaymentStore, grounded on the
// same conditional-write discipline the redis-backed adapter uses.
// Intended for tests and for running the composition root without an
// external database.
type InMemoryPaymentStore struct {
	mu       sync.Mutex
	payments map[string]*Payment
}

// NewInMemoryPaymentStore creates an empty store.
func NewInMemoryPaymentStore() *InMemoryPaymentStore {
	return &InMemoryPaymentStore{payments: make(map[string]*Payment)}
}

func (s *InMemoryPaymentStore) GetByID(_ context.Context, id string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryPaymentStore) Create(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[p.ID]; exists {
		return core.ErrConflict
	}
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *InMemoryPaymentStore) UpdateStatus(_ context.Context, id, expectedStatus, newStatus string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return core.ErrNotFound
	}
	if p.Status != expectedStatus {
		return core.ErrConflict
	}
	p.Status = newStatus
	p.UpdatedAt = updatedAt
	return nil
}

// InMemoryTeamStore is a process-local, read-mostly TeamStore.
type InMemoryTeamStore struct {
	mu    sync.RWMutex
	teams map[string]*Team
}

// NewInMemoryTeamStore seeds a store from the given teams, keyed by slug.
func NewInMemoryTeamStore(teams ...*Team) *InMemoryTeamStore {
	s := &InMemoryTeamStore{teams: make(map[string]*Team)}
	for _, t := range teams {
		cp := *t
		s.teams[t.Slug] = &cp
	}
	return s
}

func (s *InMemoryTeamStore) GetBySlug(_ context.Context, slug string) (*Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.teams[slug]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// Put inserts or replaces a team record; used by tests to adjust a
// team's active/locked flags mid-run.
func (s *InMemoryTeamStore) Put(t *Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.teams[t.Slug] = &cp
}

// InMemoryReplayStore tracks nonce and fingerprint usage with explicit
// expiry, grounded on core.MemoryStore's TTL-entry pattern.
type InMemoryReplayStore struct {
	mu      sync.Mutex
	nonces  map[string]time.Time
	fprints map[string]time.Time
	now     func() time.Time
}

// NewInMemoryReplayStore creates an empty replay store using time.Now.
func NewInMemoryReplayStore() *InMemoryReplayStore {
	return &InMemoryReplayStore{
		nonces:  make(map[string]time.Time),
		fprints: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *InMemoryReplayStore) SeenNonce(_ context.Context, slug, nonce string, ttl time.Duration) (bool, error) {
	return s.seen(s.nonces, slug+"|"+nonce, ttl)
}

func (s *InMemoryReplayStore) SeenFingerprint(_ context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	return s.seen(s.fprints, fingerprint, ttl)
}

func (s *InMemoryReplayStore) seen(bucket map[string]time.Time, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiresAt, ok := bucket[key]; ok && now.Before(expiresAt) {
		return true, nil
	}
	bucket[key] = now.Add(ttl)
	return false, nil
}

// InMemoryLockoutStore tracks per-team rolling failure counts, block
// expiry, and the parallel IP counter, all sliding-window based.
type InMemoryLockoutStore struct {
	mu         sync.Mutex
	failures   map[string][]time.Time
	blocked    map[string]time.Time
	ipCounter  map[string][]time.Time
	blockCount map[string]int
	now        func() time.Time
}

// NewInMemoryLockoutStore creates an empty lockout store using time.Now.
func NewInMemoryLockoutStore() *InMemoryLockoutStore {
	return &InMemoryLockoutStore{
		failures:   make(map[string][]time.Time),
		blocked:    make(map[string]time.Time),
		ipCounter:  make(map[string][]time.Time),
		blockCount: make(map[string]int),
		now:        time.Now,
	}
}

func (s *InMemoryLockoutStore) IncrementBlockCount(_ context.Context, slug string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockCount[slug]++
	return s.blockCount[slug], nil
}

// ExpireAllBlocksForTest clears every active block, standing in for the
// passage of time past block expiry without an actual sleep.
func (s *InMemoryLockoutStore) ExpireAllBlocksForTest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for slug := range s.blocked {
		delete(s.blocked, slug)
	}
}

func (s *InMemoryLockoutStore) RecordFailure(_ context.Context, slug string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)
	kept := pruneBefore(s.failures[slug], cutoff)
	kept = append(kept, now)
	s.failures[slug] = kept
	return len(kept), nil
}

func (s *InMemoryLockoutStore) Reset(_ context.Context, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, slug)
	delete(s.blocked, slug)
	return nil
}

func (s *InMemoryLockoutStore) Block(_ context.Context, slug string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[slug] = until
	return nil
}

func (s *InMemoryLockoutStore) BlockedUntil(_ context.Context, slug string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.blocked[slug]
	if !ok || s.now().After(until) {
		return time.Time{}, nil
	}
	return until, nil
}

func (s *InMemoryLockoutStore) RecordIPAttempt(_ context.Context, ip string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)
	kept := pruneBefore(s.ipCounter[ip], cutoff)
	kept = append(kept, now)
	s.ipCounter[ip] = kept
	return len(kept), nil
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// InMemoryAttemptStore records authentication attempts for inspection
// in tests.
type InMemoryAttemptStore struct {
	mu       sync.Mutex
	attempts []AuthAttempt
}

// NewInMemoryAttemptStore creates an empty attempt store.
func NewInMemoryAttemptStore() *InMemoryAttemptStore {
	return &InMemoryAttemptStore{}
}

func (s *InMemoryAttemptStore) Record(_ context.Context, attempt AuthAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

// All returns a copy of every recorded attempt, in recording order.
func (s *InMemoryAttemptStore) All() []AuthAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuthAttempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}
