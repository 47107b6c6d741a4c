// Package store defines the narrow collaborator interfaces the payment
// core consumes from an external, authoritative durable store: payment
// records, team records, replay/nonce bookkeeping, lockout counters, and
// authentication-attempt accounting. The core never assumes a specific
// backing technology; store/redisstore is one concrete adapter.
package store

import (
	"context"
	"time"
)

// Payment is the durable shape of a payment record as read from or
// written to the external store.
type Payment struct {
	ID                     string
	TeamSlug               string
	AmountMinor            int64
	Currency               string
	Status                 string
	IdempotencyFingerprint string
	NotificationURL        string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Team is the durable shape of a merchant team record. Secret is never
// serialized to logs or wire responses by any caller in this module;
// callers must route team data through core.SanitizingLogger rather than
// logging a Team value directly.
type Team struct {
	Slug         string
	Secret       string
	Active       bool
	Locked       bool
	CreatedAt    time.Time
	LastLoginAt  time.Time
}

// PaymentStore is the consumed contract over the durable payment
// repository. UpdateStatus is a conditional write: it succeeds only if
// the stored status still equals expectedStatus at write time.
type PaymentStore interface {
	GetByID(ctx context.Context, id string) (*Payment, error)
	UpdateStatus(ctx context.Context, id, expectedStatus, newStatus string, updatedAt time.Time) error
	Create(ctx context.Context, p *Payment) error
}

// TeamStore is the consumed contract over merchant team records.
type TeamStore interface {
	GetBySlug(ctx context.Context, slug string) (*Team, error)
}

// ReplayStore tracks nonce and replay-fingerprint usage for the auth
// pipeline. Both Seen* methods atomically check-and-record: a false
// return means this call recorded the first use.
type ReplayStore interface {
	SeenNonce(ctx context.Context, slug, nonce string, ttl time.Duration) (bool, error)
	SeenFingerprint(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error)
}

// LockoutStore tracks progressive per-team lockout state and the
// parallel IP attempt counter.
type LockoutStore interface {
	// RecordFailure appends a failure within window and returns the
	// resulting rolling failure count.
	RecordFailure(ctx context.Context, slug string, window time.Duration) (int, error)
	// Reset clears the rolling failure count after a success.
	Reset(ctx context.Context, slug string) error
	// Block marks slug as blocked until the given instant.
	Block(ctx context.Context, slug string, until time.Time) error
	// BlockedUntil returns the block expiry for slug, or the zero time
	// if the team is not currently blocked.
	BlockedUntil(ctx context.Context, slug string) (time.Time, error)
	// RecordIPAttempt increments the IP-based parallel counter and
	// returns the resulting count within window.
	RecordIPAttempt(ctx context.Context, ip string, window time.Duration) (int, error)
	// IncrementBlockCount increments and returns the number of times
	// slug has been blocked, used to index the progressive step table
	// (1st block, 2nd block, ...) independent of the raw failure count.
	IncrementBlockCount(ctx context.Context, slug string) (int, error)
}

// AuthAttempt is one recorded authentication outcome, per spec's
// AuthenticationAttempt data model entry.
type AuthAttempt struct {
	Slug          string
	Timestamp     time.Time
	Success       bool
	ClientIP      string
	FailureCount  int
	BlockDuration time.Duration
}

// AttemptStore records every authentication outcome, success or failure.
type AttemptStore interface {
	Record(ctx context.Context, attempt AuthAttempt) error
}
