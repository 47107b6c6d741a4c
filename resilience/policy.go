package resilience

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hackload/paymentcore/core"
	"github.com/hackload/paymentcore/telemetry"
)

// ErrorCategory is the closed taxonomy the retry engine classifies every
// failure into before selecting a backoff policy.
type ErrorCategory string

const (
	CategoryTemporary ErrorCategory = "temporary_issues"
	CategoryExternal  ErrorCategory = "external"
	CategorySystem    ErrorCategory = "system"
	CategoryPermanent ErrorCategory = "permanent"
	CategoryDefault   ErrorCategory = "default"
)

// BackoffPolicy describes how delays grow across attempts for one category.
type BackoffPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      bool
}

// policyTable is the fixed policy-selection table.
var policyTable = map[ErrorCategory]BackoffPolicy{
	CategoryTemporary: {MaxAttempts: 5, Base: 30 * time.Second, Max: 5 * time.Minute, Multiplier: 1.5, Jitter: true},
	CategoryExternal:  {MaxAttempts: 3, Base: 1 * time.Minute, Max: 10 * time.Minute, Multiplier: 2.0, Jitter: true},
	CategorySystem:    {MaxAttempts: 2, Base: 5 * time.Minute, Max: 15 * time.Minute, Multiplier: 3.0, Jitter: false},
	CategoryDefault:   {MaxAttempts: 3, Base: 1 * time.Second, Max: 5 * time.Minute, Multiplier: 2.0, Jitter: true},
}

// PolicyFor returns the fixed policy for a category, falling back to the
// default policy for CategoryPermanent or any unrecognized value (callers
// should check Classify's return against CategoryPermanent first, since
// permanent errors bypass retry entirely rather than using this policy).
func PolicyFor(category ErrorCategory) BackoffPolicy {
	if p, ok := policyTable[category]; ok {
		return p
	}
	return policyTable[CategoryDefault]
}

// transientSubstrings are matched case-insensitively against an error's
// message chain when no explicit classification applies.
var transientSubstrings = []string{"timeout", "connection", "network"}

// Classify maps an error to one of the closed categories. It first checks
// for a carried core.ErrorKind, then a net.Error timeout, then falls back
// to substring sniffing of the error chain per spec's "transient exception
// detection" rule.
func Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryDefault
	}

	switch core.KindOf(err) {
	case core.KindExternalUnavailable:
		return CategoryExternal
	case core.KindPersistenceFailed:
		return CategoryTemporary
	case core.KindInternal:
		return CategorySystem
	case core.KindInvalidTransition, core.KindStateMismatch, core.KindInvalidToken,
		core.KindMissingParameters, core.KindTeamNotFound, core.KindTeamBlocked,
		core.KindTeamInactive, core.KindReplayDetected, core.KindTimestampInvalid:
		return CategoryPermanent
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CategoryPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTemporary
	}

	msg := strings.ToLower(err.Error())
	for _, sub := range transientSubstrings {
		if strings.Contains(msg, sub) {
			return CategoryTemporary
		}
	}

	return CategoryDefault
}

// delayForAttempt computes delay(n) = min(base * multiplier^(n-1), max),
// then adds uniform jitter in [-0.25*delay, +0.25*delay] when enabled.
func delayForAttempt(policy BackoffPolicy, attempt int) time.Duration {
	raw := float64(policy.Base)
	for i := 1; i < attempt; i++ {
		raw *= policy.Multiplier
	}
	if max := float64(policy.Max); raw > max {
		raw = max
	}

	if policy.Jitter {
		spread := raw * 0.25
		raw += (rand.Float64()*2 - 1) * spread
	}

	if raw < 0 {
		raw = 0
	}
	return time.Duration(raw)
}

// AttemptRecord captures the outcome of a single retry attempt.
type AttemptRecord struct {
	OperationID string
	Attempt     int
	Kind        core.ErrorKind
	Delay       time.Duration
	Success     bool
	RecordedAt  time.Time
}

// AttemptRecorder stores attempt-accounting records keyed by operation id,
// pruning entries older than its retention window on a periodic sweep.
type AttemptRecorder struct {
	mu        sync.Mutex
	records   map[string][]AttemptRecord
	retention time.Duration
}

// NewAttemptRecorder creates a recorder with the given retention window.
// A zero or negative retention defaults to 24h per spec.
func NewAttemptRecorder(retention time.Duration) *AttemptRecorder {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &AttemptRecorder{
		records:   make(map[string][]AttemptRecord),
		retention: retention,
	}
}

// Record appends an attempt record for operationID.
func (r *AttemptRecorder) Record(rec AttemptRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.OperationID] = append(r.records[rec.OperationID], rec)
}

// Records returns a copy of the records stored for operationID.
func (r *AttemptRecorder) Records(operationID string) []AttemptRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := r.records[operationID]
	out := make([]AttemptRecord, len(recs))
	copy(out, recs)
	return out
}

// Sweep purges records older than the retention window. Intended to be
// called periodically from a background task.
func (r *AttemptRecorder) Sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.retention)
	for id, recs := range r.records {
		kept := recs[:0:0]
		for _, rec := range recs {
			if rec.RecordedAt.After(cutoff) {
				kept = append(kept, rec)
			}
		}
		if len(kept) == 0 {
			delete(r.records, id)
		} else {
			r.records[id] = kept
		}
	}
}

// Do executes fn under the backoff policy selected for operationID's
// errors, recording every attempt via recorder (which may be nil to skip
// accounting). It classifies each failure with Classify, stops retrying
// immediately on CategoryPermanent, and checks ctx.Done() both before each
// call and while sleeping between attempts so cancellation is observed
// promptly rather than only at the next attempt boundary.
func Do(ctx context.Context, recorder *AttemptRecorder, operationID string, fn func(attempt int) error) error {
	var lastErr error
	var category ErrorCategory = CategoryDefault
	var policy BackoffPolicy = PolicyFor(CategoryDefault)

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		telemetry.Counter(telemetry.MetricRetryAttempts, "operation", operationID)

		err := fn(attempt)
		now := time.Now()

		if err == nil {
			if recorder != nil {
				recorder.Record(AttemptRecord{
					OperationID: operationID,
					Attempt:     attempt,
					Kind:        core.KindUnknown,
					Success:     true,
					RecordedAt:  now,
				})
			}
			return nil
		}

		lastErr = err
		category = Classify(err)
		if category == CategoryPermanent {
			if recorder != nil {
				recorder.Record(AttemptRecord{
					OperationID: operationID,
					Attempt:     attempt,
					Kind:        core.KindOf(err),
					Success:     false,
					RecordedAt:  now,
				})
			}
			return err
		}

		policy = PolicyFor(category)
		if attempt >= policy.MaxAttempts {
			if recorder != nil {
				recorder.Record(AttemptRecord{
					OperationID: operationID,
					Attempt:     attempt,
					Kind:        core.KindOf(err),
					Success:     false,
					RecordedAt:  now,
				})
			}
			telemetry.Counter(telemetry.MetricRetryExhausted, "operation", operationID, "category", string(category))
			return core.NewFrameworkError("resilience.Do", core.KindExternalUnavailable, lastErr)
		}

		delay := delayForAttempt(policy, attempt)
		telemetry.Histogram(telemetry.MetricRetryDelay, float64(delay.Milliseconds()), "operation", operationID, "category", string(category))
		if recorder != nil {
			recorder.Record(AttemptRecord{
				OperationID: operationID,
				Attempt:     attempt,
				Kind:        core.KindOf(err),
				Delay:       delay,
				Success:     false,
				RecordedAt:  now,
			})
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
