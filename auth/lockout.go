package auth

import (
	"context"
	"sort"
	"time"

	"github.com/hackload/paymentcore/store"
)

// LockoutStep maps the number of times a team has been blocked to the
// duration of that block, data-driven rather than hard-coded branches.
type LockoutStep struct {
	BlockOccurrence int
	Duration        time.Duration
}

// DefaultLockoutSteps is the step table from spec.md §4.1: 1st block 5
// minutes, 2nd 15 minutes, 3rd 30 minutes, 4th 1 hour, 5th and beyond 2
// hours.
var DefaultLockoutSteps = []LockoutStep{
	{BlockOccurrence: 1, Duration: 5 * time.Minute},
	{BlockOccurrence: 2, Duration: 15 * time.Minute},
	{BlockOccurrence: 3, Duration: 30 * time.Minute},
	{BlockOccurrence: 4, Duration: time.Hour},
	{BlockOccurrence: 5, Duration: 2 * time.Hour},
}

// durationFor returns the block duration for the nth block occurrence,
// using the highest step whose BlockOccurrence does not exceed n.
func durationFor(steps []LockoutStep, occurrence int) time.Duration {
	sorted := append([]LockoutStep(nil), steps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BlockOccurrence < sorted[j].BlockOccurrence })

	chosen := sorted[0].Duration
	for _, step := range sorted {
		if occurrence >= step.BlockOccurrence {
			chosen = step.Duration
		}
	}
	return chosen
}

// LockoutTracker enforces the progressive per-team lockout policy: a
// sliding window of recent failures, a failure-count threshold, and a
// step-table block duration that lengthens on repeated blocking.
type LockoutTracker struct {
	store     store.LockoutStore
	window    time.Duration
	threshold int
	steps     []LockoutStep
	ipWindow  time.Duration
	ipCap     int
}

// NewLockoutTracker builds a tracker. window is the rolling failure
// window (default 15m), threshold the failure count that triggers a
// block (default 5), steps the block-duration table (default
// DefaultLockoutSteps), ipWindow/ipCap the parallel IP counter's
// window and cap (default 15m/20).
func NewLockoutTracker(s store.LockoutStore, window time.Duration, threshold int, steps []LockoutStep, ipWindow time.Duration, ipCap int) *LockoutTracker {
	if window <= 0 {
		window = 15 * time.Minute
	}
	if threshold <= 0 {
		threshold = 5
	}
	if len(steps) == 0 {
		steps = DefaultLockoutSteps
	}
	if ipWindow <= 0 {
		ipWindow = 15 * time.Minute
	}
	if ipCap <= 0 {
		ipCap = 20
	}
	return &LockoutTracker{store: s, window: window, threshold: threshold, steps: steps, ipWindow: ipWindow, ipCap: ipCap}
}

// Blocked reports whether slug is currently within an active block.
func (t *LockoutTracker) Blocked(ctx context.Context, slug string) (bool, time.Time, error) {
	until, err := t.store.BlockedUntil(ctx, slug)
	if err != nil {
		return false, time.Time{}, err
	}
	return !until.IsZero(), until, nil
}

// RecordSuccess resets the rolling failure count for slug.
func (t *LockoutTracker) RecordSuccess(ctx context.Context, slug string) error {
	return t.store.Reset(ctx, slug)
}

// RecordFailure records a failure for slug and, if the rolling count
// has reached the threshold, blocks the team for the duration the step
// table assigns to this block occurrence.
func (t *LockoutTracker) RecordFailure(ctx context.Context, slug string) (blockedUntil time.Time, err error) {
	count, err := t.store.RecordFailure(ctx, slug, t.window)
	if err != nil {
		return time.Time{}, err
	}
	if count < t.threshold {
		return time.Time{}, nil
	}

	occurrence, err := t.store.IncrementBlockCount(ctx, slug)
	if err != nil {
		return time.Time{}, err
	}
	until := time.Now().Add(durationFor(t.steps, occurrence))
	if err := t.store.Block(ctx, slug, until); err != nil {
		return time.Time{}, err
	}
	return until, nil
}

// RecordIPAttempt increments the parallel IP counter and reports
// whether it has exceeded the configured cap.
func (t *LockoutTracker) RecordIPAttempt(ctx context.Context, ip string) (exceeded bool, err error) {
	if ip == "" {
		return false, nil
	}
	count, err := t.store.RecordIPAttempt(ctx, ip, t.ipWindow)
	if err != nil {
		return false, err
	}
	return count > t.ipCap, nil
}
