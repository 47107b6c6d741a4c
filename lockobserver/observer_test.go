package lockobserver

import (
	"context"
	"sync"
	"testing"
	"time"
)

// capturingLogger records every Warn call so tests can assert on what
// the observer reported without depending on stdout formatting.
type capturingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (c *capturingLogger) Info(msg string, fields map[string]interface{})  {}
func (c *capturingLogger) Error(msg string, fields map[string]interface{}) {}
func (c *capturingLogger) Debug(msg string, fields map[string]interface{}) {}
func (c *capturingLogger) Warn(msg string, fields map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warns = append(c.warns, msg)
}

func (c *capturingLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (c *capturingLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (c *capturingLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	c.Warn(msg, fields)
}
func (c *capturingLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}

func (c *capturingLogger) has(msg string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.warns {
		if w == msg {
			return true
		}
	}
	return false
}

func (c *capturingLogger) count(msg string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.warns {
		if w == msg {
			n++
		}
	}
	return n
}

// TestTwoHolderCycleDetected builds the textbook deadlock: holder A
// owns resource X and awaits resource Y; holder B owns resource Y and
// awaits resource X. The second OnRequest call closes the cycle and
// must surface a DeadlockChain naming both holders and both resources.
func TestTwoHolderCycleDetected(t *testing.T) {
	logger := &capturingLogger{}
	o := New(Config{}, logger)

	o.OnAcquired("A", "X")
	o.OnAcquired("B", "Y")

	o.OnRequest("A", "Y") // A now awaits Y, held by B: no cycle yet.
	if len(o.History()) != 0 {
		t.Fatalf("expected no cycle before the second edge closes it, got %d", len(o.History()))
	}

	o.OnRequest("B", "X") // B now awaits X, held by A: cycle closes.

	history := o.History()
	if len(history) != 1 {
		t.Fatalf("expected exactly one detected cycle, got %d", len(history))
	}

	chain := history[0]
	holders := map[string]bool{}
	for _, h := range chain.Holders {
		holders[h] = true
	}
	if !holders["A"] || !holders["B"] {
		t.Fatalf("expected cycle to name both holders A and B, got %v", chain.Holders)
	}
	resources := map[string]bool{}
	for _, r := range chain.Resources {
		resources[r] = true
	}
	if !resources["X"] || !resources["Y"] {
		t.Fatalf("expected cycle to name both resources X and Y, got %v", chain.Resources)
	}
	if chain.DetectedAt.IsZero() {
		t.Fatal("expected DetectedAt to be set")
	}
	if !logger.has("deadlock detected") {
		t.Fatal("expected a 'deadlock detected' warning to be logged")
	}
}

// TestNoCycleWithoutSharedWait confirms that two holders waiting on
// resources nobody owns yet never produce a false-positive cycle.
func TestNoCycleWithoutSharedWait(t *testing.T) {
	logger := &capturingLogger{}
	o := New(Config{}, logger)

	o.OnRequest("A", "X")
	o.OnRequest("B", "Y")

	if len(o.History()) != 0 {
		t.Fatalf("expected no cycle, got %d", len(o.History()))
	}
	if logger.has("deadlock detected") {
		t.Fatal("did not expect a deadlock warning")
	}
}

// TestReleaseBreaksCycleParticipation confirms that once a holder
// releases the resource the other side needed, re-requesting it no
// longer closes a cycle (the owner edge is gone).
func TestReleaseBreaksCycleParticipation(t *testing.T) {
	logger := &capturingLogger{}
	o := New(Config{}, logger)

	o.OnAcquired("A", "X")
	o.OnReleased("A", "X")

	o.OnRequest("B", "X") // X has no owner now, so this cannot close a cycle.
	if len(o.History()) != 0 {
		t.Fatalf("expected no cycle after release, got %d", len(o.History()))
	}
}

// TestSweepDetectsLongWait verifies Sweep's surveillance half: a
// pending request older than MaxLockWait is reported even though it
// never forms a cycle.
func TestSweepDetectsLongWait(t *testing.T) {
	logger := &capturingLogger{}
	o := New(Config{MaxLockWait: 10 * time.Millisecond, SweepInterval: time.Hour}, logger)

	o.OnRequest("A", "X")
	time.Sleep(20 * time.Millisecond)

	o.Sweep()

	if !logger.has("long-running lock wait") {
		t.Fatal("expected a long-running lock wait warning after MaxLockWait elapsed")
	}
}

// TestSweepIgnoresRecentWait confirms Sweep does not flag a request
// that is still within MaxLockWait.
func TestSweepIgnoresRecentWait(t *testing.T) {
	logger := &capturingLogger{}
	o := New(Config{MaxLockWait: time.Hour}, logger)

	o.OnRequest("A", "X")
	o.Sweep()

	if logger.has("long-running lock wait") {
		t.Fatal("did not expect a long-running lock wait warning for a fresh request")
	}
}

// TestSweepRepeatsWarningAcrossCalls exercises the surveillance
// goroutine's steady-state behavior: a wait that remains unresolved
// across multiple sweeps keeps being reported, not just once.
func TestSweepRepeatsWarningAcrossCalls(t *testing.T) {
	logger := &capturingLogger{}
	o := New(Config{MaxLockWait: 5 * time.Millisecond}, logger)

	o.OnRequest("A", "X")
	time.Sleep(10 * time.Millisecond)

	o.Sweep()
	o.Sweep()

	if got := logger.count("long-running lock wait"); got < 2 {
		t.Fatalf("expected at least 2 long-wait warnings across 2 sweeps, got %d", got)
	}
}

// TestHistoryRingBufferEviction confirms the ring buffer wraps rather
// than growing unbounded once HistorySize is exceeded.
func TestHistoryRingBufferEviction(t *testing.T) {
	o := New(Config{HistorySize: 2}, nil)

	o.recordCycle(DeadlockChain{Holders: []string{"1"}})
	o.recordCycle(DeadlockChain{Holders: []string{"2"}})
	o.recordCycle(DeadlockChain{Holders: []string{"3"}})

	history := o.History()
	if len(history) != 2 {
		t.Fatalf("expected history capped at 2, got %d", len(history))
	}
	// The oldest entry ("1") must have been evicted by the third record.
	for _, chain := range history {
		if len(chain.Holders) > 0 && chain.Holders[0] == "1" {
			t.Fatal("expected entry \"1\" to have been evicted from the ring buffer")
		}
	}
}
