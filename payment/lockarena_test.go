package payment

import (
	"context"
	"testing"
	"time"

	"github.com/hackload/paymentcore/core"
)

type recordingWaiter struct {
	requests  []string
	acquired  []string
	released  []string
}

func (w *recordingWaiter) OnRequest(holder, resource string)  { w.requests = append(w.requests, holder+"|"+resource) }
func (w *recordingWaiter) OnAcquired(holder, resource string) { w.acquired = append(w.acquired, holder+"|"+resource) }
func (w *recordingWaiter) OnReleased(holder, resource string) { w.released = append(w.released, holder+"|"+resource) }

func TestLockArenaAcquireRelease(t *testing.T) {
	waiter := &recordingWaiter{}
	arena := NewLockArena(waiter)

	if err := arena.Acquire(context.Background(), "h1", "P", time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	arena.Release("h1", "P")

	if len(waiter.requests) != 1 || len(waiter.acquired) != 1 || len(waiter.released) != 1 {
		t.Fatalf("expected one request/acquire/release event each, got %+v", waiter)
	}
}

func TestLockArenaTimeout(t *testing.T) {
	arena := NewLockArena(nil)

	if err := arena.Acquire(context.Background(), "h1", "P", time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer arena.Release("h1", "P")

	err := arena.Acquire(context.Background(), "h2", "P", 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if core.KindOf(err) != core.KindLockTimeout {
		t.Fatalf("expected KindLockTimeout, got %v", core.KindOf(err))
	}
}

func TestLockArenaSerializesSameID(t *testing.T) {
	arena := NewLockArena(nil)
	order := make(chan string, 2)

	if err := arena.Acquire(context.Background(), "h1", "P", time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	go func() {
		if err := arena.Acquire(context.Background(), "h2", "P", time.Second); err != nil {
			t.Errorf("unexpected error: %v", err)
			return
		}
		order <- "h2"
		arena.Release("h2", "P")
	}()

	time.Sleep(20 * time.Millisecond)
	order <- "h1-releasing"
	arena.Release("h1", "P")

	first := <-order
	second := <-order
	if first != "h1-releasing" || second != "h2" {
		t.Fatalf("expected h1 to release before h2 acquired, got order %s, %s", first, second)
	}
}

func TestLockArenaIndependentIDsDoNotBlock(t *testing.T) {
	arena := NewLockArena(nil)

	if err := arena.Acquire(context.Background(), "h1", "P1", time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer arena.Release("h1", "P1")

	if err := arena.Acquire(context.Background(), "h2", "P2", 100*time.Millisecond); err != nil {
		t.Fatalf("independent payment id should not be blocked: %v", err)
	}
	arena.Release("h2", "P2")
}
