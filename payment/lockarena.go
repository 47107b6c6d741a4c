package payment

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hackload/paymentcore/core"
)

// lockSlot is the serialization primitive for one payment id: a
// capacity-1 token channel (acting as a binary mutex an Acquire can
// abandon cleanly on cancellation/timeout without a hand-off dance)
// plus a reference count used to decide when the slot can be
// garbage-collected. Grounded on the teacher's sync.Map-based token
// bookkeeping in resilience/circuit_breaker.go (halfOpenTokens).
type lockSlot struct {
	token    chan struct{}
	refcount int32
}

func newLockSlot() *lockSlot {
	s := &lockSlot{token: make(chan struct{}, 1)}
	s.token <- struct{}{}
	return s
}

// LockWaiter is the narrow notification surface a LockArena emits to,
// satisfied by *lockobserver.Observer without payment importing it
// directly for anything beyond this interface.
type LockWaiter interface {
	OnRequest(holder, resource string)
	OnAcquired(holder, resource string)
	OnReleased(holder, resource string)
}

type noopWaiter struct{}

func (noopWaiter) OnRequest(string, string)  {}
func (noopWaiter) OnAcquired(string, string) {}
func (noopWaiter) OnReleased(string, string) {}

// LockArena is the concurrent map of {payment id -> lockSlot} serializing
// transitions on a per-payment basis, per spec.md §9's "Cyclic
// references" design note: arena-keyed indices, no cyclic ownership.
type LockArena struct {
	slots  sync.Map // map[string]*lockSlot
	waiter LockWaiter
}

// NewLockArena builds an arena reporting lock events to waiter. A nil
// waiter is replaced with a no-op.
func NewLockArena(waiter LockWaiter) *LockArena {
	if waiter == nil {
		waiter = noopWaiter{}
	}
	return &LockArena{waiter: waiter}
}

func (a *LockArena) resolve(id string) *lockSlot {
	actual, _ := a.slots.LoadOrStore(id, newLockSlot())
	slot := actual.(*lockSlot)
	atomic.AddInt32(&slot.refcount, 1)
	return slot
}

// Acquire resolves (lazily creating) the slot for the target payment
// id and takes its token, bounded by timeout. holder identifies the
// caller for the lock observer's wait-for graph (e.g. a request or
// goroutine id); id is the payment id being serialized. Abandoning an
// Acquire on cancellation or timeout never leaves the token taken: the
// receive either succeeds (caller now owns it) or does not happen at
// all (token stays in the channel for the next Acquire).
func (a *LockArena) Acquire(ctx context.Context, holder, id string, timeout time.Duration) error {
	slot := a.resolve(id)
	a.waiter.OnRequest(holder, id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-slot.token:
		a.waiter.OnAcquired(holder, id)
		return nil
	case <-ctx.Done():
		atomic.AddInt32(&slot.refcount, -1)
		return ctx.Err()
	case <-timer.C:
		atomic.AddInt32(&slot.refcount, -1)
		return core.NewFrameworkError("payment.LockArena.Acquire", core.KindLockTimeout, context.DeadlineExceeded)
	}
}

// Release returns the token for id and, if no other caller references
// the slot, removes it from the arena (gc).
func (a *LockArena) Release(holder, id string) {
	value, ok := a.slots.Load(id)
	if !ok {
		return
	}
	slot := value.(*lockSlot)
	slot.token <- struct{}{}
	a.waiter.OnReleased(holder, id)
	a.gc(id, slot)
}

// gc removes id's slot from the arena once its refcount reaches zero.
func (a *LockArena) gc(id string, slot *lockSlot) {
	if atomic.AddInt32(&slot.refcount, -1) <= 0 {
		a.slots.CompareAndDelete(id, slot)
	}
}
