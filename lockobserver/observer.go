// Package lockobserver passively builds a wait-for graph over the
// per-payment locks that serialize state transitions and detects
// deadlock cycles by snapshotting that graph rather than scanning it
// live, avoiding the raciness of a live-structure DFS.
package lockobserver

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hackload/paymentcore/core"
)

// DeadlockChain is an immutable record of one detected cycle.
type DeadlockChain struct {
	Holders     []string
	Resources   []string
	DetectedAt  time.Time
}

// Config tunes the observer's sweep intervals and history size.
type Config struct {
	HistorySize      int
	SweepInterval    time.Duration
	MaxLockWait      time.Duration
	AutoResolve      bool
}

func (c Config) withDefaults() Config {
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.MaxLockWait <= 0 {
		c.MaxLockWait = 2 * time.Minute
	}
	return c
}

// pendingRequest records when a holder began waiting on a resource.
type pendingRequest struct {
	requestedAt time.Time
}

// Observer maintains the wait-for bookkeeping and performs snapshot-
// based cycle detection. Every resource entry is mutated under one
// short observer-wide mutex; cycle scans run against a point-in-time
// copy, never the live maps.
type Observer struct {
	mu       sync.Mutex
	held     map[string]map[string]struct{} // holder -> resources it holds
	pending  map[string]map[string]pendingRequest // holder -> resources it awaits
	waiters  map[string]map[string]struct{} // resource -> holders awaiting it
	owners   map[string]string              // resource -> current holder

	cfg     Config
	history []DeadlockChain
	histPos int
	logger  core.Logger
}

// New builds an Observer with the given config.
func New(cfg Config, logger core.Logger) *Observer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Observer{
		held:    make(map[string]map[string]struct{}),
		pending: make(map[string]map[string]pendingRequest),
		waiters: make(map[string]map[string]struct{}),
		owners:  make(map[string]string),
		cfg:     cfg.withDefaults(),
		history: make([]DeadlockChain, 0, cfg.withDefaults().HistorySize),
		logger:  logger,
	}
}

// OnRequest records that holder has begun waiting on resource, then
// runs an immediate cycle check from holder.
func (o *Observer) OnRequest(holder, resource string) {
	o.mu.Lock()
	o.ensurePending(holder)[resource] = pendingRequest{requestedAt: time.Now()}
	o.ensureWaiters(resource)[holder] = struct{}{}
	o.mu.Unlock()

	if cycle, ok := o.detectCycleFrom(holder); ok {
		o.recordCycle(cycle)
	}
}

// OnAcquired promotes holder's pending wait on resource into a held
// edge.
func (o *Observer) OnAcquired(holder, resource string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if reqs, ok := o.pending[holder]; ok {
		delete(reqs, resource)
	}
	if waiters, ok := o.waiters[resource]; ok {
		delete(waiters, holder)
	}
	o.ensureHeld(holder)[resource] = struct{}{}
	o.owners[resource] = holder
}

// OnReleased removes the held edge for {holder, resource}.
func (o *Observer) OnReleased(holder, resource string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if set, ok := o.held[holder]; ok {
		delete(set, resource)
	}
	if o.owners[resource] == holder {
		delete(o.owners, resource)
	}
}

func (o *Observer) ensurePending(holder string) map[string]pendingRequest {
	if o.pending[holder] == nil {
		o.pending[holder] = make(map[string]pendingRequest)
	}
	return o.pending[holder]
}

func (o *Observer) ensureWaiters(resource string) map[string]struct{} {
	if o.waiters[resource] == nil {
		o.waiters[resource] = make(map[string]struct{})
	}
	return o.waiters[resource]
}

func (o *Observer) ensureHeld(holder string) map[string]struct{} {
	if o.held[holder] == nil {
		o.held[holder] = make(map[string]struct{})
	}
	return o.held[holder]
}

// snapshot is a point-in-time copy of the wait-for bookkeeping, taken
// under a single brief lock so DFS never races a concurrent mutation.
type snapshot struct {
	pending map[string][]string // holder -> resources awaited
	owners  map[string]string   // resource -> holder
}

func (o *Observer) snapshot() snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := snapshot{pending: make(map[string][]string, len(o.pending)), owners: make(map[string]string, len(o.owners))}
	for holder, reqs := range o.pending {
		for resource := range reqs {
			s.pending[holder] = append(s.pending[holder], resource)
		}
	}
	for resource, holder := range o.owners {
		s.owners[resource] = holder
	}
	return s
}

// detectCycleFrom runs DFS from origin over the snapshot's edges
// {holder -> resource it awaits} and {resource -> holder that owns it}.
func (o *Observer) detectCycleFrom(origin string) (DeadlockChain, bool) {
	snap := o.snapshot()

	type node struct {
		isHolder bool
		id       string
	}

	visited := make(map[node]bool)
	var holderPath []string
	var resourcePath []string

	var dfs func(n node) bool
	dfs = func(n node) bool {
		if n.isHolder && n.id == origin && len(holderPath) > 0 {
			return true
		}
		if visited[n] {
			return false
		}
		visited[n] = true

		if n.isHolder {
			for _, resource := range snap.pending[n.id] {
				holderPath = append(holderPath, n.id)
				resourcePath = append(resourcePath, resource)
				if dfs(node{isHolder: false, id: resource}) {
					return true
				}
				holderPath = holderPath[:len(holderPath)-1]
				resourcePath = resourcePath[:len(resourcePath)-1]
			}
			return false
		}

		if owner, ok := snap.owners[n.id]; ok {
			return dfs(node{isHolder: true, id: owner})
		}
		return false
	}

	if dfs(node{isHolder: true, id: origin}) {
		return DeadlockChain{
			Holders:    append([]string(nil), holderPath...),
			Resources:  append([]string(nil), resourcePath...),
			DetectedAt: time.Now(),
		}, true
	}
	return DeadlockChain{}, false
}

func (o *Observer) recordCycle(chain DeadlockChain) {
	o.mu.Lock()
	if len(o.history) < o.cfg.HistorySize {
		o.history = append(o.history, chain)
	} else {
		o.history[o.histPos] = chain
		o.histPos = (o.histPos + 1) % o.cfg.HistorySize
	}
	o.mu.Unlock()

	o.logger.Warn("deadlock detected", map[string]interface{}{
		"holders":   chain.Holders,
		"resources": chain.Resources,
	})

	if registry := core.GetGlobalMetricsRegistry(); registry != nil {
		registry.Counter("paycore.lockobserver.deadlocks_detected")
	}

	if o.cfg.AutoResolve {
		o.resolve(chain)
	}
}

// resolve picks the first holder on the cycle path as the victim and
// logs a warning naming it. It changes none of the observer's
// bookkeeping and never touches the real lock arena; the cycle stays
// in place until the lock holders report releases via OnReleased.
func (o *Observer) resolve(chain DeadlockChain) {
	if len(chain.Holders) == 0 {
		return
	}
	victim := chain.Holders[0]
	o.logger.Warn("auto-resolving deadlock, simulating release for victim", map[string]interface{}{
		"victim": victim,
	})
}

// Sweep performs a periodic cycle check across every currently pending
// holder, and flags any pending request older than MaxLockWait.
func (o *Observer) Sweep() {
	snap := o.snapshot()

	holders := make([]string, 0, len(snap.pending))
	for holder := range snap.pending {
		holders = append(holders, holder)
	}
	sort.Strings(holders)

	for _, holder := range holders {
		if cycle, ok := o.detectCycleFrom(holder); ok {
			o.recordCycle(cycle)
		}
	}

	o.checkLongWaits()

	if registry := core.GetGlobalMetricsRegistry(); registry != nil {
		registry.Counter("paycore.lockobserver.sweeps")
	}
}

func (o *Observer) checkLongWaits() {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now()
	for holder, reqs := range o.pending {
		for resource, req := range reqs {
			if now.Sub(req.requestedAt) >= o.cfg.MaxLockWait {
				o.logger.Warn("long-running lock wait", map[string]interface{}{
					"holder":   holder,
					"resource": resource,
					"waited":   now.Sub(req.requestedAt).String(),
				})
				if registry := core.GetGlobalMetricsRegistry(); registry != nil {
					registry.Counter("paycore.lockobserver.long_waits")
				}
			}
		}
	}
}

// Run starts the periodic sweep goroutine; it returns when ctx is
// cancelled, per the cooperative background-task idiom.
func (o *Observer) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Sweep()
		}
	}
}

// History returns a copy of the detected-deadlock ring buffer contents
// in insertion order (oldest first among what survived eviction).
func (o *Observer) History() []DeadlockChain {
	o.mu.Lock()
	defer o.mu.Unlock()
	// Once the buffer has wrapped, histPos is the oldest surviving slot.
	out := make([]DeadlockChain, 0, len(o.history))
	out = append(out, o.history[o.histPos:]...)
	out = append(out, o.history[:o.histPos]...)
	return out
}
