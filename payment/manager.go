package payment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackload/paymentcore/core"
	"github.com/hackload/paymentcore/resilience"
	"github.com/hackload/paymentcore/store"
	"github.com/hackload/paymentcore/telemetry"
	"github.com/hackload/paymentcore/webhook"
)

// Reason names why a transition did or did not succeed, carried back
// to the caller alongside the bool/error per spec.md §4.2.
type Reason string

const (
	ReasonOK                  Reason = "ok"
	ReasonInvalidTransition   Reason = "invalid_transition"
	ReasonStateMismatch       Reason = "state_mismatch"
	ReasonPersistenceFailed   Reason = "persistence_failed"
	ReasonLockTimeout         Reason = "lock_timeout"
)

// transitionOptions carries TransitionOption state.
type transitionOptions struct {
	skipNotification bool
}

// TransitionOption customizes one TryTransition call.
type TransitionOption func(*transitionOptions)

// WithoutNotification skips the webhook hand-off for this transition.
// This is the test-only opt-out named in spec.md §9's Open Question —
// never a silent empty-team-slug path.
func WithoutNotification() TransitionOption {
	return func(o *transitionOptions) { o.skipNotification = true }
}

// Manager implements the per-payment serialized state machine.
type Manager struct {
	cache         core.Memory
	durable       store.PaymentStore
	arena         *LockArena
	notifications chan<- webhook.NotificationJob
	retryRecorder *resilience.AttemptRecorder
	cacheTTL      time.Duration
	lockTimeout   time.Duration
	logger        core.Logger
}

// Config tunes the manager's cache TTL and lock acquisition timeout.
type Config struct {
	CacheTTL    time.Duration
	LockTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = core.DefaultCacheTTL
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 30 * time.Second
	}
	return c
}

// NewManager builds a Manager. notifications is the send side of the
// bounded channel a webhook.Dispatcher consumes from; waiter is the
// lock observer sink (may be nil).
func NewManager(cache core.Memory, durable store.PaymentStore, waiter LockWaiter, notifications chan<- webhook.NotificationJob, retryRecorder *resilience.AttemptRecorder, cfg Config, logger core.Logger) *Manager {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Manager{
		cache:         cache,
		durable:       durable,
		arena:         NewLockArena(waiter),
		notifications: notifications,
		retryRecorder: retryRecorder,
		cacheTTL:      cfg.CacheTTL,
		lockTimeout:   cfg.LockTimeout,
		logger:        logger,
	}
}

func cacheKey(id string) string {
	return core.DefaultCacheKeyPrefix + id
}

// TryTransition implements the 7-step protocol of spec.md §4.2 verbatim.
func (m *Manager) TryTransition(ctx context.Context, id string, from, to Status, teamSlug string, opts ...TransitionOption) (bool, Reason, error) {
	start := time.Now()
	options := &transitionOptions{}
	for _, opt := range opts {
		opt(options)
	}

	holder := uuid.NewString()

	// Step 1: resolve and acquire the per-payment lock.
	if err := m.arena.Acquire(ctx, holder, id, m.lockTimeout); err != nil {
		if core.KindOf(err) == core.KindLockTimeout {
			m.meter(from, to, ReasonLockTimeout)
			return false, ReasonLockTimeout, err
		}
		return false, ReasonLockTimeout, err
	}
	m.recordLockWait(start)
	defer m.arena.Release(holder, id)

	// Step 2: validate against the static table.
	if !IsValidTransition(from, to) {
		m.meter(from, to, ReasonInvalidTransition)
		return false, ReasonInvalidTransition, nil
	}

	// Step 3: cache-first, then store, read of the authoritative status.
	current, err := m.readStatus(ctx, id)
	if err != nil {
		return false, ReasonPersistenceFailed, err
	}

	// Step 4: authoritative status must equal from.
	if current != from {
		m.meter(from, to, ReasonStateMismatch)
		return false, ReasonStateMismatch, nil
	}

	// Step 5: write through the retry engine; cache only on durable success.
	if err := m.writeStatus(ctx, id, from, to); err != nil {
		m.meter(from, to, ReasonPersistenceFailed)
		return false, ReasonPersistenceFailed, nil
	}
	_ = m.cache.Set(ctx, cacheKey(id), string(to), m.cacheTTL)

	// Step 6: hand off a notification job; failures never propagate.
	if !options.skipNotification {
		m.notify(id, to, teamSlug)
	}

	m.meter(from, to, ReasonOK)
	return true, ReasonOK, nil
}

func (m *Manager) readStatus(ctx context.Context, id string) (Status, error) {
	if cached, err := m.cache.Get(ctx, cacheKey(id)); err == nil && cached != "" {
		return Status(cached), nil
	}

	p, err := m.durable.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	_ = m.cache.Set(ctx, cacheKey(id), p.Status, m.cacheTTL)
	return Status(p.Status), nil
}

func (m *Manager) writeStatus(ctx context.Context, id string, from, to Status) error {
	operationID := "payment.update_status:" + id
	return resilience.Do(ctx, m.retryRecorder, operationID, func(attempt int) error {
		err := m.durable.UpdateStatus(ctx, id, string(from), string(to), time.Now())
		if err != nil && core.IsNotFound(err) {
			return core.NewFrameworkError("payment.UpdateStatus", core.KindPersistenceFailed, err)
		}
		return err
	})
}

func (m *Manager) notify(id string, to Status, teamSlug string) {
	job := webhook.NotificationJob{
		PaymentID:  id,
		Status:     string(to),
		TeamSlug:   teamSlug,
		OccurredAt: time.Now(),
	}

	select {
	case m.notifications <- job:
	default:
		m.logger.Warn("notification channel full, dropping webhook job", map[string]interface{}{
			"payment_id": id,
			"status":     string(to),
		})
		if registry := core.GetGlobalMetricsRegistry(); registry != nil {
			registry.Counter(telemetry.MetricWebhookQueueDepth, "result", "dropped")
		}
	}
}

func (m *Manager) recordLockWait(start time.Time) {
	if registry := core.GetGlobalMetricsRegistry(); registry != nil {
		registry.Histogram(telemetry.MetricPaymentLockWait, float64(time.Since(start).Milliseconds()))
	}
}

func (m *Manager) meter(from, to Status, reason Reason) {
	registry := core.GetGlobalMetricsRegistry()
	if registry == nil {
		return
	}
	registry.Counter(telemetry.MetricPaymentTransitions, "from", string(from), "to", string(to), "result", string(reason))
	if reason != ReasonOK {
		registry.Counter(telemetry.MetricPaymentTransitionError, "reason", string(reason))
	}
}
