// Command paymentcore is the composition root: it wires configuration,
// logging, telemetry, storage, the authentication pipeline, the payment
// state manager, the webhook dispatcher, and the lock observer into one
// running process, then keeps the background sweep goroutines alive for
// the process lifetime.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackload/paymentcore/auth"
	"github.com/hackload/paymentcore/core"
	"github.com/hackload/paymentcore/lockobserver"
	"github.com/hackload/paymentcore/payment"
	"github.com/hackload/paymentcore/resilience"
	"github.com/hackload/paymentcore/store"
	"github.com/hackload/paymentcore/store/redisstore"
	"github.com/hackload/paymentcore/telemetry"
	"github.com/hackload/paymentcore/webhook"
)

func main() {
	cfg, err := core.NewConfig()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	logger := core.NewSanitizingLogger(core.NewProductionLogger(cfg.Logging, cfg.Development, cfg.Name))

	if cfg.Telemetry.Enabled {
		err := telemetry.Initialize(telemetry.Config{
			Enabled:      true,
			ServiceName:  cfg.Telemetry.ServiceName,
			Endpoint:     cfg.Telemetry.Endpoint,
			Provider:     cfg.Telemetry.Provider,
			SamplingRate: cfg.Telemetry.SamplingRate,
		})
		if err != nil {
			logger.Warn("telemetry disabled: initialization failed", map[string]interface{}{"error": err.Error()})
		}
	}

	payments, teams, replay, lockout, attempts := buildStores(cfg, logger)

	cache := core.NewMemoryStore()

	authPipeline := auth.NewPipeline(teams, replay, attempts, lockout, auth.Config{
		TimestampTolerance: cfg.Auth.TimestampTolerance,
		RequireTimestamp:   true,
		ReplayWindow:       cfg.Auth.ReplayWindow,
		LockoutWindow:      cfg.Auth.AttemptWindow,
		LockoutThreshold:   cfg.Auth.LockoutThreshold,
		LockoutSteps:       auth.DefaultLockoutSteps,
		IPWindow:           cfg.Auth.AttemptWindow,
		IPCap:              cfg.Auth.LockoutThreshold * 4,
	}, logger)
	_ = authPipeline // same as manager: consumed by an inbound transport, not by this process itself.

	observer := lockobserver.New(lockobserver.Config{
		SweepInterval: cfg.LockObserver.SweepInterval,
		MaxLockWait:   cfg.LockObserver.LongWaitThreshold,
		HistorySize:   cfg.LockObserver.ChainHistorySize,
	}, logger)

	retryRecorder := resilience.NewAttemptRecorder(24 * time.Hour)

	notifications := make(chan webhook.NotificationJob, cfg.Webhook.QueueDepth)

	// manager is the entry point an inbound transport (outside this
	// repository's scope) calls TryTransition on; the composition root's
	// job is to keep it and its collaborators alive, not to serve it.
	manager := payment.NewManager(cache, payments, observer, notifications, retryRecorder, payment.Config{
		CacheTTL:    cfg.Payment.CacheTTL,
		LockTimeout: cfg.Payment.LockTimeout,
	}, logger)
	_ = manager

	dispatcher := webhook.NewDispatcher(payments, nil, retryRecorder, webhook.Config{
		Workers: cfg.Webhook.WorkerCount,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go dispatcher.Run(ctx, notifications)
	go observer.Run(ctx)
	go runRetryRecorderGC(ctx, retryRecorder, 24*time.Hour)
	go serveHealth(ctx, cfg.Port, logger)

	logger.Info("paymentcore started", map[string]interface{}{
		"service":         cfg.Name,
		"webhook_workers": cfg.Webhook.WorkerCount,
		"mock_store":      cfg.Development.MockStore,
	})

	waitForShutdown(logger)
	cancel()
	logger.Info("paymentcore stopped", nil)
}

// buildStores selects the in-memory or Redis-backed store implementations
// per cfg.Development.MockStore, falling back to in-memory with a logged
// warning if Redis is configured but unreachable at startup.
func buildStores(cfg *core.Config, logger core.Logger) (store.PaymentStore, store.TeamStore, store.ReplayStore, store.LockoutStore, store.AttemptStore) {
	if cfg.Development.MockStore || cfg.Store.RedisURL == "" {
		return store.NewInMemoryPaymentStore(), store.NewInMemoryTeamStore(), store.NewInMemoryReplayStore(),
			store.NewInMemoryLockoutStore(), store.NewInMemoryAttemptStore()
	}

	payments, err := redisstore.NewPaymentStore(cfg.Store.RedisURL, logger)
	if err != nil {
		logger.Warn("redis payment store unavailable, falling back to in-memory", map[string]interface{}{"error": err.Error()})
		return store.NewInMemoryPaymentStore(), store.NewInMemoryTeamStore(), store.NewInMemoryReplayStore(),
			store.NewInMemoryLockoutStore(), store.NewInMemoryAttemptStore()
	}

	teams, err := redisstore.NewTeamStore(cfg.Store.RedisURL, logger)
	if err != nil {
		logger.Warn("redis team store unavailable, falling back to in-memory", map[string]interface{}{"error": err.Error()})
		teams = nil
	}
	replay, err := redisstore.NewReplayStore(cfg.Store.RedisURL, logger)
	if err != nil {
		logger.Warn("redis replay store unavailable, falling back to in-memory", map[string]interface{}{"error": err.Error()})
		replay = nil
	}
	lockout, err := redisstore.NewLockoutStore(cfg.Store.RedisURL, logger)
	if err != nil {
		logger.Warn("redis lockout store unavailable, falling back to in-memory", map[string]interface{}{"error": err.Error()})
		lockout = nil
	}
	attempts, err := redisstore.NewAttemptStore(cfg.Store.RedisURL, logger)
	if err != nil {
		logger.Warn("redis attempt store unavailable, falling back to in-memory", map[string]interface{}{"error": err.Error()})
		attempts = nil
	}

	var teamStore store.TeamStore = teams
	if teams == nil {
		teamStore = store.NewInMemoryTeamStore()
	}
	var replayStore store.ReplayStore = replay
	if replay == nil {
		replayStore = store.NewInMemoryReplayStore()
	}
	var lockoutStore store.LockoutStore = lockout
	if lockout == nil {
		lockoutStore = store.NewInMemoryLockoutStore()
	}
	var attemptStore store.AttemptStore = attempts
	if attempts == nil {
		attemptStore = store.NewInMemoryAttemptStore()
	}

	return payments, teamStore, replayStore, lockoutStore, attemptStore
}

// runRetryRecorderGC periodically prunes attempt records older than
// retention so the recorder doesn't grow unbounded across a long-lived
// process. Grounded on the teacher's cardinality-limiter cleanup loop
// (telemetry/cardinality.go).
func runRetryRecorderGC(ctx context.Context, recorder *resilience.AttemptRecorder, retention time.Duration) {
	ticker := time.NewTicker(retention / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			recorder.Sweep(now)
		}
	}
}

// serveHealth exposes /healthz, backed by telemetry.HealthHandler, so an
// orchestrator can probe whether the telemetry pipeline (and, through its
// circuit state, the OTel exporter path) is actually flowing rather than
// silently dropping metrics.
func serveHealth(ctx context.Context, port int, logger core.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", telemetry.HealthHandler)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("health server stopped", map[string]interface{}{"error": err.Error()})
	}
}

func waitForShutdown(logger core.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutdown signal received", map[string]interface{}{"signal": s.String()})
}
