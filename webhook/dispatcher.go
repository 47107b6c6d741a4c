package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hackload/paymentcore/core"
	"github.com/hackload/paymentcore/resilience"
	"github.com/hackload/paymentcore/store"
	"github.com/hackload/paymentcore/telemetry"
)

// terminalStatuses are the outcomes that may route to a team-specific
// endpoint/payload shape instead of the generic notification URL.
var terminalStatuses = map[string]bool{
	"CONFIRMED": true,
	"REJECTED":  true,
	"CANCELLED": true,
	"EXPIRED":   true,
}

// Route overrides the destination URL for a terminal status, configured
// per team. The zero value means "use the team's generic NotificationURL".
type Route struct {
	URL string
}

// RouteTable resolves a per-team, per-status delivery override. A nil
// table (or a table that returns the zero Route) falls back to the
// team's generic NotificationURL for every status.
type RouteTable interface {
	RouteFor(teamSlug, status string) (Route, bool)
}

// Config tunes the dispatcher's HTTP behavior.
type Config struct {
	// PerAttemptTimeout bounds a single HTTP POST, independent of the
	// overall retry schedule's delays.
	PerAttemptTimeout time.Duration
	// Workers is the number of goroutines draining the notification
	// channel concurrently.
	Workers int
}

func (c Config) withDefaults() Config {
	if c.PerAttemptTimeout <= 0 {
		c.PerAttemptTimeout = 10 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

// Dispatcher composes and delivers outbound status notifications under
// the External retry policy. It never references payment.LockArena: the
// only coupling to the payment package is the NotificationJob value
// handed across the channel it drains.
type Dispatcher struct {
	client   *http.Client
	payments store.PaymentStore
	routes   RouteTable
	recorder *resilience.AttemptRecorder
	breaker  *resilience.CircuitBreaker
	logger   core.Logger
	cfg      Config
}

// NewDispatcher builds a Dispatcher. payments resolves a payment's
// generic NotificationURL; routes may be nil to always use it. Every
// outbound POST is gated by a circuit breaker beneath resilience.Do's
// taxonomy-driven retry loop, so a target that is wholly down trips the
// breaker and fails attempts immediately instead of burning the full
// per-attempt timeout on each retry.
func NewDispatcher(payments store.PaymentStore, routes RouteTable, recorder *resilience.AttemptRecorder, cfg Config, logger core.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	breaker, err := resilience.NewCircuitBreakerWithTelemetry("webhook.dispatcher")
	if err != nil {
		logger.Warn("webhook circuit breaker unavailable, proceeding without one", map[string]interface{}{"error": err.Error()})
	}
	return &Dispatcher{
		client:   telemetry.NewTracedHTTPClient(nil),
		payments: payments,
		routes:   routes,
		recorder: recorder,
		breaker:  breaker,
		logger:   logger,
		cfg:      cfg,
	}
}

// Run drains jobs from the channel with cfg.Workers concurrent goroutines
// until ctx is cancelled or the channel closes.
func (d *Dispatcher) Run(ctx context.Context, jobs <-chan NotificationJob) {
	done := make(chan struct{}, d.cfg.Workers)
	for i := 0; i < d.cfg.Workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-jobs:
					if !ok {
						return
					}
					d.Notify(ctx, job)
				}
			}
		}()
	}
	for i := 0; i < d.cfg.Workers; i++ {
		<-done
	}
}

// Notify composes and delivers one notification job under the External
// retry policy. Final failure is logged and metered, never returned to
// the payment state manager — callers invoke this fire-and-forget.
func (d *Dispatcher) Notify(ctx context.Context, job NotificationJob) {
	url, err := d.resolveURL(ctx, job)
	if err != nil {
		d.logger.Warn("webhook destination unresolved", map[string]interface{}{
			"payment_id": job.PaymentID, "team_slug": job.TeamSlug, "error": err.Error(),
		})
		d.meter(job, false)
		return
	}

	body, err := json.Marshal(envelopeFrom(job))
	if err != nil {
		d.logger.Error("webhook envelope marshal failed", map[string]interface{}{"payment_id": job.PaymentID, "error": err.Error()})
		d.meter(job, false)
		return
	}

	operationID := "webhook.deliver:" + job.PaymentID + ":" + job.Status
	start := time.Now()

	err = resilience.Do(ctx, d.recorder, operationID, func(attempt int) error {
		if d.breaker == nil {
			return d.post(ctx, url, body)
		}
		return resilience.ExecuteWithTelemetry(d.breaker, ctx, func() error {
			return d.post(ctx, url, body)
		})
	})

	d.meterDuration(job, time.Since(start))
	if err != nil {
		d.logger.Warn("webhook delivery exhausted retries", map[string]interface{}{
			"payment_id": job.PaymentID, "status": job.Status, "url": url, "error": err.Error(),
		})
		d.meter(job, false)
		return
	}
	d.meter(job, true)
}

func (d *Dispatcher) resolveURL(ctx context.Context, job NotificationJob) (string, error) {
	if d.routes != nil && terminalStatuses[job.Status] {
		if route, ok := d.routes.RouteFor(job.TeamSlug, job.Status); ok && route.URL != "" {
			return route.URL, nil
		}
	}

	if d.payments == nil {
		return "", fmt.Errorf("no payment store configured to resolve notification URL")
	}
	payment, err := d.payments.GetByID(ctx, job.PaymentID)
	if err != nil {
		return "", err
	}
	if payment.NotificationURL == "" {
		return "", fmt.Errorf("payment %s has no notification URL configured", job.PaymentID)
	}
	return payment.NotificationURL, nil
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte) error {
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.PerAttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return core.NewFrameworkError("webhook.post", core.KindInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return core.NewFrameworkError("webhook.post", core.KindExternalUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return core.NewFrameworkError("webhook.post", core.KindExternalUnavailable,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return nil
}

func (d *Dispatcher) meter(job NotificationJob, success bool) {
	registry := core.GetGlobalMetricsRegistry()
	if registry == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
		registry.Counter(telemetry.MetricWebhookDeliveryFail, "status", job.Status)
	}
	registry.Counter(telemetry.MetricWebhookDeliveries, "status", job.Status, "result", result)
}

func (d *Dispatcher) meterDuration(job NotificationJob, elapsed time.Duration) {
	if registry := core.GetGlobalMetricsRegistry(); registry != nil {
		registry.Histogram(telemetry.MetricWebhookDuration, float64(elapsed.Milliseconds()))
	}
}
