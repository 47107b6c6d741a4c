package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/hackload/paymentcore/core"
	"github.com/hackload/paymentcore/store"
	"github.com/hackload/paymentcore/telemetry"
)

// Outcome is the result of one Authenticate call.
type Outcome struct {
	Success      bool
	Team         *store.Team
	Kind         core.ErrorKind
	Message      string
	ElapsedNanos int64
}

// Config tunes the pipeline's tolerance windows and thresholds. Zero
// values fall back to the defaults named in spec.md §4.1.
type Config struct {
	TimestampTolerance  time.Duration
	RequireTimestamp    bool
	NonceWindow         time.Duration
	ReplayWindow        time.Duration
	LockoutWindow       time.Duration
	LockoutThreshold    int
	LockoutSteps        []LockoutStep
	IPWindow            time.Duration
	IPCap               int
}

func (c Config) withDefaults() Config {
	if c.TimestampTolerance <= 0 {
		c.TimestampTolerance = 5 * time.Minute
	}
	if c.NonceWindow <= 0 {
		c.NonceWindow = 15 * time.Minute
	}
	if c.ReplayWindow <= 0 {
		c.ReplayWindow = time.Hour
	}
	if c.LockoutWindow <= 0 {
		c.LockoutWindow = 15 * time.Minute
	}
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = 5
	}
	if len(c.LockoutSteps) == 0 {
		c.LockoutSteps = DefaultLockoutSteps
	}
	if c.IPWindow <= 0 {
		c.IPWindow = 15 * time.Minute
	}
	if c.IPCap <= 0 {
		c.IPCap = 20
	}
	return c
}

// Pipeline is the single entry point for request authentication.
type Pipeline struct {
	teams    store.TeamStore
	replay   store.ReplayStore
	attempts store.AttemptStore
	lockout  *LockoutTracker
	tokens   TokenComputer
	cfg      Config
	logger   core.Logger
}

// NewPipeline builds a Pipeline from its collaborators and config.
func NewPipeline(teams store.TeamStore, replay store.ReplayStore, attempts store.AttemptStore, lockoutStore store.LockoutStore, cfg Config, logger core.Logger) *Pipeline {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Pipeline{
		teams:    teams,
		replay:   replay,
		attempts: attempts,
		lockout:  NewLockoutTracker(lockoutStore, cfg.LockoutWindow, cfg.LockoutThreshold, cfg.LockoutSteps, cfg.IPWindow, cfg.IPCap),
		cfg:      cfg,
		logger:   logger,
	}
}

// Authenticate validates a signed request per spec.md §4.1 and returns
// an Outcome. It never returns a non-nil error for expected failure
// kinds — those are carried in Outcome.Kind; the error return is
// reserved for unexpected collaborator failures (store/cache errors).
func (p *Pipeline) Authenticate(ctx context.Context, slug string, params map[string]string, providedToken string, clientIP string) (*Outcome, error) {
	start := time.Now()
	outcome := func(success bool, team *store.Team, kind core.ErrorKind, message string) *Outcome {
		elapsed := time.Since(start).Nanoseconds()
		p.record(ctx, slug, clientIP, success, elapsed)
		p.meter(success, kind)
		return &Outcome{Success: success, Team: team, Kind: kind, Message: message, ElapsedNanos: elapsed}
	}

	if slug == "" || providedToken == "" {
		return outcome(false, nil, core.KindMissingParameters, "team slug and token are required"), nil
	}

	if _, err := p.lockout.RecordIPAttempt(ctx, clientIP); err != nil {
		return nil, err
	}

	blocked, until, err := p.lockout.Blocked(ctx, slug)
	if err != nil {
		return nil, err
	}
	if blocked {
		return outcome(false, nil, core.KindTeamBlocked, fmt.Sprintf("team blocked until %s", until.UTC().Format(time.RFC3339))), nil
	}

	team, err := p.teams.GetBySlug(ctx, slug)
	if err != nil {
		if core.IsNotFound(err) {
			return outcome(false, nil, core.KindTeamNotFound, "team not found"), nil
		}
		return nil, err
	}
	if !team.Active {
		return outcome(false, nil, core.KindTeamInactive, "team inactive"), nil
	}
	if team.Locked {
		return outcome(false, nil, core.KindTeamBlocked, "team locked"), nil
	}

	if kind, msg, ok := p.checkTimestamp(params); !ok {
		p.fail(ctx, slug)
		return outcome(false, nil, kind, msg), nil
	}

	expected := p.tokens.Expected(params, team.Secret)
	if !p.tokens.Verify(providedToken, expected) {
		p.fail(ctx, slug)
		return outcome(false, nil, core.KindInvalidToken, "token mismatch"), nil
	}

	if nonce, ok := params["Nonce"]; ok && nonce != "" {
		seen, err := p.replay.SeenNonce(ctx, slug, nonce, p.cfg.NonceWindow)
		if err != nil {
			return nil, err
		}
		if seen {
			p.fail(ctx, slug)
			return outcome(false, nil, core.KindReplayDetected, "nonce already used"), nil
		}
	}

	fingerprint := p.fingerprint(slug, providedToken, params)
	seen, err := p.replay.SeenFingerprint(ctx, fingerprint, p.cfg.ReplayWindow)
	if err != nil {
		return nil, err
	}
	if seen {
		p.fail(ctx, slug)
		return outcome(false, nil, core.KindReplayDetected, "request replayed"), nil
	}

	if err := p.lockout.RecordSuccess(ctx, slug); err != nil {
		return nil, err
	}

	return outcome(true, team, core.KindUnknown, ""), nil
}

func (p *Pipeline) fail(ctx context.Context, slug string) {
	if _, err := p.lockout.RecordFailure(ctx, slug); err != nil {
		p.logger.Warn("lockout bookkeeping failed", map[string]interface{}{"team_slug": slug, "error": err.Error()})
	}
}

// checkTimestamp validates the optional Timestamp parameter. Absence is
// allowed unless RequireTimestamp is set.
func (p *Pipeline) checkTimestamp(params map[string]string) (core.ErrorKind, string, bool) {
	raw, ok := caseInsensitiveLookup(params, "Timestamp")
	if !ok {
		if p.cfg.RequireTimestamp {
			return core.KindTimestampInvalid, "timestamp required", false
		}
		return core.KindUnknown, "", true
	}

	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return core.KindTimestampInvalid, "timestamp not parseable", false
	}

	delta := time.Since(ts)
	if delta < 0 {
		delta = -delta
	}
	if delta > p.cfg.TimestampTolerance {
		return core.KindTimestampInvalid, "timestamp outside tolerance", false
	}
	return core.KindUnknown, "", true
}

// fingerprint forms the replay-detection digest from {slug, provided
// token, OrderId, Amount, TeamSlug, Timestamp, Nonce} per spec.md §4.1.
func (p *Pipeline) fingerprint(slug, providedToken string, params map[string]string) string {
	parts := []string{
		slug,
		providedToken,
		params["OrderId"],
		params["Amount"],
		params["TeamSlug"],
		params["Timestamp"],
		params["Nonce"],
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func caseInsensitiveLookup(params map[string]string, name string) (string, bool) {
	if v, ok := params[name]; ok {
		return v, true
	}
	for k, v := range params {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func (p *Pipeline) record(ctx context.Context, slug, clientIP string, success bool, elapsedNanos int64) {
	if p.attempts == nil {
		return
	}
	_ = p.attempts.Record(ctx, store.AuthAttempt{
		Slug:      slug,
		Timestamp: time.Now(),
		Success:   success,
		ClientIP:  clientIP,
	})
	_ = elapsedNanos
}

func (p *Pipeline) meter(success bool, kind core.ErrorKind) {
	registry := core.GetGlobalMetricsRegistry()
	if registry == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	registry.Counter(telemetry.MetricAuthAttempts, "result", result)
	if !success {
		registry.Counter(telemetry.MetricAuthFailures, "kind", kind.String())
	}
	if kind == core.KindTeamBlocked {
		registry.Counter(telemetry.MetricAuthLockouts, "team_slug_present", "true")
	}
	if kind == core.KindReplayDetected {
		registry.Counter(telemetry.MetricAuthReplayBlocked, "team_slug_present", "true")
	}
}
