// Package redisstore is the concrete go-redis-backed adapter satisfying
// every interface in the store package, laid out across the DB
// isolation scheme core.RedisClient exposes: DB0 payments, DB1 teams,
// DB2 replay, DB3 lockout and auth attempts. No adapter here uses DB4
// (retry records); resilience.AttemptRecorder keeps those in memory.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/hackload/paymentcore/core"
	"github.com/hackload/paymentcore/resilience"
	"github.com/hackload/paymentcore/store"
)

// PaymentStore is the go-redis-backed store.PaymentStore. Every round
// trip to Redis is gated by a circuit breaker so a wedged or
// overloaded backend fails fast instead of piling up blocked callers;
// resilience.Do's taxonomy-driven retry loop sits above this, in
// payment.Manager's status writes, and is unaware of the breaker beneath it.
type PaymentStore struct {
	client  *core.RedisClient
	breaker *resilience.CircuitBreaker
}

// NewPaymentStore builds a PaymentStore against DB0 with the standard
// payment key namespace.
func NewPaymentStore(redisURL string, logger core.Logger) (*PaymentStore, error) {
	client, err := core.NewRedisClient(core.RedisClientOptions{
		RedisURL: redisURL, DB: core.RedisDBPayment, Namespace: "paycore:payment", Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	breaker, err := resilience.CreateCircuitBreaker("redisstore.payment", resilience.ResilienceDependencies{Logger: logger})
	if err != nil {
		return nil, err
	}
	return &PaymentStore{client: client, breaker: breaker}, nil
}

func paymentKey(id string) string { return id }

func (s *PaymentStore) GetByID(ctx context.Context, id string) (*store.Payment, error) {
	var raw string
	var notFound bool
	err := s.breaker.Execute(ctx, func() error {
		var getErr error
		raw, getErr = s.client.Get(ctx, paymentKey(id))
		if getErr == goredis.Nil {
			notFound = true
			return nil
		}
		return getErr
	})
	if notFound {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.NewFrameworkError("redisstore.GetByID", core.KindExternalUnavailable, err)
	}
	var p store.Payment
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, core.NewFrameworkError("redisstore.GetByID", core.KindInternal, err)
	}
	return &p, nil
}

func (s *PaymentStore) Create(ctx context.Context, p *store.Payment) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return core.NewFrameworkError("redisstore.Create", core.KindInternal, err)
	}
	var created bool
	err = s.breaker.Execute(ctx, func() error {
		var setErr error
		created, setErr = s.client.SetNX(ctx, paymentKey(p.ID), string(raw), 0)
		return setErr
	})
	if err != nil {
		return core.NewFrameworkError("redisstore.Create", core.KindExternalUnavailable, err)
	}
	if !created {
		return core.ErrConflict
	}
	return nil
}

// UpdateStatus performs an optimistic-locking compare-and-swap: it
// watches the payment key, verifies the stored status still equals
// expectedStatus, and only then commits the new status in the same
// transaction. A concurrent writer that commits first causes go-redis
// to abort with redis.TxFailedErr, which this surfaces as ErrConflict.
func (s *PaymentStore) UpdateStatus(ctx context.Context, id, expectedStatus, newStatus string, updatedAt time.Time) error {
	var outcome error
	var txFailed bool
	err := s.breaker.Execute(ctx, func() error {
		watchErr := s.client.WatchKey(ctx, paymentKey(id), func(tx *goredis.Tx, key string) error {
			raw, err := tx.Get(ctx, key).Result()
			if err == goredis.Nil {
				outcome = core.ErrNotFound
				return nil
			}
			if err != nil {
				return err
			}

			var p store.Payment
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				return err
			}
			if p.Status != expectedStatus {
				outcome = core.ErrConflict
				return nil
			}
			p.Status = newStatus
			p.UpdatedAt = updatedAt

			updated, err := json.Marshal(&p)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, string(updated), 0)
				return nil
			})
			return err
		})
		if watchErr == goredis.TxFailedErr {
			txFailed = true
			return nil
		}
		return watchErr
	})

	if outcome != nil {
		return outcome
	}
	if txFailed {
		return core.ErrConflict
	}
	if err != nil {
		return core.NewFrameworkError("redisstore.UpdateStatus", core.KindExternalUnavailable, err)
	}
	return nil
}

// TeamStore is the go-redis-backed store.TeamStore.
type TeamStore struct {
	client *core.RedisClient
}

// NewTeamStore builds a TeamStore against DB1.
func NewTeamStore(redisURL string, logger core.Logger) (*TeamStore, error) {
	client, err := core.NewRedisClient(core.RedisClientOptions{
		RedisURL: redisURL, DB: core.RedisDBTeam, Namespace: "paycore:team", Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &TeamStore{client: client}, nil
}

func (s *TeamStore) GetBySlug(ctx context.Context, slug string) (*store.Team, error) {
	raw, err := s.client.Get(ctx, slug)
	if err == goredis.Nil {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.NewFrameworkError("redisstore.GetBySlug", core.KindExternalUnavailable, err)
	}
	var t store.Team
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, core.NewFrameworkError("redisstore.GetBySlug", core.KindInternal, err)
	}
	return &t, nil
}

// Put writes/overwrites a team record; used by administrative tooling
// and by tests that seed a live Redis instance.
func (s *TeamStore) Put(ctx context.Context, t *store.Team) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return core.NewFrameworkError("redisstore.Put", core.KindInternal, err)
	}
	if err := s.client.Set(ctx, t.Slug, string(raw), 0); err != nil {
		return core.NewFrameworkError("redisstore.Put", core.KindExternalUnavailable, err)
	}
	return nil
}

// ReplayStore is the go-redis-backed store.ReplayStore, keyed by TTL
// entries so Redis itself expires stale nonces/fingerprints.
type ReplayStore struct {
	client *core.RedisClient
}

// NewReplayStore builds a ReplayStore against DB2.
func NewReplayStore(redisURL string, logger core.Logger) (*ReplayStore, error) {
	client, err := core.NewRedisClient(core.RedisClientOptions{
		RedisURL: redisURL, DB: core.RedisDBReplay, Namespace: "paycore:replay", Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &ReplayStore{client: client}, nil
}

func (s *ReplayStore) SeenNonce(ctx context.Context, slug, nonce string, ttl time.Duration) (bool, error) {
	return s.seen(ctx, "nonce:"+slug+":"+nonce, ttl)
}

func (s *ReplayStore) SeenFingerprint(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	return s.seen(ctx, "fp:"+fingerprint, ttl)
}

func (s *ReplayStore) seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	firstUse, err := s.client.SetNX(ctx, key, "1", ttl)
	if err != nil {
		return false, core.NewFrameworkError("redisstore.seen", core.KindExternalUnavailable, err)
	}
	return !firstUse, nil
}

// LockoutStore is the go-redis-backed store.LockoutStore, using sorted
// sets for the sliding failure/IP-attempt windows (member and score are
// both the attempt's unix nanos), matching the teacher's ZAdd/ZRemRangeByScore
// sliding-window idiom in core.RedisClient.
type LockoutStore struct {
	client *core.RedisClient
}

// NewLockoutStore builds a LockoutStore against DB3.
func NewLockoutStore(redisURL string, logger core.Logger) (*LockoutStore, error) {
	client, err := core.NewRedisClient(core.RedisClientOptions{
		RedisURL: redisURL, DB: core.RedisDBLockout, Namespace: "paycore:lockout", Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &LockoutStore{client: client}, nil
}

func (s *LockoutStore) recordWindowed(ctx context.Context, key string, window time.Duration) (int, error) {
	now := time.Now()
	cutoff := now.Add(-window)
	if err := s.client.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff.UnixNano())); err != nil {
		return 0, core.NewFrameworkError("redisstore.recordWindowed", core.KindExternalUnavailable, err)
	}
	member := fmt.Sprintf("%d", now.UnixNano())
	if err := s.client.ZAdd(ctx, key, &goredis.Z{Score: float64(now.UnixNano()), Member: member}); err != nil {
		return 0, core.NewFrameworkError("redisstore.recordWindowed", core.KindExternalUnavailable, err)
	}
	if err := s.client.Expire(ctx, key, window); err != nil {
		return 0, core.NewFrameworkError("redisstore.recordWindowed", core.KindExternalUnavailable, err)
	}
	count, err := s.client.ZCard(ctx, key)
	if err != nil {
		return 0, core.NewFrameworkError("redisstore.recordWindowed", core.KindExternalUnavailable, err)
	}
	return int(count), nil
}

func (s *LockoutStore) RecordFailure(ctx context.Context, slug string, window time.Duration) (int, error) {
	return s.recordWindowed(ctx, "fail:"+slug, window)
}

func (s *LockoutStore) Reset(ctx context.Context, slug string) error {
	if err := s.client.Del(ctx, "fail:"+slug, "block:"+slug); err != nil {
		return core.NewFrameworkError("redisstore.Reset", core.KindExternalUnavailable, err)
	}
	return nil
}

func (s *LockoutStore) Block(ctx context.Context, slug string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, "block:"+slug, until.UTC().Format(time.RFC3339Nano), ttl); err != nil {
		return core.NewFrameworkError("redisstore.Block", core.KindExternalUnavailable, err)
	}
	return nil
}

func (s *LockoutStore) BlockedUntil(ctx context.Context, slug string) (time.Time, error) {
	raw, err := s.client.Get(ctx, "block:"+slug)
	if err == goredis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, core.NewFrameworkError("redisstore.BlockedUntil", core.KindExternalUnavailable, err)
	}
	until, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, core.NewFrameworkError("redisstore.BlockedUntil", core.KindInternal, err)
	}
	return until, nil
}

func (s *LockoutStore) RecordIPAttempt(ctx context.Context, ip string, window time.Duration) (int, error) {
	return s.recordWindowed(ctx, "ip:"+ip, window)
}

func (s *LockoutStore) IncrementBlockCount(ctx context.Context, slug string) (int, error) {
	n, err := s.client.Incr(ctx, "blockcount:"+slug)
	if err != nil {
		return 0, core.NewFrameworkError("redisstore.IncrementBlockCount", core.KindExternalUnavailable, err)
	}
	return int(n), nil
}

// AttemptStore is the go-redis-backed store.AttemptStore, adding
// JSON-encoded attempts to a per-team sorted set scored by attempt time.
// The set has no size cap and no expiry.
type AttemptStore struct {
	client *core.RedisClient
}

// NewAttemptStore builds an AttemptStore against DB3 alongside lockout
// bookkeeping, since attempts are a lockout-adjacent audit trail.
func NewAttemptStore(redisURL string, logger core.Logger) (*AttemptStore, error) {
	client, err := core.NewRedisClient(core.RedisClientOptions{
		RedisURL: redisURL, DB: core.RedisDBLockout, Namespace: "paycore:attempt", Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &AttemptStore{client: client}, nil
}

func (s *AttemptStore) Record(ctx context.Context, attempt store.AuthAttempt) error {
	raw, err := json.Marshal(attempt)
	if err != nil {
		return core.NewFrameworkError("redisstore.Record", core.KindInternal, err)
	}
	if err := s.client.ZAdd(ctx, "log:"+attempt.Slug, &goredis.Z{
		Score: float64(attempt.Timestamp.UnixNano()), Member: string(raw),
	}); err != nil {
		return core.NewFrameworkError("redisstore.Record", core.KindExternalUnavailable, err)
	}
	return nil
}
