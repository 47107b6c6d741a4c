package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hackload/paymentcore/core"
)

func TestPolicyForTable(t *testing.T) {
	cases := []struct {
		category    ErrorCategory
		maxAttempts int
		base        time.Duration
		max         time.Duration
		multiplier  float64
		jitter      bool
	}{
		{CategoryTemporary, 5, 30 * time.Second, 5 * time.Minute, 1.5, true},
		{CategoryExternal, 3, 1 * time.Minute, 10 * time.Minute, 2.0, true},
		{CategorySystem, 2, 5 * time.Minute, 15 * time.Minute, 3.0, false},
		{CategoryDefault, 3, 1 * time.Second, 5 * time.Minute, 2.0, true},
	}

	for _, c := range cases {
		p := PolicyFor(c.category)
		if p.MaxAttempts != c.maxAttempts || p.Base != c.base || p.Max != c.max ||
			p.Multiplier != c.multiplier || p.Jitter != c.jitter {
			t.Errorf("PolicyFor(%s) = %+v, want {%d %v %v %v %v}",
				c.category, p, c.maxAttempts, c.base, c.max, c.multiplier, c.jitter)
		}
	}
}

func TestPolicyForUnknownFallsBackToDefault(t *testing.T) {
	p := PolicyFor(ErrorCategory("nonsense"))
	if p != PolicyFor(CategoryDefault) {
		t.Errorf("unknown category should fall back to default policy, got %+v", p)
	}
}

func TestClassifyByErrorKind(t *testing.T) {
	cases := []struct {
		kind core.ErrorKind
		want ErrorCategory
	}{
		{core.KindExternalUnavailable, CategoryExternal},
		{core.KindPersistenceFailed, CategoryTemporary},
		{core.KindInternal, CategorySystem},
		{core.KindInvalidTransition, CategoryPermanent},
		{core.KindInvalidToken, CategoryPermanent},
		{core.KindTeamBlocked, CategoryPermanent},
	}

	for _, c := range cases {
		err := core.NewFrameworkError("test.op", c.kind, errors.New("boom"))
		if got := Classify(err); got != c.want {
			t.Errorf("Classify(kind=%s) = %s, want %s", c.kind, got, c.want)
		}
	}
}

func TestClassifyContextErrorsArePermanent(t *testing.T) {
	if Classify(context.Canceled) != CategoryPermanent {
		t.Error("context.Canceled should classify as permanent")
	}
	if Classify(context.DeadlineExceeded) != CategoryPermanent {
		t.Error("context.DeadlineExceeded should classify as permanent")
	}
}

func TestClassifySubstringSniffing(t *testing.T) {
	cases := []struct {
		msg  string
		want ErrorCategory
	}{
		{"dial tcp: connection refused", CategoryTemporary},
		{"read timeout exceeded", CategoryTemporary},
		{"network unreachable", CategoryTemporary},
		{"unexpected value", CategoryDefault},
	}

	for _, c := range cases {
		if got := Classify(errors.New(c.msg)); got != c.want {
			t.Errorf("Classify(%q) = %s, want %s", c.msg, got, c.want)
		}
	}
}

func TestClassifyNilIsDefault(t *testing.T) {
	if Classify(nil) != CategoryDefault {
		t.Error("Classify(nil) should be CategoryDefault")
	}
}

func TestDelayForAttemptGrowsAndCaps(t *testing.T) {
	policy := BackoffPolicy{MaxAttempts: 5, Base: 10 * time.Millisecond, Max: 100 * time.Millisecond, Multiplier: 2.0, Jitter: false}

	d1 := delayForAttempt(policy, 1)
	d2 := delayForAttempt(policy, 2)
	d3 := delayForAttempt(policy, 3)

	if d1 != 10*time.Millisecond {
		t.Errorf("attempt 1 delay = %v, want 10ms", d1)
	}
	if d2 != 20*time.Millisecond {
		t.Errorf("attempt 2 delay = %v, want 20ms", d2)
	}
	if d3 != 40*time.Millisecond {
		t.Errorf("attempt 3 delay = %v, want 40ms", d3)
	}

	d10 := delayForAttempt(policy, 10)
	if d10 != policy.Max {
		t.Errorf("attempt 10 delay = %v, want capped at %v", d10, policy.Max)
	}
}

func TestDelayForAttemptJitterBounds(t *testing.T) {
	policy := BackoffPolicy{MaxAttempts: 5, Base: 100 * time.Millisecond, Max: time.Second, Multiplier: 1.0, Jitter: true}

	for i := 0; i < 200; i++ {
		d := delayForAttempt(policy, 1)
		lower := 75 * time.Millisecond
		upper := 125 * time.Millisecond
		if d < lower || d > upper {
			t.Fatalf("jittered delay %v outside expected [%v, %v]", d, lower, upper)
		}
	}
}

func TestDoSucceedsWithoutRetry(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), nil, "op-1", func(attempt int) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoPermanentErrorStopsImmediately(t *testing.T) {
	attempts := 0
	permanentErr := core.NewFrameworkError("test.op", core.KindInvalidToken, errors.New("bad token"))

	err := Do(context.Background(), nil, "op-2", func(attempt int) error {
		attempts++
		return permanentErr
	})

	if !errors.Is(err, permanentErr) && err != permanentErr {
		t.Fatalf("expected permanent error returned as-is, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a permanent error, got %d", attempts)
	}
}

func TestDoSystemErrorReturnsOnDeadline(t *testing.T) {
	attempts := 0
	systemErr := core.NewFrameworkError("test.op", core.KindInternal, errors.New("internal failure"))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := Do(ctx, nil, "op-3", func(attempt int) error {
		attempts++
		return systemErr
	})

	if err == nil {
		t.Fatal("expected an error after exhausting retries or cancellation")
	}
	if attempts == 0 {
		t.Fatal("expected at least one attempt")
	}
}

func TestDoRecordsAttempts(t *testing.T) {
	recorder := NewAttemptRecorder(time.Hour)
	attempts := 0

	err := Do(context.Background(), recorder, "op-4", func(attempt int) error {
		attempts++
		if attempts < 2 {
			return errors.New("connection reset")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}

	recs := recorder.Records("op-4")
	if len(recs) != 2 {
		t.Fatalf("expected 2 recorded attempts, got %d", len(recs))
	}
	if recs[0].Success {
		t.Error("first recorded attempt should be a failure")
	}
	if !recs[1].Success {
		t.Error("second recorded attempt should be a success")
	}
}

func TestDoContextCancellationIsPrompt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	start := time.Now()
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, nil, "op-5", func(attempt int) error {
		return errors.New("connection refused")
	})

	elapsed := time.Since(start)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("cancellation took too long: %v", elapsed)
	}
}

func TestAttemptRecorderSweepPrunesOldRecords(t *testing.T) {
	recorder := NewAttemptRecorder(time.Hour)
	now := time.Now()

	recorder.Record(AttemptRecord{OperationID: "op-6", Attempt: 1, RecordedAt: now.Add(-2 * time.Hour)})
	recorder.Record(AttemptRecord{OperationID: "op-6", Attempt: 2, RecordedAt: now})

	recorder.Sweep(now)

	recs := recorder.Records("op-6")
	if len(recs) != 1 {
		t.Fatalf("expected 1 surviving record after sweep, got %d", len(recs))
	}
	if recs[0].Attempt != 2 {
		t.Errorf("expected the recent record to survive, got attempt %d", recs[0].Attempt)
	}
}

func TestAttemptRecorderDefaultRetention(t *testing.T) {
	recorder := NewAttemptRecorder(0)
	if recorder.retention != 24*time.Hour {
		t.Errorf("expected default 24h retention, got %v", recorder.retention)
	}
}
