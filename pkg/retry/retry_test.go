package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestComputeBackoffExponential(t *testing.T) {
	policy := Policy{BaseMs: 100, MaxMs: 1000}

	want := []int64{100, 200, 400, 800, 1000, 1000}
	for attempt, ms := range want {
		got := ComputeBackoff("k", attempt, policy)
		if got != time.Duration(ms)*time.Millisecond {
			t.Errorf("attempt %d: delay = %v, want %dms", attempt, got, ms)
		}
	}
}

func TestComputeBackoffJitterIsDeterministic(t *testing.T) {
	policy := Policy{BaseMs: 100, MaxMs: 1000, MaxJitterMs: 50}

	a := ComputeBackoff("sync:c1", 2, policy)
	b := ComputeBackoff("sync:c1", 2, policy)
	if a != b {
		t.Fatalf("same key and attempt gave %v and %v", a, b)
	}
	if a < 400*time.Millisecond || a >= 450*time.Millisecond {
		t.Errorf("delay %v outside [400ms, 450ms)", a)
	}
}

func TestRunnerRetriesUntilSuccess(t *testing.T) {
	var slept []time.Duration
	r := &Runner{
		Policy: Policy{BaseMs: 10, MaxMs: 100, MaxAttempts: 4},
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}

	calls := 0
	err := r.Do(context.Background(), "k", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(slept) != 2 || slept[0] != 20*time.Millisecond || slept[1] != 40*time.Millisecond {
		t.Errorf("sleeps = %v", slept)
	}
}

func TestRunnerStopsOnPermanent(t *testing.T) {
	r := &Runner{Policy: Policy{MaxAttempts: 5}, Sleep: func(context.Context, time.Duration) error { return nil }}
	sentinel := errors.New("rejected")

	calls := 0
	err := r.Do(context.Background(), "k", func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRunnerExhausts(t *testing.T) {
	r := &Runner{Policy: Policy{MaxAttempts: 3}, Sleep: func(context.Context, time.Duration) error { return nil }}
	sentinel := errors.New("down")

	err := r.Do(context.Background(), "k", func(context.Context) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapped sentinel", err)
	}
}
