package retry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Policy bounds an exponential backoff schedule.
type Policy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// DefaultPolicy is used for outbound integration calls.
var DefaultPolicy = Policy{BaseMs: 200, MaxMs: 5000, MaxJitterMs: 100, MaxAttempts: 4}

// ComputeBackoff returns the delay before attempt using jitter derived from
// key, so a given (key, attempt) always waits the same time.
func ComputeBackoff(key string, attempt int, policy Policy) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}

	delay := policy.BaseMs * factor
	if delay > policy.MaxMs {
		delay = policy.MaxMs
	}
	return time.Duration(delay+jitter(key, attempt, policy)) * time.Millisecond
}

func jitter(key string, attempt int, policy Policy) int64 {
	if policy.MaxJitterMs <= 0 {
		return 0
	}
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", key, attempt)))
	return int64(binary.BigEndian.Uint64(hash[:8]) % uint64(policy.MaxJitterMs)) //nolint:gosec // MaxJitterMs is positive
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Runner executes operations under a Policy.
type Runner struct {
	Policy Policy
	Sleep  Sleeper
}

// NewRunner returns a Runner that sleeps on the wall clock.
func NewRunner(policy Policy) *Runner {
	return &Runner{Policy: policy, Sleep: sleep}
}

// Do calls fn until it succeeds, returns a Permanent error, or the policy's
// attempts are exhausted. The last error is returned.
func (r *Runner) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	attempts := r.Policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if serr := r.Sleep(ctx, ComputeBackoff(key, attempt, r.Policy)); serr != nil {
				return serr
			}
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}
