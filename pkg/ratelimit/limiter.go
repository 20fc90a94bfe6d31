// Package ratelimit throttles actions per actor. Keys are built by the
// caller (typically contracts.Actor.Key), so one limiter serves every
// action.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/adoption/pkg/apperror"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

// Policy defines the sustained rate and burst allowed per key.
type Policy struct {
	RPM   int
	Burst int
}

func (p Policy) perSecond() float64 {
	if p.RPM <= 0 {
		return 1
	}
	return float64(p.RPM) / 60.0
}

func (p Policy) burst() int {
	if p.Burst <= 0 {
		return 1
	}
	return p.Burst
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter decides whether the action identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Guard consults l for actor+action and returns a RATE_LIMITED error when
// denied. A nil limiter allows everything.
func Guard(ctx context.Context, l Limiter, actor contracts.Actor, action string) error {
	if l == nil {
		return nil
	}
	d, err := l.Allow(ctx, actor.Key(action))
	if err != nil {
		return apperror.DB(action+": rate limiter", err)
	}
	if !d.Allowed {
		return apperror.RateLimited(action, d.RetryAfter)
	}
	return nil
}

// MemoryLimiter keeps one x/time/rate limiter per key in process.
type MemoryLimiter struct {
	mu       sync.Mutex
	policy   Policy
	visitors map[string]*visitor
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(policy Policy) *MemoryLimiter {
	return &MemoryLimiter{
		policy:   policy,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (m *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	m.now = now
	return m
}

func (m *MemoryLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	v, ok := m.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(m.policy.perSecond()), m.policy.burst())}
		m.visitors[key] = v
	}
	v.lastSeen = now

	r := v.limiter.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false, RetryAfter: time.Minute}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true}, nil
}

// Sweep drops keys idle for longer than idle.
func (m *MemoryLimiter) Sweep(idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for key, v := range m.visitors {
		if now.Sub(v.lastSeen) > idle {
			delete(m.visitors, key)
			removed++
		}
	}
	return removed
}
