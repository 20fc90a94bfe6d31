package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/adoption/pkg/apperror"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

func TestMemoryLimiter_BurstThenDeny(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(Policy{RPM: 60, Burst: 2}).WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d within burst", i)
	}

	d, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, time.Second.Seconds(), d.RetryAfter.Seconds(), 0.01)

	// Other keys have their own bucket.
	d, err = l.Allow(ctx, "other")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	now = now.Add(time.Second)
	d, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "refilled after one second")
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	now := time.Now()
	l := NewMemoryLimiter(Policy{RPM: 60, Burst: 1}).WithClock(func() time.Time { return now })
	_, _ = l.Allow(context.Background(), "k")

	now = now.Add(10 * time.Minute)
	assert.Equal(t, 1, l.Sweep(3*time.Minute))
}

func TestGuard(t *testing.T) {
	now := time.Now()
	l := NewMemoryLimiter(Policy{RPM: 1, Burst: 1}).WithClock(func() time.Time { return now })
	actor := contracts.Actor{OrgID: "org", UserID: "u1"}
	ctx := context.Background()

	require.NoError(t, Guard(ctx, l, actor, "recommend"))

	err := Guard(ctx, l, actor, "recommend")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindRateLimited))
	assert.True(t, apperror.Retryable(err))

	// A different action is keyed separately.
	assert.NoError(t, Guard(ctx, l, actor, "integration_sync"))
	assert.NoError(t, Guard(ctx, nil, actor, "recommend"))
}

// TestRedisLimiter_Integration requires a running Redis and skips otherwise.
func TestRedisLimiter_Integration(t *testing.T) {
	l := Dial("localhost:6379", "", 0, Policy{RPM: 60, Burst: 1})
	defer func() { _ = l.Close() }()
	ctx := context.Background()
	if err := l.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	key := "test:" + time.Now().Format(time.RFC3339Nano)
	d, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}
