package grcsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/adoption/pkg/apperror"
	"github.com/Mindburn-Labs/adoption/pkg/audit"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/ratelimit"
	"github.com/Mindburn-Labs/adoption/pkg/retry"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

var actor = contracts.Actor{OrgID: "org", UserID: "ops"}

// flakyProvider fails the first failures calls and rejects ids in reject.
type flakyProvider struct {
	failures int
	calls    int
	reject   map[string]bool
	err      error
}

func (p *flakyProvider) Name() string { return "flaky" }

func (p *flakyProvider) Push(_ context.Context, _ string, batch []contracts.Evidence) ([]PushResult, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, p.err
	}
	out := make([]PushResult, 0, len(batch))
	for _, e := range batch {
		out = append(out, PushResult{EvidenceID: e.ID, Accepted: !p.reject[e.ID]})
	}
	return out, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func seed(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	for i, st := range []contracts.EvidenceStatus{contracts.EvidenceQueued, contracts.EvidenceQueued, contracts.EvidenceSynced} {
		id := []string{"e1", "e2", "e3"}[i]
		_, err := s.InsertEvidence(context.Background(), &contracts.Evidence{
			ID: id, OrgID: "org", ControlID: "c1", Type: contracts.EvidenceQuizPass, Status: st, DedupKey: id,
		})
		require.NoError(t, err)
	}
	return s
}

func newSyncer(s *store.MemoryStore, p Provider) *Syncer {
	runner := &retry.Runner{Policy: retry.DefaultPolicy, Sleep: noSleep}
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Policy{RPM: 60, Burst: 10})
	return NewSyncer(s, p, limiter, audit.NewRecorder(audit.NewStoreSink(s))).WithRunner(runner)
}

func TestSyncControl_RetriesThenApplies(t *testing.T) {
	s := seed(t)
	p := &flakyProvider{failures: 2, err: errors.New("503"), reject: map[string]bool{"e2": true}}

	report, err := newSyncer(s, p).SyncControl(context.Background(), actor, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, 2, report.Pushed)
	assert.Equal(t, []string{"e1"}, report.Synced)
	assert.Equal(t, []string{"e2"}, report.Rejected)

	rows, err := s.GetEvidence(context.Background(), "org", []string{"e1", "e2"})
	require.NoError(t, err)
	statuses := map[string]contracts.EvidenceStatus{}
	for _, r := range rows {
		statuses[r.ID] = r.Status
	}
	assert.Equal(t, contracts.EvidenceSynced, statuses["e1"])
	assert.Equal(t, contracts.EvidenceRejected, statuses["e2"])
}

func TestSyncControl_PermanentErrorStopsRetrying(t *testing.T) {
	s := seed(t)
	p := &flakyProvider{failures: 10, err: retry.Permanent(errors.New("401 unauthorized"))}

	_, err := newSyncer(s, p).SyncControl(context.Background(), actor, "c1")
	require.Error(t, err)
	assert.Equal(t, 1, p.calls)

	events, err := s.ListAudit(context.Background(), "org", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, contracts.AuditFailure, events[0].Status)
}

func TestSyncControl_NothingQueued(t *testing.T) {
	s := store.NewMemoryStore()
	p := &flakyProvider{}
	report, err := newSyncer(s, p).SyncControl(context.Background(), actor, "c1")
	require.NoError(t, err)
	assert.Zero(t, report.Pushed)
	assert.Zero(t, p.calls)
}

func TestSyncControl_RateLimited(t *testing.T) {
	s := seed(t)
	syncer := newSyncer(s, NewLogProvider())
	syncer.limiter = ratelimit.NewMemoryLimiter(ratelimit.Policy{RPM: 1, Burst: 1})

	_, err := syncer.SyncControl(context.Background(), actor, "c1")
	require.NoError(t, err)
	_, err = syncer.SyncControl(context.Background(), actor, "c1")
	assert.True(t, apperror.Is(err, apperror.KindRateLimited))
}
