package intervention

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
	"github.com/Mindburn-Labs/adoption/pkg/freshness"
	"github.com/Mindburn-Labs/adoption/pkg/notify"
	"github.com/Mindburn-Labs/adoption/pkg/ratelimit"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

var (
	actor = contracts.Actor{OrgID: "org", UserID: "ops", RequestID: "req"}
	now   = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	clock = func() time.Time { return now }
)

type fixture struct {
	store    *store.MemoryStore
	workflow *Workflow
	rec      *Recommender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.UpsertControl(ctx, &contracts.Control{
		ID: "c1", OrgID: "org", Code: "SOC2:CC2.2", RiskLevel: contracts.RiskHigh, Owner: "ciso", RoleTrack: "engineering",
	}))
	require.NoError(t, s.UpsertCampaign(ctx, &contracts.Campaign{ID: "camp", OrgID: "org", UpdatedAt: now.Add(-30 * 24 * time.Hour)}))
	require.NoError(t, s.CreateMapping(ctx, &contracts.ControlMapping{ID: "m1", OrgID: "org", ControlID: "c1", CampaignID: "camp", Active: true}))
	for _, a := range []contracts.Assignment{
		{ID: "a1", OrgID: "org", CampaignID: "camp", UserID: "u1", Status: contracts.AssignmentAssigned},
		{ID: "a2", OrgID: "org", CampaignID: "camp", UserID: "u2", Status: contracts.AssignmentInProgress},
		{ID: "a3", OrgID: "org", CampaignID: "camp", UserID: "u3", Status: contracts.AssignmentCompleted},
	} {
		a := a
		require.NoError(t, s.UpsertAssignment(ctx, &a))
	}

	recorder := audit.NewRecorder(audit.NewStoreSink(s)).WithClock(clock)
	assessor := freshness.NewService(s).WithClock(clock)
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Policy{RPM: 60, Burst: 5}).WithClock(clock)
	return &fixture{
		store:    s,
		rec:      NewRecommender(s, assessor, limiter, recorder).WithClock(clock),
		workflow: NewWorkflow(s, DefaultActions(s, s, notify.NewOutbox(s)), recorder).WithClock(clock),
	}
}

func (f *fixture) propose(t *testing.T, typ contracts.RecommendationType) string {
	t.Helper()
	r := contracts.Recommendation{ID: string(typ) + "-1", OrgID: "org", ControlID: "c1", Type: typ,
		Status: contracts.RecommendationProposed, CreatedAt: now, UpdatedAt: now}
	ok, err := f.store.InsertRecommendation(context.Background(), &r)
	require.NoError(t, err)
	require.True(t, ok)
	return r.ID
}

func TestGenerate_DeduplicatesAcrossRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.rec.Generate(ctx, actor, "c1")
	require.NoError(t, err)
	assert.Equal(t, contracts.StateCritical, first.Snapshot.State)
	require.Len(t, first.Created, 3)
	assert.Equal(t, contracts.RecommendReminderCadence, first.Created[0].Type)

	second, err := f.rec.Generate(ctx, actor, "c1")
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Len(t, second.Skipped, 3)

	active, err := f.store.ListActiveRecommendations(ctx, "org", "c1")
	require.NoError(t, err)
	assert.Len(t, active, 3)
}

func TestGenerate_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.rec.limiter = ratelimit.NewMemoryLimiter(ratelimit.Policy{RPM: 1, Burst: 1}).WithClock(clock)

	_, err := f.rec.Generate(context.Background(), actor, "c1")
	require.NoError(t, err)
	_, err = f.rec.Generate(context.Background(), actor, "c1")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindRateLimited))
	assert.True(t, apperror.Retryable(err))
}

func TestExecute_RequiresApproval(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, contracts.RecommendReminderCadence)

	_, err := f.workflow.Execute(context.Background(), actor, id, "")
	assert.True(t, apperror.Is(err, apperror.KindConflict))

	execs, err := f.workflow.History(context.Background(), "org", id)
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestApproveAndDismiss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.propose(t, contracts.RecommendAttestationRefresh)

	rec, err := f.workflow.Approve(ctx, actor, id, "go")
	require.NoError(t, err)
	assert.Equal(t, contracts.RecommendationApproved, rec.Status)
	assert.Equal(t, "ops", rec.ApprovedBy)
	assert.Equal(t, "go", rec.ApprovalNote)
	require.NotNil(t, rec.ApprovedAt)

	_, err = f.workflow.Approve(ctx, actor, id, "again")
	assert.True(t, apperror.Is(err, apperror.KindConflict))

	_, err = f.workflow.Dismiss(ctx, actor, id, "changed my mind")
	assert.True(t, apperror.Is(err, apperror.KindConflict), "only proposed recommendations can be dismissed")

	_, err = f.workflow.Approve(ctx, actor, "missing", "")
	assert.True(t, apperror.Is(err, apperror.KindNotFound))

	other := f.propose(t, contracts.RecommendManagerEscalation)
	rec, err = f.workflow.Dismiss(ctx, actor, other, "duplicate")
	require.NoError(t, err)
	assert.Equal(t, contracts.RecommendationDismissed, rec.Status)
}

func TestExecute_IdempotentReminderCadence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.propose(t, contracts.RecommendReminderCadence)
	_, err := f.workflow.Approve(ctx, actor, id, "")
	require.NoError(t, err)

	first, err := f.workflow.Execute(ctx, actor, id, "")
	require.NoError(t, err)
	assert.False(t, first.Reused)
	assert.Equal(t, contracts.ExecutionCompleted, first.Execution.Status)
	assert.Equal(t, DefaultIdempotencyKey(id), first.Execution.IdempotencyKey)
	assert.Equal(t, 2, first.Execution.Result["queued"], "completed assignments get no reminder")

	second, err := f.workflow.Execute(ctx, actor, id, "")
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Execution.ID, second.Execution.ID)
	assert.Equal(t, first.Execution.Result, second.Execution.Result)

	jobs, err := f.store.ListNotifications(ctx, "org")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	execs, err := f.workflow.History(ctx, "org", id)
	require.NoError(t, err)
	assert.Len(t, execs, 1)

	rec, err := f.store.GetRecommendation(ctx, "org", id)
	require.NoError(t, err)
	assert.Equal(t, contracts.RecommendationCompleted, rec.Status)

	_, err = f.workflow.Execute(ctx, actor, id, "new-key")
	assert.True(t, apperror.Is(err, apperror.KindConflict), "completed interventions only replay existing keys")
}

func TestExecute_AttestationRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, st := range []contracts.EvidenceStatus{contracts.EvidenceQueued, contracts.EvidenceSynced, contracts.EvidenceRejected} {
		_, err := f.store.InsertEvidence(ctx, &contracts.Evidence{
			ID: string(st), OrgID: "org", ControlID: "c1", Type: contracts.EvidenceAttestation,
			Status: st, DedupKey: string(rune('a' + i)), OccurredAt: now,
		})
		require.NoError(t, err)
	}
	id := f.propose(t, contracts.RecommendAttestationRefresh)
	_, err := f.workflow.Approve(ctx, actor, id, "")
	require.NoError(t, err)

	res, err := f.workflow.Execute(ctx, actor, id, "k1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Execution.Result["staleMarked"])

	rows, err := f.store.GetEvidence(ctx, "org", []string{"queued", "synced", "rejected"})
	require.NoError(t, err)
	for _, r := range rows {
		if r.ID == "rejected" {
			assert.Equal(t, contracts.EvidenceRejected, r.Status)
		} else {
			assert.Equal(t, contracts.EvidenceStale, r.Status)
		}
	}
}

func TestExecute_FailureRevertsToApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	boom := errors.New("smtp relay down")
	calls := 0
	f.workflow.actions[contracts.RecommendReminderCadence] = ActionFunc(func(context.Context, ActionRequest) (map[string]any, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return map[string]any{"queued": 0}, nil
	})

	id := f.propose(t, contracts.RecommendReminderCadence)
	_, err := f.workflow.Approve(ctx, actor, id, "")
	require.NoError(t, err)

	_, err = f.workflow.Execute(ctx, actor, id, "try-1")
	require.ErrorIs(t, err, boom)

	rec, err := f.store.GetRecommendation(ctx, "org", id)
	require.NoError(t, err)
	assert.Equal(t, contracts.RecommendationApproved, rec.Status)

	failed, err := f.store.GetExecution(ctx, "org", id, "try-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ExecutionFailed, failed.Status)
	assert.Contains(t, failed.Error, "smtp relay down")

	replay, err := f.workflow.Execute(ctx, actor, id, "try-1")
	require.NoError(t, err)
	assert.True(t, replay.Reused)
	assert.Equal(t, contracts.ExecutionFailed, replay.Execution.Status)
	assert.Equal(t, 1, calls)

	retry, err := f.workflow.Execute(ctx, actor, id, "try-2")
	require.NoError(t, err)
	assert.Equal(t, contracts.ExecutionCompleted, retry.Execution.Status)
	assert.Equal(t, 2, calls)
}

func TestExecute_AdvisoryActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	esc := f.propose(t, contracts.RecommendManagerEscalation)
	_, err := f.workflow.Approve(ctx, actor, esc, "")
	require.NoError(t, err)
	res, err := f.workflow.Execute(ctx, actor, esc, "")
	require.NoError(t, err)
	assert.Equal(t, "ciso", res.Execution.Result["owner"])
	assert.Equal(t, true, res.Execution.Result["escalated"])

	ref := f.propose(t, contracts.RecommendRoleRefresherModule)
	_, err = f.workflow.Approve(ctx, actor, ref, "")
	require.NoError(t, err)
	res, err = f.workflow.Execute(ctx, actor, ref, "")
	require.NoError(t, err)
	assert.Equal(t, "engineering", res.Execution.Result["roleTrack"])
}

func TestExecute_WritesAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.propose(t, contracts.RecommendManagerEscalation)
	_, err := f.workflow.Approve(ctx, actor, id, "")
	require.NoError(t, err)
	_, err = f.workflow.Execute(ctx, actor, id, "")
	require.NoError(t, err)

	events, err := f.store.ListAudit(ctx, "org", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.ActionExecute, events[0].Action)
	assert.Equal(t, audit.ActionApprove, events[1].Action)

	chain := []contracts.AuditEvent{events[1], events[0]}
	assert.NoError(t, audit.VerifyChain(chain))
}

// flakyStore fails the first write of the configured kind.
type flakyStore struct {
	*store.MemoryStore
	failInsert     bool
	failCompletion bool
}

func (s *flakyStore) InsertExecution(ctx context.Context, e *contracts.Execution) (bool, error) {
	if s.failInsert {
		s.failInsert = false
		return false, errors.New("connection reset")
	}
	return s.MemoryStore.InsertExecution(ctx, e)
}

func (s *flakyStore) FinishExecution(ctx context.Context, o contracts.ExecutionOutcome) error {
	if s.failCompletion && o.Status == contracts.ExecutionCompleted {
		s.failCompletion = false
		return errors.New("connection reset")
	}
	return s.MemoryStore.FinishExecution(ctx, o)
}

func TestExecute_CompletionWriteFailureDoesNotStrand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flaky := &flakyStore{MemoryStore: f.store, failCompletion: true}
	w := NewWorkflow(flaky, DefaultActions(f.store, f.store, notify.NewOutbox(f.store)), nil).WithClock(clock)

	id := f.propose(t, contracts.RecommendManagerEscalation)
	_, err := w.Approve(ctx, actor, id, "")
	require.NoError(t, err)

	_, err = w.Execute(ctx, actor, id, "k1")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindDB))

	rec, err := f.store.GetRecommendation(ctx, "org", id)
	require.NoError(t, err)
	assert.Equal(t, contracts.RecommendationApproved, rec.Status)

	replay, err := w.Execute(ctx, actor, id, "k1")
	require.NoError(t, err)
	assert.True(t, replay.Reused)
	assert.Equal(t, contracts.ExecutionFailed, replay.Execution.Status)
	assert.Contains(t, replay.Execution.Error, "connection reset")

	retry, err := w.Execute(ctx, actor, id, "k2")
	require.NoError(t, err)
	assert.False(t, retry.Reused)
	assert.Equal(t, contracts.ExecutionCompleted, retry.Execution.Status)
}

func TestExecute_InsertFailureRevertsStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flaky := &flakyStore{MemoryStore: f.store, failInsert: true}
	w := NewWorkflow(flaky, DefaultActions(f.store, f.store, notify.NewOutbox(f.store)), nil).WithClock(clock)

	id := f.propose(t, contracts.RecommendManagerEscalation)
	_, err := w.Approve(ctx, actor, id, "")
	require.NoError(t, err)

	_, err = w.Execute(ctx, actor, id, "k1")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindDB))

	rec, err := f.store.GetRecommendation(ctx, "org", id)
	require.NoError(t, err)
	assert.Equal(t, contracts.RecommendationApproved, rec.Status)

	execs, err := w.History(ctx, "org", id)
	require.NoError(t, err)
	assert.Empty(t, execs)

	res, err := w.Execute(ctx, actor, id, "k1")
	require.NoError(t, err)
	assert.False(t, res.Reused)
	assert.Equal(t, contracts.ExecutionCompleted, res.Execution.Status)
}
