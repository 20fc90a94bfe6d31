package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

func TestMemoryStore_EvidenceDedup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	e := &contracts.Evidence{ID: "e1", OrgID: "org", ControlID: "c1", DedupKey: "k1", Status: contracts.EvidenceQueued}

	ok, err := s.InsertEvidence(ctx, e)
	require.NoError(t, err)
	assert.True(t, ok)

	dup := *e
	dup.ID = "e2"
	ok, err = s.InsertEvidence(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetEvidenceByDedupKey(ctx, "org", "k1")
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ID)

	// Same key in another org is a different row.
	other := *e
	other.ID, other.OrgID = "e3", "org-2"
	ok, err = s.InsertEvidence(ctx, &other)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.GetEvidenceByDedupKey(ctx, "org", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpdateEvidenceStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		_, err := s.InsertEvidence(ctx, &contracts.Evidence{
			ID: id, OrgID: "org", ControlID: "c1", DedupKey: id,
			Type: contracts.EvidenceAttestation, Status: contracts.EvidenceQueued,
			OccurredAt: now.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	changed, err := s.UpdateEvidenceStatus(ctx, contracts.StatusUpdate{
		OrgID: "org", ControlID: "c1", ExcludeIDs: []string{"c"}, To: contracts.EvidenceStale,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, changed)

	changed, err = s.UpdateEvidenceStatus(ctx, contracts.StatusUpdate{
		OrgID: "org", FromStatuses: []contracts.EvidenceStatus{contracts.EvidenceQueued}, To: contracts.EvidenceSynced,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, changed)

	rows, err := s.ListEvidenceForControl(ctx, "org", "c1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, contracts.EvidenceSynced, rows[2].Status)
}

func TestMemoryStore_LineageIsUnique(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	link := contracts.LineageLink{OrgID: "org", SourceID: "n", TargetID: "o", Relation: contracts.RelationSupersedes}

	n, err := s.InsertLineageLinks(ctx, []contracts.LineageLink{link, link})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	bySource, err := s.ListLineageBySource(ctx, "org", []string{"n"})
	require.NoError(t, err)
	assert.Len(t, bySource, 1)

	byTarget, err := s.ListLineageByTarget(ctx, "org", []string{"n"})
	require.NoError(t, err)
	assert.Empty(t, byTarget)
}

func TestMemoryStore_RecommendationTransitions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := &contracts.Recommendation{ID: "r1", OrgID: "org", ControlID: "c1",
		Type: contracts.RecommendReminderCadence, Status: contracts.RecommendationProposed}

	ok, err := s.InsertRecommendation(ctx, r)
	require.NoError(t, err)
	assert.True(t, ok)

	dup := *r
	dup.ID = "r2"
	ok, err = s.InsertRecommendation(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, ok, "active (control, type) must be unique")

	got, err := s.TransitionRecommendation(ctx, contracts.RecommendationTransition{
		OrgID: "org", ID: "r1", From: []contracts.RecommendationStatus{contracts.RecommendationProposed},
		To: contracts.RecommendationDismissed,
	})
	require.NoError(t, err)
	assert.Equal(t, contracts.RecommendationDismissed, got.Status)

	_, err = s.TransitionRecommendation(ctx, contracts.RecommendationTransition{
		OrgID: "org", ID: "r1", From: []contracts.RecommendationStatus{contracts.RecommendationProposed},
		To: contracts.RecommendationApproved,
	})
	assert.ErrorIs(t, err, ErrStaleTransition)

	// Dismissed rows no longer block a new proposal.
	ok, err = s.InsertRecommendation(ctx, &dup)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.GetRecommendation(ctx, "other-org", "r1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_FinishExecution(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.InsertRecommendation(ctx, &contracts.Recommendation{ID: "r1", OrgID: "org",
		ControlID: "c1", Type: contracts.RecommendReminderCadence, Status: contracts.RecommendationExecuting})
	require.NoError(t, err)

	ok, err := s.InsertExecution(ctx, &contracts.Execution{ID: "x1", OrgID: "org", InterventionID: "r1",
		IdempotencyKey: "k", Status: contracts.ExecutionRunning})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.InsertExecution(ctx, &contracts.Execution{ID: "x2", OrgID: "org", InterventionID: "r1",
		IdempotencyKey: "k", Status: contracts.ExecutionRunning})
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.FinishExecution(ctx, contracts.ExecutionOutcome{OrgID: "org", ExecutionID: "x1",
		InterventionID: "r1", Status: contracts.ExecutionFailed, Error: "boom", FinishedAt: time.Now()})
	require.NoError(t, err)

	r, err := s.GetRecommendation(ctx, "org", "r1")
	require.NoError(t, err)
	assert.Equal(t, contracts.RecommendationApproved, r.Status)

	x, err := s.GetExecution(ctx, "org", "r1", "k")
	require.NoError(t, err)
	assert.Equal(t, contracts.ExecutionFailed, x.Status)
	assert.Equal(t, "boom", x.Error)
	assert.NotNil(t, x.FinishedAt)
}

func TestMemoryStore_MappingsAndPolicy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	m := &contracts.ControlMapping{ID: "m1", OrgID: "org", ControlID: "c1", CampaignID: "camp", Active: true}
	require.NoError(t, s.CreateMapping(ctx, m))

	dup := *m
	dup.ID = "m2"
	assert.ErrorIs(t, s.CreateMapping(ctx, &dup), ErrConflict)

	require.NoError(t, s.CreateMapping(ctx, &contracts.ControlMapping{ID: "m3", OrgID: "org",
		ControlID: "c2", CampaignID: "other", ModuleID: "mod", Active: true}))

	ids, err := s.ActiveControlsFor(ctx, "org", []string{"camp"}, []string{"mod"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, ids)

	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(48 * time.Hour)
	require.NoError(t, s.UpsertCampaign(ctx, &contracts.Campaign{ID: "camp", OrgID: "org", UpdatedAt: older}))
	require.NoError(t, s.UpsertCampaign(ctx, &contracts.Campaign{ID: "other", OrgID: "org", UpdatedAt: newer}))

	at, err := s.PolicyUpdatedAt(ctx, "org", []string{"camp", "other"})
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.True(t, at.Equal(newer))
}

func TestMemoryStore_WithoutBenchmarks(t *testing.T) {
	s := NewMemoryStore().WithoutBenchmarks()
	ctx := context.Background()

	caps, err := s.Capabilities(ctx)
	require.NoError(t, err)
	assert.False(t, caps.Benchmarks)

	_, err = s.LatestOrgMetric(ctx, "org", contracts.MetricControlFreshness)
	assert.ErrorIs(t, err, ErrRelationNotFound)
}

func TestMemoryStore_NotificationsDedupe(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	jobs := []contracts.NotificationJob{
		{ID: "n1", OrgID: "org", DedupeKey: "x:a1"},
		{ID: "n2", OrgID: "org", DedupeKey: "x:a1"},
		{ID: "n3", OrgID: "org", DedupeKey: "x:a2"},
	}
	n, err := s.EnqueueNotifications(ctx, jobs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.EnqueueNotifications(ctx, jobs)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemoryStore_ExecutionKeysDoNotCollide(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ok, err := s.InsertExecution(ctx, &contracts.Execution{ID: "x1", OrgID: "org", InterventionID: "a|b",
		IdempotencyKey: "c", Status: contracts.ExecutionRunning})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.InsertExecution(ctx, &contracts.Execution{ID: "x2", OrgID: "org", InterventionID: "a",
		IdempotencyKey: "b|c", Status: contracts.ExecutionRunning})
	require.NoError(t, err)
	assert.True(t, ok)

	x, err := s.GetExecution(ctx, "org", "a", "b|c")
	require.NoError(t, err)
	assert.Equal(t, "x2", x.ID)
	x, err = s.GetExecution(ctx, "org", "a|b", "c")
	require.NoError(t, err)
	assert.Equal(t, "x1", x.ID)
}
