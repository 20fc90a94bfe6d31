package lineage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/adoption/pkg/apperror"
	"github.com/Mindburn-Labs/adoption/pkg/audit"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

var actor = contracts.Actor{OrgID: "org", UserID: "alice", RequestID: "req"}

func seed(t *testing.T, s *store.MemoryStore, id string, at time.Time) {
	t.Helper()
	ok, err := s.InsertEvidence(context.Background(), &contracts.Evidence{
		ID: id, OrgID: "org", ControlID: "c1", Type: contracts.EvidenceAttestation,
		SourceTable: "attestations", SourceID: id, Status: contracts.EvidenceSynced,
		DedupKey: id, OccurredAt: at,
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func newService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return NewService(s, audit.NewRecorder(audit.NewStoreSink(s))), s
}

func TestCreateLineageLinks_IdempotentAndDropsSelfLinks(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	n, err := svc.CreateLineageLinks(ctx, actor, "a", []string{"b", "c", "a", "b"}, contracts.RelationDerivedFrom, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.CreateLineageLinks(ctx, actor, "a", []string{"b", "c"}, contracts.RelationDerivedFrom, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	// A different relation between the same pair is a distinct edge.
	n, err = svc.CreateLineageLinks(ctx, actor, "a", []string{"b"}, contracts.RelationSupersedes, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreateLineageLinks_Validation(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.CreateLineageLinks(context.Background(), actor, "a", []string{"b"}, "copied_from", nil)
	assert.True(t, apperror.Is(err, apperror.KindValidation))

	_, err = svc.CreateLineageLinks(context.Background(), actor, "", []string{"b"}, contracts.RelationDerivedFrom, nil)
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}

// Every link appears in BySource of its source and ByTarget of its target.
func TestFetchLineageForIDs_Symmetric(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateLineageLinks(ctx, actor, "a", []string{"b"}, contracts.RelationDerivedFrom, nil)
	require.NoError(t, err)
	_, err = svc.CreateLineageLinks(ctx, actor, "b", []string{"c"}, contracts.RelationSupersedes, nil)
	require.NoError(t, err)

	g, err := svc.FetchLineageForIDs(ctx, "org", []string{"a", "b", "c"})
	require.NoError(t, err)

	count := 0
	for src, links := range g.BySource {
		for _, l := range links {
			count++
			assert.Equal(t, src, l.SourceID)
			assert.Contains(t, g.ByTarget[l.TargetID], l)
		}
	}
	assert.Equal(t, 2, count, "edges touching two queried ids must not be duplicated")
	for tgt, links := range g.ByTarget {
		for _, l := range links {
			assert.Equal(t, tgt, l.TargetID)
			assert.Contains(t, g.BySource[l.SourceID], l)
		}
	}
}

func TestFetchLineageForIDs_Empty(t *testing.T) {
	svc, _ := newService(t)
	g, err := svc.FetchLineageForIDs(context.Background(), "org", nil)
	require.NoError(t, err)
	assert.Empty(t, g.BySource)
	assert.Empty(t, g.ByTarget)
}

func TestTimeline(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed(t, s, "old", now.Add(-48*time.Hour))
	seed(t, s, "new", now.Add(-time.Hour))
	seed(t, s, "export", now)

	_, err := svc.CreateLineageLinks(ctx, actor, "new", []string{"old"}, contracts.RelationSupersedes, nil)
	require.NoError(t, err)
	_, err = svc.CreateLineageLinks(ctx, actor, "new", []string{"old"}, contracts.RelationDerivedFrom, nil)
	require.NoError(t, err)
	_, err = svc.CreateLineageLinks(ctx, actor, "new", []string{"export"}, contracts.RelationExportedIn, nil)
	require.NoError(t, err)

	entries, err := svc.Timeline(ctx, "org", "c1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "old", entries[0].Evidence.ID)
	assert.Equal(t, 1, entries[0].SupersededBy)
	assert.Equal(t, 1, entries[0].DerivedBy)

	assert.Equal(t, "new", entries[1].Evidence.ID)
	assert.Equal(t, 1, entries[1].Supersedes)
	assert.Equal(t, 1, entries[1].DerivedFrom)
	assert.Equal(t, 1, entries[1].ExportedIn)

	assert.Equal(t, "export", entries[2].Evidence.ID)
}
