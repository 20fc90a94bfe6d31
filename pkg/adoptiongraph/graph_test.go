package adoptiongraph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/freshness"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

func hasEdge(g *Graph, from, to string, kind EdgeKind) bool {
	for _, e := range g.Edges {
		if e.From == from && e.To == to && e.Kind == kind {
			return true
		}
	}
	return false
}

func node(g *Graph, id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	s := store.NewMemoryStore()

	require.NoError(t, s.UpsertControl(ctx, &contracts.Control{
		ID: "c1", OrgID: "org", Code: "SOC2:CC2.2", RiskLevel: contracts.RiskMedium,
		Obligations: []contracts.ObligationRef{{ID: "soc2-cc2.2", Framework: "SOC2", Clause: "CC2.2"}},
	}))
	require.NoError(t, s.UpsertControl(ctx, &contracts.Control{ID: "c2", OrgID: "org", Code: "ISO:A.7"}))
	require.NoError(t, s.CreateMapping(ctx, &contracts.ControlMapping{ID: "m1", OrgID: "org", ControlID: "c1", CampaignID: "camp", ModuleID: "mod-a", Active: true}))
	require.NoError(t, s.CreateMapping(ctx, &contracts.ControlMapping{ID: "m2", OrgID: "org", ControlID: "c2", CampaignID: "camp", Active: true}))
	for _, a := range []contracts.Assignment{
		{ID: "a1", OrgID: "org", CampaignID: "camp", ModuleID: "mod-a", UserID: "u1", Status: contracts.AssignmentCompleted},
		{ID: "a2", OrgID: "org", CampaignID: "camp", ModuleID: "mod-a", UserID: "u2", Status: contracts.AssignmentAssigned},
		{ID: "a3", OrgID: "org", CampaignID: "camp", ModuleID: "mod-b", UserID: "u3", Status: contracts.AssignmentCompleted},
	} {
		a := a
		require.NoError(t, s.UpsertAssignment(ctx, &a))
	}
	require.NoError(t, s.InsertSnapshot(ctx, &contracts.FreshnessSnapshot{
		ID: "snap", OrgID: "org", ControlID: "c1", State: contracts.StateAging, Score: 70, ComputedAt: now,
	}))

	b := NewBuilder(s, freshness.NewService(s).WithClock(func() time.Time { return now }))
	g, err := b.Build(ctx, "org")
	require.NoError(t, err)

	assert.True(t, hasEdge(g, "obligation:soc2-cc2.2", "control:c1", EdgeMappedTo))
	assert.True(t, hasEdge(g, "control:c1", "campaign:camp", EdgeTrainedBy))
	assert.True(t, hasEdge(g, "campaign:camp", "module:mod-a", EdgeContains))
	assert.True(t, hasEdge(g, "campaign:camp", "module:mod-b", EdgeContains))
	assert.True(t, hasEdge(g, "module:mod-a", "outcome:mod-a", EdgeYields))
	assert.True(t, hasEdge(g, "outcome:mod-a", "freshness:c1", EdgeInforms))
	assert.False(t, hasEdge(g, "outcome:mod-b", "freshness:c1", EdgeInforms), "c1 maps to mod-a only")
	assert.True(t, hasEdge(g, "outcome:mod-b", "freshness:c2", EdgeInforms), "campaign-wide mapping reaches every module")

	out := node(g, "outcome:mod-a")
	require.NotNil(t, out)
	assert.Equal(t, 1, out.Data["completed"])
	assert.Equal(t, 0.5, out.Data["completion_rate"])

	stored := node(g, "freshness:c1")
	require.NotNil(t, stored)
	assert.Equal(t, 70, stored.Data["score"])

	computed := node(g, "freshness:c2")
	require.NotNil(t, computed)
	assert.Equal(t, string(contracts.StateCritical), computed.Data["state"])

	snaps, err := s.ListSnapshots(ctx, "org", "c2", 0)
	require.NoError(t, err)
	assert.Empty(t, snaps, "building the graph never writes snapshots")

	assert.Equal(t, 1, g.Stats.Nodes[KindObligation])
	assert.Equal(t, 2, g.Stats.Nodes[KindControl])
	assert.Equal(t, 2, g.Stats.Nodes[KindModule])
	assert.Equal(t, len(g.Edges), g.Stats.Edges)
}

func TestBuild_EmptyOrg(t *testing.T) {
	s := store.NewMemoryStore()
	g, err := NewBuilder(s, freshness.NewService(s)).Build(context.Background(), "org")
	require.NoError(t, err)
	assert.Empty(t, g.Nodes)
	assert.Empty(t, g.Edges)
}
