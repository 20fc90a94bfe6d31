// Package adoptiongraph assembles the read-only obligation to freshness
// graph of an org for reporting.
package adoptiongraph

import (
	"context"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/adoption/pkg/apperror"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/freshness"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

type NodeKind string

const (
	KindObligation NodeKind = "obligation"
	KindControl    NodeKind = "control"
	KindCampaign   NodeKind = "campaign"
	KindModule     NodeKind = "module"
	KindOutcome    NodeKind = "outcome"
	KindFreshness  NodeKind = "freshness"
)

type EdgeKind string

const (
	EdgeMappedTo  EdgeKind = "mapped_to"  // obligation -> control
	EdgeTrainedBy EdgeKind = "trained_by" // control -> campaign
	EdgeContains  EdgeKind = "contains"   // campaign -> module
	EdgeYields    EdgeKind = "yields"     // module -> outcome
	EdgeInforms   EdgeKind = "informs"    // outcome -> freshness
)

type Node struct {
	ID    string         `json:"id"`
	Kind  NodeKind       `json:"kind"`
	Label string         `json:"label"`
	Data  map[string]any `json:"data,omitempty"`
}

type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

type Stats struct {
	Nodes map[NodeKind]int `json:"nodes"`
	Edges int              `json:"edges"`
}

// Graph is a snapshot; it is never written back.
type Graph struct {
	OrgID string `json:"org_id"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	Stats Stats  `json:"stats"`
}

// Repository is the storage surface the builder reads.
type Repository interface {
	store.ControlStore
	store.MappingStore
	store.AssignmentStore
	store.SnapshotStore
}

type Builder struct {
	repo     Repository
	assessor *freshness.Service
}

// NewBuilder returns a builder. assessor computes freshness for controls
// that have no stored snapshot yet; it is not persisted.
func NewBuilder(repo Repository, assessor *freshness.Service) *Builder {
	return &Builder{repo: repo, assessor: assessor}
}

type graphBuilder struct {
	nodes map[string]Node
	edges map[Edge]struct{}
}

func (g *graphBuilder) node(n Node) string {
	if _, ok := g.nodes[n.ID]; !ok {
		g.nodes[n.ID] = n
	}
	return n.ID
}

func (g *graphBuilder) edge(from, to string, kind EdgeKind) {
	g.edges[Edge{From: from, To: to, Kind: kind}] = struct{}{}
}

func moduleKey(campaignID, moduleID string) string {
	if moduleID == "" {
		return campaignID + ":all"
	}
	return moduleID
}

// Build reads the org's catalog and returns its adoption graph.
func (b *Builder) Build(ctx context.Context, orgID string) (*Graph, error) {
	const op = "adoptiongraph.build"

	controls, err := b.repo.ListControls(ctx, orgID)
	if err != nil {
		return nil, apperror.DB(op, err)
	}

	g := &graphBuilder{nodes: map[string]Node{}, edges: map[Edge]struct{}{}}
	campaignModules := map[string]map[string]bool{}
	controlModules := map[string][]string{}

	for _, c := range controls {
		label := c.Code
		if label == "" {
			label = c.ID
		}
		ctlID := g.node(Node{ID: "control:" + c.ID, Kind: KindControl, Label: label,
			Data: map[string]any{"risk_level": string(c.RiskLevel), "title": c.Title}})

		for _, o := range c.Obligations {
			obID := g.node(Node{ID: "obligation:" + o.ID, Kind: KindObligation, Label: o.Framework + " " + o.Clause,
				Data: map[string]any{"framework": o.Framework, "clause": o.Clause}})
			g.edge(obID, ctlID, EdgeMappedTo)
		}

		mappings, err := b.repo.ListMappingsForControl(ctx, orgID, c.ID)
		if err != nil {
			return nil, apperror.DB(op, err)
		}
		for _, m := range mappings {
			if !m.Active {
				continue
			}
			campID := g.node(Node{ID: "campaign:" + m.CampaignID, Kind: KindCampaign, Label: m.CampaignID})
			g.edge(ctlID, campID, EdgeTrainedBy)
			if campaignModules[m.CampaignID] == nil {
				campaignModules[m.CampaignID] = map[string]bool{}
			}
			if m.ModuleID != "" {
				campaignModules[m.CampaignID][m.ModuleID] = true
			}
			controlModules[c.ID] = append(controlModules[c.ID], m.CampaignID+"\x00"+m.ModuleID)
		}
	}

	campaigns := make([]string, 0, len(campaignModules))
	for id := range campaignModules {
		campaigns = append(campaigns, id)
	}
	sort.Strings(campaigns)

	outcomes := map[string]map[contracts.AssignmentStatus]int{}
	if len(campaigns) > 0 {
		assignments, err := b.repo.ListAssignments(ctx, orgID, campaigns)
		if err != nil {
			return nil, apperror.DB(op, err)
		}
		for _, a := range assignments {
			mk := moduleKey(a.CampaignID, a.ModuleID)
			if outcomes[mk] == nil {
				outcomes[mk] = map[contracts.AssignmentStatus]int{}
			}
			outcomes[mk][a.Status]++
			if a.ModuleID != "" {
				campaignModules[a.CampaignID][a.ModuleID] = true
			}
		}
	}

	for _, campID := range campaigns {
		mods := campaignModules[campID]
		if len(mods) == 0 {
			mods = map[string]bool{"": true}
		}
		for mod := range mods {
			mk := moduleKey(campID, mod)
			label := mod
			if label == "" {
				label = campID + " (all modules)"
			}
			modID := g.node(Node{ID: "module:" + mk, Kind: KindModule, Label: label})
			g.edge("campaign:"+campID, modID, EdgeContains)

			counts := outcomes[mk]
			total := counts[contracts.AssignmentAssigned] + counts[contracts.AssignmentInProgress] + counts[contracts.AssignmentCompleted]
			rate := 0.0
			if total > 0 {
				rate = float64(counts[contracts.AssignmentCompleted]) / float64(total)
			}
			outID := g.node(Node{ID: "outcome:" + mk, Kind: KindOutcome, Label: label + " outcomes", Data: map[string]any{
				"assigned":        counts[contracts.AssignmentAssigned],
				"in_progress":     counts[contracts.AssignmentInProgress],
				"completed":       counts[contracts.AssignmentCompleted],
				"completion_rate": rate,
			}})
			g.edge(modID, outID, EdgeYields)
		}
	}

	for _, c := range controls {
		snap, err := b.latestSnapshot(ctx, orgID, c.ID)
		if err != nil {
			return nil, err
		}
		frID := g.node(Node{ID: "freshness:" + c.ID, Kind: KindFreshness, Label: string(snap.State), Data: map[string]any{
			"state": string(snap.State), "score": snap.Score, "computed_at": snap.ComputedAt,
		}})
		for _, pair := range controlModules[c.ID] {
			campID, mod, _ := strings.Cut(pair, "\x00")
			if mod == "" {
				// A campaign-wide mapping reaches every module of the campaign.
				mods := campaignModules[campID]
				if len(mods) == 0 {
					g.edge("outcome:"+moduleKey(campID, ""), frID, EdgeInforms)
				}
				for m := range mods {
					g.edge("outcome:"+moduleKey(campID, m), frID, EdgeInforms)
				}
				continue
			}
			g.edge("outcome:"+moduleKey(campID, mod), frID, EdgeInforms)
		}
	}

	return g.finish(orgID), nil
}

func (b *Builder) latestSnapshot(ctx context.Context, orgID, controlID string) (contracts.FreshnessSnapshot, error) {
	rows, err := b.repo.ListSnapshots(ctx, orgID, controlID, 1)
	if err != nil {
		return contracts.FreshnessSnapshot{}, apperror.DB("adoptiongraph.build", err)
	}
	if len(rows) > 0 {
		return rows[0], nil
	}
	_, snap, err := b.assessor.Evaluate(ctx, orgID, controlID)
	return snap, err
}

func (g *graphBuilder) finish(orgID string) *Graph {
	out := &Graph{OrgID: orgID, Stats: Stats{Nodes: map[NodeKind]int{}}}
	for _, n := range g.nodes {
		out.Nodes = append(out.Nodes, n)
		out.Stats.Nodes[n.Kind]++
	}
	for e := range g.edges {
		// Edges into modules or outcomes that never materialized are dropped.
		if _, ok := g.nodes[e.From]; !ok {
			continue
		}
		if _, ok := g.nodes[e.To]; !ok {
			continue
		}
		out.Edges = append(out.Edges, e)
	}
	sort.Slice(out.Nodes, func(i, j int) bool { return out.Nodes[i].ID < out.Nodes[j].ID })
	sort.Slice(out.Edges, func(i, j int) bool {
		if out.Edges[i].From != out.Edges[j].From {
			return out.Edges[i].From < out.Edges[j].From
		}
		if out.Edges[i].To != out.Edges[j].To {
			return out.Edges[i].To < out.Edges[j].To
		}
		return out.Edges[i].Kind < out.Edges[j].Kind
	})
	out.Stats.Edges = len(out.Edges)
	return out
}
