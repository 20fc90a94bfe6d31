// Package lineage maintains the directed graph between evidence records.
package lineage

import (
	"context"
	"sort"
	"time"

	"github.com/Mindburn-Labs/adoption/pkg/apperror"
	"github.com/Mindburn-Labs/adoption/pkg/audit"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

// Repository is the storage surface the service needs.
type Repository interface {
	store.LineageStore
	store.EvidenceStore
}

// Lineage is the adjacency of a set of records in both directions.
type Lineage struct {
	BySource map[string][]contracts.LineageLink `json:"by_source"`
	ByTarget map[string][]contracts.LineageLink `json:"by_target"`
}

// TimelineEntry summarizes the edges of one evidence record.
type TimelineEntry struct {
	Evidence     contracts.Evidence `json:"evidence"`
	DerivedFrom  int                `json:"derived_from"`
	Supersedes   int                `json:"supersedes"`
	DerivedBy    int                `json:"derived_by"`
	ExportedIn   int                `json:"exported_in"`
	SupersededBy int                `json:"superseded_by"`
}

type Service struct {
	repo     Repository
	recorder *audit.Recorder
	now      func() time.Time
}

func NewService(repo Repository, recorder *audit.Recorder) *Service {
	return &Service{repo: repo, recorder: recorder, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

const opCreate = "lineage.create"

// CreateLineageLinks links source to each target. Self links are dropped
// and existing (source, target, relation) edges are left untouched; the
// number of new edges is returned.
func (s *Service) CreateLineageLinks(ctx context.Context, actor contracts.Actor, source string, targets []string, relation contracts.RelationType, metadata map[string]any) (int, error) {
	if !relation.Valid() {
		return 0, apperror.Validation(opCreate, "unknown relation type %q", relation)
	}
	if source == "" {
		return 0, apperror.Validation(opCreate, "source evidence id is required")
	}

	now := s.now().UTC()
	seen := make(map[string]struct{}, len(targets))
	links := make([]contracts.LineageLink, 0, len(targets))
	for _, t := range targets {
		if t == "" || t == source {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		links = append(links, contracts.LineageLink{
			OrgID:     actor.OrgID,
			SourceID:  source,
			TargetID:  t,
			Relation:  relation,
			Metadata:  metadata,
			CreatedBy: actor.UserID,
			CreatedAt: now,
		})
	}
	if len(links) == 0 {
		return 0, nil
	}

	n, err := s.repo.InsertLineageLinks(ctx, links)
	s.recorder.Record(ctx, actor, audit.ActionLineageCreate, audit.Outcome(err), map[string]any{
		"source": source, "relation": string(relation), "requested": len(links), "inserted": n,
	})
	if err != nil {
		return 0, apperror.DB(opCreate, err)
	}
	return n, nil
}

// FetchLineageForIDs returns every edge touching ids, merged from the
// as-source and as-target queries.
func (s *Service) FetchLineageForIDs(ctx context.Context, orgID string, ids []string) (*Lineage, error) {
	out := &Lineage{
		BySource: map[string][]contracts.LineageLink{},
		ByTarget: map[string][]contracts.LineageLink{},
	}
	if len(ids) == 0 {
		return out, nil
	}

	outgoing, err := s.repo.ListLineageBySource(ctx, orgID, ids)
	if err != nil {
		return nil, apperror.DB("lineage.fetch", err)
	}
	incoming, err := s.repo.ListLineageByTarget(ctx, orgID, ids)
	if err != nil {
		return nil, apperror.DB("lineage.fetch", err)
	}

	seen := make(map[string]struct{}, len(outgoing)+len(incoming))
	for _, l := range append(outgoing, incoming...) {
		if _, dup := seen[l.Key()]; dup {
			continue
		}
		seen[l.Key()] = struct{}{}
		out.BySource[l.SourceID] = append(out.BySource[l.SourceID], l)
		out.ByTarget[l.TargetID] = append(out.ByTarget[l.TargetID], l)
	}
	return out, nil
}

// Timeline classifies the edges of every record of a control, ordered by
// occurrence time.
func (s *Service) Timeline(ctx context.Context, orgID, controlID string) ([]TimelineEntry, error) {
	rows, err := s.repo.ListEvidenceForControl(ctx, orgID, controlID)
	if err != nil {
		return nil, apperror.DB("lineage.timeline", err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	graph, err := s.FetchLineageForIDs(ctx, orgID, ids)
	if err != nil {
		return nil, err
	}

	entries := make([]TimelineEntry, 0, len(rows))
	for _, r := range rows {
		e := TimelineEntry{Evidence: r}
		for _, l := range graph.BySource[r.ID] {
			switch l.Relation {
			case contracts.RelationDerivedFrom:
				e.DerivedFrom++
			case contracts.RelationSupersedes:
				e.Supersedes++
			case contracts.RelationExportedIn:
				e.ExportedIn++
			}
		}
		for _, l := range graph.ByTarget[r.ID] {
			switch l.Relation {
			case contracts.RelationDerivedFrom:
				e.DerivedBy++
			case contracts.RelationSupersedes:
				e.SupersededBy++
			}
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Evidence.OccurredAt.Before(entries[j].Evidence.OccurredAt)
	})
	return entries, nil
}
