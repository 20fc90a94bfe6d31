package evidence

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/adoption/pkg/apperror"
	"github.com/Mindburn-Labs/adoption/pkg/artifacts"
	"github.com/Mindburn-Labs/adoption/pkg/audit"
	"github.com/Mindburn-Labs/adoption/pkg/canonicalize"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/lineage"
)

// Bundle is the canonical export of a control's current evidence.
type Bundle struct {
	OrgID      string                  `json:"org_id"`
	ControlID  string                  `json:"control_id"`
	ExportedAt time.Time               `json:"exported_at"`
	Evidence   []contracts.Evidence    `json:"evidence"`
	Links      []contracts.LineageLink `json:"links"`
}

// ExportResult identifies the stored bundle and its evidence record.
type ExportResult struct {
	Digest      string `json:"digest"`
	EvidenceID  string `json:"evidence_id"`
	RecordCount int    `json:"record_count"`
	Linked      int    `json:"linked"`
}

// Exporter writes export bundles to an artifact store and records them as
// campaign_export evidence.
type Exporter struct {
	evidence  *Service
	lineage   *lineage.Service
	artifacts artifacts.Store
}

func NewExporter(evidence *Service, lin *lineage.Service, blobs artifacts.Store) *Exporter {
	return &Exporter{evidence: evidence, lineage: lin, artifacts: blobs}
}

const opExport = "evidence.export"

// ExportControl bundles the non-superseded evidence of a control with its
// lineage, stores the bundle by content digest and links every exported
// record to the new export record with exported_in.
func (x *Exporter) ExportControl(ctx context.Context, actor contracts.Actor, controlID string) (*ExportResult, error) {
	if controlID == "" {
		return nil, apperror.Validation(opExport, "control id is required")
	}
	rows, err := x.evidence.ListForControl(ctx, actor.OrgID, controlID)
	if err != nil {
		return nil, err
	}

	var current []contracts.Evidence
	var ids []string
	for _, r := range rows {
		if r.Status == contracts.EvidenceSuperseded || r.Type == contracts.EvidenceCampaignExport {
			continue
		}
		current = append(current, r)
		ids = append(ids, r.ID)
	}
	if len(current) == 0 {
		return nil, apperror.NotFound(opExport, "control %s has no exportable evidence", controlID)
	}

	graph, err := x.lineage.FetchLineageForIDs(ctx, actor.OrgID, ids)
	if err != nil {
		return nil, err
	}
	var links []contracts.LineageLink
	for _, id := range ids {
		links = append(links, graph.BySource[id]...)
	}

	bundle := Bundle{
		OrgID:      actor.OrgID,
		ControlID:  controlID,
		ExportedAt: x.evidence.now().UTC(),
		Evidence:   current,
		Links:      links,
	}
	data, err := canonicalize.JCS(bundle)
	if err != nil {
		return nil, apperror.DB(opExport, err)
	}
	digest, err := x.artifacts.Put(ctx, data)
	if err != nil {
		x.evidence.recorder.Record(ctx, actor, audit.ActionEvidenceExport, contracts.AuditFailure,
			map[string]any{"control_id": controlID, "error": err.Error()})
		return nil, apperror.DB(opExport, err)
	}

	created, err := x.evidence.CreateEvidenceObjects(ctx, actor, CreateRequest{
		Type:        contracts.EvidenceCampaignExport,
		SourceTable: "artifacts",
		SourceID:    digest,
		ControlID:   controlID,
		Status:      contracts.EvidenceSynced,
		Metadata:    map[string]any{"artifactHash": digest, "recordCount": len(current)},
		OccurredAt:  bundle.ExportedAt,
	})
	if err != nil {
		return nil, err
	}
	exportID := firstOf(created.InsertedIDs, created.ExistingIDs)

	linked := 0
	for _, id := range ids {
		n, err := x.lineage.CreateLineageLinks(ctx, actor, id, []string{exportID}, contracts.RelationExportedIn,
			map[string]any{"digest": digest})
		if err != nil {
			return nil, err
		}
		linked += n
	}

	x.evidence.recorder.Record(ctx, actor, audit.ActionEvidenceExport, contracts.AuditSuccess, map[string]any{
		"control_id": controlID, "digest": digest, "records": len(current),
	})
	return &ExportResult{Digest: digest, EvidenceID: exportID, RecordCount: len(current), Linked: linked}, nil
}

func firstOf(lists ...[]string) string {
	for _, l := range lists {
		if len(l) > 0 {
			return l[0]
		}
	}
	return ""
}
