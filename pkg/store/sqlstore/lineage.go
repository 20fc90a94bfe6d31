package sqlstore

import (
	"context"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

func (s *Store) InsertLineageLinks(ctx context.Context, links []contracts.LineageLink) (int, error) {
	if len(links) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap("begin lineage insert", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := s.q(`INSERT INTO evidence_lineage_links
		(org_id, source_evidence_id, target_evidence_id, relation_type, metadata, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING`)
	inserted := 0
	for _, l := range links {
		meta, err := encodeJSON(l.Metadata)
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx, query, l.OrgID, l.SourceID, l.TargetID, string(l.Relation),
			meta, l.CreatedBy, s.ts(l.CreatedAt))
		if err != nil {
			return 0, wrap("insert lineage link", err)
		}
		if ok, err := rowsAffected(res); err != nil {
			return 0, wrap("insert lineage link", err)
		} else if ok {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, wrap("commit lineage insert", err)
	}
	return inserted, nil
}

func (s *Store) ListLineageBySource(ctx context.Context, orgID string, ids []string) ([]contracts.LineageLink, error) {
	return s.listLineage(ctx, "source_evidence_id", orgID, ids)
}

func (s *Store) ListLineageByTarget(ctx context.Context, orgID string, ids []string) ([]contracts.LineageLink, error) {
	return s.listLineage(ctx, "target_evidence_id", orgID, ids)
}

func (s *Store) listLineage(ctx context.Context, column, orgID string, ids []string) ([]contracts.LineageLink, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT org_id, source_evidence_id, target_evidence_id, relation_type, metadata, created_by, created_at
		FROM evidence_lineage_links
		WHERE org_id = $1 AND ` + column + ` IN (` + placeholders(2, len(ids)) + `)
		ORDER BY source_evidence_id, target_evidence_id, relation_type`
	rows, err := s.db.QueryContext(ctx, s.q(query), append([]any{orgID}, stringArgs(ids)...)...)
	if err != nil {
		return nil, wrap("list lineage", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.LineageLink
	for rows.Next() {
		var l contracts.LineageLink
		if err := rows.Scan(&l.OrgID, &l.SourceID, &l.TargetID, &l.Relation, jsonCol{&l.Metadata},
			&l.CreatedBy, timeCol{&l.CreatedAt}); err != nil {
			return nil, wrap("list lineage", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list lineage", err)
	}
	return out, nil
}
