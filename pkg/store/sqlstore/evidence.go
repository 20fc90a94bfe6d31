package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

const evidenceColumns = `id, org_id, control_id, campaign_id, module_id, assignment_id, user_id,
	evidence_type, source_table, source_id, status, confidence_score, quality_score,
	checksum, lineage_hash, dedup_key, occurred_at, created_at, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvidence(row rowScanner) (*contracts.Evidence, error) {
	var e contracts.Evidence
	err := row.Scan(&e.ID, &e.OrgID, &e.ControlID, &e.CampaignID, &e.ModuleID, &e.AssignmentID, &e.UserID,
		&e.Type, &e.SourceTable, &e.SourceID, &e.Status, &e.Confidence, &e.Quality,
		&e.Checksum, &e.LineageHash, &e.DedupKey, timeCol{&e.OccurredAt}, timeCol{&e.CreatedAt}, jsonCol{&e.Metadata})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) InsertEvidence(ctx context.Context, e *contracts.Evidence) (bool, error) {
	meta, err := encodeJSON(e.Metadata)
	if err != nil {
		return false, err
	}
	query := `INSERT INTO evidence_objects (` + evidenceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT DO NOTHING`
	res, err := s.db.ExecContext(ctx, s.q(query),
		e.ID, e.OrgID, e.ControlID, e.CampaignID, e.ModuleID, e.AssignmentID, e.UserID,
		string(e.Type), e.SourceTable, e.SourceID, string(e.Status), e.Confidence, e.Quality,
		e.Checksum, e.LineageHash, e.DedupKey, s.ts(e.OccurredAt), s.ts(e.CreatedAt), meta)
	if err != nil {
		return false, wrap("insert evidence", err)
	}
	return rowsAffected(res)
}

func (s *Store) GetEvidenceByDedupKey(ctx context.Context, orgID, dedupKey string) (*contracts.Evidence, error) {
	query := `SELECT ` + evidenceColumns + ` FROM evidence_objects WHERE org_id = $1 AND dedup_key = $2`
	e, err := scanEvidence(s.db.QueryRowContext(ctx, s.q(query), orgID, dedupKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get evidence by dedup key", err)
	}
	return e, nil
}

func (s *Store) GetEvidence(ctx context.Context, orgID string, ids []string) ([]contracts.Evidence, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + evidenceColumns + ` FROM evidence_objects
		WHERE org_id = $1 AND id IN (` + placeholders(2, len(ids)) + `)
		ORDER BY occurred_at ASC, id ASC`
	args := append([]any{orgID}, stringArgs(ids)...)
	return s.queryEvidence(ctx, "get evidence", query, args...)
}

func (s *Store) ListEvidenceForControl(ctx context.Context, orgID, controlID string) ([]contracts.Evidence, error) {
	query := `SELECT ` + evidenceColumns + ` FROM evidence_objects
		WHERE org_id = $1 AND control_id = $2
		ORDER BY occurred_at ASC, id ASC`
	return s.queryEvidence(ctx, "list evidence", query, orgID, controlID)
}

func (s *Store) queryEvidence(ctx context.Context, op, query string, args ...any) ([]contracts.Evidence, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Evidence
	for rows.Next() {
		e, err := scanEvidence(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

func (s *Store) UpdateEvidenceStatus(ctx context.Context, upd contracts.StatusUpdate) ([]string, error) {
	args := []any{string(upd.To), upd.OrgID}
	where := []string{"org_id = $2", "status <> $1"}
	add := func(clause string, values []any) {
		where = append(where, fmt.Sprintf(clause, placeholders(len(args)+1, len(values))))
		args = append(args, values...)
	}
	if len(upd.IDs) > 0 {
		add("id IN (%s)", stringArgs(upd.IDs))
	}
	if upd.ControlID != "" {
		add("control_id = %s", []any{upd.ControlID})
	}
	if len(upd.Types) > 0 {
		add("evidence_type IN (%s)", stringArgs(upd.Types))
	}
	if len(upd.FromStatuses) > 0 {
		add("status IN (%s)", stringArgs(upd.FromStatuses))
	}
	if len(upd.ExcludeIDs) > 0 {
		add("id NOT IN (%s)", stringArgs(upd.ExcludeIDs))
	}

	query := `UPDATE evidence_objects SET status = $1 WHERE ` + strings.Join(where, " AND ") + ` RETURNING id`
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, wrap("update evidence status", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("update evidence status", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("update evidence status", err)
	}
	sort.Strings(ids)
	return ids, nil
}
