package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

func (s *Store) AppendAudit(ctx context.Context, e *contracts.AuditEvent) error {
	meta, err := encodeJSON(e.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO audit_events
		(id, request_id, org_id, user_id, action, status, metadata, ts, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`),
		e.ID, e.RequestID, e.OrgID, e.UserID, e.Action, string(e.Status), meta, s.ts(e.Timestamp), e.PrevHash, e.Hash)
	return wrap("append audit", err)
}

// LatestAuditHash returns the chain head, or "" for an empty log.
func (s *Store) LatestAuditHash(ctx context.Context) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM audit_events ORDER BY seq DESC LIMIT 1`).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", wrap("latest audit hash", err)
	}
	return hash, nil
}

// ListAudit returns an org's events, newest first.
func (s *Store) ListAudit(ctx context.Context, orgID string, limit int) ([]contracts.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, request_id, org_id, user_id, action, status, metadata, ts, prev_hash, hash
		FROM audit_events WHERE org_id = $1 ORDER BY seq DESC LIMIT $2`), orgID, limit)
	if err != nil {
		return nil, wrap("list audit", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.AuditEvent
	for rows.Next() {
		var e contracts.AuditEvent
		if err := rows.Scan(&e.ID, &e.RequestID, &e.OrgID, &e.UserID, &e.Action, &e.Status,
			jsonCol{&e.Metadata}, timeCol{&e.Timestamp}, &e.PrevHash, &e.Hash); err != nil {
			return nil, wrap("list audit", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list audit", err)
	}
	return out, nil
}
