package sqlstore

import (
	"context"
	"database/sql"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

func (s *Store) InsertSnapshot(ctx context.Context, snap *contracts.FreshnessSnapshot) error {
	var median any
	if snap.MedianAckHours != nil {
		median = *snap.MedianAckHours
	}
	query := `INSERT INTO control_freshness_snapshots
		(id, org_id, control_id, freshness_state, freshness_score, fresh_count, stale_count,
		 rejected_count, synced_count, median_ack_hours, last_policy_update_at, latest_evidence_at, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := s.db.ExecContext(ctx, s.q(query), snap.ID, snap.OrgID, snap.ControlID, string(snap.State),
		snap.Score, snap.FreshCount, snap.StaleCount, snap.RejectedCount, snap.SyncedCount, median,
		s.nullTS(snap.LastPolicyUpdateAt), s.nullTS(snap.LatestEvidenceAt), s.ts(snap.ComputedAt))
	return wrap("insert snapshot", err)
}

// ListSnapshots returns the newest snapshots first.
func (s *Store) ListSnapshots(ctx context.Context, orgID, controlID string, limit int) ([]contracts.FreshnessSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, org_id, control_id, freshness_state, freshness_score, fresh_count, stale_count,
			rejected_count, synced_count, median_ack_hours, last_policy_update_at, latest_evidence_at, computed_at
		FROM control_freshness_snapshots
		WHERE org_id = $1 AND control_id = $2
		ORDER BY computed_at DESC
		LIMIT $3`
	rows, err := s.db.QueryContext(ctx, s.q(query), orgID, controlID, limit)
	if err != nil {
		return nil, wrap("list snapshots", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.FreshnessSnapshot
	for rows.Next() {
		var snap contracts.FreshnessSnapshot
		var median sql.NullFloat64
		if err := rows.Scan(&snap.ID, &snap.OrgID, &snap.ControlID, &snap.State, &snap.Score,
			&snap.FreshCount, &snap.StaleCount, &snap.RejectedCount, &snap.SyncedCount, &median,
			nullTimeCol{&snap.LastPolicyUpdateAt}, nullTimeCol{&snap.LatestEvidenceAt},
			timeCol{&snap.ComputedAt}); err != nil {
			return nil, wrap("list snapshots", err)
		}
		if median.Valid {
			v := median.Float64
			snap.MedianAckHours = &v
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list snapshots", err)
	}
	return out, nil
}
