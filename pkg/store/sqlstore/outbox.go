package sqlstore

import (
	"context"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

func (s *Store) EnqueueNotifications(ctx context.Context, jobs []contracts.NotificationJob) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap("begin enqueue", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := s.q(`INSERT INTO notification_jobs
		(id, org_id, dedupe_key, channel, recipient_id, assignment_id, campaign_id, control_id, status, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING`)
	inserted := 0
	for _, j := range jobs {
		res, err := tx.ExecContext(ctx, query, j.ID, j.OrgID, j.DedupeKey, j.Channel, j.RecipientID,
			j.AssignmentID, j.CampaignID, j.ControlID, j.Status, s.ts(j.ScheduledAt))
		if err != nil {
			return 0, wrap("enqueue notification", err)
		}
		if ok, err := rowsAffected(res); err != nil {
			return 0, wrap("enqueue notification", err)
		} else if ok {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, wrap("commit enqueue", err)
	}
	return inserted, nil
}

func (s *Store) ListNotifications(ctx context.Context, orgID string) ([]contracts.NotificationJob, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, org_id, dedupe_key, channel, recipient_id, assignment_id,
			campaign_id, control_id, status, scheduled_at
		FROM notification_jobs WHERE org_id = $1 ORDER BY scheduled_at, id`), orgID)
	if err != nil {
		return nil, wrap("list notifications", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.NotificationJob
	for rows.Next() {
		var j contracts.NotificationJob
		if err := rows.Scan(&j.ID, &j.OrgID, &j.DedupeKey, &j.Channel, &j.RecipientID, &j.AssignmentID,
			&j.CampaignID, &j.ControlID, &j.Status, timeCol{&j.ScheduledAt}); err != nil {
			return nil, wrap("list notifications", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list notifications", err)
	}
	return out, nil
}
