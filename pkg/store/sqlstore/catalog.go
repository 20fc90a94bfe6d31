package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

const controlColumns = `id, org_id, code, title, risk_level, role_track, owner, obligations`

func scanControl(row rowScanner) (*contracts.Control, error) {
	var c contracts.Control
	var obligations []byte
	if err := row.Scan(&c.ID, &c.OrgID, &c.Code, &c.Title, &c.RiskLevel, &c.RoleTrack, &c.Owner, &obligations); err != nil {
		return nil, err
	}
	if len(obligations) > 0 {
		if err := json.Unmarshal(obligations, &c.Obligations); err != nil {
			return nil, fmt.Errorf("decode obligations: %w", err)
		}
	}
	return &c, nil
}

func (s *Store) GetControl(ctx context.Context, orgID, id string) (*contracts.Control, error) {
	query := `SELECT ` + controlColumns + ` FROM controls WHERE org_id = $1 AND id = $2`
	c, err := scanControl(s.db.QueryRowContext(ctx, s.q(query), orgID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get control", err)
	}
	return c, nil
}

func (s *Store) ListControls(ctx context.Context, orgID string) ([]contracts.Control, error) {
	query := `SELECT ` + controlColumns + ` FROM controls WHERE org_id = $1 ORDER BY code ASC`
	rows, err := s.db.QueryContext(ctx, s.q(query), orgID)
	if err != nil {
		return nil, wrap("list controls", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Control
	for rows.Next() {
		c, err := scanControl(rows)
		if err != nil {
			return nil, wrap("list controls", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list controls", err)
	}
	return out, nil
}

func (s *Store) UpsertControl(ctx context.Context, c *contracts.Control) error {
	obligations := []byte("[]")
	if len(c.Obligations) > 0 {
		var err error
		if obligations, err = json.Marshal(c.Obligations); err != nil {
			return fmt.Errorf("encode obligations: %w", err)
		}
	}
	query := `INSERT INTO controls (` + controlColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			code = excluded.code,
			title = excluded.title,
			risk_level = excluded.risk_level,
			role_track = excluded.role_track,
			owner = excluded.owner,
			obligations = excluded.obligations`
	_, err := s.db.ExecContext(ctx, s.q(query), c.ID, c.OrgID, c.Code, c.Title, string(c.RiskLevel),
		c.RoleTrack, c.Owner, string(obligations))
	return wrap("upsert control", err)
}

// CreateMapping returns store.ErrConflict when an active mapping for the
// same (org, control, campaign, module) exists.
func (s *Store) CreateMapping(ctx context.Context, m *contracts.ControlMapping) error {
	query := `INSERT INTO control_mappings (id, org_id, control_id, campaign_id, module_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.ExecContext(ctx, s.q(query), m.ID, m.OrgID, m.ControlID, m.CampaignID, m.ModuleID,
		m.Active, s.ts(m.CreatedAt))
	return wrap("create mapping", err)
}

func (s *Store) ListMappingsForControl(ctx context.Context, orgID, controlID string) ([]contracts.ControlMapping, error) {
	query := `SELECT id, org_id, control_id, campaign_id, module_id, active, created_at
		FROM control_mappings WHERE org_id = $1 AND control_id = $2 AND active ORDER BY id`
	rows, err := s.db.QueryContext(ctx, s.q(query), orgID, controlID)
	if err != nil {
		return nil, wrap("list mappings", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.ControlMapping
	for rows.Next() {
		var m contracts.ControlMapping
		if err := rows.Scan(&m.ID, &m.OrgID, &m.ControlID, &m.CampaignID, &m.ModuleID, &m.Active,
			timeCol{&m.CreatedAt}); err != nil {
			return nil, wrap("list mappings", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list mappings", err)
	}
	return out, nil
}

// ActiveControlsFor resolves the controls mapped to any of the campaigns or
// modules.
func (s *Store) ActiveControlsFor(ctx context.Context, orgID string, campaignIDs, moduleIDs []string) ([]string, error) {
	if len(campaignIDs) == 0 && len(moduleIDs) == 0 {
		return nil, nil
	}
	args := []any{orgID}
	cond := ""
	if len(campaignIDs) > 0 {
		cond = "campaign_id IN (" + placeholders(2, len(campaignIDs)) + ")"
		args = append(args, stringArgs(campaignIDs)...)
	}
	if len(moduleIDs) > 0 {
		if cond != "" {
			cond += " OR "
		}
		cond += "(module_id <> '' AND module_id IN (" + placeholders(len(args)+1, len(moduleIDs)) + "))"
		args = append(args, stringArgs(moduleIDs)...)
	}
	query := `SELECT DISTINCT control_id FROM control_mappings
		WHERE org_id = $1 AND active AND (` + cond + `) ORDER BY control_id`
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, wrap("resolve mapped controls", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("resolve mapped controls", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("resolve mapped controls", err)
	}
	return ids, nil
}

// PolicyUpdatedAt returns the most recent update time among the campaigns.
func (s *Store) PolicyUpdatedAt(ctx context.Context, orgID string, campaignIDs []string) (*time.Time, error) {
	if len(campaignIDs) == 0 {
		return nil, nil
	}
	query := `SELECT updated_at FROM campaigns
		WHERE org_id = $1 AND id IN (` + placeholders(2, len(campaignIDs)) + `)
		ORDER BY updated_at DESC LIMIT 1`
	var at time.Time
	err := s.db.QueryRowContext(ctx, s.q(query), append([]any{orgID}, stringArgs(campaignIDs)...)...).Scan(timeCol{&at})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("policy updated at", err)
	}
	return &at, nil
}

func (s *Store) UpsertCampaign(ctx context.Context, c *contracts.Campaign) error {
	query := `INSERT INTO campaigns (id, org_id, title, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, s.q(query), c.ID, c.OrgID, c.Title, s.ts(c.UpdatedAt))
	return wrap("upsert campaign", err)
}

func (s *Store) ListAssignments(ctx context.Context, orgID string, campaignIDs []string) ([]contracts.Assignment, error) {
	if len(campaignIDs) == 0 {
		return nil, nil
	}
	query := `SELECT id, org_id, campaign_id, module_id, user_id, status, started_at FROM assignments
		WHERE org_id = $1 AND campaign_id IN (` + placeholders(2, len(campaignIDs)) + `) ORDER BY id`
	rows, err := s.db.QueryContext(ctx, s.q(query), append([]any{orgID}, stringArgs(campaignIDs)...)...)
	if err != nil {
		return nil, wrap("list assignments", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Assignment
	for rows.Next() {
		var a contracts.Assignment
		if err := rows.Scan(&a.ID, &a.OrgID, &a.CampaignID, &a.ModuleID, &a.UserID, &a.Status,
			nullTimeCol{&a.StartedAt}); err != nil {
			return nil, wrap("list assignments", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list assignments", err)
	}
	return out, nil
}

func (s *Store) UpsertAssignment(ctx context.Context, a *contracts.Assignment) error {
	query := `INSERT INTO assignments (id, org_id, campaign_id, module_id, user_id, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, started_at = excluded.started_at`
	_, err := s.db.ExecContext(ctx, s.q(query), a.ID, a.OrgID, a.CampaignID, a.ModuleID, a.UserID,
		string(a.Status), s.nullTS(a.StartedAt))
	return wrap("upsert assignment", err)
}
