package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

const recommendationColumns = `id, org_id, control_id, recommendation_type, status, rationale,
	expected_impact_pct, confidence_score, metadata, created_by, approved_by, approved_at,
	approval_note, created_at, updated_at`

func scanRecommendation(row rowScanner) (*contracts.Recommendation, error) {
	var r contracts.Recommendation
	err := row.Scan(&r.ID, &r.OrgID, &r.ControlID, &r.Type, &r.Status, &r.Rationale,
		&r.ExpectedImpactPct, &r.Confidence, jsonCol{&r.Metadata}, &r.CreatedBy, &r.ApprovedBy,
		nullTimeCol{&r.ApprovedAt}, &r.ApprovalNote, timeCol{&r.CreatedAt}, timeCol{&r.UpdatedAt})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) InsertRecommendation(ctx context.Context, r *contracts.Recommendation) (bool, error) {
	meta, err := encodeJSON(r.Metadata)
	if err != nil {
		return false, err
	}
	query := `INSERT INTO intervention_recommendations (` + recommendationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT DO NOTHING`
	res, err := s.db.ExecContext(ctx, s.q(query),
		r.ID, r.OrgID, r.ControlID, string(r.Type), string(r.Status), r.Rationale,
		r.ExpectedImpactPct, r.Confidence, meta, r.CreatedBy, r.ApprovedBy, s.nullTS(r.ApprovedAt),
		r.ApprovalNote, s.ts(r.CreatedAt), s.ts(r.UpdatedAt))
	if err != nil {
		return false, wrap("insert recommendation", err)
	}
	return rowsAffected(res)
}

func (s *Store) GetRecommendation(ctx context.Context, orgID, id string) (*contracts.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + ` FROM intervention_recommendations WHERE org_id = $1 AND id = $2`
	r, err := scanRecommendation(s.db.QueryRowContext(ctx, s.q(query), orgID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get recommendation", err)
	}
	return r, nil
}

func (s *Store) ListActiveRecommendations(ctx context.Context, orgID, controlID string) ([]contracts.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + ` FROM intervention_recommendations
		WHERE org_id = $1 AND control_id = $2 AND status IN ('proposed', 'approved', 'executing')
		ORDER BY created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, s.q(query), orgID, controlID)
	if err != nil {
		return nil, wrap("list recommendations", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Recommendation
	for rows.Next() {
		r, err := scanRecommendation(rows)
		if err != nil {
			return nil, wrap("list recommendations", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list recommendations", err)
	}
	return out, nil
}

// TransitionRecommendation applies a compare-and-set status change. Approval
// fields are only overwritten when the transition carries an approver.
func (s *Store) TransitionRecommendation(ctx context.Context, t contracts.RecommendationTransition) (*contracts.Recommendation, error) {
	if len(t.From) == 0 {
		return nil, fmt.Errorf("transition recommendation: empty from set")
	}
	query := `UPDATE intervention_recommendations SET
			status = $1,
			updated_at = $2,
			approved_by = CASE WHEN $3 = '' THEN approved_by ELSE $3 END,
			approved_at = CASE WHEN $3 = '' THEN approved_at ELSE $4 END,
			approval_note = CASE WHEN $3 = '' THEN approval_note ELSE $5 END
		WHERE org_id = $6 AND id = $7 AND status IN (` + placeholders(8, len(t.From)) + `)`
	args := []any{string(t.To), s.ts(t.At), t.ApprovedBy, s.nullTS(t.ApprovedAt), t.ApprovalNote, t.OrgID, t.ID}
	args = append(args, stringArgs(t.From)...)

	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, wrap("transition recommendation", err)
	}
	changed, err := rowsAffected(res)
	if err != nil {
		return nil, wrap("transition recommendation", err)
	}

	current, err := s.GetRecommendation(ctx, t.OrgID, t.ID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, store.ErrStaleTransition
	}
	return current, nil
}

const executionColumns = `id, org_id, intervention_id, idempotency_key, execution_status, result,
	error_message, started_at, finished_at`

func scanExecution(row rowScanner) (*contracts.Execution, error) {
	var e contracts.Execution
	err := row.Scan(&e.ID, &e.OrgID, &e.InterventionID, &e.IdempotencyKey, &e.Status, jsonCol{&e.Result},
		&e.Error, timeCol{&e.StartedAt}, nullTimeCol{&e.FinishedAt})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) InsertExecution(ctx context.Context, e *contracts.Execution) (bool, error) {
	result, err := encodeJSON(e.Result)
	if err != nil {
		return false, err
	}
	query := `INSERT INTO intervention_executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`
	res, err := s.db.ExecContext(ctx, s.q(query), e.ID, e.OrgID, e.InterventionID, e.IdempotencyKey,
		string(e.Status), result, e.Error, s.ts(e.StartedAt), s.nullTS(e.FinishedAt))
	if err != nil {
		return false, wrap("insert execution", err)
	}
	return rowsAffected(res)
}

func (s *Store) GetExecution(ctx context.Context, orgID, interventionID, key string) (*contracts.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM intervention_executions
		WHERE org_id = $1 AND intervention_id = $2 AND idempotency_key = $3`
	e, err := scanExecution(s.db.QueryRowContext(ctx, s.q(query), orgID, interventionID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get execution", err)
	}
	return e, nil
}

func (s *Store) ListExecutions(ctx context.Context, orgID, interventionID string) ([]contracts.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM intervention_executions
		WHERE org_id = $1 AND intervention_id = $2 ORDER BY started_at ASC`
	rows, err := s.db.QueryContext(ctx, s.q(query), orgID, interventionID)
	if err != nil {
		return nil, wrap("list executions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, wrap("list executions", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list executions", err)
	}
	return out, nil
}

// FinishExecution records the outcome and moves the recommendation to
// completed, or back to approved on failure, in one transaction.
func (s *Store) FinishExecution(ctx context.Context, o contracts.ExecutionOutcome) error {
	result, err := encodeJSON(o.Result)
	if err != nil {
		return err
	}
	next := contracts.RecommendationApproved
	if o.Status == contracts.ExecutionCompleted {
		next = contracts.RecommendationCompleted
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin finish execution", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.q(`UPDATE intervention_executions
		SET execution_status = $1, result = $2, error_message = $3, finished_at = $4
		WHERE org_id = $5 AND id = $6`),
		string(o.Status), result, o.Error, s.ts(o.FinishedAt), o.OrgID, o.ExecutionID)
	if err != nil {
		return wrap("finish execution", err)
	}
	if ok, err := rowsAffected(res); err != nil {
		return wrap("finish execution", err)
	} else if !ok {
		return store.ErrNotFound
	}

	res, err = tx.ExecContext(ctx, s.q(`UPDATE intervention_recommendations
		SET status = $1, updated_at = $2
		WHERE org_id = $3 AND id = $4`),
		string(next), s.ts(o.FinishedAt), o.OrgID, o.InterventionID)
	if err != nil {
		return wrap("finish recommendation", err)
	}
	if ok, err := rowsAffected(res); err != nil {
		return wrap("finish recommendation", err)
	} else if !ok {
		return store.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return wrap("commit finish execution", err)
	}
	return nil
}
