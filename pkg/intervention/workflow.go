package intervention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/adoption/pkg/apperror"
	"github.com/Mindburn-Labs/adoption/pkg/audit"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/metrics"
	"github.com/Mindburn-Labs/adoption/pkg/observability"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

// WorkflowRepository is the storage surface of the execution workflow.
type WorkflowRepository interface {
	store.RecommendationStore
	store.ExecutionStore
	store.ControlStore
}

// ExecuteResult is the execution an Execute call produced or found.
type ExecuteResult struct {
	Execution contracts.Execution `json:"execution"`
	Reused    bool                `json:"reused"`
}

// Workflow moves recommendations through approve, dismiss and execute.
//
//	proposed -> approved -> executing -> completed
//	                 ^          |
//	                 +-- failed +
//	proposed -> dismissed
type Workflow struct {
	repo      WorkflowRepository
	actions   map[contracts.RecommendationType]Action
	recorder  *audit.Recorder
	metrics   *metrics.Metrics
	telemetry *observability.Provider
	logger    *slog.Logger
	now       func() time.Time
}

func NewWorkflow(repo WorkflowRepository, actions map[contracts.RecommendationType]Action, recorder *audit.Recorder) *Workflow {
	return &Workflow{
		repo:     repo,
		actions:  actions,
		recorder: recorder,
		logger:   slog.Default().With("component", "workflow"),
		now:      time.Now,
	}
}

func (w *Workflow) WithMetrics(m *metrics.Metrics) *Workflow {
	w.metrics = m
	return w
}

func (w *Workflow) WithTelemetry(p *observability.Provider) *Workflow {
	w.telemetry = p
	return w
}

// WithClock overrides the time source, for tests.
func (w *Workflow) WithClock(now func() time.Time) *Workflow {
	w.now = now
	return w
}

// DefaultIdempotencyKey derives the key used when the caller supplies none.
func DefaultIdempotencyKey(interventionID string) string {
	return "auto-" + interventionID
}

// Approve moves a proposed recommendation to approved.
func (w *Workflow) Approve(ctx context.Context, actor contracts.Actor, id, note string) (*contracts.Recommendation, error) {
	const op = "intervention.approve"
	now := w.now().UTC()
	rec, err := w.transition(ctx, op, contracts.RecommendationTransition{
		OrgID:        actor.OrgID,
		ID:           id,
		From:         []contracts.RecommendationStatus{contracts.RecommendationProposed},
		To:           contracts.RecommendationApproved,
		ApprovedBy:   actor.UserID,
		ApprovedAt:   &now,
		ApprovalNote: note,
		At:           now,
	})
	w.recorder.Record(ctx, actor, audit.ActionApprove, audit.Outcome(err), map[string]any{"intervention_id": id, "note": note})
	return rec, err
}

// Dismiss moves a proposed recommendation to dismissed.
func (w *Workflow) Dismiss(ctx context.Context, actor contracts.Actor, id, reason string) (*contracts.Recommendation, error) {
	const op = "intervention.dismiss"
	rec, err := w.transition(ctx, op, contracts.RecommendationTransition{
		OrgID: actor.OrgID,
		ID:    id,
		From:  []contracts.RecommendationStatus{contracts.RecommendationProposed},
		To:    contracts.RecommendationDismissed,
		At:    w.now().UTC(),
	})
	w.recorder.Record(ctx, actor, audit.ActionDismiss, audit.Outcome(err), map[string]any{"intervention_id": id, "reason": reason})
	return rec, err
}

func (w *Workflow) transition(ctx context.Context, op string, t contracts.RecommendationTransition) (*contracts.Recommendation, error) {
	rec, err := w.repo.TransitionRecommendation(ctx, t)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, apperror.NotFound(op, "intervention %s not found", t.ID)
	case errors.Is(err, store.ErrStaleTransition):
		current, getErr := w.repo.GetRecommendation(ctx, t.OrgID, t.ID)
		if getErr != nil {
			return nil, apperror.Conflict(op, "intervention %s cannot move to %s", t.ID, t.To)
		}
		return nil, apperror.Conflict(op, "intervention %s is %s, cannot move to %s", t.ID, current.Status, t.To)
	case err != nil:
		return nil, apperror.DB(op, err)
	}
	return rec, nil
}

// Execute runs an approved recommendation at most once per idempotency key.
// An existing execution for the key is returned unchanged with Reused set.
// When the action fails the execution is marked failed, the recommendation
// returns to approved and the action error is returned.
func (w *Workflow) Execute(ctx context.Context, actor contracts.Actor, id, key string) (res *ExecuteResult, err error) {
	const op = "intervention.execute"
	if key == "" {
		key = DefaultIdempotencyKey(id)
	}
	ctx, done := w.telemetry.TrackOperation(ctx, op,
		attribute.String("org_id", actor.OrgID), attribute.String("intervention_id", id))
	defer func() {
		done(err)
		meta := map[string]any{"intervention_id": id, "idempotency_key": key}
		if res != nil {
			meta["execution_id"] = res.Execution.ID
			meta["reused"] = res.Reused
			meta["execution_status"] = string(res.Execution.Status)
			w.metrics.ExecutionFinished(res.Execution.Status, res.Reused)
		}
		if err != nil {
			meta["error"] = err.Error()
		}
		w.recorder.Record(ctx, actor, audit.ActionExecute, audit.Outcome(err), meta)
	}()

	rec, err := w.repo.GetRecommendation(ctx, actor.OrgID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFound(op, "intervention %s not found", id)
	}
	if err != nil {
		return nil, apperror.DB(op, err)
	}

	if prior, err := w.existing(ctx, actor.OrgID, id, key); err != nil || prior != nil {
		return prior, err
	}

	switch rec.Status {
	case contracts.RecommendationApproved, contracts.RecommendationExecuting:
	default:
		return nil, apperror.Conflict(op, "intervention %s is %s; only approved interventions execute", id, rec.Status)
	}

	action, ok := w.actions[rec.Type]
	if !ok {
		return nil, apperror.Validation(op, "no action registered for %s", rec.Type)
	}

	now := w.now().UTC()
	if _, err := w.repo.TransitionRecommendation(ctx, contracts.RecommendationTransition{
		OrgID: actor.OrgID,
		ID:    id,
		From:  []contracts.RecommendationStatus{contracts.RecommendationApproved, contracts.RecommendationExecuting},
		To:    contracts.RecommendationExecuting,
		At:    now,
	}); err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			// Another request may have finished this key in the meantime.
			if prior, perr := w.existing(ctx, actor.OrgID, id, key); perr != nil || prior != nil {
				return prior, perr
			}
			return nil, apperror.Conflict(op, "intervention %s changed state during execute", id)
		}
		return nil, apperror.DB(op, err)
	}

	exec := contracts.Execution{
		ID:             uuid.NewString(),
		OrgID:          actor.OrgID,
		InterventionID: id,
		IdempotencyKey: key,
		Status:         contracts.ExecutionRunning,
		StartedAt:      now,
	}
	inserted, err := w.repo.InsertExecution(ctx, &exec)
	if err != nil {
		w.revert(ctx, actor.OrgID, id)
		return nil, apperror.DB(op, err)
	}
	if !inserted {
		return w.existing(ctx, actor.OrgID, id, key)
	}

	control, err := w.repo.GetControl(ctx, actor.OrgID, rec.ControlID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, w.fail(ctx, exec, apperror.DB(op, err))
		}
		control = &contracts.Control{ID: rec.ControlID, OrgID: actor.OrgID}
	}

	result, runErr := action.Run(ctx, ActionRequest{Actor: actor, Recommendation: *rec, Control: *control, Execution: exec})
	if runErr != nil {
		return nil, w.fail(ctx, exec, fmt.Errorf("%s action: %w", rec.Type, runErr))
	}

	finished := w.now().UTC()
	if err := w.repo.FinishExecution(ctx, contracts.ExecutionOutcome{
		OrgID:          actor.OrgID,
		ExecutionID:    exec.ID,
		InterventionID: id,
		Status:         contracts.ExecutionCompleted,
		Result:         result,
		FinishedAt:     finished,
	}); err != nil {
		return nil, w.fail(ctx, exec, apperror.DB(op, err))
	}
	exec.Status = contracts.ExecutionCompleted
	exec.Result = result
	exec.FinishedAt = &finished

	w.logger.InfoContext(ctx, "intervention executed",
		"org_id", actor.OrgID, "intervention_id", id, "type", rec.Type, "execution_id", exec.ID)
	return &ExecuteResult{Execution: exec}, nil
}

// existing returns the execution already stored for key, if any.
func (w *Workflow) existing(ctx context.Context, orgID, id, key string) (*ExecuteResult, error) {
	prior, err := w.repo.GetExecution(ctx, orgID, id, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.DB("intervention.execute", err)
	}
	return &ExecuteResult{Execution: *prior, Reused: true}, nil
}

// fail records a failed execution and reverts the recommendation to approved.
// cause is returned to the caller either way.
func (w *Workflow) fail(ctx context.Context, exec contracts.Execution, cause error) error {
	if err := w.repo.FinishExecution(ctx, contracts.ExecutionOutcome{
		OrgID:          exec.OrgID,
		ExecutionID:    exec.ID,
		InterventionID: exec.InterventionID,
		Status:         contracts.ExecutionFailed,
		Error:          cause.Error(),
		FinishedAt:     w.now().UTC(),
	}); err != nil {
		w.logger.ErrorContext(ctx, "recording failed execution",
			"execution_id", exec.ID, "intervention_id", exec.InterventionID, "error", err)
		w.revert(ctx, exec.OrgID, exec.InterventionID)
	}
	return cause
}

// revert moves an executing recommendation back to approved. Best effort.
func (w *Workflow) revert(ctx context.Context, orgID, id string) {
	_, err := w.repo.TransitionRecommendation(ctx, contracts.RecommendationTransition{
		OrgID: orgID,
		ID:    id,
		From:  []contracts.RecommendationStatus{contracts.RecommendationExecuting},
		To:    contracts.RecommendationApproved,
		At:    w.now().UTC(),
	})
	if err != nil && !errors.Is(err, store.ErrStaleTransition) {
		w.logger.ErrorContext(ctx, "reverting intervention to approved",
			"org_id", orgID, "intervention_id", id, "error", err)
	}
}

// History lists every execution of an intervention.
func (w *Workflow) History(ctx context.Context, orgID, id string) ([]contracts.Execution, error) {
	rows, err := w.repo.ListExecutions(ctx, orgID, id)
	if err != nil {
		return nil, apperror.DB("intervention.history", err)
	}
	return rows, nil
}
