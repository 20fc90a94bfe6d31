package contracts

import "time"

// RecommendationType names a remediation action.
type RecommendationType string

const (
	RecommendReminderCadence     RecommendationType = "reminder_cadence"
	RecommendRoleRefresherModule RecommendationType = "role_refresher_module"
	RecommendManagerEscalation   RecommendationType = "manager_escalation"
	RecommendAttestationRefresh  RecommendationType = "attestation_refresh"
)

// RecommendationStatus is the workflow state of a recommendation.
type RecommendationStatus string

const (
	RecommendationProposed  RecommendationStatus = "proposed"
	RecommendationApproved  RecommendationStatus = "approved"
	RecommendationExecuting RecommendationStatus = "executing"
	RecommendationCompleted RecommendationStatus = "completed"
	RecommendationDismissed RecommendationStatus = "dismissed"
)

// ActiveRecommendationStatuses are the states that block a duplicate
// (control, type) recommendation.
var ActiveRecommendationStatuses = []RecommendationStatus{
	RecommendationProposed,
	RecommendationApproved,
	RecommendationExecuting,
}

// IsActive reports whether s is proposed, approved or executing.
func (s RecommendationStatus) IsActive() bool {
	for _, a := range ActiveRecommendationStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// Recommendation is a proposed remediation action tied to one control.
type Recommendation struct {
	ID                string               `json:"id"`
	OrgID             string               `json:"org_id"`
	ControlID         string               `json:"control_id"`
	Type              RecommendationType   `json:"recommendation_type"`
	Status            RecommendationStatus `json:"status"`
	Rationale         string               `json:"rationale"`
	ExpectedImpactPct float64              `json:"expected_impact_pct"`
	Confidence        float64              `json:"confidence_score"`
	Metadata          map[string]any       `json:"metadata,omitempty"`
	CreatedBy         string               `json:"created_by,omitempty"`
	ApprovedBy        string               `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time           `json:"approved_at,omitempty"`
	ApprovalNote      string               `json:"approval_note,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// RecommendationTransition is a compare-and-set status change.
// The store applies it only while the row is in one of From.
type RecommendationTransition struct {
	OrgID        string
	ID           string
	From         []RecommendationStatus
	To           RecommendationStatus
	ApprovedBy   string
	ApprovedAt   *time.Time
	ApprovalNote string
	At           time.Time
}

// ExecutionStatus is the state of one execution attempt.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution is a single attempt to carry out an approved recommendation.
// (OrgID, InterventionID, IdempotencyKey) is unique.
type Execution struct {
	ID             string          `json:"id"`
	OrgID          string          `json:"org_id"`
	InterventionID string          `json:"intervention_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Status         ExecutionStatus `json:"execution_status"`
	Result         map[string]any  `json:"result,omitempty"`
	Error          string          `json:"error_message,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

// ExecutionOutcome finishes an execution and moves its recommendation in one
// transaction. Failed outcomes revert the recommendation to approved.
type ExecutionOutcome struct {
	OrgID          string
	ExecutionID    string
	InterventionID string
	Status         ExecutionStatus
	Result         map[string]any
	Error          string
	FinishedAt     time.Time
}
