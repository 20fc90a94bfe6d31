package contracts

import "time"

// FreshnessState is the classified health of a control's evidence.
type FreshnessState string

const (
	StateFresh    FreshnessState = "fresh"
	StateAging    FreshnessState = "aging"
	StateStale    FreshnessState = "stale"
	StateCritical FreshnessState = "critical"
)

// FreshnessSnapshot is a point-in-time health assessment for one control.
// Snapshots are derived history, never the source of truth.
type FreshnessSnapshot struct {
	ID                 string         `json:"id"`
	OrgID              string         `json:"org_id"`
	ControlID          string         `json:"control_id"`
	State              FreshnessState `json:"state"`
	Score              int            `json:"score"`
	FreshCount         int            `json:"fresh_evidence_count"`
	StaleCount         int            `json:"stale_count"`
	RejectedCount      int            `json:"rejected_count"`
	SyncedCount        int            `json:"synced_count"`
	MedianAckHours     *float64       `json:"median_ack_hours"`
	LastPolicyUpdateAt *time.Time     `json:"last_policy_update_at"`
	LatestEvidenceAt   *time.Time     `json:"latest_evidence_at"`
	ComputedAt         time.Time      `json:"computed_at"`
}
