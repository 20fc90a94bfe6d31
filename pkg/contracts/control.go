package contracts

import "time"

// RiskLevel is the inherent risk rating of a control.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ObligationRef points at the regulatory clause a control satisfies.
type ObligationRef struct {
	ID        string `json:"id"`
	Framework string `json:"framework"`
	Clause    string `json:"clause"`
}

// Control is a named compliance requirement, e.g. "SOC2:CC2.2".
type Control struct {
	ID          string          `json:"id"`
	OrgID       string          `json:"org_id"`
	Code        string          `json:"code"`
	Title       string          `json:"title"`
	RiskLevel   RiskLevel       `json:"risk_level"`
	RoleTrack   string          `json:"role_track,omitempty"`
	Owner       string          `json:"owner,omitempty"`
	Obligations []ObligationRef `json:"obligations,omitempty"`
}

// ControlMapping binds a control to a campaign and optionally a module.
// At most one active mapping exists per (org, control, campaign, module).
type ControlMapping struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"org_id"`
	ControlID  string    `json:"control_id"`
	CampaignID string    `json:"campaign_id"`
	ModuleID   string    `json:"module_id,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Campaign is a training campaign. UpdatedAt doubles as the policy change time.
type Campaign struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AssignmentStatus is the learner progress on one assignment.
type AssignmentStatus string

const (
	AssignmentAssigned   AssignmentStatus = "assigned"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentCompleted  AssignmentStatus = "completed"
)

// Assignment is one learner's assignment to a campaign module.
type Assignment struct {
	ID         string           `json:"id"`
	OrgID      string           `json:"org_id"`
	CampaignID string           `json:"campaign_id"`
	ModuleID   string           `json:"module_id,omitempty"`
	UserID     string           `json:"user_id"`
	Status     AssignmentStatus `json:"status"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
}

// MetricName is a benchmarked adoption metric.
type MetricName string

const (
	MetricControlFreshness   MetricName = "control_freshness"
	MetricTimeToAckHours     MetricName = "time_to_ack_hours"
	MetricStaleControlsRatio MetricName = "stale_controls_ratio"
)

// Valid reports whether m is a known benchmark metric.
func (m MetricName) Valid() bool {
	switch m {
	case MetricControlFreshness, MetricTimeToAckHours, MetricStaleControlsRatio:
		return true
	}
	return false
}

// MetricSnapshot is a captured metric value for an org or an anonymized cohort.
type MetricSnapshot struct {
	Subject        string     `json:"subject"`
	Metric         MetricName `json:"metric"`
	Value          float64    `json:"value"`
	PercentileRank *float64   `json:"percentile_rank,omitempty"`
	CapturedAt     time.Time  `json:"captured_at"`
}
