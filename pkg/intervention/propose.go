// Package intervention proposes remediation actions for unhealthy controls
// and carries approved ones out exactly once per idempotency key.
package intervention

import (
	"fmt"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

// MaxProposals caps the proposals returned for one control.
const MaxProposals = 3

// DefaultRoleTrack is used when a control has no role track.
const DefaultRoleTrack = "general-workforce"

// ControlContext is what the rules know about a control.
type ControlContext struct {
	ControlID string
	Code      string
	Title     string
	RiskLevel contracts.RiskLevel
	RoleTrack string
	Owner     string
}

// ContextFor builds the rule context of a stored control.
func ContextFor(c contracts.Control) ControlContext {
	return ControlContext{
		ControlID: c.ID,
		Code:      c.Code,
		Title:     c.Title,
		RiskLevel: c.RiskLevel,
		RoleTrack: c.RoleTrack,
		Owner:     c.Owner,
	}
}

// Proposal is a recommendation before it is stored.
type Proposal struct {
	Type              contracts.RecommendationType `json:"recommendation_type"`
	Rationale         string                       `json:"rationale"`
	ExpectedImpactPct float64                      `json:"expected_impact_pct"`
	Confidence        float64                      `json:"confidence_score"`
	Metadata          map[string]any               `json:"metadata"`
}

// Propose applies the recommendation rules to a snapshot. Rules are
// cumulative; the first MaxProposals in generation order are kept.
func Propose(c ControlContext, snap contracts.FreshnessSnapshot) []Proposal {
	label := c.Code
	if label == "" {
		label = c.ControlID
	}
	base := func() map[string]any {
		return map[string]any{
			"control_code": c.Code,
			"risk_level":   string(c.RiskLevel),
			"state":        string(snap.State),
			"score":        snap.Score,
		}
	}

	var out []Proposal
	switch snap.State {
	case contracts.StateAging, contracts.StateStale, contracts.StateCritical:
		impact, confidence := 14.0, 0.76
		if snap.State == contracts.StateAging {
			impact, confidence = 8.0, 0.68
		}
		out = append(out, Proposal{
			Type:              contracts.RecommendReminderCadence,
			Rationale:         fmt.Sprintf("%s is %s (score %d); tighten the reminder cadence for open assignments.", label, snap.State, snap.Score),
			ExpectedImpactPct: impact,
			Confidence:        confidence,
			Metadata:          base(),
		})
	}

	if snap.State == contracts.StateStale || snap.State == contracts.StateCritical {
		out = append(out, Proposal{
			Type:              contracts.RecommendAttestationRefresh,
			Rationale:         fmt.Sprintf("%s evidence is out of date; request fresh attestations.", label),
			ExpectedImpactPct: 11,
			Confidence:        0.73,
			Metadata:          base(),
		})
	}

	if snap.State == contracts.StateCritical || snap.RejectedCount >= 2 {
		owner := c.Owner
		if owner == "" {
			owner = "unassigned"
		}
		esc := base()
		esc["owner"] = owner
		esc["rejected_count"] = snap.RejectedCount
		out = append(out, Proposal{
			Type:              contracts.RecommendManagerEscalation,
			Rationale:         fmt.Sprintf("%s needs owner attention: state %s with %d rejected records.", label, snap.State, snap.RejectedCount),
			ExpectedImpactPct: 18,
			Confidence:        0.81,
			Metadata:          esc,
		})

		track := c.RoleTrack
		if track == "" {
			track = DefaultRoleTrack
		}
		ref := base()
		ref["role_track"] = track
		out = append(out, Proposal{
			Type:              contracts.RecommendRoleRefresherModule,
			Rationale:         fmt.Sprintf("Assign a %s refresher module covering %s.", track, label),
			ExpectedImpactPct: 21,
			Confidence:        0.79,
			Metadata:          ref,
		})
	}

	// TODO: revisit the cutoff; a critical control always loses the refresher
	// module even though it has the highest expected impact.
	if len(out) > MaxProposals {
		out = out[:MaxProposals]
	}
	return out
}
