package intervention

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

func types(ps []Proposal) []contracts.RecommendationType {
	out := make([]contracts.RecommendationType, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Type)
	}
	return out
}

func TestPropose(t *testing.T) {
	ctl := ControlContext{ControlID: "c1", Code: "SOC2:CC2.2", RiskLevel: contracts.RiskHigh, Owner: "ciso@example.com"}

	cases := []struct {
		name     string
		snap     contracts.FreshnessSnapshot
		expected []contracts.RecommendationType
	}{
		{"fresh", contracts.FreshnessSnapshot{State: contracts.StateFresh}, []contracts.RecommendationType{}},
		{"aging", contracts.FreshnessSnapshot{State: contracts.StateAging},
			[]contracts.RecommendationType{contracts.RecommendReminderCadence}},
		{"stale", contracts.FreshnessSnapshot{State: contracts.StateStale},
			[]contracts.RecommendationType{contracts.RecommendReminderCadence, contracts.RecommendAttestationRefresh}},
		{"critical drops the refresher module", contracts.FreshnessSnapshot{State: contracts.StateCritical},
			[]contracts.RecommendationType{contracts.RecommendReminderCadence, contracts.RecommendAttestationRefresh, contracts.RecommendManagerEscalation}},
		{"fresh with rejections", contracts.FreshnessSnapshot{State: contracts.StateFresh, RejectedCount: 2},
			[]contracts.RecommendationType{contracts.RecommendManagerEscalation, contracts.RecommendRoleRefresherModule}},
		{"aging with rejections", contracts.FreshnessSnapshot{State: contracts.StateAging, RejectedCount: 3},
			[]contracts.RecommendationType{contracts.RecommendReminderCadence, contracts.RecommendManagerEscalation, contracts.RecommendRoleRefresherModule}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, types(Propose(ctl, tc.snap)))
		})
	}
}

func TestPropose_ImpactAndConfidence(t *testing.T) {
	ctl := ControlContext{ControlID: "c1"}

	aging := Propose(ctl, contracts.FreshnessSnapshot{State: contracts.StateAging})
	require.Len(t, aging, 1)
	assert.Equal(t, 8.0, aging[0].ExpectedImpactPct)
	assert.Equal(t, 0.68, aging[0].Confidence)

	stale := Propose(ctl, contracts.FreshnessSnapshot{State: contracts.StateStale})
	require.Len(t, stale, 2)
	assert.Equal(t, 14.0, stale[0].ExpectedImpactPct)
	assert.Equal(t, 0.76, stale[0].Confidence)
	assert.Equal(t, 11.0, stale[1].ExpectedImpactPct)
	assert.Equal(t, 0.73, stale[1].Confidence)

	rejected := Propose(ctl, contracts.FreshnessSnapshot{State: contracts.StateFresh, RejectedCount: 2})
	require.Len(t, rejected, 2)
	assert.Equal(t, 18.0, rejected[0].ExpectedImpactPct)
	assert.Equal(t, 0.81, rejected[0].Confidence)
	assert.Equal(t, "unassigned", rejected[0].Metadata["owner"])
	assert.Equal(t, 21.0, rejected[1].ExpectedImpactPct)
	assert.Equal(t, 0.79, rejected[1].Confidence)
	assert.Equal(t, DefaultRoleTrack, rejected[1].Metadata["role_track"])
}
