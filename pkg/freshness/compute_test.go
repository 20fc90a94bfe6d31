package freshness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

var now = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func ev(status contracts.EvidenceStatus, age time.Duration) contracts.Evidence {
	return contracts.Evidence{
		ID: "e-" + string(status) + age.String(), Type: contracts.EvidenceQuizPass,
		Status: status, OccurredAt: now.Add(-age),
	}
}

func ptr(t time.Time) *time.Time { return &t }

func TestCompute_NoEvidenceIsCritical(t *testing.T) {
	c := Compute(Input{}, now)
	assert.Equal(t, contracts.StateCritical, c.State)
	assert.Equal(t, 0, c.Score)
	assert.Nil(t, c.LatestEvidenceAt)
	assert.Nil(t, c.MedianAckHours)
}

func TestCompute_SyncedTodayIsFresh(t *testing.T) {
	c := Compute(Input{Evidence: []contracts.Evidence{ev(contracts.EvidenceSynced, time.Hour)}}, now)
	assert.Equal(t, contracts.StateFresh, c.State)
	assert.GreaterOrEqual(t, c.Score, 85)
	assert.Equal(t, 94, c.Score)
	assert.Equal(t, 1, c.FreshCount)
	assert.Equal(t, 1, c.SyncedCount)
}

func TestCompute_RejectedWithOldPolicyIsCritical(t *testing.T) {
	c := Compute(Input{
		Evidence:        []contracts.Evidence{ev(contracts.EvidenceRejected, 10*day)},
		PolicyUpdatedAt: ptr(now.Add(-20 * day)),
	}, now)
	assert.Equal(t, contracts.StateCritical, c.State)
	assert.Less(t, c.Score, 60)
	assert.Equal(t, 1, c.RejectedCount)
	assert.Zero(t, c.FreshCount)
}

func TestCompute_Rules(t *testing.T) {
	cases := []struct {
		name     string
		evidence []contracts.Evidence
		policy   *time.Time
		want     contracts.FreshnessState
	}{
		{"rejected but recent", []contracts.Evidence{ev(contracts.EvidenceRejected, 2*day)}, nil, contracts.StateFresh},
		{"policy changed after evidence", []contracts.Evidence{ev(contracts.EvidenceSynced, 4*day)}, ptr(now.Add(-3 * day)), contracts.StateStale},
		{"policy change inside grace", []contracts.Evidence{ev(contracts.EvidenceSynced, 4*day)}, ptr(now.Add(-day)), contracts.StateFresh},
		{"policy before evidence", []contracts.Evidence{ev(contracts.EvidenceSynced, day)}, ptr(now.Add(-10 * day)), contracts.StateFresh},
		{"three stale", []contracts.Evidence{
			ev(contracts.EvidenceStale, day), ev(contracts.EvidenceStale, 2*day), ev(contracts.EvidenceStale, 3*day),
		}, nil, contracts.StateCritical},
		{"older than 30 days", []contracts.Evidence{ev(contracts.EvidenceSynced, 31*day)}, nil, contracts.StateCritical},
		{"one stale", []contracts.Evidence{ev(contracts.EvidenceSynced, day), ev(contracts.EvidenceStale, day)}, nil, contracts.StateStale},
		{"older than 14 days", []contracts.Evidence{ev(contracts.EvidenceQueued, 15*day)}, nil, contracts.StateStale},
		{"older than 7 days", []contracts.Evidence{ev(contracts.EvidenceQueued, 8*day)}, nil, contracts.StateAging},
		{"exactly 7 days", []contracts.Evidence{ev(contracts.EvidenceQueued, 7*day)}, nil, contracts.StateFresh},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Compute(Input{Evidence: tc.evidence, PolicyUpdatedAt: tc.policy}, now)
			assert.Equal(t, tc.want, c.State)
			assert.GreaterOrEqual(t, c.Score, 0)
			assert.LessOrEqual(t, c.Score, 100)
		})
	}
}

func TestCompute_IgnoresSuperseded(t *testing.T) {
	c := Compute(Input{Evidence: []contracts.Evidence{
		ev(contracts.EvidenceSuperseded, time.Hour),
		ev(contracts.EvidenceSynced, 9*day),
	}}, now)
	assert.Equal(t, contracts.StateAging, c.State)
	require.NotNil(t, c.LatestEvidenceAt)
	assert.Equal(t, now.Add(-9*day), *c.LatestEvidenceAt)
}

func TestCompute_ScoreComponents(t *testing.T) {
	// aging base 75, minus 9 days of age, minus half the 10-day policy age.
	c := Compute(Input{
		Evidence:        []contracts.Evidence{ev(contracts.EvidenceQueued, 9*day)},
		PolicyUpdatedAt: ptr(now.Add(-10 * day)),
	}, now)
	assert.Equal(t, contracts.StateAging, c.State)
	assert.Equal(t, 61, c.Score)

	// synced bonus caps at 20.
	var rows []contracts.Evidence
	for i := 0; i < 15; i++ {
		e := ev(contracts.EvidenceSynced, time.Hour)
		e.ID = e.ID + string(rune('a'+i))
		rows = append(rows, e)
	}
	c = Compute(Input{Evidence: rows}, now)
	assert.Equal(t, 100, c.Score)
}

// Rule 3 outranks rule 4: once the policy is newer than the latest evidence
// the control reads stale, which scores above the critical state it held a
// day earlier. The score is not monotonic across that handoff.
func TestCompute_PolicyRuleOutranksCriticalAge(t *testing.T) {
	policy := ptr(now.Add(-32 * day))
	synced := func(age time.Duration) []contracts.Evidence {
		var rows []contracts.Evidence
		for i := 0; i < 5; i++ {
			e := ev(contracts.EvidenceSynced, age)
			e.ID += string(rune('a' + i))
			rows = append(rows, e)
		}
		return rows
	}

	before := Compute(Input{Evidence: synced(31 * day), PolicyUpdatedAt: policy}, now)
	assert.Equal(t, contracts.StateCritical, before.State)
	assert.Equal(t, 0, before.Score)

	after := Compute(Input{Evidence: synced(33 * day), PolicyUpdatedAt: policy}, now)
	assert.Equal(t, contracts.StateStale, after.State)
	assert.Equal(t, 13, after.Score)
	assert.Greater(t, after.Score, before.Score)
}

func TestCompute_MedianAckHours(t *testing.T) {
	ack := func(occurredAgo time.Duration, started string) contracts.Evidence {
		e := ev(contracts.EvidenceSynced, occurredAgo)
		e.Type = contracts.EvidenceMaterialAcknowledgment
		if started != "" {
			e.Metadata = map[string]any{"startedAt": started}
		}
		return e
	}
	rows := []contracts.Evidence{
		ack(0, now.Add(-10*time.Hour).Format(time.RFC3339)), // 10h
		ack(0, now.Add(-2*time.Hour).Format(time.RFC3339)),  // 2h
		ack(5*time.Hour, ""),                                // pending 5h
		ack(time.Hour, "not a time"),                        // pending 1h
	}
	c := Compute(Input{Evidence: rows}, now)
	require.NotNil(t, c.MedianAckHours)
	assert.Equal(t, 3.5, *c.MedianAckHours)

	c = Compute(Input{Evidence: rows[:3]}, now)
	assert.Equal(t, 5.0, *c.MedianAckHours)
}

func TestBuildTrend(t *testing.T) {
	current := contracts.FreshnessSnapshot{Score: 60, State: contracts.StateAging, ComputedAt: now}

	synthetic := BuildTrend(nil, current)
	assert.True(t, synthetic.Synthetic)
	require.Len(t, synthetic.Points, TrendPoints)
	for i := 1; i < len(synthetic.Points); i++ {
		assert.GreaterOrEqual(t, synthetic.Points[i].Score, synthetic.Points[i-1].Score)
		assert.True(t, synthetic.Points[i].At.After(synthetic.Points[i-1].At))
	}
	assert.Equal(t, 60, synthetic.Points[TrendPoints-1].Score)

	var history []contracts.FreshnessSnapshot
	for i := 1; i <= 10; i++ {
		history = append(history, contracts.FreshnessSnapshot{Score: 100 - i, ComputedAt: now.Add(-time.Duration(i) * time.Hour)})
	}
	stored := BuildTrend(history, current)
	assert.False(t, stored.Synthetic)
	require.Len(t, stored.Points, TrendPoints)
	assert.Equal(t, 94, stored.Points[0].Score, "oldest kept snapshot first")
	assert.Equal(t, 99, stored.Points[5].Score)
	assert.Equal(t, 60, stored.Points[6].Score)
}
