// Package freshness scores how current and trustworthy a control's
// evidence is and classifies it as fresh, aging, stale or critical.
//
// Compute is a pure function of the evidence rows, the policy timestamp and
// the evaluation time. Persisted snapshots are history for trend charts and
// never feed back into the computation.
package freshness

import (
	"math"
	"sort"
	"time"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

const day = 24 * time.Hour

// Thresholds of the state rules.
const (
	AgingAfter          = 7 * day
	StaleAfter          = 14 * day
	CriticalAfter       = 30 * day
	RejectedCriticalAge = 7 * day
	PolicyGrace         = 2 * day
	CriticalStaleCount  = 3
)

var baseScore = map[contracts.FreshnessState]int{
	contracts.StateFresh:    92,
	contracts.StateAging:    75,
	contracts.StateStale:    52,
	contracts.StateCritical: 28,
}

// Input is everything Compute needs for one control.
type Input struct {
	Evidence        []contracts.Evidence
	PolicyUpdatedAt *time.Time
}

// Computed is the result for one control.
type Computed struct {
	State            contracts.FreshnessState `json:"state"`
	Score            int                      `json:"score"`
	LatestEvidenceAt *time.Time               `json:"latest_evidence_at"`
	FreshCount       int                      `json:"fresh_evidence_count"`
	StaleCount       int                      `json:"stale_count"`
	RejectedCount    int                      `json:"rejected_count"`
	SyncedCount      int                      `json:"synced_count"`
	MedianAckHours   *float64                 `json:"median_ack_hours"`
}

// Compute classifies and scores a control. Superseded records are ignored.
func Compute(in Input, now time.Time) Computed {
	var out Computed
	var ackHours []float64

	for _, e := range in.Evidence {
		if e.Status == contracts.EvidenceSuperseded {
			continue
		}
		if out.LatestEvidenceAt == nil || e.OccurredAt.After(*out.LatestEvidenceAt) {
			t := e.OccurredAt
			out.LatestEvidenceAt = &t
		}
		switch e.Status {
		case contracts.EvidenceStale:
			out.StaleCount++
		case contracts.EvidenceRejected:
			out.RejectedCount++
		case contracts.EvidenceSynced:
			out.SyncedCount++
		}
		if e.Status != contracts.EvidenceStale && e.Status != contracts.EvidenceRejected &&
			nonNegative(now.Sub(e.OccurredAt)) <= AgingAfter {
			out.FreshCount++
		}
		if e.Type == contracts.EvidenceMaterialAcknowledgment {
			ackHours = append(ackHours, ackLatency(e, now))
		}
	}
	out.MedianAckHours = median(ackHours)

	var age time.Duration
	if out.LatestEvidenceAt != nil {
		age = nonNegative(now.Sub(*out.LatestEvidenceAt))
	}
	var policyAge time.Duration
	if in.PolicyUpdatedAt != nil {
		policyAge = nonNegative(now.Sub(*in.PolicyUpdatedAt))
	}

	out.State = classify(out, in.PolicyUpdatedAt, age, policyAge)
	out.Score = score(out, in.PolicyUpdatedAt != nil, age, policyAge)
	return out
}

// classify applies the state rules in order; the first match wins.
func classify(c Computed, policyAt *time.Time, age, policyAge time.Duration) contracts.FreshnessState {
	switch {
	case c.LatestEvidenceAt == nil:
		return contracts.StateCritical
	case c.RejectedCount >= 1 && age > RejectedCriticalAge:
		return contracts.StateCritical
	case policyAt != nil && policyAt.After(*c.LatestEvidenceAt) && policyAge > PolicyGrace:
		return contracts.StateStale
	case c.StaleCount >= CriticalStaleCount || age > CriticalAfter:
		return contracts.StateCritical
	case c.StaleCount >= 1 || age > StaleAfter:
		return contracts.StateStale
	case age > AgingAfter:
		return contracts.StateAging
	}
	return contracts.StateFresh
}

func score(c Computed, hasPolicy bool, age, policyAge time.Duration) int {
	s := baseScore[c.State]

	if c.LatestEvidenceAt == nil {
		s -= 35
	} else {
		s -= min(35, wholeDays(age))
	}
	if hasPolicy {
		s -= min(25, wholeDays(policyAge)/2)
	}
	s -= 6 * c.StaleCount
	s -= 8 * c.RejectedCount
	s += min(20, 2*c.SyncedCount)

	return max(0, min(100, s))
}

// ackLatency is the hours from assignment start to acknowledgment. Records
// without a parseable startedAt count as pending since occurred_at.
func ackLatency(e contracts.Evidence, now time.Time) float64 {
	if raw, ok := e.Metadata["startedAt"].(string); ok {
		if started, err := time.Parse(time.RFC3339, raw); err == nil {
			return nonNegative(e.OccurredAt.Sub(started)).Hours()
		}
	}
	return nonNegative(now.Sub(e.OccurredAt)).Hours()
}

func median(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	m := sorted[mid]
	if len(sorted)%2 == 0 {
		m = (sorted[mid-1] + sorted[mid]) / 2
	}
	m = math.Round(m*100) / 100
	return &m
}

func wholeDays(d time.Duration) int { return int(d / day) }

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
