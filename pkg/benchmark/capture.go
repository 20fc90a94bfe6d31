package benchmark

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Mindburn-Labs/adoption/pkg/apperror"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

// Rollup derives the org-level benchmark metrics from one sweep of freshness
// snapshots. time_to_ack_hours is omitted when no control has ack data.
func Rollup(orgID string, snaps []contracts.FreshnessSnapshot, at time.Time) []contracts.MetricSnapshot {
	if len(snaps) == 0 {
		return nil
	}
	var scoreSum float64
	var behind int
	var acks []float64
	for _, s := range snaps {
		scoreSum += float64(s.Score)
		if s.State == contracts.StateStale || s.State == contracts.StateCritical {
			behind++
		}
		if s.MedianAckHours != nil {
			acks = append(acks, *s.MedianAckHours)
		}
	}
	n := float64(len(snaps))
	out := []contracts.MetricSnapshot{
		{Subject: orgID, Metric: contracts.MetricControlFreshness, Value: scoreSum / n, CapturedAt: at},
	}
	if len(acks) > 0 {
		sort.Float64s(acks)
		mid := len(acks) / 2
		v := acks[mid]
		if len(acks)%2 == 0 {
			v = (acks[mid-1] + acks[mid]) / 2
		}
		out = append(out, contracts.MetricSnapshot{Subject: orgID, Metric: contracts.MetricTimeToAckHours, Value: v, CapturedAt: at})
	}
	out = append(out, contracts.MetricSnapshot{
		Subject: orgID, Metric: contracts.MetricStaleControlsRatio, Value: float64(behind) / n, CapturedAt: at,
	})
	return out
}

// Capture records the rollup of snaps as the org's latest metric values.
// It is a no-op when the analytics tables are absent.
func (r *Resolver) Capture(ctx context.Context, orgID string, snaps []contracts.FreshnessSnapshot, at time.Time) ([]contracts.MetricSnapshot, error) {
	const op = "benchmark.capture"
	if !r.available {
		return nil, nil
	}
	rows := Rollup(orgID, snaps, at.UTC())
	for i := range rows {
		err := r.store.RecordOrgMetric(ctx, &rows[i])
		if errors.Is(err, store.ErrRelationNotFound) {
			r.logger.DebugContext(ctx, "benchmark tables unavailable, not capturing", "org_id", orgID)
			return nil, nil
		}
		if err != nil {
			return nil, apperror.DB(op, err)
		}
	}
	return rows, nil
}
