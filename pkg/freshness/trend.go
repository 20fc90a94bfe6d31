package freshness

import (
	"time"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

// TrendPoints is the maximum length of a trend series.
const TrendPoints = 7

type TrendPoint struct {
	At    time.Time `json:"at"`
	Score int       `json:"score"`
	State string    `json:"state,omitempty"`
}

// Trend is a chronological score series. Synthetic trends are placeholders
// for display only.
type Trend struct {
	Points    []TrendPoint `json:"points"`
	Synthetic bool         `json:"synthetic"`
}

// BuildTrend combines stored history (newest first, as the store returns it)
// with the current snapshot. Without history it returns a synthetic ramp.
func BuildTrend(history []contracts.FreshnessSnapshot, current contracts.FreshnessSnapshot) Trend {
	if len(history) == 0 {
		return syntheticTrend(current)
	}
	if len(history) > TrendPoints-1 {
		history = history[:TrendPoints-1]
	}
	points := make([]TrendPoint, 0, len(history)+1)
	for i := len(history) - 1; i >= 0; i-- {
		h := history[i]
		points = append(points, TrendPoint{At: h.ComputedAt, Score: h.Score, State: string(h.State)})
	}
	points = append(points, TrendPoint{At: current.ComputedAt, Score: current.Score, State: string(current.State)})
	return Trend{Points: points}
}

// syntheticTrend ramps linearly toward the current score over one point per day.
func syntheticTrend(current contracts.FreshnessSnapshot) Trend {
	start := max(0, current.Score-18)
	points := make([]TrendPoint, TrendPoints)
	for i := range points {
		points[i] = TrendPoint{
			At:    current.ComputedAt.Add(-time.Duration(TrendPoints-1-i) * day),
			Score: start + (current.Score-start)*i/(TrendPoints-1),
		}
	}
	points[TrendPoints-1].State = string(current.State)
	return Trend{Points: points, Synthetic: true}
}
