// Package benchmark compares an org's adoption metrics with a peer cohort.
package benchmark

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Mindburn-Labs/adoption/pkg/apperror"
	"github.com/Mindburn-Labs/adoption/pkg/config"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/metrics"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

// DefaultCohort is used when the caller names none.
const DefaultCohort = "global-mid-market"

// Band is the qualitative reading of a percentile rank.
type Band string

const (
	BandTop              Band = "top"
	BandStrong           Band = "strong"
	BandAverage          Band = "average"
	BandWatch            Band = "watch"
	BandAtRisk           Band = "at-risk"
	BandInsufficientData Band = "insufficient-data"
)

// BandFor maps a percentile rank to a band.
func BandFor(percentile *float64) Band {
	if percentile == nil {
		return BandInsufficientData
	}
	switch p := *percentile; {
	case p >= 80:
		return BandTop
	case p >= 60:
		return BandStrong
	case p >= 40:
		return BandAverage
	case p >= 20:
		return BandWatch
	}
	return BandAtRisk
}

// Result is one metric comparison.
type Result struct {
	Metric      contracts.MetricName `json:"metric"`
	Cohort      string               `json:"cohort"`
	OrgValue    *float64             `json:"org_value"`
	CohortValue *float64             `json:"cohort_value"`
	Delta       *float64             `json:"delta"`
	Percentile  *float64             `json:"percentile"`
	Band        Band                 `json:"band"`
	// CompatMode is set when the analytics tables are absent and the
	// cohort value comes from the fallback table.
	CompatMode bool `json:"compat_mode"`
}

type Resolver struct {
	store         store.BenchmarkStore
	available     bool
	fallback      *config.BenchmarkFallback
	defaultCohort string
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// NewResolver builds a resolver. caps comes from the startup probe; a nil
// fallback uses the built-in values.
func NewResolver(s store.BenchmarkStore, caps store.Capabilities, fallback *config.BenchmarkFallback) *Resolver {
	if fallback == nil {
		fallback = config.DefaultBenchmarkFallback()
	}
	cohort := fallback.Cohort
	if cohort == "" {
		cohort = DefaultCohort
	}
	return &Resolver{
		store:         s,
		available:     caps.Benchmarks,
		fallback:      fallback,
		defaultCohort: cohort,
		logger:        slog.Default().With("component", "benchmark"),
	}
}

func (r *Resolver) WithMetrics(m *metrics.Metrics) *Resolver {
	r.metrics = m
	return r
}

// WithDefaultCohort overrides the cohort used when a call names none.
func (r *Resolver) WithDefaultCohort(cohort string) *Resolver {
	if cohort != "" {
		r.defaultCohort = cohort
	}
	return r
}

// Resolve compares the org's latest value of metric with the cohort's.
func (r *Resolver) Resolve(ctx context.Context, orgID string, metric contracts.MetricName, cohort string) (*Result, error) {
	const op = "benchmark.resolve"
	if !metric.Valid() {
		return nil, apperror.Validation(op, "unknown metric %q", metric)
	}
	if cohort == "" {
		cohort = r.defaultCohort
	}
	if !r.available {
		return r.compat(ctx, metric, cohort), nil
	}

	org, err := r.store.LatestOrgMetric(ctx, orgID, metric)
	if err = absentIsNil(err); err != nil {
		if errors.Is(err, store.ErrRelationNotFound) {
			return r.compat(ctx, metric, cohort), nil
		}
		return nil, apperror.DB(op, err)
	}
	peer, err := r.store.LatestCohortMetric(ctx, cohort, metric)
	if err = absentIsNil(err); err != nil {
		if errors.Is(err, store.ErrRelationNotFound) {
			return r.compat(ctx, metric, cohort), nil
		}
		return nil, apperror.DB(op, err)
	}

	res := &Result{Metric: metric, Cohort: cohort}
	if org != nil {
		v := org.Value
		res.OrgValue = &v
		res.Percentile = org.PercentileRank
	}
	if peer != nil {
		v := peer.Value
		res.CohortValue = &v
	}
	if res.OrgValue != nil && res.CohortValue != nil {
		d := *res.OrgValue - *res.CohortValue
		res.Delta = &d
	}
	res.Band = BandFor(res.Percentile)
	return res, nil
}

// ResolveAll resolves every benchmark metric.
func (r *Resolver) ResolveAll(ctx context.Context, orgID, cohort string) ([]Result, error) {
	names := []contracts.MetricName{
		contracts.MetricControlFreshness, contracts.MetricTimeToAckHours, contracts.MetricStaleControlsRatio,
	}
	out := make([]Result, 0, len(names))
	for _, m := range names {
		res, err := r.Resolve(ctx, orgID, m, cohort)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, nil
}

func (r *Resolver) compat(ctx context.Context, metric contracts.MetricName, cohort string) *Result {
	r.metrics.BenchmarkCompatMode()
	r.logger.DebugContext(ctx, "benchmark tables unavailable, serving fallback", "metric", metric, "cohort", cohort)
	res := &Result{Metric: metric, Cohort: cohort, Band: BandInsufficientData, CompatMode: true}
	if v, ok := r.fallback.Values[string(metric)]; ok {
		res.CohortValue = &v
	}
	return res
}

func absentIsNil(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}
