package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

// Missing benchmark tables surface as store.ErrRelationNotFound via wrap.

func (s *Store) LatestOrgMetric(ctx context.Context, orgID string, metric contracts.MetricName) (*contracts.MetricSnapshot, error) {
	return s.latestMetric(ctx, `SELECT org_id, metric, value, percentile_rank, captured_at FROM org_metric_snapshots
		WHERE org_id = $1 AND metric = $2 ORDER BY captured_at DESC LIMIT 1`, orgID, metric)
}

func (s *Store) LatestCohortMetric(ctx context.Context, cohort string, metric contracts.MetricName) (*contracts.MetricSnapshot, error) {
	return s.latestMetric(ctx, `SELECT cohort_code, metric, value, percentile_rank, captured_at FROM benchmark_snapshots
		WHERE cohort_code = $1 AND metric = $2 ORDER BY captured_at DESC LIMIT 1`, cohort, metric)
}

func (s *Store) latestMetric(ctx context.Context, query, subject string, metric contracts.MetricName) (*contracts.MetricSnapshot, error) {
	var m contracts.MetricSnapshot
	var rank sql.NullFloat64
	err := s.db.QueryRowContext(ctx, s.q(query), subject, string(metric)).
		Scan(&m.Subject, &m.Metric, &m.Value, &rank, timeCol{&m.CapturedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrap("latest metric", err)
	}
	if rank.Valid {
		v := rank.Float64
		m.PercentileRank = &v
	}
	return &m, nil
}

func (s *Store) RecordOrgMetric(ctx context.Context, m *contracts.MetricSnapshot) error {
	return s.recordMetric(ctx, `INSERT INTO org_metric_snapshots (org_id, metric, value, percentile_rank, captured_at)
		VALUES ($1, $2, $3, $4, $5)`, m)
}

func (s *Store) RecordCohortMetric(ctx context.Context, m *contracts.MetricSnapshot) error {
	return s.recordMetric(ctx, `INSERT INTO benchmark_snapshots (cohort_code, metric, value, percentile_rank, captured_at)
		VALUES ($1, $2, $3, $4, $5)`, m)
}

func (s *Store) recordMetric(ctx context.Context, query string, m *contracts.MetricSnapshot) error {
	var rank any
	if m.PercentileRank != nil {
		rank = *m.PercentileRank
	}
	_, err := s.db.ExecContext(ctx, s.q(query), m.Subject, string(m.Metric), m.Value, rank, s.ts(m.CapturedAt))
	return wrap("record metric", err)
}
