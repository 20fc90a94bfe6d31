package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/adoption/pkg/store"
)

// coreSchema is written with dialect tokens: {{ts}} timestamp, {{json}}
// document, {{float}} double and {{serial}} auto-increment key.
var coreSchema = []string{
	`CREATE TABLE IF NOT EXISTS evidence_objects (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		control_id TEXT NOT NULL DEFAULT '',
		campaign_id TEXT NOT NULL DEFAULT '',
		module_id TEXT NOT NULL DEFAULT '',
		assignment_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		evidence_type TEXT NOT NULL,
		source_table TEXT NOT NULL,
		source_id TEXT NOT NULL,
		status TEXT NOT NULL,
		confidence_score {{float}} NOT NULL,
		quality_score {{float}} NOT NULL,
		checksum TEXT NOT NULL,
		lineage_hash TEXT NOT NULL,
		dedup_key TEXT NOT NULL,
		occurred_at {{ts}} NOT NULL,
		created_at {{ts}} NOT NULL,
		metadata {{json}} NOT NULL DEFAULT '{}',
		UNIQUE (org_id, dedup_key)
	)`,
	`CREATE INDEX IF NOT EXISTS evidence_objects_control_idx ON evidence_objects (org_id, control_id, occurred_at)`,
	`CREATE TABLE IF NOT EXISTS evidence_lineage_links (
		org_id TEXT NOT NULL,
		source_evidence_id TEXT NOT NULL,
		target_evidence_id TEXT NOT NULL,
		relation_type TEXT NOT NULL,
		metadata {{json}} NOT NULL DEFAULT '{}',
		created_by TEXT NOT NULL DEFAULT '',
		created_at {{ts}} NOT NULL,
		PRIMARY KEY (org_id, source_evidence_id, target_evidence_id, relation_type)
	)`,
	`CREATE INDEX IF NOT EXISTS evidence_lineage_target_idx ON evidence_lineage_links (org_id, target_evidence_id)`,
	`CREATE TABLE IF NOT EXISTS control_freshness_snapshots (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		control_id TEXT NOT NULL,
		freshness_state TEXT NOT NULL,
		freshness_score INTEGER NOT NULL,
		fresh_count INTEGER NOT NULL,
		stale_count INTEGER NOT NULL,
		rejected_count INTEGER NOT NULL,
		synced_count INTEGER NOT NULL,
		median_ack_hours {{float}},
		last_policy_update_at {{ts}},
		latest_evidence_at {{ts}},
		computed_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS control_freshness_snapshots_idx ON control_freshness_snapshots (org_id, control_id, computed_at)`,
	`CREATE TABLE IF NOT EXISTS intervention_recommendations (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		control_id TEXT NOT NULL,
		recommendation_type TEXT NOT NULL,
		status TEXT NOT NULL,
		rationale TEXT NOT NULL,
		expected_impact_pct {{float}} NOT NULL,
		confidence_score {{float}} NOT NULL,
		metadata {{json}} NOT NULL DEFAULT '{}',
		created_by TEXT NOT NULL DEFAULT '',
		approved_by TEXT NOT NULL DEFAULT '',
		approved_at {{ts}},
		approval_note TEXT NOT NULL DEFAULT '',
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS intervention_recommendations_active_idx
		ON intervention_recommendations (org_id, control_id, recommendation_type)
		WHERE status IN ('proposed', 'approved', 'executing')`,
	`CREATE TABLE IF NOT EXISTS intervention_executions (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		intervention_id TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		execution_status TEXT NOT NULL,
		result {{json}} NOT NULL DEFAULT '{}',
		error_message TEXT NOT NULL DEFAULT '',
		started_at {{ts}} NOT NULL,
		finished_at {{ts}},
		UNIQUE (org_id, intervention_id, idempotency_key)
	)`,
	`CREATE TABLE IF NOT EXISTS controls (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		code TEXT NOT NULL,
		title TEXT NOT NULL,
		risk_level TEXT NOT NULL,
		role_track TEXT NOT NULL DEFAULT '',
		owner TEXT NOT NULL DEFAULT '',
		obligations {{json}} NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		title TEXT NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS control_mappings (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		control_id TEXT NOT NULL,
		campaign_id TEXT NOT NULL,
		module_id TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS control_mappings_active_idx
		ON control_mappings (org_id, control_id, campaign_id, module_id) WHERE active`,
	`CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		campaign_id TEXT NOT NULL,
		module_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at {{ts}}
	)`,
	`CREATE TABLE IF NOT EXISTS notification_jobs (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		dedupe_key TEXT NOT NULL UNIQUE,
		channel TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		assignment_id TEXT NOT NULL,
		campaign_id TEXT NOT NULL,
		control_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		scheduled_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		seq {{serial}},
		id TEXT NOT NULL UNIQUE,
		request_id TEXT NOT NULL DEFAULT '',
		org_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		metadata {{json}} NOT NULL DEFAULT '{}',
		ts {{ts}} NOT NULL,
		prev_hash TEXT NOT NULL,
		hash TEXT NOT NULL
	)`,
}

// benchmarkSchema is optional; deployments without it run the benchmark
// resolver in compat mode.
var benchmarkSchema = []string{
	`CREATE TABLE IF NOT EXISTS org_metric_snapshots (
		org_id TEXT NOT NULL,
		metric TEXT NOT NULL,
		value {{float}} NOT NULL,
		percentile_rank {{float}},
		captured_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS benchmark_snapshots (
		cohort_code TEXT NOT NULL,
		metric TEXT NOT NULL,
		value {{float}} NOT NULL,
		percentile_rank {{float}},
		captured_at {{ts}} NOT NULL
	)`,
}

func (s *Store) ddl(stmt string) string {
	var r *strings.Replacer
	if s.dialect == SQLite {
		r = strings.NewReplacer("{{ts}}", "TEXT", "{{json}}", "TEXT", "{{float}}", "REAL",
			"{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT")
	} else {
		r = strings.NewReplacer("{{ts}}", "TIMESTAMPTZ", "{{json}}", "JSONB", "{{float}}", "DOUBLE PRECISION",
			"{{serial}}", "BIGSERIAL PRIMARY KEY")
	}
	return r.Replace(stmt)
}

// MigrateOptions controls which optional tables Migrate creates.
type MigrateOptions struct {
	SkipBenchmarks bool
}

// Migrate creates any missing tables and indexes. It is idempotent.
func (s *Store) Migrate(ctx context.Context, opts MigrateOptions) error {
	stmts := coreSchema
	if !opts.SkipBenchmarks {
		stmts = append(append([]string(nil), coreSchema...), benchmarkSchema...)
	}
	for i, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, s.ddl(stmt)); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	s.logger.InfoContext(ctx, "schema migrated", "statements", len(stmts))
	return nil
}

// Capabilities probes for optional tables.
func (s *Store) Capabilities(ctx context.Context) (store.Capabilities, error) {
	var query string
	if s.dialect == SQLite {
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'benchmark_snapshots'`
	} else {
		query = `SELECT COUNT(*) FROM pg_catalog.pg_tables WHERE tablename = 'benchmark_snapshots'`
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return store.Capabilities{}, wrap("probe capabilities", err)
	}
	return store.Capabilities{Benchmarks: n > 0}, nil
}
