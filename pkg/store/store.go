// Package store defines the typed repository layer of the engine. Every
// method returns either a single nullable entity or a slice; uniqueness
// rules are enforced by the implementation, not by callers.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

var (
	// ErrNotFound is returned when a single-entity lookup has no row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("store: unique constraint violated")
	// ErrStaleTransition is returned when a compare-and-set finds the row
	// outside the expected states.
	ErrStaleTransition = errors.New("store: row not in expected state")
	// ErrRelationNotFound is returned when an optional table is not provisioned.
	ErrRelationNotFound = errors.New("store: relation not found")
)

// Capabilities lists optional schema features detected at startup.
type Capabilities struct {
	Benchmarks bool `json:"benchmarks"`
}

// EvidenceStore persists append-only evidence records.
type EvidenceStore interface {
	// InsertEvidence inserts e unless (org, dedup key) exists. It reports
	// whether a row was created.
	InsertEvidence(ctx context.Context, e *contracts.Evidence) (bool, error)
	GetEvidenceByDedupKey(ctx context.Context, orgID, dedupKey string) (*contracts.Evidence, error)
	GetEvidence(ctx context.Context, orgID string, ids []string) ([]contracts.Evidence, error)
	// ListEvidenceForControl returns rows ordered by occurred_at ascending.
	ListEvidenceForControl(ctx context.Context, orgID, controlID string) ([]contracts.Evidence, error)
	// UpdateEvidenceStatus applies upd and returns the ids it changed.
	UpdateEvidenceStatus(ctx context.Context, upd contracts.StatusUpdate) ([]string, error)
}

// LineageStore persists evidence lineage edges.
type LineageStore interface {
	// InsertLineageLinks upserts links ignoring duplicates and returns the
	// number of new rows.
	InsertLineageLinks(ctx context.Context, links []contracts.LineageLink) (int, error)
	ListLineageBySource(ctx context.Context, orgID string, ids []string) ([]contracts.LineageLink, error)
	ListLineageByTarget(ctx context.Context, orgID string, ids []string) ([]contracts.LineageLink, error)
}

// SnapshotStore keeps the append-only freshness history.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, s *contracts.FreshnessSnapshot) error
	// ListSnapshots returns at most limit rows, newest first.
	ListSnapshots(ctx context.Context, orgID, controlID string, limit int) ([]contracts.FreshnessSnapshot, error)
}

// RecommendationStore persists intervention recommendations.
type RecommendationStore interface {
	// InsertRecommendation inserts r unless an active recommendation with the
	// same (org, control, type) exists. It reports whether a row was created.
	InsertRecommendation(ctx context.Context, r *contracts.Recommendation) (bool, error)
	GetRecommendation(ctx context.Context, orgID, id string) (*contracts.Recommendation, error)
	ListActiveRecommendations(ctx context.Context, orgID, controlID string) ([]contracts.Recommendation, error)
	// TransitionRecommendation applies a compare-and-set status change and
	// returns the updated row, or ErrStaleTransition.
	TransitionRecommendation(ctx context.Context, t contracts.RecommendationTransition) (*contracts.Recommendation, error)
}

// ExecutionStore persists intervention executions.
type ExecutionStore interface {
	// InsertExecution inserts e unless (org, intervention, key) exists.
	InsertExecution(ctx context.Context, e *contracts.Execution) (bool, error)
	GetExecution(ctx context.Context, orgID, interventionID, key string) (*contracts.Execution, error)
	ListExecutions(ctx context.Context, orgID, interventionID string) ([]contracts.Execution, error)
	// FinishExecution records the outcome and moves the recommendation in a
	// single transaction.
	FinishExecution(ctx context.Context, o contracts.ExecutionOutcome) error
}

// ControlStore reads and seeds controls.
type ControlStore interface {
	GetControl(ctx context.Context, orgID, id string) (*contracts.Control, error)
	ListControls(ctx context.Context, orgID string) ([]contracts.Control, error)
	UpsertControl(ctx context.Context, c *contracts.Control) error
}

// MappingStore resolves controls to campaigns and modules.
type MappingStore interface {
	// CreateMapping returns ErrConflict for a duplicate active mapping.
	CreateMapping(ctx context.Context, m *contracts.ControlMapping) error
	ListMappingsForControl(ctx context.Context, orgID, controlID string) ([]contracts.ControlMapping, error)
	ActiveControlsFor(ctx context.Context, orgID string, campaignIDs, moduleIDs []string) ([]string, error)
	// PolicyUpdatedAt returns the latest campaign updated_at, or nil.
	PolicyUpdatedAt(ctx context.Context, orgID string, campaignIDs []string) (*time.Time, error)
	UpsertCampaign(ctx context.Context, c *contracts.Campaign) error
}

// AssignmentStore reads learner assignments.
type AssignmentStore interface {
	ListAssignments(ctx context.Context, orgID string, campaignIDs []string) ([]contracts.Assignment, error)
	UpsertAssignment(ctx context.Context, a *contracts.Assignment) error
}

// BenchmarkStore reads org and cohort metric snapshots. Both lookups may
// return ErrRelationNotFound when the analytics schema is absent.
type BenchmarkStore interface {
	LatestOrgMetric(ctx context.Context, orgID string, metric contracts.MetricName) (*contracts.MetricSnapshot, error)
	LatestCohortMetric(ctx context.Context, cohort string, metric contracts.MetricName) (*contracts.MetricSnapshot, error)
	RecordOrgMetric(ctx context.Context, s *contracts.MetricSnapshot) error
	RecordCohortMetric(ctx context.Context, s *contracts.MetricSnapshot) error
}

// NotificationStore is the reminder outbox.
type NotificationStore interface {
	// EnqueueNotifications inserts jobs ignoring duplicate dedupe keys and
	// returns the number of new rows.
	EnqueueNotifications(ctx context.Context, jobs []contracts.NotificationJob) (int, error)
	ListNotifications(ctx context.Context, orgID string) ([]contracts.NotificationJob, error)
}

// AuditStore persists the audit trail.
type AuditStore interface {
	AppendAudit(ctx context.Context, e *contracts.AuditEvent) error
	// LatestAuditHash returns the hash of the newest event, or "" if none.
	LatestAuditHash(ctx context.Context) (string, error)
	ListAudit(ctx context.Context, orgID string, limit int) ([]contracts.AuditEvent, error)
}

// Store is the full repository surface.
type Store interface {
	EvidenceStore
	LineageStore
	SnapshotStore
	RecommendationStore
	ExecutionStore
	ControlStore
	MappingStore
	AssignmentStore
	BenchmarkStore
	NotificationStore
	AuditStore

	// Capabilities probes optional schema features. Call once at startup.
	Capabilities(ctx context.Context) (Capabilities, error)
}
