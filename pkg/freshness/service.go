package freshness

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/adoption/pkg/apperror"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/metrics"
	"github.com/Mindburn-Labs/adoption/pkg/observability"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

// Repository is the storage surface the service needs.
type Repository interface {
	store.EvidenceStore
	store.SnapshotStore
	store.MappingStore
	store.ControlStore
}

// Assessment is a persisted snapshot plus its trend.
type Assessment struct {
	Control  contracts.Control           `json:"control"`
	Snapshot contracts.FreshnessSnapshot `json:"snapshot"`
	Trend    Trend                       `json:"trend"`
}

type Service struct {
	repo      Repository
	metrics   *metrics.Metrics
	telemetry *observability.Provider
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:   repo,
		logger: slog.Default().With("component", "freshness"),
		now:    time.Now,
	}
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) WithTelemetry(p *observability.Provider) *Service {
	s.telemetry = p
	return s
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Evaluate computes a snapshot for a control without persisting it.
func (s *Service) Evaluate(ctx context.Context, orgID, controlID string) (*contracts.Control, contracts.FreshnessSnapshot, error) {
	const op = "freshness.evaluate"

	control, err := s.repo.GetControl(ctx, orgID, controlID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, contracts.FreshnessSnapshot{}, apperror.NotFound(op, "control %s not found", controlID)
		}
		return nil, contracts.FreshnessSnapshot{}, apperror.DB(op, err)
	}

	rows, err := s.repo.ListEvidenceForControl(ctx, orgID, controlID)
	if err != nil {
		return nil, contracts.FreshnessSnapshot{}, apperror.DB(op, err)
	}
	policyAt, err := s.policyTimestamp(ctx, orgID, controlID)
	if err != nil {
		return nil, contracts.FreshnessSnapshot{}, apperror.DB(op, err)
	}

	now := s.now().UTC()
	c := Compute(Input{Evidence: rows, PolicyUpdatedAt: policyAt}, now)
	return control, contracts.FreshnessSnapshot{
		ID:                 uuid.NewString(),
		OrgID:              orgID,
		ControlID:          controlID,
		State:              c.State,
		Score:              c.Score,
		FreshCount:         c.FreshCount,
		StaleCount:         c.StaleCount,
		RejectedCount:      c.RejectedCount,
		SyncedCount:        c.SyncedCount,
		MedianAckHours:     c.MedianAckHours,
		LastPolicyUpdateAt: policyAt,
		LatestEvidenceAt:   c.LatestEvidenceAt,
		ComputedAt:         now,
	}, nil
}

// policyTimestamp is the latest updated_at of the control's mapped campaigns.
func (s *Service) policyTimestamp(ctx context.Context, orgID, controlID string) (*time.Time, error) {
	mappings, err := s.repo.ListMappingsForControl(ctx, orgID, controlID)
	if err != nil {
		return nil, err
	}
	var campaigns []string
	for _, m := range mappings {
		if m.Active && m.CampaignID != "" {
			campaigns = append(campaigns, m.CampaignID)
		}
	}
	if len(campaigns) == 0 {
		return nil, nil
	}
	return s.repo.PolicyUpdatedAt(ctx, orgID, campaigns)
}

// Assess computes, persists and returns the current snapshot with its trend.
func (s *Service) Assess(ctx context.Context, actor contracts.Actor, controlID string) (a *Assessment, err error) {
	const op = "freshness.assess"
	ctx, done := s.telemetry.TrackOperation(ctx, op,
		attribute.String("org_id", actor.OrgID), attribute.String("control_id", controlID))
	defer func() { done(err) }()

	control, snap, err := s.Evaluate(ctx, actor.OrgID, controlID)
	if err != nil {
		return nil, err
	}

	history, err := s.repo.ListSnapshots(ctx, actor.OrgID, controlID, TrendPoints-1)
	if err != nil {
		return nil, apperror.DB(op, err)
	}
	if err := s.repo.InsertSnapshot(ctx, &snap); err != nil {
		return nil, apperror.DB(op, err)
	}

	s.metrics.ObserveFreshness(snap)
	s.logger.DebugContext(ctx, "control assessed",
		"org_id", actor.OrgID, "control_id", controlID, "state", snap.State, "score", snap.Score)

	return &Assessment{Control: *control, Snapshot: snap, Trend: BuildTrend(history, snap)}, nil
}

// AssessAll assesses every control of the actor's org.
func (s *Service) AssessAll(ctx context.Context, actor contracts.Actor) ([]Assessment, error) {
	controls, err := s.repo.ListControls(ctx, actor.OrgID)
	if err != nil {
		return nil, apperror.DB("freshness.assess_all", err)
	}
	out := make([]Assessment, 0, len(controls))
	for _, c := range controls {
		a, err := s.Assess(ctx, actor, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}
