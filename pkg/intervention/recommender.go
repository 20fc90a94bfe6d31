package intervention

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/adoption/pkg/apperror"
	"github.com/Mindburn-Labs/adoption/pkg/audit"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/freshness"
	"github.com/Mindburn-Labs/adoption/pkg/metrics"
	"github.com/Mindburn-Labs/adoption/pkg/ratelimit"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

// ActionRecommend is the rate-limit action for recommendation generation.
const ActionRecommend = "recommend"

// GenerateResult reports one generation run.
type GenerateResult struct {
	Snapshot contracts.FreshnessSnapshot    `json:"snapshot"`
	Created  []contracts.Recommendation     `json:"created"`
	Skipped  []contracts.RecommendationType `json:"skipped,omitempty"`
}

// Recommender turns a fresh assessment into stored recommendations.
type Recommender struct {
	repo     store.RecommendationStore
	assessor *freshness.Service
	limiter  ratelimit.Limiter
	recorder *audit.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewRecommender(repo store.RecommendationStore, assessor *freshness.Service, limiter ratelimit.Limiter, recorder *audit.Recorder) *Recommender {
	return &Recommender{
		repo:     repo,
		assessor: assessor,
		limiter:  limiter,
		recorder: recorder,
		logger:   slog.Default().With("component", "recommender"),
		now:      time.Now,
	}
}

func (r *Recommender) WithMetrics(m *metrics.Metrics) *Recommender {
	r.metrics = m
	return r
}

// WithClock overrides the time source, for tests.
func (r *Recommender) WithClock(now func() time.Time) *Recommender {
	r.now = now
	return r
}

// Generate assesses a control and stores every proposal that has no active
// recommendation of the same type yet. Repeating it for an unchanged
// control creates nothing.
func (r *Recommender) Generate(ctx context.Context, actor contracts.Actor, controlID string) (*GenerateResult, error) {
	const op = "intervention.recommend"

	if err := ratelimit.Guard(ctx, r.limiter, actor, ActionRecommend); err != nil {
		if apperror.Is(err, apperror.KindRateLimited) {
			r.metrics.RateLimited(ActionRecommend)
		}
		return nil, err
	}

	assessment, err := r.assessor.Assess(ctx, actor, controlID)
	if err != nil {
		return nil, err
	}
	proposals := Propose(ContextFor(assessment.Control), assessment.Snapshot)

	active, err := r.repo.ListActiveRecommendations(ctx, actor.OrgID, controlID)
	if err != nil {
		return nil, apperror.DB(op, err)
	}
	existing := make(map[contracts.RecommendationType]bool, len(active))
	for _, a := range active {
		existing[a.Type] = true
	}

	res := &GenerateResult{Snapshot: assessment.Snapshot, Created: []contracts.Recommendation{}}
	now := r.now().UTC()
	for _, p := range proposals {
		if existing[p.Type] {
			res.Skipped = append(res.Skipped, p.Type)
			continue
		}
		rec := contracts.Recommendation{
			ID:                uuid.NewString(),
			OrgID:             actor.OrgID,
			ControlID:         controlID,
			Type:              p.Type,
			Status:            contracts.RecommendationProposed,
			Rationale:         p.Rationale,
			ExpectedImpactPct: p.ExpectedImpactPct,
			Confidence:        p.Confidence,
			Metadata:          p.Metadata,
			CreatedBy:         actor.UserID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		inserted, err := r.repo.InsertRecommendation(ctx, &rec)
		if err != nil {
			r.recorder.Record(ctx, actor, audit.ActionRecommend, contracts.AuditFailure,
				map[string]any{"control_id": controlID, "error": err.Error()})
			return nil, apperror.DB(op, err)
		}
		if !inserted {
			// A concurrent run stored the same (control, type) first.
			res.Skipped = append(res.Skipped, p.Type)
			continue
		}
		r.metrics.RecommendationCreated(p.Type)
		res.Created = append(res.Created, rec)
	}

	ids := make([]string, 0, len(res.Created))
	for _, c := range res.Created {
		ids = append(ids, c.ID)
	}
	r.recorder.Record(ctx, actor, audit.ActionRecommend, contracts.AuditSuccess, map[string]any{
		"control_id": controlID,
		"state":      string(assessment.Snapshot.State),
		"score":      assessment.Snapshot.Score,
		"created":    ids,
		"skipped":    len(res.Skipped),
	})
	r.logger.InfoContext(ctx, "recommendations generated",
		"org_id", actor.OrgID, "control_id", controlID, "created", len(res.Created), "skipped", len(res.Skipped))
	return res, nil
}
