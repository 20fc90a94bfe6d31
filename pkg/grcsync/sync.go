// Package grcsync pushes queued evidence to an external GRC system and
// records the outcome as evidence status transitions.
package grcsync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/adoption/pkg/apperror"
	"github.com/Mindburn-Labs/adoption/pkg/audit"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/metrics"
	"github.com/Mindburn-Labs/adoption/pkg/ratelimit"
	"github.com/Mindburn-Labs/adoption/pkg/retry"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

// ActionSync is the rate-limit action for sync triggers.
const ActionSync = "integration_sync"

// PushResult is the provider's verdict on one record.
type PushResult struct {
	EvidenceID string
	Accepted   bool
	Reason     string
}

// Provider is a GRC integration. Push must be safe to repeat: the syncer
// retries transient failures with the same batch.
type Provider interface {
	Name() string
	Push(ctx context.Context, orgID string, batch []contracts.Evidence) ([]PushResult, error)
}

// Report summarizes one sync run.
type Report struct {
	Provider string   `json:"provider"`
	Pushed   int      `json:"pushed"`
	Synced   []string `json:"synced"`
	Rejected []string `json:"rejected"`
}

type Syncer struct {
	evidence store.EvidenceStore
	provider Provider
	limiter  ratelimit.Limiter
	runner   *retry.Runner
	recorder *audit.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewSyncer(evidence store.EvidenceStore, provider Provider, limiter ratelimit.Limiter, recorder *audit.Recorder) *Syncer {
	return &Syncer{
		evidence: evidence,
		provider: provider,
		limiter:  limiter,
		runner:   retry.NewRunner(retry.DefaultPolicy),
		recorder: recorder,
		logger:   slog.Default().With("component", "grcsync"),
	}
}

// WithRunner replaces the retry runner, for tests.
func (s *Syncer) WithRunner(r *retry.Runner) *Syncer {
	s.runner = r
	return s
}

func (s *Syncer) WithMetrics(m *metrics.Metrics) *Syncer {
	s.metrics = m
	return s
}

// SyncControl pushes the control's queued evidence and applies the verdicts.
func (s *Syncer) SyncControl(ctx context.Context, actor contracts.Actor, controlID string) (*Report, error) {
	const op = "integration.sync"
	if controlID == "" {
		return nil, apperror.Validation(op, "control_id is required")
	}

	if err := ratelimit.Guard(ctx, s.limiter, actor, ActionSync); err != nil {
		if apperror.Is(err, apperror.KindRateLimited) {
			s.metrics.RateLimited(ActionSync)
		}
		return nil, err
	}

	rows, err := s.evidence.ListEvidenceForControl(ctx, actor.OrgID, controlID)
	if err != nil {
		return nil, apperror.DB(op, err)
	}
	var batch []contracts.Evidence
	for _, r := range rows {
		if r.Status == contracts.EvidenceQueued {
			batch = append(batch, r)
		}
	}

	report := &Report{Provider: s.provider.Name(), Synced: []string{}, Rejected: []string{}}
	if len(batch) == 0 {
		return report, nil
	}

	var results []PushResult
	err = s.runner.Do(ctx, actor.OrgID+":"+controlID, func(ctx context.Context) error {
		var perr error
		results, perr = s.provider.Push(ctx, actor.OrgID, batch)
		if perr != nil {
			s.logger.WarnContext(ctx, "provider push failed", "provider", s.provider.Name(), "error", perr)
		}
		return perr
	})
	if err != nil {
		s.recorder.Record(ctx, actor, audit.ActionIntegrationSync, contracts.AuditFailure, map[string]any{
			"provider": s.provider.Name(), "control_id": controlID, "error": err.Error(),
		})
		return nil, fmt.Errorf("%s: push to %s: %w", op, s.provider.Name(), err)
	}
	report.Pushed = len(batch)

	var accepted, rejected []string
	for _, r := range results {
		if r.Accepted {
			accepted = append(accepted, r.EvidenceID)
		} else {
			rejected = append(rejected, r.EvidenceID)
		}
	}
	if len(accepted) > 0 {
		changed, err := s.evidence.UpdateEvidenceStatus(ctx, contracts.StatusUpdate{
			OrgID: actor.OrgID, IDs: accepted,
			FromStatuses: []contracts.EvidenceStatus{contracts.EvidenceQueued},
			To:           contracts.EvidenceSynced,
		})
		if err != nil {
			return nil, apperror.DB(op, err)
		}
		report.Synced = append(report.Synced, changed...)
	}
	if len(rejected) > 0 {
		changed, err := s.evidence.UpdateEvidenceStatus(ctx, contracts.StatusUpdate{
			OrgID: actor.OrgID, IDs: rejected, To: contracts.EvidenceRejected,
		})
		if err != nil {
			return nil, apperror.DB(op, err)
		}
		report.Rejected = append(report.Rejected, changed...)
	}

	s.recorder.Record(ctx, actor, audit.ActionIntegrationSync, contracts.AuditSuccess, map[string]any{
		"provider":   s.provider.Name(),
		"control_id": controlID,
		"pushed":     report.Pushed,
		"synced":     report.Synced,
		"rejected":   report.Rejected,
	})
	return report, nil
}

// LogProvider accepts every record and only logs it. It stands in for a
// real integration in local runs.
type LogProvider struct {
	logger *slog.Logger
}

func NewLogProvider() *LogProvider {
	return &LogProvider{logger: slog.Default().With("component", "grcsync.log")}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) Push(ctx context.Context, orgID string, batch []contracts.Evidence) ([]PushResult, error) {
	out := make([]PushResult, 0, len(batch))
	for _, e := range batch {
		p.logger.InfoContext(ctx, "evidence pushed", "org_id", orgID, "evidence_id", e.ID, "checksum", e.Checksum)
		out = append(out, PushResult{EvidenceID: e.ID, Accepted: true})
	}
	return out, nil
}
