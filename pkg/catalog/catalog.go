// Package catalog maintains controls, campaigns and the mappings between
// them, and loads seed catalogs from YAML.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/adoption/pkg/apperror"
	"github.com/Mindburn-Labs/adoption/pkg/audit"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

type Repository interface {
	store.ControlStore
	store.MappingStore
	store.AssignmentStore
	store.BenchmarkStore
}

type Service struct {
	repo     Repository
	recorder *audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo Repository, recorder *audit.Recorder) *Service {
	return &Service{
		repo:     repo,
		recorder: recorder,
		logger:   slog.Default().With("component", "catalog"),
		now:      time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// UpsertControl validates and stores c.
func (s *Service) UpsertControl(ctx context.Context, c *contracts.Control) error {
	const op = "catalog.control"
	if c.ID == "" || c.OrgID == "" || c.Code == "" {
		return apperror.Validation(op, "id, org_id and code are required")
	}
	switch c.RiskLevel {
	case "":
		c.RiskLevel = contracts.RiskMedium
	case contracts.RiskLow, contracts.RiskMedium, contracts.RiskHigh:
	default:
		return apperror.Validation(op, "unknown risk level %q", c.RiskLevel)
	}
	if err := s.repo.UpsertControl(ctx, c); err != nil {
		return apperror.DB(op, err)
	}
	return nil
}

// MapControl creates an active mapping from controlID to a campaign and,
// when moduleID is set, one of its modules.
func (s *Service) MapControl(ctx context.Context, actor contracts.Actor, controlID, campaignID, moduleID string) (m *contracts.ControlMapping, err error) {
	const op = "mapping.update"
	defer func() {
		meta := map[string]any{"control_id": controlID, "campaign_id": campaignID}
		if moduleID != "" {
			meta["module_id"] = moduleID
		}
		if err != nil {
			meta["error"] = err.Error()
		}
		s.recorder.Record(ctx, actor, audit.ActionMappingUpdate, audit.Outcome(err), meta)
	}()

	if strings.TrimSpace(controlID) == "" || strings.TrimSpace(campaignID) == "" {
		return nil, apperror.Validation(op, "control_id and campaign_id are required")
	}
	if _, err := s.repo.GetControl(ctx, actor.OrgID, controlID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperror.NotFound(op, "control %s", controlID)
		}
		return nil, apperror.DB(op, err)
	}

	m = &contracts.ControlMapping{
		ID:         uuid.NewString(),
		OrgID:      actor.OrgID,
		ControlID:  controlID,
		CampaignID: campaignID,
		ModuleID:   moduleID,
		Active:     true,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.CreateMapping(ctx, m); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperror.Conflict(op, "control %s is already mapped to campaign %s", controlID, campaignID)
		}
		return nil, apperror.DB(op, err)
	}
	s.logger.InfoContext(ctx, "control mapped", "org_id", actor.OrgID, "control_id", controlID, "campaign_id", campaignID)
	return m, nil
}

// Seed is the YAML shape of a catalog file.
type Seed struct {
	Controls []struct {
		ID          string                    `yaml:"id"`
		Code        string                    `yaml:"code"`
		Title       string                    `yaml:"title"`
		Risk        string                    `yaml:"risk"`
		RoleTrack   string                    `yaml:"role_track"`
		Owner       string                    `yaml:"owner"`
		Obligations []contracts.ObligationRef `yaml:"obligations"`
	} `yaml:"controls"`
	Campaigns []struct {
		ID        string    `yaml:"id"`
		Title     string    `yaml:"title"`
		UpdatedAt time.Time `yaml:"updated_at"`
	} `yaml:"campaigns"`
	Mappings []struct {
		Control  string `yaml:"control"`
		Campaign string `yaml:"campaign"`
		Module   string `yaml:"module"`
	} `yaml:"mappings"`
	Assignments []struct {
		ID        string     `yaml:"id"`
		Campaign  string     `yaml:"campaign"`
		Module    string     `yaml:"module"`
		User      string     `yaml:"user"`
		Status    string     `yaml:"status"`
		StartedAt *time.Time `yaml:"started_at"`
	} `yaml:"assignments"`
	Benchmarks []SeedBenchmark `yaml:"benchmarks"`
}

// SeedBenchmark is an anonymized cohort value for the comparison tables.
type SeedBenchmark struct {
	Cohort         string    `yaml:"cohort"`
	Metric         string    `yaml:"metric"`
	Value          float64   `yaml:"value"`
	PercentileRank *float64  `yaml:"percentile_rank"`
	CapturedAt     time.Time `yaml:"captured_at"`
}

// SeedReport counts what a seed run wrote.
type SeedReport struct {
	Controls    int `json:"controls"`
	Campaigns   int `json:"campaigns"`
	Mappings    int `json:"mappings"`
	Skipped     int `json:"skipped_mappings"`
	Assignments int `json:"assignments"`
	Benchmarks  int `json:"benchmarks"`
}

// LoadSeed parses a catalog file.
func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return &seed, nil
}

// Apply writes seed into the actor's org. Re-applying is safe: existing
// mappings are counted as skipped.
func (s *Service) Apply(ctx context.Context, actor contracts.Actor, seed *Seed) (*SeedReport, error) {
	const op = "catalog.seed"
	report := &SeedReport{}
	now := s.now().UTC()

	for _, c := range seed.Controls {
		ctl := &contracts.Control{
			ID: c.ID, OrgID: actor.OrgID, Code: c.Code, Title: c.Title,
			RiskLevel: contracts.RiskLevel(c.Risk), RoleTrack: c.RoleTrack, Owner: c.Owner,
			Obligations: c.Obligations,
		}
		if ctl.ID == "" {
			ctl.ID = c.Code
		}
		if err := s.UpsertControl(ctx, ctl); err != nil {
			return report, err
		}
		report.Controls++
	}
	for _, c := range seed.Campaigns {
		updated := c.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		if err := s.repo.UpsertCampaign(ctx, &contracts.Campaign{ID: c.ID, OrgID: actor.OrgID, Title: c.Title, UpdatedAt: updated.UTC()}); err != nil {
			return report, apperror.DB(op, err)
		}
		report.Campaigns++
	}
	for _, m := range seed.Mappings {
		if _, err := s.MapControl(ctx, actor, m.Control, m.Campaign, m.Module); err != nil {
			if apperror.Is(err, apperror.KindConflict) {
				report.Skipped++
				continue
			}
			return report, err
		}
		report.Mappings++
	}
	for _, a := range seed.Assignments {
		status := contracts.AssignmentStatus(a.Status)
		if status == "" {
			status = contracts.AssignmentAssigned
		}
		if err := s.repo.UpsertAssignment(ctx, &contracts.Assignment{
			ID: a.ID, OrgID: actor.OrgID, CampaignID: a.Campaign, ModuleID: a.Module,
			UserID: a.User, Status: status, StartedAt: a.StartedAt,
		}); err != nil {
			return report, apperror.DB(op, err)
		}
		report.Assignments++
	}
	for i, b := range seed.Benchmarks {
		metric := contracts.MetricName(b.Metric)
		if b.Cohort == "" || !metric.Valid() {
			return report, apperror.Validation(op, "benchmark %d: cohort and a known metric are required", i)
		}
		captured := b.CapturedAt
		if captured.IsZero() {
			captured = now
		}
		err := s.repo.RecordCohortMetric(ctx, &contracts.MetricSnapshot{
			Subject: b.Cohort, Metric: metric, Value: b.Value, PercentileRank: b.PercentileRank, CapturedAt: captured.UTC(),
		})
		if errors.Is(err, store.ErrRelationNotFound) {
			s.logger.WarnContext(ctx, "benchmark tables absent, skipping cohort rows", "org_id", actor.OrgID)
			break
		}
		if err != nil {
			return report, apperror.DB(op, err)
		}
		report.Benchmarks++
	}
	s.logger.InfoContext(ctx, "catalog seeded", "org_id", actor.OrgID,
		"controls", report.Controls, "mappings", report.Mappings, "assignments", report.Assignments,
		"benchmarks", report.Benchmarks)
	return report, nil
}
