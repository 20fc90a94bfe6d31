// Package evidence creates and transitions append-only evidence records.
//
// Each record carries a content checksum and a dedup key. Identical creation
// requests collapse onto one row through the store's unique (org, dedup_key)
// constraint; a forced new version supersedes the control's prior records
// and links them with supersedes edges.
package evidence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/adoption/pkg/apperror"
	"github.com/Mindburn-Labs/adoption/pkg/audit"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/metrics"
	"github.com/Mindburn-Labs/adoption/pkg/observability"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

// Repository is the storage surface the service needs.
type Repository interface {
	store.EvidenceStore
	store.LineageStore
	store.MappingStore
}

// CreateRequest describes one evidence-producing event.
type CreateRequest struct {
	Type         contracts.EvidenceType
	SourceTable  string
	SourceID     string
	ControlID    string
	CampaignID   string
	ModuleID     string
	AssignmentID string
	UserID       string
	Metadata     map[string]any
	OccurredAt   time.Time // zero means now
	Confidence   *float64  // nil means 1
	Quality      *float64  // nil means 100
	Status       contracts.EvidenceStatus
	// ForceNewVersion inserts a new row even when an identical one exists
	// and supersedes the control's prior records.
	ForceNewVersion bool
}

// CreateResult reports what a create call did.
type CreateResult struct {
	Created       int      `json:"created"`
	ControlIDs    []string `json:"control_ids"`
	InsertedIDs   []string `json:"inserted_ids"`
	ExistingIDs   []string `json:"existing_ids,omitempty"`
	SupersededIDs []string `json:"superseded_ids,omitempty"`
}

type Service struct {
	repo      Repository
	validator *Validator
	recorder  *audit.Recorder
	metrics   *metrics.Metrics
	telemetry *observability.Provider
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(repo Repository, recorder *audit.Recorder) (*Service, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &Service{
		repo:      repo,
		validator: v,
		recorder:  recorder,
		logger:    slog.Default().With("component", "evidence"),
		now:       time.Now,
	}, nil
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

const opCreate = "evidence.create"

// CreateEvidenceObjects validates req, fans it out to every mapped control
// and inserts one record per control.
func (s *Service) CreateEvidenceObjects(ctx context.Context, actor contracts.Actor, req CreateRequest) (res CreateResult, err error) {
	ctx, done := s.telemetry.TrackOperation(ctx, opCreate,
		attribute.String("org_id", actor.OrgID),
		attribute.String("evidence_type", string(req.Type)))
	defer func() { done(err) }()

	base, err := s.prepare(actor, req)
	if err != nil {
		return CreateResult{}, err
	}

	controls, err := s.resolveControls(ctx, actor.OrgID, req)
	if err != nil {
		return CreateResult{}, err
	}

	res = CreateResult{InsertedIDs: []string{}, ControlIDs: []string{}}
	for _, controlID := range controls {
		if controlID != "" {
			res.ControlIDs = append(res.ControlIDs, controlID)
		}
		if err := s.createForControl(ctx, actor, base, controlID, req.ForceNewVersion, &res); err != nil {
			s.recorder.Record(ctx, actor, audit.ActionEvidenceCreate, contracts.AuditFailure, map[string]any{
				"evidence_type": string(req.Type), "source_id": req.SourceID, "error": err.Error(),
			})
			return CreateResult{}, err
		}
	}
	res.Created = len(res.InsertedIDs)

	s.metrics.EvidenceCreated(req.Type, len(res.InsertedIDs), len(res.ExistingIDs))
	s.recorder.Record(ctx, actor, audit.ActionEvidenceCreate, contracts.AuditSuccess, map[string]any{
		"evidence_type":  string(req.Type),
		"source_table":   req.SourceTable,
		"source_id":      req.SourceID,
		"inserted_ids":   res.InsertedIDs,
		"existing_ids":   res.ExistingIDs,
		"superseded_ids": res.SupersededIDs,
	})
	s.logger.InfoContext(ctx, "evidence recorded",
		"org_id", actor.OrgID, "type", req.Type, "inserted", len(res.InsertedIDs),
		"existing", len(res.ExistingIDs), "superseded", len(res.SupersededIDs))
	return res, nil
}

// prepare validates the request and builds the control-independent record.
func (s *Service) prepare(actor contracts.Actor, req CreateRequest) (contracts.Evidence, error) {
	if actor.OrgID == "" {
		return contracts.Evidence{}, apperror.Validation(opCreate, "org is required")
	}
	if !req.Type.Valid() {
		return contracts.Evidence{}, apperror.Validation(opCreate, "unknown evidence type %q", req.Type)
	}
	if req.SourceTable == "" || req.SourceID == "" {
		return contracts.Evidence{}, apperror.Validation(opCreate, "source table and source id are required")
	}

	confidence := 1.0
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return contracts.Evidence{}, apperror.Validation(opCreate, "confidence %v outside [0,1]", confidence)
	}
	quality := 100.0
	if req.Quality != nil {
		quality = *req.Quality
	}
	if quality < 0 || quality > 100 {
		return contracts.Evidence{}, apperror.Validation(opCreate, "quality %v outside [0,100]", quality)
	}

	status := req.Status
	if status == "" {
		status = contracts.EvidenceQueued
	}
	if !status.Valid() {
		return contracts.Evidence{}, apperror.Validation(opCreate, "unknown status %q", status)
	}

	md, err := Normalize(req.Metadata)
	if err != nil {
		return contracts.Evidence{}, apperror.Validation(opCreate, "%v", err)
	}
	if err := s.validator.Validate(req.Type, md); err != nil {
		return contracts.Evidence{}, apperror.Validation(opCreate, "metadata: %v", err)
	}

	occurred := req.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}

	return contracts.Evidence{
		OrgID:        actor.OrgID,
		CampaignID:   req.CampaignID,
		ModuleID:     req.ModuleID,
		AssignmentID: req.AssignmentID,
		UserID:       req.UserID,
		Type:         req.Type,
		SourceTable:  req.SourceTable,
		SourceID:     req.SourceID,
		Status:       status,
		Confidence:   confidence,
		Quality:      quality,
		OccurredAt:   occurred.UTC(),
		Metadata:     md,
	}, nil
}

// resolveControls returns the target controls. An empty string stands for
// a single record that is not tied to a control.
func (s *Service) resolveControls(ctx context.Context, orgID string, req CreateRequest) ([]string, error) {
	if req.ControlID != "" {
		return []string{req.ControlID}, nil
	}
	var campaigns, modules []string
	if req.CampaignID != "" {
		campaigns = []string{req.CampaignID}
	}
	if req.ModuleID != "" {
		modules = []string{req.ModuleID}
	}
	if len(campaigns) == 0 && len(modules) == 0 {
		return []string{""}, nil
	}
	ids, err := s.repo.ActiveControlsFor(ctx, orgID, campaigns, modules)
	if err != nil {
		return nil, apperror.DB(opCreate, err)
	}
	if len(ids) == 0 {
		return []string{""}, nil
	}
	return ids, nil
}

func (s *Service) createForControl(ctx context.Context, actor contracts.Actor, base contracts.Evidence, controlID string, force bool, res *CreateResult) error {
	e := base
	e.ID = uuid.NewString()
	e.ControlID = controlID
	e.CreatedAt = s.now().UTC()

	checksum, err := Checksum(&e)
	if err != nil {
		return apperror.DB(opCreate, err)
	}
	e.Checksum = checksum
	e.DedupKey = DedupKey(&e)

	var prior []contracts.Evidence
	if force {
		e.DedupKey += "#v" + uuid.NewString()
		if controlID != "" {
			rows, err := s.repo.ListEvidenceForControl(ctx, actor.OrgID, controlID)
			if err != nil {
				return apperror.DB(opCreate, err)
			}
			for _, r := range rows {
				if r.Status != contracts.EvidenceSuperseded {
					prior = append(prior, r)
				}
			}
		}
	}

	priorChecksums := make([]string, 0, len(prior))
	for _, p := range prior {
		priorChecksums = append(priorChecksums, p.Checksum)
	}
	e.LineageHash = LineageHash(priorChecksums, e.Checksum)

	inserted, err := s.repo.InsertEvidence(ctx, &e)
	if err != nil {
		return apperror.DB(opCreate, err)
	}
	if !inserted {
		existing, err := s.repo.GetEvidenceByDedupKey(ctx, actor.OrgID, e.DedupKey)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperror.Conflict(opCreate, "dedup key %s vanished after conflict", e.DedupKey)
			}
			return apperror.DB(opCreate, err)
		}
		res.ExistingIDs = append(res.ExistingIDs, existing.ID)
		return nil
	}
	res.InsertedIDs = append(res.InsertedIDs, e.ID)

	if len(prior) == 0 {
		return nil
	}
	priorIDs := make([]string, 0, len(prior))
	for _, p := range prior {
		priorIDs = append(priorIDs, p.ID)
	}
	changed, err := s.repo.UpdateEvidenceStatus(ctx, contracts.StatusUpdate{
		OrgID:      actor.OrgID,
		IDs:        priorIDs,
		ControlID:  controlID,
		ExcludeIDs: []string{e.ID},
		To:         contracts.EvidenceSuperseded,
	})
	if err != nil {
		return apperror.DB(opCreate, err)
	}
	if len(changed) == 0 {
		return nil
	}
	links := make([]contracts.LineageLink, 0, len(changed))
	for _, id := range changed {
		links = append(links, contracts.LineageLink{
			OrgID:     actor.OrgID,
			SourceID:  e.ID,
			TargetID:  id,
			Relation:  contracts.RelationSupersedes,
			Metadata:  map[string]any{"reason": "force_new_version"},
			CreatedBy: actor.UserID,
			CreatedAt: e.CreatedAt,
		})
	}
	if _, err := s.repo.InsertLineageLinks(ctx, links); err != nil {
		return apperror.DB(opCreate, err)
	}
	res.SupersededIDs = append(res.SupersededIDs, changed...)
	return nil
}

const opTransition = "evidence.transition"

// TransitionStatus moves evidence records to status to. The whole batch is
// rejected with CONFLICT if any record cannot make the transition.
func (s *Service) TransitionStatus(ctx context.Context, actor contracts.Actor, ids []string, to contracts.EvidenceStatus) ([]string, error) {
	if len(ids) == 0 {
		return nil, apperror.Validation(opTransition, "at least one evidence id is required")
	}
	if !to.Valid() {
		return nil, apperror.Validation(opTransition, "unknown status %q", to)
	}
	rows, err := s.repo.GetEvidence(ctx, actor.OrgID, ids)
	if err != nil {
		return nil, apperror.DB(opTransition, err)
	}
	if len(rows) != len(uniq(ids)) {
		return nil, apperror.NotFound(opTransition, "%d of %d evidence records not found", len(uniq(ids))-len(rows), len(uniq(ids)))
	}
	for _, r := range rows {
		if !contracts.CanTransitionEvidence(r.Status, to) {
			return nil, apperror.Conflict(opTransition, "evidence %s cannot move from %s to %s", r.ID, r.Status, to)
		}
	}

	upd := contracts.StatusUpdate{OrgID: actor.OrgID, IDs: ids, To: to}
	if to == contracts.EvidenceSynced {
		// Guards against a concurrent transition between the read and the write.
		upd.FromStatuses = []contracts.EvidenceStatus{contracts.EvidenceQueued}
	}
	changed, err := s.repo.UpdateEvidenceStatus(ctx, upd)
	s.recorder.Record(ctx, actor, audit.ActionEvidenceTransition, audit.Outcome(err), map[string]any{
		"to": string(to), "requested": len(ids), "changed": changed,
	})
	if err != nil {
		return nil, apperror.DB(opTransition, err)
	}
	return changed, nil
}

// ListForControl returns every record of a control, superseded ones included.
func (s *Service) ListForControl(ctx context.Context, orgID, controlID string) ([]contracts.Evidence, error) {
	rows, err := s.repo.ListEvidenceForControl(ctx, orgID, controlID)
	if err != nil {
		return nil, apperror.DB("evidence.list", err)
	}
	return rows, nil
}

func uniq(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
