package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

// MemoryStore implements Store in memory. Thread-safe via RWMutex; values
// are copied in and out so callers never share rows with the store.
type MemoryStore struct {
	mu sync.RWMutex

	evidence        map[string]*contracts.Evidence
	evidenceByDedup map[string]string // (org, dedup key) -> id
	links           map[string]contracts.LineageLink
	snapshots       []contracts.FreshnessSnapshot
	recommendations map[string]*contracts.Recommendation
	executions      map[string]*contracts.Execution
	executionByKey  map[string]string // org|intervention|key -> id
	controls        map[string]*contracts.Control
	mappings        map[string]*contracts.ControlMapping
	campaigns       map[string]*contracts.Campaign
	assignments     map[string]*contracts.Assignment
	orgMetrics      []contracts.MetricSnapshot
	cohortMetrics   []contracts.MetricSnapshot
	notifications   []contracts.NotificationJob
	notifyKeys      map[string]bool
	audit           []contracts.AuditEvent

	benchmarks bool
}

// NewMemoryStore creates an empty store with every capability available.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		evidence:        make(map[string]*contracts.Evidence),
		evidenceByDedup: make(map[string]string),
		links:           make(map[string]contracts.LineageLink),
		recommendations: make(map[string]*contracts.Recommendation),
		executions:      make(map[string]*contracts.Execution),
		executionByKey:  make(map[string]string),
		controls:        make(map[string]*contracts.Control),
		mappings:        make(map[string]*contracts.ControlMapping),
		campaigns:       make(map[string]*contracts.Campaign),
		assignments:     make(map[string]*contracts.Assignment),
		notifyKeys:      make(map[string]bool),
		benchmarks:      true,
	}
}

// WithoutBenchmarks simulates a deployment where the benchmark tables were
// never provisioned.
func (s *MemoryStore) WithoutBenchmarks() *MemoryStore {
	s.mu.Lock()
	s.benchmarks = false
	s.mu.Unlock()
	return s
}

func (s *MemoryStore) Capabilities(ctx context.Context) (Capabilities, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Capabilities{Benchmarks: s.benchmarks}, nil
}

// key joins parts with length prefixes so no two part lists collide.
func key(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
		b.WriteByte(';')
	}
	return b.String()
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneEvidence(e *contracts.Evidence) contracts.Evidence {
	v := *e
	v.Metadata = cloneMap(e.Metadata)
	return v
}

// --- Evidence ---

func (s *MemoryStore) InsertEvidence(ctx context.Context, e *contracts.Evidence) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(e.OrgID, e.DedupKey)
	if _, exists := s.evidenceByDedup[k]; exists {
		return false, nil
	}
	v := cloneEvidence(e)
	s.evidence[e.ID] = &v
	s.evidenceByDedup[k] = e.ID
	return true, nil
}

func (s *MemoryStore) GetEvidenceByDedupKey(ctx context.Context, orgID, dedupKey string) (*contracts.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.evidenceByDedup[key(orgID, dedupKey)]
	if !ok {
		return nil, ErrNotFound
	}
	v := cloneEvidence(s.evidence[id])
	return &v, nil
}

func (s *MemoryStore) GetEvidence(ctx context.Context, orgID string, ids []string) ([]contracts.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.Evidence
	for _, id := range ids {
		if e, ok := s.evidence[id]; ok && e.OrgID == orgID {
			out = append(out, cloneEvidence(e))
		}
	}
	sortEvidence(out)
	return out, nil
}

func (s *MemoryStore) ListEvidenceForControl(ctx context.Context, orgID, controlID string) ([]contracts.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.Evidence
	for _, e := range s.evidence {
		if e.OrgID == orgID && e.ControlID == controlID {
			out = append(out, cloneEvidence(e))
		}
	}
	sortEvidence(out)
	return out, nil
}

func sortEvidence(rows []contracts.Evidence) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].OccurredAt.Equal(rows[j].OccurredAt) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].OccurredAt.Before(rows[j].OccurredAt)
	})
}

func (s *MemoryStore) UpdateEvidenceStatus(ctx context.Context, upd contracts.StatusUpdate) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []string
	for id, e := range s.evidence {
		if e.OrgID != upd.OrgID {
			continue
		}
		if len(upd.IDs) > 0 && !contains(upd.IDs, id) {
			continue
		}
		if upd.ControlID != "" && e.ControlID != upd.ControlID {
			continue
		}
		if len(upd.Types) > 0 && !contains(upd.Types, e.Type) {
			continue
		}
		if len(upd.FromStatuses) > 0 && !contains(upd.FromStatuses, e.Status) {
			continue
		}
		if contains(upd.ExcludeIDs, id) || e.Status == upd.To {
			continue
		}
		e.Status = upd.To
		changed = append(changed, id)
	}
	sort.Strings(changed)
	return changed, nil
}

// --- Lineage ---

func (s *MemoryStore) InsertLineageLinks(ctx context.Context, links []contracts.LineageLink) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, l := range links {
		k := key(l.OrgID, l.Key())
		if _, exists := s.links[k]; exists {
			continue
		}
		l.Metadata = cloneMap(l.Metadata)
		s.links[k] = l
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) ListLineageBySource(ctx context.Context, orgID string, ids []string) ([]contracts.LineageLink, error) {
	return s.listLinks(orgID, func(l contracts.LineageLink) bool { return contains(ids, l.SourceID) }), nil
}

func (s *MemoryStore) ListLineageByTarget(ctx context.Context, orgID string, ids []string) ([]contracts.LineageLink, error) {
	return s.listLinks(orgID, func(l contracts.LineageLink) bool { return contains(ids, l.TargetID) }), nil
}

func (s *MemoryStore) listLinks(orgID string, match func(contracts.LineageLink) bool) []contracts.LineageLink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.LineageLink
	for _, l := range s.links {
		if l.OrgID == orgID && match(l) {
			l.Metadata = cloneMap(l.Metadata)
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// --- Snapshots ---

func (s *MemoryStore) InsertSnapshot(ctx context.Context, snap *contracts.FreshnessSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, *snap)
	return nil
}

func (s *MemoryStore) ListSnapshots(ctx context.Context, orgID, controlID string, limit int) ([]contracts.FreshnessSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.FreshnessSnapshot
	for i := len(s.snapshots) - 1; i >= 0; i-- {
		snap := s.snapshots[i]
		if snap.OrgID != orgID || snap.ControlID != controlID {
			continue
		}
		out = append(out, snap)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- Recommendations ---

func (s *MemoryStore) InsertRecommendation(ctx context.Context, r *contracts.Recommendation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.recommendations {
		if existing.OrgID == r.OrgID && existing.ControlID == r.ControlID &&
			existing.Type == r.Type && existing.Status.IsActive() && r.Status.IsActive() {
			return false, nil
		}
	}
	v := *r
	v.Metadata = cloneMap(r.Metadata)
	s.recommendations[r.ID] = &v
	return true, nil
}

func (s *MemoryStore) GetRecommendation(ctx context.Context, orgID, id string) (*contracts.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recommendations[id]
	if !ok || r.OrgID != orgID {
		return nil, ErrNotFound
	}
	v := cloneRecommendation(r)
	return &v, nil
}

func cloneRecommendation(r *contracts.Recommendation) contracts.Recommendation {
	v := *r
	v.Metadata = cloneMap(r.Metadata)
	v.ApprovedAt = cloneTime(r.ApprovedAt)
	return v
}

func (s *MemoryStore) ListActiveRecommendations(ctx context.Context, orgID, controlID string) ([]contracts.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.Recommendation
	for _, r := range s.recommendations {
		if r.OrgID == orgID && r.ControlID == controlID && r.Status.IsActive() {
			out = append(out, cloneRecommendation(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) TransitionRecommendation(ctx context.Context, t contracts.RecommendationTransition) (*contracts.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recommendations[t.ID]
	if !ok || r.OrgID != t.OrgID {
		return nil, ErrNotFound
	}
	if !contains(t.From, r.Status) {
		return nil, ErrStaleTransition
	}
	applyTransition(r, t)
	v := cloneRecommendation(r)
	return &v, nil
}

func applyTransition(r *contracts.Recommendation, t contracts.RecommendationTransition) {
	r.Status = t.To
	r.UpdatedAt = t.At
	if t.ApprovedBy != "" {
		r.ApprovedBy = t.ApprovedBy
		r.ApprovedAt = cloneTime(t.ApprovedAt)
		r.ApprovalNote = t.ApprovalNote
	}
}

// --- Executions ---

func (s *MemoryStore) InsertExecution(ctx context.Context, e *contracts.Execution) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(e.OrgID, e.InterventionID, e.IdempotencyKey)
	if _, exists := s.executionByKey[k]; exists {
		return false, nil
	}
	v := *e
	v.Result = cloneMap(e.Result)
	s.executions[e.ID] = &v
	s.executionByKey[k] = e.ID
	return true, nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, orgID, interventionID, idemKey string) (*contracts.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.executionByKey[key(orgID, interventionID, idemKey)]
	if !ok {
		return nil, ErrNotFound
	}
	v := cloneExecution(s.executions[id])
	return &v, nil
}

func cloneExecution(e *contracts.Execution) contracts.Execution {
	v := *e
	v.Result = cloneMap(e.Result)
	v.FinishedAt = cloneTime(e.FinishedAt)
	return v
}

func (s *MemoryStore) ListExecutions(ctx context.Context, orgID, interventionID string) ([]contracts.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.Execution
	for _, e := range s.executions {
		if e.OrgID == orgID && e.InterventionID == interventionID {
			out = append(out, cloneExecution(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) FinishExecution(ctx context.Context, o contracts.ExecutionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[o.ExecutionID]
	if !ok || e.OrgID != o.OrgID {
		return ErrNotFound
	}
	r, ok := s.recommendations[o.InterventionID]
	if !ok || r.OrgID != o.OrgID {
		return ErrNotFound
	}

	finished := o.FinishedAt
	e.Status = o.Status
	e.Result = cloneMap(o.Result)
	e.Error = o.Error
	e.FinishedAt = &finished

	r.UpdatedAt = o.FinishedAt
	if o.Status == contracts.ExecutionCompleted {
		r.Status = contracts.RecommendationCompleted
	} else {
		r.Status = contracts.RecommendationApproved
	}
	return nil
}

// --- Controls, mappings, campaigns, assignments ---

func (s *MemoryStore) GetControl(ctx context.Context, orgID, id string) (*contracts.Control, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.controls[id]
	if !ok || c.OrgID != orgID {
		return nil, ErrNotFound
	}
	v := *c
	v.Obligations = append([]contracts.ObligationRef(nil), c.Obligations...)
	return &v, nil
}

func (s *MemoryStore) ListControls(ctx context.Context, orgID string) ([]contracts.Control, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.Control
	for _, c := range s.controls {
		if c.OrgID == orgID {
			v := *c
			v.Obligations = append([]contracts.ObligationRef(nil), c.Obligations...)
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemoryStore) UpsertControl(ctx context.Context, c *contracts.Control) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := *c
	v.Obligations = append([]contracts.ObligationRef(nil), c.Obligations...)
	s.controls[c.ID] = &v
	return nil
}

func (s *MemoryStore) CreateMapping(ctx context.Context, m *contracts.ControlMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Active {
		for _, existing := range s.mappings {
			if existing.Active && existing.OrgID == m.OrgID && existing.ControlID == m.ControlID &&
				existing.CampaignID == m.CampaignID && existing.ModuleID == m.ModuleID {
				return ErrConflict
			}
		}
	}
	v := *m
	s.mappings[m.ID] = &v
	return nil
}

func (s *MemoryStore) ListMappingsForControl(ctx context.Context, orgID, controlID string) ([]contracts.ControlMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.ControlMapping
	for _, m := range s.mappings {
		if m.Active && m.OrgID == orgID && m.ControlID == controlID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ActiveControlsFor(ctx context.Context, orgID string, campaignIDs, moduleIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, m := range s.mappings {
		if !m.Active || m.OrgID != orgID {
			continue
		}
		if !contains(campaignIDs, m.CampaignID) && (m.ModuleID == "" || !contains(moduleIDs, m.ModuleID)) {
			continue
		}
		if !seen[m.ControlID] {
			seen[m.ControlID] = true
			out = append(out, m.ControlID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) PolicyUpdatedAt(ctx context.Context, orgID string, campaignIDs []string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *time.Time
	for _, id := range campaignIDs {
		c, ok := s.campaigns[id]
		if !ok || c.OrgID != orgID {
			continue
		}
		if latest == nil || c.UpdatedAt.After(*latest) {
			t := c.UpdatedAt
			latest = &t
		}
	}
	return latest, nil
}

func (s *MemoryStore) UpsertCampaign(ctx context.Context, c *contracts.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := *c
	s.campaigns[c.ID] = &v
	return nil
}

func (s *MemoryStore) ListAssignments(ctx context.Context, orgID string, campaignIDs []string) ([]contracts.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.Assignment
	for _, a := range s.assignments {
		if a.OrgID == orgID && contains(campaignIDs, a.CampaignID) {
			v := *a
			v.StartedAt = cloneTime(a.StartedAt)
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpsertAssignment(ctx context.Context, a *contracts.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := *a
	v.StartedAt = cloneTime(a.StartedAt)
	s.assignments[a.ID] = &v
	return nil
}

// --- Benchmarks ---

func (s *MemoryStore) LatestOrgMetric(ctx context.Context, orgID string, metric contracts.MetricName) (*contracts.MetricSnapshot, error) {
	return s.latestMetric(func() []contracts.MetricSnapshot { return s.orgMetrics }, orgID, metric)
}

func (s *MemoryStore) LatestCohortMetric(ctx context.Context, cohort string, metric contracts.MetricName) (*contracts.MetricSnapshot, error) {
	return s.latestMetric(func() []contracts.MetricSnapshot { return s.cohortMetrics }, cohort, metric)
}

func (s *MemoryStore) latestMetric(rows func() []contracts.MetricSnapshot, subject string, metric contracts.MetricName) (*contracts.MetricSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.benchmarks {
		return nil, ErrRelationNotFound
	}
	var latest *contracts.MetricSnapshot
	for _, m := range rows() {
		if m.Subject != subject || m.Metric != metric {
			continue
		}
		if latest == nil || !m.CapturedAt.Before(latest.CapturedAt) {
			v := m
			latest = &v
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (s *MemoryStore) RecordOrgMetric(ctx context.Context, m *contracts.MetricSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.benchmarks {
		return ErrRelationNotFound
	}
	s.orgMetrics = append(s.orgMetrics, *m)
	return nil
}

func (s *MemoryStore) RecordCohortMetric(ctx context.Context, m *contracts.MetricSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.benchmarks {
		return ErrRelationNotFound
	}
	s.cohortMetrics = append(s.cohortMetrics, *m)
	return nil
}

// --- Notifications ---

func (s *MemoryStore) EnqueueNotifications(ctx context.Context, jobs []contracts.NotificationJob) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, j := range jobs {
		if s.notifyKeys[j.DedupeKey] {
			continue
		}
		s.notifyKeys[j.DedupeKey] = true
		s.notifications = append(s.notifications, j)
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) ListNotifications(ctx context.Context, orgID string) ([]contracts.NotificationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.NotificationJob
	for _, j := range s.notifications {
		if j.OrgID == orgID {
			out = append(out, j)
		}
	}
	return out, nil
}

// --- Audit ---

func (s *MemoryStore) AppendAudit(ctx context.Context, e *contracts.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := *e
	v.Metadata = cloneMap(e.Metadata)
	s.audit = append(s.audit, v)
	return nil
}

func (s *MemoryStore) LatestAuditHash(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.audit) == 0 {
		return "", nil
	}
	return s.audit[len(s.audit)-1].Hash, nil
}

func (s *MemoryStore) ListAudit(ctx context.Context, orgID string, limit int) ([]contracts.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.AuditEvent
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].OrgID != orgID {
			continue
		}
		out = append(out, s.audit[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
