package intervention

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/notify"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

// ActionRequest is the input of one action run.
type ActionRequest struct {
	Actor          contracts.Actor
	Recommendation contracts.Recommendation
	Control        contracts.Control
	Execution      contracts.Execution
}

// Action performs the side effect of one recommendation type and returns
// the result merged into the execution record.
type Action interface {
	Run(ctx context.Context, req ActionRequest) (map[string]any, error)
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, req ActionRequest) (map[string]any, error)

func (f ActionFunc) Run(ctx context.Context, req ActionRequest) (map[string]any, error) {
	return f(ctx, req)
}

// CatalogRepository is what the reminder action reads.
type CatalogRepository interface {
	store.MappingStore
	store.AssignmentStore
}

// DefaultActions wires the built-in action for every recommendation type.
func DefaultActions(catalog CatalogRepository, evidence store.EvidenceStore, dispatcher notify.Dispatcher) map[contracts.RecommendationType]Action {
	return map[contracts.RecommendationType]Action{
		contracts.RecommendReminderCadence:     &ReminderCadence{catalog: catalog, dispatcher: dispatcher},
		contracts.RecommendAttestationRefresh:  &AttestationRefresh{evidence: evidence},
		contracts.RecommendManagerEscalation:   ActionFunc(managerEscalation),
		contracts.RecommendRoleRefresherModule: ActionFunc(roleRefresher),
	}
}

// ReminderCadence queues a reminder for every open assignment under the
// control's mapped campaigns. Reminders are keyed by execution, so a replay
// of the same execution never queues twice.
type ReminderCadence struct {
	catalog    CatalogRepository
	dispatcher notify.Dispatcher
}

func (a *ReminderCadence) Run(ctx context.Context, req ActionRequest) (map[string]any, error) {
	org := req.Actor.OrgID
	mappings, err := a.catalog.ListMappingsForControl(ctx, org, req.Control.ID)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}

	// A mapping without a module covers the whole campaign.
	scope := map[string]map[string]bool{}
	var campaigns []string
	for _, m := range mappings {
		if !m.Active {
			continue
		}
		if _, seen := scope[m.CampaignID]; !seen {
			scope[m.CampaignID] = map[string]bool{}
			campaigns = append(campaigns, m.CampaignID)
		}
		if m.ModuleID == "" {
			scope[m.CampaignID][""] = true
		} else {
			scope[m.CampaignID][m.ModuleID] = true
		}
	}
	if len(campaigns) == 0 {
		return map[string]any{"queued": 0, "open_assignments": 0}, nil
	}

	assignments, err := a.catalog.ListAssignments(ctx, org, campaigns)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	var reminders []notify.Reminder
	for _, as := range assignments {
		if as.Status == contracts.AssignmentCompleted {
			continue
		}
		modules := scope[as.CampaignID]
		if !modules[""] && !modules[as.ModuleID] {
			continue
		}
		reminders = append(reminders, notify.Reminder{
			OrgID:        org,
			ExecutionID:  req.Execution.ID,
			AssignmentID: as.ID,
			CampaignID:   as.CampaignID,
			ControlID:    req.Control.ID,
			RecipientID:  as.UserID,
		})
	}

	queued, err := a.dispatcher.Dispatch(ctx, reminders)
	if err != nil {
		return nil, fmt.Errorf("dispatch reminders: %w", err)
	}
	return map[string]any{"queued": queued, "open_assignments": len(reminders)}, nil
}

// AttestationRefresh marks the control's queued and synced attestations stale.
type AttestationRefresh struct {
	evidence store.EvidenceStore
}

func (a *AttestationRefresh) Run(ctx context.Context, req ActionRequest) (map[string]any, error) {
	changed, err := a.evidence.UpdateEvidenceStatus(ctx, contracts.StatusUpdate{
		OrgID:        req.Actor.OrgID,
		ControlID:    req.Control.ID,
		Types:        []contracts.EvidenceType{contracts.EvidenceAttestation},
		FromStatuses: []contracts.EvidenceStatus{contracts.EvidenceQueued, contracts.EvidenceSynced},
		To:           contracts.EvidenceStale,
	})
	if err != nil {
		return nil, fmt.Errorf("mark attestations stale: %w", err)
	}
	if changed == nil {
		changed = []string{}
	}
	return map[string]any{"staleMarked": len(changed), "evidence_ids": changed}, nil
}

// managerEscalation records the intent to escalate; no ticketing system is called.
func managerEscalation(_ context.Context, req ActionRequest) (map[string]any, error) {
	owner := req.Control.Owner
	if owner == "" {
		owner = "unassigned"
	}
	return map[string]any{
		"escalated":      true,
		"owner":          owner,
		"acknowledgment": "escalation recorded for control owner",
	}, nil
}

// roleRefresher is advisory; a human assigns the module.
func roleRefresher(_ context.Context, req ActionRequest) (map[string]any, error) {
	track := req.Control.RoleTrack
	if track == "" {
		track = DefaultRoleTrack
	}
	label := req.Control.Code
	if label == "" {
		label = req.Control.ID
	}
	return map[string]any{
		"roleTrack": track,
		"note":      fmt.Sprintf("assign a %s refresher module for %s", track, label),
	}, nil
}
