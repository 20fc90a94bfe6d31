// Package contracts defines the records shared by the freshness and
// intervention engine: evidence, lineage, snapshots, recommendations
// and executions.
package contracts

import "time"

// EvidenceType identifies the learner or system action an evidence record describes.
type EvidenceType string

const (
	EvidenceMaterialAcknowledgment EvidenceType = "material_acknowledgment"
	EvidenceQuizAttempt            EvidenceType = "quiz_attempt"
	EvidenceQuizPass               EvidenceType = "quiz_pass"
	EvidenceAttestation            EvidenceType = "attestation"
	EvidenceCampaignExport         EvidenceType = "campaign_export"
)

// Valid reports whether t is a known evidence type.
func (t EvidenceType) Valid() bool {
	switch t {
	case EvidenceMaterialAcknowledgment, EvidenceQuizAttempt, EvidenceQuizPass,
		EvidenceAttestation, EvidenceCampaignExport:
		return true
	}
	return false
}

// EvidenceStatus is the sync lifecycle of an evidence record.
type EvidenceStatus string

const (
	EvidenceQueued     EvidenceStatus = "queued"
	EvidenceSynced     EvidenceStatus = "synced"
	EvidenceRejected   EvidenceStatus = "rejected"
	EvidenceStale      EvidenceStatus = "stale"
	EvidenceSuperseded EvidenceStatus = "superseded"
)

// Valid reports whether s is a known evidence status.
func (s EvidenceStatus) Valid() bool {
	switch s {
	case EvidenceQueued, EvidenceSynced, EvidenceRejected, EvidenceStale, EvidenceSuperseded:
		return true
	}
	return false
}

// CanTransitionEvidence reports whether an evidence record may move from one
// status to another. Records are otherwise immutable.
//
//	queued -> synced
//	any    -> rejected | stale | superseded
func CanTransitionEvidence(from, to EvidenceStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	switch to {
	case EvidenceSynced:
		return from == EvidenceQueued
	case EvidenceRejected, EvidenceStale, EvidenceSuperseded:
		return true
	}
	return false
}

// Evidence is an immutable fact describing a compliance-relevant event.
// Empty reference fields mean the reference is absent.
type Evidence struct {
	ID           string         `json:"id"`
	OrgID        string         `json:"org_id"`
	ControlID    string         `json:"control_id,omitempty"`
	CampaignID   string         `json:"campaign_id,omitempty"`
	ModuleID     string         `json:"module_id,omitempty"`
	AssignmentID string         `json:"assignment_id,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	Type         EvidenceType   `json:"evidence_type"`
	SourceTable  string         `json:"source_table"`
	SourceID     string         `json:"source_id"`
	Status       EvidenceStatus `json:"status"`
	Confidence   float64        `json:"confidence_score"`
	Quality      float64        `json:"quality_score"`
	Checksum     string         `json:"checksum"`
	LineageHash  string         `json:"lineage_hash"`
	DedupKey     string         `json:"dedup_key"`
	OccurredAt   time.Time      `json:"occurred_at"`
	CreatedAt    time.Time      `json:"created_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// StatusUpdate selects evidence rows for a bulk status change.
// Empty selector fields match everything within the org.
type StatusUpdate struct {
	OrgID        string
	IDs          []string
	ControlID    string
	Types        []EvidenceType
	FromStatuses []EvidenceStatus
	ExcludeIDs   []string
	To           EvidenceStatus
}
