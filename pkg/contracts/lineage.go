package contracts

import "time"

// RelationType is the kind of edge between two evidence records.
type RelationType string

const (
	RelationDerivedFrom RelationType = "derived_from"
	RelationSupersedes  RelationType = "supersedes"
	RelationExportedIn  RelationType = "exported_in"
)

// Valid reports whether r is a known relation type.
func (r RelationType) Valid() bool {
	switch r {
	case RelationDerivedFrom, RelationSupersedes, RelationExportedIn:
		return true
	}
	return false
}

// LineageLink is a directed edge between two evidence records.
// (OrgID, SourceID, TargetID, Relation) is unique.
type LineageLink struct {
	OrgID     string         `json:"org_id"`
	SourceID  string         `json:"source_evidence_id"`
	TargetID  string         `json:"target_evidence_id"`
	Relation  RelationType   `json:"relation_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedBy string         `json:"created_by,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Key identifies the link for deduplication.
func (l LineageLink) Key() string {
	return l.SourceID + "|" + l.TargetID + "|" + string(l.Relation)
}
