package evidence

import (
	"time"

	"github.com/Mindburn-Labs/adoption/pkg/canonicalize"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

const checksumPrefix = "sha256:"

// checksumBody is the canonical content an evidence checksum covers.
type checksumBody struct {
	OrgID       string         `json:"org_id"`
	Type        string         `json:"evidence_type"`
	SourceTable string         `json:"source_table"`
	SourceID    string         `json:"source_id"`
	ControlID   string         `json:"control_id"`
	OccurredAt  string         `json:"occurred_at"`
	Metadata    map[string]any `json:"metadata"`
}

// Checksum returns the content address of an evidence record: SHA-256 over
// the RFC 8785 form of its identifying fields, occurrence time and metadata.
func Checksum(e *contracts.Evidence) (string, error) {
	md := e.Metadata
	if md == nil {
		md = map[string]any{}
	}
	h, err := canonicalize.CanonicalHash(checksumBody{
		OrgID:       e.OrgID,
		Type:        string(e.Type),
		SourceTable: e.SourceTable,
		SourceID:    e.SourceID,
		ControlID:   e.ControlID,
		OccurredAt:  e.OccurredAt.UTC().Format(time.RFC3339Nano),
		Metadata:    md,
	})
	if err != nil {
		return "", err
	}
	return checksumPrefix + h, nil
}

// DedupKey identifies the logical record independent of time and metadata.
func DedupKey(e *contracts.Evidence) string {
	return checksumPrefix + canonicalize.HashStrings(
		e.OrgID, string(e.Type), e.SourceTable, e.SourceID, e.ControlID)
}

// LineageHash chains the checksums a record supersedes, in order, with its own.
func LineageHash(prior []string, own string) string {
	parts := append(append(make([]string, 0, len(prior)+1), prior...), own)
	return checksumPrefix + canonicalize.HashStrings(parts...)
}
