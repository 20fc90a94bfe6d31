package contracts

import "time"

// AuditStatus is the outcome recorded for a mutating operation.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditFailure AuditStatus = "failure"
)

// AuditEvent records one mutating operation. Events are hash chained per sink.
type AuditEvent struct {
	ID        string         `json:"id"`
	RequestID string         `json:"request_id,omitempty"`
	OrgID     string         `json:"org_id"`
	UserID    string         `json:"user_id"`
	Action    string         `json:"action"`
	Status    AuditStatus    `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
}
