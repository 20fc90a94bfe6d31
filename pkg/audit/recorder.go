package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

// Action names recorded by the services.
const (
	ActionEvidenceCreate     = "evidence.create"
	ActionEvidenceTransition = "evidence.transition"
	ActionEvidenceExport     = "evidence.export"
	ActionLineageCreate      = "lineage.create"
	ActionRecommend          = "intervention.recommend"
	ActionApprove            = "intervention.approve"
	ActionDismiss            = "intervention.dismiss"
	ActionExecute            = "intervention.execute"
	ActionMappingUpdate      = "mapping.update"
	ActionIntegrationSync    = "integration.sync"
)

// Recorder builds events from the request scope and hands them to a Sink.
// Sink failures are logged; they never fail the operation being audited.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(sink Sink) *Recorder {
	return &Recorder{
		sink:   sink,
		logger: slog.Default().With("component", "audit"),
		now:    time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Record writes one event. A nil Recorder is a no-op.
func (r *Recorder) Record(ctx context.Context, actor contracts.Actor, action string, status contracts.AuditStatus, metadata map[string]any) {
	if r == nil || r.sink == nil {
		return
	}
	e := &contracts.AuditEvent{
		ID:        uuid.NewString(),
		RequestID: actor.RequestID,
		OrgID:     actor.OrgID,
		UserID:    actor.UserID,
		Action:    action,
		Status:    status,
		Metadata:  metadata,
		// Postgres keeps microseconds; truncating keeps hashes verifiable after a round trip.
		Timestamp: r.now().UTC().Truncate(time.Microsecond),
	}
	if err := r.sink.Write(ctx, e); err != nil {
		r.logger.ErrorContext(ctx, "audit write failed",
			"action", action, "org_id", actor.OrgID, "request_id", actor.RequestID, "error", err)
	}
}

// Outcome maps an operation error to an audit status.
func Outcome(err error) contracts.AuditStatus {
	if err != nil {
		return contracts.AuditFailure
	}
	return contracts.AuditSuccess
}
