// Package notify hands learner reminders to the delivery pipeline. Delivery
// itself (email, chat) happens elsewhere; this package only enqueues.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

// DefaultChannel is used when a reminder names none.
const DefaultChannel = "email"

// Reminder is one learner nudge produced by an intervention.
type Reminder struct {
	OrgID        string
	ExecutionID  string
	AssignmentID string
	CampaignID   string
	ControlID    string
	RecipientID  string
	Channel      string
}

// DedupeKey identifies a reminder across replays of the same execution.
func (r Reminder) DedupeKey() string {
	return r.ExecutionID + ":" + r.AssignmentID
}

// Dispatcher enqueues reminders and reports how many were newly queued.
type Dispatcher interface {
	Dispatch(ctx context.Context, reminders []Reminder) (int, error)
}

// Outbox writes reminders to the notification_jobs table, ignoring
// reminders whose dedupe key is already queued.
type Outbox struct {
	store  store.NotificationStore
	logger *slog.Logger
	now    func() time.Time
}

func NewOutbox(s store.NotificationStore) *Outbox {
	return &Outbox{
		store:  s,
		logger: slog.Default().With("component", "notify"),
		now:    time.Now,
	}
}

func (o *Outbox) Dispatch(ctx context.Context, reminders []Reminder) (int, error) {
	if len(reminders) == 0 {
		return 0, nil
	}
	now := o.now().UTC()
	jobs := make([]contracts.NotificationJob, 0, len(reminders))
	for _, r := range reminders {
		channel := r.Channel
		if channel == "" {
			channel = DefaultChannel
		}
		jobs = append(jobs, contracts.NotificationJob{
			ID:           uuid.NewString(),
			OrgID:        r.OrgID,
			DedupeKey:    r.DedupeKey(),
			Channel:      channel,
			RecipientID:  r.RecipientID,
			AssignmentID: r.AssignmentID,
			CampaignID:   r.CampaignID,
			ControlID:    r.ControlID,
			Status:       "pending",
			ScheduledAt:  now,
		})
	}

	n, err := o.store.EnqueueNotifications(ctx, jobs)
	if err != nil {
		return 0, fmt.Errorf("enqueue reminders: %w", err)
	}
	o.logger.InfoContext(ctx, "reminders enqueued", "requested", len(jobs), "queued", n)
	return n, nil
}
