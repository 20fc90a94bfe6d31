package contracts

import "time"

// NotificationJob is a queued reminder for one learner assignment.
// DedupeKey is unique, so replays never enqueue twice.
type NotificationJob struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"org_id"`
	DedupeKey    string    `json:"dedupe_key"`
	Channel      string    `json:"channel"`
	RecipientID  string    `json:"recipient_id"`
	AssignmentID string    `json:"assignment_id"`
	CampaignID   string    `json:"campaign_id"`
	ControlID    string    `json:"control_id,omitempty"`
	Status       string    `json:"status"`
	ScheduledAt  time.Time `json:"scheduled_at"`
}
