package contracts

// Actor is the request scope an operation runs under.
type Actor struct {
	OrgID     string `json:"org_id"`
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id,omitempty"`
}

// Key returns the rate-limit key for an action performed by this actor.
func (a Actor) Key(action string) string {
	return a.OrgID + ":" + a.UserID + ":" + action
}
