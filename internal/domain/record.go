package domain

import "time"

// Delivery statuses. PENDING may move to DELIVERED or FAILED; both are
// terminal and never regress.
const (
	StatusPending   = "PENDING"
	StatusDelivered = "DELIVERED"
	StatusFailed    = "FAILED"
)

// EventRecord tracks one (event, subscription) delivery attempt chain. The
// target and secret are snapshotted from the subscription at publish time so
// later edits to the subscription do not alter in-flight delivery history.
type EventRecord struct {
	ID             string     `json:"id"`
	EventType      EventType  `json:"event_type"`
	ReferenceID    string     `json:"reference_id"`
	SubscriptionID string     `json:"subscription_id"`
	Channel        Channel    `json:"channel"`
	Target         string     `json:"target"`
	Secret         string     `json:"-"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	LastError      *string    `json:"last_error,omitempty"`
	PublishedAt    time.Time  `json:"published_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
}

// Terminal reports whether the record has reached a final status.
func (r *EventRecord) Terminal() bool {
	return r.Status == StatusDelivered || r.Status == StatusFailed
}
