package domain

import "time"

// Channel selects which delivery pipeline a subscription is served by.
type Channel string

const (
	ChannelWebhook Channel = "webhook"
	ChannelPush    Channel = "push"
)

func (c Channel) Valid() bool {
	return c == ChannelWebhook || c == ChannelPush
}

// Subscription registers one external consumer for one event type. Target is
// an endpoint URL for webhook subscriptions or a device/channel token for
// push subscriptions. The secret never leaves delivery computation: it is
// returned exactly once at creation time and omitted from JSON everywhere.
type Subscription struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	EventType EventType `json:"event_type"`
	Channel   Channel   `json:"channel"`
	Target    string    `json:"target"`
	Secret    string    `json:"-"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CreateSubscriptionRequest struct {
	OwnerID   string    `json:"owner_id"`
	EventType EventType `json:"event_type"`
	Channel   Channel   `json:"channel"`
	Target    string    `json:"target"`
}

// CreateSubscriptionResponse is the only place the secret is ever exposed.
type CreateSubscriptionResponse struct {
	ID        string    `json:"id"`
	EventType EventType `json:"event_type"`
	Channel   Channel   `json:"channel"`
	Target    string    `json:"target"`
	Secret    string    `json:"secret"`
}
