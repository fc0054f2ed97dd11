package domain

import (
	"encoding/json"
	"time"
)

// DeliveryMessage is the queue-borne representation of a single delivery
// attempt. It exists only between enqueue and ack; the durable state lives
// on the EventRecord it points at. The payload map is restricted to
// non-sensitive identifiers and status codes — never patient data.
type DeliveryMessage struct {
	ID          string            `json:"id"`
	RecordID    string            `json:"record_id"`
	EventType   EventType         `json:"event_type"`
	ReferenceID string            `json:"reference_id"`
	Channel     Channel           `json:"channel"`
	Target      string            `json:"target"`
	Secret      string            `json:"secret"`
	Payload     map[string]string `json:"payload,omitempty"`
	Attempt     int               `json:"attempt"`
	ScheduledAt time.Time         `json:"scheduled_at"`
}

// WebhookBody is the canonical JSON body POSTed to webhook targets. The
// signature is computed over these exact bytes; consumers must verify over
// the body as received.
func (m *DeliveryMessage) WebhookBody() ([]byte, error) {
	return json.Marshal(struct {
		EventType   EventType         `json:"event_type"`
		ReferenceID string            `json:"reference_id"`
		Payload     map[string]string `json:"payload,omitempty"`
	}{
		EventType:   m.EventType,
		ReferenceID: m.ReferenceID,
		Payload:     m.Payload,
	})
}
