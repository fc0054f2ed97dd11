package api

import (
	"encoding/json"
	"net/http"

	"github.com/carebridge/dispatch/internal/domain"
	"github.com/carebridge/dispatch/internal/publisher"
)

type EventHandler struct {
	publisher *publisher.Publisher
}

func NewEventHandler(p *publisher.Publisher) *EventHandler {
	return &EventHandler{publisher: p}
}

type publishEventRequest struct {
	EventType   domain.EventType  `json:"event_type"`
	ReferenceID string            `json:"reference_id"`
	Payload     map[string]string `json:"payload,omitempty"`
}

type publishEventResponse struct {
	EventType        domain.EventType `json:"event_type"`
	ReferenceID      string           `json:"reference_id"`
	DeliveriesQueued int              `json:"deliveries_queued"`
}

// Publish is the inbound event trigger called by domain services.
func (h *EventHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !req.EventType.Valid() {
		respondError(w, http.StatusBadRequest, "unknown event_type")
		return
	}
	if req.ReferenceID == "" {
		respondError(w, http.StatusBadRequest, "reference_id is required")
		return
	}

	queued, err := h.publisher.Publish(r.Context(), req.EventType, req.ReferenceID, req.Payload)
	if err != nil {
		// Partial fan-out: some records may be queued, surface the failure
		respondError(w, http.StatusInternalServerError, "publish failed for one or more subscriptions")
		return
	}

	respondJSON(w, http.StatusAccepted, publishEventResponse{
		EventType:        req.EventType,
		ReferenceID:      req.ReferenceID,
		DeliveriesQueued: queued,
	})
}
