package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/carebridge/dispatch/internal/domain"
	"github.com/carebridge/dispatch/internal/queue"
	"github.com/carebridge/dispatch/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type DeliveryHandler struct {
	store    *store.PostgresStore
	webhookQ *queue.Queue
	pushQ    *queue.Queue
}

func NewDeliveryHandler(s *store.PostgresStore, webhookQ, pushQ *queue.Queue) *DeliveryHandler {
	return &DeliveryHandler{store: s, webhookQ: webhookQ, pushQ: pushQ}
}

// List returns delivery records, newest first. Supports event_type,
// subscription_id and status query filters.
func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	status := r.URL.Query().Get("status")
	if status != "" && status != domain.StatusPending && status != domain.StatusDelivered && status != domain.StatusFailed {
		respondError(w, http.StatusBadRequest, "unknown status filter")
		return
	}

	records, err := h.store.ListEventRecords(r.Context(),
		r.URL.Query().Get("event_type"),
		r.URL.Query().Get("subscription_id"),
		status,
		limit,
	)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"deliveries": records,
		"count":      len(records),
	})
}

func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetEventRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load delivery")
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "delivery not found")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// Requeue puts a pending delivery back on its queue for an immediate retry.
// Terminal records are rejected: DELIVERED and FAILED never regress.
func (h *DeliveryHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetEventRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load delivery")
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "delivery not found")
		return
	}
	if rec.Terminal() {
		respondError(w, http.StatusConflict, "delivery already in terminal status "+rec.Status)
		return
	}

	q := h.webhookQ
	if rec.Channel == domain.ChannelPush {
		q = h.pushQ
	}

	msg := &domain.DeliveryMessage{
		ID:          uuid.NewString(),
		RecordID:    rec.ID,
		EventType:   rec.EventType,
		ReferenceID: rec.ReferenceID,
		Channel:     rec.Channel,
		Target:      rec.Target,
		Secret:      rec.Secret,
		Attempt:     rec.Attempts + 1,
		ScheduledAt: time.Now().UTC(),
	}
	if err := q.Enqueue(r.Context(), msg); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to requeue delivery")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"id":      rec.ID,
		"queue":   q.Name(),
		"attempt": msg.Attempt,
	})
}
