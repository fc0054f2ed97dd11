package api

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/carebridge/dispatch/internal/domain"
	"github.com/carebridge/dispatch/internal/store"
	"github.com/go-chi/chi/v5"
)

type SubscriptionHandler struct {
	store *store.PostgresStore
}

func NewSubscriptionHandler(s *store.PostgresStore) *SubscriptionHandler {
	return &SubscriptionHandler{store: s}
}

func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.OwnerID == "" {
		respondError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	if !req.EventType.Valid() {
		respondError(w, http.StatusBadRequest, "unknown event_type")
		return
	}
	if !req.Channel.Valid() {
		respondError(w, http.StatusBadRequest, "channel must be webhook or push")
		return
	}
	if req.Target == "" {
		respondError(w, http.StatusBadRequest, "target is required")
		return
	}
	if req.Channel == domain.ChannelWebhook {
		u, err := url.Parse(req.Target)
		if err != nil || u.Scheme != "https" && u.Scheme != "http" || u.Host == "" {
			respondError(w, http.StatusBadRequest, "target must be a valid http(s) url")
			return
		}
	}

	sub, err := h.store.CreateSubscription(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create subscription")
		return
	}

	respondJSON(w, http.StatusCreated, domain.CreateSubscriptionResponse{
		ID:        sub.ID,
		EventType: sub.EventType,
		Channel:   sub.Channel,
		Target:    sub.Target,
		Secret:    sub.Secret,
	})
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")

	subs, err := h.store.ListSubscriptions(r.Context(), ownerID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}

	respondJSON(w, http.StatusOK, subs)
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

// Deactivate is a soft delete: the subscription stops matching new events
// but its delivery history remains queryable.
func (h *SubscriptionHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.DeactivateSubscription(r.Context(), id); err != nil {
		respondError(w, http.StatusNotFound, "subscription not found or already inactive")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
