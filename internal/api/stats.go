package api

import (
	"net/http"

	"github.com/carebridge/dispatch/internal/queue"
	"github.com/carebridge/dispatch/internal/store"
)

type StatsHandler struct {
	store    *store.PostgresStore
	webhookQ *queue.Queue
	pushQ    *queue.Queue
}

func NewStatsHandler(s *store.PostgresStore, webhookQ, pushQ *queue.Queue) *StatsHandler {
	return &StatsHandler{store: s, webhookQ: webhookQ, pushQ: pushQ}
}

type queueStats struct {
	Depth           int64 `json:"depth"`
	DeadLetterDepth int64 `json:"dead_letter_depth"`
}

// Stats aggregates delivery counters and live queue depths in one call
// for the operator dashboard.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	deliveryStats, err := h.store.GetDeliveryStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to aggregate stats")
		return
	}

	queues := make(map[string]queueStats, 2)
	for _, q := range []*queue.Queue{h.webhookQ, h.pushQ} {
		depth, err := q.Depth(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to read queue depth")
			return
		}
		dlqDepth, err := q.DeadLetterDepth(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to read queue depth")
			return
		}
		queues[q.Name()] = queueStats{Depth: depth, DeadLetterDepth: dlqDepth}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"deliveries": deliveryStats,
		"queues":     queues,
	})
}
