package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/carebridge/dispatch/internal/queue"
)

type DeadLetterHandler struct {
	webhookQ *queue.Queue
	pushQ    *queue.Queue
}

func NewDeadLetterHandler(webhookQ, pushQ *queue.Queue) *DeadLetterHandler {
	return &DeadLetterHandler{webhookQ: webhookQ, pushQ: pushQ}
}

func (h *DeadLetterHandler) queueFor(name string) *queue.Queue {
	switch name {
	case queue.WebhookQueue:
		return h.webhookQ
	case queue.PushQueue:
		return h.pushQ
	default:
		return nil
	}
}

// List shows dead-lettered messages for operator inspection. The queue
// query parameter selects one queue; both are returned when it is absent.
func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := int64(100)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 || n > 1000 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	queues := []*queue.Queue{h.webhookQ, h.pushQ}
	if name := r.URL.Query().Get("queue"); name != "" {
		q := h.queueFor(name)
		if q == nil {
			respondError(w, http.StatusBadRequest, "unknown queue")
			return
		}
		queues = []*queue.Queue{q}
	}

	out := make(map[string]any, len(queues))
	for _, q := range queues {
		msgs, err := q.DeadLetters(r.Context(), limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to read dead letters")
			return
		}
		depth, err := q.DeadLetterDepth(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to read dead letters")
			return
		}
		out[q.Name()] = map[string]any{
			"depth":    depth,
			"messages": msgs,
		}
	}

	respondJSON(w, http.StatusOK, out)
}

type replayRequest struct {
	Queue string `json:"queue"`
}

// Replay moves the oldest dead letter back onto its queue with a fresh
// attempt counter. Requeueing is not delivery: the worker re-checks the
// record, and since dead-lettering happens after a record is closed
// FAILED, the replayed message is normally dropped by the terminal-status
// guard. Statuses never regress, so replay resolves to delivery only for
// messages whose record is somehow still open; its everyday effect is
// draining the list one entry at a time, and the response says "requeued",
// not "delivered".
func (h *DeadLetterHandler) Replay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	q := h.queueFor(req.Queue)
	if q == nil {
		respondError(w, http.StatusBadRequest, "queue must be one of "+queue.WebhookQueue+", "+queue.PushQueue)
		return
	}

	replayed, err := q.ReplayDeadLetter(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "replay failed")
		return
	}
	if !replayed {
		respondError(w, http.StatusNotFound, "dead-letter queue is empty")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"queue":    q.Name(),
		"requeued": true,
		"note":     "delivery occurs only if the record is still open; closed records are dropped on redelivery",
	})
}
