package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/carebridge/dispatch/internal/metrics"
	"github.com/carebridge/dispatch/internal/ratelimit"
)

// OTPNotifier delivers a one-time code to a recipient out of band (SMS or
// email). The handler never learns whether the recipient exists.
type OTPNotifier interface {
	SendCode(ctx context.Context, recipient string) error
}

// LogOTPNotifier stands in when no SMS/email provider is configured. It
// logs that a code would have been sent without logging the recipient.
type LogOTPNotifier struct {
	Logger *slog.Logger
}

func (n *LogOTPNotifier) SendCode(ctx context.Context, recipient string) error {
	n.Logger.Info("otp code issued", "recipient_len", len(recipient))
	return nil
}

type OTPHandler struct {
	limiter  *ratelimit.OTPLimiter
	notifier OTPNotifier
}

func NewOTPHandler(l *ratelimit.OTPLimiter, n OTPNotifier) *OTPHandler {
	return &OTPHandler{limiter: l, notifier: n}
}

type otpRequest struct {
	Recipient string `json:"recipient"`
}

// Request issues a one-time code. The response shape is identical whether
// the code was sent, the recipient is unknown, or the window is exhausted:
// a distinguishable answer would let a caller probe which phone numbers
// and emails are registered.
func (h *OTPHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Recipient) == "" {
		respondError(w, http.StatusBadRequest, "recipient is required")
		return
	}

	decision, err := h.limiter.Consume(r.Context(), req.Recipient)
	if err != nil || !decision.Allowed {
		// Denied and store-error paths fall through to the same response.
		metrics.OTPDecisions.WithLabelValues("denied").Inc()
		respondJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
		})
		return
	}

	metrics.OTPDecisions.WithLabelValues("allowed").Inc()
	// Send failures are invisible to the caller for the same reason; the
	// notifier owns its own error reporting.
	_ = h.notifier.SendCode(r.Context(), req.Recipient)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
	})
}
