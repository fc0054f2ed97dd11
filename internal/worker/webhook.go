package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/carebridge/dispatch/internal/domain"
	"github.com/carebridge/dispatch/internal/signer"
)

// WebhookSender POSTs signed payloads to subscription endpoints.
type WebhookSender struct {
	httpClient *http.Client
	breaker    *EndpointBreaker
}

func NewWebhookSender(timeout time.Duration) *WebhookSender {
	return &WebhookSender{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithBreaker attaches per-host circuit breaking. Without it every
// delivery goes straight to the endpoint.
func (s *WebhookSender) WithBreaker(b *EndpointBreaker) *WebhookSender {
	s.breaker = b
	return s
}

// Send builds the canonical body, signs it, and classifies the response:
// 2xx succeeds, 408/429/5xx and transport errors are transient, any other
// 4xx is permanent. A malformed target URL is permanent — no retry fixes it.
func (s *WebhookSender) Send(ctx context.Context, msg *domain.DeliveryMessage) error {
	target, err := url.Parse(msg.Target)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return fmt.Errorf("%w: malformed target url", ErrPermanent)
	}

	if s.breaker != nil && !s.breaker.Allow(ctx, target.Host) {
		// Falls into the transient path: backoff keeps the message alive
		// until the endpoint recovers.
		return fmt.Errorf("endpoint circuit open for %s", target.Host)
	}

	body, err := msg.WebhookBody()
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %v", ErrPermanent, err)
	}

	signature := signer.Sign(msg.Secret, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.Target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building request: %v", ErrPermanent, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Webhook-Event", msg.EventType.String())
	req.Header.Set("X-Webhook-ID", msg.RecordID)
	req.Header.Set("X-Webhook-Attempt", fmt.Sprintf("%d", msg.Attempt))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.noteOutcome(ctx, target.Host, false)
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain a bounded slice of the body so the connection can be reused
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.noteOutcome(ctx, target.Host, true)
		return nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		s.noteOutcome(ctx, target.Host, false)
		return fmt.Errorf("endpoint throttling: status %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		s.noteOutcome(ctx, target.Host, false)
		return fmt.Errorf("endpoint error: status %d", resp.StatusCode)
	default:
		// A definitive 4xx means the endpoint is up. It neither trips nor
		// resets the circuit.
		return fmt.Errorf("%w: endpoint rejected delivery: status %d", ErrPermanent, resp.StatusCode)
	}
}

func (s *WebhookSender) noteOutcome(ctx context.Context, host string, ok bool) {
	if s.breaker == nil {
		return
	}
	if ok {
		s.breaker.RecordSuccess(ctx, host)
	} else {
		s.breaker.RecordFailure(ctx, host)
	}
}
