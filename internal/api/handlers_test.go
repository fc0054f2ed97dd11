package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/carebridge/dispatch/internal/domain"
	"github.com/carebridge/dispatch/internal/queue"
	"github.com/carebridge/dispatch/internal/ratelimit"
	"github.com/redis/go-redis/v9"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingNotifier struct {
	sent int
}

func (n *countingNotifier) SendCode(ctx context.Context, recipient string) error {
	n.sent++
	return nil
}

func postOTP(t *testing.T, h *OTPHandler, recipient string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"recipient": recipient})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/otp/request", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.Request(rr, req)
	return rr
}

func TestOTPRequestConstantResponseShape(t *testing.T) {
	client := testRedis(t)
	limiter := ratelimit.NewOTPLimiter(client, discardLogger(), 2, time.Hour)
	notifier := &countingNotifier{}
	h := NewOTPHandler(limiter, notifier)

	// Allowed and denied requests must be indistinguishable to the caller.
	var bodies []string
	for i := 0; i < 4; i++ {
		rr := postOTP(t, h, "patient@example.com")
		if rr.Code != http.StatusAccepted {
			t.Fatalf("request %d: status = %d, want %d", i, rr.Code, http.StatusAccepted)
		}
		bodies = append(bodies, rr.Body.String())
	}
	for i := 1; i < len(bodies); i++ {
		if bodies[i] != bodies[0] {
			t.Errorf("response %d body %q differs from first %q", i, bodies[i], bodies[0])
		}
	}

	// Only the requests inside the window actually sent a code.
	if notifier.sent != 2 {
		t.Errorf("codes sent = %d, want 2", notifier.sent)
	}
}

func TestOTPRequestValidation(t *testing.T) {
	client := testRedis(t)
	limiter := ratelimit.NewOTPLimiter(client, discardLogger(), 5, time.Hour)
	h := NewOTPHandler(limiter, &countingNotifier{})

	rr := postOTP(t, h, "   ")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("blank recipient: status = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/otp/request", bytes.NewReader([]byte("{not json")))
	rr = httptest.NewRecorder()
	h.Request(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func deadMessage(recordID string) *domain.DeliveryMessage {
	return &domain.DeliveryMessage{
		ID:          recordID + "-msg",
		RecordID:    recordID,
		EventType:   domain.EventAppointmentCreated,
		ReferenceID: "appt-100",
		Channel:     domain.ChannelWebhook,
		Target:      "https://example.com/hook",
		Secret:      "whsec_test",
		Attempt:     5,
		ScheduledAt: time.Now(),
	}
}

func TestDeadLetterListAndReplay(t *testing.T) {
	client := testRedis(t)
	webhookQ := queue.New(client, queue.WebhookQueue)
	pushQ := queue.New(client, queue.PushQueue)
	h := NewDeadLetterHandler(webhookQ, pushQ)

	ctx := context.Background()
	if err := webhookQ.DeadLetter(ctx, deadMessage("rec-1")); err != nil {
		t.Fatalf("DeadLetter: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dead-letters?queue="+queue.WebhookQueue, nil)
	rr := httptest.NewRecorder()
	h.List(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", rr.Code, http.StatusOK)
	}

	var listed map[string]struct {
		Depth    int64                    `json:"depth"`
		Messages []domain.DeliveryMessage `json:"messages"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decoding list response: %v", err)
	}
	if got := listed[queue.WebhookQueue].Depth; got != 1 {
		t.Errorf("dead-letter depth = %d, want 1", got)
	}

	body, _ := json.Marshal(map[string]string{"queue": queue.WebhookQueue})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/dead-letters/replay", bytes.NewReader(body))
	rr = httptest.NewRecorder()
	h.Replay(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("replay status = %d, want %d", rr.Code, http.StatusAccepted)
	}

	// The response claims a requeue, not a delivery: closed records drop
	// the replayed message at the worker.
	var replayResp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &replayResp); err != nil {
		t.Fatalf("decoding replay response: %v", err)
	}
	if requeued, _ := replayResp["requeued"].(bool); !requeued {
		t.Errorf("replay response = %v, want requeued=true", replayResp)
	}
	if _, overstated := replayResp["delivered"]; overstated {
		t.Error("replay response must not claim delivery")
	}

	// Replay resets the attempt counter and makes the message due now.
	due, err := webhookQ.PollDue(ctx, 10)
	if err != nil {
		t.Fatalf("PollDue: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("due messages = %d, want 1", len(due))
	}
	if due[0].Attempt != 1 {
		t.Errorf("replayed attempt = %d, want 1", due[0].Attempt)
	}

	// A second replay finds the dead-letter list empty.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/dead-letters/replay", bytes.NewReader(body))
	rr = httptest.NewRecorder()
	h.Replay(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("empty replay status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestDeadLetterUnknownQueue(t *testing.T) {
	client := testRedis(t)
	h := NewDeadLetterHandler(queue.New(client, queue.WebhookQueue), queue.New(client, queue.PushQueue))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dead-letters?queue=deliveries:fax", nil)
	rr := httptest.NewRecorder()
	h.List(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown queue status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}
