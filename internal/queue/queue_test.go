package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/carebridge/dispatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

func setupQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, WebhookQueue)
}

func testMessage(id string, at time.Time) *domain.DeliveryMessage {
	return &domain.DeliveryMessage{
		ID:          id,
		RecordID:    "rec-" + id,
		EventType:   domain.EventAppointmentCreated,
		ReferenceID: "apt-42",
		Channel:     domain.ChannelWebhook,
		Target:      "http://example.com/hook",
		Secret:      "whsec",
		Attempt:     1,
		ScheduledAt: at,
	}
}

func TestQueue_EnqueuePollDue(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testMessage("m1", time.Now().Add(-time.Second))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	msgs, err := q.PollDue(ctx, 10)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 due message, got %d", len(msgs))
	}
	if msgs[0].ID != "m1" {
		t.Errorf("wrong message: %q", msgs[0].ID)
	}

	// A claimed message is gone
	msgs, err = q.PollDue(ctx, 10)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("claimed message should not be returned again, got %d", len(msgs))
	}
}

func TestQueue_FutureMessageNotDue(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testMessage("m-later", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	msgs, err := q.PollDue(ctx, 10)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("message scheduled in the future should not be due, got %d", len(msgs))
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}
}

func TestQueue_DeadLetterAndReplay(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	msg := testMessage("m-dead", time.Now())
	msg.Attempt = 5
	if err := q.DeadLetter(ctx, msg); err != nil {
		t.Fatalf("dead letter: %v", err)
	}

	depth, err := q.DeadLetterDepth(ctx)
	if err != nil {
		t.Fatalf("dlq depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("dlq depth = %d, want 1", depth)
	}

	letters, err := q.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(letters) != 1 || letters[0].ID != "m-dead" {
		t.Fatalf("unexpected dead letters: %+v", letters)
	}

	replayed, err := q.ReplayDeadLetter(ctx)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replayed {
		t.Fatal("expected a dead letter to be replayed")
	}

	// Replay resets the attempt counter and makes the message due now
	msgs, err := q.PollDue(ctx, 10)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected replayed message to be due, got %d", len(msgs))
	}
	if msgs[0].Attempt != 1 {
		t.Errorf("replayed attempt = %d, want 1", msgs[0].Attempt)
	}

	// List is empty afterwards
	if replayed, _ := q.ReplayDeadLetter(ctx); replayed {
		t.Error("replay on empty dead-letter list should report false")
	}
}

func TestForChannel(t *testing.T) {
	if ForChannel(domain.ChannelWebhook) != WebhookQueue {
		t.Error("webhook channel should map to the webhook queue")
	}
	if ForChannel(domain.ChannelPush) != PushQueue {
		t.Error("push channel should map to the push queue")
	}
}
