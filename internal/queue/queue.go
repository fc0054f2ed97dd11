// Package queue implements the durable queue fabric on Redis. Each named
// queue is a sorted set scored by the message's scheduled-at time in
// microseconds, which gives delayed (backoff) delivery for free: a message
// is due when its score is <= now. Every queue is paired with a dead-letter
// list that holds raw messages whose delivery attempts were exhausted.
// Dead letters are never re-injected automatically — replay is an operator
// action only.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/carebridge/dispatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Queue names, one per delivery category.
const (
	WebhookQueue = "deliveries:webhook"
	PushQueue    = "deliveries:push"
)

// ForChannel maps a subscription channel to its queue name.
func ForChannel(c domain.Channel) string {
	if c == domain.ChannelPush {
		return PushQueue
	}
	return WebhookQueue
}

// Queue is one named durable queue plus its paired dead-letter list.
type Queue struct {
	client *redis.Client
	name   string
}

func New(client *redis.Client, name string) *Queue {
	return &Queue{client: client, name: name}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) dlqKey() string { return q.name + ":dead" }

// Enqueue adds a delivery message scheduled to become due at msg.ScheduledAt.
func (q *Queue) Enqueue(ctx context.Context, msg *domain.DeliveryMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling delivery message: %w", err)
	}

	err = q.client.ZAdd(ctx, q.name, redis.Z{
		Score:  float64(msg.ScheduledAt.UnixMicro()),
		Member: string(raw),
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueueing to %s: %w", q.name, err)
	}
	return nil
}

// PollDue fetches up to batch due messages. Each message is claimed via
// ZRem before being returned; a ZRem that removes nothing means another
// consumer instance already took that message, so it is skipped. This gives
// single-delivery semantics across processes.
func (q *Queue) PollDue(ctx context.Context, batch int64) ([]domain.DeliveryMessage, error) {
	now := float64(time.Now().UnixMicro())

	results, err := q.client.ZRangeByScore(ctx, q.name, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(now, 'f', -1, 64),
		Count: batch,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("polling %s: %w", q.name, err)
	}

	var due []domain.DeliveryMessage
	for _, raw := range results {
		removed, err := q.client.ZRem(ctx, q.name, raw).Result()
		if err != nil {
			return due, fmt.Errorf("claiming message from %s: %w", q.name, err)
		}
		if removed == 0 {
			continue
		}

		var msg domain.DeliveryMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			// Unparseable member — claim succeeded, push straight to DLQ
			q.client.LPush(ctx, q.dlqKey(), raw)
			continue
		}
		due = append(due, msg)
	}

	return due, nil
}

// Scheduled lists up to limit messages regardless of due time, soonest
// first, without claiming them.
func (q *Queue) Scheduled(ctx context.Context, limit int64) ([]domain.DeliveryMessage, error) {
	raws, err := q.client.ZRange(ctx, q.name, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", q.name, err)
	}

	msgs := make([]domain.DeliveryMessage, 0, len(raws))
	for _, raw := range raws {
		var msg domain.DeliveryMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// DeadLetter pushes the raw message onto the paired dead-letter list.
func (q *Queue) DeadLetter(ctx context.Context, msg *domain.DeliveryMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling dead letter: %w", err)
	}
	if err := q.client.LPush(ctx, q.dlqKey(), string(raw)).Err(); err != nil {
		return fmt.Errorf("dead-lettering to %s: %w", q.dlqKey(), err)
	}
	return nil
}

// Depth returns the number of messages waiting (including not-yet-due).
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.name).Result()
}

// DeadLetters returns up to limit raw dead letters, newest first, without
// removing them.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]domain.DeliveryMessage, error) {
	raws, err := q.client.LRange(ctx, q.dlqKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", q.dlqKey(), err)
	}

	msgs := make([]domain.DeliveryMessage, 0, len(raws))
	for _, raw := range raws {
		var msg domain.DeliveryMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// DeadLetterDepth returns the size of the paired dead-letter list.
func (q *Queue) DeadLetterDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.dlqKey()).Result()
}

// ReplayDeadLetter pops the oldest dead letter and re-enqueues it as due
// immediately with its attempt counter reset to 1. Returns false when the
// dead-letter list is empty.
func (q *Queue) ReplayDeadLetter(ctx context.Context) (bool, error) {
	raw, err := q.client.RPop(ctx, q.dlqKey()).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("popping from %s: %w", q.dlqKey(), err)
	}

	var msg domain.DeliveryMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return false, fmt.Errorf("unmarshaling dead letter: %w", err)
	}

	msg.Attempt = 1
	msg.ScheduledAt = time.Now()
	if err := q.Enqueue(ctx, &msg); err != nil {
		return false, err
	}
	return true, nil
}
