// Package ingest bridges the platform's internal domain-event topic into
// the publisher. Domain services that cannot call the HTTP trigger drop an
// envelope on Kafka instead; this consumer republishes it through the same
// fan-out path.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/carebridge/dispatch/internal/domain"
	"github.com/segmentio/kafka-go"
)

// Topic carrying domain-event envelopes.
const Topic = "domain-events"

// Envelope is the wire format domain services produce.
type Envelope struct {
	EventType   domain.EventType  `json:"event_type"`
	ReferenceID string            `json:"reference_id"`
	Payload     map[string]string `json:"payload,omitempty"`
}

// EventPublisher is the slice of the publisher the consumer needs.
type EventPublisher interface {
	Publish(ctx context.Context, eventType domain.EventType, referenceID string, payload map[string]string) (int, error)
}

// Consumer reads envelopes off the topic with bounded concurrency and
// commits only after a successful publish, so a crash mid-publish results
// in redelivery rather than loss. Commits are released in offset order
// even though handlers finish out of order.
type Consumer struct {
	reader    *kafka.Reader
	publisher EventPublisher
	sem       chan struct{}
	tracker   *commitTracker
	logger    *slog.Logger
}

func NewConsumer(brokers []string, groupID string, publisher EventPublisher, concurrency int, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    Topic,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	return &Consumer{
		reader:    reader,
		publisher: publisher,
		sem:       make(chan struct{}, concurrency),
		tracker:   newCommitTracker(),
		logger:    logger,
	}
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("kafka ingest started", "topic", Topic)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		c.tracker.track(m)

		c.sem <- struct{}{}
		go func(m kafka.Message) {
			defer func() { <-c.sem }()

			var env Envelope
			if err := json.Unmarshal(m.Value, &env); err != nil {
				// Malformed envelopes are completed and skipped: redelivery
				// would fail identically.
				c.logger.Error("malformed envelope", "offset", m.Offset, "error", err)
				c.commitCompleted(ctx, m)
				return
			}

			if _, err := c.publisher.Publish(ctx, env.EventType, env.ReferenceID, env.Payload); err != nil {
				c.logger.Error("ingest publish failed",
					"event_type", env.EventType,
					"reference_id", env.ReferenceID,
					"error", err,
				)
				// Not completed: the commit cursor stalls here, so the
				// watermark never passes this offset and the broker
				// redelivers it after a restart or rebalance.
				return
			}

			c.commitCompleted(ctx, m)
		}(m)
	}
}

// commitCompleted marks m handled and commits the highest offset the
// in-order cursor has released, if any.
func (c *Consumer) commitCompleted(ctx context.Context, m kafka.Message) {
	last, ok := c.tracker.complete(m)
	if !ok {
		return
	}
	if err := c.reader.CommitMessages(ctx, last); err != nil {
		c.logger.Error("commit failed", "offset", last.Offset, "error", err)
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }

// commitTracker serializes offset commits for concurrently handled
// messages. The group offset is a single per-partition watermark, so
// committing offset N+1 while N is still in flight would move the
// watermark past an unhandled message and lose it on the next rebalance.
// Completed messages are held until every earlier offset on their
// partition has completed; complete then releases the newest message of
// the contiguous run for committing.
type commitTracker struct {
	mu        sync.Mutex
	cursor    map[int]int64
	completed map[int]map[int64]kafka.Message
}

func newCommitTracker() *commitTracker {
	return &commitTracker{
		cursor:    make(map[int]int64),
		completed: make(map[int]map[int64]kafka.Message),
	}
}

// track registers a fetched message. Fetches arrive in offset order per
// partition, so the first message seen on a partition pins the cursor; a
// lower offset after a rebalance re-pins it.
func (t *commitTracker) track(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.cursor[m.Partition]; !ok || m.Offset < cur {
		t.cursor[m.Partition] = m.Offset
	}
}

// complete marks one message handled. It returns the newest message of the
// contiguous completed run when the cursor advanced, which is the only
// offset safe to commit. A handler that fails never calls complete, so the
// cursor stalls at its offset and nothing beyond it is ever committed.
func (t *commitTracker) complete(m kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m.Offset < t.cursor[m.Partition] {
		// Refetched duplicate of an already-released offset.
		return kafka.Message{}, false
	}

	comp := t.completed[m.Partition]
	if comp == nil {
		comp = make(map[int64]kafka.Message)
		t.completed[m.Partition] = comp
	}
	comp[m.Offset] = m

	var last kafka.Message
	advanced := false
	for {
		next, ok := comp[t.cursor[m.Partition]]
		if !ok {
			break
		}
		delete(comp, t.cursor[m.Partition])
		t.cursor[m.Partition]++
		last = next
		advanced = true
	}
	return last, advanced
}
