// Package publisher turns a domain event into per-subscription delivery
// work: one durable tracking record plus one queued message per active
// subscription.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carebridge/dispatch/internal/domain"
	"github.com/carebridge/dispatch/internal/metrics"
	"github.com/carebridge/dispatch/internal/store"
	"github.com/google/uuid"
)

// SubscriptionSource looks up the active consumers of an event type.
type SubscriptionSource interface {
	FindActiveSubscriptions(ctx context.Context, eventType domain.EventType) ([]domain.Subscription, error)
}

// RecordStore persists delivery-tracking records.
type RecordStore interface {
	CreateEventRecord(ctx context.Context, rec store.NewEventRecord) (*domain.EventRecord, error)
}

// Enqueuer places a delivery message on one named durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *domain.DeliveryMessage) error
}

// Keys permitted in outbound payload maps. Everything else is dropped at
// publish time — payloads carry identifiers and status codes, never PHI.
var allowedPayloadKeys = map[string]struct{}{
	"status":         {},
	"appointment_id": {},
	"payment_id":     {},
	"amount_cents":   {},
	"currency":       {},
	"actor_role":     {},
	"slot_start":     {},
	"slot_end":       {},
}

// Publisher fans one event out to every active subscription for its type.
type Publisher struct {
	subs     SubscriptionSource
	records  RecordStore
	webhookQ Enqueuer
	pushQ    Enqueuer
	logger   *slog.Logger
}

func New(subs SubscriptionSource, records RecordStore, webhookQ, pushQ Enqueuer, logger *slog.Logger) *Publisher {
	return &Publisher{
		subs:     subs,
		records:  records,
		webhookQ: webhookQ,
		pushQ:    pushQ,
		logger:   logger,
	}
}

// Publish creates one PENDING record and one queued message per active
// subscription on eventType. The record is always written before the
// message: a crash between the two leaves a record without a message, which
// the reconciler detects and re-enqueues. The reverse (a message without a
// record) would be untrackable and cannot happen.
//
// A persistence failure aborts that subscription's publish and is returned.
// An enqueue failure after the insert leaves the record PENDING, is logged
// and counted, and is left to the reconciler — not returned as an error.
//
// No active subscriptions is a no-op, not an error.
func (p *Publisher) Publish(ctx context.Context, eventType domain.EventType, referenceID string, payload map[string]string) (int, error) {
	if !eventType.Valid() {
		return 0, fmt.Errorf("unknown event type %q", eventType)
	}
	if referenceID == "" {
		return 0, errors.New("reference id is required")
	}

	subs, err := p.subs.FindActiveSubscriptions(ctx, eventType)
	if err != nil {
		return 0, fmt.Errorf("finding active subscriptions: %w", err)
	}
	if len(subs) == 0 {
		p.logger.Info("no active subscriptions", "event_type", eventType, "reference_id", referenceID)
		return 0, nil
	}

	payload = sanitizePayload(payload)

	var queued int
	var errs error
	for _, sub := range subs {
		rec, err := p.records.CreateEventRecord(ctx, store.NewEventRecord{
			EventType:      eventType,
			ReferenceID:    referenceID,
			SubscriptionID: sub.ID,
			Channel:        sub.Channel,
			Target:         sub.Target,
			Secret:         sub.Secret,
		})
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}

		msg := &domain.DeliveryMessage{
			ID:          uuid.NewString(),
			RecordID:    rec.ID,
			EventType:   eventType,
			ReferenceID: referenceID,
			Channel:     sub.Channel,
			Target:      sub.Target,
			Secret:      sub.Secret,
			Payload:     payload,
			Attempt:     1,
			ScheduledAt: time.Now(),
		}

		if err := p.enqueuerFor(sub.Channel).Enqueue(ctx, msg); err != nil {
			// Record is written and PENDING; the reconciler will requeue it.
			metrics.EnqueueFailures.Inc()
			p.logger.Error("enqueue failed after record insert",
				"record_id", rec.ID,
				"subscription_id", sub.ID,
				"error", err,
			)
			continue
		}

		metrics.EventsPublished.WithLabelValues(eventType.String()).Inc()
		queued++
	}

	p.logger.Info("publish complete",
		"event_type", eventType,
		"reference_id", referenceID,
		"subscriptions", len(subs),
		"queued", queued,
	)

	return queued, errs
}

func (p *Publisher) enqueuerFor(c domain.Channel) Enqueuer {
	if c == domain.ChannelPush {
		return p.pushQ
	}
	return p.webhookQ
}

// sanitizePayload drops any key outside the non-PHI whitelist.
func sanitizePayload(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if _, ok := allowedPayloadKeys[k]; ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
