package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/carebridge/dispatch/internal/domain"
	"github.com/carebridge/dispatch/internal/metrics"
	"github.com/carebridge/dispatch/internal/queue"
	"github.com/carebridge/dispatch/internal/scrub"
)

// ErrPermanent marks a delivery failure that retrying cannot fix. Senders
// wrap it around misconfiguration and rejected-target errors.
var ErrPermanent = errors.New("permanent delivery failure")

// Sender performs the outbound call for one delivery message. A nil return
// is success; an error wrapping ErrPermanent ends the retry chain; any
// other error is treated as transient.
type Sender interface {
	Send(ctx context.Context, msg *domain.DeliveryMessage) error
}

// RecordStore is the slice of the durable store the worker mutates.
type RecordStore interface {
	GetEventRecord(ctx context.Context, id string) (*domain.EventRecord, error)
	MarkDelivered(ctx context.Context, id string) (bool, error)
	MarkFailed(ctx context.Context, id, lastError string) (bool, error)
	RecordTransientFailure(ctx context.Context, id, lastError string) (int, error)
}

// Processor owns the full lifecycle of one delivery message: idempotency
// guard, outbound call, outcome classification, record mutation, and either
// backoff re-enqueue or dead-lettering.
type Processor struct {
	records RecordStore
	queue   *queue.Queue
	sender  Sender
	policy  RetryPolicy
	logger  *slog.Logger
}

func NewProcessor(records RecordStore, q *queue.Queue, sender Sender, policy RetryPolicy, logger *slog.Logger) *Processor {
	return &Processor{
		records: records,
		queue:   q,
		sender:  sender,
		policy:  policy,
		logger:  logger,
	}
}

// Process handles one message. Redelivery of an already-terminal record is
// a no-op: the status check runs before any outbound call, so processing
// the same message twice cannot double-deliver or regress state.
func (p *Processor) Process(ctx context.Context, msg *domain.DeliveryMessage) {
	rec, err := p.records.GetEventRecord(ctx, msg.RecordID)
	if err != nil {
		// Can't read the record: requeue unchanged, no attempt consumed.
		p.logger.Error("record lookup failed, requeueing", "record_id", msg.RecordID, "error", err)
		msg.ScheduledAt = time.Now().Add(p.policy.BaseDelay)
		if err := p.queue.Enqueue(ctx, msg); err != nil {
			p.logger.Error("requeue failed", "record_id", msg.RecordID, "error", err)
		}
		return
	}
	if rec == nil {
		p.logger.Warn("message without record dropped", "record_id", msg.RecordID)
		metrics.Deliveries.WithLabelValues(p.queue.Name(), "dropped").Inc()
		return
	}
	if rec.Terminal() {
		p.logger.Info("record already terminal, dropping redelivery",
			"record_id", rec.ID, "status", rec.Status)
		metrics.Deliveries.WithLabelValues(p.queue.Name(), "dropped").Inc()
		return
	}

	// Misconfiguration fails immediately without consuming a retry attempt:
	// retrying cannot repair a missing secret or an empty target.
	if msg.Secret == "" || msg.Target == "" {
		p.fail(ctx, msg, "invalid delivery configuration")
		return
	}

	start := time.Now()
	sendErr := p.sender.Send(ctx, msg)
	elapsed := time.Since(start)
	metrics.DeliveryDuration.WithLabelValues(p.queue.Name()).Observe(float64(elapsed.Milliseconds()))

	switch {
	case sendErr == nil:
		updated, err := p.records.MarkDelivered(ctx, msg.RecordID)
		if err != nil {
			p.logger.Error("failed to mark delivered", "record_id", msg.RecordID, "error", err)
			return
		}
		if !updated {
			// Lost a redelivery race; the other worker already finished.
			metrics.Deliveries.WithLabelValues(p.queue.Name(), "dropped").Inc()
			return
		}
		metrics.Deliveries.WithLabelValues(p.queue.Name(), "delivered").Inc()
		p.logger.Info("delivered",
			"record_id", msg.RecordID,
			"event_type", msg.EventType,
			"attempt", msg.Attempt,
			"elapsed_ms", elapsed.Milliseconds(),
		)

	case errors.Is(sendErr, ErrPermanent):
		p.fail(ctx, msg, scrub.Scrub(sendErr.Error()))

	default:
		p.retry(ctx, msg, scrub.Scrub(sendErr.Error()))
	}
}

// retry records the transient failure and schedules the next attempt with
// exponential backoff, or exhausts the record once the ceiling is reached.
func (p *Processor) retry(ctx context.Context, msg *domain.DeliveryMessage, errText string) {
	attempts, err := p.records.RecordTransientFailure(ctx, msg.RecordID, errText)
	if err != nil {
		p.logger.Error("failed to record attempt", "record_id", msg.RecordID, "error", err)
		return
	}
	if attempts == 0 {
		// Record went terminal between our status check and now.
		metrics.Deliveries.WithLabelValues(p.queue.Name(), "dropped").Inc()
		return
	}

	if attempts >= p.policy.MaxAttempts {
		p.exhaust(ctx, msg, errText)
		return
	}

	delay := p.policy.Backoff(msg.Attempt)
	next := *msg
	next.Attempt = msg.Attempt + 1
	next.ScheduledAt = time.Now().Add(delay)

	if err := p.queue.Enqueue(ctx, &next); err != nil {
		// Record stays PENDING; the reconciler picks it up.
		p.logger.Error("failed to schedule retry", "record_id", msg.RecordID, "error", err)
		return
	}

	metrics.Deliveries.WithLabelValues(p.queue.Name(), "retried").Inc()
	p.logger.Warn("delivery failed, retry scheduled",
		"record_id", msg.RecordID,
		"attempt", msg.Attempt,
		"next_attempt", next.Attempt,
		"delay", delay.String(),
		"error", errText,
	)
}

// fail terminates the record without consuming further attempts and pushes
// the message onto the dead-letter list.
func (p *Processor) fail(ctx context.Context, msg *domain.DeliveryMessage, errText string) {
	updated, err := p.records.MarkFailed(ctx, msg.RecordID, errText)
	if err != nil {
		p.logger.Error("failed to mark record failed", "record_id", msg.RecordID, "error", err)
		return
	}
	if !updated {
		metrics.Deliveries.WithLabelValues(p.queue.Name(), "dropped").Inc()
		return
	}

	p.deadLetter(ctx, msg)
	metrics.Deliveries.WithLabelValues(p.queue.Name(), "failed").Inc()
	p.logger.Error("delivery permanently failed",
		"record_id", msg.RecordID,
		"attempt", msg.Attempt,
		"error", errText,
	)
}

// exhaust terminates a record whose attempt ceiling was reached.
func (p *Processor) exhaust(ctx context.Context, msg *domain.DeliveryMessage, errText string) {
	updated, err := p.records.MarkFailed(ctx, msg.RecordID, errText)
	if err != nil {
		p.logger.Error("failed to mark record failed", "record_id", msg.RecordID, "error", err)
		return
	}
	if updated {
		p.deadLetter(ctx, msg)
		metrics.Deliveries.WithLabelValues(p.queue.Name(), "failed").Inc()
		p.logger.Error("delivery attempts exhausted",
			"record_id", msg.RecordID,
			"attempts", p.policy.MaxAttempts,
			"error", errText,
		)
	}
}

func (p *Processor) deadLetter(ctx context.Context, msg *domain.DeliveryMessage) {
	if err := p.queue.DeadLetter(ctx, msg); err != nil {
		p.logger.Error("dead-lettering failed", "record_id", msg.RecordID, "error", err)
		return
	}
	metrics.DeadLettered.WithLabelValues(p.queue.Name()).Inc()
}
