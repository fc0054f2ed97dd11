// Package reconcile closes the publisher's crash gap: a record written
// without its queue message, or a retry whose re-enqueue was dropped,
// leaves a PENDING record that nothing is working on. A periodic sweep
// finds records with no activity past the backoff horizon and re-enqueues
// them, or terminal-fails them when their attempts are already exhausted.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/carebridge/dispatch/internal/domain"
	"github.com/carebridge/dispatch/internal/queue"
	"github.com/carebridge/dispatch/internal/worker"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// RecordStore is the slice of the durable store the sweep reads and mutates.
type RecordStore interface {
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.EventRecord, error)
	MarkFailed(ctx context.Context, id, lastError string) (bool, error)
}

// Enqueuer matches the queue fabric's enqueue operation.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *domain.DeliveryMessage) error
}

type Reconciler struct {
	records    RecordStore
	webhookQ   Enqueuer
	pushQ      Enqueuer
	policy     worker.RetryPolicy
	staleAfter time.Duration
	batchSize  int
	logger     *slog.Logger
	cron       *cron.Cron
}

func New(records RecordStore, webhookQ, pushQ Enqueuer, policy worker.RetryPolicy, staleAfter time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		records:    records,
		webhookQ:   webhookQ,
		pushQ:      pushQ,
		policy:     policy,
		staleAfter: staleAfter,
		batchSize:  100,
		logger:     logger,
		cron:       cron.New(),
	}
}

// Start schedules the sweep at the given interval and runs it in cron's
// own goroutine.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) error {
	_, err := r.cron.AddFunc("@every "+interval.String(), func() {
		if err := r.Sweep(ctx); err != nil {
			r.logger.Error("reconcile sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("reconciler started", "interval", interval.String())
	return nil
}

func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}

// Sweep processes one batch of stale PENDING records.
func (r *Reconciler) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-r.staleAfter)

	stale, err := r.records.ListStalePending(ctx, cutoff, r.batchSize)
	if err != nil {
		return err
	}

	var requeued, exhausted int
	for i := range stale {
		rec := &stale[i]

		if rec.Attempts >= r.policy.MaxAttempts {
			if _, err := r.records.MarkFailed(ctx, rec.ID, "delivery attempts exhausted"); err != nil {
				r.logger.Error("failed to close exhausted record", "record_id", rec.ID, "error", err)
				continue
			}
			exhausted++
			continue
		}

		msg := &domain.DeliveryMessage{
			ID:          uuid.NewString(),
			RecordID:    rec.ID,
			EventType:   rec.EventType,
			ReferenceID: rec.ReferenceID,
			Channel:     rec.Channel,
			Target:      rec.Target,
			Secret:      rec.Secret,
			Attempt:     rec.Attempts + 1,
			ScheduledAt: time.Now(),
		}

		if err := r.enqueuerFor(rec.Channel).Enqueue(ctx, msg); err != nil {
			r.logger.Error("reconcile requeue failed", "record_id", rec.ID, "error", err)
			continue
		}
		requeued++
	}

	if requeued > 0 || exhausted > 0 {
		r.logger.Info("reconcile sweep complete",
			"stale", len(stale),
			"requeued", requeued,
			"exhausted", exhausted,
		)
	}
	return nil
}

func (r *Reconciler) enqueuerFor(c domain.Channel) Enqueuer {
	if c == domain.ChannelPush {
		return r.pushQ
	}
	return r.webhookQ
}

// queue.Queue satisfies Enqueuer.
var _ Enqueuer = (*queue.Queue)(nil)
