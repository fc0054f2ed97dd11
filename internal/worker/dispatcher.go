package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/carebridge/dispatch/internal/metrics"
	"github.com/carebridge/dispatch/internal/queue"
)

// Dispatcher polls one queue for due messages and feeds them to that
// queue's worker pool.
type Dispatcher struct {
	queue        *queue.Queue
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int64
}

func NewDispatcher(q *queue.Queue, pool *Pool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:        q,
		pool:         pool,
		logger:       logger,
		pollInterval: 100 * time.Millisecond,
		batchSize:    10,
	}
}

// Start runs the polling loop until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher started", "queue", d.queue.Name())

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping", "queue", d.queue.Name())
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	msgs, err := d.queue.PollDue(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("failed to poll queue", "queue", d.queue.Name(), "error", err)
		return
	}

	if depth, err := d.queue.Depth(ctx); err == nil {
		metrics.QueueDepth.WithLabelValues(d.queue.Name()).Set(float64(depth))
	}

	for i := range msgs {
		d.pool.Submit(&msgs[i])
	}
}
