package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/carebridge/dispatch/internal/domain"
)

// Pool runs a fixed number of goroutines that process delivery messages for
// one queue. The channel buffer bounds in-flight work, which is how
// backpressure reaches the dispatcher.
type Pool struct {
	numWorkers int
	jobs       chan *domain.DeliveryMessage
	processor  *Processor
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewPool(numWorkers int, processor *Processor, logger *slog.Logger) *Pool {
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan *domain.DeliveryMessage, numWorkers*2),
		processor:  processor,
		logger:     logger,
	}
}

// Start launches the worker goroutines. They read from the jobs channel
// until it is closed or the context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit blocks when all workers are busy and the buffer is full.
func (p *Pool) Submit(msg *domain.DeliveryMessage) {
	p.jobs <- msg
}

// Stop closes the jobs channel and waits for in-flight work to finish.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for msg := range p.jobs {
		select {
		case <-ctx.Done():
			return
		default:
			p.processor.Process(ctx, msg)
		}
	}
}
