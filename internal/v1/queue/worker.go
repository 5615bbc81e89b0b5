package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meetgrid/backend/internal/v1/logging"
	"github.com/meetgrid/backend/internal/v1/metrics"
	"github.com/meetgrid/backend/internal/v1/models"
)

// Handler processes one job. A returned error triggers Nack (retry with
// backoff, or drop once attempts are exhausted); a nil return Acks it.
type Handler func(ctx context.Context, job *models.Job) error

// WorkerPool runs a configurable number of goroutines per queue name,
// pulling jobs from Queue and dispatching them to the registered Handler.
type WorkerPool struct {
	q            Queue
	handlers     map[models.QueueName]Handler
	concurrency  map[models.QueueName]int
	promoteEvery time.Duration
	wg           sync.WaitGroup
}

// NewWorkerPool constructs a pool with no handlers registered yet; call
// Register for each queue name before Run.
func NewWorkerPool(q Queue) *WorkerPool {
	return &WorkerPool{
		q:            q,
		handlers:     make(map[models.QueueName]Handler),
		concurrency:  make(map[models.QueueName]int),
		promoteEvery: time.Second,
	}
}

// Register attaches handler to queueName with the given worker concurrency.
func (p *WorkerPool) Register(queueName models.QueueName, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	p.handlers[queueName] = handler
	p.concurrency[queueName] = concurrency
}

// Run starts all registered workers and, if the backend is a *RedisQueue,
// the background promotion loop that moves due jobs onto the ready list.
// Run blocks until ctx is cancelled, then waits for in-flight jobs to
// finish before returning.
func (p *WorkerPool) Run(ctx context.Context) {
	if redisQ, ok := p.q.(*RedisQueue); ok {
		for queueName := range p.handlers {
			p.wg.Add(1)
			go p.runPromoter(ctx, redisQ, queueName)
		}
	}

	for queueName, handler := range p.handlers {
		n := p.concurrency[queueName]
		for i := 0; i < n; i++ {
			p.wg.Add(1)
			go p.runWorker(ctx, queueName, handler)
		}
	}

	<-ctx.Done()
	p.wg.Wait()
}

func (p *WorkerPool) runPromoter(ctx context.Context, redisQ *RedisQueue, queueName models.QueueName) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.promoteEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := redisQ.PromoteDue(ctx, queueName, now); err != nil {
				logging.Error(ctx, "job promotion failed", zap.String("queue", string(queueName)), zap.Error(err))
			}
		}
	}
}

func (p *WorkerPool) runWorker(ctx context.Context, queueName models.QueueName, handler Handler) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.q.Dequeue(ctx, queueName)
		if err != nil {
			logging.Error(ctx, "dequeue failed", zap.String("queue", string(queueName)), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		start := time.Now()
		jobCtx := context.WithValue(ctx, logging.JobIDKey, job.ID)
		err = handler(jobCtx, job)
		metrics.JobProcessingDuration.WithLabelValues(string(queueName)).Observe(time.Since(start).Seconds())

		if err != nil {
			logging.Error(jobCtx, "job handler failed", zap.String("job_id", job.ID), zap.Error(err))
			if nackErr := p.q.Nack(ctx, queueName, job, err); nackErr != nil {
				logging.Error(jobCtx, "nack failed", zap.Error(nackErr))
			}
			continue
		}

		metrics.JobsProcessed.WithLabelValues(string(queueName), "success").Inc()
		if ackErr := p.q.Ack(ctx, queueName, job.ID); ackErr != nil {
			logging.Error(jobCtx, "ack failed", zap.Error(ackErr))
		}
	}
}
