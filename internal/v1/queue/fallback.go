package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/meetgrid/backend/internal/v1/models"
)

// Fallback is an in-process Queue used when Redis is disabled or
// unreachable, so a failed durable enqueue degrades to best-effort
// in-memory delivery rather than losing the job. It does not survive a
// process restart.
type Fallback struct {
	mu        sync.Mutex
	pending   map[models.QueueName]*jobHeap
	cancelled map[string]struct{}
	data      map[string]*models.Job
	ready     chan struct{}
}

// NewFallback constructs an empty in-memory queue.
func NewFallback() *Fallback {
	return &Fallback{
		pending:   make(map[models.QueueName]*jobHeap),
		cancelled: make(map[string]struct{}),
		data:      make(map[string]*models.Job),
		ready:     make(chan struct{}, 1),
	}
}

type jobHeapEntry struct {
	notBefore time.Time
	jobID     string
}

type jobHeap []jobHeapEntry

func (h jobHeap) Len() int            { return len(h) }
func (h jobHeap) Less(i, j int) bool  { return h[i].notBefore.Before(h[j].notBefore) }
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)         { *h = append(*h, x.(jobHeapEntry)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (f *Fallback) Enqueue(ctx context.Context, queueName models.QueueName, payload any, notBefore time.Time, opts EnqueueOptions) (string, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", err
	}

	jobID := opts.JobID
	if jobID == "" {
		jobID = newJobID(queueName)
	}
	defaults := defaultsFor(queueName)
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaults.maxAttempts
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.data[jobID]; exists {
		return jobID, nil // idempotent re-enqueue, same as the Redis backend
	}
	delete(f.cancelled, jobID)

	job := &models.Job{
		ID:                jobID,
		Queue:             queueName,
		Payload:           raw,
		AttemptsRemaining: maxAttempts,
		MaxAttempts:       maxAttempts,
		BaseBackoff:       defaults.baseBackoff,
		NotBefore:         notBefore,
		CreatedAt:         time.Now(),
	}
	f.data[jobID] = job

	h, ok := f.pending[queueName]
	if !ok {
		h = &jobHeap{}
		f.pending[queueName] = h
	}
	heap.Push(h, jobHeapEntry{notBefore: notBefore, jobID: jobID})

	select {
	case f.ready <- struct{}{}:
	default:
	}
	return jobID, nil
}

func (f *Fallback) Cancel(ctx context.Context, queueName models.QueueName, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled[jobID] = struct{}{}
	delete(f.data, jobID)
	return nil
}

func (f *Fallback) Dequeue(ctx context.Context, queueName models.QueueName) (*models.Job, error) {
	for {
		f.mu.Lock()
		h, ok := f.pending[queueName]
		if !ok || h.Len() == 0 {
			f.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, nil
			case <-time.After(250 * time.Millisecond):
				return nil, nil
			}
		}

		top := (*h)[0]
		if top.notBefore.After(time.Now()) {
			f.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, nil
			case <-time.After(100 * time.Millisecond):
				return nil, nil
			}
		}

		heap.Pop(h)
		jobID := top.jobID
		if _, cancelled := f.cancelled[jobID]; cancelled {
			delete(f.cancelled, jobID)
			f.mu.Unlock()
			continue
		}
		job, exists := f.data[jobID]
		f.mu.Unlock()
		if !exists {
			continue
		}
		return job, nil
	}
}

func (f *Fallback) Ack(ctx context.Context, queueName models.QueueName, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, jobID)
	return nil
}

func (f *Fallback) Nack(ctx context.Context, queueName models.QueueName, job *models.Job, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job.AttemptsRemaining--
	if job.AttemptsRemaining <= 0 {
		delete(f.data, job.ID)
		return nil
	}

	backoff := job.BaseBackoff
	if backoff <= 0 {
		backoff = DefaultBaseBackoff
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	attempt := maxAttempts - job.AttemptsRemaining
	for i := 0; i < attempt; i++ {
		backoff *= 2
	}
	job.NotBefore = time.Now().Add(backoff)
	f.data[job.ID] = job

	h, ok := f.pending[queueName]
	if !ok {
		h = &jobHeap{}
		f.pending[queueName] = h
	}
	heap.Push(h, jobHeapEntry{notBefore: job.NotBefore, jobID: job.ID})
	return nil
}

func (f *Fallback) Ping(ctx context.Context) error { return nil }
func (f *Fallback) Close() error                   { return nil }
