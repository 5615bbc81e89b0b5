// Package queue implements the four durable job queues (email, reminder,
// momGeneration, recording) described in the specification's Job Queue
// component. RedisQueue is the production backend: a Redis sorted set holds
// not-yet-due jobs scored by their notBefore time, and a Redis list holds
// jobs ready for a worker to pick up. Fallback is an in-memory queue used
// when Redis is unreachable or disabled, so enqueue failures degrade to
// best-effort in-process delivery instead of losing the job outright.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/meetgrid/backend/internal/v1/models"
)

// DefaultMaxAttempts bounds retries for a job before it is dropped, used for
// any queue name not listed in queueDefaults.
const DefaultMaxAttempts = 5

// DefaultBaseBackoff is the starting retry delay for any queue name not
// listed in queueDefaults.
const DefaultBaseBackoff = 5 * time.Second

// queueDefaults holds the per-queue base retry delay and attempt ceiling:
// email and reminder jobs are cheap and user-visible, so they retry quickly
// and often; momGeneration jobs hit a paid LLM API, so they wait longer and
// give up sooner; recording jobs are best-effort post-processing.
type queueDefaults struct {
	baseBackoff time.Duration
	maxAttempts int
}

var defaultsByQueue = map[models.QueueName]queueDefaults{
	models.QueueEmail:         {baseBackoff: 5 * time.Second, maxAttempts: 3},
	models.QueueReminder:      {baseBackoff: 5 * time.Second, maxAttempts: 3},
	models.QueueMoMGeneration: {baseBackoff: 10 * time.Second, maxAttempts: 2},
	models.QueueRecording:     {baseBackoff: 5 * time.Second, maxAttempts: 2},
}

// defaultsFor returns queueName's configured backoff/attempts, falling back
// to the package defaults for any queue name not in defaultsByQueue.
func defaultsFor(queueName models.QueueName) queueDefaults {
	if d, ok := defaultsByQueue[queueName]; ok {
		return d
	}
	return queueDefaults{baseBackoff: DefaultBaseBackoff, maxAttempts: DefaultMaxAttempts}
}

// EnqueueOptions customizes one Enqueue call.
type EnqueueOptions struct {
	// JobID, if set, makes the enqueue idempotent: re-enqueuing the same ID
	// is a no-op rather than creating a duplicate. Used for reminder jobs,
	// whose IDs are deterministic (reminder-<meetingId>-<minutes>).
	JobID string
	// MaxAttempts overrides the target queue's configured default.
	MaxAttempts int
}

// Queue is the durable job queue boundary. Implementations must make
// Enqueue/Cancel/Dequeue/Ack/Nack safe for concurrent use by multiple
// worker goroutines and multiple producer call sites.
type Queue interface {
	Enqueue(ctx context.Context, queueName models.QueueName, payload any, notBefore time.Time, opts EnqueueOptions) (string, error)
	Cancel(ctx context.Context, queueName models.QueueName, jobID string) error
	// Dequeue blocks up to the implementation's poll interval waiting for a
	// ready job, returning (nil, nil) on timeout so callers can check
	// ctx.Done() between attempts.
	Dequeue(ctx context.Context, queueName models.QueueName) (*models.Job, error)
	Ack(ctx context.Context, queueName models.QueueName, jobID string) error
	Nack(ctx context.Context, queueName models.QueueName, job *models.Job, cause error) error
	Ping(ctx context.Context) error
	Close() error
}

func newJobID(queueName models.QueueName) string {
	return string(queueName) + "-" + uuid.NewString()
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}
