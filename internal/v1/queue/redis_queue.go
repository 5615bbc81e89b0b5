package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/meetgrid/backend/internal/v1/logging"
	"github.com/meetgrid/backend/internal/v1/metrics"
	"github.com/meetgrid/backend/internal/v1/models"
)

// RedisQueue is the production Queue backend.
type RedisQueue struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewRedisQueue connects to Redis and verifies connectivity immediately.
func NewRedisQueue(addr, password string) (*RedisQueue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           1, // separate logical DB from the presence/cache store
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis job queue: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "queue",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("queue").Set(stateVal)
		},
	}

	return &RedisQueue{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

func scheduleKey(q models.QueueName) string  { return fmt.Sprintf("meetgrid:queue:%s:schedule", q) }
func readyKey(q models.QueueName) string     { return fmt.Sprintf("meetgrid:queue:%s:ready", q) }
func dataKey(q models.QueueName) string      { return fmt.Sprintf("meetgrid:queue:%s:data", q) }
func cancelledKey(q models.QueueName) string { return fmt.Sprintf("meetgrid:queue:%s:cancelled", q) }

func (q *RedisQueue) Enqueue(ctx context.Context, queueName models.QueueName, payload any, notBefore time.Time, opts EnqueueOptions) (string, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
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

	job := models.Job{
		ID:                jobID,
		Queue:             queueName,
		Payload:           raw,
		AttemptsRemaining: maxAttempts,
		MaxAttempts:       maxAttempts,
		BaseBackoff:       defaults.baseBackoff,
		NotBefore:         notBefore,
		CreatedAt:         time.Now(),
	}
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	_, err = q.cb.Execute(func() (interface{}, error) {
		pipe := q.client.TxPipeline()
		// HSetNX makes a deterministic jobID idempotent: a second enqueue
		// of "reminder-<meetingId>-<minutes>" is a silent no-op.
		setCmd := pipe.HSetNX(ctx, dataKey(queueName), jobID, jobBytes)
		pipe.SRem(ctx, cancelledKey(queueName), jobID)
		pipe.ZAddNX(ctx, scheduleKey(queueName), redis.Z{
			Score:  float64(notBefore.Unix()),
			Member: jobID,
		})
		_, err := pipe.Exec(ctx)
		if err != nil {
			return nil, err
		}
		return setCmd.Val(), nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("queue").Inc()
			return "", fmt.Errorf("queue circuit breaker open: %w", err)
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	metrics.JobsEnqueued.WithLabelValues(string(queueName)).Inc()
	return jobID, nil
}

func (q *RedisQueue) Cancel(ctx context.Context, queueName models.QueueName, jobID string) error {
	_, err := q.cb.Execute(func() (interface{}, error) {
		pipe := q.client.TxPipeline()
		pipe.SAdd(ctx, cancelledKey(queueName), jobID)
		pipe.ZRem(ctx, scheduleKey(queueName), jobID)
		pipe.HDel(ctx, dataKey(queueName), jobID)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return nil // graceful degradation: worst case the job fires once more and is discarded at dequeue time
		}
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	return nil
}

// PromoteDue moves jobs whose notBefore has elapsed from the schedule
// sorted set onto the ready list. Callers run this on a ticker, one per
// queue name, as part of the queue's background maintenance loop.
func (q *RedisQueue) PromoteDue(ctx context.Context, queueName models.QueueName, now time.Time) error {
	ids, err := q.client.ZRangeByScore(ctx, scheduleKey(queueName), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return fmt.Errorf("scan due jobs: %w", err)
	}
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, scheduleKey(queueName), id).Result()
		if err != nil || removed == 0 {
			continue // another promoter already claimed this job
		}
		if err := q.client.RPush(ctx, readyKey(queueName), id).Err(); err != nil {
			logging.Error(ctx, "failed to push promoted job onto ready list", zap.String("job_id", id), zap.Error(err))
		}
	}
	return nil
}

// dequeuePollInterval bounds how long Dequeue blocks waiting for a ready
// job before returning (nil, nil) so callers can recheck ctx.Done().
const dequeuePollInterval = 300 * time.Millisecond

func (q *RedisQueue) Dequeue(ctx context.Context, queueName models.QueueName) (*models.Job, error) {
	res, err := q.client.BLPop(ctx, dequeuePollInterval, readyKey(queueName)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue from %s: %w", queueName, err)
	}
	jobID := res[1]

	isCancelled, err := q.client.SIsMember(ctx, cancelledKey(queueName), jobID).Result()
	if err == nil && isCancelled {
		q.client.HDel(ctx, dataKey(queueName), jobID)
		return nil, nil
	}

	raw, err := q.client.HGet(ctx, dataKey(queueName), jobID).Result()
	if err == redis.Nil {
		return nil, nil // data expired/evicted between ready-push and pop
	}
	if err != nil {
		return nil, fmt.Errorf("load job data for %s: %w", jobID, err)
	}

	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

func (q *RedisQueue) Ack(ctx context.Context, queueName models.QueueName, jobID string) error {
	return q.client.HDel(ctx, dataKey(queueName), jobID).Err()
}

// Nack re-schedules job with exponential backoff if attempts remain,
// otherwise drops it and records a dropped outcome.
func (q *RedisQueue) Nack(ctx context.Context, queueName models.QueueName, job *models.Job, cause error) error {
	job.AttemptsRemaining--
	if job.AttemptsRemaining <= 0 {
		logging.Error(ctx, "job exhausted retries, dropping",
			zap.String("job_id", job.ID), zap.String("queue", string(queueName)), zap.Error(cause))
		metrics.JobsProcessed.WithLabelValues(string(queueName), "dropped").Inc()
		return q.client.HDel(ctx, dataKey(queueName), job.ID).Err()
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	attempt := maxAttempts - job.AttemptsRemaining
	backoff := job.BaseBackoff
	if backoff <= 0 {
		backoff = DefaultBaseBackoff
	}
	for i := 0; i < attempt; i++ {
		backoff *= 2
	}
	job.NotBefore = time.Now().Add(backoff)

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job on retry: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, dataKey(queueName), job.ID, raw)
	pipe.ZAdd(ctx, scheduleKey(queueName), redis.Z{Score: float64(job.NotBefore.Unix()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("reschedule job %s: %w", job.ID, err)
	}
	metrics.JobsProcessed.WithLabelValues(string(queueName), "retried").Inc()
	return nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
