package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetgrid/backend/internal/v1/models"
)

func newTestRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	q, err := NewRedisQueue(mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestRedisQueue_EnqueuePromoteDequeueAck(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestRedisQueue(t)

	id, err := q.Enqueue(ctx, models.QueueEmail, models.EmailJobPayload{Recipient: "a@b.com"}, time.Now().Add(-time.Second), EnqueueOptions{})
	require.NoError(t, err)

	require.NoError(t, q.PromoteDue(ctx, models.QueueEmail, time.Now()))

	job, err := q.Dequeue(ctx, models.QueueEmail)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)

	require.NoError(t, q.Ack(ctx, models.QueueEmail, job.ID))
}

func TestRedisQueue_NotYetDueIsNotPromoted(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestRedisQueue(t)

	_, err := q.Enqueue(ctx, models.QueueReminder, models.ReminderJobPayload{MeetingID: "m1"}, time.Now().Add(time.Hour), EnqueueOptions{})
	require.NoError(t, err)

	require.NoError(t, q.PromoteDue(ctx, models.QueueReminder, time.Now()))

	job, err := q.Dequeue(ctx, models.QueueReminder)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRedisQueue_DeterministicIDIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestRedisQueue(t)

	id1, err := q.Enqueue(ctx, models.QueueReminder, models.ReminderJobPayload{MeetingID: "m1"}, time.Now(), EnqueueOptions{JobID: "reminder-m1-30"})
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, models.QueueReminder, models.ReminderJobPayload{MeetingID: "m1"}, time.Now(), EnqueueOptions{JobID: "reminder-m1-30"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestRedisQueue_CancelPreventsDelivery(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestRedisQueue(t)

	id, err := q.Enqueue(ctx, models.QueueReminder, models.ReminderJobPayload{MeetingID: "m1"}, time.Now().Add(-time.Second), EnqueueOptions{JobID: "reminder-m1-15"})
	require.NoError(t, err)

	require.NoError(t, q.Cancel(ctx, models.QueueReminder, id))
	require.NoError(t, q.PromoteDue(ctx, models.QueueReminder, time.Now()))

	job, err := q.Dequeue(ctx, models.QueueReminder)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRedisQueue_NackRetriesThenDrops(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestRedisQueue(t)

	_, err := q.Enqueue(ctx, models.QueueEmail, models.EmailJobPayload{Recipient: "a@b.com"}, time.Now().Add(-time.Second), EnqueueOptions{MaxAttempts: 1})
	require.NoError(t, err)
	require.NoError(t, q.PromoteDue(ctx, models.QueueEmail, time.Now()))

	job, err := q.Dequeue(ctx, models.QueueEmail)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, q.Nack(ctx, models.QueueEmail, job, assertErr("smtp down")))
	assert.Equal(t, 0, job.AttemptsRemaining)

	require.NoError(t, q.PromoteDue(ctx, models.QueueEmail, time.Now()))
	dropped, err := q.Dequeue(ctx, models.QueueEmail)
	require.NoError(t, err)
	assert.Nil(t, dropped)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestRedisQueue_Ping(t *testing.T) {
	q, mr := newTestRedisQueue(t)
	require.NoError(t, q.Ping(context.Background()))
	mr.Close()
	assert.Error(t, q.Ping(context.Background()))
}
