package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetgrid/backend/internal/v1/models"
)

func TestFallback_EnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := NewFallback()

	id, err := q.Enqueue(ctx, models.QueueEmail, models.EmailJobPayload{Recipient: "a@b.com"}, time.Now(), EnqueueOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := q.Dequeue(ctx, models.QueueEmail)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)

	require.NoError(t, q.Ack(ctx, models.QueueEmail, job.ID))
}

func TestFallback_RespectsNotBefore(t *testing.T) {
	ctx := context.Background()
	q := NewFallback()

	_, err := q.Enqueue(ctx, models.QueueReminder, models.ReminderJobPayload{MeetingID: "m1"}, time.Now().Add(200*time.Millisecond), EnqueueOptions{})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, models.QueueReminder)
	require.NoError(t, err)
	assert.Nil(t, job, "job should not be ready yet")

	time.Sleep(250 * time.Millisecond)
	job, err = q.Dequeue(ctx, models.QueueReminder)
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestFallback_Cancel(t *testing.T) {
	ctx := context.Background()
	q := NewFallback()

	id, err := q.Enqueue(ctx, models.QueueReminder, models.ReminderJobPayload{MeetingID: "m1"}, time.Now(), EnqueueOptions{JobID: "reminder-m1-30"})
	require.NoError(t, err)

	require.NoError(t, q.Cancel(ctx, models.QueueReminder, id))

	job, err := q.Dequeue(ctx, models.QueueReminder)
	require.NoError(t, err)
	assert.Nil(t, job, "cancelled job must not be delivered")
}

func TestFallback_DeterministicIDIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q := NewFallback()

	id1, err := q.Enqueue(ctx, models.QueueReminder, models.ReminderJobPayload{MeetingID: "m1"}, time.Now(), EnqueueOptions{JobID: "reminder-m1-30"})
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, models.QueueReminder, models.ReminderJobPayload{MeetingID: "m1"}, time.Now(), EnqueueOptions{JobID: "reminder-m1-30"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	job, err := q.Dequeue(ctx, models.QueueReminder)
	require.NoError(t, err)
	require.NotNil(t, job)

	job2, err := q.Dequeue(ctx, models.QueueReminder)
	require.NoError(t, err)
	assert.Nil(t, job2, "duplicate enqueue must not produce a second job")
}

func TestFallback_NackRetriesThenDrops(t *testing.T) {
	ctx := context.Background()
	q := NewFallback()

	_, err := q.Enqueue(ctx, models.QueueEmail, models.EmailJobPayload{Recipient: "a@b.com"}, time.Now(), EnqueueOptions{MaxAttempts: 2})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, models.QueueEmail)
	require.NoError(t, err)
	require.NotNil(t, job)
	job.BaseBackoff = time.Millisecond

	require.NoError(t, q.Nack(ctx, models.QueueEmail, job, errors.New("smtp down")))
	assert.Equal(t, 1, job.AttemptsRemaining)

	time.Sleep(20 * time.Millisecond)
	retried, err := q.Dequeue(ctx, models.QueueEmail)
	require.NoError(t, err)
	require.NotNil(t, retried)

	require.NoError(t, q.Nack(ctx, models.QueueEmail, retried, errors.New("smtp down again")))
	assert.Equal(t, 0, retried.AttemptsRemaining)

	time.Sleep(20 * time.Millisecond)
	dropped, err := q.Dequeue(ctx, models.QueueEmail)
	require.NoError(t, err)
	assert.Nil(t, dropped, "job with no attempts remaining must be dropped, not redelivered")
}
