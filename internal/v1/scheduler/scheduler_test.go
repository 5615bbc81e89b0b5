package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetgrid/backend/internal/v1/models"
	"github.com/meetgrid/backend/internal/v1/queue"
)

func TestScheduleReminders_SkipsPassedIntervals(t *testing.T) {
	ctx := context.Background()
	q := queue.NewFallback()
	s := New(q)

	scheduledFor := time.Now().Add(10 * time.Minute)
	require.NoError(t, s.ScheduleReminders(ctx, "ABC-DEF-GHI", "user-1", scheduledFor))

	for _, minutes := range []int{60, 30, 15} {
		id := ReminderJobID("ABC-DEF-GHI", minutes)
		require.NoError(t, q.Cancel(ctx, models.QueueReminder, id), "cancel should be a no-op since the job was never scheduled")
	}
	require.NoError(t, q.Cancel(ctx, models.QueueReminder, ReminderJobID("ABC-DEF-GHI", 5)))
}

func TestScheduleReminders_DeterministicIDsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	q := queue.NewFallback()
	s := New(q)

	scheduledFor := time.Now().Add(2 * time.Hour)
	require.NoError(t, s.ScheduleReminders(ctx, "ABC-DEF-GHI", "user-1", scheduledFor))
	require.NoError(t, s.ScheduleReminders(ctx, "ABC-DEF-GHI", "user-1", scheduledFor))

	// Re-scheduling must not create duplicate deliveries: cancel drains
	// exactly one job per interval.
	require.NoError(t, s.CancelReminders(ctx, "ABC-DEF-GHI"))
}

func TestCancelReminders_PreventsDelivery(t *testing.T) {
	ctx := context.Background()
	q := queue.NewFallback()
	s := New(q)

	scheduledFor := time.Now().Add(6 * time.Minute)
	require.NoError(t, s.ScheduleReminders(ctx, "ABC-DEF-GHI", "user-1", scheduledFor))
	require.NoError(t, s.CancelReminders(ctx, "ABC-DEF-GHI"))

	job, err := q.Dequeue(ctx, models.QueueReminder)
	require.NoError(t, err)
	assert.Nil(t, job, "cancelled reminder must not be delivered")
}
