// Package scheduler schedules and cancels meeting reminder jobs. It is a
// thin wrapper over internal/v1/queue: all durability and retry behavior
// lives in the queue, this package only knows the reminder intervals and
// deterministic ID scheme.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/meetgrid/backend/internal/v1/models"
	"github.com/meetgrid/backend/internal/v1/queue"
)

// ReminderIntervals are the minutes-before-start offsets at which a
// reminder email is enqueued for a scheduled meeting.
var ReminderIntervals = []int{60, 30, 15, 5}

// Scheduler manages the reminder jobs for scheduled meetings.
type Scheduler struct {
	q queue.Queue
}

// New constructs a Scheduler backed by q.
func New(q queue.Queue) *Scheduler {
	return &Scheduler{q: q}
}

// ReminderJobID returns the deterministic job ID for one meeting/interval
// pair, so re-scheduling is idempotent and CancelReminders can address the
// exact set of jobs a ScheduleReminders call created.
func ReminderJobID(meetingID string, minutesBefore int) string {
	return fmt.Sprintf("reminder-%s-%d", meetingID, minutesBefore)
}

// ScheduleReminders enqueues one reminder job per interval in
// ReminderIntervals, timed to fire at scheduledFor minus that interval.
// Intervals that have already passed (e.g. scheduling a meeting 10 minutes
// out only gets the 5-minute reminder) are silently skipped.
func (s *Scheduler) ScheduleReminders(ctx context.Context, meetingID, userID string, scheduledFor time.Time) error {
	now := time.Now()
	for _, minutes := range ReminderIntervals {
		fireAt := scheduledFor.Add(-time.Duration(minutes) * time.Minute)
		if fireAt.Before(now) {
			continue
		}

		payload := models.ReminderJobPayload{
			MeetingID: meetingID,
			UserID:    userID,
			TimeLabel: reminderLabel(minutes),
		}
		_, err := s.q.Enqueue(ctx, models.QueueReminder, payload, fireAt, queue.EnqueueOptions{
			JobID: ReminderJobID(meetingID, minutes),
		})
		if err != nil {
			return fmt.Errorf("schedule %d-minute reminder for meeting %s: %w", minutes, meetingID, err)
		}
	}
	return nil
}

// CancelReminders cancels every reminder job for meetingID — used when a
// scheduled meeting is rescheduled or cancelled.
func (s *Scheduler) CancelReminders(ctx context.Context, meetingID string) error {
	for _, minutes := range ReminderIntervals {
		id := ReminderJobID(meetingID, minutes)
		if err := s.q.Cancel(ctx, models.QueueReminder, id); err != nil {
			return fmt.Errorf("cancel reminder job %s: %w", id, err)
		}
	}
	return nil
}

func reminderLabel(minutes int) string {
	if minutes >= 60 {
		return fmt.Sprintf("%d hour", minutes/60)
	}
	return fmt.Sprintf("%d minutes", minutes)
}
