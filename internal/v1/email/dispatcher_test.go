package email

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meetgrid/backend/internal/v1/models"
)

func TestSendReminder_UnreachableSMTPIsTransientFailure(t *testing.T) {
	d := New(Config{Host: "127.0.0.1", Port: 1, From: "noreply@meetgrid.test"})

	result := d.SendReminder(context.Background(), "alice@example.com", ReminderData{
		Title:     "Weekly Sync",
		TimeLabel: "30 minutes",
		MeetingID: "ABC-DEF-GHI",
	})

	assert.Equal(t, models.DeliveryFailed, result.Status)
	assert.False(t, result.Permanent, "connection-refused style failures must be retryable")
}

func TestSendMinutes_RendersTemplate(t *testing.T) {
	d := New(Config{Host: "127.0.0.1", Port: 1, From: "noreply@meetgrid.test"})

	result := d.SendMinutes(context.Background(), "alice@example.com", MinutesData{
		Title:           "Weekly Sync",
		Date:            "2026-07-29",
		DurationMinutes: 30,
		Summary:         "Discussed roadmap.",
		ActionItems: []models.ActionItem{
			{Description: "Ship v2", Owner: "bob", Priority: models.PriorityHigh},
		},
	})

	assert.Equal(t, models.DeliveryFailed, result.Status, "dial should fail since nothing is listening on port 1")
	assert.NotEmpty(t, result.Error)
}

func TestIsPermanentSMTPFailure(t *testing.T) {
	assert.False(t, isPermanentSMTPFailure(nil))
}
