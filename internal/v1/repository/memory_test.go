package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetgrid/backend/internal/v1/apperror"
	"github.com/meetgrid/backend/internal/v1/models"
)

func newTestMeeting(publicID, host string) *models.Meeting {
	return &models.Meeting{
		MeetingID:  publicID,
		Title:      "Weekly Sync",
		HostUserID: host,
		Status:     models.MeetingScheduled,
		Settings:   models.DefaultSettings(),
	}
}

func TestInMemoryMeetingRepository_InsertAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryMeetingRepository()

	m := newTestMeeting("ABC-DEF-GHI", "host-1")
	require.NoError(t, repo.Insert(ctx, m))

	found, err := repo.FindByPublicID(ctx, "ABC-DEF-GHI")
	require.NoError(t, err)
	assert.Equal(t, "Weekly Sync", found.Title)

	_, err = repo.FindByID(ctx, found.ID)
	require.NoError(t, err)
}

func TestInMemoryMeetingRepository_InsertDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryMeetingRepository()

	require.NoError(t, repo.Insert(ctx, newTestMeeting("ABC-DEF-GHI", "host-1")))
	err := repo.Insert(ctx, newTestMeeting("ABC-DEF-GHI", "host-2"))
	require.Error(t, err)
	assert.Equal(t, apperror.CodeConflict, apperror.CodeOf(err))
}

func TestInMemoryMeetingRepository_FindMissing(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryMeetingRepository()

	_, err := repo.FindByPublicID(ctx, "XXX-XXX-XXX")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeNotFound, apperror.CodeOf(err))
}

func TestInMemoryMeetingRepository_UpdateAtomic(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryMeetingRepository()
	require.NoError(t, repo.Insert(ctx, newTestMeeting("ABC-DEF-GHI", "host-1")))

	updated, err := repo.UpdateAtomic(ctx, "ABC-DEF-GHI", func(m *models.Meeting) error {
		m.Status = models.MeetingOngoing
		m.Participants = append(m.Participants, models.Participant{
			UserID: "host-1",
			Role:   models.RoleHost,
			Status: models.ParticipantJoined,
		})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.MeetingOngoing, updated.Status)
	assert.Len(t, updated.Participants, 1)

	persisted, err := repo.FindByPublicID(ctx, "ABC-DEF-GHI")
	require.NoError(t, err)
	assert.Equal(t, models.MeetingOngoing, persisted.Status)
	assert.Len(t, persisted.Participants, 1)
}

func TestInMemoryMeetingRepository_UpdateAtomicSerializesConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryMeetingRepository()
	require.NoError(t, repo.Insert(ctx, newTestMeeting("ABC-DEF-GHI", "host-1")))

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := repo.UpdateAtomic(ctx, "ABC-DEF-GHI", func(m *models.Meeting) error {
				m.Statistics.ChatMessages++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final, err := repo.FindByPublicID(ctx, "ABC-DEF-GHI")
	require.NoError(t, err)
	assert.Equal(t, n, final.Statistics.ChatMessages)
}

func TestInMemoryMeetingRepository_PushChat(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryMeetingRepository()
	require.NoError(t, repo.Insert(ctx, newTestMeeting("ABC-DEF-GHI", "host-1")))

	msg := models.ChatMessage{ID: "msg-1", Message: "hello", Type: models.ChatText}
	require.NoError(t, repo.PushChat(ctx, "ABC-DEF-GHI", msg))

	found, err := repo.FindByPublicID(ctx, "ABC-DEF-GHI")
	require.NoError(t, err)
	require.Len(t, found.Chat, 1)
	assert.Equal(t, "hello", found.Chat[0].Message)
	assert.Equal(t, 1, found.Statistics.ChatMessages)
}

func TestInMemoryUserRepository_InsertAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryUserRepository()

	u := &models.User{Username: "alice", Email: "alice@example.com"}
	require.NoError(t, repo.Insert(ctx, u))

	byEmail, err := repo.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", byEmail.Username)

	byUsername, err := repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byUsername.ID)

	_, err = repo.FindByEmail(ctx, "nobody@example.com")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeNotFound, apperror.CodeOf(err))
}

func TestInMemoryUserRepository_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryUserRepository()
	require.NoError(t, repo.Insert(ctx, &models.User{Username: "alice", Email: "alice@example.com"}))

	err := repo.Insert(ctx, &models.User{Username: "alice2", Email: "alice@example.com"})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeConflict, apperror.CodeOf(err))
}

func TestInMemoryMinutesRepository_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryMinutesRepository()

	m := &models.MeetingMinutes{MeetingID: "ABC-DEF-GHI", Status: models.MinutesProcessing}
	require.NoError(t, repo.Upsert(ctx, m))

	m2 := &models.MeetingMinutes{MeetingID: "ABC-DEF-GHI", Status: models.MinutesCompleted, Summary: "done"}
	require.NoError(t, repo.Upsert(ctx, m2))

	found, err := repo.FindByMeetingID(ctx, "ABC-DEF-GHI")
	require.NoError(t, err)
	assert.Equal(t, models.MinutesCompleted, found.Status)
	assert.Equal(t, "done", found.Summary)
}
