package minutes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetgrid/backend/internal/v1/models"
	"github.com/meetgrid/backend/internal/v1/queue"
	"github.com/meetgrid/backend/internal/v1/repository"
)

type fakeLLM struct {
	text   string
	tokens int
	err    error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, int, error) {
	return f.text, f.tokens, f.err
}

// seededUserIDs are stable across tests so seedMeeting's Participants and
// seedUsers' accounts refer to the same two attendees.
var seededUserIDs = [2]string{
	"11111111-1111-1111-1111-111111111111",
	"22222222-2222-2222-2222-222222222222",
}

func seedMeeting(t *testing.T, meetings repository.MeetingRepository) {
	t.Helper()
	m := &models.Meeting{
		MeetingID:  "ABC-DEF-GHI",
		Title:      "Weekly Sync",
		HostUserID: seededUserIDs[0],
		Status:     models.MeetingEnded,
		Settings:   models.DefaultSettings(),
		Participants: models.ParticipantList{
			{UserID: seededUserIDs[0], Role: models.RoleHost, Status: models.ParticipantLeft},
			{UserID: seededUserIDs[1], Role: models.RoleParticipant, Status: models.ParticipantLeft},
		},
		Transcripts: models.TranscriptList{
			{SpeakerID: seededUserIDs[0], SpeakerName: "Host", Text: "Let's discuss the roadmap.", StartTime: time.Now()},
		},
	}
	require.NoError(t, meetings.Insert(context.Background(), m))
}

// seedUsers populates a user repository with accounts for seedMeeting's two
// participants, so buildAttendees can resolve their name/email.
func seedUsers(t *testing.T, users repository.UserRepository) {
	t.Helper()
	accounts := []struct {
		id       string
		username string
		email    string
		name     string
	}{
		{seededUserIDs[0], "host", "host@example.com", "Host User"},
		{seededUserIDs[1], "participant", "participant@example.com", "Participant Two"},
	}
	for _, a := range accounts {
		require.NoError(t, users.Insert(context.Background(), &models.User{
			ID:       uuid.MustParse(a.id),
			Username: a.username,
			Email:    a.email,
			Profile:  models.Profile{DisplayName: a.name},
		}))
	}
}

func TestGenerate_Success(t *testing.T) {
	ctx := context.Background()
	meetings := repository.NewInMemoryMeetingRepository()
	minutesRepo := repository.NewInMemoryMinutesRepository()
	users := repository.NewInMemoryUserRepository()
	seedMeeting(t, meetings)
	seedUsers(t, users)

	llm := &fakeLLM{text: "```json\n" + `{
		"summary": "Discussed the roadmap.",
		"agenda": ["Roadmap review"],
		"discussionPoints": ["Q3 priorities"],
		"decisions": ["Ship v2 by September"],
		"actionItems": [{"description": "Draft RFC", "owner": "host-1", "priority": "high", "deadline": "2026-08-01"}],
		"highlights": [],
		"questionsRaised": [],
		"followUps": [{"description": "Follow up with design", "owner": "user-2"}]
	}` + "\n```", tokens: 512}
	q := queue.NewFallback()

	p := New(meetings, minutesRepo, users, llm, q, "gemini-2.0-flash")
	record, err := p.Generate(ctx, "ABC-DEF-GHI", seededUserIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.MinutesCompleted, record.Status)
	assert.Equal(t, "Discussed the roadmap.", record.Summary)
	require.Len(t, record.ActionItems, 1)
	assert.Equal(t, models.PriorityHigh, record.ActionItems[0].Priority)
	assert.Equal(t, models.ActionItemPending, record.ActionItems[0].Status)
	require.NotNil(t, record.ActionItems[0].Deadline)
	assert.Equal(t, "gemini-2.0-flash", record.AIProcessing.Model)
	assert.Equal(t, 512, record.AIProcessing.TokensUsed)
	assert.Equal(t, 0.85, record.AIProcessing.Confidence)

	require.Len(t, record.Attendees, 2)
	assert.Equal(t, "host@example.com", record.Attendees[0].Email)
	assert.Equal(t, "participant@example.com", record.Attendees[1].Email)
}

func TestGenerate_ForbiddenForNonHost(t *testing.T) {
	ctx := context.Background()
	meetings := repository.NewInMemoryMeetingRepository()
	minutesRepo := repository.NewInMemoryMinutesRepository()
	users := repository.NewInMemoryUserRepository()
	seedMeeting(t, meetings)
	seedUsers(t, users)

	p := New(meetings, minutesRepo, users, &fakeLLM{}, queue.NewFallback(), "gemini-2.0-flash")
	_, err := p.Generate(ctx, "ABC-DEF-GHI", seededUserIDs[1])
	require.Error(t, err)
}

func TestGenerate_AlreadyCompleted(t *testing.T) {
	ctx := context.Background()
	meetings := repository.NewInMemoryMeetingRepository()
	minutesRepo := repository.NewInMemoryMinutesRepository()
	users := repository.NewInMemoryUserRepository()
	seedMeeting(t, meetings)
	seedUsers(t, users)
	require.NoError(t, minutesRepo.Upsert(ctx, &models.MeetingMinutes{MeetingID: "ABC-DEF-GHI", Status: models.MinutesCompleted}))

	p := New(meetings, minutesRepo, users, &fakeLLM{}, queue.NewFallback(), "gemini-2.0-flash")
	_, err := p.Generate(ctx, "ABC-DEF-GHI", seededUserIDs[0])
	require.Error(t, err)
}

func TestGenerate_LLMFailureMarksFailedWithoutError(t *testing.T) {
	ctx := context.Background()
	meetings := repository.NewInMemoryMeetingRepository()
	minutesRepo := repository.NewInMemoryMinutesRepository()
	users := repository.NewInMemoryUserRepository()
	seedMeeting(t, meetings)
	seedUsers(t, users)

	p := New(meetings, minutesRepo, users, &fakeLLM{err: errors.New("upstream unavailable")}, queue.NewFallback(), "gemini-2.0-flash")
	record, err := p.Generate(ctx, "ABC-DEF-GHI", seededUserIDs[0])
	require.NoError(t, err, "LLM failures must not bubble up to the caller")
	assert.Equal(t, models.MinutesFailed, record.Status)
	assert.NotEmpty(t, record.Error)
}

func TestGenerate_UnparsableResponseMarksFailed(t *testing.T) {
	ctx := context.Background()
	meetings := repository.NewInMemoryMeetingRepository()
	minutesRepo := repository.NewInMemoryMinutesRepository()
	users := repository.NewInMemoryUserRepository()
	seedMeeting(t, meetings)
	seedUsers(t, users)

	p := New(meetings, minutesRepo, users, &fakeLLM{text: "not json at all"}, queue.NewFallback(), "gemini-2.0-flash")
	record, err := p.Generate(ctx, "ABC-DEF-GHI", seededUserIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.MinutesFailed, record.Status)
}

func TestStripMarkdownFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripMarkdownFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripMarkdownFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripMarkdownFences(`{"a":1}`))
}

func TestNormalizePriority_DefaultsToMedium(t *testing.T) {
	assert.Equal(t, models.PriorityMedium, normalizePriority(""))
	assert.Equal(t, models.PriorityMedium, normalizePriority("urgent"))
	assert.Equal(t, models.PriorityLow, normalizePriority("Low"))
}
