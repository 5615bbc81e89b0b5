// Package minutes implements the Minutes Pipeline: it turns a meeting's
// transcript into structured minutes via an LLM call, normalizes the
// result, persists it, and fans out one delivery email per attendee.
package minutes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meetgrid/backend/internal/v1/apperror"
	"github.com/meetgrid/backend/internal/v1/email"
	"github.com/meetgrid/backend/internal/v1/logging"
	"github.com/meetgrid/backend/internal/v1/metrics"
	"github.com/meetgrid/backend/internal/v1/models"
	"github.com/meetgrid/backend/internal/v1/queue"
	"github.com/meetgrid/backend/internal/v1/repository"
)

// LLMClient is the boundary to the generation backend, satisfied by
// GeminiClient in production and a fake in tests.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (text string, tokensUsed int, err error)
}

// Pipeline orchestrates minutes generation for one meeting at a time.
type Pipeline struct {
	meetings repository.MeetingRepository
	minutes  repository.MinutesRepository
	users    repository.UserRepository
	llm      LLMClient
	q        queue.Queue
	model    string
}

// New constructs a Pipeline.
func New(meetings repository.MeetingRepository, minutesRepo repository.MinutesRepository, users repository.UserRepository, llm LLMClient, q queue.Queue, model string) *Pipeline {
	return &Pipeline{meetings: meetings, minutes: minutesRepo, users: users, llm: llm, q: q, model: model}
}

// generatedFields is the JSON shape the LLM is asked to return.
type generatedFields struct {
	Summary          string           `json:"summary"`
	Agenda           []string         `json:"agenda"`
	DiscussionPoints []string         `json:"discussionPoints"`
	Decisions        []string         `json:"decisions"`
	ActionItems      []rawActionItem  `json:"actionItems"`
	Highlights       []string         `json:"highlights"`
	QuestionsRaised  []string         `json:"questionsRaised"`
	FollowUps        []rawFollowUp    `json:"followUps"`
}

type rawActionItem struct {
	Description string `json:"description"`
	Owner       string `json:"owner"`
	Priority    string `json:"priority"`
	Deadline    string `json:"deadline"`
}

type rawFollowUp struct {
	Description string `json:"description"`
	Owner       string `json:"owner"`
	Deadline    string `json:"deadline"`
}

// Generate runs the full pipeline for meetingID: builds the prompt from the
// meeting's transcript and attendee list, calls the LLM, normalizes and
// persists the result, and enqueues one delivery email per attendee with an
// address. Host-only; fails Conflict if completed minutes exist.
func (p *Pipeline) Generate(ctx context.Context, meetingID, requestedByUserID string) (*models.MeetingMinutes, error) {
	meeting, err := p.meetings.FindByPublicID(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if !meeting.IsHost(requestedByUserID) {
		return nil, apperror.Forbidden("only the host can generate meeting minutes")
	}

	if existing, err := p.minutes.FindByMeetingID(ctx, meetingID); err == nil && existing.Status == models.MinutesCompleted {
		return nil, apperror.Conflict("minutes for meeting %s already exist", meetingID)
	}

	attendees := p.buildAttendees(ctx, meeting)
	record := &models.MeetingMinutes{
		MeetingID:       meetingID,
		Title:           meeting.Title,
		Date:            meeting.CreatedAt,
		DurationMinutes: meeting.DurationMinutes,
		Attendees:       attendees,
		Transcripts:     meeting.Transcripts,
		Status:          models.MinutesProcessing,
	}
	if meeting.ScheduledFor != nil {
		record.StartTime = *meeting.ScheduledFor
	}
	if err := p.minutes.Upsert(ctx, record); err != nil {
		return nil, err
	}

	prompt := buildPrompt(meeting.Title, record.Date, meeting.DurationMinutes, attendees, meeting.Transcripts)

	start := time.Now()
	text, tokens, err := p.llm.Generate(ctx, prompt)
	metrics.MinutesGenerationDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		logging.Error(ctx, "minutes LLM call failed", zap.String("meeting_id", meetingID), zap.Error(err))
		record.Status = models.MinutesFailed
		record.Error = err.Error()
		metrics.MinutesGenerated.WithLabelValues("llm_error").Inc()
		_ = p.minutes.Upsert(ctx, record)
		p.enqueueDeliveryEmails(ctx, record)
		return record, nil
	}

	fields, parseErr := parseGenerated(text)
	if parseErr != nil {
		logging.Error(ctx, "minutes response parse failed", zap.String("meeting_id", meetingID), zap.Error(parseErr))
		record.Status = models.MinutesFailed
		record.Error = parseErr.Error()
		metrics.MinutesGenerated.WithLabelValues("parse_error").Inc()
		_ = p.minutes.Upsert(ctx, record)
		p.enqueueDeliveryEmails(ctx, record)
		return record, nil
	}

	applyGenerated(record, fields)
	record.AIProcessing = models.AIProcessing{
		Model:       p.model,
		ProcessedAt: time.Now(),
		TokensUsed:  tokens,
		Confidence:  0.85,
	}
	record.Status = models.MinutesCompleted
	record.Error = ""

	if err := p.minutes.Upsert(ctx, record); err != nil {
		return nil, err
	}
	metrics.MinutesGenerated.WithLabelValues("completed").Inc()

	p.enqueueDeliveryEmails(ctx, record)
	return record, nil
}

func (p *Pipeline) enqueueDeliveryEmails(ctx context.Context, record *models.MeetingMinutes) {
	for _, attendee := range record.Attendees {
		if attendee.Email == "" {
			continue
		}
		payload := models.EmailJobPayload{
			Type:      models.EmailMeetingMinutes,
			MeetingID: record.MeetingID,
			Recipient: attendee.Email,
		}
		if _, err := p.q.Enqueue(ctx, models.QueueEmail, payload, time.Now(), queue.EnqueueOptions{}); err != nil {
			logging.Error(ctx, "failed to enqueue minutes delivery email",
				zap.String("meeting_id", record.MeetingID), zap.String("recipient", attendee.Email), zap.Error(err))
		}
	}
}

// buildAttendees resolves each joined-or-left participant's display name and
// email from the user repository, the same lookup the reminder worker uses,
// so enqueueDeliveryEmails has an address to send each attendee's minutes to.
func (p *Pipeline) buildAttendees(ctx context.Context, meeting *models.Meeting) models.AttendeeList {
	var out models.AttendeeList
	for _, participant := range meeting.Participants {
		if participant.Status != models.ParticipantJoined && participant.Status != models.ParticipantLeft {
			continue
		}

		attendee := models.Attendee{Name: participant.UserID, Role: string(participant.Role)}
		if id, err := uuid.Parse(participant.UserID); err == nil {
			if user, err := p.users.FindByID(ctx, id); err == nil {
				attendee.Name = user.Profile.DisplayName
				attendee.Email = user.Email
			}
		}
		out = append(out, attendee)
	}
	return out
}

func buildPrompt(title string, date time.Time, durationMinutes int, attendees models.AttendeeList, transcripts models.TranscriptList) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate structured meeting minutes as a single JSON object.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", title)
	fmt.Fprintf(&b, "Date: %s\n", date.Format("2006-01-02"))
	fmt.Fprintf(&b, "Duration: %d minutes\n\n", durationMinutes)

	b.WriteString("Attendees (name | email | role):\n")
	for _, a := range attendees {
		fmt.Fprintf(&b, "%s | %s | %s\n", a.Name, a.Email, a.Role)
	}

	b.WriteString("\nTranscript:\n")
	for _, seg := range transcripts {
		fmt.Fprintf(&b, "[%s] (%s): %s\n", seg.SpeakerName, seg.StartTime.Format("15:04:05"), seg.Text)
	}

	b.WriteString("\nRespond with a JSON object with exactly these keys: ")
	b.WriteString("summary, agenda, discussionPoints, decisions, actionItems, highlights, questionsRaised, followUps.")
	return b.String()
}

// parseGenerated strips common Markdown code fences before decoding, since
// LLM backends routinely wrap JSON responses in ```json ... ``` blocks.
func parseGenerated(text string) (*generatedFields, error) {
	trimmed := stripMarkdownFences(text)
	var fields generatedFields
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w", err)
	}
	return &fields, nil
}

func stripMarkdownFences(text string) string {
	t := strings.TrimSpace(text)
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

func applyGenerated(record *models.MeetingMinutes, fields *generatedFields) {
	record.Summary = fields.Summary
	record.Agenda = fields.Agenda
	record.DiscussionPoints = fields.DiscussionPoints
	record.Decisions = fields.Decisions
	record.Highlights = fields.Highlights
	record.QuestionsRaised = fields.QuestionsRaised

	record.ActionItems = make(models.ActionItemList, 0, len(fields.ActionItems))
	for _, raw := range fields.ActionItems {
		item := models.ActionItem{
			Description: raw.Description,
			Owner:       raw.Owner,
			Priority:    normalizePriority(raw.Priority),
			Status:      models.ActionItemPending,
			Deadline:    parseDeadline(raw.Deadline),
		}
		record.ActionItems = append(record.ActionItems, item)
	}

	record.FollowUps = make(models.FollowUpList, 0, len(fields.FollowUps))
	for _, raw := range fields.FollowUps {
		record.FollowUps = append(record.FollowUps, models.FollowUp{
			Description: raw.Description,
			Owner:       raw.Owner,
			Deadline:    parseDeadline(raw.Deadline),
		})
	}
}

func normalizePriority(p string) models.ActionItemPriority {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "low":
		return models.PriorityLow
	case "high":
		return models.PriorityHigh
	default:
		return models.PriorityMedium
	}
}

func parseDeadline(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// PersistEmailResult records one recipient's delivery outcome into the
// minutes' emailDelivery.recipients list, used by the email queue worker
// after it calls the email.Dispatcher.
func PersistEmailResult(ctx context.Context, minutesRepo repository.MinutesRepository, meetingID string, result email.RecipientResult) error {
	record, err := minutesRepo.FindByMeetingID(ctx, meetingID)
	if err != nil {
		return err
	}
	found := false
	for i := range record.EmailDelivery.Recipients {
		if record.EmailDelivery.Recipients[i].Email == result.Email {
			record.EmailDelivery.Recipients[i].Status = result.Status
			record.EmailDelivery.Recipients[i].SentAt = result.SentAt
			record.EmailDelivery.Recipients[i].Error = result.Error
			found = true
			break
		}
	}
	if !found {
		record.EmailDelivery.Recipients = append(record.EmailDelivery.Recipients, models.RecipientDelivery{
			Email:  result.Email,
			Status: result.Status,
			SentAt: result.SentAt,
			Error:  result.Error,
		})
	}

	allSent := len(record.EmailDelivery.Recipients) > 0
	for _, r := range record.EmailDelivery.Recipients {
		if r.Status != models.DeliverySent {
			allSent = false
			break
		}
	}
	if allSent {
		record.EmailDelivery.Sent = true
		now := time.Now()
		record.EmailDelivery.SentAt = &now
	}

	return minutesRepo.Upsert(ctx, record)
}
