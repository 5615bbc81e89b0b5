// Package meeting implements the Meeting State Machine: createMeeting,
// scheduleMeeting, joinMeeting, leaveMeeting (with host succession),
// endMeeting, cancelMeeting, updateMeetingSettings, and permission
// derivation, all routed through Repository.UpdateAtomic so concurrent
// requests against one meeting never race.
package meeting

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meetgrid/backend/internal/v1/apperror"
	"github.com/meetgrid/backend/internal/v1/logging"
	"github.com/meetgrid/backend/internal/v1/metrics"
	"github.com/meetgrid/backend/internal/v1/models"
	"github.com/meetgrid/backend/internal/v1/repository"
)

// meetingIDAlphabet excludes visually ambiguous characters is deliberately
// NOT done here — the specification fixes the format to [A-Z0-9]{3}-...{3}
// without an exclusion list, so the full alphanumeric range is used.
const meetingIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Service implements the meeting lifecycle operations.
type Service struct {
	repo      repository.MeetingRepository
	users     repository.UserRepository
	scheduler Scheduler
}

// Scheduler is the boundary to internal/v1/scheduler, kept as an interface
// here so the meeting service doesn't import the queue stack directly.
type Scheduler interface {
	ScheduleReminders(ctx context.Context, meetingID, userID string, scheduledFor time.Time) error
	CancelReminders(ctx context.Context, meetingID string) error
}

// New constructs a Service.
func New(repo repository.MeetingRepository, users repository.UserRepository, scheduler Scheduler) *Service {
	return &Service{repo: repo, users: users, scheduler: scheduler}
}

// CreateMeetingParams carries createMeeting's caller-supplied fields.
type CreateMeetingParams struct {
	HostUserID      string
	Title           string
	Description     string
	Password        string
	DurationMinutes int
	Settings        *models.Settings
}

// generateMeetingID mints a public join code with rejection sampling on
// collision, per the specification's "globally unique" requirement.
func (s *Service) generateMeetingID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 20; attempt++ {
		candidate, err := randomMeetingID()
		if err != nil {
			return "", err
		}
		if _, err := s.repo.FindByPublicID(ctx, candidate); err != nil {
			if apperror.CodeOf(err) == apperror.CodeNotFound {
				return candidate, nil
			}
			return "", err
		}
	}
	return "", apperror.Internal("failed to generate a unique meeting id after 20 attempts")
}

func randomMeetingID() (string, error) {
	var groups [3]string
	for g := 0; g < 3; g++ {
		buf := make([]byte, 3)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		chars := make([]byte, 3)
		for i, b := range buf {
			chars[i] = meetingIDAlphabet[int(b)%len(meetingIDAlphabet)]
		}
		groups[g] = string(chars)
	}
	return fmt.Sprintf("%s-%s-%s", groups[0], groups[1], groups[2]), nil
}

// CreateMeeting mints a meeting that starts ongoing-on-first-join: status
// scheduled until someone joins, with the host seeded as joined.
func (s *Service) CreateMeeting(ctx context.Context, params CreateMeetingParams) (*models.Meeting, error) {
	meetingID, err := s.generateMeetingID(ctx)
	if err != nil {
		return nil, err
	}

	settings := models.DefaultSettings()
	if params.Settings != nil {
		settings = *params.Settings
	}

	now := time.Now()
	m := &models.Meeting{
		ID:              uuid.New(),
		MeetingID:       meetingID,
		Title:           params.Title,
		Description:     params.Description,
		HostUserID:      params.HostUserID,
		Password:        params.Password,
		DurationMinutes: params.DurationMinutes,
		Status:          models.MeetingScheduled,
		Settings:        settings,
		Participants: models.ParticipantList{{
			UserID:   params.HostUserID,
			JoinedAt: now,
			Role:     models.RoleHost,
			Status:   models.ParticipantJoined,
			Permissions: models.ParticipantPermissions{
				CanShare: true, CanRecord: true, CanMuteOthers: true, CanRemoveOthers: true,
			},
		}},
		Statistics: models.MeetingStatistics{PeakParticipants: 1, TotalParticipants: 1},
	}

	if err := s.repo.Insert(ctx, m); err != nil {
		return nil, err
	}
	if err := s.bumpUserStats(ctx, params.HostUserID, true); err != nil {
		logging.Error(ctx, "failed to update host statistics on create", zap.Error(err))
	}
	return m, nil
}

// ScheduleMeetingParams carries scheduleMeeting's caller-supplied fields.
type ScheduleMeetingParams struct {
	HostUserID      string
	Title           string
	Description     string
	Password        string
	DurationMinutes int
	ScheduledFor    time.Time
	Settings        *models.Settings
}

// ScheduleMeeting requires scheduledFor strictly in the future and seeds
// the host as invited (not yet joined), then schedules reminder jobs.
func (s *Service) ScheduleMeeting(ctx context.Context, params ScheduleMeetingParams) (*models.Meeting, error) {
	if !params.ScheduledFor.After(time.Now()) {
		return nil, apperror.BadRequest("scheduledFor must be strictly in the future")
	}

	meetingID, err := s.generateMeetingID(ctx)
	if err != nil {
		return nil, err
	}

	settings := models.DefaultSettings()
	if params.Settings != nil {
		settings = *params.Settings
	}

	scheduledFor := params.ScheduledFor
	m := &models.Meeting{
		ID:              uuid.New(),
		MeetingID:       meetingID,
		Title:           params.Title,
		Description:     params.Description,
		HostUserID:      params.HostUserID,
		Password:        params.Password,
		ScheduledFor:    &scheduledFor,
		DurationMinutes: params.DurationMinutes,
		Status:          models.MeetingScheduled,
		Settings:        settings,
		Participants: models.ParticipantList{{
			UserID: params.HostUserID,
			Role:   models.RoleHost,
			Status: models.ParticipantInvited,
		}},
	}

	if err := s.repo.Insert(ctx, m); err != nil {
		return nil, err
	}

	if s.scheduler != nil {
		if err := s.scheduler.ScheduleReminders(ctx, meetingID, params.HostUserID, scheduledFor); err != nil {
			logging.Error(ctx, "failed to schedule reminders", zap.Error(err))
		}
	}
	return m, nil
}

// JoinMeeting implements the full join sequence in spec.md §4.E.
func (s *Service) JoinMeeting(ctx context.Context, meetingID, userID, password string) (*models.Meeting, error) {
	isNewParticipant := false

	updated, err := s.repo.UpdateAtomic(ctx, meetingID, func(m *models.Meeting) error {
		if m.Status == models.MeetingEnded || m.Status == models.MeetingCancelled {
			return apperror.Gone("meeting %s has ended", meetingID)
		}
		if m.Settings.RequirePassword && password != m.Password {
			return apperror.Unauthenticated("incorrect meeting password")
		}
		if len(m.JoinedParticipants()) >= m.Settings.MaxParticipants {
			return apperror.ResourceExhausted("meeting %s is full", meetingID)
		}

		if p := m.FindParticipant(userID); p != nil {
			if p.Status != models.ParticipantJoined {
				p.Status = models.ParticipantJoined
				p.JoinedAt = time.Now()
			}
		} else {
			isNewParticipant = true
			m.Participants = append(m.Participants, models.Participant{
				UserID:   userID,
				JoinedAt: time.Now(),
				Role:     models.RoleParticipant,
				Status:   models.ParticipantJoined,
			})
		}

		if m.Status == models.MeetingScheduled {
			m.Status = models.MeetingOngoing
			metrics.MeetingStateTransitions.WithLabelValues("scheduled", "ongoing").Inc()
		}

		joined := len(m.JoinedParticipants())
		if joined > m.Statistics.PeakParticipants {
			m.Statistics.PeakParticipants = joined
		}
		m.Statistics.TotalParticipants = joined
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Attendance statistics increment exactly once per (user, meeting) pair,
	// on the join that first creates the participant record. Rejoins after
	// leaving reuse the existing record and must not double-count.
	if isNewParticipant {
		if err := s.bumpUserStats(ctx, userID, false); err != nil {
			logging.Error(ctx, "failed to update attendee statistics", zap.Error(err))
		}
	}
	return updated, nil
}

// LeaveMeeting marks userID's participant record left and runs host
// succession if the leaver held the host role.
func (s *Service) LeaveMeeting(ctx context.Context, meetingID, userID string) (*models.Meeting, error) {
	return s.repo.UpdateAtomic(ctx, meetingID, func(m *models.Meeting) error {
		p := m.FindParticipant(userID)
		if p == nil || p.Status != models.ParticipantJoined {
			return apperror.FailedPrecondition("user %s is not an active participant of meeting %s", userID, meetingID)
		}

		wasHost := p.Role == models.RoleHost
		now := time.Now()
		p.Status = models.ParticipantLeft
		p.LeftAt = &now

		m.Statistics.TotalParticipants = len(m.JoinedParticipants())

		if wasHost {
			promoteSuccessor(m)
		}

		if len(m.JoinedParticipants()) == 0 {
			m.Status = models.MeetingEnded
			metrics.MeetingStateTransitions.WithLabelValues("ongoing", "ended").Inc()
			m.Statistics.TotalDuration = int(math.Round(time.Since(durationStart(m)).Seconds() / 60))
		}
		return nil
	})
}

// durationStart anchors a meeting's duration calculation: scheduled meetings
// measure from their scheduled time, but an instant meeting has no
// ScheduledFor, so it falls back to when the meeting record was created.
func durationStart(m *models.Meeting) time.Time {
	if m.ScheduledFor != nil {
		return *m.ScheduledFor
	}
	return m.CreatedAt
}

// promoteSuccessor picks the first co-host, or failing that the first
// participant, in join order, and promotes them to host; the previous host's
// record is demoted to participant.
func promoteSuccessor(m *models.Meeting) {
	var successor *models.Participant
	for i := range m.Participants {
		p := &m.Participants[i]
		if p.Status != models.ParticipantJoined {
			continue
		}
		if p.Role == models.RoleCoHost {
			successor = p
			break
		}
	}
	if successor == nil {
		for i := range m.Participants {
			p := &m.Participants[i]
			if p.Status == models.ParticipantJoined && p.Role == models.RoleParticipant {
				successor = p
				break
			}
		}
	}
	if successor == nil {
		return
	}
	for i := range m.Participants {
		if m.Participants[i].Role == models.RoleHost {
			m.Participants[i].Role = models.RoleParticipant
		}
	}
	successor.Role = models.RoleHost
	m.HostUserID = successor.UserID
}

// EndMeeting is host-only and terminal.
func (s *Service) EndMeeting(ctx context.Context, meetingID, callerUserID string) (*models.Meeting, error) {
	return s.repo.UpdateAtomic(ctx, meetingID, func(m *models.Meeting) error {
		if !m.IsHost(callerUserID) {
			return apperror.Forbidden("only the host can end the meeting")
		}
		if m.Status == models.MeetingEnded || m.Status == models.MeetingCancelled {
			return apperror.FailedPrecondition("meeting %s is already terminal", meetingID)
		}
		m.Status = models.MeetingEnded
		metrics.MeetingStateTransitions.WithLabelValues("ongoing", "ended").Inc()
		m.Statistics.TotalDuration = int(math.Round(time.Since(durationStart(m)).Seconds() / 60))
		return nil
	})
}

// CancelMeeting is host-only and requires the meeting still be scheduled.
func (s *Service) CancelMeeting(ctx context.Context, meetingID, callerUserID string) (*models.Meeting, error) {
	updated, err := s.repo.UpdateAtomic(ctx, meetingID, func(m *models.Meeting) error {
		if !m.IsHost(callerUserID) {
			return apperror.Forbidden("only the host can cancel the meeting")
		}
		if m.Status != models.MeetingScheduled {
			return apperror.FailedPrecondition("only a scheduled meeting can be cancelled")
		}
		m.Status = models.MeetingCancelled
		metrics.MeetingStateTransitions.WithLabelValues("scheduled", "cancelled").Inc()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.scheduler != nil {
		if err := s.scheduler.CancelReminders(ctx, meetingID); err != nil {
			logging.Error(ctx, "failed to cancel reminders", zap.Error(err))
		}
	}
	return updated, nil
}

// UpdateMeetingSettings shallow-merges the supplied partial settings.
func (s *Service) UpdateMeetingSettings(ctx context.Context, meetingID, callerUserID string, partial models.Settings, fields map[string]bool) (*models.Meeting, error) {
	return s.repo.UpdateAtomic(ctx, meetingID, func(m *models.Meeting) error {
		if !m.IsHost(callerUserID) {
			return apperror.Forbidden("only the host can change meeting settings")
		}
		mergeSettings(&m.Settings, partial, fields)
		return nil
	})
}

func mergeSettings(dst *models.Settings, src models.Settings, fields map[string]bool) {
	if fields["allowGuests"] {
		dst.AllowGuests = src.AllowGuests
	}
	if fields["requirePassword"] {
		dst.RequirePassword = src.RequirePassword
	}
	if fields["enableRecording"] {
		dst.EnableRecording = src.EnableRecording
	}
	if fields["enableChat"] {
		dst.EnableChat = src.EnableChat
	}
	if fields["enableScreenShare"] {
		dst.EnableScreenShare = src.EnableScreenShare
	}
	if fields["enableRaiseHand"] {
		dst.EnableRaiseHand = src.EnableRaiseHand
	}
	if fields["enableReactions"] {
		dst.EnableReactions = src.EnableReactions
	}
	if fields["maxParticipants"] {
		dst.MaxParticipants = src.MaxParticipants
	}
	if fields["waitingRoom"] {
		dst.WaitingRoom = src.WaitingRoom
	}
	if fields["muteOnEntry"] {
		dst.MuteOnEntry = src.MuteOnEntry
	}
	if fields["videoOnEntry"] {
		dst.VideoOnEntry = src.VideoOnEntry
	}
}

// GetMeeting fetches a meeting by its public join code.
func (s *Service) GetMeeting(ctx context.Context, meetingID string) (*models.Meeting, error) {
	return s.repo.FindByPublicID(ctx, meetingID)
}

// ListMeetingsForUser returns every meeting userID hosts or has joined.
func (s *Service) ListMeetingsForUser(ctx context.Context, userID string) ([]*models.Meeting, error) {
	return s.repo.ListForUser(ctx, userID)
}

// AppendTranscripts appends newly-captured transcript segments, deduping
// against the existing log by millisecond-equal StartTime per the
// specification's dedupe rule. Restricted to currently-joined participants.
func (s *Service) AppendTranscripts(ctx context.Context, meetingID, callerUserID string, segments []models.TranscriptSegment) (*models.Meeting, error) {
	return s.repo.UpdateAtomic(ctx, meetingID, func(m *models.Meeting) error {
		p := m.FindParticipant(callerUserID)
		if p == nil || p.Status != models.ParticipantJoined {
			return apperror.Forbidden("only a joined participant can append transcripts")
		}

		seen := make(map[int64]bool, len(m.Transcripts))
		for _, existing := range m.Transcripts {
			seen[existing.StartTime.UnixMilli()] = true
		}
		for _, seg := range segments {
			key := seg.StartTime.UnixMilli()
			if seen[key] {
				continue
			}
			seen[key] = true
			m.Transcripts = append(m.Transcripts, seg)
		}
		return nil
	})
}

// StartRecording flips recording.isRecording on, host/co-host or
// explicit-permission gated via DerivePermissions.CanRecord.
func (s *Service) StartRecording(ctx context.Context, meetingID, callerUserID string) (*models.Meeting, error) {
	return s.repo.UpdateAtomic(ctx, meetingID, func(m *models.Meeting) error {
		if !DerivePermissions(m, callerUserID).CanRecord {
			return apperror.Forbidden("caller does not have recording permission")
		}
		if m.Recording.IsRecording {
			return apperror.FailedPrecondition("recording is already in progress")
		}
		now := time.Now()
		m.Recording = models.Recording{IsRecording: true, StartedAt: &now}
		return nil
	})
}

// StopRecording flips recording.isRecording off and stamps stoppedAt. The
// uploaded artifact's location is recorded separately by
// AttachRecordingArtifact.
func (s *Service) StopRecording(ctx context.Context, meetingID, callerUserID string) (*models.Meeting, error) {
	return s.repo.UpdateAtomic(ctx, meetingID, func(m *models.Meeting) error {
		if !DerivePermissions(m, callerUserID).CanRecord {
			return apperror.Forbidden("caller does not have recording permission")
		}
		if !m.Recording.IsRecording {
			return apperror.FailedPrecondition("no recording is in progress")
		}
		now := time.Now()
		m.Recording.IsRecording = false
		m.Recording.StoppedAt = &now
		return nil
	})
}

// AttachRecordingArtifact records an uploaded recording file's storage
// location against the meeting, independent of the start/stop toggle so an
// upload completing after stop still lands on the right meeting.
func (s *Service) AttachRecordingArtifact(ctx context.Context, meetingID, callerUserID, url string, sizeBytes int64, mimeType string) (*models.Meeting, error) {
	return s.repo.UpdateAtomic(ctx, meetingID, func(m *models.Meeting) error {
		if !DerivePermissions(m, callerUserID).CanRecord {
			return apperror.Forbidden("caller does not have recording permission")
		}
		m.Recording.URL = url
		m.Recording.SizeBytes = sizeBytes
		m.Recording.MimeType = mimeType
		return nil
	})
}

func (s *Service) bumpUserStats(ctx context.Context, userID string, hosted bool) error {
	if s.users == nil {
		return nil
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil // guest or non-UUID identities are not tracked in the user table
	}
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return err
	}
	u.Statistics.TotalMeetings++
	if hosted {
		u.Statistics.MeetingsHosted++
	} else {
		u.Statistics.MeetingsAttended++
	}
	return s.users.Update(ctx, u)
}

// Permissions derives a participant's effective capabilities within a
// meeting, per spec.md §4.E's permission-derivation rules.
type Permissions struct {
	IsHost           bool
	CanRecord        bool
	CanChat          bool
	CanScreenShare   bool
	CanMuteOthers    bool
	CanRemoveOthers  bool
}

// DerivePermissions computes the effective permission set for userID.
func DerivePermissions(m *models.Meeting, userID string) Permissions {
	isHost := m.IsHost(userID)
	p := m.FindParticipant(userID)

	isCoHost := p != nil && p.Role == models.RoleCoHost
	var perms models.ParticipantPermissions
	if p != nil {
		perms = p.Permissions
	}

	return Permissions{
		IsHost:          isHost,
		CanRecord:       isHost || isCoHost || perms.CanRecord,
		CanChat:         isHost || m.Settings.EnableChat,
		CanScreenShare:  isHost || isCoHost || m.Settings.EnableScreenShare,
		CanMuteOthers:   isHost || perms.CanMuteOthers,
		CanRemoveOthers: isHost || perms.CanRemoveOthers,
	}
}

