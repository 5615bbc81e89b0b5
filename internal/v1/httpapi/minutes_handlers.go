package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/meetgrid/backend/internal/v1/apperror"
	"github.com/meetgrid/backend/internal/v1/email"
	"github.com/meetgrid/backend/internal/v1/minutes"
	"github.com/meetgrid/backend/internal/v1/models"
	"github.com/meetgrid/backend/internal/v1/repository"
)

// MinutesHandlers implements /api/meeting-minutes/*.
type MinutesHandlers struct {
	Pipeline    *minutes.Pipeline
	MinutesRepo repository.MinutesRepository
	Meetings    repository.MeetingRepository
	Email       *email.Dispatcher
}

func (h *MinutesHandlers) Generate(c *gin.Context) {
	record, err := h.Pipeline.Generate(c.Request.Context(), c.Param("meetingId"), callerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	respondOK(c, gin.H{"minutes": record})
}

func (h *MinutesHandlers) Get(c *gin.Context) {
	record, err := h.MinutesRepo.FindByMeetingID(c.Request.Context(), c.Param("meetingId"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.assertAttendee(c, record.MeetingID); err != nil {
		fail(c, err)
		return
	}
	respondOK(c, gin.H{"minutes": record})
}

func (h *MinutesHandlers) List(c *gin.Context) {
	attended, err := h.Meetings.ListForUser(c.Request.Context(), callerID(c))
	if err != nil {
		fail(c, err)
		return
	}

	var records []*models.MeetingMinutes
	for _, m := range attended {
		record, err := h.MinutesRepo.FindByMeetingID(c.Request.Context(), m.MeetingID)
		if err != nil {
			continue
		}
		records = append(records, record)
	}

	page, limit := pageLimit(c)
	respondOK(c, gin.H{"minutes": paginate(records, page, limit), "page": page, "limit": limit, "total": len(records)})
}

type resendEmailRequest struct {
	Email string `json:"email"`
}

func (h *MinutesHandlers) ResendEmail(c *gin.Context) {
	meetingID := c.Param("meetingId")

	m, err := h.Meetings.FindByPublicID(c.Request.Context(), meetingID)
	if err != nil {
		fail(c, err)
		return
	}
	if !m.IsHost(callerID(c)) {
		fail(c, apperror.Forbidden("only the host can resend meeting minutes"))
		return
	}

	record, err := h.MinutesRepo.FindByMeetingID(c.Request.Context(), meetingID)
	if err != nil {
		fail(c, err)
		return
	}
	if record.Status != models.MinutesCompleted {
		fail(c, apperror.FailedPrecondition("minutes for this meeting have not finished generating"))
		return
	}

	var req resendEmailRequest
	_ = c.ShouldBindJSON(&req)
	recipient := req.Email
	if recipient == "" {
		recipient = callerEmail(c)
	}
	if recipient == "" {
		fail(c, apperror.BadRequest("no recipient email available for this caller"))
		return
	}

	result := h.Email.SendMinutes(c.Request.Context(), recipient, email.MinutesData{
		Title:            record.Title,
		Date:             record.Date.Format("2006-01-02"),
		DurationMinutes:  record.DurationMinutes,
		Summary:          record.Summary,
		DiscussionPoints: record.DiscussionPoints,
		Decisions:        record.Decisions,
		ActionItems:      record.ActionItems,
		FollowUps:        record.FollowUps,
	})
	if err := minutes.PersistEmailResult(c.Request.Context(), h.MinutesRepo, meetingID, result); err != nil {
		fail(c, err)
		return
	}
	if result.Status != models.DeliverySent {
		fail(c, apperror.Internal("failed to resend minutes email: %s", result.Error))
		return
	}

	respondOK(c, gin.H{"sent": true, "recipient": recipient})
}

// assertAttendee requires the caller to be a current or former participant
// of meetingID before it can read that meeting's minutes.
func (h *MinutesHandlers) assertAttendee(c *gin.Context, meetingID string) error {
	m, err := h.Meetings.FindByPublicID(c.Request.Context(), meetingID)
	if err != nil {
		return err
	}
	if m.FindParticipant(callerID(c)) == nil {
		return apperror.Forbidden("only a meeting attendee can view its minutes")
	}
	return nil
}
