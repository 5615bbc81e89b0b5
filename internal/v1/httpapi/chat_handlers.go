package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meetgrid/backend/internal/v1/apperror"
	"github.com/meetgrid/backend/internal/v1/meeting"
	"github.com/meetgrid/backend/internal/v1/models"
	"github.com/meetgrid/backend/internal/v1/realtime"
	"github.com/meetgrid/backend/internal/v1/repository"
	"github.com/meetgrid/backend/internal/v1/storage"
)

const maxChatUploadBytes = 10 << 20 // 10MB

// ChatHandlers implements /api/chat/*. A message posted here is persisted
// through the same MeetingRepository.PushChat a live socket uses, then
// fanned out to any currently-connected sockets via the hub so REST and
// socket clients in the same meeting see a single, consistent chat log.
type ChatHandlers struct {
	Meetings repository.MeetingRepository
	Users    repository.UserRepository
	Hub      *realtime.Hub
	Storage  *storage.FileStore
}

type postMessageRequest struct {
	MeetingID string `json:"meetingId" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

func (h *ChatHandlers) PostMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest("invalid chat payload: %v", err))
		return
	}

	sender, err := h.senderFor(c, req.MeetingID)
	if err != nil {
		fail(c, err)
		return
	}

	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		Sender:    sender,
		Message:   req.Message,
		Type:      models.ChatText,
		Timestamp: time.Now(),
	}
	if err := h.Meetings.PushChat(c.Request.Context(), req.MeetingID, msg); err != nil {
		fail(c, err)
		return
	}
	h.Hub.BroadcastChatMessage(req.MeetingID, msg)

	respond(c, http.StatusCreated, gin.H{"message": msg})
}

func (h *ChatHandlers) UploadFile(c *gin.Context) {
	meetingID := c.PostForm("meetingId")
	if meetingID == "" {
		fail(c, apperror.BadRequest("meetingId is required"))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		fail(c, apperror.BadRequest("file is required: %v", err))
		return
	}
	if fileHeader.Size > maxChatUploadBytes {
		fail(c, apperror.BadRequest("file exceeds the 10MB chat upload limit"))
		return
	}

	sender, err := h.senderFor(c, meetingID)
	if err != nil {
		fail(c, err)
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		fail(c, apperror.Internal("failed to open uploaded file"))
		return
	}
	defer src.Close()

	url, size, err := h.Storage.Save(c.Request.Context(), "chat", fileHeader.Filename, io.LimitReader(src, maxChatUploadBytes))
	if err != nil {
		fail(c, apperror.Internal("failed to store uploaded file: %v", err))
		return
	}

	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		Sender:    sender,
		Message:   fileHeader.Filename,
		Type:      models.ChatFileType,
		Timestamp: time.Now(),
		File: &models.ChatFile{
			URL:      url,
			Name:     fileHeader.Filename,
			MimeType: fileHeader.Header.Get("Content-Type"),
			SizeByte: size,
		},
	}
	if err := h.Meetings.PushChat(c.Request.Context(), meetingID, msg); err != nil {
		fail(c, err)
		return
	}
	h.Hub.BroadcastChatMessage(meetingID, msg)

	respond(c, http.StatusCreated, gin.H{"message": msg})
}

func (h *ChatHandlers) GetChat(c *gin.Context) {
	m, err := h.Meetings.FindByPublicID(c.Request.Context(), c.Param("meetingId"))
	if err != nil {
		fail(c, err)
		return
	}
	if m.FindParticipant(callerID(c)) == nil {
		fail(c, apperror.Forbidden("only a participant can read this meeting's chat"))
		return
	}

	page, limit := pageLimit(c)
	// Most-recent-first, consistent with a chat scrollback view.
	reversed := make([]models.ChatMessage, len(m.Chat))
	for i, msg := range m.Chat {
		reversed[len(m.Chat)-1-i] = msg
	}

	respondOK(c, gin.H{"messages": paginate(reversed, page, limit), "page": page, "limit": limit, "total": len(reversed)})
}

// senderFor validates that the caller is a joined participant and has chat
// permission, returning the wire-ready ChatSender for that user.
func (h *ChatHandlers) senderFor(c *gin.Context, meetingID string) (models.ChatSender, error) {
	m, err := h.Meetings.FindByPublicID(c.Request.Context(), meetingID)
	if err != nil {
		return models.ChatSender{}, err
	}
	if p := m.FindParticipant(callerID(c)); p == nil || p.Status != models.ParticipantJoined {
		return models.ChatSender{}, apperror.Forbidden("caller is not a joined participant of this meeting")
	}
	if !meeting.DerivePermissions(m, callerID(c)).CanChat {
		return models.ChatSender{}, apperror.Forbidden("caller does not have chat permission in this meeting")
	}

	id, err := uuid.Parse(callerID(c))
	if err != nil {
		return models.ChatSender{}, apperror.Unauthenticated("caller is not a registered account")
	}
	user, err := h.Users.FindByID(c.Request.Context(), id)
	if err != nil {
		return models.ChatSender{}, err
	}

	return models.ChatSender{ID: user.ID.String(), Username: user.Username, Avatar: user.Profile.AvatarURL}, nil
}
