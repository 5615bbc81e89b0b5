package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meetgrid/backend/internal/v1/apperror"
	"github.com/meetgrid/backend/internal/v1/meeting"
	"github.com/meetgrid/backend/internal/v1/storage"
)

const maxRecordingUploadBytes = 500 << 20 // 500MB

var allowedRecordingMimeTypes = map[string]bool{
	"video/mp4":  true,
	"video/webm": true,
	"audio/mpeg": true,
	"audio/mp3":  true,
	"audio/wav":  true,
}

// RecordingHandlers implements /api/recordings/*.
type RecordingHandlers struct {
	Service *meeting.Service
	Storage *storage.FileStore
}

type recordingActionRequest struct {
	MeetingID string `json:"meetingId" binding:"required"`
}

func (h *RecordingHandlers) Start(c *gin.Context) {
	var req recordingActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest("invalid recording payload: %v", err))
		return
	}
	m, err := h.Service.StartRecording(c.Request.Context(), req.MeetingID, callerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	respondOK(c, gin.H{"recording": m.Recording})
}

func (h *RecordingHandlers) Stop(c *gin.Context) {
	var req recordingActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest("invalid recording payload: %v", err))
		return
	}
	m, err := h.Service.StopRecording(c.Request.Context(), req.MeetingID, callerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	respondOK(c, gin.H{"recording": m.Recording})
}

func (h *RecordingHandlers) Upload(c *gin.Context) {
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
	if fileHeader.Size > maxRecordingUploadBytes {
		fail(c, apperror.BadRequest("file exceeds the 500MB recording upload limit"))
		return
	}
	mimeType := fileHeader.Header.Get("Content-Type")
	if !allowedRecordingMimeTypes[mimeType] {
		fail(c, apperror.BadRequest("unsupported recording mime type %q", mimeType))
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		fail(c, apperror.Internal("failed to open uploaded file"))
		return
	}
	defer src.Close()

	url, size, err := h.Storage.Save(c.Request.Context(), "recordings", fileHeader.Filename, io.LimitReader(src, maxRecordingUploadBytes))
	if err != nil {
		fail(c, apperror.Internal("failed to store uploaded file: %v", err))
		return
	}

	m, err := h.Service.AttachRecordingArtifact(c.Request.Context(), meetingID, callerID(c), url, size, mimeType)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"recording": m.Recording})
}

func (h *RecordingHandlers) MyRecordings(c *gin.Context) {
	meetings, err := h.Service.ListMeetingsForUser(c.Request.Context(), callerID(c))
	if err != nil {
		fail(c, err)
		return
	}

	recorded := meetings[:0]
	for _, m := range meetings {
		if m.Recording.URL != "" {
			recorded = append(recorded, m)
		}
	}

	page, limit := pageLimit(c)
	respondOK(c, gin.H{"meetings": paginate(recorded, page, limit), "page": page, "limit": limit, "total": len(recorded)})
}
