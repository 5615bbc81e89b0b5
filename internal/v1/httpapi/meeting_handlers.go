package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meetgrid/backend/internal/v1/apperror"
	"github.com/meetgrid/backend/internal/v1/config"
	"github.com/meetgrid/backend/internal/v1/meeting"
	"github.com/meetgrid/backend/internal/v1/models"
)

// MeetingHandlers implements /api/meetings/*.
type MeetingHandlers struct {
	Service *meeting.Service
	Config  *config.Config
}

type createMeetingRequest struct {
	Title           string           `json:"title" binding:"required"`
	Description     string           `json:"description"`
	Password        string           `json:"password"`
	DurationMinutes int              `json:"durationMinutes"`
	Settings        *models.Settings `json:"settings"`
}

func (h *MeetingHandlers) Create(c *gin.Context) {
	var req createMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest("invalid meeting payload: %v", err))
		return
	}

	m, err := h.Service.CreateMeeting(c.Request.Context(), meeting.CreateMeetingParams{
		HostUserID:      callerID(c),
		Title:           req.Title,
		Description:     req.Description,
		Password:        req.Password,
		DurationMinutes: req.DurationMinutes,
		Settings:        req.Settings,
	})
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"meeting": m})
}

type scheduleMeetingRequest struct {
	Title           string           `json:"title" binding:"required"`
	Description     string           `json:"description"`
	Password        string           `json:"password"`
	DurationMinutes int              `json:"durationMinutes"`
	ScheduledFor    time.Time        `json:"scheduledFor" binding:"required"`
	Settings        *models.Settings `json:"settings"`
}

func (h *MeetingHandlers) Schedule(c *gin.Context) {
	var req scheduleMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest("invalid schedule payload: %v", err))
		return
	}

	m, err := h.Service.ScheduleMeeting(c.Request.Context(), meeting.ScheduleMeetingParams{
		HostUserID:      callerID(c),
		Title:           req.Title,
		Description:     req.Description,
		Password:        req.Password,
		DurationMinutes: req.DurationMinutes,
		ScheduledFor:    req.ScheduledFor,
		Settings:        req.Settings,
	})
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"meeting": m})
}

func (h *MeetingHandlers) List(c *gin.Context) {
	meetings, err := h.Service.ListMeetingsForUser(c.Request.Context(), callerID(c))
	if err != nil {
		fail(c, err)
		return
	}

	if status := c.Query("status"); status != "" {
		filtered := meetings[:0]
		for _, m := range meetings {
			if string(m.Status) == status {
				filtered = append(filtered, m)
			}
		}
		meetings = filtered
	}

	page, limit := pageLimit(c)
	respondOK(c, gin.H{"meetings": paginate(meetings, page, limit), "page": page, "limit": limit, "total": len(meetings)})
}

func (h *MeetingHandlers) Get(c *gin.Context) {
	m, err := h.Service.GetMeeting(c.Request.Context(), c.Param("meetingId"))
	if err != nil {
		fail(c, err)
		return
	}
	respondOK(c, gin.H{"meeting": m})
}

type joinMeetingRequest struct {
	Password string `json:"password"`
}

func (h *MeetingHandlers) Join(c *gin.Context) {
	var req joinMeetingRequest
	_ = c.ShouldBindJSON(&req)

	m, err := h.Service.JoinMeeting(c.Request.Context(), c.Param("meetingId"), callerID(c), req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	respondOK(c, gin.H{"meeting": m})
}

func (h *MeetingHandlers) Leave(c *gin.Context) {
	m, err := h.Service.LeaveMeeting(c.Request.Context(), c.Param("meetingId"), callerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	respondOK(c, gin.H{"meeting": m})
}

func (h *MeetingHandlers) UpdateSettings(c *gin.Context) {
	var partial map[string]any
	if err := c.ShouldBindJSON(&partial); err != nil {
		fail(c, apperror.BadRequest("invalid settings payload: %v", err))
		return
	}

	settings, fields := decodeSettingsPatch(partial)
	m, err := h.Service.UpdateMeetingSettings(c.Request.Context(), c.Param("meetingId"), callerID(c), settings, fields)
	if err != nil {
		fail(c, err)
		return
	}
	respondOK(c, gin.H{"meeting": m})
}

// decodeSettingsPatch turns a partial JSON object into a models.Settings
// value plus a set of which fields were actually present, so
// Service.UpdateMeetingSettings can shallow-merge only the supplied keys.
func decodeSettingsPatch(raw map[string]any) (models.Settings, map[string]bool) {
	var settings models.Settings
	fields := make(map[string]bool, len(raw))

	boolField := func(key string, dst *bool) {
		if v, ok := raw[key]; ok {
			if b, ok := v.(bool); ok {
				*dst = b
				fields[key] = true
			}
		}
	}
	boolField("allowGuests", &settings.AllowGuests)
	boolField("requirePassword", &settings.RequirePassword)
	boolField("enableRecording", &settings.EnableRecording)
	boolField("enableChat", &settings.EnableChat)
	boolField("enableScreenShare", &settings.EnableScreenShare)
	boolField("enableRaiseHand", &settings.EnableRaiseHand)
	boolField("enableReactions", &settings.EnableReactions)
	boolField("waitingRoom", &settings.WaitingRoom)
	boolField("muteOnEntry", &settings.MuteOnEntry)
	boolField("videoOnEntry", &settings.VideoOnEntry)

	if v, ok := raw["maxParticipants"]; ok {
		if n, ok := v.(float64); ok {
			settings.MaxParticipants = int(n)
			fields["maxParticipants"] = true
		}
	}
	return settings, fields
}

func (h *MeetingHandlers) End(c *gin.Context) {
	m, err := h.Service.EndMeeting(c.Request.Context(), c.Param("meetingId"), callerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	respondOK(c, gin.H{"meeting": m})
}

func (h *MeetingHandlers) Cancel(c *gin.Context) {
	m, err := h.Service.CancelMeeting(c.Request.Context(), c.Param("meetingId"), callerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	respondOK(c, gin.H{"meeting": m})
}

type appendTranscriptsRequest struct {
	Segments []models.TranscriptSegment `json:"segments" binding:"required"`
}

func (h *MeetingHandlers) AppendTranscripts(c *gin.Context) {
	var req appendTranscriptsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest("invalid transcript payload: %v", err))
		return
	}
	m, err := h.Service.AppendTranscripts(c.Request.Context(), c.Param("meetingId"), callerID(c), req.Segments)
	if err != nil {
		fail(c, err)
		return
	}
	respondOK(c, gin.H{"transcripts": m.Transcripts})
}

func (h *MeetingHandlers) ListTranscripts(c *gin.Context) {
	m, err := h.Service.GetMeeting(c.Request.Context(), c.Param("meetingId"))
	if err != nil {
		fail(c, err)
		return
	}
	respondOK(c, gin.H{"transcripts": m.Transcripts})
}

// iceServer mirrors the client-facing RTCIceServer shape.
type iceServer struct {
	URLs       string `json:"urls"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

func (h *MeetingHandlers) IceServers(c *gin.Context) {
	servers := []iceServer{{URLs: h.Config.StunServerURL}}
	if h.Config.TurnServerURL != "" {
		servers = append(servers, iceServer{
			URLs:       h.Config.TurnServerURL,
			Username:   h.Config.TurnUsername,
			Credential: h.Config.TurnCredential,
		})
	}
	respondOK(c, gin.H{"iceServers": servers})
}
