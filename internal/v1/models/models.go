// Package models defines the persistence-facing domain types: users,
// meetings, participants, meeting minutes, and queue jobs. Meeting
// sub-documents are stored as Postgres JSONB columns rather than normalized
// tables, since the source system treats a meeting as one aggregate
// document and Repository.UpdateAtomic needs a single row to lock.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ParticipantRole enumerates a participant's standing within a meeting.
type ParticipantRole string

const (
	RoleHost        ParticipantRole = "host"
	RoleCoHost      ParticipantRole = "co-host"
	RoleParticipant ParticipantRole = "participant"
)

// ParticipantStatus tracks a participant's membership lifecycle.
type ParticipantStatus string

const (
	ParticipantJoined  ParticipantStatus = "joined"
	ParticipantLeft    ParticipantStatus = "left"
	ParticipantRemoved ParticipantStatus = "removed"
	ParticipantInvited ParticipantStatus = "invited"
)

// MeetingStatus enumerates the meeting lifecycle's states.
type MeetingStatus string

const (
	MeetingScheduled MeetingStatus = "scheduled"
	MeetingOngoing   MeetingStatus = "ongoing"
	MeetingEnded     MeetingStatus = "ended"
	MeetingCancelled MeetingStatus = "cancelled"
)

// UserStatistics tracks a user's lifetime meeting activity.
type UserStatistics struct {
	TotalMeetings          int `json:"totalMeetings"`
	MeetingsHosted         int `json:"meetingsHosted"`
	MeetingsAttended       int `json:"meetingsAttended"`
	TotalMeetingTimeMinutes int `json:"totalMeetingTimeMinutes"`
}

// Profile holds user-facing display fields.
type Profile struct {
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Preferences holds user-configurable client preferences.
type Preferences struct {
	Theme           string `json:"theme,omitempty"`
	NotificationsOn bool   `json:"notificationsOn"`
}

// User is the authentication and profile record.
type User struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Username     string         `gorm:"uniqueIndex;size:30;not null" json:"username"`
	Email        string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash *string        `gorm:"column:password_hash" json:"-"`
	IsGuest      bool           `gorm:"not null;default:false" json:"isGuest"`
	Profile      Profile        `gorm:"type:jsonb;serializer:json" json:"profile"`
	Preferences  Preferences    `gorm:"type:jsonb;serializer:json" json:"preferences"`
	Statistics   UserStatistics `gorm:"type:jsonb;serializer:json" json:"statistics"`
	IsActive     bool           `gorm:"not null;default:true" json:"isActive"`
	LastSeenAt   *time.Time     `json:"lastSeenAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// MediaState tracks a participant's client-reported device state.
type MediaState struct {
	AudioEnabled  bool `json:"audioEnabled"`
	VideoEnabled  bool `json:"videoEnabled"`
	ScreenSharing bool `json:"screenSharing"`
	HandRaised    bool `json:"handRaised"`
}

// ParticipantPermissions tracks per-participant overrides of the default role permissions.
type ParticipantPermissions struct {
	CanShare        bool `json:"canShare"`
	CanRecord       bool `json:"canRecord"`
	CanMuteOthers   bool `json:"canMuteOthers"`
	CanRemoveOthers bool `json:"canRemoveOthers"`
}

// Participant is one user's membership record within a meeting.
type Participant struct {
	UserID      string                  `json:"userId"`
	JoinedAt    time.Time               `json:"joinedAt"`
	LeftAt      *time.Time              `json:"leftAt,omitempty"`
	Role        ParticipantRole         `json:"role"`
	Status      ParticipantStatus       `json:"status"`
	Permissions ParticipantPermissions  `json:"permissions"`
	MediaState  MediaState              `json:"mediaState"`
}

// Settings holds per-meeting feature toggles, all with defaults per spec.
type Settings struct {
	AllowGuests       bool `json:"allowGuests"`
	RequirePassword   bool `json:"requirePassword"`
	EnableRecording   bool `json:"enableRecording"`
	EnableChat        bool `json:"enableChat"`
	EnableScreenShare bool `json:"enableScreenShare"`
	EnableRaiseHand   bool `json:"enableRaiseHand"`
	EnableReactions   bool `json:"enableReactions"`
	MaxParticipants   int  `json:"maxParticipants"`
	WaitingRoom       bool `json:"waitingRoom"`
	MuteOnEntry       bool `json:"muteOnEntry"`
	VideoOnEntry      bool `json:"videoOnEntry"`
}

// DefaultSettings returns the spec-mandated defaults for a new meeting.
func DefaultSettings() Settings {
	return Settings{
		AllowGuests:       true,
		RequirePassword:   false,
		EnableRecording:   false,
		EnableChat:        true,
		EnableScreenShare: true,
		EnableRaiseHand:   true,
		EnableReactions:   true,
		MaxParticipants:   50,
		WaitingRoom:       false,
		MuteOnEntry:       false,
		VideoOnEntry:      false,
	}
}

// ChatMessageType enumerates the chat payload kind.
type ChatMessageType string

const (
	ChatText     ChatMessageType = "text"
	ChatFileType ChatMessageType = "file"
)

// ChatSender is the denormalized sender snapshot embedded into each message.
type ChatSender struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// ChatFile describes an uploaded attachment.
type ChatFile struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	SizeByte int64  `json:"sizeBytes"`
}

// ChatMessage is one entry in a meeting's append-only chat log.
type ChatMessage struct {
	ID        string          `json:"id"`
	Sender    ChatSender      `json:"sender"`
	Message   string          `json:"message"`
	Type      ChatMessageType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	File      *ChatFile       `json:"file,omitempty"`
}

// Recording tracks a meeting's recording lifecycle and storage location.
type Recording struct {
	IsRecording bool       `json:"isRecording"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	StoppedAt   *time.Time `json:"stoppedAt,omitempty"`
	URL         string     `json:"url,omitempty"`
	SizeBytes   int64      `json:"sizeBytes,omitempty"`
	MimeType    string     `json:"mimeType,omitempty"`
}

// TranscriptSegment is one utterance captured during a meeting.
type TranscriptSegment struct {
	SpeakerID   string    `json:"speakerId"`
	SpeakerName string    `json:"speakerName"`
	Text        string    `json:"text"`
	StartTime   time.Time `json:"startTime"`
}

// MeetingStatistics tracks per-meeting aggregate counters.
type MeetingStatistics struct {
	PeakParticipants int `json:"peakParticipants"`
	TotalParticipants int `json:"totalParticipants"`
	ChatMessages     int `json:"chatMessages"`
	TotalDuration    int `json:"totalDuration"`
}

// Meeting is the authoritative aggregate document for one meeting.
type Meeting struct {
	ID              uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	MeetingID       string            `gorm:"column:meeting_id;uniqueIndex;size:11;not null" json:"meetingId"`
	Title           string            `gorm:"size:100;not null" json:"title"`
	Description     string            `gorm:"size:500" json:"description"`
	HostUserID      string            `gorm:"column:host_user_id;index;not null" json:"hostUserId"`
	Password        string            `json:"-"`
	ScheduledFor    *time.Time        `json:"scheduledFor,omitempty"`
	DurationMinutes int               `json:"durationMinutes"`
	Status          MeetingStatus     `gorm:"index;not null" json:"status"`
	Settings        Settings          `gorm:"type:jsonb;serializer:json" json:"settings"`
	Participants    ParticipantList   `gorm:"type:jsonb;serializer:json" json:"participants"`
	Recording       Recording         `gorm:"type:jsonb;serializer:json" json:"recording"`
	Chat            ChatLog           `gorm:"type:jsonb;serializer:json" json:"chat"`
	Transcripts     TranscriptList    `gorm:"type:jsonb;serializer:json" json:"transcripts"`
	Statistics      MeetingStatistics `gorm:"type:jsonb;serializer:json" json:"statistics"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// ParticipantList, ChatLog, and TranscriptList are thin named slices so gorm's
// JSON serializer has a concrete Go type to target per column.
type ParticipantList []Participant
type ChatLog []ChatMessage
type TranscriptList []TranscriptSegment

// JoinedParticipants returns the subset of participants currently joined.
func (m *Meeting) JoinedParticipants() ParticipantList {
	var out ParticipantList
	for _, p := range m.Participants {
		if p.Status == ParticipantJoined {
			out = append(out, p)
		}
	}
	return out
}

// FindParticipant returns a pointer into m.Participants for userID, or nil.
func (m *Meeting) FindParticipant(userID string) *Participant {
	for i := range m.Participants {
		if m.Participants[i].UserID == userID {
			return &m.Participants[i]
		}
	}
	return nil
}

// IsHost reports whether userID currently holds the host role for this meeting.
func (m *Meeting) IsHost(userID string) bool {
	if m.HostUserID == userID {
		return true
	}
	if p := m.FindParticipant(userID); p != nil {
		return p.Role == RoleHost
	}
	return false
}

// ActionItemStatus enumerates the lifecycle of a minutes action item.
type ActionItemStatus string

const (
	ActionItemPending    ActionItemStatus = "pending"
	ActionItemInProgress ActionItemStatus = "in_progress"
	ActionItemDone       ActionItemStatus = "done"
)

// ActionItemPriority enumerates urgency of a minutes action item.
type ActionItemPriority string

const (
	PriorityLow    ActionItemPriority = "low"
	PriorityMedium ActionItemPriority = "medium"
	PriorityHigh   ActionItemPriority = "high"
)

// ActionItem is one task surfaced by the minutes pipeline.
type ActionItem struct {
	Description string             `json:"description"`
	Owner       string             `json:"owner,omitempty"`
	Priority    ActionItemPriority `json:"priority"`
	Status      ActionItemStatus   `json:"status"`
	Deadline    *time.Time         `json:"deadline,omitempty"`
}

// FollowUp is a lighter-weight open item surfaced by the minutes pipeline.
type FollowUp struct {
	Description string     `json:"description"`
	Owner       string      `json:"owner,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// AIProcessing records provenance of an LLM-generated minutes record.
type AIProcessing struct {
	Model       string    `json:"model"`
	ProcessedAt time.Time `json:"processedAt"`
	TokensUsed  int       `json:"tokensUsed"`
	Confidence  float64   `json:"confidence"`
}

// RecipientDeliveryStatus enumerates one recipient's email delivery outcome.
type RecipientDeliveryStatus string

const (
	DeliveryPending RecipientDeliveryStatus = "pending"
	DeliveryQueued  RecipientDeliveryStatus = "queued"
	DeliverySent    RecipientDeliveryStatus = "sent"
	DeliveryFailed  RecipientDeliveryStatus = "failed"
)

// RecipientDelivery tracks one attendee's minutes-email delivery outcome.
type RecipientDelivery struct {
	Email  string                   `json:"email"`
	Status RecipientDeliveryStatus  `json:"status"`
	SentAt *time.Time               `json:"sentAt,omitempty"`
	Error  string                   `json:"error,omitempty"`
}

// EmailDelivery tracks overall minutes-email dispatch status.
type EmailDelivery struct {
	Sent       bool                 `json:"sent"`
	SentAt     *time.Time           `json:"sentAt,omitempty"`
	Recipients []RecipientDelivery  `json:"recipients"`
}

// MinutesStatus enumerates the minutes generation lifecycle.
type MinutesStatus string

const (
	MinutesProcessing MinutesStatus = "processing"
	MinutesCompleted  MinutesStatus = "completed"
	MinutesFailed     MinutesStatus = "failed"
)

// Attendee is a denormalized snapshot of one meeting participant for minutes rendering.
type Attendee struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// MeetingMinutes is the single per-meeting AI-generated minutes record.
type MeetingMinutes struct {
	ID                uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	MeetingID         string              `gorm:"column:meeting_id;uniqueIndex;size:11;not null" json:"meetingId"`
	Title             string              `json:"title"`
	Date              time.Time           `json:"date"`
	StartTime         time.Time           `json:"startTime"`
	EndTime           time.Time           `json:"endTime"`
	DurationMinutes   int                 `json:"durationMinutes"`
	Attendees         AttendeeList        `gorm:"type:jsonb;serializer:json" json:"attendees"`
	Agenda            StringList          `gorm:"type:jsonb;serializer:json" json:"agenda"`
	Transcripts       TranscriptList      `gorm:"type:jsonb;serializer:json" json:"transcripts"`
	Summary           string              `json:"summary"`
	DiscussionPoints  StringList          `gorm:"type:jsonb;serializer:json" json:"discussionPoints"`
	Decisions         StringList          `gorm:"type:jsonb;serializer:json" json:"decisions"`
	ActionItems       ActionItemList      `gorm:"type:jsonb;serializer:json" json:"actionItems"`
	Highlights        StringList          `gorm:"type:jsonb;serializer:json" json:"highlights"`
	QuestionsRaised   StringList          `gorm:"type:jsonb;serializer:json" json:"questionsRaised"`
	FollowUps         FollowUpList        `gorm:"type:jsonb;serializer:json" json:"followUps"`
	AIProcessing      AIProcessing        `gorm:"type:jsonb;serializer:json" json:"aiProcessing"`
	EmailDelivery     EmailDelivery       `gorm:"type:jsonb;serializer:json" json:"emailDelivery"`
	Status            MinutesStatus       `gorm:"index;not null" json:"status"`
	Error             string              `json:"error,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

type AttendeeList []Attendee
type StringList []string
type ActionItemList []ActionItem
type FollowUpList []FollowUp

// QueueName enumerates the four durable job queues.
type QueueName string

const (
	QueueEmail         QueueName = "email"
	QueueReminder      QueueName = "reminder"
	QueueMoMGeneration QueueName = "momGeneration"
	QueueRecording     QueueName = "recording"
)

// Job is one unit of deferred work, durable in the job queue's backing store.
type Job struct {
	ID                string          `json:"id"`
	Queue             QueueName       `json:"queue"`
	Payload           json.RawMessage `json:"payload"`
	AttemptsRemaining int             `json:"attemptsRemaining"`
	// MaxAttempts is the configured ceiling this job was enqueued with, kept
	// alongside AttemptsRemaining so Nack can compute the correct backoff
	// multiplier regardless of which queue's defaults applied at enqueue time.
	MaxAttempts int           `json:"maxAttempts"`
	BaseBackoff time.Duration `json:"-"`
	NotBefore   time.Time     `json:"notBefore"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// EmailJobType enumerates the sub-kind of an `email` queue payload.
type EmailJobType string

const (
	EmailMeetingReminder EmailJobType = "meeting-reminder"
	EmailMeetingMinutes  EmailJobType = "meeting-minutes"
)

// ReminderJobPayload is the payload carried by `reminder` queue jobs.
type ReminderJobPayload struct {
	MeetingID string `json:"meetingId"`
	UserID    string `json:"userId"`
	TimeLabel string `json:"timeLabel"`
}

// EmailJobPayload is the payload carried by `email` queue jobs. RecipientName
// and JoinURL are only populated for EmailMeetingReminder; EmailMeetingMinutes
// looks its content up from the persisted MeetingMinutes record instead.
type EmailJobPayload struct {
	Type          EmailJobType `json:"type"`
	MeetingID     string       `json:"meetingId"`
	Recipient     string       `json:"recipient"`
	RecipientName string       `json:"recipientName,omitempty"`
	Title         string       `json:"title,omitempty"`
	TimeLabel     string       `json:"timeLabel,omitempty"`
	JoinURL       string       `json:"joinUrl,omitempty"`
}

// MoMGenerationPayload is the payload carried by `momGeneration` queue jobs.
type MoMGenerationPayload struct {
	MeetingID string `json:"meetingId"`
}

// Value/Scan implementations let the named slice/struct types above be used
// directly as gorm fields without depending on gorm's serializer for every
// call site (e.g. manual SQL, tests constructing raw rows).

func (p ParticipantList) Value() (driver.Value, error)   { return json.Marshal(p) }
func (p *ParticipantList) Scan(src any) error             { return scanJSON(src, p) }
func (c ChatLog) Value() (driver.Value, error)            { return json.Marshal(c) }
func (c *ChatLog) Scan(src any) error                     { return scanJSON(src, c) }
func (t TranscriptList) Value() (driver.Value, error)     { return json.Marshal(t) }
func (t *TranscriptList) Scan(src any) error               { return scanJSON(src, t) }

func scanJSON(src any, dst any) error {
	if src == nil {
		return nil
	}
	bytes, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported scan source type %T", src)
	}
	return json.Unmarshal(bytes, dst)
}
