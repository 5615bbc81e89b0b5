package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/meetgrid/backend/internal/v1/auth"
	"github.com/meetgrid/backend/internal/v1/bus"
	"github.com/meetgrid/backend/internal/v1/cache"
	"github.com/meetgrid/backend/internal/v1/meeting"
	"github.com/meetgrid/backend/internal/v1/models"
	"github.com/meetgrid/backend/internal/v1/repository"
)

// AuthValidatorAdapter adapts *auth.Validator to the Hub's TokenValidator
// interface, translating JWT claims into the minimal Claims shape the
// realtime package depends on.
type AuthValidatorAdapter struct {
	Validator *auth.Validator
}

func (a *AuthValidatorAdapter) ValidateToken(tokenString string) (Claims, error) {
	claims, err := a.Validator.ValidateToken(tokenString)
	if err != nil {
		return Claims{}, err
	}
	displayName := claims.Name
	if displayName == "" {
		displayName = claims.Subject
	}
	return Claims{UserID: claims.Subject, DisplayName: displayName}, nil
}

// RepositoryDeps is the production Deps implementation, backed by the
// durable meeting repository, the presence cache, and the cross-pod room
// event bus. Bus may be nil (e.g. Redis disabled), in which case room fan-out
// is local-process-only — bus.Service itself already degrades a nil receiver
// to a no-op, so callers here don't need to special-case it either.
type RepositoryDeps struct {
	Meetings repository.MeetingRepository
	Presence *cache.Store
	Bus      *bus.Service
}

func (d *RepositoryDeps) PushChat(ctx context.Context, meetingID string, msg models.ChatMessage) error {
	return d.Meetings.PushChat(ctx, meetingID, msg)
}

func (d *RepositoryDeps) FindMeeting(ctx context.Context, meetingID string) (*models.Meeting, error) {
	return d.Meetings.FindByPublicID(ctx, meetingID)
}

func (d *RepositoryDeps) IsHost(m *models.Meeting, userID string) bool {
	return m.IsHost(userID)
}

func (d *RepositoryDeps) CanMuteOthers(m *models.Meeting, userID string) bool {
	return meeting.DerivePermissions(m, userID).CanMuteOthers
}

func (d *RepositoryDeps) CanRemoveOthers(m *models.Meeting, userID string) bool {
	return meeting.DerivePermissions(m, userID).CanRemoveOthers
}

func (d *RepositoryDeps) AddOnlineUser(ctx context.Context, meetingID, userID string) {
	_ = d.Presence.AddOnlineUser(ctx, meetingID, userID)
}

func (d *RepositoryDeps) RemoveOnlineUser(ctx context.Context, meetingID, userID string) {
	_ = d.Presence.RemoveOnlineUser(ctx, meetingID, userID)
}

func (d *RepositoryDeps) PublishRoomEvent(ctx context.Context, meetingID string, event Event, payload any, senderID string) {
	if err := d.Bus.Publish(ctx, meetingID, string(event), payload, senderID); err != nil {
		slog.Warn("failed to publish room event to bus", "meetingId", meetingID, "event", event, "error", err)
	}
}

func (d *RepositoryDeps) SubscribeRoomEvents(ctx context.Context, meetingID string, handler func(event Event, senderID string, payload json.RawMessage)) {
	d.Bus.Subscribe(ctx, meetingID, func(p bus.PubSubPayload) {
		handler(Event(p.Event), p.SenderID, p.Payload)
	})
}
