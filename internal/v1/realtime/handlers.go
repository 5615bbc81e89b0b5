package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meetgrid/backend/internal/v1/models"
)

// dispatch implements Roomer for an already-joined client: it routes each
// inbound event to its handler under the room's permission rules.
func (r *Room) dispatch(ctx context.Context, client *Client, msg Message) {
	switch msg.Event {
	case EventOffer, EventAnswer, EventICECandidate:
		r.relaySignal(client, msg)
	case EventToggleAudio:
		r.handleToggleMedia(client, EventAudioToggled, msg)
	case EventToggleVideo:
		r.handleToggleMedia(client, EventVideoToggled, msg)
	case EventScreenShare:
		r.handleToggleMedia(client, EventScreenShare, msg)
	case EventChatMessage:
		r.handleChatMessage(ctx, client, msg)
	case EventRaiseHand:
		r.handleRaiseHand(client, msg)
	case EventReaction:
		r.handleReaction(client, msg)
	case EventMuteParticipant:
		r.handleMuteParticipant(ctx, client, msg)
	case EventRemoveParticipant:
		r.handleRemoveParticipant(ctx, client, msg)
	case EventLeaveMeeting:
		r.leave(ctx, client)
	default:
		slog.Warn("unrecognized realtime event", "event", msg.Event, "meetingId", r.meetingID)
	}
}

// relaySignal forwards WebRTC offer/answer/ice-candidate traffic. A `to`
// field targets one peer, with the sender stamped into `from`; legacy
// payloads without `to` fall back to a room-wide broadcast (minus sender)
// so older clients relying on implicit fan-out keep working.
func (r *Room) relaySignal(client *Client, msg Message) {
	var payload SignalPayload
	if err := decodePayload(msg.Payload, &payload); err != nil {
		slog.Warn("malformed signaling payload", "userId", client.UserID, "event", msg.Event, "error", err)
		return
	}
	payload.From = client.UserID

	out := Message{Event: msg.Event, Payload: payload}

	if payload.To == "" {
		r.broadcastExcept(client.SocketID, client.UserID, out)
		return
	}

	target := r.findByUser(payload.To)
	if target == nil {
		slog.Warn("signaling target not in room", "from", client.UserID, "to", payload.To, "meetingId", r.meetingID)
		return
	}
	target.deliver(out)
}

func (r *Room) handleToggleMedia(client *Client, outEvent Event, msg Message) {
	var payload ToggleMediaPayload
	if err := decodePayload(msg.Payload, &payload); err != nil {
		return
	}
	r.broadcastAll(client.UserID, Message{Event: outEvent, Payload: MediaToggledPayload{UserID: client.UserID, Enabled: payload.Enabled}})
}

// handleChatMessage persists the message to the durable meeting record
// before fanning it out, then broadcasts to the full room including the
// sender so every client renders from one authoritative echo.
func (r *Room) handleChatMessage(ctx context.Context, client *Client, msg Message) {
	var payload ChatMessagePayload
	if err := decodePayload(msg.Payload, &payload); err != nil {
		return
	}

	now := time.Now()
	chatMsg := models.ChatMessage{
		ID:        uuid.NewString(),
		Sender:    models.ChatSender{ID: client.UserID, Username: client.DisplayName},
		Type:      models.ChatText,
		Message:   payload.Text,
		Timestamp: now,
	}

	if err := r.deps.PushChat(ctx, r.meetingID, chatMsg); err != nil {
		slog.Error("failed to persist chat message", "meetingId", r.meetingID, "error", err)
		client.deliver(Message{Event: EventError, Payload: ErrorPayload{Message: "message could not be delivered"}})
		return
	}

	r.broadcastAll(client.UserID, Message{Event: EventChatMessage, Payload: ChatMessagePayload{
		ID: chatMsg.ID, SenderID: client.UserID, Text: payload.Text, Timestamp: now,
	}})
}

func (r *Room) handleRaiseHand(client *Client, msg Message) {
	type raiseHandPayload struct {
		Raised bool `json:"raised"`
	}
	var payload raiseHandPayload
	_ = decodePayload(msg.Payload, &payload)
	r.broadcastAll(client.UserID, Message{Event: EventHandRaised, Payload: HandRaisedPayload{UserID: client.UserID, Raised: payload.Raised}})
}

func (r *Room) handleReaction(client *Client, msg Message) {
	var payload ReactionPayload
	if err := decodePayload(msg.Payload, &payload); err != nil {
		return
	}
	payload.UserID = client.UserID
	r.broadcastAll(client.UserID, Message{Event: EventReaction, Payload: payload})
}

// handleMuteParticipant is host-only; it instructs the target's client to
// mute locally rather than forcing a server-side media change.
func (r *Room) handleMuteParticipant(ctx context.Context, client *Client, msg Message) {
	meeting, err := r.deps.FindMeeting(ctx, r.meetingID)
	if err != nil || !r.deps.CanMuteOthers(meeting, client.UserID) {
		client.deliver(Message{Event: EventError, Payload: ErrorPayload{Message: "not permitted to mute participants"}})
		return
	}

	var payload HostActionPayload
	if err := decodePayload(msg.Payload, &payload); err != nil {
		return
	}

	target := r.findByUser(payload.TargetUserID)
	if target == nil {
		return
	}
	target.deliver(Message{Event: EventMutedByHost})
}

// handleRemoveParticipant is host-only; it disconnects the target's socket,
// which in turn triggers the normal leave path and user-left broadcast.
func (r *Room) handleRemoveParticipant(ctx context.Context, client *Client, msg Message) {
	meeting, err := r.deps.FindMeeting(ctx, r.meetingID)
	if err != nil || !r.deps.CanRemoveOthers(meeting, client.UserID) {
		client.deliver(Message{Event: EventError, Payload: ErrorPayload{Message: "not permitted to remove participants"}})
		return
	}

	var payload HostActionPayload
	if err := decodePayload(msg.Payload, &payload); err != nil {
		return
	}
	r.removeUser(ctx, payload.TargetUserID)
}
