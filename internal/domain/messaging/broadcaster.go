package messaging

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rehab/rehab/internal/platform/realtime"
)

// Broadcaster routes live events for the messaging domain. Delivery is
// best effort over registry snapshots: a participant who joins or leaves
// a room mid-fanout may miss or double-receive one event.
type Broadcaster struct {
	registry *realtime.Registry
	logger   zerolog.Logger
}

func NewBroadcaster(registry *realtime.Registry, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{registry: registry, logger: logger}
}

// MessageSent fans a new message out. Participants with a live room
// subscription get a message frame; everyone else gets a notification
// frame carrying their unread counter but not the content, on whatever
// connections they have. The sender receives nothing.
func (b *Broadcaster) MessageSent(conv *Conversation, msg *Message) {
	body, err := json.Marshal(msg.Sanitized())
	if err != nil {
		b.logger.Error().Err(err).Stringer("message_id", msg.ID).Msg("encode message event")
		return
	}

	b.registry.SendToRoomExcept(conv.ID, realtime.NewMessageEvent(conv.ID, body), msg.SenderID)

	for _, participantID := range conv.ParticipantIDs {
		if participantID == msg.SenderID {
			continue
		}
		if b.registry.UserInRoom(conv.ID, participantID) {
			continue
		}
		unread := conv.UnreadFor(participantID)
		b.registry.SendToUser(participantID, realtime.NewNotificationEvent(conv.ID, unread))
	}
}

// MessageDeleted pushes the tombstoned message to the room so open
// clients replace the original in place.
func (b *Broadcaster) MessageDeleted(conv *Conversation, msg *Message) {
	body, err := json.Marshal(msg.Sanitized())
	if err != nil {
		b.logger.Error().Err(err).Stringer("message_id", msg.ID).Msg("encode delete event")
		return
	}
	b.registry.SendToRoom(conv.ID, realtime.NewMessageEvent(conv.ID, body))
}

// Typing relays a typing indicator to everyone else in the room.
func (b *Broadcaster) Typing(conversationID, userID uuid.UUID, isTyping bool) {
	b.registry.SendToRoomExcept(conversationID, realtime.NewTypingEvent(conversationID, userID, isTyping), userID)
}

// ReadReceipt announces to the room that a user read a message.
func (b *Broadcaster) ReadReceipt(conversationID, messageID, userID uuid.UUID) {
	b.registry.SendToRoom(conversationID, realtime.NewReadReceiptEvent(conversationID, messageID, userID))
}

// UserJoined announces a room entry with the active user set as seen at
// send time.
func (b *Broadcaster) UserJoined(conversationID, userID uuid.UUID) {
	active := b.registry.ActiveUsersInRoom(conversationID)
	b.registry.SendToRoom(conversationID, realtime.NewUserJoinedEvent(conversationID, userID, active))
}

// UserLeft announces a room exit. Called after the connection has been
// removed, so the active set no longer includes the leaver unless they
// hold another connection.
func (b *Broadcaster) UserLeft(conversationID, userID uuid.UUID) {
	active := b.registry.ActiveUsersInRoom(conversationID)
	b.registry.SendToRoom(conversationID, realtime.NewUserLeftEvent(conversationID, userID, active))
}

// UnreadChanged pushes the user's new unread total to their notification
// connections.
func (b *Broadcaster) UnreadChanged(userID uuid.UUID, total int) {
	b.registry.SendToUser(userID, realtime.NewNotificationCountEvent(total))
}
