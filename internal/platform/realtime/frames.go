package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rehab/rehab/pkg/apperror"
)

// Frame type tags. Inbound and outbound frames share one tag namespace;
// a tag never changes meaning between directions.
const (
	FrameMessage           = "message"
	FrameTyping            = "typing"
	FrameReadReceipt       = "read_receipt"
	FrameUserJoined        = "user_joined"
	FrameUserLeft          = "user_left"
	FrameNotification      = "notification"
	FrameNotificationCount = "notification_count"
)

// Inbound is a client-to-server frame. Only the fields relevant to the
// declared type are populated; everything else stays at its zero value.
type Inbound struct {
	Type       string      `json:"type"`
	Content    string      `json:"content"`
	IsTyping   bool        `json:"is_typing"`
	MessageIDs []uuid.UUID `json:"message_ids"`
}

// DecodeInbound parses a raw client frame. Unknown type tags and frames
// that are not valid JSON objects are rejected with a validation error;
// callers drop such frames without closing the connection.
func DecodeInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, apperror.Validation("malformed frame: %v", err)
	}
	switch in.Type {
	case FrameMessage, FrameTyping, FrameReadReceipt:
		return in, nil
	default:
		return Inbound{}, apperror.Validation("unknown frame type %q", in.Type)
	}
}

// Event is a server-to-client frame. One struct covers all outbound types;
// id fields are pointers so frames only carry what their type defines.
type Event struct {
	Type           string          `json:"type"`
	ConversationID *uuid.UUID      `json:"conversation_id,omitempty"`
	UserID         *uuid.UUID      `json:"user_id,omitempty"`
	MessageID      *uuid.UUID      `json:"message_id,omitempty"`
	IsTyping       *bool           `json:"is_typing,omitempty"`
	ActiveUsers    []uuid.UUID     `json:"active_users,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	UnreadCount    *int            `json:"unread_count,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// NewMessageEvent wraps an encoded message body for room delivery.
func NewMessageEvent(conversationID uuid.UUID, body json.RawMessage) Event {
	return Event{
		Type:           FrameMessage,
		ConversationID: &conversationID,
		Payload:        body,
		Timestamp:      time.Now().UTC(),
	}
}

// NewTypingEvent announces a typing state change inside a room.
func NewTypingEvent(conversationID, userID uuid.UUID, isTyping bool) Event {
	return Event{
		Type:           FrameTyping,
		ConversationID: &conversationID,
		UserID:         &userID,
		IsTyping:       &isTyping,
		Timestamp:      time.Now().UTC(),
	}
}

// NewReadReceiptEvent announces that a user read a message.
func NewReadReceiptEvent(conversationID, messageID, userID uuid.UUID) Event {
	return Event{
		Type:           FrameReadReceipt,
		ConversationID: &conversationID,
		MessageID:      &messageID,
		UserID:         &userID,
		Timestamp:      time.Now().UTC(),
	}
}

// NewUserJoinedEvent announces a user entering a room, carrying the room's
// active user snapshot as observed at send time.
func NewUserJoinedEvent(conversationID, userID uuid.UUID, active []uuid.UUID) Event {
	return Event{
		Type:           FrameUserJoined,
		ConversationID: &conversationID,
		UserID:         &userID,
		ActiveUsers:    active,
		Timestamp:      time.Now().UTC(),
	}
}

// NewUserLeftEvent announces a user leaving a room.
func NewUserLeftEvent(conversationID, userID uuid.UUID, active []uuid.UUID) Event {
	return Event{
		Type:           FrameUserLeft,
		ConversationID: &conversationID,
		UserID:         &userID,
		ActiveUsers:    active,
		Timestamp:      time.Now().UTC(),
	}
}

// NewNotificationEvent tells a recipient who is not in the room that the
// conversation has new activity. It carries the unread total, never the
// message content; the client fetches the thread when it wants the body.
func NewNotificationEvent(conversationID uuid.UUID, unread int) Event {
	return Event{
		Type:           FrameNotification,
		ConversationID: &conversationID,
		UnreadCount:    &unread,
		Timestamp:      time.Now().UTC(),
	}
}

// NewNotificationCountEvent carries a user's current unread total, sent on
// notification connect and after read operations.
func NewNotificationCountEvent(unread int) Event {
	return Event{
		Type:        FrameNotificationCount,
		UnreadCount: &unread,
		Timestamp:   time.Now().UTC(),
	}
}
