package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Conversation types.
const (
	ConversationChat  = "chat"
	ConversationGroup = "group"
)

// Conversation statuses.
const (
	ConversationActive   = "active"
	ConversationArchived = "archived"
)

// Message content types.
const (
	MessageText  = "text"
	MessageImage = "image"
	MessageFile  = "file"
)

// Message statuses. A deleted message keeps its row; readers see the
// tombstone instead of the original content.
const (
	MessageActive  = "active"
	MessageDeleted = "deleted"
)

// TombstoneContent replaces the body of a deleted message on every read
// path so clients keep a stable placeholder in the thread.
const TombstoneContent = "This message has been deleted"

// Conversation is a chat thread between two or more participants. Unread
// counters are stored per participant, keyed by user id.
type Conversation struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	Type           string         `db:"type" json:"type"`
	Name           *string        `db:"name" json:"name,omitempty"`
	ParticipantIDs []uuid.UUID    `db:"participant_ids" json:"participant_ids"`
	CreatedBy      uuid.UUID      `db:"created_by" json:"created_by"`
	Status         string         `db:"status" json:"status"`
	UnreadCounts   map[string]int `db:"unread_counts" json:"unread_counts"`
	LastMessageAt  *time.Time     `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// HasParticipant reports whether the user belongs to the conversation.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// UnreadFor returns the participant's unread counter. The counter is a
// hint refreshed by read operations, not a transactional truth.
func (c *Conversation) UnreadFor(userID uuid.UUID) int {
	if c.UnreadCounts == nil {
		return 0
	}
	return c.UnreadCounts[userID.String()]
}

// Attachment is a file reference carried on a message. The blob itself
// lives in external storage; messages only keep the pointer.
type Attachment struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	MimeType  string `json:"mime_type,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Message is one entry in a conversation. ReadBy grows monotonically; a
// user id is appended at most once.
type Message struct {
	ID             uuid.UUID              `db:"id" json:"id"`
	ConversationID uuid.UUID              `db:"conversation_id" json:"conversation_id"`
	SenderID       uuid.UUID              `db:"sender_id" json:"sender_id"`
	Content        string                 `db:"content" json:"content"`
	Type           string                 `db:"type" json:"type"`
	Attachments    []Attachment           `db:"attachments" json:"attachments,omitempty"`
	Metadata       map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	ReadBy         []uuid.UUID            `db:"read_by" json:"read_by"`
	Status         string                 `db:"status" json:"status"`
	CreatedAt      time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time              `db:"updated_at" json:"updated_at"`
}

// ReadByUser reports whether the user already appears in ReadBy.
func (m *Message) ReadByUser(userID uuid.UUID) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Sanitized returns the message as it may be served to clients: deleted
// messages carry the tombstone and lose their attachments and metadata.
func (m *Message) Sanitized() *Message {
	if m.Status != MessageDeleted {
		return m
	}
	out := *m
	out.Content = TombstoneContent
	out.Attachments = nil
	out.Metadata = nil
	return &out
}
