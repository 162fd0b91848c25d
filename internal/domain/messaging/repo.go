package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConversationRepository persists conversations and their per-participant
// unread counters.
type ConversationRepository interface {
	Create(ctx context.Context, c *Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error)
	// ListByParticipant pages the user's conversations newest activity
	// first. An empty status matches every status.
	ListByParticipant(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]*Conversation, int, error)
	// IncrementUnread bumps every participant's counter except the sender's.
	IncrementUnread(ctx context.Context, id, senderID uuid.UUID) error
	// DecrementUnread lowers one participant's counter by one, floored at
	// zero.
	DecrementUnread(ctx context.Context, id, userID uuid.UUID) error
	// ResetUnread zeroes one participant's counter.
	ResetUnread(ctx context.Context, id, userID uuid.UUID) error
	TouchLastMessage(ctx context.Context, id uuid.UUID, at time.Time) error
	// TotalUnread sums the user's counters across their conversations.
	TotalUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// MessageRepository persists messages. Soft deletion keeps the row and
// flips the status; content substitution happens at read time.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	// ListByConversation returns messages newest first. A non-nil beforeID
	// restricts the page to messages strictly older than that message.
	ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int, beforeID *uuid.UUID) ([]*Message, error)
	// ListSince returns all messages after the given instant across the
	// user's conversations, oldest first.
	ListSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*Message, error)
	// MarkRead appends the user to read_by if not already present.
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
	// MarkConversationRead marks every message in the conversation not yet
	// read by the user as read by them and returns how many were marked.
	MarkConversationRead(ctx context.Context, conversationID, userID uuid.UUID) (int, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}
