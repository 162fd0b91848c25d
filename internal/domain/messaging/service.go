package messaging

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rehab/rehab/internal/domain/directory"
	"github.com/rehab/rehab/pkg/apperror"
)

const MaxContentLength = 10000

// Service implements the messaging operations. It is the only layer that
// touches both the stores and the broadcaster; handlers stay thin.
type Service struct {
	conversations ConversationRepository
	messages      MessageRepository
	users         directory.Repository
	broadcaster   *Broadcaster
	logger        zerolog.Logger
}

func NewService(
	conversations ConversationRepository,
	messages MessageRepository,
	users directory.Repository,
	broadcaster *Broadcaster,
	logger zerolog.Logger,
) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		users:         users,
		broadcaster:   broadcaster,
		logger:        logger,
	}
}

// -- Conversations --

// CreateConversation starts a new conversation. The creator is always a
// participant. Duplicate direct conversations between the same pair are
// allowed; clients that want reuse must search before creating.
func (s *Service) CreateConversation(ctx context.Context, creatorID uuid.UUID, convType string, name *string, participantIDs []uuid.UUID) (*Conversation, error) {
	if convType != ConversationChat && convType != ConversationGroup {
		return nil, apperror.Validation("invalid conversation type: %s", convType)
	}

	ids := dedupe(append([]uuid.UUID{creatorID}, participantIDs...))
	if len(ids) < 2 {
		return nil, apperror.Validation("a conversation needs at least two participants")
	}
	if convType == ConversationChat && len(ids) != 2 {
		return nil, apperror.Validation("a chat conversation has exactly two participants")
	}

	missing, err := s.users.ExistAll(ctx, ids)
	if err != nil {
		return nil, apperror.Internal("verifying participants", err)
	}
	if len(missing) > 0 {
		return nil, apperror.Validation("unknown participants: %v", missing)
	}

	conv := &Conversation{
		Type:           convType,
		Name:           name,
		ParticipantIDs: ids,
		CreatedBy:      creatorID,
		Status:         ConversationActive,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, apperror.Internal("creating conversation", err)
	}
	return conv, nil
}

// ListConversations pages the user's conversations, most recent activity
// first. An empty status returns all of them.
func (s *Service) ListConversations(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]*Conversation, int, error) {
	if status != "" && status != ConversationActive && status != ConversationArchived {
		return nil, 0, apperror.Validation("invalid conversation status: %s", status)
	}
	return s.conversations.ListByParticipant(ctx, userID, status, limit, offset)
}

// GetConversation loads a conversation the user participates in. Requests
// from non-participants fail with an authorization error, not a 404, so
// clients can distinguish a stale id from a revoked membership.
func (s *Service) GetConversation(ctx context.Context, userID, conversationID uuid.UUID) (*Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, apperror.Authorization("not a participant of this conversation")
	}
	return conv, nil
}

// -- Messages --

// SendMessage persists a message and fans it out. The unread counter bump
// and last-message timestamp are separate statements from the insert: if
// either fails the message is already durable, the counters drift, and
// the next markConversationRead re-syncs them.
func (s *Service) SendMessage(ctx context.Context, senderID, conversationID uuid.UUID, content, msgType string, attachments []Attachment, metadata map[string]interface{}) (*Message, error) {
	conv, err := s.GetConversation(ctx, senderID, conversationID)
	if err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	if content == "" && len(attachments) == 0 {
		return nil, apperror.Validation("message needs content or attachments")
	}
	if len(content) > MaxContentLength {
		return nil, apperror.Validation("message content exceeds %d characters", MaxContentLength)
	}
	if msgType == "" {
		msgType = MessageText
	}
	if msgType != MessageText && msgType != MessageImage && msgType != MessageFile {
		return nil, apperror.Validation("invalid message type: %s", msgType)
	}

	msg := &Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           msgType,
		Attachments:    attachments,
		Metadata:       metadata,
		Status:         MessageActive,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, apperror.Internal("persisting message", err)
	}

	if err := s.conversations.TouchLastMessage(ctx, conversationID, msg.CreatedAt); err != nil {
		s.logger.Error().Err(err).Stringer("conversation_id", conversationID).Msg("update last_message_at")
	}
	if err := s.conversations.IncrementUnread(ctx, conversationID, senderID); err != nil {
		s.logger.Error().Err(err).Stringer("conversation_id", conversationID).Msg("bump unread counters")
	}

	// Re-read for fresh counters; fall back to the pre-send snapshot if the
	// read fails so fan-out still happens.
	fresh, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		s.logger.Error().Err(err).Stringer("conversation_id", conversationID).Msg("reload conversation after send")
		fresh = conv
	}
	s.broadcaster.MessageSent(fresh, msg)

	return msg, nil
}

// GetMessages pages through a conversation newest first. A beforeID cursor
// restricts the page to strictly older messages; an unknown beforeID
// yields an empty page rather than an error.
func (s *Service) GetMessages(ctx context.Context, userID, conversationID uuid.UUID, limit int, beforeID *uuid.UUID) ([]*Message, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByConversation(ctx, conversationID, limit, beforeID)
	if err != nil {
		return nil, apperror.Internal("listing messages", err)
	}
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Sanitized()
	}
	return out, nil
}

// MarkMessageRead records that the user read one message, lowers their
// unread counter, and emits a read receipt to the room. Repeat calls are
// no-ops: the counter moves and the receipt fires only on the first one.
// Callers without access to the message get a not-found error, matching
// what an unknown id returns.
func (s *Service) MarkMessageRead(ctx context.Context, userID, messageID uuid.UUID) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	conv, err := s.conversations.GetByID(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return apperror.NotFound("message not found")
	}
	if msg.ReadByUser(userID) {
		return nil
	}
	if err := s.messages.MarkRead(ctx, messageID, userID); err != nil {
		return apperror.Internal("marking message read", err)
	}
	if userID != msg.SenderID {
		if err := s.conversations.DecrementUnread(ctx, msg.ConversationID, userID); err != nil {
			s.logger.Error().Err(err).Stringer("conversation_id", msg.ConversationID).Msg("lower unread counter")
		}
	}
	s.broadcaster.ReadReceipt(msg.ConversationID, messageID, userID)
	return nil
}

// MarkConversationRead marks everything in the conversation read for the
// user, zeroes their counter, and pushes the new unread total to their
// notification connections. Returns how many messages were newly marked.
func (s *Service) MarkConversationRead(ctx context.Context, userID, conversationID uuid.UUID) (int, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return 0, err
	}
	marked, err := s.messages.MarkConversationRead(ctx, conversationID, userID)
	if err != nil {
		return 0, apperror.Internal("marking conversation read", err)
	}
	if err := s.conversations.ResetUnread(ctx, conversationID, userID); err != nil {
		return 0, apperror.Internal("resetting unread counter", err)
	}

	total, err := s.conversations.TotalUnread(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Stringer("user_id", userID).Msg("compute unread total")
		return marked, nil
	}
	s.broadcaster.UnreadChanged(userID, total)
	return marked, nil
}

// DeleteMessage soft-deletes a message. Only the sender may delete; the
// row survives with a deleted status and readers see the tombstone.
// Deleting an already deleted message is a no-op.
func (s *Service) DeleteMessage(ctx context.Context, userID, messageID uuid.UUID) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		return apperror.Authorization("only the sender can delete a message")
	}
	if msg.Status == MessageDeleted {
		return nil
	}
	if err := s.messages.SoftDelete(ctx, messageID); err != nil {
		return apperror.Internal("deleting message", err)
	}
	msg.Status = MessageDeleted

	conv, err := s.conversations.GetByID(ctx, msg.ConversationID)
	if err != nil {
		s.logger.Error().Err(err).Stringer("conversation_id", msg.ConversationID).Msg("load conversation for delete event")
		return nil
	}
	s.broadcaster.MessageDeleted(conv, msg)
	return nil
}

// TotalUnreadForUser sums the user's unread counters across all of their
// active conversations.
func (s *Service) TotalUnreadForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	total, err := s.conversations.TotalUnread(ctx, userID)
	if err != nil {
		return 0, apperror.Internal("computing unread total", err)
	}
	return total, nil
}

// HandleTyping relays a typing indicator after a membership check. Typing
// state is ephemeral; nothing is persisted.
func (s *Service) HandleTyping(ctx context.Context, userID, conversationID uuid.UUID, isTyping bool) error {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	s.broadcaster.Typing(conversationID, userID, isTyping)
	return nil
}

// SyncSince returns every message newer than the given instant across the
// user's conversations, oldest first. The result is unbounded; a client
// that has been offline for long gets everything in one response.
func (s *Service) SyncSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*Message, error) {
	msgs, err := s.messages.ListSince(ctx, userID, since)
	if err != nil {
		return nil, apperror.Internal("syncing messages", err)
	}
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Sanitized()
	}
	return out, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
