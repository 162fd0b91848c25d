package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rehab/rehab/internal/platform/db"
	"github.com/rehab/rehab/pkg/apperror"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Conversation Repository ===========

type conversationRepoPG struct{ pool *pgxpool.Pool }

func NewConversationRepoPG(pool *pgxpool.Pool) ConversationRepository {
	return &conversationRepoPG{pool: pool}
}

func (r *conversationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const convCols = `id, type, name, participant_ids, created_by, status, unread_counts,
	last_message_at, created_at, updated_at`

func (r *conversationRepoPG) scanConv(row pgx.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.Type, &c.Name, &c.ParticipantIDs, &c.CreatedBy, &c.Status,
		&c.UnreadCounts, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("conversation not found")
	}
	return &c, err
}

func (r *conversationRepoPG) Create(ctx context.Context, c *Conversation) error {
	c.ID = uuid.New()
	if c.UnreadCounts == nil {
		c.UnreadCounts = make(map[string]int, len(c.ParticipantIDs))
		for _, p := range c.ParticipantIDs {
			c.UnreadCounts[p.String()] = 0
		}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO conversation (id, type, name, participant_ids, created_by, status, unread_counts)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.Type, c.Name, c.ParticipantIDs, c.CreatedBy, c.Status, c.UnreadCounts)
	return err
}

func (r *conversationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	return r.scanConv(r.conn(ctx).QueryRow(ctx, `SELECT `+convCols+` FROM conversation WHERE id = $1`, id))
}

func (r *conversationRepoPG) ListByParticipant(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]*Conversation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM conversation
		WHERE $1 = ANY(participant_ids) AND ($2 = '' OR status = $2)`, userID, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+convCols+` FROM conversation
		WHERE $1 = ANY(participant_ids) AND ($2 = '' OR status = $2)
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC
		LIMIT $3 OFFSET $4`, userID, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Conversation
	for rows.Next() {
		c, err := r.scanConv(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, nil
}

func (r *conversationRepoPG) IncrementUnread(ctx context.Context, id, senderID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE conversation
		SET unread_counts = (
			SELECT COALESCE(jsonb_object_agg(
				k, CASE WHEN k = $2::text THEN v::int ELSE v::int + 1 END), '{}'::jsonb)
			FROM jsonb_each_text(unread_counts) AS e(k, v)
		), updated_at = NOW()
		WHERE id = $1`, id, senderID.String())
	return err
}

func (r *conversationRepoPG) DecrementUnread(ctx context.Context, id, userID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE conversation
		SET unread_counts = jsonb_set(
			unread_counts, ARRAY[$2::text],
			to_jsonb(GREATEST(0, COALESCE((unread_counts ->> $2), '0')::int - 1))
		), updated_at = NOW()
		WHERE id = $1`, id, userID.String())
	return err
}

func (r *conversationRepoPG) ResetUnread(ctx context.Context, id, userID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE conversation
		SET unread_counts = jsonb_set(unread_counts, ARRAY[$2::text], '0'), updated_at = NOW()
		WHERE id = $1`, id, userID.String())
	return err
}

func (r *conversationRepoPG) TouchLastMessage(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE conversation SET last_message_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	return err
}

func (r *conversationRepoPG) TotalUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM((unread_counts ->> $1)::int), 0)
		FROM conversation
		WHERE $2 = ANY(participant_ids) AND status = $3`,
		userID.String(), userID, ConversationActive).Scan(&total)
	return total, err
}

// =========== Message Repository ===========

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

func (r *messageRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const msgCols = `id, conversation_id, sender_id, content, type, attachments, metadata,
	read_by, status, created_at, updated_at`

func (r *messageRepoPG) scanMsg(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type,
		&m.Attachments, &m.Metadata, &m.ReadBy, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("message not found")
	}
	return &m, err
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	if m.ReadBy == nil {
		m.ReadBy = []uuid.UUID{m.SenderID}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO message (id, conversation_id, sender_id, content, type, attachments, metadata, read_by, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.Type, m.Attachments, m.Metadata, m.ReadBy, m.Status).
		Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *messageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	return r.scanMsg(r.conn(ctx).QueryRow(ctx, `SELECT `+msgCols+` FROM message WHERE id = $1`, id))
}

func (r *messageRepoPG) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int, beforeID *uuid.UUID) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+msgCols+` FROM message
		WHERE conversation_id = $1
		  AND ($2::uuid IS NULL OR (created_at, id) < (SELECT created_at, id FROM message WHERE id = $2))
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, conversationID, beforeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		m, err := r.scanMsg(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, nil
}

func (r *messageRepoPG) ListSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+msgCols+` FROM message m
		WHERE m.created_at > $2
		  AND EXISTS (
			SELECT 1 FROM conversation c
			WHERE c.id = m.conversation_id AND $1 = ANY(c.participant_ids)
		  )
		ORDER BY m.created_at ASC, m.id ASC`, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		m, err := r.scanMsg(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, nil
}

func (r *messageRepoPG) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	// No-op when the user already appears in read_by, which keeps the
	// operation idempotent.
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE message SET read_by = array_append(read_by, $2), updated_at = NOW()
		WHERE id = $1 AND NOT ($2 = ANY(read_by))`, id, userID)
	return err
}

func (r *messageRepoPG) MarkConversationRead(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE message SET read_by = array_append(read_by, $2), updated_at = NOW()
		WHERE conversation_id = $1 AND NOT ($2 = ANY(read_by))`, conversationID, userID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *messageRepoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE message SET status = $2, updated_at = NOW() WHERE id = $1`, id, MessageDeleted)
	return err
}
