package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/OrtobomPatricio/crmpro/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConversationRepository handles channel threads
type ConversationRepository struct {
	db *pgxpool.Pool
}

// GetOrCreate returns the conversation for (account, channel_jid), creating
// it when absent. The upsert keeps the call idempotent under concurrent
// inbound events for the same thread.
func (r *ConversationRepository) GetOrCreate(ctx context.Context, accountID, deviceID uuid.UUID, channelJID string, leadID *uuid.UUID) (*domain.Conversation, error) {
	conv := &domain.Conversation{}
	err := r.db.QueryRow(ctx, `
		INSERT INTO conversations (account_id, device_id, lead_id, channel_jid)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, channel_jid) DO UPDATE SET
			device_id = COALESCE(conversations.device_id, EXCLUDED.device_id),
			lead_id = COALESCE(conversations.lead_id, EXCLUDED.lead_id),
			updated_at = NOW()
		RETURNING id, account_id, device_id, lead_id, channel_jid, last_message, last_message_at, unread_count, is_archived, created_at, updated_at
	`, accountID, deviceID, leadID, channelJID).Scan(
		&conv.ID, &conv.AccountID, &conv.DeviceID, &conv.LeadID, &conv.ChannelJID,
		&conv.LastMessage, &conv.LastMessageAt, &conv.UnreadCount, &conv.IsArchived,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	conv := &domain.Conversation{}
	err := r.db.QueryRow(ctx, `
		SELECT c.id, c.account_id, c.device_id, c.lead_id, c.channel_jid, c.last_message, c.last_message_at,
		       c.unread_count, c.is_archived, c.created_at, c.updated_at,
		       COALESCE(l.name, ''), COALESCE(l.phone, ''), l.avatar_url
		FROM conversations c
		LEFT JOIN leads l ON l.id = c.lead_id
		WHERE c.id = $1
	`, id).Scan(
		&conv.ID, &conv.AccountID, &conv.DeviceID, &conv.LeadID, &conv.ChannelJID,
		&conv.LastMessage, &conv.LastMessageAt, &conv.UnreadCount, &conv.IsArchived,
		&conv.CreatedAt, &conv.UpdatedAt, &conv.LeadName, &conv.LeadPhone, &conv.LeadAvatar,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *ConversationRepository) List(ctx context.Context, accountID uuid.UUID, filter *domain.ConversationFilter) ([]*domain.Conversation, error) {
	query := `
		SELECT c.id, c.account_id, c.device_id, c.lead_id, c.channel_jid, c.last_message, c.last_message_at,
		       c.unread_count, c.is_archived, c.created_at, c.updated_at,
		       COALESCE(l.name, ''), COALESCE(l.phone, ''), l.avatar_url
		FROM conversations c
		LEFT JOIN leads l ON l.id = c.lead_id
		WHERE c.account_id = $1`
	args := []interface{}{accountID}
	argNum := 1

	if filter != nil {
		if filter.DeviceID != nil {
			argNum++
			query += fmt.Sprintf(" AND c.device_id = $%d", argNum)
			args = append(args, *filter.DeviceID)
		}
		if filter.Search != nil && *filter.Search != "" {
			argNum++
			query += fmt.Sprintf(" AND (l.name ILIKE $%d OR l.phone ILIKE $%d OR c.channel_jid ILIKE $%d)", argNum, argNum, argNum)
			args = append(args, "%"+*filter.Search+"%")
		}
		if filter.UnreadOnly {
			query += " AND c.unread_count > 0"
		}
		if filter.Archived != nil {
			argNum++
			query += fmt.Sprintf(" AND c.is_archived = $%d", argNum)
			args = append(args, *filter.Archived)
		}
	}

	query += " ORDER BY c.last_message_at DESC NULLS LAST"

	if filter != nil && filter.Limit > 0 {
		argNum++
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			argNum++
			query += fmt.Sprintf(" OFFSET $%d", argNum)
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		conv := &domain.Conversation{}
		if err := rows.Scan(
			&conv.ID, &conv.AccountID, &conv.DeviceID, &conv.LeadID, &conv.ChannelJID,
			&conv.LastMessage, &conv.LastMessageAt, &conv.UnreadCount, &conv.IsArchived,
			&conv.CreatedAt, &conv.UpdatedAt, &conv.LeadName, &conv.LeadPhone, &conv.LeadAvatar,
		); err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// UpdateLastMessage refreshes the preview; incrementUnread is true only for
// inbound messages.
func (r *ConversationRepository) UpdateLastMessage(ctx context.Context, id uuid.UUID, lastMessage string, at time.Time, incrementUnread bool) error {
	increment := 0
	if incrementUnread {
		increment = 1
	}
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET last_message = $2, last_message_at = $3, unread_count = unread_count + $4, updated_at = NOW()
		WHERE id = $1
	`, id, lastMessage, at, increment)
	return err
}

func (r *ConversationRepository) MarkRead(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE conversations SET unread_count = 0, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *ConversationRepository) SetArchived(ctx context.Context, id uuid.UUID, archived bool) error {
	_, err := r.db.Exec(ctx, `UPDATE conversations SET is_archived = $2, updated_at = NOW() WHERE id = $1`, id, archived)
	return err
}

func (r *ConversationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return err
}

func (r *ConversationRepository) DeleteBatch(ctx context.Context, accountID uuid.UUID, ids []uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM conversations WHERE account_id = $1 AND id = ANY($2)`, accountID, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MessageRepository handles message data access
type MessageRepository struct {
	db *pgxpool.Pool
}

// Create appends a message. Duplicate wire ids for the same device collapse
// to a no-op; the returned bool reports whether a row was actually inserted
// so callers can skip side effects on replayed deliveries.
func (r *MessageRepository) Create(ctx context.Context, message *domain.Message) (bool, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO messages (account_id, device_id, conversation_id, message_id, direction, from_jid, from_name, body, message_type, media_url, media_mimetype, media_size, status, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (account_id, device_id, message_id) DO NOTHING
		RETURNING id, created_at
	`, message.AccountID, message.DeviceID, message.ConversationID, message.MessageID,
		message.Direction, message.FromJID, message.FromName, message.Body, message.MessageType,
		message.MediaURL, message.MediaMimetype, message.MediaSize, message.Status, message.Timestamp).Scan(
		&message.ID, &message.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		// Duplicate delivery: the original row stands
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int, before *time.Time) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, account_id, device_id, conversation_id, message_id, direction, from_jid, from_name,
		       body, message_type, media_url, media_mimetype, media_size, status, timestamp, created_at
		FROM messages WHERE conversation_id = $1`
	args := []interface{}{conversationID}

	if before != nil {
		query += ` AND timestamp < $2 ORDER BY timestamp DESC LIMIT $3`
		args = append(args, *before, limit)
	} else {
		query += ` ORDER BY timestamp DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		if err := rows.Scan(
			&m.ID, &m.AccountID, &m.DeviceID, &m.ConversationID, &m.MessageID, &m.Direction,
			&m.FromJID, &m.FromName, &m.Body, &m.MessageType, &m.MediaURL, &m.MediaMimetype,
			&m.MediaSize, &m.Status, &m.Timestamp, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Oldest first for rendering
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// UpdateStatusByWireID applies a delivery receipt to the stored message.
func (r *MessageRepository) UpdateStatusByWireID(ctx context.Context, deviceID uuid.UUID, wireID, status string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE messages SET status = $3 WHERE device_id = $1 AND message_id = $2
	`, deviceID, wireID, status)
	return err
}
