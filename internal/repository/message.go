package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"click-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const messageColumns = `id, connection_id, user_id, content, status, is_read, created_at, updated_at`

// MessageRepository handles database operations for chat messages
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create creates a new message
func (r *MessageRepository) Create(ctx context.Context, m *models.Message) error {
	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		m.ID, m.ConnectionID, m.UserID, m.Content, m.Status, m.IsRead, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// GetByID retrieves a message by ID
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	var m models.Message
	err := r.db.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.ConnectionID, &m.UserID, &m.Content, &m.Status, &m.IsRead, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &m, nil
}

// ListByConnection retrieves a connection's messages, oldest first, with reactions
func (r *MessageRepository) ListByConnection(ctx context.Context, connectionID string) ([]*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE connection_id = $1
		ORDER BY created_at ASC, id ASC
	`
	messages, err := r.query(ctx, query, connectionID)
	if err != nil {
		return nil, err
	}
	if err := r.attachReactions(ctx, connectionID, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Search returns messages whose content contains query, case-insensitively
func (r *MessageRepository) Search(ctx context.Context, connectionID, query string) ([]*models.Message, error) {
	sql := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE connection_id = $1 AND content ILIKE '%' || $2 || '%' ESCAPE '\'
		ORDER BY created_at ASC, id ASC
	`
	return r.query(ctx, sql, connectionID, escapeLike(query))
}

func (r *MessageRepository) query(ctx context.Context, sql string, args ...any) ([]*models.Message, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		var m models.Message
		err := rows.Scan(
			&m.ID, &m.ConnectionID, &m.UserID, &m.Content, &m.Status, &m.IsRead, &m.CreatedAt, &m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

func (r *MessageRepository) attachReactions(ctx context.Context, connectionID string, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	query := `
		SELECT r.message_id, r.user_id, r.type, r.created_at
		FROM reactions r
		JOIN messages m ON m.id = r.message_id
		WHERE m.connection_id = $1
		ORDER BY r.created_at ASC
	`
	rows, err := r.db.Query(ctx, query, connectionID)
	if err != nil {
		return fmt.Errorf("failed to get reactions: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*models.Message, len(messages))
	for _, m := range messages {
		byID[m.ID] = m
	}
	for rows.Next() {
		var reaction models.Reaction
		if err := rows.Scan(&reaction.MessageID, &reaction.UserID, &reaction.Type, &reaction.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan reaction: %w", err)
		}
		if m, ok := byID[reaction.MessageID]; ok {
			m.Reactions = append(m.Reactions, reaction)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating reactions: %w", err)
	}
	return nil
}

// MarkRead marks every unread message not sent by readerID as read
func (r *MessageRepository) MarkRead(ctx context.Context, connectionID, readerID string) (int64, error) {
	query := `
		UPDATE messages
		SET is_read = TRUE, status = $3
		WHERE connection_id = $1 AND user_id <> $2 AND is_read = FALSE
	`
	result, err := r.db.Exec(ctx, query, connectionID, readerID, models.StatusRead)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return result.RowsAffected(), nil
}

// UpdateStatus sets the delivery status of a message
func (r *MessageRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE messages SET status = $2, is_read = (is_read OR $2 = 'read') WHERE id = $1`
	return r.execOne(ctx, "update message status", query, id, status)
}

// UpdateContent replaces the content of a message
func (r *MessageRepository) UpdateContent(ctx context.Context, id, content string, at time.Time) error {
	query := `UPDATE messages SET content = $2, updated_at = $3 WHERE id = $1`
	return r.execOne(ctx, "update message content", query, id, content, at)
}

// Delete deletes a message by ID
func (r *MessageRepository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, "delete message", `DELETE FROM messages WHERE id = $1`, id)
}

// DeleteByConnection deletes a connection's whole thread. Reactions cascade.
func (r *MessageRepository) DeleteByConnection(ctx context.Context, connectionID string) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM messages WHERE connection_id = $1`, connectionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	return result.RowsAffected(), nil
}

// AddReaction stores a reaction; adding the same reaction twice is a no-op
func (r *MessageRepository) AddReaction(ctx context.Context, reaction models.Reaction) error {
	query := `
		INSERT INTO reactions (message_id, user_id, type, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, user_id, type) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, reaction.MessageID, reaction.UserID, reaction.Type, reaction.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add reaction: %w", err)
	}
	return nil
}

// RemoveReaction deletes a reaction
func (r *MessageRepository) RemoveReaction(ctx context.Context, messageID, userID, reactionType string) error {
	query := `DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND type = $3`
	return r.execOne(ctx, "remove reaction", query, messageID, userID, reactionType)
}

func (r *MessageRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
