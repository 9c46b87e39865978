package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"click-backend/internal/config"
	"click-backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ChatService serves the message thread of a connection. The chat id is
// the connection id.
type ChatService struct {
	lifecycle *ConnectionLifecycle
	messages  MessageStore
	gate      *ChatGate
	notifier  Notifier
	typing    *typingTracker
	maxLength int
	now       func() time.Time
}

// NewChatService creates a new chat service
func NewChatService(lifecycle *ConnectionLifecycle, messages MessageStore, gate *ChatGate, notifier Notifier, cfg config.ChatConfig) *ChatService {
	return &ChatService{
		lifecycle: lifecycle,
		messages:  messages,
		gate:      gate,
		notifier:  orNop(notifier),
		typing:    newTypingTracker(cfg.TypingTTL),
		maxLength: cfg.MaxMessageLength,
		now:       time.Now,
	}
}

// SendMessageRequest represents a new chat message
type SendMessageRequest struct {
	Content string `json:"content"`
}

// Send appends a message to the thread. Sending is rejected with
// ErrChatNotStarted until the chat gate has opened.
func (s *ChatService) Send(ctx context.Context, userID, connectionID, content string) (*models.Message, error) {
	conn, err := s.lifecycle.ForParticipant(ctx, connectionID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CanSend(conn); err != nil {
		return nil, err
	}
	content, err = s.validContent(content)
	if err != nil {
		return nil, err
	}

	message := &models.Message{
		ID:           uuid.New().String(),
		ConnectionID: conn.ID,
		UserID:       userID,
		Content:      content,
		Status:       models.StatusSent,
		CreatedAt:    s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.messages.Create(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	s.typing.clear(conn.ID, userID)

	log.Debug().
		Str("connection_id", conn.ID).
		Str("user_id", userID).
		Str("message_id", message.ID).
		Msg("Message sent")

	s.notifyOther(ctx, conn, userID, WSMessage{
		Type:         EventNewMessage,
		ConnectionID: conn.ID,
		UserID:       userID,
		MessageID:    message.ID,
		Message:      message.Content,
		Data:         message,
	})
	return message, nil
}

// List returns the thread oldest first
func (s *ChatService) List(ctx context.Context, userID, connectionID string) ([]*models.Message, error) {
	conn, err := s.lifecycle.ForParticipant(ctx, connectionID, userID)
	if err != nil {
		return nil, err
	}
	return s.messages.ListByConnection(ctx, conn.ID)
}

// Search returns messages containing query, case-insensitively
func (s *ChatService) Search(ctx context.Context, userID, connectionID, query string) ([]*models.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalidInput("search query is required")
	}
	conn, err := s.lifecycle.ForParticipant(ctx, connectionID, userID)
	if err != nil {
		return nil, err
	}
	return s.messages.Search(ctx, conn.ID, query)
}

// MarkRead marks the other participant's messages as read
func (s *ChatService) MarkRead(ctx context.Context, userID, connectionID string) (int64, error) {
	conn, err := s.lifecycle.ForParticipant(ctx, connectionID, userID)
	if err != nil {
		return 0, err
	}
	n, err := s.messages.MarkRead(ctx, conn.ID, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.notifyOther(ctx, conn, userID, WSMessage{
			Type:         EventMessagesRead,
			ConnectionID: conn.ID,
			UserID:       userID,
		})
	}
	return n, nil
}

// SetStatus updates the delivery status of a message in one of the
// caller's connections.
func (s *ChatService) SetStatus(ctx context.Context, userID, messageID, status string) (*models.Message, error) {
	if !models.ValidStatus(status) {
		return nil, invalidInput("unknown status %q", status)
	}
	message, conn, err := s.message(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.messages.UpdateStatus(ctx, message.ID, status); err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	message.Status = status
	if status == models.StatusRead {
		message.IsRead = true
	}
	s.notifyOther(ctx, conn, userID, WSMessage{
		Type:         EventMessageUpdated,
		ConnectionID: conn.ID,
		MessageID:    message.ID,
		Data:         message,
	})
	return message, nil
}

// Edit replaces the content of a message. Only the sender may edit.
func (s *ChatService) Edit(ctx context.Context, userID, messageID, content string) (*models.Message, error) {
	message, conn, err := s.message(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if message.UserID != userID {
		return nil, fmt.Errorf("message %s belongs to another user: %w", messageID, ErrForbidden)
	}
	content, err = s.validContent(content)
	if err != nil {
		return nil, err
	}
	at := s.now().UTC().Truncate(time.Microsecond)
	if err := s.messages.UpdateContent(ctx, message.ID, content, at); err != nil {
		return nil, fmt.Errorf("failed to edit message: %w", err)
	}
	message.Content = content
	message.UpdatedAt = &at

	s.notifyOther(ctx, conn, userID, WSMessage{
		Type:         EventMessageUpdated,
		ConnectionID: conn.ID,
		MessageID:    message.ID,
		Data:         message,
	})
	return message, nil
}

// Delete removes a message. Only the sender may delete.
func (s *ChatService) Delete(ctx context.Context, userID, messageID string) error {
	message, conn, err := s.message(ctx, userID, messageID)
	if err != nil {
		return err
	}
	if message.UserID != userID {
		return fmt.Errorf("message %s belongs to another user: %w", messageID, ErrForbidden)
	}
	if err := s.messages.Delete(ctx, message.ID); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	s.notifyOther(ctx, conn, userID, WSMessage{
		Type:         EventMessageDeleted,
		ConnectionID: conn.ID,
		MessageID:    message.ID,
	})
	return nil
}

// ReactionRequest names a reaction type such as "like"
type ReactionRequest struct {
	Type string `json:"type"`
}

// AddReaction adds the caller's reaction to a message
func (s *ChatService) AddReaction(ctx context.Context, userID, messageID, reactionType string) error {
	reactionType = strings.TrimSpace(reactionType)
	if reactionType == "" {
		return invalidInput("reaction type is required")
	}
	message, conn, err := s.message(ctx, userID, messageID)
	if err != nil {
		return err
	}
	reaction := models.Reaction{
		MessageID: message.ID,
		UserID:    userID,
		Type:      reactionType,
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.messages.AddReaction(ctx, reaction); err != nil {
		return fmt.Errorf("failed to add reaction: %w", err)
	}
	s.notifyOther(ctx, conn, userID, WSMessage{
		Type:         EventReaction,
		ConnectionID: conn.ID,
		MessageID:    message.ID,
		UserID:       userID,
		Data:         reaction,
	})
	return nil
}

// RemoveReaction removes the caller's reaction from a message
func (s *ChatService) RemoveReaction(ctx context.Context, userID, messageID, reactionType string) error {
	message, _, err := s.message(ctx, userID, messageID)
	if err != nil {
		return err
	}
	return s.messages.RemoveReaction(ctx, message.ID, userID, reactionType)
}

// SetTyping marks the caller as typing in the thread for the typing TTL
func (s *ChatService) SetTyping(ctx context.Context, userID, connectionID string) error {
	conn, err := s.lifecycle.ForParticipant(ctx, connectionID, userID)
	if err != nil {
		return err
	}
	s.typing.set(conn.ID, userID, s.now())
	s.notifyOther(ctx, conn, userID, WSMessage{
		Type:         EventTyping,
		ConnectionID: conn.ID,
		UserID:       userID,
	})
	return nil
}

// Typing returns the participants currently typing in the thread
func (s *ChatService) Typing(ctx context.Context, userID, connectionID string) ([]string, error) {
	conn, err := s.lifecycle.ForParticipant(ctx, connectionID, userID)
	if err != nil {
		return nil, err
	}
	return s.typing.active(conn.ID, s.now()), nil
}

func (s *ChatService) message(ctx context.Context, userID, messageID string) (*models.Message, *models.Connection, error) {
	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load message: %w", err)
	}
	conn, err := s.lifecycle.ForParticipant(ctx, message.ConnectionID, userID)
	if err != nil {
		return nil, nil, err
	}
	return message, conn, nil
}

func (s *ChatService) validContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", invalidInput("message content is required")
	}
	if utf8.RuneCountInString(content) > s.maxLength {
		return "", invalidInput("message longer than %d characters", s.maxLength)
	}
	return content, nil
}

func (s *ChatService) notifyOther(ctx context.Context, conn *models.Connection, userID string, msg WSMessage) {
	if otherID, ok := conn.OtherUser(userID); ok {
		s.notifier.Notify(ctx, otherID, msg)
	}
}

// typingTracker holds ephemeral typing state per thread
type typingTracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	threads map[string]map[string]time.Time
}

func newTypingTracker(ttl time.Duration) *typingTracker {
	return &typingTracker{ttl: ttl, threads: make(map[string]map[string]time.Time)}
}

func (t *typingTracker) set(connectionID, userID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.threads[connectionID]
	if !ok {
		users = make(map[string]time.Time)
		t.threads[connectionID] = users
	}
	users[userID] = now.Add(t.ttl)
}

func (t *typingTracker) clear(connectionID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if users, ok := t.threads[connectionID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(t.threads, connectionID)
		}
	}
}

func (t *typingTracker) active(connectionID string, now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := []string{}
	users := t.threads[connectionID]
	for userID, until := range users {
		if now.Before(until) {
			out = append(out, userID)
		} else {
			delete(users, userID)
		}
	}
	if len(users) == 0 {
		delete(t.threads, connectionID)
	}
	sort.Strings(out)
	return out
}
