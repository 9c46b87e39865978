package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"click-backend/internal/models"
)

// MemoryStore keeps users, connections, messages and reconciliation records
// in process memory. It backs the memory store driver and tests.
type MemoryStore struct {
	mu              sync.RWMutex
	users           map[string]*models.User
	connections     map[string]*models.Connection
	messages        map[string]*models.Message
	reactions       map[string][]models.Reaction
	reconciliations map[string]*models.Reconciliation
	seq             int64
	order           map[string]int64
}

// NewMemoryStore returns an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:           make(map[string]*models.User),
		connections:     make(map[string]*models.Connection),
		messages:        make(map[string]*models.Message),
		reactions:       make(map[string][]models.Reaction),
		reconciliations: make(map[string]*models.Reconciliation),
		order:           make(map[string]int64),
	}
}

// Users returns the user repository view of the store
func (s *MemoryStore) Users() *MemoryUserRepository { return &MemoryUserRepository{s: s} }

// Connections returns the connection repository view of the store
func (s *MemoryStore) Connections() *MemoryConnectionRepository {
	return &MemoryConnectionRepository{s: s}
}

// Messages returns the message repository view of the store
func (s *MemoryStore) Messages() *MemoryMessageRepository { return &MemoryMessageRepository{s: s} }

// Reconciliations returns the reconciliation repository view of the store
func (s *MemoryStore) Reconciliations() *MemoryReconciliationRepository {
	return &MemoryReconciliationRepository{s: s}
}

func copyUser(u *models.User) *models.User {
	c := *u
	c.Connections = append([]string{}, u.Connections...)
	c.PairedWith = append([]string{}, u.PairedWith...)
	if u.PushToken != nil {
		token := *u.PushToken
		c.PushToken = &token
	}
	return &c
}

func copyMessage(m *models.Message) *models.Message {
	c := *m
	if m.UpdatedAt != nil {
		at := *m.UpdatedAt
		c.UpdatedAt = &at
	}
	c.Reactions = nil
	return &c
}

// MemoryUserRepository is the in-memory user store
type MemoryUserRepository struct{ s *MemoryStore }

// Create creates a new user
func (r *MemoryUserRepository) Create(_ context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.users[user.ID]; exists {
		return ErrConflict
	}
	for _, existing := range r.s.users {
		if existing.Email == user.Email {
			return ErrConflict
		}
	}
	r.s.users[user.ID] = copyUser(user)
	return nil
}

// GetByID retrieves a user by ID
func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	user, ok := r.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyUser(user)
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByEmail retrieves a user by email
func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, user := range r.s.users {
		if user.Email == email {
			out := copyUser(user)
			if err := out.Validate(); err != nil {
				return nil, err
			}
			return out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryUserRepository) update(id string, fn func(u *models.User) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return ErrNotFound
	}
	return fn(user)
}

// AddConnection appends connectionID to the user's connections unless present
func (r *MemoryUserRepository) AddConnection(_ context.Context, userID, connectionID string) error {
	return r.update(userID, func(u *models.User) error {
		if !u.HasConnection(connectionID) {
			u.Connections = append(u.Connections, connectionID)
		}
		return nil
	})
}

// RemoveConnection drops connectionID from the user's connections
func (r *MemoryUserRepository) RemoveConnection(_ context.Context, userID, connectionID string) error {
	return r.update(userID, func(u *models.User) error {
		kept := u.Connections[:0]
		for _, id := range u.Connections {
			if id != connectionID {
				kept = append(kept, id)
			}
		}
		u.Connections = kept
		if u.ConnectionToday == connectionID {
			u.ConnectionToday = ""
		}
		return nil
	})
}

// TouchLastPolled records the time of the user's latest poll
func (r *MemoryUserRepository) TouchLastPolled(_ context.Context, userID string, at time.Time) error {
	return r.update(userID, func(u *models.User) error {
		u.LastPolled = at
		return nil
	})
}

// SetPairing replaces the pairing fields if last_paired still equals expected
// and the new connection_today is still one of the user's connections
func (r *MemoryUserRepository) SetPairing(_ context.Context, userID string, expected time.Time, state models.PairingState) error {
	return r.update(userID, func(u *models.User) error {
		if !u.LastPaired.Equal(expected) {
			return ErrConflict
		}
		if state.ConnectionToday != "" && !u.HasConnection(state.ConnectionToday) {
			return ErrConflict
		}
		u.PairedWith = append([]string{}, state.PairedWith...)
		u.ConnectionToday = state.ConnectionToday
		u.LastPaired = state.LastPaired
		return nil
	})
}

// UpdatePushToken updates the push token for a user
func (r *MemoryUserRepository) UpdatePushToken(_ context.Context, userID string, pushToken *string) error {
	return r.update(userID, func(u *models.User) error {
		u.PushToken = pushToken
		return nil
	})
}

// MemoryConnectionRepository is the in-memory connection store
type MemoryConnectionRepository struct{ s *MemoryStore }

// Create creates a new connection
func (r *MemoryConnectionRepository) Create(_ context.Context, c *models.Connection) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.connections[c.ID]; exists {
		return ErrConflict
	}
	stored := *c
	r.s.connections[c.ID] = &stored
	return nil
}

// GetByID retrieves a connection by ID
func (r *MemoryConnectionRepository) GetByID(_ context.Context, id string) (*models.Connection, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.connections[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete deletes a connection by ID
func (r *MemoryConnectionRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.connections[id]; !ok {
		return ErrNotFound
	}
	delete(r.s.connections, id)
	return nil
}

// MarkBegun sets has_begun
func (r *MemoryConnectionRepository) MarkBegun(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.connections[id]
	if !ok {
		return ErrNotFound
	}
	c.HasBegun = true
	return nil
}

// SetShouldContinue records one participant's wish to keep the connection
func (r *MemoryConnectionRepository) SetShouldContinue(_ context.Context, id string, side int, value bool) error {
	if side != 0 && side != 1 {
		return fmt.Errorf("invalid participant side %d", side)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.connections[id]
	if !ok {
		return ErrNotFound
	}
	c.ShouldContinue[side] = value
	return nil
}

// MemoryMessageRepository is the in-memory chat thread store
type MemoryMessageRepository struct{ s *MemoryStore }

// Create creates a new message
func (r *MemoryMessageRepository) Create(_ context.Context, m *models.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.seq++
	r.s.order[m.ID] = r.s.seq
	r.s.messages[m.ID] = copyMessage(m)
	return nil
}

// GetByID retrieves a message by ID
func (r *MemoryMessageRepository) GetByID(_ context.Context, id string) (*models.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(m), nil
}

func (r *MemoryMessageRepository) list(connectionID string, keep func(m *models.Message) bool) []*models.Message {
	out := []*models.Message{}
	for _, m := range r.s.messages {
		if m.ConnectionID == connectionID && keep(m) {
			c := copyMessage(m)
			c.Reactions = append([]models.Reaction(nil), r.s.reactions[m.ID]...)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return r.s.order[out[i].ID] < r.s.order[out[j].ID]
	})
	return out
}

// ListByConnection retrieves a connection's messages, oldest first
func (r *MemoryMessageRepository) ListByConnection(_ context.Context, connectionID string) ([]*models.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.list(connectionID, func(*models.Message) bool { return true }), nil
}

// Search returns messages whose content contains query, case-insensitively
func (r *MemoryMessageRepository) Search(_ context.Context, connectionID, query string) ([]*models.Message, error) {
	needle := strings.ToLower(query)
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.list(connectionID, func(m *models.Message) bool {
		return strings.Contains(strings.ToLower(m.Content), needle)
	}), nil
}

// MarkRead marks every unread message not sent by readerID as read
func (r *MemoryMessageRepository) MarkRead(_ context.Context, connectionID, readerID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, m := range r.s.messages {
		if m.ConnectionID == connectionID && m.UserID != readerID && !m.IsRead {
			m.IsRead = true
			m.Status = models.StatusRead
			n++
		}
	}
	return n, nil
}

func (r *MemoryMessageRepository) update(id string, fn func(m *models.Message)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return ErrNotFound
	}
	fn(m)
	return nil
}

// UpdateStatus sets the delivery status of a message
func (r *MemoryMessageRepository) UpdateStatus(_ context.Context, id, status string) error {
	return r.update(id, func(m *models.Message) {
		m.Status = status
		if status == models.StatusRead {
			m.IsRead = true
		}
	})
}

// UpdateContent replaces the content of a message
func (r *MemoryMessageRepository) UpdateContent(_ context.Context, id, content string, at time.Time) error {
	return r.update(id, func(m *models.Message) {
		m.Content = content
		m.UpdatedAt = &at
	})
}

// Delete deletes a message by ID
func (r *MemoryMessageRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.messages[id]; !ok {
		return ErrNotFound
	}
	delete(r.s.messages, id)
	delete(r.s.reactions, id)
	delete(r.s.order, id)
	return nil
}

// DeleteByConnection deletes a connection's whole thread
func (r *MemoryMessageRepository) DeleteByConnection(_ context.Context, connectionID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, m := range r.s.messages {
		if m.ConnectionID == connectionID {
			delete(r.s.messages, id)
			delete(r.s.reactions, id)
			delete(r.s.order, id)
			n++
		}
	}
	return n, nil
}

// AddReaction stores a reaction; adding the same reaction twice is a no-op
func (r *MemoryMessageRepository) AddReaction(_ context.Context, reaction models.Reaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.messages[reaction.MessageID]; !ok {
		return ErrNotFound
	}
	for _, existing := range r.s.reactions[reaction.MessageID] {
		if existing.UserID == reaction.UserID && existing.Type == reaction.Type {
			return nil
		}
	}
	r.s.reactions[reaction.MessageID] = append(r.s.reactions[reaction.MessageID], reaction)
	return nil
}

// RemoveReaction deletes a reaction
func (r *MemoryMessageRepository) RemoveReaction(_ context.Context, messageID, userID, reactionType string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reactions := r.s.reactions[messageID]
	for i, existing := range reactions {
		if existing.UserID == userID && existing.Type == reactionType {
			r.s.reactions[messageID] = append(reactions[:i:i], reactions[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// MemoryReconciliationRepository is the in-memory reconciliation log
type MemoryReconciliationRepository struct{ s *MemoryStore }

// Flag stores a new reconciliation record
func (r *MemoryReconciliationRepository) Flag(_ context.Context, rec *models.Reconciliation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := *rec
	stored.UserIDs = append([]string{}, rec.UserIDs...)
	r.s.reconciliations[rec.ID] = &stored
	return nil
}

// ListUnresolved returns open records, oldest first
func (r *MemoryReconciliationRepository) ListUnresolved(_ context.Context) ([]*models.Reconciliation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []*models.Reconciliation{}
	for _, rec := range r.s.reconciliations {
		if rec.ResolvedAt == nil {
			c := *rec
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Resolve marks a record as handled
func (r *MemoryReconciliationRepository) Resolve(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.reconciliations[id]
	if !ok || rec.ResolvedAt != nil {
		return ErrNotFound
	}
	rec.ResolvedAt = &at
	return nil
}
