package models

import (
	"time"

	"github.com/google/uuid"
)

// Current schema versions of stored records
const (
	UserSchemaVersion       = 1
	ConnectionSchemaVersion = 1
)

// User represents a user in the system
type User struct {
	ID              string    `json:"id"`
	SchemaVersion   int       `json:"schema_version"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Image           string    `json:"image"`
	Token           string    `json:"token,omitempty"`
	PushToken       *string   `json:"push_token,omitempty"`
	Connections     []string  `json:"connections"`
	PairedWith      []string  `json:"paired_with"`
	ConnectionToday string    `json:"connection_today"`
	LastPaired      time.Time `json:"last_paired"`
	LastPolled      time.Time `json:"last_polled"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewUser creates a user with its own empty connection lists
func NewUser(name, email, image string, now time.Time) *User {
	return &User{
		ID:            uuid.New().String(),
		SchemaVersion: UserSchemaVersion,
		Name:          name,
		Email:         email,
		Image:         image,
		Connections:   []string{},
		PairedWith:    []string{},
		CreatedAt:     now,
	}
}

// PairingState is the part of a user rewritten by a pairing decision
type PairingState struct {
	PairedWith      []string
	ConnectionToday string
	LastPaired      time.Time
}

// Pairing returns a copy of the user's current pairing state
func (u *User) Pairing() PairingState {
	return PairingState{
		PairedWith:      append([]string{}, u.PairedWith...),
		ConnectionToday: u.ConnectionToday,
		LastPaired:      u.LastPaired,
	}
}

// Paired returns the state after selecting connectionID at now
func (p PairingState) Paired(connectionID string, now time.Time) PairingState {
	next := PairingState{
		PairedWith:      append([]string{}, p.PairedWith...),
		ConnectionToday: connectionID,
		LastPaired:      now,
	}
	if !contains(next.PairedWith, connectionID) {
		next.PairedWith = append(next.PairedWith, connectionID)
	}
	return next
}

// HasPairedWith reports whether connectionID was already used as a daily pairing
func (u *User) HasPairedWith(connectionID string) bool {
	return contains(u.PairedWith, connectionID)
}

// HasConnection reports whether connectionID is in the user's connection list
func (u *User) HasConnection(connectionID string) bool {
	return contains(u.Connections, connectionID)
}

// Location is a latitude/longitude pair
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Connection is a time-boxed relationship between exactly two users
type Connection struct {
	ID               string    `json:"id"`
	SchemaVersion    int       `json:"schema_version"`
	UserIDs          [2]string `json:"user_ids"`
	Created          time.Time `json:"created"`
	Expiry           time.Time `json:"expiry"`
	ShouldContinue   [2]bool   `json:"should_continue"`
	HasBegun         bool      `json:"has_begun"`
	Location         Location  `json:"location"`
	SemanticLocation string    `json:"semantic_location"`
}

// NewConnection links two users, expiring ttl after now
func NewConnection(userA, userB string, location Location, semanticLocation string, now time.Time, ttl time.Duration) *Connection {
	return &Connection{
		ID:               uuid.New().String(),
		SchemaVersion:    ConnectionSchemaVersion,
		UserIDs:          [2]string{userA, userB},
		Created:          now,
		Expiry:           now.Add(ttl),
		Location:         location,
		SemanticLocation: semanticLocation,
	}
}

// Expired reports whether the connection has outlived its TTL without both
// participants opting to continue.
func (c *Connection) Expired(now time.Time) bool {
	return now.After(c.Expiry) && (!c.ShouldContinue[0] || !c.ShouldContinue[1])
}

// Side returns the participant index of userID, or -1
func (c *Connection) Side(userID string) int {
	for i, id := range c.UserIDs {
		if id == userID {
			return i
		}
	}
	return -1
}

// HasParticipant reports whether userID is one of the two users
func (c *Connection) HasParticipant(userID string) bool {
	return c.Side(userID) >= 0
}

// OtherUser returns the participant that is not userID
func (c *Connection) OtherUser(userID string) (string, bool) {
	switch c.Side(userID) {
	case 0:
		return c.UserIDs[1], true
	case 1:
		return c.UserIDs[0], true
	}
	return "", false
}

// Message statuses
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// ValidStatus reports whether status is a known message status
func ValidStatus(status string) bool {
	switch status {
	case StatusSending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return true
	}
	return false
}

// Message is one entry of a connection's chat thread
type Message struct {
	ID           string     `json:"id"`
	ConnectionID string     `json:"connection_id"`
	UserID       string     `json:"user_id"`
	Content      string     `json:"content"`
	Status       string     `json:"status"`
	IsRead       bool       `json:"is_read"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
	Reactions    []Reaction `json:"reactions,omitempty"`
}

// Reaction is keyed by (message, user, type)
type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// Reconciliation records a partially applied multi-row write that needs
// manual repair.
type Reconciliation struct {
	ID           string     `json:"id"`
	Operation    string     `json:"operation"`
	UserIDs      []string   `json:"user_ids"`
	ConnectionID string     `json:"connection_id"`
	Detail       string     `json:"detail"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
