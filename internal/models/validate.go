package models

import (
	"errors"
	"fmt"
)

// ErrInvalidRecord is returned when a stored row cannot be decoded into a
// well-formed entity.
var ErrInvalidRecord = errors.New("invalid record")

func invalid(kind, id, reason string) error {
	return fmt.Errorf("%w: %s %q: %s", ErrInvalidRecord, kind, id, reason)
}

// Validate checks a decoded user against schema version 1:
// id, name and email are required, connection_today must be one of
// connections when set and paired_with holds no duplicates.
func (u *User) Validate() error {
	if u.ID == "" {
		return invalid("user", u.ID, "missing id")
	}
	if u.SchemaVersion != UserSchemaVersion {
		return invalid("user", u.ID, fmt.Sprintf("unsupported schema version %d", u.SchemaVersion))
	}
	if u.Name == "" {
		return invalid("user", u.ID, "missing name")
	}
	if u.Email == "" {
		return invalid("user", u.ID, "missing email")
	}
	if u.Connections == nil {
		u.Connections = []string{}
	}
	if u.PairedWith == nil {
		u.PairedWith = []string{}
	}
	if u.ConnectionToday != "" && !u.HasConnection(u.ConnectionToday) {
		return invalid("user", u.ID, "connection_today is not one of connections")
	}
	seen := make(map[string]struct{}, len(u.PairedWith))
	for _, id := range u.PairedWith {
		if _, dup := seen[id]; dup {
			return invalid("user", u.ID, fmt.Sprintf("paired_with repeats %q", id))
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Validate checks a decoded connection against schema version 1.
func (c *Connection) Validate() error {
	if c.ID == "" {
		return invalid("connection", c.ID, "missing id")
	}
	if c.SchemaVersion != ConnectionSchemaVersion {
		return invalid("connection", c.ID, fmt.Sprintf("unsupported schema version %d", c.SchemaVersion))
	}
	if c.UserIDs[0] == "" || c.UserIDs[1] == "" {
		return invalid("connection", c.ID, "missing participant")
	}
	if c.UserIDs[0] == c.UserIDs[1] {
		return invalid("connection", c.ID, "participants must differ")
	}
	if !c.Expiry.After(c.Created) {
		return invalid("connection", c.ID, "expiry must be after created")
	}
	return nil
}
