package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a conditional write lost against a concurrent update.
	ErrConflict = errors.New("record conflict")
)
