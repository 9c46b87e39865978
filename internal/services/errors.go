package services

import (
	"errors"
	"fmt"

	"click-backend/internal/repository"
)

var (
	// ErrNotFound is returned for ids that do not exist in the store
	ErrNotFound = repository.ErrNotFound
	// ErrNoEligibleCandidate means the pairing pool is exhausted; try again later
	ErrNoEligibleCandidate = errors.New("no eligible pairing candidate")
	// ErrPersistence matches every *PersistenceError
	ErrPersistence = errors.New("persistence failure")
	// ErrChatNotStarted is returned when sending before the chat gate opened
	ErrChatNotStarted = errors.New("chat has not started")
	// ErrInvalidState marks stored data the engine cannot act on
	ErrInvalidState = errors.New("invalid state")
	// ErrConnectionExpired is returned for connections that expired and were pruned
	ErrConnectionExpired = errors.New("connection expired")
	// ErrForbidden means the caller is not allowed to touch the resource
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput is returned for malformed requests
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmailTaken is returned when signing up with a registered email
	ErrEmailTaken = errors.New("email already registered")
)

// PersistenceError reports a store write that failed after a decision was
// made. Pairing writes are never retried automatically.
type PersistenceError struct {
	Op                  string
	Err                 error
	NeedsReconciliation bool
}

func (e *PersistenceError) Error() string {
	if e.NeedsReconciliation {
		return fmt.Sprintf("%s: persistence failure, reconciliation required: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: persistence failure: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPersistence) true for every PersistenceError
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
