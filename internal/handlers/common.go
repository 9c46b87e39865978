package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"click-backend/internal/models"
	"click-backend/internal/services"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes returned to clients
const (
	CodeNotFound          = "not_found"
	CodeExpired           = "connection_expired"
	CodeNoCandidate       = "no_eligible_candidate"
	CodeChatNotStarted    = "chat_not_started"
	CodeForbidden         = "forbidden"
	CodeInvalidInput      = "invalid_input"
	CodePersistence       = "persistence_error"
	CodeInvalidState      = "invalid_state"
	CodeInternal          = "internal_error"
	CodeInvalidRequest    = "invalid_request"
	CodeReconcileRequired = "reconciliation_required"
	CodeEmailTaken        = "email_taken"
)

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	respondErrorCode(w, message, "", statusCode)
}

func respondErrorCode(w http.ResponseWriter, message, code string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})
}

func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusFor maps a service error to an HTTP status and error code.
// Clients tell "try again later" (409) apart from system faults (500).
func statusFor(err error) (int, string) {
	var perr *services.PersistenceError
	switch {
	case errors.As(err, &perr) && perr.NeedsReconciliation:
		return http.StatusInternalServerError, CodeReconcileRequired
	case errors.Is(err, services.ErrPersistence):
		return http.StatusInternalServerError, CodePersistence
	case errors.Is(err, services.ErrConnectionExpired):
		return http.StatusGone, CodeExpired
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, services.ErrNoEligibleCandidate):
		return http.StatusConflict, CodeNoCandidate
	case errors.Is(err, services.ErrEmailTaken):
		return http.StatusConflict, CodeEmailTaken
	case errors.Is(err, services.ErrChatNotStarted):
		return http.StatusForbidden, CodeChatNotStarted
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, services.ErrInvalidState), errors.Is(err, models.ErrInvalidRecord):
		return http.StatusInternalServerError, CodeInvalidState
	}
	return http.StatusInternalServerError, CodeInternal
}

// respondServiceError writes err as a JSON error. Internal details of 5xx
// errors are not exposed.
func respondServiceError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	respondErrorCode(w, message, code, status)
}
