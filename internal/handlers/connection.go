package handlers

import (
	"net/http"

	"click-backend/internal/middleware"
	"click-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// ConnectionHandler handles connection-related HTTP requests
type ConnectionHandler struct {
	connectionService *services.ConnectionService
}

// NewConnectionHandler creates a new connection handler
func NewConnectionHandler(connectionService *services.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{connectionService: connectionService}
}

// ContinueRequest sets the caller's should_continue flag
type ContinueRequest struct {
	ShouldContinue bool `json:"should_continue"`
}

// CreateConnection handles POST /api/v1/connections
func (h *ConnectionHandler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req services.CreateConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorCode(w, "Invalid request body", CodeInvalidRequest, http.StatusBadRequest)
		return
	}

	conn, err := h.connectionService.Create(ctx, userID, req)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("other_user_id", req.UserID).
			Msg("Failed to create connection")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, conn)
}

// ListConnections handles GET /api/v1/connections
func (h *ConnectionHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	conns, err := h.connectionService.List(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to list connections")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"connections": conns,
	})
}

// GetConnection handles GET /api/v1/connections/{connection_id}
func (h *ConnectionHandler) GetConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	connectionID := chi.URLParam(r, "connection_id")

	conn, err := h.connectionService.Get(ctx, userID, connectionID)
	if err != nil {
		log.Debug().Err(err).Str("user_id", userID).Str("connection_id", connectionID).Msg("Connection unavailable")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, conn)
}

// SetContinue handles PUT /api/v1/connections/{connection_id}/continue
func (h *ConnectionHandler) SetContinue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	connectionID := chi.URLParam(r, "connection_id")

	var req ContinueRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorCode(w, "Invalid request body", CodeInvalidRequest, http.StatusBadRequest)
		return
	}

	conn, err := h.connectionService.SetShouldContinue(ctx, userID, connectionID, req.ShouldContinue)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("connection_id", connectionID).Msg("Failed to update continue flag")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, conn)
}
