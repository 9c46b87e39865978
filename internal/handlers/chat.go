package handlers

import (
	"net/http"

	"click-backend/internal/middleware"
	"click-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// ChatHandler handles chat HTTP requests
type ChatHandler struct {
	chatService *services.ChatService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *services.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// StatusRequest sets the delivery status of a message
type StatusRequest struct {
	Status string `json:"status"`
}

// SendMessage handles POST /api/v1/connections/{connection_id}/messages
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	connectionID := chi.URLParam(r, "connection_id")

	var req services.SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorCode(w, "Invalid request body", CodeInvalidRequest, http.StatusBadRequest)
		return
	}

	msg, err := h.chatService.Send(ctx, userID, connectionID, req.Content)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("connection_id", connectionID).Msg("Failed to send message")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, msg)
}

// ListMessages handles GET /api/v1/connections/{connection_id}/messages.
// With a q parameter it searches instead.
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	connectionID := chi.URLParam(r, "connection_id")

	var err error
	var messages interface{}
	if query, ok := r.URL.Query()["q"]; ok {
		messages, err = h.chatService.Search(ctx, userID, connectionID, query[0])
	} else {
		messages, err = h.chatService.List(ctx, userID, connectionID)
	}
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("connection_id", connectionID).Msg("Failed to get messages")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
	})
}

// MarkRead handles POST /api/v1/connections/{connection_id}/read
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	connectionID := chi.URLParam(r, "connection_id")

	n, err := h.chatService.MarkRead(ctx, userID, connectionID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("connection_id", connectionID).Msg("Failed to mark messages read")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"marked": n,
	})
}

// SetTyping handles POST /api/v1/connections/{connection_id}/typing
func (h *ChatHandler) SetTyping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	connectionID := chi.URLParam(r, "connection_id")

	if err := h.chatService.SetTyping(ctx, userID, connectionID); err != nil {
		respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetTyping handles GET /api/v1/connections/{connection_id}/typing
func (h *ChatHandler) GetTyping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	connectionID := chi.URLParam(r, "connection_id")

	users, err := h.chatService.Typing(ctx, userID, connectionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"typing": users,
	})
}

// EditMessage handles PUT /api/v1/messages/{message_id}
func (h *ChatHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	messageID := chi.URLParam(r, "message_id")

	var req services.SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorCode(w, "Invalid request body", CodeInvalidRequest, http.StatusBadRequest)
		return
	}

	msg, err := h.chatService.Edit(ctx, userID, messageID, req.Content)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("message_id", messageID).Msg("Failed to edit message")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, msg)
}

// DeleteMessage handles DELETE /api/v1/messages/{message_id}
func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	messageID := chi.URLParam(r, "message_id")

	if err := h.chatService.Delete(ctx, userID, messageID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("message_id", messageID).Msg("Failed to delete message")
		respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetStatus handles PUT /api/v1/messages/{message_id}/status
func (h *ChatHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	messageID := chi.URLParam(r, "message_id")

	var req StatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorCode(w, "Invalid request body", CodeInvalidRequest, http.StatusBadRequest)
		return
	}

	msg, err := h.chatService.SetStatus(ctx, userID, messageID, req.Status)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, msg)
}

// AddReaction handles POST /api/v1/messages/{message_id}/reactions
func (h *ChatHandler) AddReaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	messageID := chi.URLParam(r, "message_id")

	var req services.ReactionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorCode(w, "Invalid request body", CodeInvalidRequest, http.StatusBadRequest)
		return
	}

	if err := h.chatService.AddReaction(ctx, userID, messageID, req.Type); err != nil {
		respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveReaction handles DELETE /api/v1/messages/{message_id}/reactions/{type}
func (h *ChatHandler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	messageID := chi.URLParam(r, "message_id")
	reactionType := chi.URLParam(r, "type")

	if err := h.chatService.RemoveReaction(ctx, userID, messageID, reactionType); err != nil {
		respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
