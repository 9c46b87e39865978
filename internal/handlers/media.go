package handlers

import (
	"net/http"

	"click-backend/internal/middleware"
	"click-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// MediaHandler handles attachment uploads
type MediaHandler struct {
	mediaService *services.MediaService
}

// NewMediaHandler creates a new media handler
func NewMediaHandler(mediaService *services.MediaService) *MediaHandler {
	return &MediaHandler{mediaService: mediaService}
}

// UploadAttachment handles POST /api/v1/connections/{connection_id}/attachments
func (h *MediaHandler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	connectionID := chi.URLParam(r, "connection_id")

	var req services.UploadRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorCode(w, "Invalid request body", CodeInvalidRequest, http.StatusBadRequest)
		return
	}

	res, err := h.mediaService.GetUploadURL(ctx, userID, connectionID, req.ContentType)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("connection_id", connectionID).
			Msg("Failed to create upload URL")
		respondServiceError(w, err)
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("connection_id", connectionID).
		Str("key", res.Key).
		Msg("Upload URL issued")

	respondJSON(w, http.StatusOK, res)
}
