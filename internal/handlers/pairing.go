package handlers

import (
	"net/http"

	"click-backend/internal/middleware"
	"click-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// PairingHandler serves the poll endpoint
type PairingHandler struct {
	pairingService *services.PairingService
}

// NewPairingHandler creates a new pairing handler
func NewPairingHandler(pairingService *services.PairingService) *PairingHandler {
	return &PairingHandler{pairingService: pairingService}
}

// Poll handles POST /api/v1/poll
func (h *PairingHandler) Poll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	conn, err := h.pairingService.PollForPairing(ctx, userID)
	if err != nil {
		status, _ := statusFor(err)
		event := log.Warn()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.Err(err).Str("user_id", userID).Msg("Poll failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, conn)
}
