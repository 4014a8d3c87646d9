package handlers

import (
	"net/http"

	"chat-core/internal/models"
	"chat-core/internal/presence"
	"chat-core/pkg/logger"
)

type PresenceHandlers struct {
	registry presence.Registry
}

func NewPresenceHandlers(registry presence.Registry) *PresenceHandlers {
	return &PresenceHandlers{registry: registry}
}

// GET /presence/{userId}
func (h *PresenceHandlers) GetPresence(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if userID == "" {
		http.Error(w, "user id is required", http.StatusBadRequest)
		return
	}

	online, err := h.registry.IsOnline(r.Context(), userID)
	if err != nil {
		logger.Error("Presence lookup error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, models.PresenceResponse{UserID: userID, Online: online})
}
