package handlers

import (
	"encoding/json"
	"net/http"

	"chat-core/internal/auth"
	"chat-core/internal/models"
	"chat-core/internal/services"
)

type ConversationHandlers struct {
	conversationService *services.ConversationService
	authService         *auth.Service
}

func NewConversationHandlers(conversationService *services.ConversationService, authService *auth.Service) *ConversationHandlers {
	return &ConversationHandlers{
		conversationService: conversationService,
		authService:         authService,
	}
}

// GET /conversations?page=&limit=
func (h *ConversationHandlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(h.authService, w, r)
	if !ok {
		return
	}

	page, err := queryInt(r, "page", 1)
	if err != nil {
		http.Error(w, "invalid page", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", models.DefaultPageLimit)
	if err != nil {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}

	summaries, err := h.conversationService.ListConversations(r.Context(), userID, models.Page{Page: page, Limit: limit})
	if err != nil {
		writeServiceError(w, "List conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// POST /conversations/direct
func (h *ConversationHandlers) OpenDirect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(h.authService, w, r)
	if !ok {
		return
	}

	var req models.CreateDirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	summary, err := h.conversationService.OpenDirect(r.Context(), userID, req.TargetUserID)
	if err != nil {
		writeServiceError(w, "Open direct conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GET /conversations/{id}/messages?limit=&offset=
func (h *ConversationHandlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(h.authService, w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		http.Error(w, "invalid offset", http.StatusBadRequest)
		return
	}

	messages, err := h.conversationService.History(r.Context(), userID, r.PathValue("id"), limit, offset)
	if err != nil {
		writeServiceError(w, "List messages", err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// POST /conversations/{id}/messages
func (h *ConversationHandlers) CreateMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(h.authService, w, r)
	if !ok {
		return
	}

	var req models.CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	req.ConversationID = r.PathValue("id")

	msg, err := h.conversationService.SendMessage(r.Context(), userID, &req)
	if err != nil {
		writeServiceError(w, "Create message", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// POST /conversations/{id}/read
func (h *ConversationHandlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(h.authService, w, r)
	if !ok {
		return
	}

	if err := h.conversationService.MarkRead(r.Context(), userID, r.PathValue("id")); err != nil {
		writeServiceError(w, "Mark read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /users/resolve?identity=
func (h *ConversationHandlers) ResolveUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(h.authService, w, r); !ok {
		return
	}

	user, err := h.conversationService.ResolveUser(r.Context(), r.URL.Query().Get("identity"))
	if err != nil {
		writeServiceError(w, "Resolve user", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
