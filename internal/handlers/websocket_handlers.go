package handlers

import (
	"net/http"

	"chat-core/internal/auth"
	ws "chat-core/internal/websocket"
	"chat-core/pkg/logger"

	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	authService *auth.Service
	hub         *ws.Hub
	upgrader    websocket.Upgrader
}

func NewWebSocketHandlers(authService *auth.Service, hub *ws.Hub) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		hub:         hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

// handshakeCredentials reads token and userId from the query string, falling
// back to the Authorization and X-User-ID headers.
func handshakeCredentials(r *http.Request) (token, userID string) {
	query := r.URL.Query()
	token = query.Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	userID = query.Get("userId")
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}
	return token, userID
}

func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token, claimedID := handshakeCredentials(r)

	userID, err := h.authService.Authenticate(r.Context(), token, claimedID)
	if err != nil {
		writeAuthError(w, "handshake for "+claimedID, err)
		return
	}

	// Upgrade connection to WebSocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn, userID)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	// Start client pumps
	go client.WritePump()
	go client.ReadPump()
}
