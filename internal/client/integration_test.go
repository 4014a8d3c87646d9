package client_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"chat-core/internal/auth"
	"chat-core/internal/bus"
	"chat-core/internal/client"
	"chat-core/internal/config"
	"chat-core/internal/database"
	"chat-core/internal/handlers"
	"chat-core/internal/models"
	"chat-core/internal/presence"
	"chat-core/internal/services"
	ws "chat-core/internal/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*httptest.Server, *auth.Service) {
	t.Helper()

	db := database.NewMemoryDB()
	db.AddUser(models.User{ID: "alice", Username: "alice"})
	db.AddUser(models.User{ID: "bob", Username: "bob"})

	authService := auth.NewService(db, config.JWTConfig{Secret: "integration-secret", ExpiresIn: time.Hour})
	conversations := services.NewConversationService(db)
	registry := presence.NewMemoryRegistry()
	b := bus.NewLocalBus()
	hub := ws.NewHub(registry, b, ws.Options{Checker: conversations})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	routes := handlers.Routes{
		Auth:          handlers.NewAuthHandlers(authService),
		Conversations: handlers.NewConversationHandlers(conversations, authService),
		Presence:      handlers.NewPresenceHandlers(registry),
		WebSocket:     handlers.NewWebSocketHandlers(authService, hub),
	}
	server := httptest.NewServer(routes.Mux())
	t.Cleanup(func() {
		server.Close()
		cancel()
		b.Close()
	})
	return server, authService
}

func dialClient(t *testing.T, server *httptest.Server, authService *auth.Service, userID string) *client.Client {
	t.Helper()
	token, err := authService.GenerateToken(userID, userID)
	require.NoError(t, err)

	c, err := client.Dial(server.URL, token, userID, client.Options{
		TypingTimeout: 30 * time.Millisecond,
		Socket:        client.SocketOptions{MaxTries: 3, InitialBackoff: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)
	return c
}

func TestClients_ExchangeMessagesThroughGateway(t *testing.T) {
	server, authService := startServer(t)
	ctx := context.Background()

	alice := dialClient(t, server, authService, "alice")
	defer alice.Close()

	var mu sync.Mutex
	var offline []string
	alice.SetHandlers(client.Handlers{OnPresence: func(userID string, online bool) {
		if !online {
			mu.Lock()
			offline = append(offline, userID)
			mu.Unlock()
		}
	}})

	bob := dialClient(t, server, authService, "bob")

	conversationID, err := alice.Resolver.Resolve(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, conversationID, alice.Session.Active())

	require.NoError(t, bob.List.Fetch(ctx, 1))
	_, ok := bob.List.Get(conversationID)
	require.True(t, ok, "bob sees the new conversation")
	require.NoError(t, bob.Open(ctx, conversationID))

	// Typing only reaches room members, so seeing it proves both joins landed.
	require.Eventually(t, func() bool {
		bob.Typing.HandleTyping()
		users := alice.Typing.TypingUsers(conversationID)
		return len(users) == 1 && users[0] == "bob"
	}, 2*time.Second, 20*time.Millisecond)

	sent, err := alice.Send(ctx, "hi bob")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		m, ok := bob.Store.Get(sent.ID)
		return ok && m.SenderID == "alice" && m.Content == "hi bob"
	}, 2*time.Second, 10*time.Millisecond)

	messages := alice.Store.Messages()
	require.Len(t, messages, 1, "the sender keeps a single copy")
	assert.Equal(t, sent.ID, messages[0].ID)
	assert.False(t, messages[0].Pending())

	require.NoError(t, bob.Close())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(offline) == 1 && offline[0] == "bob"
	}, 2*time.Second, 10*time.Millisecond)

	token, err := authService.GenerateToken("alice", "alice")
	require.NoError(t, err)
	online, err := client.NewHTTPAPI(server.URL, token).Presence(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestClient_RejectedCredentialsAreNotRetried(t *testing.T) {
	server, _ := startServer(t)

	c, err := client.Dial(server.URL, "bogus-token", "alice", client.Options{
		Socket: client.SocketOptions{MaxTries: 50, InitialBackoff: time.Second},
	})
	require.NoError(t, err)

	start := time.Now()
	c.Start(context.Background())
	require.NoError(t, c.Close())

	assert.False(t, c.Connected())
	assert.Less(t, time.Since(start), 5*time.Second)

	_, err = client.Dial(server.URL, "", "alice", client.Options{})
	assert.ErrorIs(t, err, client.ErrUnauthorized)
}
