package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chat-core/internal/auth"
	"chat-core/internal/bus"
	"chat-core/internal/config"
	"chat-core/internal/database"
	"chat-core/internal/models"
	"chat-core/internal/presence"
	"chat-core/internal/services"
	ws "chat-core/internal/websocket"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	server *httptest.Server
	db     *database.MemoryDB
	auth   *auth.Service
	spans  *tracetest.SpanRecorder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := database.NewMemoryDB()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	db.AddUser(models.User{ID: "alice", Username: "alice", PasswordHash: string(hash)})
	db.AddUser(models.User{ID: "bob", Username: "bob", Address: "0xB0B"})
	db.AddUser(models.User{ID: "carol", Username: "carol"})

	authService := auth.NewService(db, config.JWTConfig{Secret: "test-secret", ExpiresIn: time.Hour})
	conversationService := services.NewConversationService(db)
	registry := presence.NewMemoryRegistry()
	b := bus.NewLocalBus()
	hub := ws.NewHub(registry, b, ws.Options{Checker: conversationService})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	spans := tracetest.NewSpanRecorder()
	routes := Routes{
		Auth:           NewAuthHandlers(authService),
		Conversations:  NewConversationHandlers(conversationService, authService),
		Presence:       NewPresenceHandlers(registry),
		WebSocket:      NewWebSocketHandlers(authService, hub),
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
	}
	server := httptest.NewServer(CORS(routes.Mux()))
	t.Cleanup(func() {
		server.Close()
		cancel()
		b.Close()
	})

	return &testServer{server: server, db: db, auth: authService, spans: spans}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := s.auth.GenerateToken(userID, userID)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) dial(t *testing.T, token, userID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?token=" + token + "&userId=" + userID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func send(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	frame, err := models.NewFrame(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame))
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) models.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var frame models.Frame
		require.NoError(t, conn.ReadJSON(&frame), "waiting for %s", event)
		if frame.Event == event {
			return frame
		}
	}
}

// barrier waits until the gateway has processed every frame sent so far on
// conn. Frames from one connection are handled in order, so the error reply
// to an unknown event marks the point.
func barrier(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, "barrier", map[string]string{})
	readUntil(t, conn, models.EventError)
}

func TestHandshake_RejectsMissingCredentials(t *testing.T) {
	s := newTestServer(t)

	_, resp, err := s.dial(t, "", "alice")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = s.dial(t, s.token(t, "alice"), "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshake_RejectsInvalidToken(t *testing.T) {
	s := newTestServer(t)

	_, resp, err := s.dial(t, "not-a-jwt", "alice")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A valid token for someone else.
	_, resp, err = s.dial(t, s.token(t, "bob"), "alice")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshake_AcceptsHeaders(t *testing.T) {
	s := newTestServer(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token(t, "alice"))
	header.Set("X-User-ID", "alice")
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestGateway_RelayAndPresence(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	convID, err := s.db.GetOrCreateDirectConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	alice, _, err := s.dial(t, s.token(t, "alice"), "alice")
	require.NoError(t, err)
	bob, _, err := s.dial(t, s.token(t, "bob"), "bob")
	require.NoError(t, err)

	frame := readUntil(t, alice, models.EventUserOnline)
	var p models.PresencePayload
	require.NoError(t, frame.Decode(&p))
	assert.Equal(t, "bob", p.UserID)

	ref := models.ConversationRef{ConversationID: convID}
	send(t, bob, models.EventJoinConversation, ref)
	barrier(t, bob)
	send(t, alice, models.EventJoinConversation, ref)
	send(t, alice, models.EventMessageSend, models.SendMessagePayload{ConversationID: convID, Content: "hi bob", MessageID: "m-1"})

	frame = readUntil(t, bob, models.EventMessageReceive)
	var msg models.Message
	require.NoError(t, frame.Decode(&msg))
	assert.Equal(t, "m-1", msg.ID)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, "hi bob", msg.Content)

	resp := s.do(t, http.MethodGet, "/presence/bob", "", nil)
	var presenceResp models.PresenceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&presenceResp))
	assert.True(t, presenceResp.Online)

	require.NoError(t, bob.Close())

	frame = readUntil(t, alice, models.EventUserOffline)
	require.NoError(t, frame.Decode(&p))
	assert.Equal(t, "bob", p.UserID)

	resp = s.do(t, http.MethodGet, "/presence/bob", "", nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&presenceResp))
	assert.False(t, presenceResp.Online)
}

func TestGateway_RejectsJoinForNonParticipant(t *testing.T) {
	s := newTestServer(t)

	convID, err := s.db.GetOrCreateDirectConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)

	carol, _, err := s.dial(t, s.token(t, "carol"), "carol")
	require.NoError(t, err)

	send(t, carol, models.EventJoinConversation, models.ConversationRef{ConversationID: convID})
	frame := readUntil(t, carol, models.EventError)
	var payload models.ErrorPayload
	require.NoError(t, frame.Decode(&payload))
	assert.Equal(t, models.ErrCodeForbidden, payload.Code)
	assert.Equal(t, models.EventJoinConversation, payload.Event)
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/login", "", models.LoginRequest{Username: "alice", Password: "password123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login models.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, "alice", login.User.ID)

	resp = s.do(t, http.MethodPost, "/login", "", models.LoginRequest{Username: "alice", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConversationEndpoints(t *testing.T) {
	s := newTestServer(t)
	aliceToken := s.token(t, "alice")
	bobToken := s.token(t, "bob")

	resp := s.do(t, http.MethodGet, "/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/conversations/direct", aliceToken, models.CreateDirectRequest{TargetUserID: "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var conv models.ConversationSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conv))
	assert.Equal(t, models.ConversationDirect, conv.Type)

	resp = s.do(t, http.MethodPost, "/conversations/"+conv.ID+"/messages", bobToken, models.CreateMessageRequest{Content: "hey alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "bob", created.SenderID)
	assert.Equal(t, conv.ID, created.ConversationID)

	resp = s.do(t, http.MethodGet, "/conversations", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.ConversationSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].UnreadCount)

	resp = s.do(t, http.MethodPost, "/conversations/"+conv.ID+"/read", aliceToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/conversations/"+conv.ID+"/messages?limit=10", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history, 1)
	assert.Equal(t, created.ID, history[0].ID)

	resp = s.do(t, http.MethodGet, "/conversations/"+conv.ID+"/messages", s.token(t, "carol"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/conversations/"+conv.ID+"/messages?limit=abc", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResolveUser(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, "alice")

	resp := s.do(t, http.MethodGet, "/users/resolve?identity=0xb0b", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var user models.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&user))
	assert.Equal(t, "bob", user.ID)

	resp = s.do(t, http.MethodGet, "/users/resolve?identity=nobody", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func (s *testServer) endedSpan(t *testing.T, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	var found sdktrace.ReadOnlySpan
	require.Eventually(t, func() bool {
		for _, span := range s.spans.Ended() {
			if span.Name() == name {
				found = span
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond, "no span %q", name)
	return found
}

func statusAttr(span sdktrace.ReadOnlySpan) int64 {
	for _, kv := range span.Attributes() {
		if kv.Key == "http.response.status_code" {
			return kv.Value.AsInt64()
		}
	}
	return 0
}

func TestRoutes_RecordServerSpans(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/conversations/missing/messages", s.token(t, "carol"), nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	span := s.endedSpan(t, "GET /conversations/{id}/messages")
	assert.Equal(t, trace.SpanKindServer, span.SpanKind())
	assert.Equal(t, int64(http.StatusForbidden), statusAttr(span))

	// The upgrade still works through the span wrapper.
	conn, _, err := s.dial(t, s.token(t, "alice"), "alice")
	require.NoError(t, err)
	conn.Close()
	assert.Equal(t, int64(http.StatusSwitchingProtocols), statusAttr(s.endedSpan(t, "GET /ws")))
}

func TestLogin_MapsErrors(t *testing.T) {
	s := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/login", strings.NewReader("{"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/login", "", models.LoginRequest{Username: "nobody", Password: "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWriteAuthError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		body   string
	}{
		{auth.ErrMissingCredentials, http.StatusUnauthorized, "missing token or user id"},
		{fmt.Errorf("%w: signature is invalid", auth.ErrInvalidToken), http.StatusUnauthorized, "invalid token"},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid credentials"},
		{errors.New("database down"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeAuthError(rec, "test", tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.Equal(t, tc.body, strings.TrimSpace(rec.Body.String()))
	}
}
