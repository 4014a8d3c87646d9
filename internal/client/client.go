package client

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chat-core/internal/models"
	"chat-core/pkg/logger"
)

// API is everything the client needs from the REST server.
type API interface {
	HistoryFetcher
	ConversationFetcher
	MessageCreator
	UserDirectory
}

type Options struct {
	TypingTimeout time.Duration
	Socket        SocketOptions
}

// Handlers receive events the core does not keep state for. Any may be nil.
type Handlers struct {
	OnMessage      func(models.Message)
	OnNotification func(models.NotificationPayload)
	OnPost         func(event string, payload models.PostPayload)
	OnPresence     func(userID string, online bool)
	OnError        func(models.ErrorPayload)
}

// Client wires the client-side components to one gateway connection.
type Client struct {
	Session  *Session
	Store    *MessageStore
	List     *ConversationList
	Typing   *TypingCoordinator
	Rooms    *RoomManager
	Sender   *Sender
	Resolver *DirectMessageResolver

	socket   *Socket
	handlers Handlers

	mu     sync.Mutex
	online map[string]bool
}

// New builds a client around api and emitter without any transport.
func New(userID string, api API, emitter Emitter, opts Options) *Client {
	session := NewSession(userID)
	store := NewMessageStore(session, api)
	list := NewConversationList(session, api)
	typing := NewTypingCoordinator(session, emitter, opts.TypingTimeout)
	rooms := NewRoomManager(session, emitter, store, typing)

	return &Client{
		Session:  session,
		Store:    store,
		List:     list,
		Typing:   typing,
		Rooms:    rooms,
		Sender:   NewSender(session, store, list, typing, api, emitter),
		Resolver: NewDirectMessageResolver(list, rooms, api),
		online:   make(map[string]bool),
	}
}

// Dial builds a client that talks to the server at serverURL over REST and
// the gateway socket. The socket connects in the background; call Start.
func Dial(serverURL, token, userID string, opts Options) (*Client, error) {
	socket, err := NewSocket(serverURL, token, userID, opts.Socket)
	if err != nil {
		return nil, err
	}
	c := New(userID, NewHTTPAPI(serverURL, token), socket, opts)
	c.socket = socket

	socket.OnFrame(c.HandleFrame)
	socket.OnConnect(func(reconnected bool) {
		if reconnected {
			c.Rooms.Rejoin()
		}
	})
	return c, nil
}

func (c *Client) SetHandlers(h Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

// Start connects the socket in the background and loads the first page of
// conversations.
func (c *Client) Start(ctx context.Context) error {
	if c.socket != nil {
		c.socket.Start(ctx)
	}
	return c.List.Fetch(ctx, 1)
}

// Open selects a conversation and marks it read.
func (c *Client) Open(ctx context.Context, conversationID string) error {
	if err := c.Rooms.Select(ctx, conversationID); err != nil {
		return fmt.Errorf("open %s: %w", conversationID, err)
	}
	if err := c.List.MarkRead(ctx, conversationID); err != nil {
		logger.Warn("Could not mark %s read: %v", conversationID, err)
	}
	return nil
}

// Send posts content to the active conversation.
func (c *Client) Send(ctx context.Context, content string) (*models.Message, error) {
	active := c.Session.Active()
	if active == "" {
		return nil, fmt.Errorf("no active conversation")
	}
	return c.Sender.Send(ctx, active, content, nil, "")
}

// HandleFrame applies one live event from the gateway.
func (c *Client) HandleFrame(frame models.Frame) {
	c.mu.Lock()
	h := c.handlers
	c.mu.Unlock()

	switch frame.Event {
	case models.EventMessageReceive:
		var m models.Message
		if !decodeFrame(frame, &m) {
			return
		}
		m = m.Confirmed()
		if c.Session.IsActive(m.ConversationID) {
			c.Store.Add(m)
		}
		c.List.ApplyIncoming(m)
		if h.OnMessage != nil {
			h.OnMessage(m)
		}

	case models.EventUserTyping:
		var p models.TypingPayload
		if decodeFrame(frame, &p) {
			c.Typing.HandleRemote(p)
		}

	case models.EventUserOnline, models.EventUserOffline:
		var p models.PresencePayload
		if !decodeFrame(frame, &p) {
			return
		}
		online := frame.Event == models.EventUserOnline
		c.mu.Lock()
		if online {
			c.online[p.UserID] = true
		} else {
			delete(c.online, p.UserID)
		}
		c.mu.Unlock()
		if h.OnPresence != nil {
			h.OnPresence(p.UserID, online)
		}

	case models.EventNotificationRecv:
		var n models.NotificationPayload
		if decodeFrame(frame, &n) && h.OnNotification != nil {
			h.OnNotification(n)
		}

	case models.EventPostLikeUpdate, models.EventPostCommentNew:
		var p models.PostPayload
		if decodeFrame(frame, &p) && h.OnPost != nil {
			h.OnPost(frame.Event, p)
		}

	case models.EventError:
		var e models.ErrorPayload
		if !decodeFrame(frame, &e) {
			return
		}
		logger.Warn("Gateway error on %s: %s (%s)", e.Event, e.Message, e.Code)
		if h.OnError != nil {
			h.OnError(e)
		}

	default:
		logger.Debug("Ignoring event %s", frame.Event)
	}
}

// Connected reports whether the gateway socket is up.
func (c *Client) Connected() bool {
	return c.socket != nil && c.socket.Connected()
}

// Online returns the users seen online since connecting, sorted.
func (c *Client) Online() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]string, 0, len(c.online))
	for id := range c.online {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// Close leaves the active room, stops timers and closes the socket.
func (c *Client) Close() error {
	c.Rooms.Close()
	if c.socket != nil {
		return c.socket.Close()
	}
	return nil
}

func decodeFrame(frame models.Frame, v interface{}) bool {
	if err := frame.Decode(v); err != nil {
		logger.Warn("Dropping %s: %v", frame.Event, err)
		return false
	}
	return true
}
