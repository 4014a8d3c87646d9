package websocket

import (
	"context"
	"encoding/json"
	"time"

	"chat-core/internal/bus"
	"chat-core/internal/models"
	"chat-core/internal/presence"
	"chat-core/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
)

// ParticipantChecker gates conversation joins and message relays.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

type Options struct {
	SendBuffer      int
	MaxMessageBytes int64
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	Checker         ParticipantChecker
	MeterProvider   metric.MeterProvider
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	return o
}

type command struct {
	client *Client
	frame  models.Frame
}

// Hub is the connection gateway. Connections and room membership are owned by
// the Run goroutine; every other goroutine talks to it through channels.
// Outbound events go through the bus and come back as deliveries, so events
// for one room reach local connections in the order they were published.
type Hub struct {
	clients map[string]*Client          // connection id -> client
	rooms   map[string]map[*Client]bool // room -> members

	register   chan *Client
	unregister chan *Client
	commands   chan command
	deliveries chan bus.Delivery
	done       chan struct{}

	presence presence.Registry
	bus      bus.Bus
	opts     Options
	metrics  *gatewayMetrics
}

func NewHub(registry presence.Registry, b bus.Bus, opts Options) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan command, 64),
		deliveries: make(chan bus.Delivery, 256),
		done:       make(chan struct{}),
		presence:   registry,
		bus:        b,
		opts:       opts.withDefaults(),
		metrics:    newGatewayMetrics(opts.MeterProvider),
	}
}

func (h *Hub) Options() Options { return h.opts }

// Run processes connections, commands and deliveries until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	err := h.bus.Subscribe(func(d bus.Delivery) {
		select {
		case h.deliveries <- d:
		case <-h.done:
		}
	})
	if err != nil {
		return err
	}

	defer func() {
		for _, client := range h.clients {
			close(client.send)
		}
		h.clients = map[string]*Client{}
		h.rooms = map[string]map[*Client]bool{}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case client := <-h.register:
			h.addClient(ctx, client)

		case client := <-h.unregister:
			h.removeClient(ctx, client)

		case cmd := <-h.commands:
			if _, ok := h.clients[cmd.client.id]; !ok {
				continue
			}
			h.handleCommand(ctx, cmd.client, cmd.frame)

		case d := <-h.deliveries:
			h.deliver(ctx, d)
		}
	}
}

// Register hands a connected client to the hub. It reports false when the hub
// has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) dispatch(client *Client, frame models.Frame) bool {
	select {
	case h.commands <- command{client: client, frame: frame}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) addClient(ctx context.Context, client *Client) {
	h.clients[client.id] = client

	previous, err := h.presence.Register(ctx, client.userID, client.id)
	if err != nil {
		logger.Error("Error registering presence for %s: %v", client.userID, err)
	}
	if previous != "" && previous != client.id {
		logger.Info("User %s reconnected, connection %s supersedes %s", client.userID, client.id, previous)
	}

	h.join(client, models.UserRoom(client.userID))
	h.metrics.connected(ctx)
	h.publish(ctx, "", client.id, models.EventUserOnline, models.PresencePayload{UserID: client.userID})
	logger.Info("User %s connected (%s)", client.userID, client.id)
}

func (h *Hub) removeClient(ctx context.Context, client *Client) {
	if _, ok := h.clients[client.id]; !ok {
		return
	}
	delete(h.clients, client.id)
	for room := range client.rooms {
		h.leave(client, room)
	}
	close(client.send)
	h.metrics.disconnected(ctx)

	removed, err := h.presence.Remove(ctx, client.userID, client.id)
	if err != nil {
		logger.Error("Error removing presence for %s: %v", client.userID, err)
	}
	if removed {
		h.publish(ctx, "", client.id, models.EventUserOffline, models.PresencePayload{UserID: client.userID})
	}
	logger.Info("User %s disconnected (%s)", client.userID, client.id)
}

func (h *Hub) join(client *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[room] = members
	}
	members[client] = true
	client.rooms[room] = true
}

func (h *Hub) leave(client *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(client.rooms, room)
}

func (h *Hub) handleCommand(ctx context.Context, client *Client, frame models.Frame) {
	switch frame.Event {
	case models.EventJoinConversation:
		var p models.ConversationRef
		if !h.decode(client, frame, &p) || !h.requireConversation(client, frame, p.ConversationID) {
			return
		}
		h.join(client, models.ConversationRoom(p.ConversationID))
		logger.Debug("User %s joined conversation %s", client.userID, p.ConversationID)

	case models.EventLeaveConversation:
		var p models.ConversationRef
		if !h.decode(client, frame, &p) || !h.requireConversation(client, frame, p.ConversationID) {
			return
		}
		h.leave(client, models.ConversationRoom(p.ConversationID))
		logger.Debug("User %s left conversation %s", client.userID, p.ConversationID)

	case models.EventJoinUserRoom:
		var p models.UserRoomPayload
		if !h.decode(client, frame, &p) {
			return
		}
		if p.UserID != client.userID {
			h.replyError(client, frame.Event, models.ErrCodeForbidden, "cannot join another user's room")
			return
		}
		h.join(client, models.UserRoom(client.userID))

	case models.EventMessageSend:
		var p models.SendMessagePayload
		if !h.decode(client, frame, &p) || !h.requireConversation(client, frame, p.ConversationID) {
			return
		}
		msg := models.Message{
			ID:             p.MessageID,
			ConversationID: p.ConversationID,
			SenderID:       client.userID,
			Content:        p.Content,
			MediaURLs:      p.MediaURLs,
			ReplyToID:      p.ReplyToID,
			CreatedAt:      p.CreatedAt,
			State:          models.StateConfirmed,
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}
		// The sender already shows its optimistic copy.
		h.publish(ctx, models.ConversationRoom(p.ConversationID), client.id, models.EventMessageReceive, msg)

	case models.EventTypingStart, models.EventTypingStop:
		var p models.ConversationRef
		if !h.decode(client, frame, &p) || !h.requireConversation(client, frame, p.ConversationID) {
			return
		}
		room := models.ConversationRoom(p.ConversationID)
		if !client.rooms[room] {
			return
		}
		h.publish(ctx, room, client.id, models.EventUserTyping, models.TypingPayload{
			UserID:         client.userID,
			ConversationID: p.ConversationID,
			IsTyping:       frame.Event == models.EventTypingStart,
		})

	case models.EventNotificationSend:
		var p models.NotificationSendPayload
		if !h.decode(client, frame, &p) {
			return
		}
		if p.TargetUserID == "" {
			h.replyError(client, frame.Event, models.ErrCodeBadRequest, "targetUserId is required")
			return
		}
		h.publish(ctx, models.UserRoom(p.TargetUserID), "", models.EventNotificationRecv, models.NotificationPayload{
			Type:      p.Type,
			Data:      p.Data,
			Timestamp: time.Now().UTC(),
		})

	case models.EventPostLike, models.EventPostComment:
		var p models.PostPayload
		if !h.decode(client, frame, &p) {
			return
		}
		if p.PostID() == "" {
			h.replyError(client, frame.Event, models.ErrCodeBadRequest, "postId is required")
			return
		}
		p["userId"] = client.userID
		out := models.EventPostLikeUpdate
		if frame.Event == models.EventPostComment {
			out = models.EventPostCommentNew
		}
		h.publish(ctx, "", client.id, out, p)

	case models.EventError:
		// Pre-checked replies from the connection's read loop.
		h.send(client, frame)

	default:
		h.replyError(client, frame.Event, models.ErrCodeUnknown, "unknown event")
	}
}

func (h *Hub) decode(client *Client, frame models.Frame, v interface{}) bool {
	if err := frame.Decode(v); err != nil {
		h.replyError(client, frame.Event, models.ErrCodeBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Hub) requireConversation(client *Client, frame models.Frame, conversationID string) bool {
	if conversationID == "" {
		h.replyError(client, frame.Event, models.ErrCodeBadRequest, "conversationId is required")
		return false
	}
	return true
}

func (h *Hub) replyError(client *Client, event, code, message string) {
	frame, err := models.NewFrame(models.EventError, models.ErrorPayload{Code: code, Message: message, Event: event})
	if err != nil {
		logger.Error("Error building error frame: %v", err)
		return
	}
	h.send(client, frame)
}

func (h *Hub) publish(ctx context.Context, room, exclude, event string, payload interface{}) {
	frame, err := models.NewFrame(event, payload)
	if err != nil {
		logger.Error("Error marshaling %s: %v", event, err)
		return
	}
	if err := h.bus.Publish(ctx, bus.Delivery{Room: room, Exclude: exclude, Frame: frame}); err != nil {
		logger.Error("Error publishing %s: %v", event, err)
	}
}

func (h *Hub) deliver(ctx context.Context, d bus.Delivery) {
	data, err := json.Marshal(d.Frame)
	if err != nil {
		logger.Error("Error marshaling delivery: %v", err)
		return
	}

	var targets []*Client
	if d.Room == "" {
		targets = make([]*Client, 0, len(h.clients))
		for _, client := range h.clients {
			targets = append(targets, client)
		}
	} else {
		targets = make([]*Client, 0, len(h.rooms[d.Room]))
		for client := range h.rooms[d.Room] {
			targets = append(targets, client)
		}
	}

	for _, client := range targets {
		if client.id == d.Exclude {
			continue
		}
		if !h.enqueue(client, data) {
			logger.Warn("Dropping slow connection %s of user %s", client.id, client.userID)
			h.removeClient(ctx, client)
		}
	}
	if len(targets) > 0 {
		h.metrics.relayed(ctx, d.Frame.Event)
	}
}

func (h *Hub) send(client *Client, frame models.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		logger.Error("Error marshaling frame: %v", err)
		return
	}
	if !h.enqueue(client, data) {
		h.removeClient(context.Background(), client)
	}
}

func (h *Hub) enqueue(client *Client, data []byte) bool {
	select {
	case client.send <- data:
		return true
	default:
		return false
	}
}
