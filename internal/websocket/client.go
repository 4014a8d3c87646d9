package websocket

import (
	"context"
	"encoding/json"
	"time"

	"chat-core/internal/models"
	"chat-core/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const participantCheckTimeout = 5 * time.Second

// Client is one authenticated connection. rooms is owned by the hub goroutine.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	id     string
	userID string
	rooms  map[string]bool
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, hub.opts.SendBuffer),
		id:     uuid.NewString(),
		userID: userID,
		rooms:  make(map[string]bool),
	}
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	opts := c.hub.opts
	c.conn.SetReadLimit(opts.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error: %v", err)
			}
			break
		}

		var frame models.Frame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Event == "" {
			frame = errorFrame("", models.ErrCodeBadRequest, "malformed frame")
		} else if frame.Event == models.EventError {
			frame = errorFrame(frame.Event, models.ErrCodeUnknown, "unknown event")
		} else if denied, ok := c.checkParticipant(frame); !ok {
			frame = denied
		}

		if !c.hub.dispatch(c, frame) {
			return
		}
	}
}

// checkParticipant runs outside the hub goroutine so a slow lookup only
// stalls this connection.
func (c *Client) checkParticipant(frame models.Frame) (models.Frame, bool) {
	checker := c.hub.opts.Checker
	if checker == nil {
		return models.Frame{}, true
	}
	if frame.Event != models.EventJoinConversation && frame.Event != models.EventMessageSend {
		return models.Frame{}, true
	}

	var ref models.ConversationRef
	if err := frame.Decode(&ref); err != nil || ref.ConversationID == "" {
		// The hub reports the malformed payload.
		return models.Frame{}, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), participantCheckTimeout)
	defer cancel()
	ok, err := checker.IsParticipant(ctx, ref.ConversationID, c.userID)
	if err != nil {
		logger.Error("Error checking participant %s in %s: %v", c.userID, ref.ConversationID, err)
		return errorFrame(frame.Event, models.ErrCodeForbidden, "participant check failed"), false
	}
	if !ok {
		return errorFrame(frame.Event, models.ErrCodeForbidden, "not a participant of this conversation"), false
	}
	return models.Frame{}, true
}

func (c *Client) WritePump() {
	opts := c.hub.opts
	ticker := time.NewTicker(opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func errorFrame(event, code, message string) models.Frame {
	data, _ := json.Marshal(models.ErrorPayload{Code: code, Message: message, Event: event})
	return models.Frame{Event: models.EventError, Data: data}
}
