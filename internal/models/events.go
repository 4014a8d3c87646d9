package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Real-time event names shared by the gateway and its clients.
const (
	// client -> server
	EventJoinConversation  = "join:conversation"
	EventLeaveConversation = "leave:conversation"
	EventMessageSend       = "message:send"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventJoinUserRoom      = "join-user-room"
	EventNotificationSend  = "notification:send"
	EventPostLike          = "post:like"
	EventPostComment       = "post:comment"

	// server -> client
	EventMessageReceive   = "message:receive"
	EventUserTyping       = "user:typing"
	EventUserOnline       = "user:online"
	EventUserOffline      = "user:offline"
	EventNotificationRecv = "notification:receive"
	EventPostLikeUpdate   = "post:like:update"
	EventPostCommentNew   = "post:comment:new"
	EventError            = "error"
)

// Frame is the JSON envelope for every event on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewFrame(event string, payload interface{}) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Frame{Event: event, Data: data}, nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v interface{}) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s: empty payload", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", f.Event, err)
	}
	return nil
}

type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

type SendMessagePayload struct {
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	MessageID      string    `json:"messageId"`
	MediaURLs      []string  `json:"mediaUrls,omitempty"`
	ReplyToID      string    `json:"replyToId,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
}

type UserRoomPayload struct {
	UserID string `json:"userId"`
}

type NotificationSendPayload struct {
	TargetUserID string          `json:"targetUserId"`
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data,omitempty"`
}

type NotificationPayload struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type TypingPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type PresencePayload struct {
	UserID string `json:"userId"`
}

// PostPayload carries post interactions. Only postId is interpreted; the rest
// is relayed untouched.
type PostPayload map[string]interface{}

func (p PostPayload) PostID() string {
	id, _ := p["postId"].(string)
	return id
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeForbidden  = "forbidden"
	ErrCodeUnknown    = "unknown_event"
)

// Room identifiers on the gateway.
func UserRoom(userID string) string { return "user:" + userID }

func ConversationRoom(conversationID string) string { return "conversation:" + conversationID }
