package models

import (
	"sort"
	"time"
)

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

type Conversation struct {
	ID             string           `json:"id"`
	Type           ConversationType `json:"type"`
	ParticipantIDs []string         `json:"participantIds"`
	LastMessageAt  time.Time        `json:"lastMessageAt"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// DeliveryState tags a client-visible message as optimistic or server-confirmed.
type DeliveryState string

const (
	StatePending   DeliveryState = "pending"
	StateConfirmed DeliveryState = "confirmed"
)

// Message is the client-visible message. A pending message carries a client
// generated temporary id; a confirmed one carries the server id.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Content        string        `json:"content"`
	MediaURLs      []string      `json:"mediaUrls,omitempty"`
	ReplyToID      string        `json:"replyToId,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	State          DeliveryState `json:"state,omitempty"`
}

func NewPendingMessage(tempID, conversationID, senderID, content string, mediaURLs []string, now time.Time) Message {
	return Message{
		ID:             tempID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		MediaURLs:      mediaURLs,
		CreatedAt:      now,
		State:          StatePending,
	}
}

func (m Message) Pending() bool { return m.State == StatePending }

// Confirmed returns m marked as server-confirmed. Messages from the server or
// the gateway never carry a pending state.
func (m Message) Confirmed() Message {
	m.State = StateConfirmed
	return m
}

type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Address  string `json:"address,omitempty"`
}

// ConversationSummary is the list-view representation of a conversation.
type ConversationSummary struct {
	ID            string           `json:"id"`
	Type          ConversationType `json:"type"`
	Participants  []Participant    `json:"participants"`
	LastMessage   *Message         `json:"lastMessage,omitempty"`
	UnreadCount   int              `json:"unreadCount"`
	LastMessageAt time.Time        `json:"lastMessageAt"`
	LastReadAt    *time.Time       `json:"lastReadAt,omitempty"`
}

// HasParticipant reports whether identity names one of the participants.
func (s ConversationSummary) HasParticipant(identity string) bool {
	for _, p := range s.Participants {
		if (User{ID: p.ID, Username: p.Username, Address: p.Address}).Matches(identity) {
			return true
		}
	}
	return false
}

// SortByRecent orders summaries newest activity first.
func SortByRecent(list []ConversationSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastMessageAt.After(list[j].LastMessageAt)
	})
}

type CreateMessageRequest struct {
	ConversationID string   `json:"-"`
	Content        string   `json:"content"`
	MediaURLs      []string `json:"mediaUrls,omitempty"`
	ReplyToID      string   `json:"replyToId,omitempty"`
}

type CreateDirectRequest struct {
	TargetUserID string `json:"targetUserId"`
}

type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize clamps the page to sane bounds. Pages start at 1.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.Limit
}
