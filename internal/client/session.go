// Package client holds the client-side half of the messaging core: the
// message store, sender, room manager, typing coordinator, conversation list
// and direct-message resolver, plus the socket and REST transports that feed
// them.
//
// The active conversation lives in a Session shared by every component, so
// a response can be checked against it when it arrives and dropped if the
// user has moved on.
package client

import (
	"errors"
	"sync"
)

var (
	ErrNotConnected      = errors.New("socket not connected")
	ErrResolveInProgress = errors.New("direct conversation resolution already in progress")
	ErrNotPending        = errors.New("message is not pending")
	ErrStaleResponse     = errors.New("response for a conversation that is no longer active")
	ErrEmptyMessage      = errors.New("message has no content")
)

// Emitter sends one event to the gateway.
type Emitter interface {
	Emit(event string, payload interface{}) error
}

type Session struct {
	mu     sync.RWMutex
	userID string
	active string
}

func NewSession(userID string) *Session {
	return &Session{userID: userID}
}

func (s *Session) UserID() string { return s.userID }

// Active returns the active conversation id, empty when none is selected.
func (s *Session) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Session) IsActive(conversationID string) bool {
	if conversationID == "" {
		return false
	}
	return s.Active() == conversationID
}

// setActive swaps the active conversation and returns the previous one.
func (s *Session) setActive(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.active
	s.active = conversationID
	return previous
}
