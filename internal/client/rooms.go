package client

import (
	"context"
	"errors"
	"sync"

	"chat-core/internal/models"
	"chat-core/pkg/logger"
)

// RoomManager keeps the client subscribed to at most one conversation room.
type RoomManager struct {
	mu      sync.Mutex
	session *Session
	emitter Emitter
	store   *MessageStore
	typing  *TypingCoordinator
}

func NewRoomManager(session *Session, emitter Emitter, store *MessageStore, typing *TypingCoordinator) *RoomManager {
	return &RoomManager{
		session: session,
		emitter: emitter,
		store:   store,
		typing:  typing,
	}
}

// Select makes conversationID the active conversation: the previous room is
// left before the new one is joined, then its history is loaded. Selecting
// the active conversation again is a no-op.
func (r *RoomManager) Select(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}

	r.mu.Lock()
	if r.session.Active() == conversationID {
		r.mu.Unlock()
		return nil
	}
	r.leaveLocked()
	r.session.setActive(conversationID)
	r.store.Reset(conversationID)
	r.emit(models.EventJoinConversation, conversationID)
	r.mu.Unlock()

	err := r.store.Fetch(ctx, conversationID)
	if errors.Is(err, ErrStaleResponse) {
		logger.Debug("Dropped history for %s, no longer active", conversationID)
		return nil
	}
	return err
}

// ClearSelection leaves the active room, if any.
func (r *RoomManager) ClearSelection() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked()
	r.session.setActive("")
	r.store.Clear()
}

// Rejoin re-subscribes the active room after the socket reconnects.
func (r *RoomManager) Rejoin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if active := r.session.Active(); active != "" {
		r.emit(models.EventJoinConversation, active)
	}
}

func (r *RoomManager) Active() string { return r.session.Active() }

// Close leaves the active room and stops typing timers.
func (r *RoomManager) Close() {
	r.ClearSelection()
	r.typing.Close()
}

func (r *RoomManager) leaveLocked() {
	previous := r.session.Active()
	if previous == "" {
		return
	}
	r.typing.Stop()
	r.typing.Forget(previous)
	r.emit(models.EventLeaveConversation, previous)
}

func (r *RoomManager) emit(event, conversationID string) {
	// Membership is restored by Rejoin once the socket is back.
	if err := r.emitter.Emit(event, models.ConversationRef{ConversationID: conversationID}); err != nil {
		logger.Debug("Could not emit %s for %s: %v", event, conversationID, err)
	}
}
