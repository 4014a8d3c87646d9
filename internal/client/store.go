package client

import (
	"context"
	"fmt"
	"sync"

	"chat-core/internal/models"
)

const defaultHistoryPage = 50

type HistoryFetcher interface {
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error)
}

// MessageStore is the ordered, deduplicated message list of the active
// conversation. Live messages are appended in arrival order.
type MessageStore struct {
	mu             sync.Mutex
	session        *Session
	api            HistoryFetcher
	pageSize       int
	conversationID string
	messages       []models.Message
	index          map[string]int // message id -> position
}

func NewMessageStore(session *Session, api HistoryFetcher) *MessageStore {
	return &MessageStore{
		session:  session,
		api:      api,
		pageSize: defaultHistoryPage,
		index:    make(map[string]int),
	}
}

// Fetch replaces the working set with the latest history of conversationID,
// oldest first. Entries added while the request was in flight and missing from
// the history (optimistic sends, live pushes) are kept after it. A response
// for a conversation that is no longer active, or that the store is no longer
// bound to, is dropped with ErrStaleResponse. Callers bind with Reset first.
func (s *MessageStore) Fetch(ctx context.Context, conversationID string) error {
	history, err := s.api.ListMessages(ctx, conversationID, s.pageSize, 0)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// The session may switch while the lock is contended, so both checks
	// happen under it.
	if s.conversationID != conversationID || !s.session.IsActive(conversationID) {
		return ErrStaleResponse
	}

	merged := make([]models.Message, 0, len(history)+len(s.messages))
	seen := make(map[string]bool, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i].Confirmed()
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		merged = append(merged, m)
	}
	for _, m := range s.messages {
		if !seen[m.ID] {
			merged = append(merged, m)
		}
	}

	s.messages = merged
	s.reindex()
	return nil
}

// Reset empties the store and binds it to conversationID.
func (s *MessageStore) Reset(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = conversationID
	s.messages = nil
	s.index = make(map[string]int)
}

func (s *MessageStore) Clear() { s.Reset("") }

func (s *MessageStore) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Add appends m unless its id is already present or it belongs to another
// conversation. It reports whether m was added.
func (s *MessageStore) Add(m models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conversationID != "" && m.ConversationID != s.conversationID {
		return false
	}
	if _, ok := s.index[m.ID]; ok {
		return false
	}
	s.index[m.ID] = len(s.messages)
	s.messages = append(s.messages, m)
	return true
}

// Replace swaps the pending message tempID for its confirmed counterpart in
// place. If the confirmed id is already present the pending copy is dropped
// instead. ErrNotPending means the pending entry is gone.
func (s *MessageStore) Replace(tempID string, final models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[tempID]
	if !ok || !s.messages[i].Pending() {
		return ErrNotPending
	}

	final = final.Confirmed()
	if _, dup := s.index[final.ID]; dup && final.ID != tempID {
		s.removeAt(i)
		return nil
	}
	s.messages[i] = final
	delete(s.index, tempID)
	s.index[final.ID] = i
	return nil
}

// Remove deletes the message with id. It reports whether it was present.
func (s *MessageStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.removeAt(i)
	return true
}

func (s *MessageStore) Get(id string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return models.Message{}, false
	}
	return s.messages[i], true
}

// Messages returns a copy of the list in display order.
func (s *MessageStore) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages...)
}

func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *MessageStore) removeAt(i int) {
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	s.reindex()
}

func (s *MessageStore) reindex() {
	s.index = make(map[string]int, len(s.messages))
	for i, m := range s.messages {
		s.index[m.ID] = i
	}
}
