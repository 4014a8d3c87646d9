package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chat-core/internal/models"
)

type ConversationFetcher interface {
	ListConversations(ctx context.Context, page models.Page) ([]models.ConversationSummary, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// ConversationList keeps the user's conversation summaries, fed by paginated
// fetches and by live messages.
type ConversationList struct {
	mu       sync.Mutex
	session  *Session
	api      ConversationFetcher
	limit    int
	page     int
	hasMore  bool
	items    []models.ConversationSummary
	now      func() time.Time
	onChange func()
}

func NewConversationList(session *Session, api ConversationFetcher) *ConversationList {
	return &ConversationList{
		session: session,
		api:     api,
		limit:   models.DefaultPageLimit,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// OnChange registers a callback fired after every change to the list.
func (l *ConversationList) OnChange(fn func()) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// Fetch loads one page. Page 1 replaces the list; later pages append
// summaries not already present.
func (l *ConversationList) Fetch(ctx context.Context, page int) error {
	req := models.Page{Page: page, Limit: l.limit}.Normalize()
	summaries, err := l.api.ListConversations(ctx, req)
	if err != nil {
		return fmt.Errorf("fetch conversations: %w", err)
	}

	l.mu.Lock()
	if req.Page == 1 {
		l.items = append([]models.ConversationSummary(nil), summaries...)
	} else {
		for _, s := range summaries {
			if l.find(s.ID) < 0 {
				l.items = append(l.items, s)
			}
		}
	}
	l.page = req.Page
	l.hasMore = len(summaries) == req.Limit
	models.SortByRecent(l.items)
	l.mu.Unlock()

	l.changed()
	return nil
}

// FetchMore loads the next page when the last one was full.
func (l *ConversationList) FetchMore(ctx context.Context) error {
	l.mu.Lock()
	next, more := l.page+1, l.hasMore
	l.mu.Unlock()
	if !more {
		return nil
	}
	return l.Fetch(ctx, next)
}

func (l *ConversationList) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasMore
}

// UpdateLastMessage points the summary of m's conversation at m. Messages
// older than the summary's lastMessageAt are ignored, so lastMessageAt never
// moves backwards. It reports whether the summary changed.
func (l *ConversationList) UpdateLastMessage(m models.Message) bool {
	l.mu.Lock()
	updated := l.updateLocked(m)
	l.mu.Unlock()

	if updated {
		l.changed()
	}
	return updated
}

// ApplyIncoming records a live message. A message from someone else in a
// conversation that is not active bumps the unread count even when it is
// older than the current last message.
func (l *ConversationList) ApplyIncoming(m models.Message) bool {
	l.mu.Lock()
	updated := l.updateLocked(m)
	counted := false
	if m.SenderID != l.session.UserID() && !l.session.IsActive(m.ConversationID) {
		if i := l.find(m.ConversationID); i >= 0 {
			l.items[i].UnreadCount++
			counted = true
		}
	}
	l.mu.Unlock()

	if updated || counted {
		l.changed()
	}
	return updated
}

func (l *ConversationList) updateLocked(m models.Message) bool {
	i := l.find(m.ConversationID)
	if i < 0 {
		return false
	}
	s := &l.items[i]
	if m.CreatedAt.Before(s.LastMessageAt) {
		return false
	}
	last := m
	s.LastMessage = &last
	s.LastMessageAt = m.CreatedAt
	models.SortByRecent(l.items)
	return true
}

// MarkRead marks the conversation read on the server, then zeroes its unread
// count locally.
func (l *ConversationList) MarkRead(ctx context.Context, conversationID string) error {
	if err := l.api.MarkRead(ctx, conversationID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	l.mu.Lock()
	i := l.find(conversationID)
	if i >= 0 {
		now := l.now()
		l.items[i].UnreadCount = 0
		l.items[i].LastReadAt = &now
	}
	l.mu.Unlock()

	if i >= 0 {
		l.changed()
	}
	return nil
}

// FindDirect returns the loaded direct conversation with identity. The
// session's own user is skipped, since every summary lists it.
func (l *ConversationList) FindDirect(identity string) (models.ConversationSummary, bool) {
	self := l.session.UserID()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.items {
		if s.Type != models.ConversationDirect {
			continue
		}
		for _, p := range s.Participants {
			if p.ID == self {
				continue
			}
			if (models.User{ID: p.ID, Username: p.Username, Address: p.Address}).Matches(identity) {
				return s, true
			}
		}
	}
	return models.ConversationSummary{}, false
}

// Upsert inserts or replaces a summary.
func (l *ConversationList) Upsert(s models.ConversationSummary) {
	l.mu.Lock()
	if i := l.find(s.ID); i >= 0 {
		l.items[i] = s
	} else {
		l.items = append(l.items, s)
	}
	models.SortByRecent(l.items)
	l.mu.Unlock()

	l.changed()
}

func (l *ConversationList) Get(conversationID string) (models.ConversationSummary, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.find(conversationID); i >= 0 {
		return l.items[i], true
	}
	return models.ConversationSummary{}, false
}

// Summaries returns a copy, most recent activity first.
func (l *ConversationList) Summaries() []models.ConversationSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.ConversationSummary(nil), l.items...)
}

func (l *ConversationList) find(conversationID string) int {
	for i := range l.items {
		if l.items[i].ID == conversationID {
			return i
		}
	}
	return -1
}

func (l *ConversationList) changed() {
	l.mu.Lock()
	fn := l.onChange
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}
