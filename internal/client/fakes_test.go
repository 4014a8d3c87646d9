package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chat-core/internal/models"
)

type emitted struct {
	Event          string
	ConversationID string
	Payload        json.RawMessage
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
	err    error
}

func (e *fakeEmitter) Emit(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var ref models.ConversationRef
	_ = json.Unmarshal(data, &ref)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, emitted{Event: event, ConversationID: ref.ConversationID, Payload: data})
	return nil
}

func (e *fakeEmitter) all() []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emitted(nil), e.events...)
}

// trace renders events as "event conversation" for order assertions.
func (e *fakeEmitter) trace() []string {
	var out []string
	for _, ev := range e.all() {
		out = append(out, ev.Event+" "+ev.ConversationID)
	}
	return out
}

func (e *fakeEmitter) count(event string) int {
	n := 0
	for _, ev := range e.all() {
		if ev.Event == event {
			n++
		}
	}
	return n
}

type fakeAPI struct {
	mu sync.Mutex

	history   map[string][]models.Message // newest first
	summaries []models.ConversationSummary
	users     map[string]models.User // identity -> user

	createErr   error
	onCreate    func(req *models.CreateMessageRequest)
	onList      func(conversationID string)
	openGate    chan struct{}
	openStarted chan struct{}

	createCalls  int
	resolveCalls int
	openCalls    int
	readCalls    int
	nextID       int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		history: make(map[string][]models.Message),
		users:   make(map[string]models.User),
	}
}

func (a *fakeAPI) ListMessages(_ context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	a.mu.Lock()
	hook := a.onList
	msgs := append([]models.Message(nil), a.history[conversationID]...)
	a.mu.Unlock()

	if hook != nil {
		hook(conversationID)
	}
	if offset >= len(msgs) {
		return []models.Message{}, nil
	}
	msgs = msgs[offset:]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (a *fakeAPI) ListConversations(_ context.Context, page models.Page) ([]models.ConversationSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	page = page.Normalize()
	start := page.Offset()
	if start >= len(a.summaries) {
		return []models.ConversationSummary{}, nil
	}
	end := start + page.Limit
	if end > len(a.summaries) {
		end = len(a.summaries)
	}
	return append([]models.ConversationSummary(nil), a.summaries[start:end]...), nil
}

func (a *fakeAPI) MarkRead(_ context.Context, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.readCalls++
	return nil
}

func (a *fakeAPI) CreateMessage(_ context.Context, req *models.CreateMessageRequest) (*models.Message, error) {
	a.mu.Lock()
	a.createCalls++
	hook, err := a.onCreate, a.createErr
	a.nextID++
	id := fmt.Sprintf("m-%d", a.nextID)
	a.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err != nil {
		return nil, err
	}
	return &models.Message{
		ID:             id,
		ConversationID: req.ConversationID,
		SenderID:       "me",
		Content:        req.Content,
		MediaURLs:      req.MediaURLs,
		ReplyToID:      req.ReplyToID,
		CreatedAt:      time.Now().UTC(),
		State:          models.StateConfirmed,
	}, nil
}

func (a *fakeAPI) ResolveUser(_ context.Context, identity string) (*models.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resolveCalls++
	u, ok := a.users[identity]
	if !ok {
		return nil, &APIError{Status: 404, Message: "user not found"}
	}
	return &u, nil
}

func (a *fakeAPI) OpenDirect(_ context.Context, targetUserID string) (*models.ConversationSummary, error) {
	a.mu.Lock()
	a.openCalls++
	gate, started := a.openGate, a.openStarted
	a.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return &models.ConversationSummary{
		ID:            "dm-" + targetUserID,
		Type:          models.ConversationDirect,
		Participants:  []models.Participant{{ID: "me", Username: "me"}, {ID: targetUserID, Username: targetUserID}},
		LastMessageAt: time.Now().UTC(),
	}, nil
}

func (a *fakeAPI) calls() (create, resolve, open int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.createCalls, a.resolveCalls, a.openCalls
}

func msg(id, conversationID, sender string, at time.Time) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       sender,
		Content:        "content " + id,
		CreatedAt:      at,
		State:          models.StateConfirmed,
	}
}
