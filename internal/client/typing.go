package client

import (
	"sort"
	"sync"
	"time"

	"chat-core/internal/models"
	"chat-core/pkg/logger"
)

const DefaultTypingTimeout = time.Second

// TypingCoordinator debounces the local user's typing signal and tracks who
// is typing remotely. Remote entries only clear on an explicit stop event.
type TypingCoordinator struct {
	mu       sync.Mutex
	session  *Session
	emitter  Emitter
	timeout  time.Duration
	typing   bool
	typingIn string // conversation the start was sent for
	timer    *time.Timer
	gen      uint64
	closed   bool
	remote   map[string]map[string]bool // conversation -> typing users
	onChange func(conversationID string, users []string)
}

func NewTypingCoordinator(session *Session, emitter Emitter, timeout time.Duration) *TypingCoordinator {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &TypingCoordinator{
		session: session,
		emitter: emitter,
		timeout: timeout,
		remote:  make(map[string]map[string]bool),
	}
}

// OnChange registers a callback fired when a remote typing set changes.
func (t *TypingCoordinator) OnChange(fn func(conversationID string, users []string)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// HandleTyping is called on every keystroke. The first call emits
// typing:start; each call pushes the typing:stop deadline back.
func (t *TypingCoordinator) HandleTyping() {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := t.session.Active()
	if t.closed || active == "" {
		return
	}
	if t.typing && t.typingIn != active {
		t.stopLocked()
	}
	if !t.typing {
		t.emit(models.EventTypingStart, active)
		t.typing = true
		t.typingIn = active
	}

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.timeout, func() { t.expire(gen) })
}

func (t *TypingCoordinator) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// A newer keystroke, Stop or Close already superseded this timer.
	if t.closed || gen != t.gen {
		return
	}
	t.stopLocked()
}

// Stop ends the local typing signal now, emitting typing:stop if a start
// was sent.
func (t *TypingCoordinator) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *TypingCoordinator) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	if t.typing {
		t.emit(models.EventTypingStop, t.typingIn)
	}
	t.typing = false
	t.typingIn = ""
}

func (t *TypingCoordinator) IsTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

// HandleRemote applies a user:typing event for the active conversation.
func (t *TypingCoordinator) HandleRemote(p models.TypingPayload) {
	if p.UserID == t.session.UserID() || !t.session.IsActive(p.ConversationID) {
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	users := t.remote[p.ConversationID]
	changed := false
	if p.IsTyping && !users[p.UserID] {
		if users == nil {
			users = make(map[string]bool)
			t.remote[p.ConversationID] = users
		}
		users[p.UserID] = true
		changed = true
	} else if !p.IsTyping && users[p.UserID] {
		delete(users, p.UserID)
		if len(users) == 0 {
			delete(t.remote, p.ConversationID)
		}
		changed = true
	}
	fn := t.onChange
	t.mu.Unlock()

	if changed && fn != nil {
		fn(p.ConversationID, t.TypingUsers(p.ConversationID))
	}
}

// TypingUsers returns the users typing in conversationID, sorted.
func (t *TypingCoordinator) TypingUsers(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := make([]string, 0, len(t.remote[conversationID]))
	for id := range t.remote[conversationID] {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// Forget drops the remote typing set of a conversation that was left.
func (t *TypingCoordinator) Forget(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.remote, conversationID)
}

// Close stops the timer. Callbacks already scheduled become no-ops.
func (t *TypingCoordinator) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.closed = true
}

func (t *TypingCoordinator) emit(event, conversationID string) {
	if err := t.emitter.Emit(event, models.ConversationRef{ConversationID: conversationID}); err != nil {
		logger.Debug("Could not emit %s for %s: %v", event, conversationID, err)
	}
}
