package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"chat-core/internal/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MemoryDB is a process-local Database for development and tests. It keeps
// the same semantics as the Postgres implementation.
type MemoryDB struct {
	mu            sync.Mutex
	users         map[string]*models.User
	conversations map[string]*memConversation
	directKeys    map[string]string
	messages      map[string][]models.Message // conversationID -> oldest first
	now           func() time.Time
}

type memConversation struct {
	conv     models.Conversation
	lastRead map[string]*time.Time
	members  map[string]bool
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		users:         make(map[string]*models.User),
		conversations: make(map[string]*memConversation),
		directKeys:    make(map[string]string),
		messages:      make(map[string][]models.Message),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (db *MemoryDB) Close() error { return nil }

// AddUser seeds a user. An empty ID is generated.
func (db *MemoryDB) AddUser(u models.User) models.User {
	db.mu.Lock()
	defer db.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = db.now()
	}
	cp := u
	db.users[u.ID] = &cp
	return u
}

// SeedUsers adds one user per "name:password" entry, using name as both id
// and username.
func (db *MemoryDB) SeedUsers(entries []string) error {
	for _, entry := range entries {
		name, password, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || name == "" || password == "" {
			return fmt.Errorf("invalid seed user %q, want name:password", entry)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", name, err)
		}
		db.AddUser(models.User{ID: name, Username: name, PasswordHash: string(hash)})
	}
	return nil
}

// AddGroup seeds a group conversation.
func (db *MemoryDB) AddGroup(participantIDs ...string) string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.createLocked(models.ConversationGroup, participantIDs)
}

func (db *MemoryDB) createLocked(kind models.ConversationType, participantIDs []string) string {
	now := db.now()
	c := &memConversation{
		conv: models.Conversation{
			ID:             uuid.NewString(),
			Type:           kind,
			ParticipantIDs: append([]string(nil), participantIDs...),
			LastMessageAt:  now,
			CreatedAt:      now,
		},
		lastRead: make(map[string]*time.Time),
		members:  make(map[string]bool),
	}
	for _, id := range participantIDs {
		c.members[id] = true
	}
	db.conversations[c.conv.ID] = c
	return c.conv.ID
}

func (db *MemoryDB) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, u := range db.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (db *MemoryDB) GetUserByID(_ context.Context, id string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if u, ok := db.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (db *MemoryDB) FindUserByIdentity(_ context.Context, identity string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if u, ok := db.users[identity]; ok {
		cp := *u
		return &cp, nil
	}
	for _, u := range db.users {
		if u.Username == identity || (u.Address != "" && strings.EqualFold(u.Address, identity)) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (db *MemoryDB) ListConversationSummaries(_ context.Context, userID string, page models.Page) ([]models.ConversationSummary, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var all []models.ConversationSummary
	for _, c := range db.conversations {
		if c.members[userID] {
			all = append(all, db.summaryLocked(c, userID))
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].LastMessageAt.Equal(all[j].LastMessageAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].LastMessageAt.After(all[j].LastMessageAt)
	})

	page = page.Normalize()
	start := page.Offset()
	if start >= len(all) {
		return []models.ConversationSummary{}, nil
	}
	end := start + page.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (db *MemoryDB) GetConversationSummary(_ context.Context, userID, conversationID string) (*models.ConversationSummary, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.conversations[conversationID]
	if !ok || !c.members[userID] {
		return nil, ErrNotFound
	}
	s := db.summaryLocked(c, userID)
	return &s, nil
}

func (db *MemoryDB) summaryLocked(c *memConversation, userID string) models.ConversationSummary {
	s := models.ConversationSummary{
		ID:            c.conv.ID,
		Type:          c.conv.Type,
		LastMessageAt: c.conv.LastMessageAt,
	}
	if lr := c.lastRead[userID]; lr != nil {
		t := *lr
		s.LastReadAt = &t
	}
	for _, id := range c.conv.ParticipantIDs {
		if u, ok := db.users[id]; ok {
			s.Participants = append(s.Participants, models.Participant{ID: u.ID, Username: u.Username, Address: u.Address})
		}
	}
	msgs := db.messages[c.conv.ID]
	if n := len(msgs); n > 0 {
		last := msgs[n-1]
		s.LastMessage = &last
	}
	for _, m := range msgs {
		if m.SenderID != userID && (s.LastReadAt == nil || m.CreatedAt.After(*s.LastReadAt)) {
			s.UnreadCount++
		}
	}
	return s
}

func (db *MemoryDB) GetOrCreateDirectConversation(_ context.Context, userID, otherUserID string) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := directKey(userID, otherUserID)
	if id, ok := db.directKeys[key]; ok {
		return id, nil
	}
	id := db.createLocked(models.ConversationDirect, []string{userID, otherUserID})
	db.directKeys[key] = id
	return id, nil
}

func (db *MemoryDB) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.conversations[conversationID]
	return ok && c.members[userID], nil
}

func (db *MemoryDB) MarkRead(_ context.Context, conversationID, userID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.conversations[conversationID]
	if !ok || !c.members[userID] {
		return ErrNotFound
	}
	now := db.now()
	c.lastRead[userID] = &now
	return nil
}

func (db *MemoryDB) CreateMessage(_ context.Context, senderID string, req *models.CreateMessageRequest) (*models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.conversations[req.ConversationID]
	if !ok {
		return nil, ErrNotFound
	}

	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		SenderID:       senderID,
		Content:        req.Content,
		MediaURLs:      req.MediaURLs,
		ReplyToID:      req.ReplyToID,
		CreatedAt:      db.now(),
		State:          models.StateConfirmed,
	}
	db.messages[req.ConversationID] = append(db.messages[req.ConversationID], msg)
	if msg.CreatedAt.After(c.conv.LastMessageAt) {
		c.conv.LastMessageAt = msg.CreatedAt
	}
	return &msg, nil
}

func (db *MemoryDB) ListMessages(_ context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	msgs := db.messages[conversationID]

	out := make([]models.Message, 0, limit)
	for i := len(msgs) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}
