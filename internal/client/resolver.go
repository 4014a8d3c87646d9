package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"chat-core/internal/models"
	"chat-core/internal/services"

	"golang.org/x/sync/singleflight"
)

type UserDirectory interface {
	ResolveUser(ctx context.Context, identity string) (*models.User, error)
	OpenDirect(ctx context.Context, targetUserID string) (*models.ConversationSummary, error)
}

// DirectMessageResolver opens the direct conversation with a user named by
// id, username or address. One resolution runs at a time, and an identity is
// resolved once until Reset.
type DirectMessageResolver struct {
	mu       sync.Mutex
	creating bool
	handled  map[string]string // identity -> conversation id

	list  *ConversationList
	rooms *RoomManager
	api   UserDirectory

	lookups singleflight.Group
	usersMu sync.Mutex
	users   map[string]models.User // identity -> user
}

func NewDirectMessageResolver(list *ConversationList, rooms *RoomManager, api UserDirectory) *DirectMessageResolver {
	return &DirectMessageResolver{
		handled: make(map[string]string),
		list:    list,
		rooms:   rooms,
		api:     api,
		users:   make(map[string]models.User),
	}
}

// Resolve selects the direct conversation with identity, creating it when no
// loaded summary matches. It returns ErrResolveInProgress while another
// resolution runs.
func (r *DirectMessageResolver) Resolve(ctx context.Context, identity string) (string, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", errors.New("identity is required")
	}

	r.mu.Lock()
	if id, ok := r.handled[identity]; ok {
		r.mu.Unlock()
		return id, nil
	}
	if r.creating {
		r.mu.Unlock()
		return "", ErrResolveInProgress
	}
	r.creating = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.creating = false
		r.mu.Unlock()
	}()

	conversationID, err := r.resolve(ctx, identity)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.handled[identity] = conversationID
	r.mu.Unlock()
	return conversationID, nil
}

func (r *DirectMessageResolver) resolve(ctx context.Context, identity string) (string, error) {
	if existing, ok := r.list.FindDirect(identity); ok {
		return existing.ID, r.rooms.Select(ctx, existing.ID)
	}

	user, err := r.Lookup(ctx, identity)
	if err != nil {
		return "", err
	}
	if user.ID == r.list.session.UserID() {
		return "", fmt.Errorf("%w: cannot open a conversation with yourself", services.ErrInvalidInput)
	}
	if existing, ok := r.list.FindDirect(user.ID); ok {
		return existing.ID, r.rooms.Select(ctx, existing.ID)
	}

	summary, err := r.api.OpenDirect(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("open direct conversation: %w", err)
	}
	r.list.Upsert(*summary)
	return summary.ID, r.rooms.Select(ctx, summary.ID)
}

// Lookup maps identity to a user, asking the server at most once per
// identity. Concurrent lookups of one identity share a request.
func (r *DirectMessageResolver) Lookup(ctx context.Context, identity string) (models.User, error) {
	identity = strings.TrimSpace(identity)
	r.usersMu.Lock()
	u, ok := r.users[identity]
	r.usersMu.Unlock()
	if ok {
		return u, nil
	}

	v, err, _ := r.lookups.Do(identity, func() (interface{}, error) {
		user, err := r.api.ResolveUser(ctx, identity)
		if err != nil {
			return models.User{}, fmt.Errorf("resolve %q: %w", identity, err)
		}
		r.usersMu.Lock()
		r.users[identity] = *user
		r.usersMu.Unlock()
		return *user, nil
	})
	if err != nil {
		return models.User{}, err
	}
	return v.(models.User), nil
}

// Reset lets identity be resolved again, e.g. on a new navigation to it.
func (r *DirectMessageResolver) Reset(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handled, strings.TrimSpace(identity))
}
