// Package presence tracks which connection currently represents each user.
//
// One connection is tracked per user; a newer connection replaces the older
// one (last connect wins). Removal is conditional on the connection id so a
// superseded connection closing late cannot mark the user offline.
package presence

import (
	"context"
	"sort"
	"sync"
)

type Registry interface {
	// Register records connID as the active connection for userID and returns
	// the connection it replaced, if any.
	Register(ctx context.Context, userID, connID string) (previous string, err error)
	Lookup(ctx context.Context, userID string) (connID string, ok bool, err error)
	// Remove deletes the entry only if it still points at connID. It reports
	// whether an entry was removed.
	Remove(ctx context.Context, userID, connID string) (bool, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
	Online(ctx context.Context) ([]string, error)
}

type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]string // userID -> connID
	byConn  map[string]string // connID -> userID
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		entries: make(map[string]string),
		byConn:  make(map[string]string),
	}
}

func (r *MemoryRegistry) Register(_ context.Context, userID, connID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.entries[userID]
	if previous != "" && previous != connID {
		delete(r.byConn, previous)
	}
	r.entries[userID] = connID
	r.byConn[connID] = userID
	return previous, nil
}

func (r *MemoryRegistry) Lookup(_ context.Context, userID string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.entries[userID]
	return connID, ok, nil
}

// UserFor is the reverse lookup from a tracked connection to its user.
func (r *MemoryRegistry) UserFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.byConn[connID]
	return userID, ok
}

func (r *MemoryRegistry) Remove(_ context.Context, userID, connID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.entries[userID]
	if !ok || current != connID {
		return false, nil
	}
	delete(r.entries, userID)
	delete(r.byConn, connID)
	return true, nil
}

func (r *MemoryRegistry) IsOnline(ctx context.Context, userID string) (bool, error) {
	_, ok, err := r.Lookup(ctx, userID)
	return ok, err
}

func (r *MemoryRegistry) Online(_ context.Context) ([]string, error) {
	r.mu.RLock()
	users := make([]string, 0, len(r.entries))
	for userID := range r.entries {
		users = append(users, userID)
	}
	r.mu.RUnlock()

	sort.Strings(users)
	return users, nil
}
