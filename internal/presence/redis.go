package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"chat-core/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "presence:"

func presenceKey(userID string) string { return keyPrefix + userID }

// Deletes the key only while it still holds the caller's connection id.
// KEYS[1] = presence key, ARGV[1] = connection id. Returns 1 when deleted.
var luaRemoveIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Rewrites the key with a fresh TTL unless another process has claimed it.
// KEYS[1] = presence key, ARGV[1] = connection id, ARGV[2] = ttl in ms.
var luaRefreshIfOwner = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false or current == ARGV[1] then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
  return 1
end
return 0
`)

// RedisRegistry mirrors a local registry into Redis so other gateway
// processes can answer presence lookups. The local registry stays the source
// of truth for connections owned by this process.
type RedisRegistry struct {
	local *MemoryRegistry
	rdb   *redis.Client
	ttl   time.Duration
}

func NewRedisRegistry(local *MemoryRegistry, rdb *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisRegistry{local: local, rdb: rdb, ttl: ttl}
}

func (r *RedisRegistry) Register(ctx context.Context, userID, connID string) (string, error) {
	previous, err := r.local.Register(ctx, userID, connID)
	if err != nil {
		return previous, err
	}
	if err := r.rdb.Set(ctx, presenceKey(userID), connID, r.ttl).Err(); err != nil {
		return previous, fmt.Errorf("mirror presence for %s: %w", userID, err)
	}
	return previous, nil
}

func (r *RedisRegistry) Lookup(ctx context.Context, userID string) (string, bool, error) {
	if connID, ok, _ := r.local.Lookup(ctx, userID); ok {
		return connID, true, nil
	}

	val, err := r.rdb.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup presence for %s: %w", userID, err)
	}
	return val, true, nil
}

func (r *RedisRegistry) Remove(ctx context.Context, userID, connID string) (bool, error) {
	removed, err := r.local.Remove(ctx, userID, connID)
	if err != nil || !removed {
		return removed, err
	}
	if err := luaRemoveIfOwner.Run(ctx, r.rdb, []string{presenceKey(userID)}, connID).Err(); err != nil {
		return true, fmt.Errorf("remove mirrored presence for %s: %w", userID, err)
	}
	return true, nil
}

func (r *RedisRegistry) IsOnline(ctx context.Context, userID string) (bool, error) {
	_, ok, err := r.Lookup(ctx, userID)
	return ok, err
}

// Online lists users online on any gateway process.
func (r *RedisRegistry) Online(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	local, _ := r.local.Online(ctx)
	for _, userID := range local {
		seen[userID] = struct{}{}
	}

	iter := r.rdb.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		seen[strings.TrimPrefix(iter.Val(), keyPrefix)] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return local, fmt.Errorf("scan presence keys: %w", err)
	}

	users := make([]string, 0, len(seen))
	for userID := range seen {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users, nil
}

// Run keeps mirrored entries alive until ctx is done.
func (r *RedisRegistry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *RedisRegistry) refresh(ctx context.Context) {
	r.local.mu.RLock()
	entries := make(map[string]string, len(r.local.entries))
	for userID, connID := range r.local.entries {
		entries[userID] = connID
	}
	r.local.mu.RUnlock()

	ttlMS := r.ttl.Milliseconds()
	for userID, connID := range entries {
		if err := luaRefreshIfOwner.Run(ctx, r.rdb, []string{presenceKey(userID)}, connID, ttlMS).Err(); err != nil {
			logger.Error("Error refreshing presence for %s: %v", userID, err)
		}
	}
}
