package database

import (
	"context"
	"testing"

	"chat-core/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMemoryDB_SeedUsers(t *testing.T) {
	db := NewMemoryDB()
	require.NoError(t, db.SeedUsers([]string{"alice:secret", " bob:hunter2 "}))

	alice, err := db.GetUserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", alice.ID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(alice.PasswordHash), []byte("secret")))

	_, err = db.GetUserByID(context.Background(), "bob")
	assert.NoError(t, err)

	assert.Error(t, db.SeedUsers([]string{"no-password"}))
}

func TestMemoryDB_DirectConversationKey(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()
	db.AddUser(models.User{ID: "a"})
	db.AddUser(models.User{ID: "b"})

	first, err := db.GetOrCreateDirectConversation(ctx, "a", "b")
	require.NoError(t, err)
	second, err := db.GetOrCreateDirectConversation(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	ok, err := db.IsParticipant(ctx, first, "a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryDB_ListMessagesNewestFirst(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()
	db.AddUser(models.User{ID: "a"})
	conv := db.AddGroup("a")

	for _, content := range []string{"one", "two", "three"} {
		_, err := db.CreateMessage(ctx, "a", &models.CreateMessageRequest{ConversationID: conv, Content: content})
		require.NoError(t, err)
	}

	page, err := db.ListMessages(ctx, conv, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "three", page[0].Content)
	assert.Equal(t, "two", page[1].Content)

	page, err = db.ListMessages(ctx, conv, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "one", page[0].Content)

	_, err = db.CreateMessage(ctx, "a", &models.CreateMessageRequest{ConversationID: "missing", Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}
