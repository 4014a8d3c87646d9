package services

import (
	"context"
	"sync"
	"testing"

	"chat-core/internal/database"
	"chat-core/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*ConversationService, *database.MemoryDB, models.User, models.User) {
	t.Helper()
	db := database.NewMemoryDB()
	alice := db.AddUser(models.User{ID: "u-alice", Username: "alice", Address: "0xAbC"})
	bob := db.AddUser(models.User{ID: "u-bob", Username: "bob"})
	return NewConversationService(db), db, alice, bob
}

func TestOpenDirect_IsIdempotent(t *testing.T) {
	svc, _, alice, bob := newTestService(t)
	ctx := context.Background()

	first, err := svc.OpenDirect(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	second, err := svc.OpenDirect(ctx, bob.ID, alice.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "both directions must resolve to one conversation")
	assert.Equal(t, models.ConversationDirect, first.Type)
	assert.True(t, first.HasParticipant("bob"))
}

func TestOpenDirect_ConcurrentCallsConverge(t *testing.T) {
	svc, _, alice, bob := newTestService(t)
	ctx := context.Background()

	ids := make(chan string, 10)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := svc.OpenDirect(ctx, alice.ID, bob.ID)
			if assert.NoError(t, err) {
				ids <- s.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
}

func TestOpenDirect_Validation(t *testing.T) {
	svc, _, alice, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.OpenDirect(ctx, alice.ID, alice.ID)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.OpenDirect(ctx, alice.ID, "u-ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendMessage_RequiresParticipant(t *testing.T) {
	svc, db, alice, bob := newTestService(t)
	carol := db.AddUser(models.User{ID: "u-carol", Username: "carol"})
	ctx := context.Background()

	conv, err := svc.OpenDirect(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, carol.ID, &models.CreateMessageRequest{ConversationID: conv.ID, Content: "hi"})
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = svc.History(ctx, carol.ID, conv.ID, 10, 0)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestSendMessage_RejectsEmpty(t *testing.T) {
	svc, _, alice, bob := newTestService(t)
	ctx := context.Background()
	conv, err := svc.OpenDirect(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, alice.ID, &models.CreateMessageRequest{ConversationID: conv.ID, Content: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSendMessage_UpdatesActivityAndHistory(t *testing.T) {
	svc, _, alice, bob := newTestService(t)
	ctx := context.Background()
	conv, err := svc.OpenDirect(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	first, err := svc.SendMessage(ctx, alice.ID, &models.CreateMessageRequest{ConversationID: conv.ID, Content: "one"})
	require.NoError(t, err)
	second, err := svc.SendMessage(ctx, bob.ID, &models.CreateMessageRequest{ConversationID: conv.ID, Content: "two", ReplyToID: first.ID})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ReplyToID)
	assert.Equal(t, models.StateConfirmed, second.State)

	history, err := svc.History(ctx, alice.ID, conv.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "two", history[0].Content, "history is newest first")

	list, err := svc.ListConversations(ctx, alice.ID, models.Page{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].LastMessageAt.Before(second.CreatedAt))
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, second.ID, list[0].LastMessage.ID)
}

func TestUnreadCount_ClearsAfterMarkRead(t *testing.T) {
	svc, _, alice, bob := newTestService(t)
	ctx := context.Background()
	conv, err := svc.OpenDirect(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, bob.ID, &models.CreateMessageRequest{ConversationID: conv.ID, Content: "ping"})
	require.NoError(t, err)

	list, err := svc.ListConversations(ctx, alice.ID, models.Page{})
	require.NoError(t, err)
	assert.Greater(t, list[0].UnreadCount, 0)

	require.NoError(t, svc.MarkRead(ctx, alice.ID, conv.ID))

	list, err = svc.ListConversations(ctx, alice.ID, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, 0, list[0].UnreadCount)
	assert.NotNil(t, list[0].LastReadAt)
}

func TestResolveUser(t *testing.T) {
	svc, _, alice, _ := newTestService(t)
	ctx := context.Background()

	for _, identity := range []string{"u-alice", "alice", "0xabc"} {
		u, err := svc.ResolveUser(ctx, identity)
		require.NoError(t, err, identity)
		assert.Equal(t, alice.ID, u.ID)
	}

	_, err := svc.ResolveUser(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}
