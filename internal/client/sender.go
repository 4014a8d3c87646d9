package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-core/internal/models"
	"chat-core/pkg/logger"

	"github.com/google/uuid"
)

const tempIDPrefix = "temp-"

type MessageCreator interface {
	CreateMessage(ctx context.Context, req *models.CreateMessageRequest) (*models.Message, error)
}

// Sender posts messages optimistically: the pending copy is shown at once and
// later replaced by the confirmed message, or removed if the request fails.
type Sender struct {
	session *Session
	store   *MessageStore
	list    *ConversationList
	typing  *TypingCoordinator
	api     MessageCreator
	emitter Emitter
	newID   func() string
	now     func() time.Time
}

func NewSender(session *Session, store *MessageStore, list *ConversationList, typing *TypingCoordinator, api MessageCreator, emitter Emitter) *Sender {
	return &Sender{
		session: session,
		store:   store,
		list:    list,
		typing:  typing,
		api:     api,
		emitter: emitter,
		newID:   func() string { return tempIDPrefix + uuid.NewString() },
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Send persists a message and relays it to the conversation room. Failures
// are returned to the caller; nothing is retried.
func (s *Sender) Send(ctx context.Context, conversationID, content string, mediaURLs []string, replyToID string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" && len(mediaURLs) == 0 {
		return nil, ErrEmptyMessage
	}
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}

	tempID := s.newID()
	pending := models.NewPendingMessage(tempID, conversationID, s.session.UserID(), content, mediaURLs, s.now())
	pending.ReplyToID = replyToID

	if s.typing != nil {
		s.typing.Stop()
	}
	s.store.Add(pending)

	confirmed, err := s.api.CreateMessage(ctx, &models.CreateMessageRequest{
		ConversationID: conversationID,
		Content:        content,
		MediaURLs:      mediaURLs,
		ReplyToID:      replyToID,
	})
	if err != nil {
		s.store.Remove(tempID)
		logger.Error("Failed to send message to %s: %v", conversationID, err)
		return nil, fmt.Errorf("send message: %w", err)
	}
	final := confirmed.Confirmed()

	if err := s.store.Replace(tempID, final); err != nil {
		// The store moved on to another conversation.
		logger.Debug("Confirmed %s after leaving %s", final.ID, conversationID)
	}
	s.list.UpdateLastMessage(final)

	err = s.emitter.Emit(models.EventMessageSend, models.SendMessagePayload{
		ConversationID: conversationID,
		Content:        final.Content,
		MessageID:      final.ID,
		MediaURLs:      final.MediaURLs,
		ReplyToID:      final.ReplyToID,
		CreatedAt:      final.CreatedAt,
	})
	if err != nil {
		logger.Warn("Message %s saved but not relayed: %v", final.ID, err)
	}
	return &final, nil
}
