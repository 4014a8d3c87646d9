package database

import (
	"context"
	"errors"

	"chat-core/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type UserRepository interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	// FindUserByIdentity matches id, username or address.
	FindUserByIdentity(ctx context.Context, identity string) (*models.User, error)
}

type ConversationRepository interface {
	ListConversationSummaries(ctx context.Context, userID string, page models.Page) ([]models.ConversationSummary, error)
	GetConversationSummary(ctx context.Context, userID, conversationID string) (*models.ConversationSummary, error)
	// GetOrCreateDirectConversation returns the single direct conversation
	// between the two users, creating it if needed. Concurrent calls for the
	// same pair resolve to the same conversation.
	GetOrCreateDirectConversation(ctx context.Context, userID, otherUserID string) (string, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	MarkRead(ctx context.Context, conversationID, userID string) error
}

type MessageRepository interface {
	// CreateMessage stores the message and advances the conversation's
	// last activity timestamp.
	CreateMessage(ctx context.Context, senderID string, req *models.CreateMessageRequest) (*models.Message, error)
	// ListMessages returns newest first.
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error)
}

type Database interface {
	UserRepository
	ConversationRepository
	MessageRepository
	Close() error
}
