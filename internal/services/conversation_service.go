package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"chat-core/internal/database"
	"chat-core/internal/models"
)

var (
	ErrNotParticipant = errors.New("forbidden - not a participant of this conversation")
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
)

const (
	maxContentRunes   = 4000
	maxMediaURLs      = 10
	defaultHistoryLen = 50
	maxHistoryLen     = 200
)

type ConversationService struct {
	db database.Database
}

func NewConversationService(db database.Database) *ConversationService {
	return &ConversationService{db: db}
}

func (s *ConversationService) ListConversations(ctx context.Context, userID string, page models.Page) ([]models.ConversationSummary, error) {
	summaries, err := s.db.ListConversationSummaries(ctx, userID, page.Normalize())
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if summaries == nil {
		summaries = []models.ConversationSummary{}
	}
	return summaries, nil
}

// History returns up to limit messages newest first.
func (s *ConversationService) History(ctx context.Context, userID, conversationID string, limit, offset int) ([]models.Message, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLen
	}
	if limit > maxHistoryLen {
		limit = maxHistoryLen
	}
	if offset < 0 {
		offset = 0
	}

	messages, err := s.db.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return messages, nil
}

func (s *ConversationService) SendMessage(ctx context.Context, senderID string, req *models.CreateMessageRequest) (*models.Message, error) {
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" && len(req.MediaURLs) == 0 {
		return nil, fmt.Errorf("%w: message content is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(req.Content) > maxContentRunes {
		return nil, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, maxContentRunes)
	}
	if len(req.MediaURLs) > maxMediaURLs {
		return nil, fmt.Errorf("%w: at most %d media urls", ErrInvalidInput, maxMediaURLs)
	}
	if err := s.requireParticipant(ctx, req.ConversationID, senderID); err != nil {
		return nil, err
	}

	msg, err := s.db.CreateMessage(ctx, senderID, req)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

// OpenDirect returns the direct conversation between userID and target,
// creating it on first use. Repeated or concurrent calls return the same one.
func (s *ConversationService) OpenDirect(ctx context.Context, userID, targetUserID string) (*models.ConversationSummary, error) {
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return nil, fmt.Errorf("%w: target user is required", ErrInvalidInput)
	}
	if targetUserID == userID {
		return nil, fmt.Errorf("%w: cannot open a conversation with yourself", ErrInvalidInput)
	}
	if _, err := s.db.GetUserByID(ctx, targetUserID); err != nil {
		return nil, mapNotFound(err, "user")
	}

	conversationID, err := s.db.GetOrCreateDirectConversation(ctx, userID, targetUserID)
	if err != nil {
		return nil, fmt.Errorf("open direct conversation: %w", err)
	}

	summary, err := s.db.GetConversationSummary(ctx, userID, conversationID)
	if err != nil {
		return nil, mapNotFound(err, "conversation")
	}
	return summary, nil
}

func (s *ConversationService) MarkRead(ctx context.Context, userID, conversationID string) error {
	if err := s.db.MarkRead(ctx, conversationID, userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrNotParticipant
		}
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (s *ConversationService) ResolveUser(ctx context.Context, identity string) (*models.User, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, fmt.Errorf("%w: identity is required", ErrInvalidInput)
	}
	user, err := s.db.FindUserByIdentity(ctx, identity)
	if err != nil {
		return nil, mapNotFound(err, "user")
	}
	user.PasswordHash = ""
	return user, nil
}

// IsParticipant lets the gateway gate conversation room joins.
func (s *ConversationService) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	return s.db.IsParticipant(ctx, conversationID, userID)
}

func (s *ConversationService) requireParticipant(ctx context.Context, conversationID, userID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("%w: conversation id is required", ErrInvalidInput)
	}
	ok, err := s.db.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

func mapNotFound(err error, what string) error {
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return err
}
