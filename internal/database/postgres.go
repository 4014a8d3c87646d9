package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"chat-core/internal/models"
	"chat-core/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// User Repository Implementation
const userColumns = `id, username, COALESCE(address, ''), password_hash, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	if err := row.Scan(&user.ID, &user.Username, &user.Address, &user.PasswordHash, &user.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

func (db *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUser(db.pool.QueryRow(ctx, query, username))
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(db.pool.QueryRow(ctx, query, id))
}

func (db *PostgresDB) FindUserByIdentity(ctx context.Context, identity string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + ` FROM users
		WHERE id = $1 OR username = $1 OR LOWER(address) = LOWER($1)
		ORDER BY (id = $1) DESC
		LIMIT 1`
	return scanUser(db.pool.QueryRow(ctx, query, identity))
}

// Conversation Repository Implementation
const summaryQuery = `
	SELECT c.id, c.type, c.last_message_at, p.last_read_at,
		(SELECT COUNT(*) FROM messages m
		 WHERE m.conversation_id = c.id
		   AND m.sender_id <> $1
		   AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)) AS unread
	FROM conversations c
	JOIN conversation_participants p
	  ON p.conversation_id = c.id AND p.user_id = $1 AND p.left_at IS NULL`

func (db *PostgresDB) ListConversationSummaries(ctx context.Context, userID string, page models.Page) ([]models.ConversationSummary, error) {
	page = page.Normalize()
	query := summaryQuery + `
		ORDER BY c.last_message_at DESC, c.id
		LIMIT $2 OFFSET $3`

	rows, err := db.pool.Query(ctx, query, userID, page.Limit, page.Offset())
	if err != nil {
		return nil, err
	}
	summaries, err := scanSummaries(rows)
	if err != nil {
		return nil, err
	}

	if err := db.attachDetails(ctx, summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (db *PostgresDB) GetConversationSummary(ctx context.Context, userID, conversationID string) (*models.ConversationSummary, error) {
	rows, err := db.pool.Query(ctx, summaryQuery+` WHERE c.id = $2`, userID, conversationID)
	if err != nil {
		return nil, err
	}
	summaries, err := scanSummaries(rows)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, ErrNotFound
	}

	if err := db.attachDetails(ctx, summaries); err != nil {
		return nil, err
	}
	return &summaries[0], nil
}

func scanSummaries(rows pgx.Rows) ([]models.ConversationSummary, error) {
	defer rows.Close()

	var summaries []models.ConversationSummary
	for rows.Next() {
		var s models.ConversationSummary
		var unread int64
		if err := rows.Scan(&s.ID, &s.Type, &s.LastMessageAt, &s.LastReadAt, &unread); err != nil {
			return nil, err
		}
		s.UnreadCount = int(unread)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// attachDetails fills participants and the last message for each summary.
func (db *PostgresDB) attachDetails(ctx context.Context, summaries []models.ConversationSummary) error {
	if len(summaries) == 0 {
		return nil
	}
	ids := make([]string, len(summaries))
	index := make(map[string]int, len(summaries))
	for i, s := range summaries {
		ids[i] = s.ID
		index[s.ID] = i
	}

	rows, err := db.pool.Query(ctx, `
		SELECT p.conversation_id, u.id, u.username, COALESCE(u.address, '')
		FROM conversation_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ANY($1) AND p.left_at IS NULL
		ORDER BY u.username`, ids)
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}
	for rows.Next() {
		var convID string
		var p models.Participant
		if err := rows.Scan(&convID, &p.ID, &p.Username, &p.Address); err != nil {
			rows.Close()
			return err
		}
		i := index[convID]
		summaries[i].Participants = append(summaries[i].Participants, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = db.pool.Query(ctx, `
		SELECT DISTINCT ON (conversation_id) `+messageColumns+`
		FROM messages
		WHERE conversation_id = ANY($1)
		ORDER BY conversation_id, created_at DESC, id DESC`, ids)
	if err != nil {
		return fmt.Errorf("load last messages: %w", err)
	}
	messages, err := scanMessages(rows)
	if err != nil {
		return err
	}
	for _, m := range messages {
		m := m
		summaries[index[m.ConversationID]].LastMessage = &m
	}
	return nil
}

func directKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}

func (db *PostgresDB) GetOrCreateDirectConversation(ctx context.Context, userID, otherUserID string) (string, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	// The unique direct_key makes concurrent creators converge on one row.
	query := `
		INSERT INTO conversations (id, type, direct_key, created_at, last_message_at)
		VALUES ($1, 'direct', $2, NOW(), NOW())
		ON CONFLICT (direct_key) DO UPDATE SET direct_key = EXCLUDED.direct_key
		RETURNING id`

	var conversationID string
	if err := tx.QueryRow(ctx, query, uuid.NewString(), directKey(userID, otherUserID)).Scan(&conversationID); err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}

	for _, participant := range []string{userID, otherUserID} {
		if _, err := tx.Exec(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (conversation_id, user_id) DO UPDATE SET left_at = NULL`,
			conversationID, participant); err != nil {
			return "", fmt.Errorf("failed to add participant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return conversationID, nil
}

func (db *PostgresDB) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL)`

	var exists bool
	err := db.pool.QueryRow(ctx, query, conversationID, userID).Scan(&exists)
	return exists, err
}

func (db *PostgresDB) MarkRead(ctx context.Context, conversationID, userID string) error {
	query := `
		UPDATE conversation_participants SET last_read_at = NOW()
		WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL`

	tag, err := db.pool.Exec(ctx, query, conversationID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Message Repository Implementation
const messageColumns = `id, conversation_id, sender_id, content, media_urls, COALESCE(reply_to_id, ''), created_at`

func scanMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.MediaURLs, &m.ReplyToID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.State = models.StateConfirmed
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (db *PostgresDB) CreateMessage(ctx context.Context, senderID string, req *models.CreateMessageRequest) (*models.Message, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	mediaURLs := req.MediaURLs
	if mediaURLs == nil {
		mediaURLs = []string{}
	}
	var replyTo *string
	if req.ReplyToID != "" {
		replyTo = &req.ReplyToID
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		SenderID:       senderID,
		Content:        req.Content,
		MediaURLs:      req.MediaURLs,
		ReplyToID:      req.ReplyToID,
		CreatedAt:      time.Now().UTC(),
		State:          models.StateConfirmed,
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, media_urls, reply_to_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.Exec(ctx, query, msg.ID, msg.ConversationID, senderID, msg.Content, mediaURLs, replyTo, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE conversations SET last_message_at = GREATEST(last_message_at, $2)
		WHERE id = $1`, msg.ConversationID, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to update conversation activity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return msg, nil
}

func (db *PostgresDB) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := db.pool.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}
