package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chat-core/internal/models"
	"chat-core/internal/services"
)

// APIError is a non-2xx response from the REST server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Unwrap maps statuses onto the server's sentinel errors so callers can use
// errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return services.ErrInvalidInput
	case http.StatusForbidden:
		return services.ErrNotParticipant
	case http.StatusNotFound:
		return services.ErrNotFound
	}
	return nil
}

// HTTPAPI talks to the REST endpoints with a bearer token.
type HTTPAPI struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPAPI(baseURL, token string) *HTTPAPI {
	return &HTTPAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *HTTPAPI) ListConversations(ctx context.Context, page models.Page) ([]models.ConversationSummary, error) {
	page = page.Normalize()
	q := url.Values{}
	q.Set("page", strconv.Itoa(page.Page))
	q.Set("limit", strconv.Itoa(page.Limit))

	var out []models.ConversationSummary
	err := a.do(ctx, http.MethodGet, "/conversations?"+q.Encode(), nil, &out)
	return out, err
}

func (a *HTTPAPI) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var out []models.Message
	err := a.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID)+"/messages?"+q.Encode(), nil, &out)
	return out, err
}

func (a *HTTPAPI) CreateMessage(ctx context.Context, req *models.CreateMessageRequest) (*models.Message, error) {
	var out models.Message
	if err := a.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(req.ConversationID)+"/messages", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAPI) MarkRead(ctx context.Context, conversationID string) error {
	return a.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil)
}

func (a *HTTPAPI) ResolveUser(ctx context.Context, identity string) (*models.User, error) {
	var out models.User
	if err := a.do(ctx, http.MethodGet, "/users/resolve?identity="+url.QueryEscape(identity), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAPI) OpenDirect(ctx context.Context, targetUserID string) (*models.ConversationSummary, error) {
	var out models.ConversationSummary
	if err := a.do(ctx, http.MethodPost, "/conversations/direct", models.CreateDirectRequest{TargetUserID: targetUserID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAPI) Presence(ctx context.Context, userID string) (bool, error) {
	var out models.PresenceResponse
	if err := a.do(ctx, http.MethodGet, "/presence/"+url.PathEscape(userID), nil, &out); err != nil {
		return false, err
	}
	return out.Online, nil
}

func (a *HTTPAPI) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
