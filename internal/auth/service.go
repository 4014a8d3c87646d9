package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-core/internal/config"
	"chat-core/internal/database"
	"chat-core/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrMissingCredentials is the handshake Authentication error: token or
	// user id absent. Callers must not retry.
	ErrMissingCredentials = errors.New("missing token or user id")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

type Service struct {
	users UserStore
	cfg   config.JWTConfig
}

func NewService(users UserStore, cfg config.JWTConfig) *Service {
	return &Service{
		users: users,
		cfg:   cfg,
	}
}

func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error) {
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(req.Username))
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.GenerateToken(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	// Remove sensitive data
	user.PasswordHash = ""

	return &models.LoginResponse{
		Token: token,
		User:  *user,
	}, nil
}

func (s *Service) GenerateToken(userID, username string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id":  userID,
		"username": username,
		"exp":      now.Add(s.cfg.ExpiresIn).Unix(),
		"iat":      now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.Secret))
}

func (s *Service) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// UserIDFromToken returns the user id the token was issued for.
func (s *Service) UserIDFromToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrMissingCredentials
	}
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("%w: no user id claim", ErrInvalidToken)
	}
	return userID, nil
}

// Authenticate checks the connection handshake. Both fields are required and
// the token must have been issued for userID.
func (s *Service) Authenticate(_ context.Context, token, userID string) (string, error) {
	token = strings.TrimSpace(token)
	userID = strings.TrimSpace(userID)
	if token == "" || userID == "" {
		return "", ErrMissingCredentials
	}

	subject, err := s.UserIDFromToken(token)
	if err != nil {
		return "", err
	}
	if subject != userID {
		return "", fmt.Errorf("%w: token subject does not match user id", ErrInvalidToken)
	}
	return subject, nil
}
