package models

import (
	"strings"
	"time"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Address      string    `json:"address,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Matches reports whether identity names this user by id, username or address.
// Addresses compare case-insensitively.
func (u User) Matches(identity string) bool {
	if identity == "" {
		return false
	}
	return u.ID == identity || u.Username == identity || (u.Address != "" && strings.EqualFold(u.Address, identity))
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type PresenceResponse struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}
