package main

import (
	"fmt"
	"time"
)

// Role is the closed set of user roles.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ParseRole validates a wire-format role. Unknown values are rejected rather
// than silently defaulted.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleUser:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// User represents a user account. The password hash never appears on the wire.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"user_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// APIToken is a named, long-lived credential owned by exactly one user.
// Deleting the owner deletes all of their tokens.
type APIToken struct {
	ID        int64     `json:"id"`
	Name      string    `json:"token_name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	OwnerID   int64     `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}
