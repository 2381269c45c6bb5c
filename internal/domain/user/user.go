// Package user holds the account entity shared by the identity layer.
package user

import (
	"errors"
	"time"
)

const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidRole        = errors.New("invalid role")
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// ValidRole reports whether role is one this service issues tokens for.
func ValidRole(role string) bool {
	return role == RoleBuyer || role == RoleSeller
}
