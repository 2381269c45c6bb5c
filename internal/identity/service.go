// Package identity implements account registration and login on top of the
// user store, issuing the JWT access tokens the API layer requires.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/example/marketplace/internal/auth"
	"github.com/example/marketplace/internal/domain/user"
	"github.com/example/marketplace/internal/infrastructure/store"
)

type Service struct {
	store store.Store
	jwt   *auth.JWTService
}

func NewService(st store.Store, jwt *auth.JWTService) *Service {
	return &Service{store: st, jwt: jwt}
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Role     string
}

// Session is an issued access token together with the user it belongs to.
type Session struct {
	User      *user.User
	Token     string
	ExpiresAt time.Time
}

// Register creates an account and signs the new user in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	if !user.ValidRole(in.Role) {
		return nil, user.ErrInvalidRole
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &user.User{
		ID:           uuid.New().String(),
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		Role:         in.Role,
		CreatedAt:    time.Now(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			return nil, user.ErrEmailTaken
		}
		return nil, err
	}
	return s.session(u)
}

// Login verifies credentials and issues an access token. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, user.ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.CheckPassword(password, u.PasswordHash) {
		return nil, user.ErrInvalidCredentials
	}
	return s.session(u)
}

func (s *Service) session(u *user.User) (*Session, error) {
	token, expiresAt, err := s.jwt.GenerateToken(u.ID, u.Email, u.Role)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Token: token, ExpiresAt: expiresAt}, nil
}
