package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/marketplace/internal/auth"
	"github.com/example/marketplace/internal/domain/user"
	"github.com/example/marketplace/internal/identity"
)

// AuthHandlers handles registration and login.
type AuthHandlers struct {
	users    *identity.Service
	validate *validator.Validate
}

func NewAuthHandlers(users *identity.Service) *AuthHandlers {
	return &AuthHandlers{users: users, validate: validator.New()}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=buyer seller"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type sessionResponse struct {
	User      *user.User `json:"user"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := h.users.Register(r.Context(), identity.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     req.Role,
	})
	if err != nil {
		respondAuthError(w, err)
		return
	}

	setSessionCookie(w, r, sess)
	respondJSON(w, http.StatusCreated, sessionResponse{
		User:      sess.User,
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
	})
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondAuthError(w, err)
		return
	}

	setSessionCookie(w, r, sess)
	respondJSON(w, http.StatusOK, sessionResponse{
		User:      sess.User,
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
	})
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, sess *identity.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

func respondAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, user.ErrEmailTaken):
		respondError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, user.ErrInvalidCredentials):
		respondError(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, auth.ErrPasswordTooShort), errors.Is(err, user.ErrInvalidRole):
		respondError(w, err.Error(), http.StatusBadRequest)
	default:
		respondError(w, "internal error", http.StatusInternalServerError)
	}
}
