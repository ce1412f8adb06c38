package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/maruel/jcrdb/internal/errors"
	"github.com/maruel/jcrdb/internal/repository"
)

// tokenTTL is the lifetime of a session token.
const tokenTTL = 24 * time.Hour

// Claims are the JWT claims of a session token.
type Claims struct {
	// Workspace is the workspace the session is bound to.
	Workspace string `json:"ws"`
	jwt.RegisteredClaims
}

// AuthHandler handles authentication requests.
type AuthHandler struct {
	repo      *repository.Repository
	jwtSecret []byte
	now       func() time.Time
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(repo *repository.Repository, jwtSecret []byte) *AuthHandler {
	return &AuthHandler{repo: repo, jwtSecret: jwtSecret, now: time.Now}
}

// LoginRequest is a request to log in.
type LoginRequest struct {
	User      string `json:"user"`
	Password  string `json:"password"`
	Workspace string `json:"workspace,omitempty"`
}

// LoginResponse is a response from logging in.
type LoginResponse struct {
	Token     string `json:"token"`
	User      string `json:"user"`
	Workspace string `json:"workspace"`
}

// Login checks the credentials and the workspace, then returns a token bound
// to both.
func (h *AuthHandler) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	s, err := h.repo.Login(ctx, repository.Credentials{UserID: req.User, Password: req.Password}, req.Workspace)
	if err != nil {
		return nil, err
	}
	defer s.Logout()
	token, err := h.generateToken(s.UserID(), s.WorkspaceName())
	if err != nil {
		return nil, errors.Repository("failed to generate token", "", err)
	}
	return &LoginResponse{Token: token, User: s.UserID(), Workspace: s.WorkspaceName()}, nil
}

func (h *AuthHandler) generateToken(user, workspace string) (string, error) {
	now := h.now()
	claims := &Claims{
		Workspace: workspace,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.jwtSecret)
}

// Verify parses a session token and returns its claims.
func (h *AuthHandler) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return h.jwtSecret, nil
	}, jwt.WithTimeFunc(h.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.Unauthorized("invalid token").Wrap(err)
	}
	if claims.Subject == "" {
		return nil, errors.Unauthorized("invalid token subject")
	}
	return claims, nil
}

// MeRequest is a request to get the current session.
type MeRequest struct {
	Path string `query:"path"`
}

// MeResponse describes the current session.
type MeResponse struct {
	User        string   `json:"user"`
	Workspace   string   `json:"workspace"`
	Permissions []string `json:"permissions"`
}

// Me returns the session of the request, with the actions allowed on Path
// (the root by default).
func (h *AuthHandler) Me(ctx context.Context, req MeRequest) (*MeResponse, error) {
	s, err := SessionFrom(ctx)
	if err != nil {
		return nil, err
	}
	p := req.Path
	if p == "" {
		p = "/"
	}
	perms, err := s.Permissions(p)
	if err != nil {
		return nil, err
	}
	return &MeResponse{User: s.UserID(), Workspace: s.WorkspaceName(), Permissions: perms}, nil
}
