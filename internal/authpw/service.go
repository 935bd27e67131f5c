// Package authpw provides username/password accounts and issues bearer
// tokens for them.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"visitmap/internal/auth"
	"visitmap/internal/store"
	"visitmap/internal/util"
)

const minPasswordLength = 8

var (
	ErrMissingFields      = errors.New("username, email and password are required")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrAccountExists      = errors.New("username or email already registered")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
}

type Service struct {
	store       UserStore
	tokenSecret []byte
	accessTTL   time.Duration
	now         func() time.Time
}

func NewService(store UserStore, tokenSecret string, accessTTL time.Duration) *Service {
	return &Service{
		store:       store,
		tokenSecret: []byte(tokenSecret),
		accessTTL:   accessTTL,
		now:         time.Now,
	}
}

type RegisterRequest struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// Register creates a new account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	if username == "" || email == "" || req.Password == "" {
		return store.User{}, ErrMissingFields
	}
	if len(req.Password) < minPasswordLength {
		return store.User{}, ErrWeakPassword
	}
	if req.Password != req.ConfirmPassword {
		return store.User{}, ErrPasswordMismatch
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, store.User{
		ID:           util.NewID(""),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	})
	if errors.Is(err, store.ErrConflict) {
		return store.User{}, ErrAccountExists
	}
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

type LoginResult struct {
	User      store.User
	Token     string
	ExpiresAt time.Time
}

// Login checks the password and issues an access token.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	expiresAt := s.now().Add(s.accessTTL)
	token, err := auth.IssueToken(s.tokenSecret, auth.Claims{
		Sub:  user.ID,
		Name: user.Username,
		JTI:  util.NewID("jti"),
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}
