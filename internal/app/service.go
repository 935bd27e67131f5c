package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"visitmap/internal/auth"
	"visitmap/internal/authpw"
	"visitmap/internal/cache"
	"visitmap/internal/config"
	"visitmap/internal/metrics"
	"visitmap/internal/store"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	JTI       string
	ExpiresAt time.Time
}

type RegisterInput struct {
	Username        string `json:"username" validate:"required,max=150"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

type LoginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// MarkInput is the body of POST and DELETE /api/locations/mark/.
type MarkInput struct {
	Name        string  `json:"name" validate:"required"`
	Level       *int    `json:"level" validate:"required,min=0,max=2"`
	Parent      *string `json:"parent"`
	Grandparent *string `json:"grandparent"`
}

func (in MarkInput) mark() store.Mark {
	return store.Mark{
		Name:        in.Name,
		Level:       *in.Level,
		Parent:      trimmedOrNil(in.Parent),
		Grandparent: trimmedOrNil(in.Grandparent),
	}
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

type dataStore interface {
	CreateUser(context.Context, store.User) (store.User, error)
	GetUserByUsername(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	VersionedProgress(context.Context, string) (store.Progress, int64, error)
	ProgressVersion(context.Context, string) (int64, error)
	MarkVisited(context.Context, string, store.Mark) (store.MarkResult, error)
	UnmarkVisited(context.Context, string, store.Mark) (store.UnmarkResult, error)
	Ping(context.Context) error
}

// progressCache sits in front of dataStore.VersionedProgress. Entries carry
// the progress version they were read at; one whose version no longer
// matches the database is ignored. Any error, including a miss, sends the
// read to the database.
type progressCache interface {
	Get(context.Context, string) (store.Progress, int64, error)
	Set(context.Context, string, int64, store.Progress) error
	Invalidate(context.Context, string) error
}

type Service struct {
	cfg     config.Server
	store   dataStore
	cache   progressCache
	auth    *authpw.Service
	logger  *zap.Logger
	metrics *metrics.Server
}

func New(cfg config.Server, store dataStore, logger *zap.Logger, m *metrics.Server) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		auth:    authpw.NewService(store, cfg.JWTSecret, cfg.AccessTTL),
		logger:  logger,
		metrics: m,
	}
}

// NewWithCache is New with a Redis progress cache in front of Postgres.
func NewWithCache(cfg config.Server, store dataStore, pc progressCache, logger *zap.Logger, m *metrics.Server) *Service {
	s := New(cfg, store, logger, m)
	s.cache = pc
	return s
}

func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (store.User, error) {
	if err := validateInput(in); err != nil {
		return store.User{}, err
	}
	user, err := s.auth.Register(ctx, authpw.RegisterRequest{
		Username:        in.Username,
		Email:           in.Email,
		Password:        in.Password,
		ConfirmPassword: in.ConfirmPassword,
	})
	switch {
	case errors.Is(err, authpw.ErrAccountExists):
		return store.User{}, domainError(http.StatusConflict, "ACCOUNT_EXISTS", err.Error(), nil)
	case errors.Is(err, authpw.ErrMissingFields),
		errors.Is(err, authpw.ErrWeakPassword),
		errors.Is(err, authpw.ErrPasswordMismatch):
		return store.User{}, validationError(err.Error(), nil)
	case err != nil:
		return store.User{}, err
	}
	s.logger.Info("account created", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

func (s *Service) Login(ctx context.Context, in LoginInput) (authpw.LoginResult, error) {
	if err := validateInput(in); err != nil {
		return authpw.LoginResult{}, err
	}
	res, err := s.auth.Login(ctx, in.Username, in.Password)
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return authpw.LoginResult{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil)
	}
	return res, err
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Username,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.JTI == "" {
		return nil
	}
	return s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
}

// Progress returns every visited name of the session's user, from the cache
// when it holds a copy that is still current.
func (s *Service) Progress(ctx context.Context, session Session) (store.Progress, error) {
	if s.cache != nil {
		if cached, ok := s.cachedProgress(ctx, session.UserID); ok {
			return cached, nil
		}
	}

	progress, version, err := s.store.VersionedProgress(ctx, session.UserID)
	if err != nil {
		return store.Progress{}, fmt.Errorf("load progress: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, session.UserID, version, progress); err != nil {
			s.logger.Debug("progress cache write skipped", zap.String("user_id", session.UserID), zap.Error(err))
		}
	}
	return progress, nil
}

// cachedProgress serves the cached copy only when no mutation committed
// since it was read. A copy written late by a read that raced a mutation
// carries the older version and is skipped here.
func (s *Service) cachedProgress(ctx context.Context, userID string) (store.Progress, bool) {
	cached, version, err := s.cache.Get(ctx, userID)
	if err != nil {
		s.metrics.ObserveCacheLookup(cacheResult(err))
		return store.Progress{}, false
	}
	current, err := s.store.ProgressVersion(ctx, userID)
	if err != nil {
		s.metrics.ObserveCacheLookup("error")
		s.logger.Debug("progress version lookup failed", zap.String("user_id", userID), zap.Error(err))
		return store.Progress{}, false
	}
	if version != current {
		s.metrics.ObserveCacheLookup("stale")
		return store.Progress{}, false
	}
	s.metrics.ObserveCacheLookup("hit")
	return cached, true
}

func cacheResult(err error) string {
	if errors.Is(err, cache.ErrMiss) {
		return "miss"
	}
	return "error"
}

// Mark records the location and its implied ancestors.
func (s *Service) Mark(ctx context.Context, session Session, in MarkInput) (store.MarkResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return store.MarkResult{}, err
	}
	m := in.mark()
	res, err := s.store.MarkVisited(ctx, session.UserID, m)
	if err != nil {
		return store.MarkResult{}, fmt.Errorf("mark %q: %w", m.Name, err)
	}
	s.afterMutation(ctx, session, "mark", m)
	if res.Created {
		s.logActivity(session, "marked", m, zap.Int("bubbled", res.Bubbled))
	}
	return res, nil
}

// Unmark removes the location and everything below it. Removing a location
// that was never marked is not an error.
func (s *Service) Unmark(ctx context.Context, session Session, in MarkInput) (store.UnmarkResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return store.UnmarkResult{}, err
	}
	m := in.mark()
	res, err := s.store.UnmarkVisited(ctx, session.UserID, m)
	if err != nil {
		return store.UnmarkResult{}, fmt.Errorf("unmark %q: %w", m.Name, err)
	}
	s.afterMutation(ctx, session, "unmark", m)
	if res.Removed {
		s.logActivity(session, "unmarked", m, zap.Int64("cascaded", res.Cascaded))
	}
	return res, nil
}

func (s *Service) afterMutation(ctx context.Context, session Session, action string, m store.Mark) {
	s.metrics.ObserveMutation(action, strconv.Itoa(m.Level))
	if s.cache == nil {
		return
	}
	// Entries are version checked on read, so a failed delete only costs
	// one stale lookup.
	if err := s.cache.Invalidate(ctx, session.UserID); err != nil {
		s.logger.Warn("progress cache invalidation failed",
			zap.String("user_id", session.UserID),
			zap.Error(err))
	}
}

func (s *Service) logActivity(session Session, action string, m store.Mark, extra zap.Field) {
	fields := []zap.Field{
		zap.String("user", session.UserName),
		zap.String("action", action),
		zap.String("level", levelName(m.Level)),
		zap.String("name", m.Name),
		extra,
	}
	if m.Parent != nil {
		fields = append(fields, zap.String("parent", *m.Parent))
	}
	if m.Grandparent != nil {
		fields = append(fields, zap.String("grandparent", *m.Grandparent))
	}
	s.logger.Info("map activity", fields...)
}

func levelName(level int) string {
	switch level {
	case store.LevelCountry:
		return "country"
	case store.LevelState:
		return "state"
	case store.LevelDistrict:
		return "district"
	}
	return "unknown"
}
