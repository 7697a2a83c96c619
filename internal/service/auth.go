// Package service provides the session lifecycle, authentication,
// authorization decisions and model-level data operations, delegating
// persistence to the repository layer.
package service

import (
	"context"
	"fmt"

	"github.com/atinyakov/ozon/internal/credential"
	"github.com/atinyakov/ozon/internal/models"
	"github.com/atinyakov/ozon/internal/repository"
	"go.uber.org/zap"
)

// AuthService checks credentials and binds users to sessions.
type AuthService struct {
	// users resolves login names to users.
	users repository.UserDirectory
	// hasher verifies presented passwords against stored hashes.
	hasher   credential.Hasher
	sessions *SessionManager
	log      *zap.Logger
	// dummy is verified against when the user is unknown so both failure
	// paths cost the same.
	dummy string
}

// NewAuthService constructs an AuthService.
func NewAuthService(users repository.UserDirectory, hasher credential.Hasher, sessions *SessionManager, log *zap.Logger) (*AuthService, error) {
	dummy, err := hasher.Hash("not-a-password")
	if err != nil {
		return nil, fmt.Errorf("prepare hasher: %w", err)
	}
	return &AuthService{users: users, hasher: hasher, sessions: sessions, log: log, dummy: dummy}, nil
}

// Login verifies uid and password and returns the session bound to the
// user. Unknown users and wrong passwords both yield
// models.ErrAuthentication; store failures are returned as they are.
func (s *AuthService) Login(ctx context.Context, uid, password, currentToken string) (*models.Session, error) {
	user, err := s.users.FindByUID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	hash := s.dummy
	if user != nil {
		hash = user.PasswordHash
	}
	ok, err := s.hasher.Verify(password, hash)
	if err != nil {
		s.log.Warn("stored password hash unusable", zap.String("uid", uid), zap.Error(err))
		ok = false
	}
	if user == nil || !ok {
		s.log.Info("login failed", zap.String("uid", uid))
		return nil, models.ErrAuthentication
	}
	return s.sessions.InitSession(ctx, user, currentToken)
}

// Logout closes the session.
func (s *AuthService) Logout(ctx context.Context, sess *models.Session) error {
	return s.sessions.Logout(ctx, sess)
}

// RegisterUser stores u with password hashed by the configured hasher,
// replacing any user with the same uid.
func (s *AuthService) RegisterUser(ctx context.Context, u *models.User, password string) error {
	if u.UID == "" || password == "" {
		return fmt.Errorf("%w: uid and password are required", models.ErrValidation)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = hash
	if err := s.users.Upsert(ctx, u); err != nil {
		return fmt.Errorf("register %s: %w", u.UID, err)
	}
	return nil
}
