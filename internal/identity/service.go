// Package identity implements user registration, login and user administration.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/payments-admin/internal/domain"
	"github.com/bissquit/payments-admin/internal/pkg/ctxlog"
	"github.com/bissquit/payments-admin/internal/pkg/metrics"
)

// Service implements identity business logic.
type Service struct {
	repo     Repository
	auth     Authenticator
	notifier Notifier
}

// NewService creates a new identity service. notifier may be nil.
func NewService(repo Repository, auth Authenticator, notifier Notifier) *Service {
	return &Service{
		repo:     repo,
		auth:     auth,
		notifier: notifier,
	}
}

// RegisterInput contains data for user registration.
type RegisterInput struct {
	Username string
	Password string
	Role     domain.Role
}

// Register creates a user with a bcrypt-hashed password.
//
// Only one superadmin may exist. The existence check here gives the common
// case a clear error; the repository's unique index closes the race between
// two concurrent registrations.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	if !input.Role.Valid() {
		return nil, ErrInvalidRole
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	if input.Role == domain.RoleSuperadmin {
		_, err := s.repo.GetSuperadmin(ctx)
		switch {
		case err == nil:
			return nil, ErrDuplicateSuperadmin
		case !errors.Is(err, ErrUserNotFound):
			return nil, fmt.Errorf("check superadmin: %w", err)
		}
	}

	user := &domain.User{
		Username: input.Username,
		Password: hash,
		Role:     input.Role,
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	ctxlog.FromContext(ctx).Info("user registered", "user_id", user.ID, "role", user.Role)

	return user, nil
}

// LoginInput contains login credentials.
type LoginInput struct {
	Username string
	Password string
}

// Login verifies credentials and issues a token carrying {id, role}.
// Unknown usernames and wrong passwords both return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, input LoginInput) (string, error) {
	user, err := s.repo.GetUserByUsername(ctx, input.Username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			CheckPassword(input.Password, dummyHash())
			metrics.AuthLogins.WithLabelValues("invalid").Inc()
			return "", ErrInvalidCredentials
		}
		metrics.AuthLogins.WithLabelValues("error").Inc()
		return "", fmt.Errorf("get user by username: %w", err)
	}

	if !CheckPassword(input.Password, user.Password) {
		metrics.AuthLogins.WithLabelValues("invalid").Inc()
		return "", ErrInvalidCredentials
	}

	token, err := s.auth.IssueToken(ctx, user)
	if err != nil {
		metrics.AuthLogins.WithLabelValues("error").Inc()
		return "", fmt.Errorf("issue token: %w", err)
	}

	metrics.AuthLogins.WithLabelValues("success").Inc()
	return token, nil
}

// ValidateToken verifies a bearer token. The embedded claims are trusted as
// issued; the user is not re-read from the store.
func (s *Service) ValidateToken(ctx context.Context, token string) (int64, domain.Role, error) {
	return s.auth.ValidateToken(ctx, token)
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// GetUserByID returns a user by id.
func (s *Service) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// UpdateInput holds the mutable user fields. Empty values keep the stored value.
type UpdateInput struct {
	Username string
	Role     domain.Role
}

// UpdateUser merges non-empty fields of input into the user. The password
// cannot be changed here.
func (s *Service) UpdateUser(ctx context.Context, id int64, input UpdateInput) (*domain.User, error) {
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Username != "" {
		user.Username = input.Username
	}
	if input.Role != "" {
		if !input.Role.Valid() {
			return nil, ErrInvalidRole
		}
		user.Role = input.Role
	}

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	return user, nil
}

// DeleteUser removes a user. The user's payments go with it, so payment
// listeners are told to refresh.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	ctxlog.FromContext(ctx).Info("user deleted", "deleted_user_id", id)

	if s.notifier != nil {
		s.notifier.Publish(domain.EventUpdatePayments, map[string]int64{"userId": id})
	}
	return nil
}
