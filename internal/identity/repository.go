package identity

import (
	"context"

	"github.com/bissquit/payments-admin/internal/domain"
)

// Repository is the credential store.
//
// CreateUser and UpdateUser must return ErrDuplicateSuperadmin when the write
// would produce a second superadmin, and ErrUsernameTaken on a duplicate
// username. Lookups return ErrUserNotFound when nothing matches.
type Repository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetSuperadmin(ctx context.Context) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
	DeleteUser(ctx context.Context, id int64) error
}

// Authenticator issues and verifies bearer tokens.
type Authenticator interface {
	IssueToken(ctx context.Context, user *domain.User) (string, error)
	ValidateToken(ctx context.Context, token string) (int64, domain.Role, error)
}

// Notifier broadcasts changes to connected clients.
type Notifier interface {
	Publish(event string, data any)
}
