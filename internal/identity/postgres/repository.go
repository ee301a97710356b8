// Package postgres provides the PostgreSQL credential store.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/payments-admin/internal/domain"
	"github.com/bissquit/payments-admin/internal/identity"
	pgutil "github.com/bissquit/payments-admin/internal/pkg/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Constraint names from migrations/000001_users.up.sql.
const (
	constraintSingleSuperadmin = "users_single_superadmin"
	constraintUniqueUsername   = "users_username_key"
)

const userColumns = `id, username, password, role::text, created_at, updated_at`

// Repository implements identity.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateUser inserts user and fills its id and timestamps.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (username, password, role)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		user.Username,
		user.Password,
		string(user.Role),
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		return mapWriteError(err, "create user")
	}
	return nil
}

// GetUserByID retrieves a user by id.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.getOne(ctx, "get user by id", query, id)
}

// GetUserByUsername retrieves a user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return r.getOne(ctx, "get user by username", query, username)
}

// GetSuperadmin retrieves the superadmin, if one exists.
func (r *Repository) GetSuperadmin(ctx context.Context) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = $1 LIMIT 1`
	return r.getOne(ctx, "get superadmin", query, string(domain.RoleSuperadmin))
}

// ListUsers retrieves all users ordered by id.
func (r *Repository) ListUsers(ctx context.Context) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var user domain.User
		if err := scanUser(rows, &user); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

// UpdateUser persists username and role. The password column is never touched.
func (r *Repository) UpdateUser(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET username = $2, role = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		user.ID,
		user.Username,
		string(user.Role),
	).Scan(&user.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identity.ErrUserNotFound
		}
		return mapWriteError(err, "update user")
	}
	return nil
}

// DeleteUser deletes a user by id. Payments owned by the user are removed by cascade.
func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	result, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

func (r *Repository) getOne(ctx context.Context, op, query string, args ...any) (*domain.User, error) {
	var user domain.User
	if err := scanUser(r.db.QueryRow(ctx, query, args...), &user); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &user, nil
}

func scanUser(row pgx.Row, user *domain.User) error {
	return row.Scan(
		&user.ID,
		&user.Username,
		&user.Password,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
}

func mapWriteError(err error, op string) error {
	switch {
	case pgutil.IsUniqueViolation(err, constraintSingleSuperadmin):
		return identity.ErrDuplicateSuperadmin
	case pgutil.IsUniqueViolation(err, constraintUniqueUsername):
		return identity.ErrUsernameTaken
	}
	return fmt.Errorf("%s: %w", op, err)
}
