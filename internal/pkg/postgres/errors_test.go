package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "users_single_superadmin"}
	wrapped := fmt.Errorf("create user: %w", pgErr)

	assert.True(t, IsUniqueViolation(wrapped, ""))
	assert.True(t, IsUniqueViolation(wrapped, "users_single_superadmin"))
	assert.False(t, IsUniqueViolation(wrapped, "users_username_key"))
	assert.False(t, IsUniqueViolation(errors.New("boom"), ""))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))
}

func TestIsForeignKeyViolation(t *testing.T) {
	assert.True(t, IsForeignKeyViolation(fmt.Errorf("x: %w", &pgconn.PgError{Code: "23503"})))
	assert.False(t, IsForeignKeyViolation(&pgconn.PgError{Code: "23505"}))
}

func TestIsNumericOutOfRange(t *testing.T) {
	assert.True(t, IsNumericOutOfRange(&pgconn.PgError{Code: "22003"}))
	assert.False(t, IsNumericOutOfRange(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsNumericOutOfRange(nil))
}
