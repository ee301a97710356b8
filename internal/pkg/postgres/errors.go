package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the repositories translate into domain errors.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNumericOutOfRange   = "22003"
)

// IsUniqueViolation reports whether err is a unique violation. When constraint
// is non-empty the violated constraint or index name must match it.
func IsUniqueViolation(err error, constraint string) bool {
	return isPgError(err, codeUniqueViolation, constraint)
}

// IsForeignKeyViolation reports whether err is a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	return isPgError(err, codeForeignKeyViolation, "")
}

// IsNumericOutOfRange reports whether err is a numeric overflow, such as a
// value too wide for a NUMERIC(p,s) column.
func IsNumericOutOfRange(err error) bool {
	return isPgError(err, codeNumericOutOfRange, "")
}

func isPgError(err error, code, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != code {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
