// Package postgres provides the PostgreSQL payment store.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/payments-admin/internal/domain"
	"github.com/bissquit/payments-admin/internal/payments"
	pgutil "github.com/bissquit/payments-admin/internal/pkg/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Amounts travel as text in both directions so NUMERIC values never pass through a float.
const paymentColumns = `id, amount::text, receipt, user_id, created_at, updated_at`

// Repository implements payments.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreatePayment inserts payment and fills its id, stored amount and timestamps.
func (r *Repository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (amount, receipt, user_id)
		VALUES ($1::numeric, $2, $3)
		RETURNING ` + paymentColumns

	err := scanPayment(r.db.QueryRow(ctx, query,
		payment.Amount.String(),
		payment.Receipt,
		payment.UserID,
	), payment)

	if err != nil {
		return mapWriteError(err, "create payment")
	}
	return nil
}

// GetPayment retrieves a payment by id.
func (r *Repository) GetPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	var payment domain.Payment
	if err := scanPayment(r.db.QueryRow(ctx, query, id), &payment); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payments.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &payment, nil
}

// ListPayments retrieves all payments ordered by id.
func (r *Repository) ListPayments(ctx context.Context) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments ORDER BY id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Payment, 0)
	for rows.Next() {
		var payment domain.Payment
		if err := scanPayment(rows, &payment); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		result = append(result, payment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}

	return result, nil
}

// UpdatePayment persists amount and receipt.
func (r *Repository) UpdatePayment(ctx context.Context, payment *domain.Payment) error {
	query := `
		UPDATE payments
		SET amount = $2::numeric, receipt = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + paymentColumns

	err := scanPayment(r.db.QueryRow(ctx, query,
		payment.ID,
		payment.Amount.String(),
		payment.Receipt,
	), payment)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payments.ErrPaymentNotFound
		}
		return mapWriteError(err, "update payment")
	}
	return nil
}

// DeletePayment deletes a payment by id.
func (r *Repository) DeletePayment(ctx context.Context, id int64) error {
	result, err := r.db.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return payments.ErrPaymentNotFound
	}
	return nil
}

func scanPayment(row pgx.Row, payment *domain.Payment) error {
	var amount string
	if err := row.Scan(
		&payment.ID,
		&amount,
		&payment.Receipt,
		&payment.UserID,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	); err != nil {
		return err
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", amount, err)
	}
	payment.Amount = d
	return nil
}

func mapWriteError(err error, op string) error {
	switch {
	case pgutil.IsForeignKeyViolation(err):
		return payments.ErrUserNotFound
	case pgutil.IsNumericOutOfRange(err):
		return payments.ErrInvalidPayment
	}
	return fmt.Errorf("%s: %w", op, err)
}
