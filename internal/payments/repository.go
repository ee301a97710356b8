package payments

import (
	"context"

	"github.com/bissquit/payments-admin/internal/domain"
)

// Repository is the payment store.
//
// CreatePayment returns ErrUserNotFound when the owning user does not exist
// and ErrInvalidPayment when the amount does not fit the column. Lookups,
// updates and deletes return ErrPaymentNotFound when nothing matches.
type Repository interface {
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	GetPayment(ctx context.Context, id int64) (*domain.Payment, error)
	ListPayments(ctx context.Context) ([]domain.Payment, error)
	UpdatePayment(ctx context.Context, payment *domain.Payment) error
	DeletePayment(ctx context.Context, id int64) error
}

// Notifier fans a payment change out to connected clients.
type Notifier interface {
	Publish(event string, data any)
}
