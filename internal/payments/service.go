// Package payments implements payment record administration.
package payments

import (
	"context"
	"fmt"

	"github.com/bissquit/payments-admin/internal/domain"
	"github.com/bissquit/payments-admin/internal/pkg/ctxlog"
	"github.com/bissquit/payments-admin/internal/pkg/metrics"
	"github.com/shopspring/decimal"
)

// Service implements payment business logic.
type Service struct {
	repo     Repository
	notifier Notifier
}

// NewService creates a payment service. notifier may be nil.
func NewService(repo Repository, notifier Notifier) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
	}
}

// CreateInput contains data for a new payment.
type CreateInput struct {
	Amount  decimal.Decimal
	Receipt string
	UserID  int64
}

// CreatePayment stores a payment owned by input.UserID.
func (s *Service) CreatePayment(ctx context.Context, input CreateInput) (*domain.Payment, error) {
	if input.Receipt == "" || input.UserID <= 0 || !domain.ValidAmount(input.Amount) {
		return nil, ErrInvalidPayment
	}

	payment := &domain.Payment{
		Amount:  input.Amount.Round(domain.AmountScale),
		Receipt: input.Receipt,
		UserID:  input.UserID,
	}

	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	ctxlog.FromContext(ctx).Info("payment created",
		"payment_id", payment.ID,
		"owner_id", payment.UserID,
		"amount", payment.Amount.StringFixed(domain.AmountScale),
	)
	s.changed(ctx, "create", payment)

	return payment, nil
}

// ListPayments returns all payments.
func (s *Service) ListPayments(ctx context.Context) ([]domain.Payment, error) {
	payments, err := s.repo.ListPayments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

// GetPayment returns a payment by id.
func (s *Service) GetPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// UpdateInput holds the mutable payment fields. A zero amount or an empty
// receipt keeps the stored value.
type UpdateInput struct {
	Amount  decimal.Decimal
	Receipt string
}

// UpdatePayment merges input into the payment. The owner is never changed.
func (s *Service) UpdatePayment(ctx context.Context, id int64, input UpdateInput) (*domain.Payment, error) {
	if !input.Amount.IsZero() && !domain.ValidAmount(input.Amount) {
		return nil, ErrInvalidPayment
	}

	payment, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}

	if !input.Amount.IsZero() {
		payment.Amount = input.Amount.Round(domain.AmountScale)
	}
	if input.Receipt != "" {
		payment.Receipt = input.Receipt
	}

	if err := s.repo.UpdatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("update payment: %w", err)
	}

	s.changed(ctx, "update", payment)

	return payment, nil
}

// DeletePayment removes a payment.
func (s *Service) DeletePayment(ctx context.Context, id int64) error {
	if err := s.repo.DeletePayment(ctx, id); err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}

	ctxlog.FromContext(ctx).Info("payment deleted", "payment_id", id)
	s.changed(ctx, "delete", map[string]int64{"id": id})

	return nil
}

func (s *Service) changed(ctx context.Context, op string, data any) {
	metrics.PaymentMutations.WithLabelValues(op).Inc()
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(domain.EventUpdatePayments, data)
	ctxlog.FromContext(ctx).Debug("payment change published", "operation", op)
}
