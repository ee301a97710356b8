package payments

import "errors"

// Service errors.
var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrUserNotFound    = errors.New("owning user not found")
	ErrInvalidPayment  = errors.New("invalid payment")
)
