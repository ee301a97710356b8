package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Stored amounts are NUMERIC(AmountPrecision, AmountScale).
const (
	AmountPrecision = 10
	AmountScale     = 2

	// minAmountExponent bounds how many fractional digits an input may carry.
	minAmountExponent = -18
)

// maxAmount is the smallest magnitude that no longer fits the column.
var maxAmount = decimal.New(1, AmountPrecision-AmountScale)

// ValidAmount reports whether d fits the stored precision once rounded to
// AmountScale. The exponent is checked before any arithmetic: rescaling a
// value like 1e50000000 materializes every digit.
func ValidAmount(d decimal.Decimal) bool {
	exp := d.Exponent()
	if exp > AmountPrecision-AmountScale || exp < minAmountExponent {
		return false
	}
	return d.Round(AmountScale).Abs().Cmp(maxAmount) < 0
}

// Payment is a payment record owned by exactly one user.
type Payment struct {
	ID        int64           `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Receipt   string          `json:"receipt"`
	UserID    int64           `json:"userId"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// MarshalJSON renders amount as a JSON number with exactly two fractional digits.
func (p Payment) MarshalJSON() ([]byte, error) {
	type payment Payment
	return json.Marshal(struct {
		payment
		Amount json.Number `json:"amount"`
	}{
		payment: payment(p),
		Amount:  json.Number(p.Amount.StringFixed(AmountScale)),
	})
}
