// Package payment holds the pricing arithmetic shared by checkout and the
// cashier stations. Every function is pure; amounts are decimal and rounded
// half away from zero to two places.
package payment

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	TaxRate            = decimal.RequireFromString("0.12")
	ServiceChargeRate  = decimal.RequireFromString("0.10")
	SeniorDiscountRate = decimal.RequireFromString("0.20")
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientTender = errors.New("amount tendered is below total")
)

type DiscountKind string

const (
	DiscountNone   DiscountKind = "none"
	DiscountSenior DiscountKind = "senior"
	DiscountPWD    DiscountKind = "pwd"
	DiscountPromo  DiscountKind = "promo"
)

// Breakdown is the full price of an order as shown before commit.
type Breakdown struct {
	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	DiscountedSubtotal decimal.Decimal `json:"discounted_subtotal"`
	Tax                decimal.Decimal `json:"tax_amount"`
	ServiceCharge      decimal.Decimal `json:"service_charge"`
	Total              decimal.Decimal `json:"total_amount"`
}

func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Compute prices a subtotal after a discount amount.
func Compute(subtotal, discount decimal.Decimal) (Breakdown, error) {
	if subtotal.IsNegative() {
		return Breakdown{}, fmt.Errorf("%w: subtotal %s is negative", ErrInvalidAmount, subtotal)
	}
	if discount.IsNegative() {
		return Breakdown{}, fmt.Errorf("%w: discount %s is negative", ErrInvalidAmount, discount)
	}
	if discount.GreaterThan(subtotal) {
		return Breakdown{}, fmt.Errorf("%w: discount %s exceeds subtotal %s", ErrInvalidAmount, discount, subtotal)
	}

	discounted := Round2(subtotal.Sub(discount))
	tax := Round2(discounted.Mul(TaxRate))
	service := Round2(discounted.Mul(ServiceChargeRate))

	return Breakdown{
		Subtotal:           Round2(subtotal),
		DiscountAmount:     Round2(discount),
		DiscountedSubtotal: discounted,
		Tax:                tax,
		ServiceCharge:      service,
		Total:              discounted.Add(tax).Add(service),
	}, nil
}

// SeniorDiscount is the senior citizen / PWD discount for a subtotal.
func SeniorDiscount(subtotal decimal.Decimal) decimal.Decimal {
	return Round2(subtotal.Mul(SeniorDiscountRate))
}

// Change returns tendered minus total for a cash settlement.
func Change(tendered, total decimal.Decimal) (decimal.Decimal, error) {
	if tendered.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: tendered %s is negative", ErrInvalidAmount, tendered)
	}
	if tendered.LessThan(total) {
		return decimal.Zero, fmt.Errorf("%w: tendered %s, total %s", ErrInsufficientTender, tendered.StringFixed(2), total.StringFixed(2))
	}
	return Round2(tendered.Sub(total)), nil
}
