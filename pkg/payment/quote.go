package payment

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Quote accumulates a subtotal and at most one discount. Senior/PWD and promo
// discounts are exclusive; the last one applied replaces the other.
type Quote struct {
	subtotal decimal.Decimal
	kind     DiscountKind
	promo    *Promo
}

func NewQuote(subtotal decimal.Decimal) *Quote {
	return &Quote{subtotal: subtotal, kind: DiscountNone}
}

func (q *Quote) ApplySenior() {
	q.kind = DiscountSenior
	q.promo = nil
}

func (q *Quote) ApplyPWD() {
	q.kind = DiscountPWD
	q.promo = nil
}

func (q *Quote) ApplyPromo(p Promo) {
	q.kind = DiscountPromo
	q.promo = &p
}

func (q *Quote) ClearDiscount() {
	q.kind = DiscountNone
	q.promo = nil
}

func (q *Quote) Kind() DiscountKind {
	return q.kind
}

// PromoCode returns the applied promo code, if any.
func (q *Quote) PromoCode() string {
	if q.promo == nil {
		return ""
	}
	return q.promo.Code
}

func (q *Quote) Discount() decimal.Decimal {
	switch q.kind {
	case DiscountSenior, DiscountPWD:
		return SeniorDiscount(q.subtotal)
	case DiscountPromo:
		if q.promo != nil {
			return q.promo.DiscountFor(q.subtotal)
		}
	}
	return decimal.Zero
}

func (q *Quote) Breakdown() (Breakdown, error) {
	b, err := Compute(q.subtotal, q.Discount())
	if err != nil {
		return Breakdown{}, fmt.Errorf("cannot price quote: %w", err)
	}
	return b, nil
}
