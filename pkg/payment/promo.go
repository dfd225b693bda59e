package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Promo is either a percentage or a fixed amount off the subtotal.
type Promo struct {
	Code    string          `json:"code"`
	Percent decimal.Decimal `json:"percent,omitempty"`
	Fixed   decimal.Decimal `json:"fixed,omitempty"`
}

// DiscountFor never exceeds the subtotal.
func (p Promo) DiscountFor(subtotal decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	if p.Percent.IsPositive() {
		d = Round2(subtotal.Mul(p.Percent).Div(decimal.NewFromInt(100)))
	} else {
		d = Round2(p.Fixed)
	}
	if d.GreaterThan(subtotal) {
		return subtotal
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// PromoCatalog resolves promo codes case-insensitively.
type PromoCatalog map[string]Promo

func (c PromoCatalog) Lookup(code string) (Promo, bool) {
	p, ok := c[strings.ToUpper(strings.TrimSpace(code))]
	return p, ok
}

// ParsePromos reads entries shaped "CODE=10%" (percent) or "CODE=50" (fixed).
func ParsePromos(entries []string) (PromoCatalog, error) {
	catalog := make(PromoCatalog, len(entries))
	for _, entry := range entries {
		code, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		code = strings.ToUpper(strings.TrimSpace(code))
		value = strings.TrimSpace(value)
		if !ok || code == "" || value == "" {
			return nil, fmt.Errorf("invalid promo entry %q", entry)
		}

		promo := Promo{Code: code}
		if strings.HasSuffix(value, "%") {
			pct, err := decimal.NewFromString(strings.TrimSuffix(value, "%"))
			if err != nil || !pct.IsPositive() || pct.GreaterThan(decimal.NewFromInt(100)) {
				return nil, fmt.Errorf("invalid promo percent %q", entry)
			}
			promo.Percent = pct
		} else {
			amount, err := decimal.NewFromString(value)
			if err != nil || !amount.IsPositive() {
				return nil, fmt.Errorf("invalid promo amount %q", entry)
			}
			promo.Fixed = amount
		}
		catalog[code] = promo
	}
	return catalog, nil
}
