package payment

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name        string
		subtotal    string
		discount    string
		wantTax     string
		wantService string
		wantTotal   string
		wantErr     error
	}{
		{
			name:        "noDiscount",
			subtotal:    "1000",
			discount:    "0",
			wantTax:     "120",
			wantService: "100",
			wantTotal:   "1220",
		},
		{
			name:        "seniorDiscount",
			subtotal:    "1000",
			discount:    "200",
			wantTax:     "96",
			wantService: "80",
			wantTotal:   "976",
		},
		{
			name:        "roundsHalfUp",
			subtotal:    "10.45",
			discount:    "0",
			wantTax:     "1.25",
			wantService: "1.05",
			wantTotal:   "12.75",
		},
		{
			name:     "negativeSubtotal",
			subtotal: "-1",
			discount: "0",
			wantErr:  ErrInvalidAmount,
		},
		{
			name:     "negativeDiscount",
			subtotal: "10",
			discount: "-1",
			wantErr:  ErrInvalidAmount,
		},
		{
			name:     "discountAboveSubtotal",
			subtotal: "10",
			discount: "11",
			wantErr:  ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(dec(tt.subtotal), dec(tt.discount))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Compute() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Compute() unexpected error: %v", err)
			}
			if !got.Tax.Equal(dec(tt.wantTax)) {
				t.Errorf("Tax = %s, want %s", got.Tax, tt.wantTax)
			}
			if !got.ServiceCharge.Equal(dec(tt.wantService)) {
				t.Errorf("ServiceCharge = %s, want %s", got.ServiceCharge, tt.wantService)
			}
			if !got.Total.Equal(dec(tt.wantTotal)) {
				t.Errorf("Total = %s, want %s", got.Total, tt.wantTotal)
			}
		})
	}
}

func TestComputeTotalIdentity(t *testing.T) {
	subtotals := []string{"0", "0.01", "19.99", "333.33", "1234.56", "99999.99"}
	discounts := []string{"0", "0.01", "5.55", "19.99"}

	for _, s := range subtotals {
		for _, d := range discounts {
			subtotal, discount := dec(s), dec(d)
			if discount.GreaterThan(subtotal) {
				continue
			}
			b, err := Compute(subtotal, discount)
			if err != nil {
				t.Fatalf("Compute(%s, %s) unexpected error: %v", s, d, err)
			}

			discounted := Round2(subtotal.Sub(discount))
			if want := Round2(discounted.Mul(TaxRate)); !b.Tax.Equal(want) {
				t.Errorf("Compute(%s, %s) tax = %s, want %s", s, d, b.Tax, want)
			}
			if want := Round2(discounted.Mul(ServiceChargeRate)); !b.ServiceCharge.Equal(want) {
				t.Errorf("Compute(%s, %s) service = %s, want %s", s, d, b.ServiceCharge, want)
			}
			if want := discounted.Add(b.Tax).Add(b.ServiceCharge); !b.Total.Equal(want) {
				t.Errorf("Compute(%s, %s) total = %s, want %s", s, d, b.Total, want)
			}
			if want := b.Subtotal.Sub(b.DiscountAmount).Add(b.Tax).Add(b.ServiceCharge); !b.Total.Equal(want) {
				t.Errorf("Compute(%s, %s) total = %s, want subtotal-discount+tax+service %s", s, d, b.Total, want)
			}
		}
	}
}

func TestSeniorDiscount(t *testing.T) {
	if got := SeniorDiscount(dec("1000")); !got.Equal(dec("200")) {
		t.Errorf("SeniorDiscount(1000) = %s, want 200", got)
	}
	if got := SeniorDiscount(dec("33.33")); !got.Equal(dec("6.67")) {
		t.Errorf("SeniorDiscount(33.33) = %s, want 6.67", got)
	}
}

func TestChange(t *testing.T) {
	tests := []struct {
		name     string
		tendered string
		total    string
		want     string
		wantErr  error
	}{
		{name: "exactTender", tendered: "976", total: "976", want: "0"},
		{name: "withChange", tendered: "1000", total: "976", want: "24"},
		{name: "belowTotal", tendered: "900", total: "976", wantErr: ErrInsufficientTender},
		{name: "negativeTender", tendered: "-5", total: "976", wantErr: ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Change(dec(tt.tendered), dec(tt.total))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Change() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Change() unexpected error: %v", err)
			}
			if !got.Equal(dec(tt.want)) {
				t.Errorf("Change() = %s, want %s", got, tt.want)
			}
		})
	}
}
