package order

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/orderflow/pkg/orders"
	"github.com/appetiteclub/orderflow/pkg/payment"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(repo *MockOrderRepo, items *MockOrderItemRepo, intents payment.IntentProvider) *Service {
	promos, _ := payment.ParsePromos([]string{"SAVE10=10%", "LESS50=50"})
	return NewService(ServiceDeps{
		Orders:   repo,
		Items:    items,
		Sequence: &MockSequence{},
		Intents:  intents,
		Promos:   promos,
		Now:      func() time.Time { return testNow },
	}, nil)
}

// seedOrder builds a dine-in order priced at 1220.00 with n lines of 500.00.
func seedOrder(method string, n int) (*orders.Order, []*orders.OrderItem) {
	o := orders.NewOrder()
	o.OrderNumber = 7
	o.OrderType = "dine_in"
	o.TableNumber = "T1"
	o.PaymentMethod = method
	o.Subtotal = dec("1000")
	o.TaxAmount = dec("120")
	o.ServiceCharge = dec("100")
	o.TotalAmount = dec("1220")
	expires := testNow.Add(DefaultPaymentWindow)
	o.ExpiresAt = &expires

	var lines []*orders.OrderItem
	for i := 0; i < n; i++ {
		lines = append(lines, orders.NewOrderItem(o.ID, fmt.Sprintf("Dish %d", i+1), 1, dec("500")))
	}
	return o, lines
}

func seedPaidOrder(n int) (*orders.Order, []*orders.OrderItem) {
	o, lines := seedOrder("cash", n)
	o.Status = "paid"
	o.PaymentStatus = "paid"
	o.ExpiresAt = nil
	o.Version = 1
	return o, lines
}

func checkoutRequest() CheckoutRequest {
	return CheckoutRequest{
		OrderType:     "dine_in",
		PaymentMethod: "cash",
		TableNumber:   " T4 ",
		Items: []CheckoutItem{
			{
				ItemName:  "Sinigang",
				Quantity:  2,
				UnitPrice: dec("450"),
				Addons:    []orders.Addon{{Name: "Extra rice", AdditionalPrice: dec("100")}},
			},
		},
	}
}

func TestServiceCheckout(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(r *CheckoutRequest)
		wantStatus    string
		wantVersion   int64
		wantExpires   bool
		wantTotal     string
		wantDiscount  string
		wantKind      string
		wantPromoCode string
	}{
		{
			name:         "cashOrderWaitsForPayment",
			mutate:       func(r *CheckoutRequest) {},
			wantStatus:   "pending_payment",
			wantVersion:  0,
			wantExpires:  true,
			wantTotal:    "1220",
			wantDiscount: "0",
		},
		{
			name: "billLaterGoesStraightToKitchen",
			mutate: func(r *CheckoutRequest) {
				r.PaymentMethod = "bill_later"
			},
			wantStatus:   "preparing",
			wantVersion:  1,
			wantExpires:  false,
			wantTotal:    "1220",
			wantDiscount: "0",
		},
		{
			name: "seniorDiscount",
			mutate: func(r *CheckoutRequest) {
				r.Discounts = []DiscountRequest{{Kind: "senior"}}
			},
			wantStatus:   "pending_payment",
			wantExpires:  true,
			wantTotal:    "976",
			wantDiscount: "200",
			wantKind:     "senior",
		},
		{
			name: "laterDiscountReplacesEarlier",
			mutate: func(r *CheckoutRequest) {
				r.Discounts = []DiscountRequest{{Kind: "senior"}, {Kind: "promo", Code: "save10"}}
			},
			wantStatus:    "pending_payment",
			wantExpires:   true,
			wantTotal:     "1098",
			wantDiscount:  "100",
			wantKind:      "promo",
			wantPromoCode: "SAVE10",
		},
		{
			name: "fixedPromo",
			mutate: func(r *CheckoutRequest) {
				r.Discounts = []DiscountRequest{{Kind: "promo", Code: "LESS50"}}
			},
			wantStatus:    "pending_payment",
			wantExpires:   true,
			wantTotal:     "1159",
			wantDiscount:  "50",
			wantKind:      "promo",
			wantPromoCode: "LESS50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMockOrderRepo()
			items := NewMockOrderItemRepo()
			svc := newTestService(repo, items, nil)

			req := checkoutRequest()
			tt.mutate(&req)

			o, err := svc.Checkout(context.Background(), req)
			if err != nil {
				t.Fatalf("Checkout() error = %v", err)
			}

			if o.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", o.Status, tt.wantStatus)
			}
			if o.PaymentStatus != "unpaid" {
				t.Errorf("PaymentStatus = %q, want unpaid", o.PaymentStatus)
			}
			if o.OrderNumber != 1 {
				t.Errorf("OrderNumber = %d, want 1", o.OrderNumber)
			}
			if o.TableNumber != "T4" {
				t.Errorf("TableNumber = %q, want trimmed T4", o.TableNumber)
			}
			if !o.TotalAmount.Equal(dec(tt.wantTotal)) {
				t.Errorf("TotalAmount = %s, want %s", o.TotalAmount, tt.wantTotal)
			}
			if !o.DiscountAmount.Equal(dec(tt.wantDiscount)) {
				t.Errorf("DiscountAmount = %s, want %s", o.DiscountAmount, tt.wantDiscount)
			}
			if o.DiscountKind != tt.wantKind {
				t.Errorf("DiscountKind = %q, want %q", o.DiscountKind, tt.wantKind)
			}
			if o.PromoCode != tt.wantPromoCode {
				t.Errorf("PromoCode = %q, want %q", o.PromoCode, tt.wantPromoCode)
			}

			if tt.wantExpires {
				if o.ExpiresAt == nil || !o.ExpiresAt.Equal(testNow.Add(DefaultPaymentWindow)) {
					t.Errorf("ExpiresAt = %v, want %v", o.ExpiresAt, testNow.Add(DefaultPaymentWindow))
				}
			} else if o.ExpiresAt != nil {
				t.Errorf("ExpiresAt = %v, want nil", o.ExpiresAt)
			}

			stored := repo.Stored(o.ID)
			if stored == nil {
				t.Fatal("order was not stored")
			}
			if stored.Version != tt.wantVersion {
				t.Errorf("stored Version = %d, want %d", stored.Version, tt.wantVersion)
			}
			if stored.Status != tt.wantStatus {
				t.Errorf("stored Status = %q, want %q", stored.Status, tt.wantStatus)
			}

			lines, _ := items.ListByOrder(context.Background(), o.ID)
			if len(lines) != 1 {
				t.Fatalf("stored %d lines, want 1", len(lines))
			}
			if !lines[0].TotalPrice.Equal(dec("1000")) {
				t.Errorf("line TotalPrice = %s, want 1000", lines[0].TotalPrice)
			}
			if lines[0].Status != "pending" {
				t.Errorf("line Status = %q, want pending", lines[0].Status)
			}
		})
	}
}

func TestServiceCheckoutRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *CheckoutRequest)
		wantField string
	}{
		{
			name:      "dineInWithoutTable",
			mutate:    func(r *CheckoutRequest) { r.TableNumber = "" },
			wantField: "table_number",
		},
		{
			name:      "unknownPaymentMethod",
			mutate:    func(r *CheckoutRequest) { r.PaymentMethod = "iou" },
			wantField: "payment_method",
		},
		{
			name:      "noItems",
			mutate:    func(r *CheckoutRequest) { r.Items = nil },
			wantField: "items",
		},
		{
			name:      "zeroQuantity",
			mutate:    func(r *CheckoutRequest) { r.Items[0].Quantity = 0 },
			wantField: "items[0].quantity",
		},
		{
			name:      "unknownPromo",
			mutate:    func(r *CheckoutRequest) { r.Discounts = []DiscountRequest{{Kind: "promo", Code: "NOPE"}} },
			wantField: "discounts[0].code",
		},
		{
			name:      "unknownDiscountKind",
			mutate:    func(r *CheckoutRequest) { r.Discounts = []DiscountRequest{{Kind: "loyalty"}} },
			wantField: "discounts[0].kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMockOrderRepo()
			svc := newTestService(repo, NewMockOrderItemRepo(), nil)

			req := checkoutRequest()
			tt.mutate(&req)

			_, err := svc.Checkout(context.Background(), req)

			var verrs apt.ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Checkout() error = %v, want validation errors", err)
			}
			found := false
			for _, v := range verrs {
				if v.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("validation errors %v do not mention %q", verrs, tt.wantField)
			}
			if repo.Writes != 0 || len(repo.orders) != 0 {
				t.Error("invalid checkout should not store anything")
			}
		})
	}
}

func TestServiceCheckoutRollsBackHeaderWhenItemsFail(t *testing.T) {
	repo := NewMockOrderRepo()
	items := NewMockOrderItemRepo()
	items.CreateManyFunc = func(ctx context.Context, _ []*orders.OrderItem) error {
		return errors.New("disk full")
	}
	svc := newTestService(repo, items, nil)

	_, err := svc.Checkout(context.Background(), checkoutRequest())
	if err == nil {
		t.Fatal("Checkout() should fail when lines cannot be stored")
	}

	for id := range repo.orders {
		if stored := repo.Stored(id); !stored.IsDeleted() {
			t.Errorf("order %s should be soft deleted after rollback", id)
		}
	}
}

func TestServiceQuote(t *testing.T) {
	svc := newTestService(NewMockOrderRepo(), NewMockOrderItemRepo(), nil)

	got, err := svc.Quote(QuoteRequest{
		Discounts: []DiscountRequest{{Kind: "pwd"}},
		Items:     checkoutRequest().Items,
	})
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}

	if !got.Total.Equal(dec("976")) {
		t.Errorf("Total = %s, want 976", got.Total)
	}
	if !got.Tax.Equal(dec("96")) {
		t.Errorf("Tax = %s, want 96", got.Tax)
	}
	if got.DiscountKind != "pwd" {
		t.Errorf("DiscountKind = %q, want pwd", got.DiscountKind)
	}

	if _, err := svc.Quote(QuoteRequest{}); err == nil {
		t.Error("Quote() without items should fail")
	}
}

func TestServiceGet(t *testing.T) {
	live, liveLines := seedOrder("cash", 2)
	deleted, _ := seedOrder("cash", 0)
	at := testNow
	deleted.DeletedAt = &at

	svc := newTestService(NewMockOrderRepo(live, deleted), NewMockOrderItemRepo(liveLines...), nil)

	got, err := svc.Get(context.Background(), live.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Items) != 2 {
		t.Errorf("Get() returned %d items, want 2", len(got.Items))
	}

	if _, err := svc.Get(context.Background(), deleted.ID); !errors.Is(err, orders.ErrNotFound) {
		t.Errorf("Get(deleted) error = %v, want ErrNotFound", err)
	}
	if _, err := svc.Get(context.Background(), orders.NewOrder().ID); !errors.Is(err, orders.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestServiceList(t *testing.T) {
	pending, pendingLines := seedOrder("cash", 1)
	paid, paidLines := seedPaidOrder(2)

	svc := newTestService(
		NewMockOrderRepo(pending, paid),
		NewMockOrderItemRepo(append(pendingLines, paidLines...)...),
		nil,
	)

	got, err := svc.List(context.Background(), orders.Query{Statuses: []string{"paid"}})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != paid.ID {
		t.Fatalf("List() = %v, want only the paid order", got)
	}
	if len(got[0].Items) != 2 {
		t.Errorf("List() attached %d items, want 2", len(got[0].Items))
	}
}

func TestServiceVersionCounting(t *testing.T) {
	o, lines := seedOrder("cash", 1)
	repo := NewMockOrderRepo(o)
	svc := newTestService(repo, NewMockOrderItemRepo(lines...), nil)
	ctx := context.Background()

	if _, _, err := svc.ConfirmCash(ctx, o.ID, 0, dec("1220")); err != nil {
		t.Fatalf("ConfirmCash() error = %v", err)
	}
	if _, err := svc.Transition(ctx, o.ID, 1, "preparing"); err != nil {
		t.Fatalf("Transition(preparing) error = %v", err)
	}

	// A writer still holding version 1 loses.
	if _, err := svc.Transition(ctx, o.ID, 1, "cancelled"); !errors.Is(err, orders.ErrStaleWrite) {
		t.Fatalf("Transition(stale) error = %v, want ErrStaleWrite", err)
	}

	stored := repo.Stored(o.ID)
	if stored.Version != 2 {
		t.Errorf("Version = %d, want 2", stored.Version)
	}
	if stored.Status != "preparing" {
		t.Errorf("Status = %q, want preparing", stored.Status)
	}
	if repo.Writes != 2 {
		t.Errorf("Writes = %d, want 2", repo.Writes)
	}
}

func TestServiceTransitionErrors(t *testing.T) {
	pending, _ := seedOrder("cash", 0)
	cancelled, _ := seedOrder("cash", 0)
	cancelled.Status = "cancelled"
	deleted, _ := seedOrder("cash", 0)
	at := testNow
	deleted.DeletedAt = &at

	svc := newTestService(NewMockOrderRepo(pending, cancelled, deleted), NewMockOrderItemRepo(), nil)

	tests := []struct {
		name    string
		order   *orders.Order
		to      string
		wantErr error
	}{
		{name: "cashOrderCannotSkipPayment", order: pending, to: "preparing", wantErr: orders.ErrInvalidTransition},
		{name: "paidNeedsPayment", order: pending, to: "paid", wantErr: orders.ErrInvalidTransition},
		{name: "cancelledIsTerminal", order: cancelled, to: "preparing", wantErr: orders.ErrTerminalState},
		{name: "deletedOrder", order: deleted, to: "cancelled", wantErr: orders.ErrDeleted},
		{name: "unknownStatus", order: pending, to: "eaten", wantErr: orders.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Transition(context.Background(), tt.order.ID, tt.order.Version, tt.to)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Transition() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestServiceConfirmCash(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		tendered   string
		wantErr    error
		wantChange string
	}{
		{name: "exactAmount", method: "cash", tendered: "1220", wantChange: "0"},
		{name: "givesChange", method: "cash", tendered: "1300", wantChange: "80"},
		{name: "billLaterSettlesInCash", method: "bill_later", tendered: "1500", wantChange: "280"},
		{name: "shortTender", method: "cash", tendered: "900", wantErr: payment.ErrInsufficientTender},
		{name: "negativeTender", method: "cash", tendered: "-1", wantErr: payment.ErrInvalidAmount},
		{name: "digitalOrder", method: "gcash", tendered: "1220", wantErr: orders.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, lines := seedOrder(tt.method, 1)
			repo := NewMockOrderRepo(o)
			svc := newTestService(repo, NewMockOrderItemRepo(lines...), nil)

			got, change, err := svc.ConfirmCash(context.Background(), o.ID, 0, dec(tt.tendered))

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ConfirmCash() error = %v, want %v", err, tt.wantErr)
				}
				if stored := repo.Stored(o.ID); stored.Version != 0 || stored.PaymentStatus != "unpaid" {
					t.Errorf("failed settlement changed the order: version %d, payment %q", stored.Version, stored.PaymentStatus)
				}
				return
			}

			if err != nil {
				t.Fatalf("ConfirmCash() error = %v", err)
			}
			if !change.Equal(dec(tt.wantChange)) {
				t.Errorf("change = %s, want %s", change, tt.wantChange)
			}
			if got.PaymentStatus != "paid" || got.Status != "paid" {
				t.Errorf("order = %s/%s, want paid/paid", got.Status, got.PaymentStatus)
			}
			if got.ExpiresAt != nil {
				t.Error("paid order should no longer expire")
			}
			if got.PaidAt == nil || !got.PaidAt.Equal(testNow) {
				t.Errorf("PaidAt = %v, want %v", got.PaidAt, testNow)
			}
		})
	}
}

func TestServiceCreatePaymentIntent(t *testing.T) {
	providerErr := errors.New("gateway timeout")

	tests := []struct {
		name      string
		method    string
		version   int64
		provider  func(calls *int) payment.IntentProvider
		wantErr   error
		wantCalls int
	}{
		{
			name:    "digitalOrderMovesToProcessing",
			method:  "gcash",
			version: 0,
			provider: func(calls *int) payment.IntentProvider {
				return &MockIntentProvider{CreateIntentFunc: func(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
					*calls++
					return &payment.Intent{Reference: "ref-" + req.OrderID.String()}, nil
				}}
			},
			wantCalls: 1,
		},
		{
			name:    "cashOrderRejected",
			method:  "cash",
			version: 0,
			provider: func(calls *int) payment.IntentProvider {
				return &MockIntentProvider{}
			},
			wantErr: orders.ErrInvalidTransition,
		},
		{
			name:    "staleVersionSkipsProvider",
			method:  "card",
			version: 3,
			provider: func(calls *int) payment.IntentProvider {
				return &MockIntentProvider{CreateIntentFunc: func(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
					*calls++
					return &payment.Intent{}, nil
				}}
			},
			wantErr: orders.ErrStaleWrite,
		},
		{
			name:    "providerFailureLeavesOrderUntouched",
			method:  "gcash",
			version: 0,
			provider: func(calls *int) payment.IntentProvider {
				return &MockIntentProvider{CreateIntentFunc: func(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
					*calls++
					return nil, providerErr
				}}
			},
			wantErr:   providerErr,
			wantCalls: 1,
		},
		{
			name:    "noProviderConfigured",
			method:  "gcash",
			version: 0,
			provider: func(calls *int) payment.IntentProvider {
				return nil
			},
			wantErr: payment.ErrProviderUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, lines := seedOrder(tt.method, 1)
			repo := NewMockOrderRepo(o)
			calls := 0
			svc := newTestService(repo, NewMockOrderItemRepo(lines...), tt.provider(&calls))

			got, intent, err := svc.CreatePaymentIntent(context.Background(), o.ID, tt.version)

			if calls != tt.wantCalls {
				t.Errorf("provider called %d times, want %d", calls, tt.wantCalls)
			}

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("CreatePaymentIntent() error = %v, want %v", err, tt.wantErr)
				}
				if stored := repo.Stored(o.ID); stored.Version != 0 || stored.PaymentStatus != "unpaid" {
					t.Errorf("failed intent changed the order: version %d, payment %q", stored.Version, stored.PaymentStatus)
				}
				return
			}

			if err != nil {
				t.Fatalf("CreatePaymentIntent() error = %v", err)
			}
			wantRef := "ref-" + o.ID.String()
			if intent.Reference != wantRef {
				t.Errorf("intent Reference = %q, want %q", intent.Reference, wantRef)
			}
			stored := repo.Stored(o.ID)
			if stored.PaymentStatus != "processing" {
				t.Errorf("PaymentStatus = %q, want processing", stored.PaymentStatus)
			}
			if stored.PaymentReference != wantRef {
				t.Errorf("PaymentReference = %q, want %q", stored.PaymentReference, wantRef)
			}
			if stored.Status != "pending_payment" {
				t.Errorf("Status = %q, want pending_payment", stored.Status)
			}
			if got.Version != 1 {
				t.Errorf("Version = %d, want 1", got.Version)
			}
		})
	}
}

func TestServiceTransitionPaymentConfirmsDigitalOrder(t *testing.T) {
	o, lines := seedOrder("gcash", 1)
	o.PaymentStatus = "processing"
	o.Version = 1
	repo := NewMockOrderRepo(o)
	svc := newTestService(repo, NewMockOrderItemRepo(lines...), nil)

	got, err := svc.TransitionPayment(context.Background(), o.ID, 1, "paid")
	if err != nil {
		t.Fatalf("TransitionPayment() error = %v", err)
	}
	if got.Status != "paid" || got.PaymentStatus != "paid" {
		t.Errorf("order = %s/%s, want paid/paid", got.Status, got.PaymentStatus)
	}

	if _, err := svc.TransitionPayment(context.Background(), o.ID, 2, "expired"); !errors.Is(err, orders.ErrInvalidTransition) {
		t.Errorf("TransitionPayment(expired) error = %v, want ErrInvalidTransition", err)
	}
}

func TestServiceTransitionItemConvergesOrder(t *testing.T) {
	o, lines := seedPaidOrder(2)
	first, second := lines[0].ID, lines[1].ID
	repo := NewMockOrderRepo(o)
	svc := newTestService(repo, NewMockOrderItemRepo(lines...), nil)
	ctx := context.Background()

	steps := []struct {
		item        string
		itemVersion int64
		to          string
		wantStatus  string
		wantVersion int64
	}{
		{item: "first", itemVersion: 0, to: "preparing", wantStatus: "preparing", wantVersion: 2},
		{item: "first", itemVersion: 1, to: "ready", wantStatus: "preparing", wantVersion: 2},
		{item: "second", itemVersion: 0, to: "ready", wantStatus: "ready", wantVersion: 3},
		{item: "first", itemVersion: 2, to: "served", wantStatus: "ready", wantVersion: 3},
		{item: "second", itemVersion: 1, to: "served", wantStatus: "served", wantVersion: 4},
	}

	for i, step := range steps {
		id := first
		if step.item == "second" {
			id = second
		}

		got, err := svc.TransitionItem(ctx, o.ID, id, step.itemVersion, step.to)
		if err != nil {
			t.Fatalf("step %d: TransitionItem() error = %v", i, err)
		}
		if got.Status != step.wantStatus {
			t.Errorf("step %d: Status = %q, want %q", i, got.Status, step.wantStatus)
		}
		if stored := repo.Stored(o.ID); stored.Version != step.wantVersion {
			t.Errorf("step %d: stored Version = %d, want %d", i, stored.Version, step.wantVersion)
		}
	}

	stored := repo.Stored(o.ID)
	if stored.ServedAt == nil {
		t.Error("served order should carry ServedAt")
	}
}

func TestServiceTransitionItemErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func() (*orders.Order, []*orders.OrderItem)
		version int64
		to      string
		wantErr error
	}{
		{
			name:    "gatedUntilPaid",
			setup:   func() (*orders.Order, []*orders.OrderItem) { return seedOrder("cash", 1) },
			to:      "preparing",
			wantErr: orders.ErrItemGated,
		},
		{
			name:    "staleItemVersion",
			setup:   func() (*orders.Order, []*orders.OrderItem) { return seedPaidOrder(1) },
			version: 4,
			to:      "preparing",
			wantErr: orders.ErrStaleWrite,
		},
		{
			name:    "noMovingBackwards",
			setup:   func() (*orders.Order, []*orders.OrderItem) { return seedPaidOrder(1) },
			to:      "pending",
			wantErr: orders.ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, lines := tt.setup()
			repo := NewMockOrderRepo(o)
			svc := newTestService(repo, NewMockOrderItemRepo(lines...), nil)

			_, err := svc.TransitionItem(context.Background(), o.ID, lines[0].ID, tt.version, tt.to)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("TransitionItem() error = %v, want %v", err, tt.wantErr)
			}
			if repo.Writes != 0 {
				t.Errorf("Writes = %d, want 0", repo.Writes)
			}
		})
	}

	t.Run("unknownItem", func(t *testing.T) {
		o, lines := seedPaidOrder(1)
		svc := newTestService(NewMockOrderRepo(o), NewMockOrderItemRepo(lines...), nil)

		_, err := svc.TransitionItem(context.Background(), o.ID, orders.NewOrder().ID, 0, "ready")
		if !errors.Is(err, orders.ErrItemNotFound) {
			t.Errorf("TransitionItem() error = %v, want ErrItemNotFound", err)
		}
	})
}

func TestServiceTransitionItemLosesConvergenceRace(t *testing.T) {
	o, lines := seedPaidOrder(1)
	repo := NewMockOrderRepo(o)
	items := NewMockOrderItemRepo(lines...)
	svc := newTestService(repo, items, nil)

	repo.UpdateIfVersionFunc = func(ctx context.Context, _ *orders.Order, expected int64) error {
		return fmt.Errorf("%w: someone else got there first", orders.ErrStaleWrite)
	}

	got, err := svc.TransitionItem(context.Background(), o.ID, lines[0].ID, 0, "preparing")
	if err != nil {
		t.Fatalf("TransitionItem() error = %v, want nil after a lost race", err)
	}
	if got.Status != "paid" {
		t.Errorf("Status = %q, want the reloaded paid order", got.Status)
	}

	stored, _ := items.ListByOrder(context.Background(), o.ID)
	if len(stored) != 1 || stored[0].Status != "preparing" {
		t.Errorf("item write should stand, got %+v", stored)
	}
}

func TestServiceSoftDelete(t *testing.T) {
	o, _ := seedOrder("cash", 0)
	repo := NewMockOrderRepo(o)
	svc := newTestService(repo, NewMockOrderItemRepo(), nil)

	if err := svc.SoftDelete(context.Background(), o.ID); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}
	if err := svc.SoftDelete(context.Background(), o.ID); !errors.Is(err, orders.ErrDeleted) {
		t.Errorf("second SoftDelete() error = %v, want ErrDeleted", err)
	}
	if _, err := svc.Transition(context.Background(), o.ID, 1, "cancelled"); !errors.Is(err, orders.ErrDeleted) {
		t.Errorf("Transition(deleted) error = %v, want ErrDeleted", err)
	}
}
