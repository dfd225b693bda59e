package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"github.com/appetiteclub/orderflow/pkg/enums/paymentmethod"
	"github.com/appetiteclub/orderflow/pkg/enums/paymentstatus"
	"github.com/appetiteclub/orderflow/pkg/orders"
	"github.com/appetiteclub/orderflow/pkg/payment"
)

const (
	DefaultPaymentWindow = 15 * time.Minute

	orderSequence = "orders"
)

// Service is the only writer of orders and their items. Every write goes
// through the lifecycle rules in pkg/orders and then a version-checked update.
type Service struct {
	orders  OrderRepo
	items   OrderItemRepo
	seq     Sequence
	intents payment.IntentProvider
	promos  payment.PromoCatalog
	window  time.Duration
	now     func() time.Time
	logger  apt.Logger
}

type ServiceDeps struct {
	Orders        OrderRepo
	Items         OrderItemRepo
	Sequence      Sequence
	Intents       payment.IntentProvider
	Promos        payment.PromoCatalog
	PaymentWindow time.Duration
	Now           func() time.Time
}

func NewService(deps ServiceDeps, logger apt.Logger) *Service {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	window := deps.PaymentWindow
	if window <= 0 {
		window = DefaultPaymentWindow
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		orders:  deps.Orders,
		items:   deps.Items,
		seq:     deps.Sequence,
		intents: deps.Intents,
		promos:  deps.Promos,
		window:  window,
		now:     now,
		logger:  logger.With("component", "order-service"),
	}
}

type CheckoutRequest struct {
	OrderType           string            `json:"order_type"`
	PaymentMethod       string            `json:"payment_method"`
	TableNumber         string            `json:"table_number,omitempty"`
	RoomNumber          string            `json:"room_number,omitempty"`
	GuestPhone          string            `json:"guest_phone,omitempty"`
	SpecialInstructions string            `json:"special_instructions,omitempty"`
	Discounts           []DiscountRequest `json:"discounts,omitempty"`
	Items               []CheckoutItem    `json:"items"`
}

// DiscountRequest is applied in order; a later discount replaces an earlier one.
type DiscountRequest struct {
	Kind string `json:"kind"`
	Code string `json:"code,omitempty"`
}

type CheckoutItem struct {
	ItemName            string          `json:"item_name"`
	Quantity            int             `json:"quantity"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	SpecialInstructions string          `json:"special_instructions,omitempty"`
	Addons              []orders.Addon  `json:"addons,omitempty"`
}

type QuoteRequest struct {
	Discounts []DiscountRequest `json:"discounts,omitempty"`
	Items     []CheckoutItem    `json:"items"`
}

type QuoteResult struct {
	payment.Breakdown
	DiscountKind string `json:"discount_kind"`
	PromoCode    string `json:"promo_code,omitempty"`
}

// Quote prices lines exactly as Checkout would, without storing anything.
func (s *Service) Quote(req QuoteRequest) (*QuoteResult, error) {
	lines := buildLines(uuid.Nil, req.Items)
	if errs := orders.ValidateLines(lines); errs.HasErrors() {
		return nil, errs
	}

	quote, errs := s.quoteFor(subtotalOf(lines), req.Discounts)
	if errs.HasErrors() {
		return nil, errs
	}

	b, err := quote.Breakdown()
	if err != nil {
		return nil, err
	}
	return &QuoteResult{Breakdown: b, DiscountKind: string(quote.Kind()), PromoCode: quote.PromoCode()}, nil
}

// Checkout validates, prices and stores a new order with its lines. Orders
// billed later skip the payment window and are released to the kitchen.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*orders.Order, error) {
	now := s.now()

	o := orders.NewOrder()
	o.CreatedAt, o.UpdatedAt = now, now
	o.OrderType = req.OrderType
	o.PaymentMethod = req.PaymentMethod
	o.TableNumber = strings.TrimSpace(req.TableNumber)
	o.RoomNumber = strings.TrimSpace(req.RoomNumber)
	o.GuestPhone = strings.TrimSpace(req.GuestPhone)
	o.SpecialInstructions = req.SpecialInstructions
	o.Items = buildLines(o.ID, req.Items)
	for _, it := range o.Items {
		it.CreatedAt, it.UpdatedAt = now, now
	}

	errs := orders.ValidateCheckout(o)
	quote, discountErrs := s.quoteFor(subtotalOf(o.Items), req.Discounts)
	errs = append(errs, discountErrs...)
	if errs.HasErrors() {
		return nil, errs
	}

	b, err := quote.Breakdown()
	if err != nil {
		return nil, err
	}
	o.Subtotal = b.Subtotal
	o.DiscountAmount = b.DiscountAmount
	o.TaxAmount = b.Tax
	o.ServiceCharge = b.ServiceCharge
	o.TotalAmount = b.Total
	if kind := quote.Kind(); kind != payment.DiscountNone {
		o.DiscountKind = string(kind)
		o.PromoCode = quote.PromoCode()
	}

	if !o.IsBillLater() {
		expires := now.Add(s.window)
		o.ExpiresAt = &expires
	}

	number, err := s.seq.Next(ctx, orderSequence)
	if err != nil {
		return nil, fmt.Errorf("cannot number order: %w", err)
	}
	o.OrderNumber = number

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, err
	}
	if err := s.items.CreateMany(ctx, o.Items); err != nil {
		if delErr := s.orders.SoftDelete(ctx, o.ID, now); delErr != nil {
			s.logger.Error("cannot roll back order header", "order_id", o.ID.String(), "error", delErr)
		}
		return nil, err
	}

	if o.IsBillLater() {
		if err := s.release(ctx, o, now); err != nil {
			return nil, err
		}
	}

	s.logger.Info("order placed", "order_id", o.ID.String(), "order_number", o.OrderNumber, "total", o.TotalAmount.StringFixed(2))
	return o, nil
}

func (s *Service) release(ctx context.Context, o *orders.Order, now time.Time) error {
	expected := o.Version
	if err := orders.Transition(o, expected, orderstatus.Statuses.Preparing.Code(), now); err != nil {
		return err
	}
	return s.orders.UpdateIfVersion(ctx, o, expected)
}

// Get returns a live order with its lines.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*orders.Order, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.IsDeleted() {
		return nil, orders.ErrNotFound
	}
	return o, nil
}

func (s *Service) List(ctx context.Context, q orders.Query) ([]*orders.Order, error) {
	list, err := s.orders.List(ctx, q)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(list))
	for _, o := range list {
		ids = append(ids, o.ID)
	}
	grouped, err := s.items.ListByOrders(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, o := range list {
		o.Items = grouped[o.ID]
	}
	return list, nil
}

func (s *Service) Transition(ctx context.Context, id uuid.UUID, version int64, to string) (*orders.Order, error) {
	return s.mutate(ctx, id, version, func(o *orders.Order, now time.Time) error {
		return orders.Transition(o, version, to, now)
	})
}

func (s *Service) TransitionPayment(ctx context.Context, id uuid.UUID, version int64, to string) (*orders.Order, error) {
	return s.mutate(ctx, id, version, func(o *orders.Order, now time.Time) error {
		return orders.TransitionPayment(o, version, to, now)
	})
}

// ConfirmCash settles an order in cash and returns the change due.
func (s *Service) ConfirmCash(ctx context.Context, id uuid.UUID, version int64, tendered decimal.Decimal) (*orders.Order, decimal.Decimal, error) {
	var change decimal.Decimal
	o, err := s.mutate(ctx, id, version, func(o *orders.Order, now time.Time) error {
		switch o.PaymentMethod {
		case paymentmethod.Methods.Cash.Code(), paymentmethod.Methods.BillLater.Code():
		default:
			return fmt.Errorf("%w: order is paid by %s", orders.ErrInvalidTransition, o.PaymentMethod)
		}

		var err error
		if change, err = payment.Change(tendered, o.TotalAmount); err != nil {
			return err
		}
		return orders.TransitionPayment(o, version, paymentstatus.Statuses.Paid.Code(), now)
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	return o, change, nil
}

// CreatePaymentIntent opens a provider checkout for a digital payment and
// marks the order as processing. The order only becomes paid when the
// provider confirms through TransitionPayment.
func (s *Service) CreatePaymentIntent(ctx context.Context, id uuid.UUID, version int64) (*orders.Order, *payment.Intent, error) {
	if s.intents == nil {
		return nil, nil, payment.ErrProviderUnavailable
	}

	o, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	method := paymentmethod.ByName(o.PaymentMethod)
	if method == nil || !method.Digital() {
		return nil, nil, fmt.Errorf("%w: order is paid by %s", orders.ErrInvalidTransition, o.PaymentMethod)
	}

	now := s.now()
	processing := paymentstatus.Statuses.Processing.Code()
	if err := orders.TransitionPayment(o.Clone(), version, processing, now); err != nil {
		return nil, nil, err
	}

	intent, err := s.intents.CreateIntent(ctx, payment.IntentRequest{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Method:      o.PaymentMethod,
		Amount:      o.TotalAmount,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := orders.TransitionPayment(o, version, processing, now); err != nil {
		return nil, nil, err
	}
	o.PaymentReference = intent.Reference
	if err := s.orders.UpdateIfVersion(ctx, o, version); err != nil {
		return nil, nil, err
	}
	return o, intent, nil
}

// TransitionItem advances one line and then lets the order follow its lines.
func (s *Service) TransitionItem(ctx context.Context, orderID, itemID uuid.UUID, version int64, to string) (*orders.Order, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	item, err := orders.TransitionItem(o, itemID, version, to, now)
	if err != nil {
		return nil, err
	}
	if err := s.items.UpdateIfVersion(ctx, item, version); err != nil {
		return nil, err
	}

	s.converge(ctx, o, now)
	return o, nil
}

// converge moves the order along while its lines allow it. Losing a race to
// another writer is fine; the order is reloaded and left as the winner wrote it.
func (s *Service) converge(ctx context.Context, o *orders.Order, now time.Time) {
	for {
		next, ok := orders.Converge(o)
		if !ok {
			return
		}

		expected := o.Version
		if err := orders.Transition(o, expected, next, now); err != nil {
			s.logger.Debug("order cannot follow its items", "order_id", o.ID.String(), "to", next, "error", err)
			return
		}
		if err := s.orders.UpdateIfVersion(ctx, o, expected); err != nil {
			s.logger.Info("order convergence lost a race", "order_id", o.ID.String(), "to", next, "error", err)
			if fresh, loadErr := s.load(ctx, o.ID); loadErr == nil {
				*o = *fresh
			}
			return
		}
	}
}

func (s *Service) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return s.orders.SoftDelete(ctx, id, s.now())
}

// Sweep cancels every unpaid order whose payment window has closed and
// returns how many it cancelled. Orders changed concurrently are skipped.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	candidates, err := s.orders.List(ctx, orders.Query{
		Statuses:        []string{orderstatus.Statuses.PendingPayment.Code()},
		PaymentStatuses: []string{paymentstatus.Statuses.Unpaid.Code()},
		ExpiresBefore:   &now,
	})
	if err != nil {
		return 0, fmt.Errorf("cannot list expirable orders: %w", err)
	}

	expired := 0
	for _, o := range candidates {
		expected := o.Version
		if !orders.Expire(o, now) {
			continue
		}
		if err := s.orders.UpdateIfVersion(ctx, o, expected); err != nil {
			if errors.Is(err, orders.ErrStaleWrite) || errors.Is(err, orders.ErrNotFound) || errors.Is(err, orders.ErrDeleted) {
				s.logger.Debug("skipping order changed during sweep", "order_id", o.ID.String(), "error", err)
				continue
			}
			return expired, fmt.Errorf("cannot expire order %s: %w", o.ID, err)
		}
		expired++
	}

	if expired > 0 {
		s.logger.Info("expired unpaid orders", "count", expired)
	}
	return expired, nil
}

func (s *Service) mutate(ctx context.Context, id uuid.UUID, expected int64, apply func(o *orders.Order, now time.Time) error) (*orders.Order, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := apply(o, s.now()); err != nil {
		return nil, err
	}
	if err := s.orders.UpdateIfVersion(ctx, o, expected); err != nil {
		return nil, err
	}
	return o, nil
}

// load fetches the header and lines concurrently. Deleted orders are returned
// so the lifecycle rules can reject writes to them.
func (s *Service) load(ctx context.Context, id uuid.UUID) (*orders.Order, error) {
	var (
		o     *orders.Order
		items []*orders.OrderItem
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		o, err = s.orders.Get(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = s.items.ListByOrder(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("cannot load order: %w", err)
	}

	if o == nil {
		return nil, orders.ErrNotFound
	}
	o.Items = items
	return o, nil
}

func (s *Service) quoteFor(subtotal decimal.Decimal, discounts []DiscountRequest) (*payment.Quote, apt.ValidationErrors) {
	var errs apt.ValidationErrors
	q := payment.NewQuote(subtotal)

	for i, d := range discounts {
		field := fmt.Sprintf("discounts[%d]", i)
		switch payment.DiscountKind(strings.ToLower(strings.TrimSpace(d.Kind))) {
		case payment.DiscountNone:
			q.ClearDiscount()
		case payment.DiscountSenior:
			q.ApplySenior()
		case payment.DiscountPWD:
			q.ApplyPWD()
		case payment.DiscountPromo:
			promo, ok := s.promos.Lookup(d.Code)
			if !ok {
				errs = append(errs, apt.ValidationError{Field: field + ".code", Code: "unknown", Message: fmt.Sprintf("unknown promo code %q", d.Code)})
				continue
			}
			q.ApplyPromo(promo)
		default:
			errs = append(errs, apt.ValidationError{Field: field + ".kind", Code: "invalid", Message: "discount kind must be senior, pwd, promo or none"})
		}
	}

	return q, errs
}

func buildLines(orderID uuid.UUID, reqs []CheckoutItem) []*orders.OrderItem {
	lines := make([]*orders.OrderItem, 0, len(reqs))
	for _, r := range reqs {
		it := orders.NewOrderItem(orderID, strings.TrimSpace(r.ItemName), r.Quantity, r.UnitPrice, r.Addons...)
		it.SpecialInstructions = r.SpecialInstructions
		lines = append(lines, it)
	}
	return lines
}

func subtotalOf(lines []*orders.OrderItem) decimal.Decimal {
	subtotal := decimal.Zero
	for _, it := range lines {
		subtotal = subtotal.Add(it.TotalPrice)
	}
	return subtotal
}
