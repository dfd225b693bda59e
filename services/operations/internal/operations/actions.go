package operations

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/orderflow/pkg/enums/paymentmethod"
	"github.com/appetiteclub/orderflow/pkg/enums/paymentstatus"
	"github.com/appetiteclub/orderflow/pkg/orders"
	"github.com/appetiteclub/orderflow/pkg/payment"
)

type ActionRequest struct {
	Status string `json:"status"`
}

type CashRequest struct {
	AmountTendered decimal.Decimal `json:"amount_tendered"`
}

type CashResponse struct {
	Order  *orders.Order   `json:"order"`
	Change decimal.Decimal `json:"change"`
}

type IntentResponse struct {
	Order  *orders.Order   `json:"order"`
	Intent *payment.Intent `json:"intent"`
}

// action is one operator write. mutate applies it to a local copy of the
// order and must fail exactly when the order service would refuse it; write
// sends it with the version the station holds.
type action struct {
	name   string
	mutate func(o *orders.Order, now time.Time) error
	write  func(ctx context.Context, held *orders.Order) (any, error)
}

// perform checks the action against the held row, shows its outcome right
// away and then writes it. Once the write is answered, landed or not, a
// background resync replaces the guess with the stored state.
func (h *Handler) perform(w http.ResponseWriter, r *http.Request, act action) {
	log := h.log(r)

	st, session, ok := h.station(w, r)
	if !ok {
		return
	}
	id, ok := h.parseIDParam(w, r, log, "id")
	if !ok {
		return
	}

	row, ok := st.Collection.Row(id)
	if !ok {
		apt.Error(w, http.StatusNotFound, "not_found", "order is not in this view")
		return
	}

	now := h.now()
	if err := act.mutate(row.Order.Clone(), now); err != nil {
		h.audit.LogAction(r.Context(), session, st.Role, act.name, id.String(), err)
		h.respondWriteError(w, log, err)
		return
	}
	st.Collection.ApplyOptimistic(id, func(o *orders.Order) {
		_ = act.mutate(o, now)
	})

	result, err := act.write(r.Context(), row.Order)
	st.Collection.Reconcile()
	h.audit.LogAction(r.Context(), session, st.Role, act.name, id.String(), err)
	if err != nil {
		h.respondWriteError(w, log, err)
		return
	}
	apt.RespondSuccess(w, result)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UpdateStatus")
	defer finish()

	var req ActionRequest
	if !h.decode(w, r, h.log(r), &req) {
		return
	}

	h.perform(w, r, action{
		name: "order.status",
		mutate: func(o *orders.Order, now time.Time) error {
			return orders.Transition(o, o.Version, req.Status, now)
		},
		write: func(ctx context.Context, held *orders.Order) (any, error) {
			return h.writer.Transition(ctx, held.ID, held.Version, req.Status)
		},
	})
}

func (h *Handler) UpdateItemStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UpdateItemStatus")
	defer finish()

	log := h.log(r)

	itemID, ok := h.parseIDParam(w, r, log, "itemID")
	if !ok {
		return
	}
	var req ActionRequest
	if !h.decode(w, r, log, &req) {
		return
	}

	h.perform(w, r, action{
		name: "item.status",
		mutate: func(o *orders.Order, now time.Time) error {
			item := o.Item(itemID)
			if item == nil {
				return orders.ErrItemNotFound
			}
			if _, err := orders.TransitionItem(o, itemID, item.Version, req.Status, now); err != nil {
				return err
			}
			if to, ok := orders.Converge(o); ok {
				_ = orders.Transition(o, o.Version, to, now)
			}
			return nil
		},
		write: func(ctx context.Context, held *orders.Order) (any, error) {
			item := held.Item(itemID)
			if item == nil {
				return nil, orders.ErrItemNotFound
			}
			return h.writer.TransitionItem(ctx, held.ID, itemID, item.Version, req.Status)
		},
	})
}

func (h *Handler) ConfirmCash(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ConfirmCash")
	defer finish()

	var req CashRequest
	if !h.decode(w, r, h.log(r), &req) {
		return
	}

	h.perform(w, r, action{
		name: "order.cash_payment",
		mutate: func(o *orders.Order, now time.Time) error {
			switch o.PaymentMethod {
			case paymentmethod.Methods.Cash.Code(), paymentmethod.Methods.BillLater.Code():
			default:
				return fmt.Errorf("%w: order is paid by %s", orders.ErrInvalidTransition, o.PaymentMethod)
			}
			if _, err := payment.Change(req.AmountTendered, o.TotalAmount); err != nil {
				return err
			}
			return orders.TransitionPayment(o, o.Version, paymentstatus.Statuses.Paid.Code(), now)
		},
		write: func(ctx context.Context, held *orders.Order) (any, error) {
			o, change, err := h.writer.ConfirmCash(ctx, held.ID, held.Version, req.AmountTendered)
			if err != nil {
				return nil, err
			}
			return CashResponse{Order: o, Change: change}, nil
		},
	})
}

func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CreatePaymentIntent")
	defer finish()

	h.perform(w, r, action{
		name: "order.payment_intent",
		mutate: func(o *orders.Order, now time.Time) error {
			method := paymentmethod.ByName(o.PaymentMethod)
			if method == nil || !method.Digital() {
				return fmt.Errorf("%w: order is paid by %s", orders.ErrInvalidTransition, o.PaymentMethod)
			}
			return orders.TransitionPayment(o, o.Version, paymentstatus.Statuses.Processing.Code(), now)
		},
		write: func(ctx context.Context, held *orders.Order) (any, error) {
			o, intent, err := h.writer.CreatePaymentIntent(ctx, held.ID, held.Version)
			if err != nil {
				return nil, err
			}
			return IntentResponse{Order: o, Intent: intent}, nil
		},
	})
}
