package reconcile

import (
	"fmt"
	"time"

	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"github.com/appetiteclub/orderflow/pkg/enums/paymentmethod"
	"github.com/appetiteclub/orderflow/pkg/enums/paymentstatus"
	"github.com/appetiteclub/orderflow/pkg/event"
	"github.com/appetiteclub/orderflow/pkg/orders"
	"github.com/appetiteclub/orderflow/services/operations/internal/realtime"
)

const (
	RoleKitchen        = "kitchen"
	RoleWaiter         = "waiter"
	RoleCashierPending = "cashier"
	RoleCashierBills   = "cashier_bills"

	// SessionCashier is the operator role behind both cashier views.
	SessionCashier = "cashier"
)

var st = orderstatus.Statuses

// Watch is a counter over the rows of a view. An increase raises a notice.
type Watch struct {
	Kind    string
	Message string
	Count   func(rows []*Row) int
}

// View scopes a Collection to one operator role.
type View struct {
	Role        string
	SessionRole string
	Channels    []string
	// Query selects the rows; its Matches is the view predicate.
	Query   func(shiftStart time.Time) orders.Query
	Less    func(a, b *Row) bool
	Watches []Watch
}

// ViewFor returns the view for role. recent adds the orders served since the
// start of the shift to the kitchen and waiter views.
func ViewFor(role string, recent bool) (View, error) {
	switch role {
	case RoleKitchen:
		return KitchenView(recent), nil
	case RoleWaiter:
		return WaiterView(recent), nil
	case RoleCashierPending:
		return CashierPendingView(), nil
	case RoleCashierBills:
		return UnpaidBillsView(), nil
	default:
		return View{}, fmt.Errorf("unknown station role %q", role)
	}
}

func KitchenView(recent bool) View {
	return View{
		Role:        RoleKitchen,
		SessionRole: RoleKitchen,
		Channels:    []string{event.ChannelOrders, event.ChannelOrderItems},
		Query: func(shiftStart time.Time) orders.Query {
			return activeQuery(recent, shiftStart,
				st.Paid.Code(), st.Preparing.Code(), st.Ready.Code())
		},
		Less: byCreatedAt,
		Watches: []Watch{{
			Kind:    realtime.NoticeNewOrder,
			Message: "New paid order for the kitchen",
			Count: func(rows []*Row) int {
				n := 0
				for _, r := range rows {
					if r.Order.Status == st.Paid.Code() {
						n++
					}
				}
				return n
			},
		}},
	}
}

func WaiterView(recent bool) View {
	return View{
		Role:        RoleWaiter,
		SessionRole: RoleWaiter,
		Channels:    []string{event.ChannelOrders, event.ChannelOrderItems},
		Query: func(shiftStart time.Time) orders.Query {
			return activeQuery(recent, shiftStart, st.Preparing.Code(), st.Ready.Code())
		},
		Less: func(a, b *Row) bool {
			aReady, bReady := a.Order.Status == st.Ready.Code(), b.Order.Status == st.Ready.Code()
			if aReady != bReady {
				return aReady
			}
			return byCreatedAt(a, b)
		},
		Watches: []Watch{{
			Kind:    realtime.NoticeItemReady,
			Message: "Items ready to serve",
			Count: func(rows []*Row) int {
				n := 0
				for _, r := range rows {
					n += r.Counts.Ready
				}
				return n
			},
		}},
	}
}

func CashierPendingView() View {
	return View{
		Role:        RoleCashierPending,
		SessionRole: SessionCashier,
		Channels:    []string{event.ChannelOrders},
		Query: func(time.Time) orders.Query {
			return orders.Query{
				Statuses:        []string{st.PendingPayment.Code()},
				PaymentStatuses: []string{paymentstatus.Statuses.Unpaid.Code()},
			}
		},
		Less: func(a, b *Row) bool {
			ae, be := a.Order.ExpiresAt, b.Order.ExpiresAt
			switch {
			case ae != nil && be != nil && !ae.Equal(*be):
				return ae.Before(*be)
			case ae != nil && be == nil:
				return true
			case ae == nil && be != nil:
				return false
			}
			return byCreatedAt(a, b)
		},
		Watches: []Watch{{
			Kind:    realtime.NoticeNewOrder,
			Message: "New order waiting for payment",
			Count:   rowCount,
		}},
	}
}

func UnpaidBillsView() View {
	return View{
		Role:        RoleCashierBills,
		SessionRole: SessionCashier,
		Channels:    []string{event.ChannelOrders},
		Query: func(time.Time) orders.Query {
			return orders.Query{
				Statuses:        []string{st.Preparing.Code(), st.Ready.Code(), st.Served.Code()},
				PaymentStatuses: []string{paymentstatus.Statuses.Unpaid.Code()},
				PaymentMethods:  []string{paymentmethod.Methods.BillLater.Code()},
			}
		},
		Less: byCreatedAt,
		Watches: []Watch{{
			Kind:    realtime.NoticeUnpaidBill,
			Message: "Bill waiting to be settled",
			Count:   rowCount,
		}},
	}
}

func activeQuery(recent bool, shiftStart time.Time, statuses ...string) orders.Query {
	q := orders.Query{Statuses: statuses}
	if recent {
		since := shiftStart
		q.ServedSince = &since
	}
	return q
}

func byCreatedAt(a, b *Row) bool {
	if !a.Order.CreatedAt.Equal(b.Order.CreatedAt) {
		return a.Order.CreatedAt.Before(b.Order.CreatedAt)
	}
	return a.Order.OrderNumber < b.Order.OrderNumber
}

func rowCount(rows []*Row) int {
	return len(rows)
}
