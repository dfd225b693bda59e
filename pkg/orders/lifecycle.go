package orders

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/appetiteclub/orderflow/pkg/enums/itemstatus"
	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"github.com/appetiteclub/orderflow/pkg/enums/paymentstatus"
)

var (
	st = orderstatus.Statuses
	ps = paymentstatus.Statuses
	is = itemstatus.Statuses
)

var orderTransitions = map[string][]string{
	st.PendingPayment.Code(): {st.Paid.Code(), st.Preparing.Code(), st.Cancelled.Code()},
	st.Paid.Code():           {st.Preparing.Code(), st.Cancelled.Code()},
	st.Preparing.Code():      {st.Ready.Code(), st.Cancelled.Code()},
	st.Ready.Code():          {st.Served.Code(), st.Cancelled.Code()},
}

var paymentTransitions = map[string][]string{
	ps.Unpaid.Code():     {ps.Processing.Code(), ps.Paid.Code()},
	ps.Processing.Code(): {ps.Paid.Code(), ps.Unpaid.Code()},
	ps.Paid.Code():       {ps.Refunded.Code()},
}

// CanTransition reports whether the order may move to the given status,
// ignoring the version check.
func CanTransition(o *Order, to string) bool {
	if o == nil || o.IsDeleted() {
		return false
	}
	if !contains(orderTransitions[o.Status], to) {
		return false
	}
	switch to {
	case st.Preparing.Code():
		// Food before payment only for bill-later orders.
		if o.Status == st.PendingPayment.Code() {
			return o.IsBillLater()
		}
	case st.Paid.Code():
		return o.PaymentStatus == ps.Paid.Code()
	}
	return true
}

// Transition applies a status change if expectedVersion is current.
func Transition(o *Order, expectedVersion int64, to string, now time.Time) error {
	if err := checkWritable(o, expectedVersion); err != nil {
		return err
	}
	if s := orderstatus.ByName(o.Status); s != nil && s.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalState, o.Status)
	}
	if orderstatus.ByName(to) == nil || !CanTransition(o, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}

	o.Status = to
	switch to {
	case st.Paid.Code():
		if o.PaidAt == nil {
			o.PaidAt = &now
		}
	case st.Ready.Code():
		o.ReadyAt = &now
	case st.Served.Code():
		o.ServedAt = &now
	case st.Cancelled.Code():
		o.CancelledAt = &now
	}
	bump(o, now)
	return nil
}

// TransitionPayment applies a payment status change. Confirming payment of a
// pending order also moves the order to paid in the same write.
func TransitionPayment(o *Order, expectedVersion int64, to string, now time.Time) error {
	if err := checkWritable(o, expectedVersion); err != nil {
		return err
	}
	if o.Status == st.Cancelled.Code() {
		return fmt.Errorf("%w: %s", ErrTerminalState, o.Status)
	}
	if to == ps.Expired.Code() || paymentstatus.ByName(to) == nil || !contains(paymentTransitions[o.PaymentStatus], to) {
		return fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, o.PaymentStatus, to)
	}

	o.PaymentStatus = to
	if to == ps.Paid.Code() {
		o.PaidAt = &now
		o.ExpiresAt = nil
		if o.Status == st.PendingPayment.Code() {
			o.Status = st.Paid.Code()
		}
	}
	bump(o, now)
	return nil
}

// Expire cancels an unpaid order whose payment window has closed. It returns
// false without touching the order when it is not eligible.
func Expire(o *Order, now time.Time) bool {
	if !Expirable(o, now) {
		return false
	}
	o.Status = st.Cancelled.Code()
	o.PaymentStatus = ps.Expired.Code()
	o.CancelledAt = &now
	bump(o, now)
	return true
}

func Expirable(o *Order, now time.Time) bool {
	return o != nil &&
		!o.IsDeleted() &&
		o.Status == st.PendingPayment.Code() &&
		o.PaymentStatus == ps.Unpaid.Code() &&
		o.ExpiresAt != nil &&
		!o.ExpiresAt.After(now)
}

// TransitionItem moves one line forward. Lines only advance once the kitchen
// may work on the order.
func TransitionItem(o *Order, itemID uuid.UUID, expectedVersion int64, to string, now time.Time) (*OrderItem, error) {
	if o == nil {
		return nil, ErrNotFound
	}
	if o.IsDeleted() {
		return nil, ErrDeleted
	}
	item := o.Item(itemID)
	if item == nil || item.DeletedAt != nil {
		return nil, ErrItemNotFound
	}
	if item.Version != expectedVersion {
		return nil, fmt.Errorf("%w: item at version %d, got %d", ErrStaleWrite, item.Version, expectedVersion)
	}

	from := itemstatus.ByName(item.Status)
	target := itemstatus.ByName(to)
	if from == nil || target == nil {
		return nil, fmt.Errorf("%w: item %s -> %s", ErrInvalidTransition, item.Status, to)
	}
	if *from == is.Served {
		return nil, fmt.Errorf("%w: item served", ErrTerminalState)
	}
	if target.Rank() <= from.Rank() {
		return nil, fmt.Errorf("%w: item %s -> %s", ErrInvalidTransition, item.Status, to)
	}
	if !itemsWorkable(o) {
		return nil, fmt.Errorf("%w: order is %s", ErrItemGated, o.Status)
	}

	item.Status = to
	switch to {
	case is.Preparing.Code():
		item.PreparingAt = &now
	case is.Ready.Code():
		item.ReadyAt = &now
	case is.Served.Code():
		item.ServedAt = &now
	}
	item.Version++
	item.UpdatedAt = now
	return item, nil
}

// Converge returns the status the order should move to given its items.
func Converge(o *Order) (string, bool) {
	if o == nil || o.IsDeleted() {
		return "", false
	}
	items := o.ActiveItems()
	if len(items) == 0 {
		return "", false
	}

	minRank, maxRank := len(itemstatus.All), -1
	for _, it := range items {
		s := itemstatus.ByName(it.Status)
		if s == nil {
			return "", false
		}
		r := s.Rank()
		if r < minRank {
			minRank = r
		}
		if r > maxRank {
			maxRank = r
		}
	}

	switch o.Status {
	case st.Paid.Code():
		if maxRank >= is.Preparing.Rank() {
			return st.Preparing.Code(), true
		}
	case st.Preparing.Code():
		if minRank >= is.Ready.Rank() {
			return st.Ready.Code(), true
		}
	case st.Ready.Code():
		if minRank >= is.Served.Rank() {
			return st.Served.Code(), true
		}
	}
	return "", false
}

func itemsWorkable(o *Order) bool {
	switch o.Status {
	case st.Paid.Code(), st.Preparing.Code(), st.Ready.Code():
		return true
	}
	return false
}

func checkWritable(o *Order, expectedVersion int64) error {
	if o == nil {
		return ErrNotFound
	}
	if o.IsDeleted() {
		return ErrDeleted
	}
	if o.Version != expectedVersion {
		return fmt.Errorf("%w: order at version %d, got %d", ErrStaleWrite, o.Version, expectedVersion)
	}
	return nil
}

func bump(o *Order, now time.Time) {
	o.Version++
	o.UpdatedAt = now
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
