package orders

import (
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/orderflow/pkg/enums/itemstatus"
	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"github.com/appetiteclub/orderflow/pkg/enums/paymentmethod"
	"github.com/appetiteclub/orderflow/pkg/enums/paymentstatus"
)

const MaxInstructionsLength = 500

type Order struct {
	ID                  uuid.UUID       `json:"id" bson:"_id"`
	OrderNumber         int64           `json:"order_number" bson:"order_number"`
	OrderType           string          `json:"order_type" bson:"order_type"`
	Status              string          `json:"status" bson:"status"`
	PaymentStatus       string          `json:"payment_status" bson:"payment_status"`
	PaymentMethod       string          `json:"payment_method" bson:"payment_method"`
	PaymentReference    string          `json:"payment_reference,omitempty" bson:"payment_reference,omitempty"`
	Subtotal            decimal.Decimal `json:"subtotal" bson:"subtotal"`
	DiscountKind        string          `json:"discount_kind,omitempty" bson:"discount_kind,omitempty"`
	PromoCode           string          `json:"promo_code,omitempty" bson:"promo_code,omitempty"`
	DiscountAmount      decimal.Decimal `json:"discount_amount" bson:"discount_amount"`
	TaxAmount           decimal.Decimal `json:"tax_amount" bson:"tax_amount"`
	ServiceCharge       decimal.Decimal `json:"service_charge" bson:"service_charge"`
	TotalAmount         decimal.Decimal `json:"total_amount" bson:"total_amount"`
	TableNumber         string          `json:"table_number,omitempty" bson:"table_number,omitempty"`
	RoomNumber          string          `json:"room_number,omitempty" bson:"room_number,omitempty"`
	GuestPhone          string          `json:"guest_phone,omitempty" bson:"guest_phone,omitempty"`
	SpecialInstructions string          `json:"special_instructions,omitempty" bson:"special_instructions,omitempty"`
	ExpiresAt           *time.Time      `json:"expires_at,omitempty" bson:"expires_at"`
	Version             int64           `json:"version" bson:"version"`
	CreatedAt           time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at" bson:"updated_at"`
	PaidAt              *time.Time      `json:"paid_at,omitempty" bson:"paid_at,omitempty"`
	ReadyAt             *time.Time      `json:"ready_at,omitempty" bson:"ready_at,omitempty"`
	ServedAt            *time.Time      `json:"served_at,omitempty" bson:"served_at,omitempty"`
	CancelledAt         *time.Time      `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`
	DeletedAt           *time.Time      `json:"deleted_at,omitempty" bson:"deleted_at"`

	Items []*OrderItem `json:"items,omitempty" bson:"-"`
}

// NewOrder returns an order in its checkout state.
func NewOrder() *Order {
	o := &Order{
		ID:            apt.GenerateNewID(),
		Status:        orderstatus.Statuses.PendingPayment.Code(),
		PaymentStatus: paymentstatus.Statuses.Unpaid.Code(),
	}
	o.BeforeCreate()
	return o
}

func (o *Order) GetID() uuid.UUID {
	return o.ID
}

func (o *Order) ResourceType() string {
	return "order"
}

func (o *Order) SetID(id uuid.UUID) {
	o.ID = id
}

func (o *Order) EnsureID() {
	if o.ID == uuid.Nil {
		o.ID = apt.GenerateNewID()
	}
}

func (o *Order) BeforeCreate() {
	o.EnsureID()
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
}

func (o *Order) BeforeUpdate() {
	o.UpdatedAt = time.Now().UTC()
}

func (o *Order) IsDeleted() bool {
	return o.DeletedAt != nil
}

func (o *Order) IsBillLater() bool {
	return o.PaymentMethod == paymentmethod.Methods.BillLater.Code()
}

// Revision grows with every accepted write to the order or any of its items.
func (o *Order) Revision() int64 {
	rev := o.Version
	for _, it := range o.Items {
		if it != nil {
			rev += it.Version
		}
	}
	return rev
}

// ActiveItems skips soft-deleted lines.
func (o *Order) ActiveItems() []*OrderItem {
	items := make([]*OrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		if it != nil && it.DeletedAt == nil {
			items = append(items, it)
		}
	}
	return items
}

// FullyServed is true when the order has items and every one is served.
func (o *Order) FullyServed() bool {
	items := o.ActiveItems()
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if it.Status != itemstatus.Statuses.Served.Code() {
			return false
		}
	}
	return true
}

// Item returns the line with the given id.
func (o *Order) Item(id uuid.UUID) *OrderItem {
	for _, it := range o.Items {
		if it != nil && it.ID == id {
			return it
		}
	}
	return nil
}

// Clone deep-copies the order and its items.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.ExpiresAt = cloneTime(o.ExpiresAt)
	c.PaidAt = cloneTime(o.PaidAt)
	c.ReadyAt = cloneTime(o.ReadyAt)
	c.ServedAt = cloneTime(o.ServedAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	c.DeletedAt = cloneTime(o.DeletedAt)
	if o.Items != nil {
		c.Items = make([]*OrderItem, len(o.Items))
		for i, it := range o.Items {
			c.Items[i] = it.Clone()
		}
	}
	return &c
}

// ItemCounts are the per-order counters shown on floor stations.
type ItemCounts struct {
	Ready     int `json:"ready_count"`
	Preparing int `json:"preparing_count"`
	Served    int `json:"served_count"`
	Total     int `json:"total_count"`
}

func CountItems(o *Order) ItemCounts {
	var c ItemCounts
	if o == nil {
		return c
	}
	for _, it := range o.ActiveItems() {
		c.Total++
		switch it.Status {
		case itemstatus.Statuses.Ready.Code():
			c.Ready++
		case itemstatus.Statuses.Preparing.Code():
			c.Preparing++
		case itemstatus.Statuses.Served.Code():
			c.Served++
		}
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
