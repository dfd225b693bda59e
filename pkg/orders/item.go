package orders

import (
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/orderflow/pkg/enums/itemstatus"
)

type OrderItem struct {
	ID                  uuid.UUID       `json:"id" bson:"_id"`
	OrderID             uuid.UUID       `json:"order_id" bson:"order_id"`
	ItemName            string          `json:"item_name" bson:"item_name"`
	Quantity            int             `json:"quantity" bson:"quantity"`
	UnitPrice           decimal.Decimal `json:"unit_price" bson:"unit_price"`
	TotalPrice          decimal.Decimal `json:"total_price" bson:"total_price"`
	SpecialInstructions string          `json:"special_instructions,omitempty" bson:"special_instructions,omitempty"`
	Status              string          `json:"status" bson:"status"`
	Version             int64           `json:"version" bson:"version"`
	Addons              []Addon         `json:"addons,omitempty" bson:"addons,omitempty"`
	CreatedAt           time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at" bson:"updated_at"`
	PreparingAt         *time.Time      `json:"preparing_at,omitempty" bson:"preparing_at,omitempty"`
	ReadyAt             *time.Time      `json:"ready_at,omitempty" bson:"ready_at,omitempty"`
	ServedAt            *time.Time      `json:"served_at,omitempty" bson:"served_at,omitempty"`
	DeletedAt           *time.Time      `json:"deleted_at,omitempty" bson:"deleted_at"`
}

// Addon is a priced snapshot taken when the order is placed.
type Addon struct {
	Name            string          `json:"name" bson:"name"`
	AdditionalPrice decimal.Decimal `json:"additional_price" bson:"additional_price"`
}

func NewOrderItem(orderID uuid.UUID, name string, quantity int, unitPrice decimal.Decimal, addons ...Addon) *OrderItem {
	item := &OrderItem{
		ID:        apt.GenerateNewID(),
		OrderID:   orderID,
		ItemName:  name,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Status:    itemstatus.Statuses.Pending.Code(),
		Addons:    append([]Addon(nil), addons...),
	}
	item.TotalPrice = item.ComputeTotal()
	item.BeforeCreate()
	return item
}

func (i *OrderItem) GetID() uuid.UUID {
	return i.ID
}

func (i *OrderItem) ResourceType() string {
	return "order-item"
}

func (i *OrderItem) BeforeCreate() {
	if i.ID == uuid.Nil {
		i.ID = apt.GenerateNewID()
	}
	now := time.Now().UTC()
	i.CreatedAt = now
	i.UpdatedAt = now
}

// ComputeTotal is unit price times quantity plus the addon prices.
func (i *OrderItem) ComputeTotal() decimal.Decimal {
	total := i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
	for _, a := range i.Addons {
		total = total.Add(a.AdditionalPrice)
	}
	return total.Round(2)
}

func (i *OrderItem) Clone() *OrderItem {
	if i == nil {
		return nil
	}
	c := *i
	c.PreparingAt = cloneTime(i.PreparingAt)
	c.ReadyAt = cloneTime(i.ReadyAt)
	c.ServedAt = cloneTime(i.ServedAt)
	c.DeletedAt = cloneTime(i.DeletedAt)
	if i.Addons != nil {
		c.Addons = append([]Addon(nil), i.Addons...)
	}
	return &c
}
