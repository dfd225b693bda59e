package orders

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/appetiteclub/apt"

	"github.com/appetiteclub/orderflow/pkg/enums/ordertype"
	"github.com/appetiteclub/orderflow/pkg/enums/paymentmethod"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// ValidateCheckout checks a new order and its lines before anything is priced
// or stored.
func ValidateCheckout(o *Order) apt.ValidationErrors {
	var errs apt.ValidationErrors
	add := func(field, code, msg string) {
		errs = append(errs, apt.ValidationError{Field: field, Code: code, Message: msg})
	}

	if o == nil {
		add("order", "required", "order is required")
		return errs
	}

	if ordertype.ByName(o.OrderType) == nil {
		add("order_type", "invalid", "order type must be dine_in, room_service or takeout")
	}

	switch o.OrderType {
	case ordertype.Types.DineIn.Code():
		if o.TableNumber == "" {
			add("table_number", "required", "dine-in orders need a table number")
		}
		if o.RoomNumber != "" {
			add("room_number", "not_allowed", "dine-in orders cannot carry a room number")
		}
	case ordertype.Types.RoomService.Code():
		if o.RoomNumber == "" {
			add("room_number", "required", "room service orders need a room number")
		}
		if o.TableNumber != "" {
			add("table_number", "not_allowed", "room service orders cannot carry a table number")
		}
	case ordertype.Types.Takeout.Code():
		if o.TableNumber != "" || o.RoomNumber != "" {
			add("location", "not_allowed", "takeout orders have no table or room")
		}
	}

	if paymentmethod.ByName(o.PaymentMethod) == nil {
		add("payment_method", "invalid", "payment method must be cash, gcash, card or bill_later")
	}
	if o.GuestPhone != "" && !phonePattern.MatchString(o.GuestPhone) {
		add("guest_phone", "invalid", "guest phone must be 7 to 15 digits")
	}
	if utf8.RuneCountInString(o.SpecialInstructions) > MaxInstructionsLength {
		add("special_instructions", "too_long", fmt.Sprintf("special instructions exceed %d characters", MaxInstructionsLength))
	}

	errs = append(errs, ValidateLines(o.Items)...)

	return errs
}

// ValidateLines checks order lines on their own, as a price quote does.
func ValidateLines(items []*OrderItem) apt.ValidationErrors {
	var errs apt.ValidationErrors
	add := func(field, code, msg string) {
		errs = append(errs, apt.ValidationError{Field: field, Code: code, Message: msg})
	}

	if len(items) == 0 {
		add("items", "required", "at least one item is required")
	}
	for i, it := range items {
		prefix := fmt.Sprintf("items[%d]", i)
		if it == nil {
			add(prefix, "required", "item is required")
			continue
		}
		if it.ItemName == "" {
			add(prefix+".item_name", "required", "item name is required")
		}
		if it.Quantity < 1 {
			add(prefix+".quantity", "min", "quantity must be at least 1")
		}
		if it.UnitPrice.IsNegative() {
			add(prefix+".unit_price", "min", "unit price cannot be negative")
		}
		if utf8.RuneCountInString(it.SpecialInstructions) > MaxInstructionsLength {
			add(prefix+".special_instructions", "too_long", fmt.Sprintf("special instructions exceed %d characters", MaxInstructionsLength))
		}
		for j, a := range it.Addons {
			if a.Name == "" {
				add(fmt.Sprintf("%s.addons[%d].name", prefix, j), "required", "addon name is required")
			}
			if a.AdditionalPrice.IsNegative() {
				add(fmt.Sprintf("%s.addons[%d].additional_price", prefix, j), "min", "addon price cannot be negative")
			}
		}
	}

	return errs
}
