package paymentmethod

import (
	"strings"
)

type Method struct {
	Name string
}

func (m Method) Code() string {
	return m.Name
}

func (m Method) Label() string {
	switch m.Name {
	case "gcash":
		return "GCash"
	}
	parts := strings.Split(m.Name, "_")
	for i := range parts {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, " ")
}

// Digital reports whether settlement goes through an external provider.
func (m Method) Digital() bool {
	return m.Name == Methods.GCash.Name || m.Name == Methods.Card.Name
}

type Enum struct {
	Cash      Method
	GCash     Method
	Card      Method
	BillLater Method
}

var Methods = Enum{
	Cash:      Method{Name: "cash"},
	GCash:     Method{Name: "gcash"},
	Card:      Method{Name: "card"},
	BillLater: Method{Name: "bill_later"},
}

var All = []Method{
	Methods.Cash,
	Methods.GCash,
	Methods.Card,
	Methods.BillLater,
}

// ByName returns the payment method for a given name, or nil if not found
func ByName(name string) *Method {
	for _, m := range All {
		if m.Name == name {
			return &m
		}
	}
	return nil
}
