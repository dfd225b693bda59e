package paymentstatus

import (
	"strings"
)

type Status struct {
	Name string
}

func (s Status) Code() string {
	return s.Name
}

func (s Status) Label() string {
	if s.Name == "" {
		return ""
	}
	return strings.ToUpper(s.Name[:1]) + s.Name[1:]
}

type Enum struct {
	Unpaid     Status
	Processing Status
	Paid       Status
	Refunded   Status
	Expired    Status
}

var Statuses = Enum{
	Unpaid:     Status{Name: "unpaid"},
	Processing: Status{Name: "processing"},
	Paid:       Status{Name: "paid"},
	Refunded:   Status{Name: "refunded"},
	Expired:    Status{Name: "expired"},
}

var All = []Status{
	Statuses.Unpaid,
	Statuses.Processing,
	Statuses.Paid,
	Statuses.Refunded,
	Statuses.Expired,
}

// ByName returns the payment status for a given name, or nil if not found
func ByName(name string) *Status {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}
