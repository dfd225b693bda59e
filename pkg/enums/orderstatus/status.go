package orderstatus

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
	parts := strings.Split(s.Name, "_")
	for i := range parts {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, " ")
}

// Terminal reports whether no further status writes are legal.
func (s Status) Terminal() bool {
	return s.Name == Statuses.Served.Name || s.Name == Statuses.Cancelled.Name
}

type Enum struct {
	PendingPayment Status
	Paid           Status
	Preparing      Status
	Ready          Status
	Served         Status
	Cancelled      Status
}

var Statuses = Enum{
	PendingPayment: Status{Name: "pending_payment"},
	Paid:           Status{Name: "paid"},
	Preparing:      Status{Name: "preparing"},
	Ready:          Status{Name: "ready"},
	Served:         Status{Name: "served"},
	Cancelled:      Status{Name: "cancelled"},
}

var All = []Status{
	Statuses.PendingPayment,
	Statuses.Paid,
	Statuses.Preparing,
	Statuses.Ready,
	Statuses.Served,
	Statuses.Cancelled,
}

// ByName returns the status for a given name, or nil if not found
func ByName(name string) *Status {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}
