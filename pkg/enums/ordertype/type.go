package ordertype

import (
	"strings"
)

type Type struct {
	Name string
}

func (t Type) Code() string {
	return t.Name
}

func (t Type) Label() string {
	parts := strings.Split(t.Name, "_")
	for i := range parts {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, " ")
}

type Enum struct {
	DineIn      Type
	RoomService Type
	Takeout     Type
}

var Types = Enum{
	DineIn:      Type{Name: "dine_in"},
	RoomService: Type{Name: "room_service"},
	Takeout:     Type{Name: "takeout"},
}

var All = []Type{
	Types.DineIn,
	Types.RoomService,
	Types.Takeout,
}

// ByName returns the order type for a given name, or nil if not found
func ByName(name string) *Type {
	for _, t := range All {
		if t.Name == name {
			return &t
		}
	}
	return nil
}
