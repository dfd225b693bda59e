package orders

import "errors"

var (
	ErrStaleWrite        = errors.New("stale write: version mismatch")
	ErrNotFound          = errors.New("order not found")
	ErrItemNotFound      = errors.New("order item not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTerminalState     = errors.New("order is in a terminal state")
	ErrItemGated         = errors.New("item status blocked by order status")
	ErrDeleted           = errors.New("order is deleted")
	ErrSessionMissing    = errors.New("session missing")
)
