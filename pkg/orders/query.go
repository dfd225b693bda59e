package orders

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Query is a filtered range query over active (non-deleted) orders.
type Query struct {
	Statuses        []string
	PaymentStatuses []string
	PaymentMethods  []string
	// ServedSince also admits served orders whose served_at is at or after it.
	ServedSince   *time.Time
	ExpiresBefore *time.Time
	Limit         int
}

func (q Query) Values() url.Values {
	v := url.Values{}
	if len(q.Statuses) > 0 {
		v.Set("status", strings.Join(q.Statuses, ","))
	}
	if len(q.PaymentStatuses) > 0 {
		v.Set("payment_status", strings.Join(q.PaymentStatuses, ","))
	}
	if len(q.PaymentMethods) > 0 {
		v.Set("payment_method", strings.Join(q.PaymentMethods, ","))
	}
	if q.ServedSince != nil {
		v.Set("served_since", q.ServedSince.UTC().Format(time.RFC3339Nano))
	}
	if q.ExpiresBefore != nil {
		v.Set("expires_before", q.ExpiresBefore.UTC().Format(time.RFC3339Nano))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

func ParseQuery(v url.Values) (Query, error) {
	q := Query{
		Statuses:        splitList(v.Get("status")),
		PaymentStatuses: splitList(v.Get("payment_status")),
		PaymentMethods:  splitList(v.Get("payment_method")),
	}

	if raw := v.Get("served_since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Query{}, fmt.Errorf("invalid served_since: %w", err)
		}
		q.ServedSince = &t
	}
	if raw := v.Get("expires_before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Query{}, fmt.Errorf("invalid expires_before: %w", err)
		}
		q.ExpiresBefore = &t
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Query{}, fmt.Errorf("invalid limit %q", raw)
		}
		q.Limit = n
	}
	return q, nil
}

// Matches evaluates the query against a single order in memory.
func (q Query) Matches(o *Order) bool {
	if o == nil || o.IsDeleted() {
		return false
	}
	if len(q.Statuses) > 0 || q.ServedSince != nil {
		inStatus := contains(q.Statuses, o.Status)
		recentServed := q.ServedSince != nil &&
			o.Status == st.Served.Code() &&
			o.ServedAt != nil &&
			!o.ServedAt.Before(*q.ServedSince)
		if !inStatus && !recentServed {
			return false
		}
	}
	if len(q.PaymentStatuses) > 0 && !contains(q.PaymentStatuses, o.PaymentStatus) {
		return false
	}
	if len(q.PaymentMethods) > 0 && !contains(q.PaymentMethods, o.PaymentMethod) {
		return false
	}
	if q.ExpiresBefore != nil && (o.ExpiresAt == nil || o.ExpiresAt.After(*q.ExpiresBefore)) {
		return false
	}
	return true
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
