// Package orderclient talks to the order service over its REST API.
package orderclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/appetiteclub/orderflow/pkg/orders"
	"github.com/appetiteclub/orderflow/pkg/payment"
)

const (
	DefaultRefetchRate  = 20
	DefaultRefetchBurst = 10
)

// Client reads and writes orders. Point reads share a token bucket so a burst
// of feed events cannot flood the store.
type Client struct {
	service *apt.ServiceClient
	limiter *rate.Limiter
}

func New(service *apt.ServiceClient, perSecond float64, burst int) *Client {
	if perSecond <= 0 {
		perSecond = DefaultRefetchRate
	}
	if burst <= 0 {
		burst = DefaultRefetchBurst
	}
	return &Client{
		service: service,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (c *Client) Get(ctx context.Context, id uuid.UUID) (*orders.Order, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("cannot fetch order %s: %w", id, err)
	}

	resp, err := c.service.Get(ctx, "orders", id.String())
	if err != nil {
		return nil, fmt.Errorf("cannot fetch order %s: %w", id, mapError(err))
	}

	var o orders.Order
	if err := decodeSuccessResponse(resp, &o); err != nil {
		return nil, fmt.Errorf("cannot decode order %s: %w", id, err)
	}
	return &o, nil
}

func (c *Client) List(ctx context.Context, q orders.Query) ([]*orders.Order, error) {
	path := "/orders"
	if v := q.Values(); len(v) > 0 {
		path += "?" + v.Encode()
	}

	resp, err := c.service.Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot list orders: %w", mapError(err))
	}

	var list []*orders.Order
	if err := decodeSuccessResponse(resp, &list); err != nil {
		return nil, fmt.Errorf("cannot decode order list: %w", err)
	}
	return list, nil
}

type statusUpdate struct {
	Status  string `json:"status"`
	Version int64  `json:"version"`
}

func (c *Client) Transition(ctx context.Context, id uuid.UUID, version int64, status string) (*orders.Order, error) {
	path := fmt.Sprintf("/orders/%s/status", id)
	resp, err := c.service.Request(ctx, http.MethodPatch, path, statusUpdate{Status: status, Version: version})
	if err != nil {
		return nil, fmt.Errorf("cannot move order %s to %s: %w", id, status, mapError(err))
	}

	var o orders.Order
	if err := decodeSuccessResponse(resp, &o); err != nil {
		return nil, fmt.Errorf("cannot decode order %s: %w", id, err)
	}
	return &o, nil
}

func (c *Client) TransitionItem(ctx context.Context, orderID, itemID uuid.UUID, version int64, status string) (*orders.Order, error) {
	path := fmt.Sprintf("/orders/%s/items/%s/status", orderID, itemID)
	resp, err := c.service.Request(ctx, http.MethodPatch, path, statusUpdate{Status: status, Version: version})
	if err != nil {
		return nil, fmt.Errorf("cannot move item %s to %s: %w", itemID, status, mapError(err))
	}

	var o orders.Order
	if err := decodeSuccessResponse(resp, &o); err != nil {
		return nil, fmt.Errorf("cannot decode order %s: %w", orderID, err)
	}
	return &o, nil
}

type cashPayment struct {
	AmountTendered decimal.Decimal `json:"amount_tendered"`
	Version        int64           `json:"version"`
}

type cashPaymentResult struct {
	Order  *orders.Order   `json:"order"`
	Change decimal.Decimal `json:"change"`
}

// ConfirmCash settles an order in cash and returns the change due.
func (c *Client) ConfirmCash(ctx context.Context, id uuid.UUID, version int64, tendered decimal.Decimal) (*orders.Order, decimal.Decimal, error) {
	path := fmt.Sprintf("/orders/%s/cash-payments", id)
	resp, err := c.service.Request(ctx, http.MethodPost, path, cashPayment{AmountTendered: tendered, Version: version})
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("cannot confirm cash for order %s: %w", id, mapError(err))
	}

	var res cashPaymentResult
	if err := decodeSuccessResponse(resp, &res); err != nil {
		return nil, decimal.Zero, fmt.Errorf("cannot decode cash payment: %w", err)
	}
	return res.Order, res.Change, nil
}

type intentResult struct {
	Order  *orders.Order   `json:"order"`
	Intent *payment.Intent `json:"intent"`
}

func (c *Client) CreatePaymentIntent(ctx context.Context, id uuid.UUID, version int64) (*orders.Order, *payment.Intent, error) {
	path := fmt.Sprintf("/orders/%s/payment-intents", id)
	resp, err := c.service.Request(ctx, http.MethodPost, path, map[string]int64{"version": version})
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create payment intent for order %s: %w", id, mapError(err))
	}

	var res intentResult
	if err := decodeSuccessResponse(resp, &res); err != nil {
		return nil, nil, fmt.Errorf("cannot decode payment intent: %w", err)
	}
	return res.Order, res.Intent, nil
}

// Sweep asks the order service to expire overdue unpaid orders now.
func (c *Client) Sweep(ctx context.Context) (int, error) {
	resp, err := c.service.Request(ctx, http.MethodPost, "/orders/sweeps", nil)
	if err != nil {
		return 0, fmt.Errorf("cannot run sweep: %w", mapError(err))
	}

	var res struct {
		Expired int `json:"expired"`
	}
	if err := decodeSuccessResponse(resp, &res); err != nil {
		return 0, fmt.Errorf("cannot decode sweep result: %w", err)
	}
	return res.Expired, nil
}

// decodeSuccessResponse copies the dynamic response payload into dest.
func decodeSuccessResponse(resp *apt.SuccessResponse, dest interface{}) error {
	if resp == nil {
		return errors.New("nil success response")
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

var errorCodes = map[string]error{
	"not_found":            orders.ErrNotFound,
	"stale_write":          orders.ErrStaleWrite,
	"invalid_transition":   orders.ErrInvalidTransition,
	"item_gated":           orders.ErrItemGated,
	"insufficient_tender":  payment.ErrInsufficientTender,
	"invalid_amount":       payment.ErrInvalidAmount,
	"provider_unavailable": payment.ErrProviderUnavailable,
}

// mapError turns an order service error envelope back into the sentinel or
// validation error it was rendered from.
func mapError(err error) error {
	var httpErr *apt.HTTPError
	if !errors.As(err, &httpErr) {
		return err
	}

	var body apt.ErrorResponse
	if jsonErr := json.Unmarshal([]byte(httpErr.Message), &body); jsonErr == nil {
		if body.Error.Code == "validation_failed" && len(body.Error.Details) > 0 {
			return apt.ValidationErrors(body.Error.Details)
		}
		if sentinel, ok := errorCodes[body.Error.Code]; ok {
			return fmt.Errorf("%w: %s", sentinel, body.Error.Message)
		}
	}

	switch httpErr.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", orders.ErrNotFound, err)
	case http.StatusConflict:
		return fmt.Errorf("%w: %v", orders.ErrStaleWrite, err)
	}
	return err
}
