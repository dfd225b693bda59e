package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrProviderUnavailable = errors.New("payment provider unavailable")

type IntentRequest struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber int64           `json:"order_number"`
	Method      string          `json:"method"`
	Amount      decimal.Decimal `json:"amount"`
}

// Intent is the provider's handle for a pending digital payment.
type Intent struct {
	Reference   string `json:"reference"`
	CheckoutURL string `json:"checkout_url"`
}

type IntentProvider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
}

// HTTPIntentProvider talks to a provider gateway exposing the apt envelope.
type HTTPIntentProvider struct {
	client *apt.ServiceClient
}

func NewHTTPIntentProvider(client *apt.ServiceClient) *HTTPIntentProvider {
	return &HTTPIntentProvider{client: client}
}

func (p *HTTPIntentProvider) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if p == nil || p.client == nil {
		return nil, ErrProviderUnavailable
	}

	resp, err := p.client.Create(ctx, "payment-intents", req)
	if err != nil {
		return nil, fmt.Errorf("cannot create payment intent: %w", err)
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("cannot encode intent payload: %w", err)
	}

	var intent Intent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, fmt.Errorf("cannot decode intent payload: %w", err)
	}
	if intent.Reference == "" {
		return nil, fmt.Errorf("cannot create payment intent: empty reference")
	}

	return &intent, nil
}
