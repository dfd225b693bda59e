package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/appetiteclub/apt"
)

const defaultOrderURL = "http://localhost:8084"

// Sweep asks the order service to expire every pending order past its
// payment window and returns how many it expired.
func Sweep(ctx context.Context, config *apt.Config, logger apt.Logger) (int, error) {
	url := config.GetStringOrDef("services.order.url", defaultOrderURL)
	client := apt.NewServiceClient(url)

	resp, err := client.Request(ctx, "POST", "/orders/sweeps", struct{}{})
	if err != nil {
		return 0, fmt.Errorf("sweep orders: %w", err)
	}

	var out struct {
		Expired int `json:"expired"`
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return 0, fmt.Errorf("read sweep response: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("read sweep response: %w", err)
	}

	logger.Info("Swept orders", "expired", out.Expired)
	return out.Expired, nil
}
