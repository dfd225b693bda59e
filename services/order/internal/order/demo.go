package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/seed"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/orderflow/pkg/orders"
)

const orderDemoSeedApplication = "order_demo"

// ApplyDemoSeeds places a small set of orders spread over the cashier,
// kitchen and floor queues. Each seed runs once per tracker.
func ApplyDemoSeeds(ctx context.Context, service *Service, tracker seed.Tracker, logger apt.Logger) error {
	if service == nil {
		return errors.New("order service is required for demo seeding")
	}
	if logger == nil {
		logger = apt.NewNoopLogger()
	}

	logger.Info("Applying demo order seeds")
	if err := seed.Apply(ctx, tracker, buildDemoOrderSeeds(service), orderDemoSeedApplication); err != nil {
		return err
	}
	logger.Info("Demo order seeds applied successfully")
	return nil
}

func buildDemoOrderSeeds(service *Service) []seed.Seed {
	return []seed.Seed{
		{
			ID:          "2026-03-01_demo_orders_v1",
			Description: "Create demo orders across the cashier, kitchen and floor queues",
			Run: func(ctx context.Context) error {
				return seedDemoOrders(ctx, service)
			},
		},
	}
}

func seedDemoOrders(ctx context.Context, service *Service) error {
	// Window-1 waits at the cashier.
	if _, err := service.Checkout(ctx, CheckoutRequest{
		OrderType:     "dine_in",
		PaymentMethod: "cash",
		TableNumber:   "Window-1",
		Items: []CheckoutItem{
			{ItemName: "Halo-halo", Quantity: 2, UnitPrice: decimal.RequireFromString("180")},
			{ItemName: "Calamansi juice", Quantity: 2, UnitPrice: decimal.RequireFromString("90")},
		},
	}); err != nil {
		return fmt.Errorf("create cashier order: %w", err)
	}

	// Center-2 paid and the grill has started.
	dinner, err := service.Checkout(ctx, CheckoutRequest{
		OrderType:     "dine_in",
		PaymentMethod: "cash",
		TableNumber:   "Center-2",
		Discounts:     []DiscountRequest{{Kind: "senior"}},
		Items: []CheckoutItem{
			{ItemName: "Pork sinigang", Quantity: 1, UnitPrice: decimal.RequireFromString("420")},
			{
				ItemName:  "Chicken inasal",
				Quantity:  2,
				UnitPrice: decimal.RequireFromString("260"),
				Addons:    []orders.Addon{{Name: "Extra rice", AdditionalPrice: decimal.RequireFromString("40")}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create kitchen order: %w", err)
	}
	dinner, _, err = service.ConfirmCash(ctx, dinner.ID, dinner.Version, dinner.TotalAmount)
	if err != nil {
		return fmt.Errorf("settle kitchen order: %w", err)
	}
	if _, err := service.TransitionItem(ctx, dinner.ID, dinner.Items[0].ID, dinner.Items[0].Version, "preparing"); err != nil {
		return fmt.Errorf("start kitchen order: %w", err)
	}

	// Room 512 bills later and its food is ready to run.
	room, err := service.Checkout(ctx, CheckoutRequest{
		OrderType:           "room_service",
		PaymentMethod:       "bill_later",
		RoomNumber:          "512",
		SpecialInstructions: "Leave at the door",
		Items: []CheckoutItem{
			{ItemName: "Club sandwich", Quantity: 1, UnitPrice: decimal.RequireFromString("350")},
		},
	})
	if err != nil {
		return fmt.Errorf("create room service order: %w", err)
	}
	if _, err := service.TransitionItem(ctx, room.ID, room.Items[0].ID, room.Items[0].Version, "ready"); err != nil {
		return fmt.Errorf("ready room service order: %w", err)
	}

	return nil
}
