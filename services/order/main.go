package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/apt/middleware"
	"github.com/appetiteclub/apt/seed"

	"github.com/appetiteclub/orderflow/pkg"
	"github.com/appetiteclub/orderflow/pkg/event"
	"github.com/appetiteclub/orderflow/pkg/payment"
	"github.com/appetiteclub/orderflow/services/order/internal/mongo"
	"github.com/appetiteclub/orderflow/services/order/internal/order"
)

const (
	appNamespace = "ORDER"
	appName      = "order"
	appVersion   = "0.1.0"
)

func main() {
	config, err := apt.LoadConfig(appNamespace, os.Args[1:])
	if err != nil {
		log.Fatalf("%s(%s) cannot setup: %v", appName, appVersion, err)
	}

	logLevel, _ := config.GetString("log.level")
	logger := apt.NewLogger(logLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	baseRepo := mongo.NewBaseRepo(config, logger)
	err = baseRepo.Start(ctx)
	if err != nil {
		log.Fatalf("%s(%s) cannot start base repository: %v", appName, appVersion, err)
	}

	db := baseRepo.GetDatabase()
	if db == nil {
		log.Fatalf("%s(%s) cannot initialize repository database: %v", appName, appVersion, errors.New("repository database is nil"))
	}

	if err := mongo.EnsureIndexes(ctx, db); err != nil {
		log.Fatalf("%s(%s) cannot create indexes: %v", appName, appVersion, err)
	}

	promos, err := payment.ParsePromos(config.GetStringSliceOrDef("payment.promos", nil))
	if err != nil {
		log.Fatalf("%s(%s) cannot parse promo catalogue: %v", appName, appVersion, err)
	}

	var intents payment.IntentProvider
	if providerURL := config.GetStringOrDef("payment.provider.url", ""); providerURL != "" {
		intents = payment.NewHTTPIntentProvider(apt.NewServiceClient(providerURL))
	} else {
		logger.Info("no payment provider configured, digital payments disabled")
	}

	service := order.NewService(order.ServiceDeps{
		Orders:        mongo.NewOrderRepo(db),
		Items:         mongo.NewOrderItemRepo(db),
		Sequence:      mongo.NewCounterRepo(db),
		Intents:       intents,
		Promos:        promos,
		PaymentWindow: config.GetDurationOrDef("orders.payment_window", order.DefaultPaymentWindow),
	}, logger)

	if config.GetBoolOrFalse("demo.seed") {
		if err := order.ApplyDemoSeeds(ctx, service, seed.NewMongoTracker(db), logger); err != nil {
			logger.Error("cannot apply demo seeds", "error", err)
		}
	}

	// Feed sinks: gRPC is always served; NATS sinks are opt-in per config.
	feedStream := order.NewFeedStreamServer(config.GetDurationOrDef("feed.heartbeat", order.DefaultHeartbeatInterval), logger)

	natsURL := config.GetStringOrDef("nats.url", "nats://localhost:4222")
	var (
		publishers []events.Publisher
		lifecycles []any
	)

	for _, sink := range config.GetStringSliceOrDef("feed.sinks", []string{"jetstream"}) {
		switch sink {
		case "nats":
			pub, err := pkg.NewNATSPublisher(natsURL)
			if err != nil {
				log.Fatalf("%s(%s) cannot connect to NATS publisher: %v", appName, appVersion, err)
			}
			publishers = append(publishers, pub)
			lifecycles = append(lifecycles, apt.LifecycleHooks{
				OnStop: func(context.Context) error { return pub.Close() },
			})
		case "jetstream":
			stream, err := pkg.NewNATSStream(ctx, pkg.NATSStreamConfig{
				URL:        natsURL,
				StreamName: event.FeedStreamName,
				Subjects:   []string{event.FeedSubjects()},
				MaxAge:     config.GetDurationOrDef("feed.stream.max_age", 24*time.Hour),
			})
			if err != nil {
				log.Fatalf("%s(%s) cannot create feed stream: %v", appName, appVersion, err)
			}
			publishers = append(publishers, stream)
			lifecycles = append(lifecycles, apt.LifecycleHooks{
				OnStop: func(context.Context) error { return stream.Close() },
			})
		case "", "grpc":
		default:
			log.Fatalf("%s(%s) unknown feed sink %q", appName, appVersion, sink)
		}
	}

	relay := order.NewRelay(feedStream, logger, publishers...)
	watcher := mongo.NewChangeWatcher(db, relay.Deliver, logger)
	sweeper := order.NewSweeper(service, config.GetDurationOrDef("sweeper.interval", order.DefaultSweepInterval), logger)

	handler := order.NewHandler(service, logger)

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      logger,
		DisableCORS: true, // Internal API service
	})

	// The order API is reachable from internal networks only.
	stack = append(stack, middleware.InternalOnly())

	// Stopped in reverse: watcher and sweeper go first, the database last.
	lifecycles = append([]any{apt.LifecycleHooks{OnStop: baseRepo.Stop}}, lifecycles...)
	lifecycles = append(lifecycles, sweeper, watcher)

	options := []apt.Option{
		apt.WithConfig(config),
		apt.WithLogger(logger),
		apt.WithHTTPMiddleware(stack...),
		apt.WithHTTPServerModules("web.port", handler),
		apt.WithGRPCServerModules("grpc.port", feedStream),
		apt.WithLifecycle(lifecycles...),
		apt.WithHealthChecks(appName),
	}

	ms := apt.NewMicro(options...)
	logger.Infof("Starting %s(%s)", appName, appVersion)

	err = ms.Run(ctx)
	if err != nil {
		_ = baseRepo.Stop(context.Background())
		log.Fatalf("%s(%s) stopped: %v", appName, appVersion, err)
	}

	logger.Infof("%s(%s) stopped", appName, appVersion)
}
