package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/middleware"

	"github.com/appetiteclub/orderflow/pkg/feed"
	"github.com/appetiteclub/orderflow/services/operations/internal/operations"
	"github.com/appetiteclub/orderflow/services/operations/internal/orderclient"
	"github.com/appetiteclub/orderflow/services/operations/internal/orderstream"
	"github.com/appetiteclub/orderflow/services/operations/internal/realtime"
	"github.com/appetiteclub/orderflow/services/operations/internal/reconcile"
)

const (
	appNamespace = "OPERATIONS"
	appName      = "operations"
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

	orderURL := config.GetStringOrDef("services.order.url", "http://localhost:8084")
	orderClient := orderclient.New(
		apt.NewServiceClient(orderURL),
		config.GetFloat64OrDef("refetch.rate", orderclient.DefaultRefetchRate),
		config.GetIntOrDef("refetch.burst", orderclient.DefaultRefetchBurst),
	)

	roles := config.GetStringSliceOrDef("stations.roles", []string{
		reconcile.RoleKitchen,
		reconcile.RoleWaiter,
		reconcile.RoleCashierPending,
		reconcile.RoleCashierBills,
	})

	// Transports are started first so they are stopped last.
	var lifecycles []any
	var channels operations.ChannelSource

	natsURL := config.GetStringOrDef("nats.url", "nats://localhost:4222")
	transport := config.GetStringOrDef("feed.transport", "grpc")
	switch transport {
	case "grpc":
		client := orderstream.NewClient(
			config.GetStringOrDef("services.order.grpc_addr", "localhost:9084"),
			config.GetDurationOrDef("feed.heartbeat", orderstream.DefaultHeartbeat),
			logger,
		)
		lifecycles = append(lifecycles, client)
		channels = operations.SharedChannel(client)
	case "nats":
		ch, err := feed.DialNATS(natsURL, appName, logger)
		if err != nil {
			log.Fatalf("%s(%s) cannot connect to NATS: %v", appName, appVersion, err)
		}
		lifecycles = append(lifecycles, apt.LifecycleHooks{
			OnStop: func(context.Context) error { return ch.Close() },
		})
		channels = operations.SharedChannel(ch)
	case "jetstream":
		maxAge := config.GetDurationOrDef("feed.stream.max_age", 24*time.Hour)
		perRole := make(map[string]feed.Channel, len(roles))
		for _, role := range roles {
			ch, err := feed.DialJetStream(ctx, natsURL, appName+"-"+role, maxAge, logger)
			if err != nil {
				log.Fatalf("%s(%s) cannot open feed stream for %s: %v", appName, appVersion, role, err)
			}
			perRole[role] = ch
			lifecycles = append(lifecycles, apt.LifecycleHooks{
				OnStop: func(context.Context) error { return ch.Close() },
			})
		}
		channels = func(role string) feed.Channel { return perRole[role] }
	default:
		log.Fatalf("%s(%s) unknown feed transport %q", appName, appVersion, transport)
	}

	policy := realtime.NewNotificationPolicy(config.GetBoolOrFalse("notifications.sound"), logger)
	sessions := operations.NewSessionStore(config.GetDurationOrDef("session.ttl", operations.DefaultSessionTTL))

	stations, err := operations.NewStationManager(operations.StationConfig{
		Roles:        roles,
		Recent:       config.GetBoolOrFalse("stations.recent"),
		MaxRetries:   config.GetIntOrDef("realtime.max_retries", realtime.DefaultMaxRetries),
		BaseDelay:    config.GetDurationOrDef("realtime.base_delay", realtime.DefaultBaseDelay),
		PollInterval: config.GetDurationOrDef("realtime.poll_interval", realtime.DefaultPollInterval),
	}, channels, orderClient, sessions, policy, logger)
	if err != nil {
		log.Fatalf("%s(%s) cannot build stations: %v", appName, appVersion, err)
	}

	handler := operations.NewHandler(stations, sessions, orderClient, logger)

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      logger,
		DisableCORS: false,
	})

	lifecycles = append(lifecycles, sessions, stations)

	options := []apt.Option{
		apt.WithConfig(config),
		apt.WithLogger(logger),
		apt.WithHTTPMiddleware(stack...),
		apt.WithHTTPServerModules("web.port", handler),
		apt.WithLifecycle(lifecycles...),
		apt.WithHealthChecks(appName),
	}

	ms := apt.NewMicro(options...)
	logger.Infof("Starting %s(%s) with %s feed", appName, appVersion, transport)

	err = ms.Run(ctx)
	if err != nil {
		log.Fatalf("%s(%s) stopped: %v", appName, appVersion, err)
	}

	logger.Infof("%s(%s) stopped", appName, appVersion)
}
