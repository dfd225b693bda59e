package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/appetiteclub/apt"

	"github.com/appetiteclub/orderflow/cmd/utils/internal/commands"
)

const (
	appName    = "orderflow-utils"
	appVersion = "0.1.0"
)

type command struct {
	summary string
	run     func(ctx context.Context, config *apt.Config, logger apt.Logger) error
}

var registry = map[string]command{
	"sweep": {
		summary: "Expire pending orders past their payment window",
		run: func(ctx context.Context, config *apt.Config, logger apt.Logger) error {
			expired, err := commands.Sweep(ctx, config, logger)
			if err != nil {
				return err
			}
			fmt.Printf("expired %d orders\n", expired)
			return nil
		},
	},
	"clear-demo": {
		summary: "Remove demo orders so the order service seeds them again",
		run:     commands.ClearDemo,
	},
	"reset-db": {
		summary: "Drop the order database (USE WITH CAUTION)",
		run:     commands.ResetDB,
	},
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	switch name {
	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	}

	cmd, ok := registry[name]
	if !ok {
		fmt.Printf("Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}

	config, err := apt.LoadConfig("UTILS", os.Args[2:])
	if err != nil {
		log.Fatalf("%s: cannot load config: %v", appName, err)
	}
	logger := apt.NewLogger(config.GetStringOrDef("log.level", "info")).With("command", name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, config, logger); err != nil {
		log.Fatalf("%s %s failed: %v", appName, name, err)
	}
	logger.Info("command completed")
}

func printUsage() {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("%s - orderflow operator commands\n\nUsage:\n  %s <command> [options]\n\nCommands:\n", appName, appName)
	for _, name := range names {
		fmt.Printf("  %-12s %s\n", name, registry[name].summary)
	}
	fmt.Printf("  %-12s %s\n", "version", "Print version information")
	fmt.Printf("  %-12s %s\n", "help", "Show this help message")

	fmt.Print(`
Environment:
  UTILS_DB_MONGO_URL         MongoDB connection URL (default: mongodb://localhost:27017)
  UTILS_DB_MONGO_NAME        Order database name (default: orderflow)
  UTILS_SERVICES_ORDER_URL   Order service URL (default: http://localhost:8084)
  UTILS_LOG_LEVEL            debug, info, warn or error (default: info)
`)
}
