package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ticketing/internal/platform"
)

func main() {
	cfg, err := platform.LoadAppConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := platform.InitLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Run embedded NATS server ---
	ns, natsErrCh, err := platform.RunEmbeddedServer(ctx, cfg.Broker, logger)
	if err != nil {
		slog.Error("Failed to start embedded server", "err", err)
		os.Exit(1)
	}
	defer ns.Shutdown()
	slog.Info("Broker ready", "url", ns.ClientURL(), "store_dir", cfg.Broker.StoreDir)

	var httpErrCh <-chan error
	if cfg.HTTP.Enabled {
		m := platform.NewMetrics()
		httpErrCh = platform.RunHTTPServer(ctx, platform.NewRouter(platform.Routes{Metrics: m}), cfg.HTTP)
	} else {
		httpErrCh = make(chan error)
	}

	select {
	case err := <-natsErrCh:
		slog.Info("Shutting down broker", "reason", err)
	case err := <-httpErrCh:
		slog.Error("HTTP server error", "err", err)
		cancel()
	}
}
