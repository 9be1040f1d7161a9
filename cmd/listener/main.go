package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"ticketing/internal/bus"
	"ticketing/internal/platform"
	"ticketing/internal/tickets"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := platform.LoadAppConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := platform.InitLogger(cfg.Log)

	if err := run(context.Background(), cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Listener stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *platform.AppConfig, logger *slog.Logger) error {
	metrics := platform.NewMetrics()

	opts := cfg.BusOptions()
	opts.Logger = logger
	opts.Metrics = metrics.Bus

	conn, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	return bus.Serve(ctx, conn, func(ctx context.Context, conn *bus.Conn) error {
		store, err := tickets.Open(ctx, cfg.Store, conn.JetStream())
		if err != nil {
			return err
		}
		defer store.Close()

		subs, err := tickets.Listen(ctx, conn, store, cfg.Listener.QueueGroup, cfg.ListenOptions()...)
		if err != nil {
			return err
		}
		defer func() {
			for _, s := range subs {
				s.Stop()
			}
		}()

		g, ctx := errgroup.WithContext(ctx)
		if cfg.HTTP.Enabled {
			g.Go(func() error {
				handler := platform.NewRouter(platform.Routes{Conn: conn, Store: store, Metrics: metrics})
				return <-platform.RunHTTPServer(ctx, handler, cfg.HTTP)
			})
		}
		g.Go(func() error {
			<-ctx.Done()
			return ctx.Err()
		})
		return g.Wait()
	})
}

// connect retries the initial connection; the broker may still be starting.
// A duplicate client id is not retried.
func connect(ctx context.Context, opts bus.Options) (*bus.Conn, error) {
	return backoff.Retry(ctx, func() (*bus.Conn, error) {
		conn, err := bus.Connect(ctx, opts)
		if errors.Is(err, bus.ErrClientIDInUse) {
			return nil, backoff.Permanent(err)
		}
		return conn, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(time.Minute),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Connect failed, retrying", "err", err, "retry_in", next)
		}),
	)
}
