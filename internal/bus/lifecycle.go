package bus

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
)

// Serve runs fn with conn and closes conn afterwards, whatever the outcome.
// The context passed to fn is cancelled on SIGINT or SIGTERM, when ctx is
// done, or when the connection is torn down from the broker side. Serve
// takes ownership of conn.
func Serve(ctx context.Context, conn *Conn, fn func(ctx context.Context, conn *Conn) error) (err error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-conn.Done():
			conn.log.Warn("Connection lost; shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			conn.Close()
			panic(r)
		}
		err = errors.Join(err, conn.Close())
	}()
	return fn(ctx, conn)
}

// Run connects with opts and hands the connection to Serve.
func Run(ctx context.Context, opts Options, fn func(ctx context.Context, conn *Conn) error) error {
	conn, err := Connect(ctx, opts)
	if err != nil {
		return err
	}
	return Serve(ctx, conn, fn)
}
