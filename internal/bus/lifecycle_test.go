package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeClosesConnection(t *testing.T) {
	s := runJetStream(t)
	conn := connect(t, s)

	boom := errors.New("boom")
	err := Serve(context.Background(), conn, func(ctx context.Context, c *Conn) error {
		assert.True(t, c.IsConnected())
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, conn.ensureConnected(), ErrConnectionClosed)
}

func TestServeClosesOnPanic(t *testing.T) {
	s := runJetStream(t)
	conn := connect(t, s)

	assert.Panics(t, func() {
		_ = Serve(context.Background(), conn, func(context.Context, *Conn) error { panic("boom") })
	})
	assert.ErrorIs(t, conn.ensureConnected(), ErrConnectionClosed)
}

func TestServeStopsWhenContextDone(t *testing.T) {
	s := runJetStream(t)
	conn := connect(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- Serve(ctx, conn, func(ctx context.Context, _ *Conn) error {
			<-ctx.Done()
			return nil
		})
	}()
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return")
	}
}

func TestServeStopsWhenBrokerGoesAway(t *testing.T) {
	s := runJetStream(t)
	conn := connect(t, s, func(o *Options) {
		o.MaxReconnects = 1
		o.NATSOptions = []nats.Option{nats.ReconnectWait(50 * time.Millisecond)}
	})

	errc := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		errc <- Serve(context.Background(), conn, func(ctx context.Context, _ *Conn) error {
			close(started)
			<-ctx.Done()
			return nil
		})
	}()
	<-started
	s.Shutdown()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after the broker went away")
	}
}

func TestRun(t *testing.T) {
	s := runJetStream(t)

	var clientID string
	err := Run(context.Background(), testOptions(s), func(ctx context.Context, c *Conn) error {
		clientID = c.ClientID()
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, clientID)

	opts := testOptions(s)
	opts.URL = "nats://127.0.0.1:1"
	opts.ConnectTimeout = 500 * time.Millisecond
	called := false
	err = Run(context.Background(), opts, func(context.Context, *Conn) error {
		called = true
		return nil
	})
	var cerr *ConnectionError
	assert.ErrorAs(t, err, &cerr)
	assert.False(t, called)
}
