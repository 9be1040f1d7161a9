package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ticketing/internal/messages"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Options configure a connection to the messaging cluster.
type Options struct {
	ClusterID string // logical cluster name, scopes subjects and streams
	ClientID  string // unique among live connections; empty means NewClientID()
	URL       string

	ConnectTimeout time.Duration
	Heartbeat      time.Duration // client id claim refresh interval
	PublishTimeout time.Duration // how long Publish waits for the broker ack
	MaxReconnects  int           // after a successful connect; -1 retries forever, 0 uses the nats default

	Channel  ChannelConfig
	Registry *messages.Registry
	Metrics  *Metrics
	Logger   *slog.Logger

	// NATSOptions are appended to the options used for nats.Connect.
	NATSOptions []nats.Option

	// OnConnect runs once the handshake completes, before Connect returns.
	OnConnect func(*Conn)
	// OnClose runs once when the session is torn down for any reason.
	OnClose func(*Conn)
}

// DefaultOptions returns options with every tunable set.
func DefaultOptions() Options {
	return Options{
		ClusterID:      "ticketing",
		URL:            nats.DefaultURL,
		ConnectTimeout: 5 * time.Second,
		Heartbeat:      5 * time.Second,
		PublishTimeout: 5 * time.Second,
		MaxReconnects:  nats.DefaultMaxReconnect,
		Channel:        defaultChannelConfig(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.URL == "" {
		o.URL = d.URL
	}
	if o.ClientID == "" {
		o.ClientID = NewClientID()
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = d.Heartbeat
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = d.PublishTimeout
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = d.MaxReconnects
	}
	if o.Channel.Duplicates <= 0 {
		o.Channel.Duplicates = d.Channel.Duplicates
	}
	if o.Channel.Replicas <= 0 {
		o.Channel.Replicas = d.Channel.Replicas
	}
	if o.Registry == nil {
		o.Registry = messages.Default
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) validate() error {
	if err := validateToken(o.ClusterID); err != nil {
		return fmt.Errorf("cluster id: %w", err)
	}
	if sanitizeName(o.ClusterID) != o.ClusterID {
		return fmt.Errorf("cluster id %q must contain only alphanumeric characters, hyphens, and underscores", o.ClusterID)
	}
	return validateClientID(o.ClientID)
}

// Conn owns the single connection of a process to the cluster. Publishers and
// listeners share it; none of them closes it.
type Conn struct {
	opts      Options
	clusterID string
	clientID  string

	nc       *nats.Conn
	js       jetstream.JetStream
	log      *slog.Logger
	metrics  *Metrics
	registry *messages.Registry
	presence *presence

	channels sync.Map // stream name -> channel

	mu   sync.Mutex
	subs map[*Subscription]struct{}

	ready     atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	goneOnce  sync.Once
	done      chan struct{}
}

// Connect dials the cluster, verifies JetStream is available and claims the
// client id. Failures are returned as *ConnectionError; the initial attempt
// is never retried.
func Connect(ctx context.Context, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	fail := func(err error) (*Conn, error) {
		return nil, &ConnectionError{ClusterID: opts.ClusterID, ClientID: opts.ClientID, URL: opts.URL, Err: err}
	}
	if err := opts.validate(); err != nil {
		return fail(err)
	}

	c := &Conn{
		opts:      opts,
		clusterID: opts.ClusterID,
		clientID:  opts.ClientID,
		log:       opts.Logger.With("cluster_id", opts.ClusterID, "client_id", opts.ClientID),
		metrics:   opts.Metrics,
		registry:  opts.Registry,
		subs:      make(map[*Subscription]struct{}),
		done:      make(chan struct{}),
	}

	natsOpts := append([]nats.Option{
		nats.Name(opts.ClientID),
		nats.Timeout(opts.ConnectTimeout),
		nats.RetryOnFailedConnect(false),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.log.Warn("Disconnected from NATS", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.log.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			c.gone()
		}),
	}, opts.NATSOptions...)

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return fail(err)
	}
	c.nc = nc

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fail(fmt.Errorf("jetstream context: %w", err))
	}
	c.js = js

	hsCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	if _, err := js.AccountInfo(hsCtx); err != nil {
		nc.Close()
		return fail(fmt.Errorf("jetstream unavailable: %w", err))
	}

	reg, err := newKVClientRegistry(hsCtx, js, opts.ClusterID, 3*opts.Heartbeat)
	if err != nil {
		nc.Close()
		return fail(err)
	}
	p, err := claimPresence(hsCtx, reg, opts.ClientID, newClientInfo(opts.ClusterID, opts.ClientID), opts.Heartbeat, c.log)
	if err != nil {
		nc.Close()
		return fail(err)
	}
	c.presence = p

	c.ready.Store(true)
	c.log.Info("Connected to NATS", "url", nc.ConnectedUrl())
	if opts.OnConnect != nil {
		opts.OnConnect(c)
	}
	return c, nil
}

func (c *Conn) ClusterID() string             { return c.clusterID }
func (c *Conn) ClientID() string              { return c.clientID }
func (c *Conn) JetStream() jetstream.JetStream { return c.js }
func (c *Conn) NATS() *nats.Conn              { return c.nc }

// IsConnected reports whether the transport is currently usable.
func (c *Conn) IsConnected() bool {
	return c.ready.Load() && c.nc != nil && c.nc.IsConnected()
}

// Done is closed once the session has been torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close sends a graceful disconnect: subscriptions are stopped, the client id
// is released and the transport is closed. In-flight handlers are not awaited;
// whatever they leave unacknowledged is redelivered. Close is idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.mu.Lock()
		subs := make([]*Subscription, 0, len(c.subs))
		for s := range c.subs {
			subs = append(subs, s)
		}
		c.mu.Unlock()
		for _, s := range subs {
			s.cancel()
			s.stop()
		}

		if c.nc.IsConnected() {
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
			c.closeErr = c.presence.release(ctx)
			cancel()
		} else {
			c.presence.halt()
		}

		c.nc.Close()
		c.log.Info("NATS connection closed")
	})
	return c.closeErr
}

// gone runs once when the underlying connection is closed for good.
func (c *Conn) gone() {
	if !c.ready.Load() {
		return
	}
	c.goneOnce.Do(func() {
		close(c.done)
		c.presence.halt()
		c.log.Info("NATS session torn down")
		if c.opts.OnClose != nil {
			c.opts.OnClose(c)
		}
	})
}

func (c *Conn) track(s *Subscription) {
	c.mu.Lock()
	c.subs[s] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) untrack(s *Subscription) {
	c.mu.Lock()
	delete(c.subs, s)
	c.mu.Unlock()
}

func (c *Conn) ensureConnected() error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}
