package platform

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"ticketing/internal/bus"
	"ticketing/internal/tickets"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/nats-io/nats.go/jetstream"
)

// EnvPrefix prefixes every configuration variable, e.g. TICKETING_NATS_URL.
const EnvPrefix = "TICKETING"

// AppConfig contains the configuration shared by the binaries.
type AppConfig struct {
	NATS     NATSConfig           `envconfig:"NATS"`
	Channel  ChannelConfig        `envconfig:"CHANNEL"`
	Listener ListenerConfig       `envconfig:"LISTENER"`
	Store    tickets.StoreConfig  `envconfig:"STORE"`
	HTTP     HTTPServerConfig     `envconfig:"HTTP"`
	Log      LogConfig            `envconfig:"LOG"`
	Broker   EmbeddedServerConfig `envconfig:"BROKER"`
}

// NATSConfig describes how to reach the messaging cluster.
type NATSConfig struct {
	URL            string        `envconfig:"URL" default:"nats://127.0.0.1:4222"`
	ClusterID      string        `envconfig:"CLUSTER_ID" default:"ticketing"`
	ClientID       string        `envconfig:"CLIENT_ID"` // empty picks a random id per process
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"5s"`
	Heartbeat      time.Duration `envconfig:"HEARTBEAT" default:"5s"`
	PublishTimeout time.Duration `envconfig:"PUBLISH_TIMEOUT" default:"5s"`
	MaxReconnects  int           `envconfig:"MAX_RECONNECTS" default:"60"`
}

// ChannelConfig holds the limits applied to newly created channels.
type ChannelConfig struct {
	Storage    string        `envconfig:"STORAGE" default:"file"`
	Replicas   int           `envconfig:"REPLICAS" default:"1"`
	MaxMsgs    int64         `envconfig:"MAX_MSGS"`
	MaxBytes   int64         `envconfig:"MAX_BYTES"`
	MaxAge     time.Duration `envconfig:"MAX_AGE"`
	Duplicates time.Duration `envconfig:"DUPLICATES" default:"2m"`
}

// ListenerConfig tunes the subscriptions opened by cmd/listener.
type ListenerConfig struct {
	QueueGroup  string        `envconfig:"QUEUE_GROUP" default:"orders-service"`
	AckWait     time.Duration `envconfig:"ACK_WAIT" default:"5s"`
	MaxDeliver  int           `envconfig:"MAX_DELIVER"`
	MaxInFlight int           `envconfig:"MAX_IN_FLIGHT"`
	DeliverNew  bool          `envconfig:"DELIVER_NEW"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"` // json or text
}

// LoadAppConfig reads the given .env files (".env" when none are named; a
// missing file is not an error) and then fills AppConfig from the
// environment. Variables already set in the environment win over .env.
func LoadAppConfig(envFiles ...string) (*AppConfig, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg AppConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	switch c.Channel.Storage {
	case "file", "memory":
	default:
		return fmt.Errorf("channel storage must be file or memory, got %q", c.Channel.Storage)
	}
	switch c.Store.Backend {
	case tickets.BackendKV, tickets.BackendBolt:
	default:
		return fmt.Errorf("store backend must be %s or %s, got %q", tickets.BackendKV, tickets.BackendBolt, c.Store.Backend)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log format must be json or text, got %q", c.Log.Format)
	}
	if c.Listener.AckWait <= 0 {
		return fmt.Errorf("listener ack wait must be positive, got %s", c.Listener.AckWait)
	}
	return nil
}

// BusOptions maps the configuration onto bus.Options. The caller still sets
// Logger, Metrics and callbacks.
func (c *AppConfig) BusOptions() bus.Options {
	storage := jetstream.FileStorage
	if c.Channel.Storage == "memory" {
		storage = jetstream.MemoryStorage
	}
	return bus.Options{
		ClusterID:      c.NATS.ClusterID,
		ClientID:       c.NATS.ClientID,
		URL:            c.NATS.URL,
		ConnectTimeout: c.NATS.ConnectTimeout,
		Heartbeat:      c.NATS.Heartbeat,
		PublishTimeout: c.NATS.PublishTimeout,
		MaxReconnects:  c.NATS.MaxReconnects,
		Channel: bus.ChannelConfig{
			Storage:    storage,
			Replicas:   c.Channel.Replicas,
			MaxMsgs:    c.Channel.MaxMsgs,
			MaxBytes:   c.Channel.MaxBytes,
			MaxAge:     c.Channel.MaxAge,
			Duplicates: c.Channel.Duplicates,
		},
	}
}

// ListenOptions maps the listener configuration onto bus.ListenOption values.
func (c *AppConfig) ListenOptions() []bus.ListenOption {
	opts := []bus.ListenOption{
		bus.WithAckWait(c.Listener.AckWait),
		bus.WithMaxDeliver(c.Listener.MaxDeliver),
		bus.WithMaxInFlight(c.Listener.MaxInFlight),
	}
	if c.Listener.DeliverNew {
		opts = append(opts, bus.WithDeliverNew())
	}
	return opts
}
