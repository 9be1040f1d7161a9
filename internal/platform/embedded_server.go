package platform

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServerConfig holds options for running the local JetStream broker.
type EmbeddedServerConfig struct {
	ServerName      string `envconfig:"SERVER_NAME" default:"ticketing_broker"`
	Host            string `envconfig:"HOST" default:"127.0.0.1"`
	Port            int    `envconfig:"PORT" default:"4222"`
	EnableLogging   bool   `envconfig:"ENABLE_LOGGING" default:"true"`
	JetStreamDomain string `envconfig:"JETSTREAM_DOMAIN"`
	StoreDir        string `envconfig:"STORE_DIR" default:"./store/js"`
	LeafNodeURL     string `envconfig:"LEAF_NODE_URL"`   // empty disables leaf node
	LeafNodeCreds   string `envconfig:"LEAF_NODE_CREDS"` // optional, only used if LeafNodeURL is set
}

// RunEmbeddedServer starts a NATS server with JetStream enabled and returns
// it once it accepts connections. The returned channel receives ctx.Err()
// once ctx is done; shutting the server down is left to the caller.
func RunEmbeddedServer(ctx context.Context, cfg EmbeddedServerConfig, logger *slog.Logger) (*server.Server, <-chan error, error) {
	opts := &server.Options{
		ServerName:      cfg.ServerName,
		Host:            cfg.Host,
		Port:            cfg.Port,
		JetStream:       true,
		JetStreamDomain: cfg.JetStreamDomain,
		StoreDir:        cfg.StoreDir,
		NoSigs:          true,
	}
	if cfg.LeafNodeURL != "" {
		leafURL, err := url.Parse(cfg.LeafNodeURL)
		if err != nil {
			return nil, nil, err
		}
		opts.LeafNode = server.LeafNodeOpts{Remotes: []*server.RemoteLeafOpts{{
			URLs:        []*url.URL{leafURL},
			Credentials: cfg.LeafNodeCreds,
		}}}
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, nil, err
	}
	if cfg.EnableLogging {
		ns.SetLogger(NewNATSServerLogger(logger), false, false)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, nil, errors.New("NATS Server timeout")
	}

	errCh := make(chan error, 1)
	go func() {
		<-ctx.Done()
		errCh <- ctx.Err()
	}()

	return ns, errCh, nil
}
