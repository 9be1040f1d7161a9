package bus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ticketing/internal/messages"

	"github.com/nats-io/nats-server/v2/server"
	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = 20 * time.Millisecond
)

func runJetStream(t *testing.T) *server.Server {
	t.Helper()
	opts := natstest.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	s := natstest.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(s *server.Server) Options {
	return Options{
		ClusterID: "ticketing",
		URL:       s.ClientURL(),
		Heartbeat: time.Second,
		Logger:    testLogger(),
		Metrics:   NewMetrics(prometheus.NewRegistry()),
	}
}

func connect(t *testing.T, s *server.Server, mutate ...func(*Options)) *Conn {
	t.Helper()
	opts := testOptions(s)
	for _, m := range mutate {
		m(&opts)
	}
	conn, err := Connect(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// recorder collects what a test listener saw.
type recorder struct {
	mu     sync.Mutex
	seqs   []uint64
	events []messages.TicketCreatedEvent
}

func (r *recorder) add(e messages.TicketCreatedEvent, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs = append(r.seqs, seq)
	r.events = append(r.events, e)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seqs)
}

func (r *recorder) sequences() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seqs...)
}

func (r *recorder) snapshot() []messages.TicketCreatedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]messages.TicketCreatedEvent(nil), r.events...)
}

// acking records every event and acknowledges it.
func acking(group string, rec *recorder) ListenerFunc[messages.TicketCreatedEvent] {
	return ListenerFunc[messages.TicketCreatedEvent]{
		Group: group,
		Handle: func(ctx context.Context, e messages.TicketCreatedEvent, m *Msg) error {
			rec.add(e, m.Sequence())
			return m.Ack()
		},
	}
}

func publishCreated(t *testing.T, conn *Conn, ids ...string) {
	t.Helper()
	pub := NewPublisher[messages.TicketCreatedEvent](conn)
	for _, id := range ids {
		require.NoError(t, pub.Publish(context.Background(), messages.NewTicketCreatedEvent(id, "concert", 20)))
	}
}
