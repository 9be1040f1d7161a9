package tickets

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"ticketing/internal/bus"
	"ticketing/internal/messages"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectBus(t *testing.T, s *server.Server) *bus.Conn {
	t.Helper()
	conn, err := bus.Connect(context.Background(), bus.Options{
		ClusterID: "ticketing",
		URL:       s.ClientURL(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func eventually(t *testing.T, store Store, id string, want Ticket) {
	t.Helper()
	assert.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), id)
		return err == nil && got == want
	}, 5*time.Second, 20*time.Millisecond)
}

func TestReplicaFollowsTicketEvents(t *testing.T) {
	s := runJetStream(t)
	conn := connectBus(t, s)
	ctx := context.Background()

	store, err := NewBoltStore(filepath.Join(t.TempDir(), "tickets.db"))
	require.NoError(t, err)
	defer store.Close()

	subs, err := Listen(ctx, conn, store, "", bus.WithMaxInFlight(1))
	require.NoError(t, err)
	require.Len(t, subs, 2)
	for _, sub := range subs {
		defer sub.Stop()
		assert.Equal(t, DefaultQueueGroup, sub.Options().QueueGroup)
	}

	created := bus.NewPublisher[messages.TicketCreatedEvent](conn)
	updated := bus.NewPublisher[messages.TicketUpdatedEvent](conn)

	require.NoError(t, created.Publish(ctx, messages.NewTicketCreatedEvent("123", "concert", 20).WithUserID("u-1")))
	eventually(t, store, "123", Ticket{ID: "123", Title: "concert", Price: 20, UserID: "u-1", CreatedSeq: 1})

	require.NoError(t, updated.Publish(ctx, messages.NewTicketUpdatedEvent("123", "concert", 25)))
	require.NoError(t, updated.Publish(ctx, messages.NewTicketUpdatedEvent("123", "opera", 30)))
	eventually(t, store, "123", Ticket{ID: "123", Title: "opera", Price: 30, UserID: "u-1", CreatedSeq: 1, UpdatedSeq: 2})
}

func TestUpdateBeforeCreate(t *testing.T) {
	ctx := context.Background()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "tickets.db"))
	require.NoError(t, err)
	defer store.Close()

	s := runJetStream(t)
	conn := connectBus(t, s)

	updated := bus.NewPublisher[messages.TicketUpdatedEvent](conn)
	require.NoError(t, updated.Publish(ctx, messages.NewTicketUpdatedEvent("7", "late show", 40)))
	created := bus.NewPublisher[messages.TicketCreatedEvent](conn)
	require.NoError(t, created.Publish(ctx, messages.NewTicketCreatedEvent("7", "early show", 10)))

	sub, err := bus.Listen[messages.TicketUpdatedEvent](ctx, conn, &TicketUpdatedListener{Store: store})
	require.NoError(t, err)
	defer sub.Stop()
	eventually(t, store, "7", Ticket{ID: "7", Title: "late show", Price: 40, UpdatedSeq: 1})

	sub, err = bus.Listen[messages.TicketCreatedEvent](ctx, conn, &TicketCreatedListener{Store: store})
	require.NoError(t, err)
	defer sub.Stop()
	eventually(t, store, "7", Ticket{ID: "7", Title: "late show", Price: 40, CreatedSeq: 1, UpdatedSeq: 1})
}

// flakyStore fails the first n mutations.
type flakyStore struct {
	Store
	failures atomic.Int32
}

func (f *flakyStore) Mutate(ctx context.Context, id string, fn MutateFunc) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("disk full")
	}
	return f.Store.Mutate(ctx, id, fn)
}

func TestFailedWriteIsRetriedByRedelivery(t *testing.T) {
	ctx := context.Background()
	bolt, err := NewBoltStore(filepath.Join(t.TempDir(), "tickets.db"))
	require.NoError(t, err)
	defer bolt.Close()
	store := &flakyStore{Store: bolt}
	store.failures.Store(1)

	s := runJetStream(t)
	conn := connectBus(t, s)

	sub, err := bus.Listen[messages.TicketCreatedEvent](ctx, conn, &TicketCreatedListener{Store: store, Group: "replica"},
		bus.WithAckWait(300*time.Millisecond))
	require.NoError(t, err)
	defer sub.Stop()
	assert.Equal(t, "replica", sub.Options().DurableName)

	pub := bus.NewPublisher[messages.TicketCreatedEvent](conn)
	require.NoError(t, pub.Publish(ctx, messages.NewTicketCreatedEvent("123", "concert", 20)))

	eventually(t, bolt, "123", Ticket{ID: "123", Title: "concert", Price: 20, CreatedSeq: 1})
}

func TestMergeTicketKeepsAbsentFields(t *testing.T) {
	tk := Ticket{ID: "1", Title: "concert", Price: 20, UserID: "u-1", CreatedSeq: 3}
	require.NoError(t, mergeTicket(&tk, []byte(`{"id":"1","title":"opera","price":30}`)))
	assert.Equal(t, Ticket{ID: "1", Title: "opera", Price: 30, UserID: "u-1", CreatedSeq: 3}, tk)
}

// racingStore runs fn once against an empty ticket and discards the result,
// the way a revision conflict does, before the real read-modify-write.
type racingStore struct {
	Store
}

func (r racingStore) Mutate(ctx context.Context, id string, fn MutateFunc) error {
	var lost Ticket
	if _, err := fn(&lost, false); err != nil {
		return err
	}
	return r.Store.Mutate(ctx, id, fn)
}

func TestApplyReportsOnlyTheFinalAttempt(t *testing.T) {
	ctx := context.Background()
	bolt, err := NewBoltStore(filepath.Join(t.TempDir(), "tickets.db"))
	require.NoError(t, err)
	defer bolt.Close()

	current := Ticket{ID: "9", Title: "opera", Price: 30, CreatedSeq: 2, UpdatedSeq: 5}
	require.NoError(t, bolt.Mutate(ctx, "9", func(tk *Ticket, _ bool) (bool, error) {
		*tk = current
		return true, nil
	}))
	store := racingStore{Store: bolt}

	updated := &TicketUpdatedListener{Store: store}
	applied, err := updated.apply(ctx, messages.NewTicketUpdatedEvent("9", "concert", 20), 3)
	require.NoError(t, err)
	assert.False(t, applied, "stale update")

	created := &TicketCreatedListener{Store: store}
	applied, err = created.apply(ctx, messages.NewTicketCreatedEvent("9", "concert", 20), 2)
	require.NoError(t, err)
	assert.False(t, applied, "redelivered create")

	got, err := bolt.Get(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, current, got)

	applied, err = updated.apply(ctx, messages.NewTicketUpdatedEvent("9", "ballet", 35), 6)
	require.NoError(t, err)
	assert.True(t, applied)
}
