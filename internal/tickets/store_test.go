package tickets

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func newJetStream(t *testing.T, s *server.Server) jetstream.JetStream {
	t.Helper()
	nc, err := nats.Connect(s.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	js, err := jetstream.New(nc)
	require.NoError(t, err)
	return js
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	kv, err := Open(ctx, StoreConfig{Backend: BackendKV, Bucket: "TICKETS"}, newJetStream(t, runJetStream(t)))
	require.NoError(t, err)

	bolt, err := Open(ctx, StoreConfig{Backend: BackendBolt, BoltPath: filepath.Join(t.TempDir(), "tickets.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })

	return map[string]Store{BackendKV: kv, BackendBolt: bolt}
}

func put(t *Ticket) MutateFunc {
	return func(cur *Ticket, _ bool) (bool, error) {
		*cur = *t
		return true, nil
	}
}

func TestStores(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			list, err := store.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)

			require.NoError(t, store.Mutate(ctx, "123", put(&Ticket{ID: "123", Title: "concert", Price: 20})))
			require.NoError(t, store.Mutate(ctx, "a b/c", put(&Ticket{ID: "a b/c", Title: "odd id", Price: 1})))

			got, err := store.Get(ctx, "123")
			require.NoError(t, err)
			assert.Equal(t, Ticket{ID: "123", Title: "concert", Price: 20}, got)

			var sawExisting bool
			require.NoError(t, store.Mutate(ctx, "123", func(cur *Ticket, exists bool) (bool, error) {
				sawExisting = exists
				cur.Price = 25
				return true, nil
			}))
			assert.True(t, sawExisting)

			require.NoError(t, store.Mutate(ctx, "123", func(cur *Ticket, _ bool) (bool, error) {
				cur.Price = 99
				return false, nil
			}))
			got, err = store.Get(ctx, "123")
			require.NoError(t, err)
			assert.Equal(t, 25.0, got.Price, "a declined mutation is not written")

			boom := errors.New("boom")
			assert.ErrorIs(t, store.Mutate(ctx, "123", func(*Ticket, bool) (bool, error) { return true, boom }), boom)
			assert.Error(t, store.Mutate(ctx, "", put(&Ticket{})))

			list, err = store.List(ctx)
			require.NoError(t, err)
			ids := make([]string, 0, len(list))
			for _, tk := range list {
				ids = append(ids, tk.ID)
			}
			sort.Strings(ids)
			assert.Equal(t, []string{"123", "a b/c"}, ids)
		})
	}
}

func TestKVStoreConcurrentMutations(t *testing.T) {
	ctx := context.Background()
	store, err := NewKVStore(ctx, newJetStream(t, runJetStream(t)), "TICKETS")
	require.NoError(t, err)
	require.NoError(t, store.Mutate(ctx, "1", put(&Ticket{ID: "1", Title: "t", Price: 1})))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Mutate(ctx, "1", func(cur *Ticket, _ bool) (bool, error) {
				cur.Price++
				return true, nil
			}))
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.Price)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), StoreConfig{Backend: "redis"}, nil)
	assert.Error(t, err)
}
