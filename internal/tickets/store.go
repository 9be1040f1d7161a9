// Package tickets keeps a local replica of tickets owned by another service,
// fed by ticket:created and ticket:updated events.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go/jetstream"
)

var ErrNotFound = errors.New("ticket not found")

// Ticket is the replicated view of a ticket. CreatedSeq and UpdatedSeq are
// the channel sequences of the last event applied from each channel.
type Ticket struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Price      float64 `json:"price"`
	UserID     string  `json:"userId,omitempty"`
	CreatedSeq uint64  `json:"createdSeq,omitempty"`
	UpdatedSeq uint64  `json:"updatedSeq,omitempty"`
}

// MutateFunc edits t in place. exists is false when no ticket is stored
// under the id yet, in which case t is the zero Ticket. Returning false
// leaves the store untouched.
type MutateFunc func(t *Ticket, exists bool) (bool, error)

// Store persists the replica. Mutate is an atomic read-modify-write of a
// single ticket.
type Store interface {
	Get(ctx context.Context, id string) (Ticket, error)
	List(ctx context.Context) ([]Ticket, error)
	Mutate(ctx context.Context, id string, fn MutateFunc) error
	io.Closer
}

// Backend names accepted by Open.
const (
	BackendKV   = "kv"
	BackendBolt = "bolt"
)

// StoreConfig selects and parameterizes a Store backend.
type StoreConfig struct {
	Backend  string `envconfig:"BACKEND" default:"kv"`
	Bucket   string `envconfig:"BUCKET" default:"TICKETS"`
	BoltPath string `envconfig:"BOLT_PATH" default:"tickets.db"`
}

func validateID(id string) error {
	if id == "" {
		return errors.New("ticket id is empty")
	}
	return nil
}

func errUnknownBackend(name string) error {
	return fmt.Errorf("unknown ticket store backend %q (want %q or %q)", name, BackendKV, BackendBolt)
}

// Open builds the Store named by cfg.Backend. js is only used by the kv
// backend.
func Open(ctx context.Context, cfg StoreConfig, js jetstream.JetStream) (Store, error) {
	switch cfg.Backend {
	case BackendKV, "":
		return NewKVStore(ctx, js, cfg.Bucket)
	case BackendBolt:
		return NewBoltStore(cfg.BoltPath)
	default:
		return nil, errUnknownBackend(cfg.Backend)
	}
}
