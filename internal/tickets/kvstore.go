package tickets

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

const maxMutateAttempts = 5

// KVStore keeps tickets in a JetStream key-value bucket. Writes use the
// entry revision, so concurrent replicas never overwrite each other blindly.
type KVStore struct {
	kv jetstream.KeyValue
}

func NewKVStore(ctx context.Context, js jetstream.JetStream, bucket string) (*KVStore, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "ticket replica",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ticket bucket %s: %w", bucket, err)
	}
	return &KVStore{kv: kv}, nil
}

// ticketKey maps an arbitrary id onto the KV key alphabet.
func ticketKey(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func (s *KVStore) Get(ctx context.Context, id string) (Ticket, error) {
	t, _, err := s.get(ctx, id)
	return t, err
}

func (s *KVStore) get(ctx context.Context, id string) (Ticket, uint64, error) {
	entry, err := s.kv.Get(ctx, ticketKey(id))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return Ticket{}, 0, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Ticket{}, 0, err
	}
	var t Ticket
	if err := json.Unmarshal(entry.Value(), &t); err != nil {
		return Ticket{}, 0, fmt.Errorf("decode ticket %q: %w", id, err)
	}
	return t, entry.Revision(), nil
}

func (s *KVStore) List(ctx context.Context) ([]Ticket, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	defer lister.Stop()

	var out []Ticket
	for key := range lister.Keys() {
		entry, err := s.kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var t Ticket
		if err := json.Unmarshal(entry.Value(), &t); err != nil {
			return nil, fmt.Errorf("decode ticket under %s: %w", key, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *KVStore) Mutate(ctx context.Context, id string, fn MutateFunc) error {
	if err := validateID(id); err != nil {
		return err
	}
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		t, rev, err := s.get(ctx, id)
		exists := err == nil
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		write, err := fn(&t, exists)
		if err != nil || !write {
			return err
		}
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}

		if exists {
			_, err = s.kv.Update(ctx, ticketKey(id), data, rev)
		} else {
			_, err = s.kv.Create(ctx, ticketKey(id), data)
		}
		if err == nil {
			return nil
		}
		if !isRevisionConflict(err) {
			return fmt.Errorf("write ticket %q: %w", id, err)
		}
	}
	return fmt.Errorf("write ticket %q: too many concurrent updates", id)
}

func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

// Close is a no-op; the bucket belongs to the connection.
func (s *KVStore) Close() error { return nil }
