package tickets

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

const ticketsBucketName = "tickets"

// BoltStore keeps tickets in a local bbolt file. It suits a single replica
// process; bbolt holds an exclusive file lock.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(ticketsBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(_ context.Context, id string) (Ticket, error) {
	var t Ticket
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(ticketsBucketName)).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%q: %w", id, ErrNotFound)
		}
		return json.Unmarshal(v, &t)
	})
	return t, err
}

func (s *BoltStore) List(_ context.Context) ([]Ticket, error) {
	var out []Ticket
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ticketsBucketName)).ForEach(func(k, v []byte) error {
			var t Ticket
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("decode ticket %q: %w", k, err)
			}
			out = append(out, t)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) Mutate(_ context.Context, id string, fn MutateFunc) error {
	if err := validateID(id); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ticketsBucketName))

		var t Ticket
		v := b.Get([]byte(id))
		if v != nil {
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("decode ticket %q: %w", id, err)
			}
		}

		write, err := fn(&t, v != nil)
		if err != nil || !write {
			return err
		}
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

func (s *BoltStore) Close() error { return s.db.Close() }
