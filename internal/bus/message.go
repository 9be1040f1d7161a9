package bus

import (
	"context"
	"sync/atomic"
	"time"

	"ticketing/internal/messages"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Msg is a delivered message together with its acknowledgement handle.
// Acknowledging is the handler's job: a handler that returns without calling
// Ack leaves the message outstanding and the broker redelivers it once the
// ack-wait elapses.
type Msg struct {
	raw     jetstream.Msg
	meta    *jetstream.MsgMetadata
	subject messages.Subject
	acked   atomic.Bool
}

func (m *Msg) Subject() messages.Subject { return m.subject }
func (m *Msg) Data() []byte              { return m.raw.Data() }

// Sequence is the channel sequence number, starting at 1.
func (m *Msg) Sequence() uint64 { return m.meta.Sequence.Stream }

// NumDelivered counts deliveries of this message, including the current one.
func (m *Msg) NumDelivered() uint64 { return m.meta.NumDelivered }

func (m *Msg) Redelivered() bool { return m.meta.NumDelivered > 1 }

// Timestamp is when the broker stored the message.
func (m *Msg) Timestamp() time.Time { return m.meta.Timestamp }

// MessageID is the id the publisher attached for de-duplication.
func (m *Msg) MessageID() string {
	if h := m.raw.Headers(); h != nil {
		return h.Get(nats.MsgIdHdr)
	}
	return ""
}

// Ack tells the broker the message is done. It does not wait for the broker
// to confirm.
func (m *Msg) Ack() error {
	if err := m.raw.Ack(); err != nil {
		return err
	}
	m.acked.Store(true)
	return nil
}

// AckSync acknowledges and waits until the broker has recorded the ack.
func (m *Msg) AckSync(ctx context.Context) error {
	if err := m.raw.DoubleAck(ctx); err != nil {
		return err
	}
	m.acked.Store(true)
	return nil
}

// InProgress resets the ack-wait timer for handlers doing long work.
func (m *Msg) InProgress() error { return m.raw.InProgress() }

// Acked reports whether Ack or AckSync succeeded.
func (m *Msg) Acked() bool { return m.acked.Load() }
