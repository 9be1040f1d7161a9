package bus

import (
	"context"
	"fmt"
	"time"

	"ticketing/internal/messages"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher sends events of a single type, and therefore to a single subject.
type Publisher[E messages.Event] struct {
	conn    *Conn
	subject messages.Subject
	timeout time.Duration
	msgID   func() string
}

// PublisherOption adjusts a Publisher.
type PublisherOption func(*publisherOptions)

type publisherOptions struct {
	timeout time.Duration
	msgID   func() string
}

// WithPublishTimeout overrides how long Publish waits for the broker ack.
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(o *publisherOptions) { o.timeout = d }
}

// WithMessageID sets the function producing de-duplication ids. Two
// publishes carrying the same id within the channel's duplicate window are
// stored once.
func WithMessageID(fn func() string) PublisherOption {
	return func(o *publisherOptions) { o.msgID = fn }
}

// NewPublisher binds a publisher for E to conn.
func NewPublisher[E messages.Event](conn *Conn, opts ...PublisherOption) *Publisher[E] {
	o := publisherOptions{timeout: conn.opts.PublishTimeout, msgID: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 {
		o.timeout = conn.opts.PublishTimeout
	}
	return &Publisher[E]{
		conn:    conn,
		subject: messages.SubjectOf[E](),
		timeout: o.timeout,
		msgID:   o.msgID,
	}
}

func (p *Publisher[E]) Subject() messages.Subject { return p.subject }

// Publish encodes event and returns once the broker has durably stored it.
// That says nothing about delivery to listeners. Every failure is a
// *PublishError.
func (p *Publisher[E]) Publish(ctx context.Context, event E) error {
	err := p.publish(ctx, event)
	p.conn.metrics.observePublish(p.subject, err)
	if err != nil {
		return &PublishError{Subject: p.subject, Err: err}
	}
	return nil
}

func (p *Publisher[E]) publish(ctx context.Context, event E) error {
	if err := p.conn.ensureConnected(); err != nil {
		return err
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("event validation failed: %w", err)
	}

	data, err := messages.Encode(event)
	if err != nil {
		return err
	}
	if err := p.conn.registry.Validate(p.subject, data); err != nil {
		return err
	}

	ch, err := p.conn.channel(ctx, p.subject)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := nats.NewMsg(ch.wire)
	msg.Data = data
	id := p.msgID()
	ack, err := p.conn.js.PublishMsg(ctx, msg,
		jetstream.WithMsgID(id),
		jetstream.WithExpectStream(ch.stream),
	)
	if err != nil {
		return err
	}

	p.conn.log.Debug("Event published", "subject", p.subject, "seq", ack.Sequence, "msg_id", id, "duplicate", ack.Duplicate)
	return nil
}
