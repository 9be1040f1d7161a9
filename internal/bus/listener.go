package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ticketing/internal/messages"

	"github.com/nats-io/nats.go/jetstream"
	slogctx "github.com/veqryn/slog-context"
)

// DefaultAckWait is how long the broker waits for an ack before redelivering.
const DefaultAckWait = 5 * time.Second

// Listener reacts to events of type E, and therefore to E's subject only.
// HandleMessage must call msg.Ack once the event is fully processed.
// Returning an error, or returning without acking, leaves the message for
// the broker to redeliver after the ack-wait.
type Listener[E messages.Event] interface {
	QueueGroup() string
	HandleMessage(ctx context.Context, event E, msg *Msg) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc[E messages.Event] struct {
	Group  string
	Handle func(ctx context.Context, event E, msg *Msg) error
}

func (l ListenerFunc[E]) QueueGroup() string { return l.Group }
func (l ListenerFunc[E]) HandleMessage(ctx context.Context, event E, msg *Msg) error {
	return l.Handle(ctx, event, msg)
}

// SubscriptionOptions are the broker-side parameters of a subscription.
type SubscriptionOptions struct {
	Subject     messages.Subject
	QueueGroup  string
	DurableName string
	AckWait     time.Duration
	MaxDeliver  int  // 0 means unlimited redeliveries
	MaxInFlight int  // unacknowledged messages outstanding at once; 0 uses the broker default
	DeliverAll  bool // a new durable starts at the first stored message
}

// ListenOption adjusts SubscriptionOptions.
type ListenOption func(*SubscriptionOptions)

func WithAckWait(d time.Duration) ListenOption {
	return func(o *SubscriptionOptions) { o.AckWait = d }
}

// WithMaxDeliver caps deliveries per message. Nothing happens to a message
// that reaches the cap beyond the broker no longer delivering it.
func WithMaxDeliver(n int) ListenOption {
	return func(o *SubscriptionOptions) { o.MaxDeliver = n }
}

func WithMaxInFlight(n int) ListenOption {
	return func(o *SubscriptionOptions) { o.MaxInFlight = n }
}

// WithDeliverNew makes a new durable start after the last stored message.
func WithDeliverNew() ListenOption {
	return func(o *SubscriptionOptions) { o.DeliverAll = false }
}

// SubscriptionOptionsFor derives the subscription parameters of l: manual
// acks, the ack-wait, and the queue group reused as the durable name, giving
// one durable cursor per queue group per subject.
func SubscriptionOptionsFor[E messages.Event](l Listener[E], opts ...ListenOption) (SubscriptionOptions, error) {
	o := SubscriptionOptions{
		Subject:     messages.SubjectOf[E](),
		QueueGroup:  l.QueueGroup(),
		DurableName: l.QueueGroup(),
		AckWait:     DefaultAckWait,
		DeliverAll:  true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := validateToken(o.QueueGroup); err != nil || sanitizeName(o.QueueGroup) != o.QueueGroup {
		return o, fmt.Errorf("queue group %q must contain only alphanumeric characters, hyphens, and underscores", o.QueueGroup)
	}
	if o.AckWait <= 0 {
		return o, fmt.Errorf("ack wait must be positive, got %s", o.AckWait)
	}
	if o.MaxDeliver < 0 || o.MaxInFlight < 0 {
		return o, fmt.Errorf("max deliver and max in flight must not be negative")
	}
	return o, nil
}

func (o SubscriptionOptions) consumerConfig(ch channel) jetstream.ConsumerConfig {
	deliver := jetstream.DeliverAllPolicy
	if !o.DeliverAll {
		deliver = jetstream.DeliverNewPolicy
	}
	maxDeliver := o.MaxDeliver
	if maxDeliver == 0 {
		maxDeliver = -1
	}
	return jetstream.ConsumerConfig{
		Durable:       o.DurableName,
		Description:   fmt.Sprintf("queue group %s on %s", o.QueueGroup, o.Subject),
		DeliverPolicy: deliver,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       o.AckWait,
		MaxDeliver:    maxDeliver,
		MaxAckPending: o.MaxInFlight,
		FilterSubject: ch.wire,
	}
}

// Subscription is one consume loop bound to a durable queue-group consumer.
type Subscription struct {
	opts     SubscriptionOptions
	channel  channel
	conn     *Conn
	consumer jetstream.Consumer
	cc       jetstream.ConsumeContext
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func (s *Subscription) Options() SubscriptionOptions { return s.opts }

// Stream is the name of the stream backing the subscribed channel.
func (s *Subscription) Stream() string { return s.channel.stream }

// Stop ends delivery to this member of the queue group. The durable cursor
// stays on the broker, so a later Listen with the same queue group resumes
// at the first unacknowledged message. Handlers in flight are not awaited.
func (s *Subscription) Stop() {
	s.cancel()
}

func (s *Subscription) stop() {
	s.stopOnce.Do(func() {
		s.cc.Stop()
		s.conn.untrack(s)
		s.conn.log.Info("Subscription stopped", "subject", s.opts.Subject, "queue_group", s.opts.QueueGroup)
	})
}

// Info fetches the broker's view of the durable consumer.
func (s *Subscription) Info(ctx context.Context) (*jetstream.ConsumerInfo, error) {
	return s.consumer.Info(ctx)
}

// Listen opens exactly one subscription for l. Messages are handed to
// HandleMessage one at a time until ctx is done, the subscription is
// stopped or the connection closes.
func Listen[E messages.Event](ctx context.Context, conn *Conn, l Listener[E], opts ...ListenOption) (*Subscription, error) {
	if err := messages.Check[E](conn.registry); err != nil {
		return nil, err
	}
	so, err := SubscriptionOptionsFor(l, opts...)
	if err != nil {
		return nil, err
	}
	if err := conn.ensureConnected(); err != nil {
		return nil, err
	}

	ch, err := conn.channel(ctx, so.Subject)
	if err != nil {
		return nil, err
	}

	consumer, err := conn.js.CreateOrUpdateConsumer(ctx, ch.stream, so.consumerConfig(ch))
	if err != nil {
		return nil, fmt.Errorf("create %s consumer on %s: %w", so.DurableName, ch.stream, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		opts:     so,
		channel:  ch,
		conn:     conn,
		consumer: consumer,
		cancel:   cancel,
	}
	d := &dispatcher[E]{
		listener: l,
		opts:     so,
		metrics:  conn.metrics,
		log:      conn.log.With("subject", so.Subject, "queue_group", so.QueueGroup),
	}

	consumeOpts := []jetstream.PullConsumeOpt{
		jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
			d.log.Warn("Consume error", "err", err)
		}),
	}
	if so.MaxInFlight > 0 {
		consumeOpts = append(consumeOpts, jetstream.PullMaxMessages(so.MaxInFlight))
	}

	cc, err := consumer.Consume(func(m jetstream.Msg) { d.dispatch(subCtx, m) }, consumeOpts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("consume %s: %w", ch.stream, err)
	}
	sub.cc = cc
	conn.track(sub)
	context.AfterFunc(subCtx, sub.stop)

	d.log.Info("Listening", "stream", ch.stream, "durable", so.DurableName, "ack_wait", so.AckWait)
	return sub, nil
}

type dispatcher[E messages.Event] struct {
	listener Listener[E]
	opts     SubscriptionOptions
	metrics  *Metrics
	log      *slog.Logger
}

// dispatch runs one delivery through decode, handle and ack accounting.
func (d *dispatcher[E]) dispatch(ctx context.Context, raw jetstream.Msg) {
	meta, err := raw.Metadata()
	if err != nil {
		d.log.Error("Message metadata unavailable; leaving for redelivery", "err", err)
		return
	}
	msg := &Msg{raw: raw, meta: meta, subject: d.opts.Subject}
	log := d.log.With("seq", meta.Sequence.Stream, "delivery", meta.NumDelivered)

	d.metrics.observeDelivery(d.opts.Subject, d.opts.QueueGroup, msg.Redelivered())
	log.Info("Received event", "data", string(raw.Data()))

	event, err := messages.Decode[E](raw.Data())
	if err != nil {
		d.metrics.observeDecodeError(d.opts.Subject, d.opts.QueueGroup)
		log.Error("Undecodable message; leaving for redelivery", "err", err)
		return
	}

	start := time.Now()
	err = d.handle(slogctx.NewCtx(ctx, log), event, msg)
	elapsed := time.Since(start)
	d.metrics.observeHandled(d.opts.Subject, d.opts.QueueGroup, elapsed, err, msg.Acked())

	switch {
	case err != nil:
		herr := &HandlerError{Subject: d.opts.Subject, QueueGroup: d.opts.QueueGroup, Sequence: meta.Sequence.Stream, Err: err}
		log.Error("Handler failed; leaving for redelivery", "err", herr, "ack_wait", d.opts.AckWait, "acked", msg.Acked())
	case !msg.Acked():
		log.Warn("Handler returned without ack; message will be redelivered", "ack_wait", d.opts.AckWait)
	default:
		log.Debug("Event acknowledged", "duration", elapsed)
	}
}

func (d *dispatcher[E]) handle(ctx context.Context, event E, msg *Msg) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.listener.HandleMessage(ctx, event, msg)
}
