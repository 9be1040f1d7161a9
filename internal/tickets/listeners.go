package tickets

import (
	"context"
	"encoding/json"
	"fmt"

	"ticketing/internal/bus"
	"ticketing/internal/messages"

	jsonpatch "github.com/evanphx/json-patch/v5"
	slogctx "github.com/veqryn/slog-context"
)

// DefaultQueueGroup is the queue group the replica listeners join.
const DefaultQueueGroup = "orders-service"

// TicketCreatedListener inserts newly created tickets into the replica.
type TicketCreatedListener struct {
	Store Store
	Group string
}

func (l *TicketCreatedListener) QueueGroup() string { return groupOrDefault(l.Group) }

func (l *TicketCreatedListener) HandleMessage(ctx context.Context, e messages.TicketCreatedEvent, m *bus.Msg) error {
	applied, err := l.apply(ctx, e, m.Sequence())
	if err != nil {
		return err
	}

	slogctx.FromCtx(ctx).Info("Ticket created", "ticket_id", e.ID, "title", e.Title, "price", e.Price, "applied", applied)
	return m.Ack()
}

// apply stores e and reports whether the ticket fields were written.
func (l *TicketCreatedListener) apply(ctx context.Context, e messages.TicketCreatedEvent, seq uint64) (bool, error) {
	var applied bool
	err := l.Store.Mutate(ctx, e.ID, func(t *Ticket, exists bool) (bool, error) {
		// Mutate may run this more than once.
		applied = false
		if exists {
			// An update got here first; it already carries newer fields.
			if t.CreatedSeq != 0 {
				return false, nil
			}
			t.CreatedSeq = seq
			return true, nil
		}
		*t = Ticket{ID: e.ID, Title: e.Title, Price: e.Price, UserID: e.UserID, CreatedSeq: seq}
		applied = true
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("store ticket %s: %w", e.ID, err)
	}
	return applied, nil
}

// TicketUpdatedListener merges ticket updates into the replica. Each update
// is applied at most once and only if it is newer than the last applied one,
// so redeliveries and out-of-order deliveries never roll a ticket back.
type TicketUpdatedListener struct {
	Store Store
	Group string
}

func (l *TicketUpdatedListener) QueueGroup() string { return groupOrDefault(l.Group) }

func (l *TicketUpdatedListener) HandleMessage(ctx context.Context, e messages.TicketUpdatedEvent, m *bus.Msg) error {
	applied, err := l.apply(ctx, e, m.Sequence())
	if err != nil {
		return err
	}

	log := slogctx.FromCtx(ctx)
	if applied {
		log.Info("Ticket updated", "ticket_id", e.ID, "title", e.Title, "price", e.Price)
	} else {
		log.Info("Stale ticket update skipped", "ticket_id", e.ID)
	}
	return m.Ack()
}

// apply merges e into the stored ticket unless seq is not newer than the
// last applied update.
func (l *TicketUpdatedListener) apply(ctx context.Context, e messages.TicketUpdatedEvent, seq uint64) (bool, error) {
	patch, err := json.Marshal(e)
	if err != nil {
		return false, err
	}

	var applied bool
	err = l.Store.Mutate(ctx, e.ID, func(t *Ticket, exists bool) (bool, error) {
		// Mutate may run this more than once.
		applied = false
		if exists && seq <= t.UpdatedSeq {
			return false, nil
		}
		if !exists {
			t.ID = e.ID
		}
		if err := mergeTicket(t, patch); err != nil {
			return false, err
		}
		t.UpdatedSeq = seq
		applied = true
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("update ticket %s: %w", e.ID, err)
	}
	return applied, nil
}

// mergeTicket applies patch to t as a JSON merge patch; absent optional
// fields keep their stored value.
func mergeTicket(t *Ticket, patch []byte) error {
	current, err := json.Marshal(t)
	if err != nil {
		return err
	}
	merged, err := jsonpatch.MergePatch(current, patch)
	if err != nil {
		return fmt.Errorf("merge ticket %s: %w", t.ID, err)
	}
	var out Ticket
	if err := json.Unmarshal(merged, &out); err != nil {
		return err
	}
	*t = out
	return nil
}

func groupOrDefault(g string) string {
	if g == "" {
		return DefaultQueueGroup
	}
	return g
}

// Listen subscribes both replica listeners on conn and returns their
// subscriptions.
func Listen(ctx context.Context, conn *bus.Conn, store Store, group string, opts ...bus.ListenOption) ([]*bus.Subscription, error) {
	created, err := bus.Listen[messages.TicketCreatedEvent](ctx, conn, &TicketCreatedListener{Store: store, Group: group}, opts...)
	if err != nil {
		return nil, err
	}
	updated, err := bus.Listen[messages.TicketUpdatedEvent](ctx, conn, &TicketUpdatedListener{Store: store, Group: group}, opts...)
	if err != nil {
		created.Stop()
		return nil, err
	}
	return []*bus.Subscription{created, updated}, nil
}
