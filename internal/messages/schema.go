package messages

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// =============================================================================
// CORE INTERFACES
// =============================================================================

// Subject names a channel in the messaging cluster.
type Subject string

func (s Subject) String() string { return string(s) }

// Event is a payload bound to exactly one subject.
type Event interface {
	Subject() Subject
	Validate() error
}

// =============================================================================
// SUBJECT CONSTANTS - Single source of truth for all channels
// =============================================================================

const (
	TicketCreated Subject = "ticket:created"
	TicketUpdated Subject = "ticket:updated"
)

// =============================================================================
// TICKET DOMAIN - EVENTS
// =============================================================================

// TicketCreatedEvent is emitted after a ticket has been stored by the tickets service.
type TicketCreatedEvent struct {
	ID     string  `json:"id" required:"true"`
	Title  string  `json:"title" required:"true"`
	Price  float64 `json:"price" required:"true" exclusiveMinimum:"0"`
	UserID string  `json:"userId,omitempty"`
}

func (e TicketCreatedEvent) Subject() Subject { return TicketCreated }
func (e TicketCreatedEvent) Validate() error {
	return validateTicket(e.ID, e.Title, e.Price)
}

// TicketUpdatedEvent carries the full state of a ticket after an edit.
type TicketUpdatedEvent struct {
	ID     string  `json:"id" required:"true"`
	Title  string  `json:"title" required:"true"`
	Price  float64 `json:"price" required:"true" exclusiveMinimum:"0"`
	UserID string  `json:"userId,omitempty"`
}

func (e TicketUpdatedEvent) Subject() Subject { return TicketUpdated }
func (e TicketUpdatedEvent) Validate() error {
	return validateTicket(e.ID, e.Title, e.Price)
}

// =============================================================================
// VALIDATION
// =============================================================================

var (
	errIDRequired    = errors.New("id is required")
	errTitleRequired = errors.New("title is required")
)

func validateTicket(id, title string, price float64) error {
	if strings.TrimSpace(id) == "" {
		return errIDRequired
	}
	if strings.TrimSpace(title) == "" {
		return errTitleRequired
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return fmt.Errorf("price must be greater than 0, got %v", price)
	}
	return nil
}
