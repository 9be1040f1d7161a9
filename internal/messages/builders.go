package messages

// =============================================================================
// CONSTRUCTORS - Easy event creation
// =============================================================================

// NewTicketCreatedEvent creates a ticket created event
func NewTicketCreatedEvent(id, title string, price float64) TicketCreatedEvent {
	return TicketCreatedEvent{
		ID:    id,
		Title: title,
		Price: price,
	}
}

// WithUserID returns a copy of the event owned by userID
func (e TicketCreatedEvent) WithUserID(userID string) TicketCreatedEvent {
	e.UserID = userID
	return e
}

// NewTicketUpdatedEvent creates a ticket updated event
func NewTicketUpdatedEvent(id, title string, price float64) TicketUpdatedEvent {
	return TicketUpdatedEvent{
		ID:    id,
		Title: title,
		Price: price,
	}
}

// WithUserID returns a copy of the event owned by userID
func (e TicketUpdatedEvent) WithUserID(userID string) TicketUpdatedEvent {
	e.UserID = userID
	return e
}

// =============================================================================
// UTILITIES
// =============================================================================

// SubjectNames returns every subject known to the Default registry keyed by
// the payload type name, e.g. "TicketCreatedEvent" -> "ticket:created".
func SubjectNames() map[string]Subject {
	out := make(map[string]Subject)
	for _, c := range Default.Contracts() {
		out[c.TypeName] = c.Subject
	}
	return out
}
