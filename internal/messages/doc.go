// Package messages provides the event contracts shared by every publisher and
// listener of the ticketing services.
//
// This package consolidates the subject names, payload types and the wire
// codec into a single source of truth, providing:
//
//   - Subject constants to eliminate hardcoded channel names
//   - One payload type per subject, so a publisher and its listeners agree
//     on shape at compile time
//   - A runtime Registry that maps each subject to its payload type and a
//     JSON schema derived from the payload's struct tags
//   - Encode/Decode for the UTF-8 JSON wire format
//
// # Event Types
//
// Every payload implements Event. Its Subject method returns a constant, so
// the subject is a property of the Go type, not of the call site:
//
//	evt := messages.NewTicketCreatedEvent("123", "concert", 20).
//	    WithUserID("u-1")
//
//	data, err := messages.Encode(evt)
//
// # Registry
//
// Default holds the contracts for every subject known to the system. It is
// consulted by publishers before a message is sent and by listeners before a
// subscription is opened:
//
//	if err := messages.Default.Validate(messages.TicketCreated, data); err != nil {
//	    return err
//	}
package messages
