package bus

import (
	"errors"
	"fmt"

	"ticketing/internal/messages"
)

var (
	ErrNotConnected     = errors.New("not connected to the messaging cluster")
	ErrConnectionClosed = errors.New("connection closed")
	ErrClientIDInUse    = errors.New("client id already registered by a live connection")
	ErrInvalidSubject   = errors.New("invalid subject")
	ErrChannelConflict  = errors.New("subject maps to a channel owned by another subject")
)

// ConnectionError is returned by Connect when the cluster cannot be reached or
// the handshake fails. It is fatal to startup; nothing is retried internally.
type ConnectionError struct {
	ClusterID string
	ClientID  string
	URL       string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s as %s (cluster %s): %v", e.URL, e.ClientID, e.ClusterID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PublishError is returned when the broker rejected a message or never
// confirmed that it stored it.
type PublishError struct {
	Subject messages.Subject
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Subject, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// HandlerError wraps a failure raised by a listener's HandleMessage. It is
// only logged; the message stays unacknowledged and the broker redelivers it.
type HandlerError struct {
	Subject    messages.Subject
	QueueGroup string
	Sequence   uint64
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handle %s #%d (queue group %s): %v", e.Subject, e.Sequence, e.QueueGroup, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
