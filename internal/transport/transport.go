package transport

import (
	"context"
)

// Message is one outbound message to a single recipient address.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Messenger sends a message over one channel. Implementations must
// bound their own timeouts; a timeout is reported as an ordinary error
// and recorded as a transport failure by the caller.
type Messenger interface {
	Send(ctx context.Context, msg Message) error
}
