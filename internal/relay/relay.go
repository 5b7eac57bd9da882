// Package relay delivers composed messages to the company inbox through a
// single verified, process-wide transport handle.
package relay

import (
	"context"
	"errors"

	"github.com/shineum/inquiry-relay/internal/email"
)

// ErrConnectionLost marks a send failure that left the handle unusable even
// if the caller's context was the trigger.
var ErrConnectionLost = errors.New("relay connection lost")

// Handle is a verified session with the outbound relay. Send must be safe
// for concurrent use.
type Handle interface {
	// Send delivers one message. It never retries.
	Send(ctx context.Context, msg *email.Message) error

	// Close releases the underlying connection or client.
	Close() error
}

// Connector creates handles for one kind of relay (SMTP server, SES,
// Microsoft Graph, stdout).
type Connector interface {
	// Connect performs the connectivity-verifying handshake and returns a
	// ready handle.
	Connect(ctx context.Context) (Handle, error)

	// Name returns the human-readable name of the relay.
	Name() string
}

// Expirer is implemented by handles that go stale on their own, such as idle
// SMTP sessions or expiring OAuth tokens. The pool replaces an expired handle
// on the next Acquire.
type Expirer interface {
	Expired() bool
}
