package contact

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/shineum/inquiry-relay/internal/email"
	"github.com/shineum/inquiry-relay/internal/relay"
)

// recordingConnector implements relay.Connector. Handshake and send
// behaviour can be switched between requests.
type recordingConnector struct {
	handshakes    atomic.Int32
	failHandshake atomic.Bool
	failNextSend  atomic.Bool

	mu   sync.Mutex
	sent []*email.Message
}

func (c *recordingConnector) Name() string { return "recording" }

func (c *recordingConnector) Connect(ctx context.Context) (relay.Handle, error) {
	c.handshakes.Add(1)
	if c.failHandshake.Load() {
		return nil, errors.New("535 authentication failed")
	}
	return &recordingHandle{c: c}, nil
}

func (c *recordingConnector) messages() []*email.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*email.Message(nil), c.sent...)
}

type recordingHandle struct {
	c *recordingConnector
}

func (h *recordingHandle) Send(ctx context.Context, msg *email.Message) error {
	if h.c.failNextSend.CompareAndSwap(true, false) {
		return errors.New("write: connection reset by peer")
	}
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	h.c.sent = append(h.c.sent, msg)
	return nil
}

func (h *recordingHandle) Close() error { return nil }
