package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/shineum/inquiry-relay/internal/email"
)

// fakeConnector implements Connector for testing.
type fakeConnector struct {
	connectFn func(ctx context.Context) (Handle, error)
	calls     atomic.Int32
}

func (f *fakeConnector) Connect(ctx context.Context) (Handle, error) {
	f.calls.Add(1)
	if f.connectFn != nil {
		return f.connectFn(ctx)
	}
	return &fakeHandle{}, nil
}

func (f *fakeConnector) Name() string { return "fake" }

// fakeHandle implements Handle for testing.
type fakeHandle struct {
	mu     sync.Mutex
	sendFn func(ctx context.Context, msg *email.Message) error
	sent   []*email.Message
	closed bool
}

func (h *fakeHandle) Send(ctx context.Context, msg *email.Message) error {
	if h.sendFn != nil {
		if err := h.sendFn(ctx, msg); err != nil {
			return err
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, msg)
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

var errHandshake = errors.New("530 authentication required")
