package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// defaultConnectTimeout bounds a handshake when no timeout is configured.
const defaultConnectTimeout = 10 * time.Second

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("relay pool closed")

// State is the lifecycle state of the pooled handle.
type State int32

const (
	StateUninitialized State = iota
	StateVerifying
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateVerifying:
		return "verifying"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Pool owns the one live relay handle of the process. The handle is created
// lazily on first Acquire; concurrent cold-start callers share a single
// handshake. A failed handshake leaves the pool uninitialized so the next
// caller starts over.
//
// Every successful Acquire leases the handle until the matching Release. A
// handle that expires or is invalidated while leased is detached at once but
// only closed when its last lease is released.
type Pool struct {
	connector      Connector
	connectTimeout time.Duration

	group      singleflight.Group
	handshakes atomic.Int64

	mu      sync.Mutex
	handle  Handle
	state   State
	closed  bool
	leases  map[Handle]int
	retired map[Handle]bool
}

// NewPool creates an empty pool. connectTimeout bounds each handshake.
func NewPool(connector Connector, connectTimeout time.Duration) *Pool {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	return &Pool{
		connector:      connector,
		connectTimeout: connectTimeout,
		leases:         make(map[Handle]int),
		retired:        make(map[Handle]bool),
	}
}

// Name returns the name of the underlying relay.
func (p *Pool) Name() string {
	return p.connector.Name()
}

// Acquire returns the ready handle, performing the handshake if there is
// none. If ctx ends first the caller stops waiting, but an in-flight
// handshake keeps running for the other waiters. The caller must pass the
// returned handle to Release once it is done sending.
func (p *Pool) Acquire(ctx context.Context) (Handle, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		h, expired := p.currentLocked()
		if h != nil {
			p.leases[h]++
		}
		p.mu.Unlock()
		closeExpired(expired)
		if h != nil {
			return h, nil
		}

		ch := p.group.DoChan("connect", func() (any, error) {
			return p.connect()
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-ch:
		}
		if res.Err != nil {
			return nil, res.Err
		}

		h = res.Val.(Handle)
		p.mu.Lock()
		current := p.handle == h
		if current {
			p.leases[h]++
		}
		p.mu.Unlock()
		if current {
			return h, nil
		}
		// Replaced between the handshake and this lease; take the new one.
	}
}

// Release ends a lease taken by Acquire. A retired handle is closed when its
// last lease ends.
func (p *Pool) Release(h Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	var toClose Handle
	if n := p.leases[h] - 1; n > 0 {
		p.leases[h] = n
	} else {
		delete(p.leases, h)
		if p.retired[h] {
			delete(p.retired, h)
			toClose = h
		}
	}
	p.mu.Unlock()

	if toClose != nil {
		if err := toClose.Close(); err != nil {
			slog.Debug("closing retired relay handle", "error", err)
		}
	}
}

// connect runs one handshake. It is only ever called inside the
// singleflight group.
func (p *Pool) connect() (Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	current, expired := p.currentLocked()
	if current != nil {
		p.mu.Unlock()
		return current, nil
	}
	p.state = StateVerifying
	p.mu.Unlock()
	closeExpired(expired)

	// Not tied to any one caller: every waiter depends on this handshake.
	ctx, cancel := context.WithTimeout(context.Background(), p.connectTimeout)
	defer cancel()

	p.handshakes.Add(1)
	start := time.Now()
	h, err := p.connector.Connect(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.state = StateUninitialized
		slog.Error("relay handshake failed",
			"provider", p.connector.Name(),
			"duration", time.Since(start),
			"error", err,
		)
		return nil, fmt.Errorf("%s handshake failed: %w", p.connector.Name(), err)
	}
	if p.closed {
		h.Close()
		p.state = StateUninitialized
		return nil, ErrPoolClosed
	}

	p.handle = h
	p.state = StateReady
	slog.Info("relay handle ready",
		"provider", p.connector.Name(),
		"duration", time.Since(start),
	)
	return h, nil
}

// currentLocked returns the live handle, or nil. An expired handle is
// detached; if nobody holds a lease on it, it is returned separately so the
// caller can close it outside the lock. The caller must hold p.mu.
func (p *Pool) currentLocked() (live, expired Handle) {
	if p.handle == nil {
		return nil, nil
	}
	if e, ok := p.handle.(Expirer); ok && e.Expired() {
		h := p.handle
		p.handle = nil
		p.state = StateUninitialized
		return nil, p.retireLocked(h)
	}
	return p.handle, nil
}

// retireLocked detaches h from future use. It returns h when it can be
// closed now, or nil when open leases defer the close to Release. The caller
// must hold p.mu.
func (p *Pool) retireLocked(h Handle) Handle {
	if p.leases[h] > 0 {
		p.retired[h] = true
		return nil
	}
	return h
}

func closeExpired(h Handle) {
	if h == nil {
		return
	}
	slog.Debug("replacing expired relay handle")
	if err := h.Close(); err != nil {
		slog.Debug("closing expired relay handle", "error", err)
	}
}

// Invalidate drops h if it is still the current handle, so the next Acquire
// performs a fresh handshake. Invalidating a stale handle is a no-op.
func (p *Pool) Invalidate(h Handle) {
	p.mu.Lock()
	if h == nil || p.handle != h {
		p.mu.Unlock()
		return
	}
	p.handle = nil
	p.state = StateUninitialized
	toClose := p.retireLocked(h)
	p.mu.Unlock()

	slog.Warn("relay handle invalidated", "provider", p.connector.Name())
	if toClose != nil {
		if err := toClose.Close(); err != nil {
			slog.Debug("closing invalidated relay handle", "error", err)
		}
	}
}

// State reports the current lifecycle state.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Handshakes returns how many handshakes have been attempted.
func (p *Pool) Handshakes() int64 {
	return p.handshakes.Load()
}

// Close retires the handle; it is closed now, or by the last Release if a
// send is still in flight. Acquire fails afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	var h Handle
	if p.handle != nil {
		h = p.retireLocked(p.handle)
	}
	p.handle = nil
	p.state = StateUninitialized
	p.closed = true
	p.mu.Unlock()

	if h != nil {
		return h.Close()
	}
	return nil
}
