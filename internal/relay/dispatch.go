package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shineum/inquiry-relay/internal/email"
)

// Reason classifies a failed delivery.
type Reason string

const (
	ReasonTransportUnavailable Reason = "transport_unavailable"
	ReasonSendFailed           Reason = "send_failed"
)

var (
	// ErrTransportUnavailable matches a DeliveryError whose handshake failed.
	ErrTransportUnavailable = errors.New("relay transport unavailable")

	// ErrSendFailed matches a DeliveryError whose send failed.
	ErrSendFailed = errors.New("relay send failed")
)

// DeliveryError is returned by Dispatch when a message was not delivered.
type DeliveryError struct {
	Reason   Reason
	Provider string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s failed (%s): %v", e.Provider, e.Reason, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Is lets callers match on ErrTransportUnavailable or ErrSendFailed.
func (e *DeliveryError) Is(target error) bool {
	switch target {
	case ErrTransportUnavailable:
		return e.Reason == ReasonTransportUnavailable
	case ErrSendFailed:
		return e.Reason == ReasonSendFailed
	}
	return false
}

// Dispatcher submits messages through the pool. It makes exactly one send
// attempt per call; retrying is left to the visitor.
type Dispatcher struct {
	pool        *Pool
	sendTimeout time.Duration
}

// NewDispatcher creates a Dispatcher. A positive sendTimeout bounds each send
// in addition to the caller's deadline.
func NewDispatcher(pool *Pool, sendTimeout time.Duration) *Dispatcher {
	return &Dispatcher{pool: pool, sendTimeout: sendTimeout}
}

// Dispatch delivers msg. A nil error means delivered. A handshake failure
// yields ReasonTransportUnavailable without a send. A send failure
// invalidates the handle and yields ReasonSendFailed, except when the only
// cause is the caller's own cancellation on a handle that is still usable.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *email.Message) error {
	h, err := d.pool.Acquire(ctx)
	if err != nil {
		return &DeliveryError{Reason: ReasonTransportUnavailable, Provider: d.pool.Name(), Err: err}
	}
	defer d.pool.Release(h)

	sendCtx := ctx
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := h.Send(sendCtx, msg); err != nil {
		if shouldInvalidate(ctx, err) {
			d.pool.Invalidate(h)
		}
		slog.Error("relay send failed",
			"provider", d.pool.Name(),
			"message_id", msg.MessageID,
			"duration", time.Since(start),
			"error", err,
		)
		return &DeliveryError{Reason: ReasonSendFailed, Provider: d.pool.Name(), Err: err}
	}

	slog.Info("message relayed",
		"provider", d.pool.Name(),
		"message_id", msg.MessageID,
		"attachments", len(msg.Attachments),
		"duration", time.Since(start),
	)
	return nil
}

// shouldInvalidate keeps a handle alive when the caller walked away and the
// relay itself reported nothing wrong with the connection.
func shouldInvalidate(callerCtx context.Context, err error) bool {
	if errors.Is(err, ErrConnectionLost) {
		return true
	}
	if callerCtx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return false
	}
	return true
}
