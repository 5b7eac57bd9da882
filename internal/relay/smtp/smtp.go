// Package smtp implements a relay connector that delivers messages over a
// cached, authenticated SMTP session.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	netmail "net/mail"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/inquiry-relay/internal/email"
	"github.com/shineum/inquiry-relay/internal/relay"
)

const (
	// defaultMaxIdle is how long a session may sit unused before the pool
	// replaces it. Most relays drop idle clients after a few minutes.
	defaultMaxIdle = 60 * time.Second

	// RFC 5321 recommended command and DATA completion timeouts.
	defaultCommandTimeout    = 5 * time.Minute
	defaultSubmissionTimeout = 12 * time.Minute

	quitTimeout = 5 * time.Second
)

// Config holds the relay server settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// ImplicitTLS dials TLS directly (port 465). Otherwise STARTTLS is used
	// when the server offers it.
	ImplicitTLS bool

	// HeloName is sent in EHLO. Empty means "localhost".
	HeloName string

	// TLSConfig overrides the client TLS settings. ServerName defaults to Host.
	TLSConfig *tls.Config

	// MaxIdle bounds how long a verified session is reused without traffic.
	MaxIdle time.Duration
}

// Connector dials and verifies SMTP sessions.
// @MX:ANCHOR: [AUTO] External system integration point for the SMTP relay
// @MX:REASON: All deliveries flow through this connector when PROVIDER=smtp
type Connector struct {
	cfg Config
}

// New creates a Connector with the given configuration.
func New(cfg Config) *Connector {
	if cfg.HeloName == "" {
		cfg.HeloName = "localhost"
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = defaultMaxIdle
	}
	return &Connector{cfg: cfg}
}

// Name returns the connector name.
func (c *Connector) Name() string {
	return "smtp"
}

// Connect dials the relay, upgrades to TLS, authenticates and confirms the
// session with NOOP. The whole handshake is bounded by ctx.
func (c *Connector) Connect(ctx context.Context) (relay.Handle, error) {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))

	client, conn, err := c.open(ctx, addr)
	if err != nil {
		return nil, err
	}

	release := bindContext(ctx, conn)
	err = c.authenticate(ctx, client)
	if release() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		client.Close()
		return nil, err
	}

	h := &handle{
		client:  client,
		conn:    conn,
		maxIdle: c.cfg.MaxIdle,
	}
	h.touch()
	return h, nil
}

// open returns a client that has completed EHLO over the connection it will
// keep using. Without implicit TLS the first connection only reads the EHLO
// extensions; if STARTTLS is offered it is dropped and a second connection
// is upgraded, as go-smtp upgrades only clients it creates itself.
func (c *Connector) open(ctx context.Context, addr string) (*gosmtp.Client, net.Conn, error) {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return nil, nil, err
	}

	release := bindContext(ctx, conn)
	client := gosmtp.NewClient(conn)
	applyTimeouts(ctx, client)
	err = client.Hello(c.cfg.HeloName)
	offered := false
	if err == nil && !c.cfg.ImplicitTLS {
		offered, _ = client.Extension("STARTTLS")
	}
	if release() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("EHLO failed: %w", err)
	}

	if c.cfg.ImplicitTLS {
		return client, conn, nil
	}
	if !offered {
		if c.cfg.Username != "" {
			client.Close()
			return nil, nil, errors.New("relay does not offer STARTTLS; refusing to send credentials in clear text")
		}
		return client, conn, nil
	}
	client.Close()

	conn, err = c.dial(ctx, addr)
	if err != nil {
		return nil, nil, err
	}
	release = bindContext(ctx, conn)
	client, err = gosmtp.NewClientStartTLS(conn, c.tlsConfig())
	if err == nil {
		applyTimeouts(ctx, client)
		// EHLO again over TLS with the configured name.
		if err = client.Hello(c.cfg.HeloName); err != nil {
			client.Close()
		}
	}
	if release() && err == nil {
		client.Close()
		err = ctx.Err()
	}
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("STARTTLS failed: %w", err)
	}
	return client, conn, nil
}

// dial opens the TCP connection, completing the TLS handshake first in
// implicit TLS mode.
func (c *Connector) dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	if !c.cfg.ImplicitTLS {
		return conn, nil
	}

	tlsConn := tls.Client(conn, c.tlsConfig())
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("TLS handshake with %s failed: %w", addr, err)
	}
	return tlsConn, nil
}

// authenticate runs AUTH PLAIN when credentials are configured, then NOOP.
func (c *Connector) authenticate(ctx context.Context, client *gosmtp.Client) error {
	applyTimeouts(ctx, client)

	if c.cfg.Username != "" {
		auth := sasl.NewPlainClient("", c.cfg.Username, c.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("AUTH failed: %w", err)
		}
	}

	if err := client.Noop(); err != nil {
		return fmt.Errorf("NOOP failed: %w", err)
	}
	return nil
}

func (c *Connector) tlsConfig() *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.cfg.TLSConfig != nil {
		cfg = c.cfg.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = c.cfg.Host
	}
	return cfg
}

// handle is one verified SMTP session. Sends are serialized on it; the
// staleness fields are atomic so the pool can poll them without waiting on
// an in-flight send.
type handle struct {
	mu      sync.Mutex
	client  *gosmtp.Client
	conn    net.Conn
	maxIdle time.Duration
	closed  bool

	lastUsed atomic.Int64
	broken   atomic.Bool
}

func (h *handle) touch() {
	h.lastUsed.Store(time.Now().UnixNano())
}

// Send runs one MAIL/RCPT/DATA transaction.
func (h *handle) Send(ctx context.Context, msg *email.Message) error {
	h.touch()

	from, err := envelopeAddress(msg.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	raw, err := email.RenderMIME(msg)
	if err != nil {
		return fmt.Errorf("failed to render message: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.broken.Load() || h.closed {
		return fmt.Errorf("%w: session no longer usable", relay.ErrConnectionLost)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	release := bindContext(ctx, h.conn)
	defer func() {
		if release() {
			h.broken.Store(true)
		}
	}()

	h.touch()
	applyTimeouts(ctx, h.client)

	if err := h.client.Mail(from, nil); err != nil {
		return h.fail("MAIL FROM", err)
	}
	for _, to := range msg.To {
		rcpt, err := envelopeAddress(to)
		if err != nil {
			h.reset()
			return fmt.Errorf("invalid recipient %q: %w", to, err)
		}
		if err := h.client.Rcpt(rcpt, nil); err != nil {
			return h.fail("RCPT TO", err)
		}
	}

	w, err := h.client.Data()
	if err != nil {
		return h.fail("DATA", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return h.fail("DATA write", err)
	}
	if err := w.Close(); err != nil {
		return h.fail("DATA end", err)
	}
	h.touch()
	return nil
}

// fail classifies a transaction error. A protocol reply from the server
// leaves the session usable once reset; anything else means the connection
// is gone. The caller must hold h.mu.
func (h *handle) fail(stage string, err error) error {
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) && h.reset() {
		return fmt.Errorf("%s rejected: %w", stage, err)
	}
	h.broken.Store(true)
	return fmt.Errorf("%s failed: %w: %w", stage, relay.ErrConnectionLost, err)
}

// reset aborts the current transaction. The caller must hold h.mu.
func (h *handle) reset() bool {
	if err := h.client.Reset(); err != nil {
		h.broken.Store(true)
		return false
	}
	return true
}

// Expired reports a session that has idled too long or broke.
func (h *handle) Expired() bool {
	idle := time.Since(time.Unix(0, h.lastUsed.Load()))
	return h.broken.Load() || idle > h.maxIdle
}

// Close sends QUIT and closes the connection, waiting for any in-flight send.
func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	if !h.broken.Load() {
		h.client.CommandTimeout = quitTimeout
		if err := h.client.Quit(); err == nil {
			return nil
		}
	}
	return h.client.Close()
}

// applyTimeouts caps go-smtp's per-command deadlines at the time left on
// ctx. go-smtp sets a fresh deadline before every command, so a deadline set
// directly on the connection would be overwritten.
func applyTimeouts(ctx context.Context, client *gosmtp.Client) {
	cmd, submit := defaultCommandTimeout, defaultSubmissionTimeout
	if dl, ok := ctx.Deadline(); ok {
		left := max(time.Until(dl), time.Millisecond)
		cmd, submit = min(cmd, left), min(submit, left)
	}
	client.CommandTimeout = cmd
	client.SubmissionTimeout = submit
}

// bindContext closes conn if ctx ends before the returned release func is
// called, which unblocks any pending I/O. release reports whether that
// happened; the connection is then unusable.
func bindContext(ctx context.Context, conn net.Conn) (release func() bool) {
	done := make(chan struct{})
	exited := make(chan struct{})
	var aborted bool
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			aborted = true
			conn.Close()
		case <-done:
		}
	}()

	return func() bool {
		close(done)
		<-exited
		return aborted
	}
}

// envelopeAddress extracts the bare address from a header-style address.
func envelopeAddress(raw string) (string, error) {
	addr, err := netmail.ParseAddress(raw)
	if err != nil {
		return "", err
	}
	return addr.Address, nil
}
