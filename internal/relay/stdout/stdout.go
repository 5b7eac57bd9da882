// Package stdout implements a relay connector that prints messages instead
// of delivering them. Used for local development.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/shineum/inquiry-relay/internal/email"
	"github.com/shineum/inquiry-relay/internal/relay"
)

const separator = "========================================\n"

// Connector writes messages to an io.Writer in a human-readable format.
type Connector struct {
	mu     sync.Mutex
	writer io.Writer
}

// New creates a Connector that writes to os.Stdout.
func New() *Connector {
	return &Connector{writer: os.Stdout}
}

// NewWithWriter creates a Connector that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Connector {
	return &Connector{writer: w}
}

// Name returns the connector name.
func (c *Connector) Name() string {
	return "stdout"
}

// Connect always succeeds; there is nothing to verify.
func (c *Connector) Connect(_ context.Context) (relay.Handle, error) {
	return &handle{c: c}, nil
}

type handle struct {
	c *Connector
}

// Send prints the message headers, body and attachment list.
func (h *handle) Send(_ context.Context, msg *email.Message) error {
	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.To, ", "))
	if msg.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\n", msg.ReplyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	if msg.MessageID != "" {
		fmt.Fprintf(&b, "Message-ID: <%s>\n", msg.MessageID)
	}
	b.WriteString("Body:\n")
	b.WriteString(msg.TextBody + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, humanize.IBytes(uint64(att.Size()))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString(separator)

	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if _, err := io.WriteString(h.c.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close is a no-op.
func (h *handle) Close() error {
	return nil
}
