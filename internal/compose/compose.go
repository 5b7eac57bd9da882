// Package compose renders a validated submission into the notification
// message sent to the company inbox.
package compose

import (
	"bytes"
	"context"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shineum/inquiry-relay/internal/email"
	"github.com/shineum/inquiry-relay/internal/intake"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "Website inquiry"

// maxParallelReads bounds concurrent attachment reads per submission.
const maxParallelReads = 4

// notProvided stands in for an empty known field in the body.
const notProvided = "(not provided)"

// Config holds the fixed envelope settings.
type Config struct {
	Sender        string
	Recipients    []string
	SubjectPrefix string
}

// Composer builds outbound messages. It is safe for concurrent use.
type Composer struct {
	cfg    Config
	domain string
	now    func() time.Time
	newID  func() string
}

// New creates a Composer.
func New(cfg Config) *Composer {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	return &Composer{
		cfg:    cfg,
		domain: senderDomain(cfg.Sender),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// knownFields lists the body labels in output order. Message is printed
// last, after any extra fields.
var knownFields = []struct {
	key   string
	label string
}{
	{intake.KeyName, "Name"},
	{intake.KeyEmail, "Email"},
	{intake.KeyPhone, "Phone"},
	{intake.KeySelectedService, "Service"},
	{intake.KeySubject, "Subject"},
}

// Compose reads each accepted attachment once, in parallel, and renders the
// message. Attachment order in the result always matches the input order.
func (c *Composer) Compose(ctx context.Context, fields *intake.Fields, accepted []*intake.Attachment) (*email.Message, error) {
	attachments, err := readAll(ctx, accepted)
	if err != nil {
		return nil, err
	}

	id := c.newID()
	received := c.now()

	return &email.Message{
		From:        c.cfg.Sender,
		To:          c.cfg.Recipients,
		ReplyTo:     replyTo(fields),
		Subject:     c.subject(fields, len(attachments)),
		TextBody:    body(fields, attachments, id, received),
		Attachments: attachments,
		MessageID:   id + "@" + c.domain,
		Date:        received,
	}, nil
}

func (c *Composer) subject(fields *intake.Fields, n int) string {
	var tags []string
	if svc := strings.TrimSpace(fields.SelectedService); svc != "" {
		tags = append(tags, "["+svc+"]")
	}
	if subj := strings.TrimSpace(fields.Subject); subj != "" {
		tags = append(tags, subj)
	}

	s := c.cfg.SubjectPrefix
	if len(tags) > 0 {
		s += ": " + strings.Join(tags, " ")
	}
	switch {
	case n == 1:
		s += " (1 attachment)"
	case n > 1:
		s += fmt.Sprintf(" (%d attachments)", n)
	}
	return s
}

func body(fields *intake.Fields, attachments []email.Attachment, id string, received time.Time) string {
	var b strings.Builder

	for _, f := range knownFields {
		writeField(&b, f.label, fields.Get(f.key))
	}
	for _, e := range fields.Extra {
		writeField(&b, e.Key, e.Value)
	}

	msg := strings.TrimSpace(fields.Message)
	if msg == "" {
		msg = notProvided
	}
	b.WriteString("\nMessage:\n")
	b.WriteString(msg)
	b.WriteString("\n\n")

	if len(attachments) == 0 {
		b.WriteString("Attachments: no attachments\n")
	} else {
		b.WriteString("Attachments:\n")
		for _, a := range attachments {
			fmt.Fprintf(&b, "- %s (%s)\n", a.Filename, humanize.IBytes(uint64(a.Size())))
		}
	}

	fmt.Fprintf(&b, "\nSubmission ID: %s\n", id)
	fmt.Fprintf(&b, "Received at: %s\n", received.UTC().Format(time.RFC3339))
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = notProvided
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}

// readAll opens and buffers each attachment. Results are placed by index.
func readAll(ctx context.Context, accepted []*intake.Attachment) ([]email.Attachment, error) {
	out := make([]email.Attachment, len(accepted))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelReads)
	for i, a := range accepted {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			content, err := read(a)
			if err != nil {
				return fmt.Errorf("failed to read attachment %q: %w", a.Name, err)
			}
			out[i] = email.Attachment{
				Filename:    a.Name,
				ContentType: a.ContentType,
				Content:     content,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func read(a *intake.Attachment) ([]byte, error) {
	rc, err := a.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	buf.Grow(int(a.Size))
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// replyTo addresses replies to the visitor, or returns "" when the submitted
// address does not parse.
func replyTo(fields *intake.Fields) string {
	addr, err := netmail.ParseAddress(strings.TrimSpace(fields.Email))
	if err != nil {
		return ""
	}
	if name := strings.TrimSpace(fields.Name); name != "" && addr.Name == "" {
		addr.Name = name
	}
	return addr.String()
}

func senderDomain(sender string) string {
	if addr, err := netmail.ParseAddress(sender); err == nil {
		if i := strings.LastIndexByte(addr.Address, '@'); i >= 0 {
			return addr.Address[i+1:]
		}
	}
	return "localhost"
}
