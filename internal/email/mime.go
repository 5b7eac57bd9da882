package email

import (
	"bytes"
	"fmt"
	"io"
	netmail "net/mail"
	"time"

	"github.com/emersion/go-message/mail"
)

// WriteMIME renders msg as an RFC 5322 multipart/mixed message. The text
// body is the first part; attachments follow in slice order.
func WriteMIME(w io.Writer, msg *Message) error {
	var h mail.Header

	from, err := parseAddress(msg.From)
	if err != nil {
		return fmt.Errorf("invalid From address: %w", err)
	}
	h.SetAddressList("From", []*mail.Address{from})

	to := make([]*mail.Address, 0, len(msg.To))
	for _, raw := range msg.To {
		addr, err := parseAddress(raw)
		if err != nil {
			return fmt.Errorf("invalid To address %q: %w", raw, err)
		}
		to = append(to, addr)
	}
	h.SetAddressList("To", to)

	// A bad visitor address only costs the Reply-To header.
	if msg.ReplyTo != "" {
		if replyTo, err := parseAddress(msg.ReplyTo); err == nil {
			h.SetAddressList("Reply-To", []*mail.Address{replyTo})
		}
	}

	h.SetSubject(msg.Subject)
	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	if msg.MessageID != "" {
		h.SetMessageID(msg.MessageID)
	}

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return fmt.Errorf("failed to create message writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("failed to create inline writer: %w", err)
	}
	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	tw, err := iw.CreatePart(th)
	if err != nil {
		return fmt.Errorf("failed to create body part: %w", err)
	}
	if _, err := io.WriteString(tw, msg.TextBody); err != nil {
		return fmt.Errorf("failed to write body part: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to close body part: %w", err)
	}
	if err := iw.Close(); err != nil {
		return fmt.Errorf("failed to close inline writer: %w", err)
	}

	for _, att := range msg.Attachments {
		var ah mail.AttachmentHeader
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		ah.SetContentType(contentType, nil)
		ah.SetFilename(att.Filename)

		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := aw.Write(att.Content); err != nil {
			return fmt.Errorf("failed to write attachment %q: %w", att.Filename, err)
		}
		if err := aw.Close(); err != nil {
			return fmt.Errorf("failed to close attachment %q: %w", att.Filename, err)
		}
	}

	return mw.Close()
}

// RenderMIME is WriteMIME into a fresh buffer.
func RenderMIME(msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteMIME(&buf, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parseAddress(raw string) (*mail.Address, error) {
	addr, err := netmail.ParseAddress(raw)
	if err != nil {
		return nil, err
	}
	return &mail.Address{Name: addr.Name, Address: addr.Address}, nil
}
