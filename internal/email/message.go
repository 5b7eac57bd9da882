// Package email defines the outbound notification message relayed to the
// company inbox and its MIME rendering.
package email

import "time"

// Message is a composed notification ready for delivery.
type Message struct {
	From        string
	To          []string
	ReplyTo     string
	Subject     string
	TextBody    string
	Attachments []Attachment
	MessageID   string
	Date        time.Time
}

// Attachment is a file bound to a message at compose time.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Size returns the attachment length in bytes.
func (a Attachment) Size() int64 {
	return int64(len(a.Content))
}
