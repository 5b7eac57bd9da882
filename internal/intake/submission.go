// Package intake decodes a contact form POST into a typed submission: a field
// record plus an ordered list of spooled attachments.
package intake

import (
	"errors"
	"io"
	"os"
	"sync"
)

// Wire keys of the known contact form fields.
const (
	KeyName            = "name"
	KeyEmail           = "email"
	KeyPhone           = "phone"
	KeySelectedService = "selectedService"
	KeySubject         = "subject"
	KeyMessage         = "message"
)

// ErrConsumed is returned by Attachment.Open on the second call.
var ErrConsumed = errors.New("attachment content already consumed")

// Field is a form field outside the known set, kept in arrival order.
type Field struct {
	Key   string
	Value string
}

// Fields is the typed record of submitted text fields.
type Fields struct {
	Name            string
	Email           string
	Phone           string
	SelectedService string
	Subject         string
	Message         string
	Extra           []Field
}

// Get resolves a wire key to its submitted value, or "" when absent.
func (f *Fields) Get(key string) string {
	switch key {
	case KeyName:
		return f.Name
	case KeyEmail:
		return f.Email
	case KeyPhone:
		return f.Phone
	case KeySelectedService:
		return f.SelectedService
	case KeySubject:
		return f.Subject
	case KeyMessage:
		return f.Message
	}
	for _, e := range f.Extra {
		if e.Key == key {
			return e.Value
		}
	}
	return ""
}

// Set stores value under key. Callers enforce first-value-wins.
func (f *Fields) Set(key, value string) {
	switch key {
	case KeyName:
		f.Name = value
	case KeyEmail:
		f.Email = value
	case KeyPhone:
		f.Phone = value
	case KeySelectedService:
		f.SelectedService = value
	case KeySubject:
		f.Subject = value
	case KeyMessage:
		f.Message = value
	default:
		f.Extra = append(f.Extra, Field{Key: key, Value: value})
	}
}

// Attachment describes one uploaded file. Name is for display only and must
// never be used to build a filesystem path.
type Attachment struct {
	Name        string
	Size        int64
	ContentType string

	mu     sync.Mutex
	opened bool
	open   func() (io.ReadCloser, error)
}

// NewAttachment builds an attachment around a content opener. The opener is
// called at most once.
func NewAttachment(name, contentType string, size int64, open func() (io.ReadCloser, error)) *Attachment {
	return &Attachment{
		Name:        name,
		Size:        size,
		ContentType: contentType,
		open:        open,
	}
}

// Open returns the attachment content. It succeeds once; later calls return
// ErrConsumed.
func (a *Attachment) Open() (io.ReadCloser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.opened {
		return nil, ErrConsumed
	}
	a.opened = true
	return a.open()
}

// Submission is one decoded contact request. It is immutable after decoding
// and must be closed to release spooled attachment files.
type Submission struct {
	Fields      Fields
	Attachments []*Attachment

	spoolDir string
}

// Close removes any spooled attachment content.
func (s *Submission) Close() error {
	if s.spoolDir == "" {
		return nil
	}
	err := os.RemoveAll(s.spoolDir)
	s.spoolDir = ""
	return err
}
