package intake

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"strings"
	"unicode"
)

const (
	defaultMaxBodyBytes  = 256 << 20
	defaultMaxFieldBytes = 64 << 10
)

var (
	// ErrMalformedBody matches every *MalformedBodyError.
	ErrMalformedBody = errors.New("malformed multipart body")

	// ErrBodyTooLarge is returned when the request body exceeds MaxBodyBytes.
	ErrBodyTooLarge = errors.New("request body too large")

	// ErrDiscarded is returned by Attachment.Open for a part whose content
	// was counted but not kept because it could not fit SpoolLimits.
	ErrDiscarded = errors.New("attachment content discarded")
)

// MalformedBodyError reports a body that is not well-formed multipart data.
type MalformedBodyError struct {
	Reason string
	Err    error
}

func (e *MalformedBodyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed multipart body: %s: %v", e.Reason, e.Err)
	}
	return "malformed multipart body: " + e.Reason
}

func (e *MalformedBodyError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrMalformedBody) hold for any MalformedBodyError.
func (e *MalformedBodyError) Is(target error) bool { return target == ErrMalformedBody }

// SpoolLimits mirror the attachment quota. Parts are admitted first come
// first served under the same rules; a part that cannot be admitted is read
// to the end so its size is known, but its content is not written to disk.
// A non-positive limit disables its check.
type SpoolLimits struct {
	MaxCount      int
	MaxItemBytes  int64
	MaxTotalBytes int64
}

// DecoderConfig bounds what a single request may carry.
type DecoderConfig struct {
	// MaxBodyBytes caps the whole request body. Zero means 256 MB. It is a
	// denial-of-service bound: a larger body fails with ErrBodyTooLarge
	// whatever the quota mode.
	MaxBodyBytes int64

	// Spool keeps disk use within the quota.
	Spool SpoolLimits

	// MaxFieldBytes caps a single text field value. Zero means 64 KB.
	MaxFieldBytes int64

	// TempDir is where attachment content is spooled. Empty means os.TempDir.
	TempDir string
}

// Decoder turns multipart/form-data requests into submissions. It applies
// no policy beyond byte caps.
type Decoder struct {
	cfg DecoderConfig
}

// NewDecoder creates a Decoder, filling zero config values with defaults.
func NewDecoder(cfg DecoderConfig) *Decoder {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.MaxFieldBytes <= 0 {
		cfg.MaxFieldBytes = defaultMaxFieldBytes
	}
	return &Decoder{cfg: cfg}
}

// DecodeRequest decodes the body of r. w may be nil; when set, the server is
// told to close the connection once the body cap is hit.
func (d *Decoder) DecodeRequest(w http.ResponseWriter, r *http.Request) (*Submission, error) {
	body := http.MaxBytesReader(w, r.Body, d.cfg.MaxBodyBytes)
	return d.Decode(body, r.Header.Get("Content-Type"))
}

// Decode reads a multipart body delimited by the boundary in contentType.
// File parts are spooled to disk and exposed as one-shot attachments;
// zero-byte file parts are dropped. Duplicate field keys keep the first
// value.
func (d *Decoder) Decode(body io.Reader, contentType string) (*Submission, error) {
	if contentType == "" {
		return nil, &MalformedBodyError{Reason: "missing content type"}
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, &MalformedBodyError{Reason: "unparseable content type", Err: err}
	}
	if mediaType != "multipart/form-data" {
		return nil, &MalformedBodyError{Reason: "unsupported content type " + mediaType}
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, &MalformedBodyError{Reason: "multipart body missing boundary"}
	}

	sub := &Submission{}
	if err := d.readParts(multipart.NewReader(body, boundary), sub); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

// spoolBudget tracks the parts admitted to disk so far.
type spoolBudget struct {
	count int
	bytes int64
}

func (d *Decoder) readParts(reader *multipart.Reader, sub *Submission) error {
	seen := make(map[string]bool)
	var budget spoolBudget

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return classifyReadError("failed to read next part", err)
		}

		if isFilePart(part) {
			att, err := d.spool(sub, part, &budget)
			part.Close()
			if err != nil {
				return err
			}
			if att != nil {
				sub.Attachments = append(sub.Attachments, att)
			}
			continue
		}

		key := part.FormName()
		value, err := d.readField(part)
		part.Close()
		if err != nil {
			return err
		}
		if key == "" {
			slog.Debug("form part without a name, skipping")
			continue
		}
		if seen[key] {
			slog.Warn("duplicate form field, keeping first value", "field", key)
			continue
		}
		seen[key] = true
		sub.Fields.Set(key, value)
	}
}

// readField reads a text field value, normalizing CRLF line endings.
func (d *Decoder) readField(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, d.cfg.MaxFieldBytes+1))
	if err != nil {
		return "", classifyReadError("failed to read field", err)
	}
	if int64(len(data)) > d.cfg.MaxFieldBytes {
		return "", &MalformedBodyError{
			Reason: fmt.Sprintf("field %q exceeds %d bytes", part.FormName(), d.cfg.MaxFieldBytes),
		}
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}

// spool streams a file part into the submission's spool directory. It
// returns a nil attachment for an empty part. A part beyond the spool limits
// is drained and returned with its full size but no content.
func (d *Decoder) spool(sub *Submission, part *multipart.Part, budget *spoolBudget) (*Attachment, error) {
	contentType := partContentType(part)
	name := displayName(part.FileName(), contentType)

	limit, ok := d.spoolLimit(budget)
	if !ok {
		n, err := io.Copy(io.Discard, part)
		if err != nil {
			return nil, classifyReadError("failed to read file part", err)
		}
		return discarded(name, contentType, n), nil
	}

	if sub.spoolDir == "" {
		dir, err := os.MkdirTemp(d.cfg.TempDir, "inquiry-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create spool directory: %w", err)
		}
		sub.spoolDir = dir
	}

	f, err := os.CreateTemp(sub.spoolDir, "part-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	src := io.Reader(part)
	if limit > 0 {
		src = io.LimitReader(part, limit+1)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(f.Name())
		return nil, classifyReadError("failed to read file part", copyErr)
	}
	if closeErr != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write spool file: %w", closeErr)
	}

	if limit > 0 && n > limit {
		os.Remove(f.Name())
		rest, err := io.Copy(io.Discard, part)
		if err != nil {
			return nil, classifyReadError("failed to read file part", err)
		}
		return discarded(name, contentType, n+rest), nil
	}

	if n == 0 {
		os.Remove(f.Name())
		return nil, nil
	}

	budget.count++
	budget.bytes += n
	spooled := f.Name()
	return NewAttachment(name, contentType, n, func() (io.ReadCloser, error) {
		return os.Open(spooled)
	}), nil
}

// spoolLimit returns how many bytes the next part may spool, with 0 meaning
// unlimited. ok is false when no non-empty part can be admitted any more.
func (d *Decoder) spoolLimit(budget *spoolBudget) (limit int64, ok bool) {
	lim := d.cfg.Spool
	if lim.MaxCount > 0 && budget.count >= lim.MaxCount {
		return 0, false
	}
	limit = lim.MaxItemBytes
	if lim.MaxTotalBytes > 0 {
		left := lim.MaxTotalBytes - budget.bytes
		if left <= 0 {
			return 0, false
		}
		if limit <= 0 || left < limit {
			limit = left
		}
	}
	return max(limit, 0), true
}

// discarded builds the placeholder for a part whose content was not kept.
// Zero-byte parts are dropped as usual.
func discarded(name, contentType string, size int64) *Attachment {
	if size == 0 {
		return nil
	}
	return NewAttachment(name, contentType, size, func() (io.ReadCloser, error) {
		return nil, ErrDiscarded
	})
}

// isFilePart reports whether the part carries a filename parameter. An empty
// filename still marks a file part: browsers send one for an untouched file
// input.
func isFilePart(part *multipart.Part) bool {
	if part.FileName() != "" {
		return true
	}
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return false
	}
	_, ok := params["filename"]
	return ok
}

func partContentType(part *multipart.Part) string {
	mediaType, _, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
	if err != nil || mediaType == "" {
		return "application/octet-stream"
	}
	return mediaType
}

// displayName reduces a client-supplied filename to a printable base name.
func displayName(raw, contentType string) string {
	name := path.Base(strings.ReplaceAll(raw, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if name == "" || name == "." || name == "/" || name == ".." {
		parts := strings.SplitN(contentType, "/", 2)
		if len(parts) == 2 && parts[1] != "octet-stream" {
			return "attachment." + parts[1]
		}
		return "attachment"
	}
	return name
}

func classifyReadError(reason string, err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, maxErr.Limit)
	}
	return &MalformedBodyError{Reason: reason, Err: err}
}
