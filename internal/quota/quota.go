// Package quota applies count and size limits to the attachments of a
// contact submission.
package quota

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/shineum/inquiry-relay/internal/intake"
)

// Reason says why an attachment was not accepted.
type Reason string

const (
	CountExceeded         Reason = "count_exceeded"
	PerItemSizeExceeded   Reason = "per_item_size_exceeded"
	AggregateSizeExceeded Reason = "aggregate_size_exceeded"
)

// Mode selects what a violation does to the request as a whole.
type Mode string

const (
	// ModeDrop delivers the accepted subset and reports the rest.
	ModeDrop Mode = "drop"
	// ModeReject fails the whole request on any violation.
	ModeReject Mode = "reject"
)

// Policy holds the configured limits. A non-positive limit disables its check.
type Policy struct {
	MaxCount      int
	MaxItemBytes  int64
	MaxTotalBytes int64
	Mode          Mode
}

// Rejection records one attachment that did not fit the policy.
type Rejection struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Reason Reason `json:"reason"`
}

func (r Rejection) String() string {
	return fmt.Sprintf("%s (%s): %s", r.Name, humanize.IBytes(uint64(r.Size)), r.Reason)
}

// Result partitions the input attachments. Both slices keep arrival order.
type Result struct {
	Accepted []*intake.Attachment
	Rejected []Rejection
}

// AcceptedBytes sums the sizes of the accepted attachments.
func (r Result) AcceptedBytes() int64 {
	var total int64
	for _, a := range r.Accepted {
		total += a.Size
	}
	return total
}

// Enforce walks attachments in arrival order, first come first served.
// Zero-byte items are skipped without consuming a slot. For the rest, the
// count cap is checked first, then the per-item cap, then the aggregate cap
// against the running total of accepted bytes. Identical input and policy
// always produce an identical partition.
func Enforce(attachments []*intake.Attachment, p Policy) Result {
	var (
		res   Result
		total int64
	)

	for _, a := range attachments {
		if a == nil || a.Size <= 0 {
			continue
		}

		var reason Reason
		switch {
		case p.MaxCount > 0 && len(res.Accepted) >= p.MaxCount:
			reason = CountExceeded
		case p.MaxItemBytes > 0 && a.Size > p.MaxItemBytes:
			reason = PerItemSizeExceeded
		case p.MaxTotalBytes > 0 && total+a.Size > p.MaxTotalBytes:
			reason = AggregateSizeExceeded
		}

		if reason != "" {
			res.Rejected = append(res.Rejected, Rejection{Name: a.Name, Size: a.Size, Reason: reason})
			continue
		}

		res.Accepted = append(res.Accepted, a)
		total += a.Size
	}

	return res
}
