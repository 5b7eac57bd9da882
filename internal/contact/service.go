// Package contact runs one contact form submission through validation, the
// attachment quota, composition and delivery.
package contact

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shineum/inquiry-relay/internal/compose"
	"github.com/shineum/inquiry-relay/internal/email"
	"github.com/shineum/inquiry-relay/internal/intake"
	"github.com/shineum/inquiry-relay/internal/quota"
	"github.com/shineum/inquiry-relay/internal/validate"
)

// Sender delivers a composed message. *relay.Dispatcher implements it.
type Sender interface {
	Dispatch(ctx context.Context, msg *email.Message) error
}

// MissingFieldsError lists required fields that were absent or blank.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// QuotaError is returned in reject mode when any attachment broke a limit.
type QuotaError struct {
	Rejected []quota.Rejection
}

func (e *QuotaError) Error() string {
	names := make([]string, 0, len(e.Rejected))
	for _, r := range e.Rejected {
		names = append(names, r.String())
	}
	return "attachment limits exceeded: " + strings.Join(names, "; ")
}

// Result describes a delivered submission.
type Result struct {
	MessageID      string
	FilesProcessed int
	FilesSkipped   []quota.Rejection
}

// Service is the submission pipeline. It is safe for concurrent use.
// @MX:ANCHOR: [AUTO] Core orchestration between intake and relay
// @MX:REASON: Every accepted form POST passes through Submit
type Service struct {
	validator *validate.Validator
	policy    quota.Policy
	composer  *compose.Composer
	sender    Sender
}

// NewService wires the pipeline stages together.
func NewService(v *validate.Validator, policy quota.Policy, c *compose.Composer, s Sender) *Service {
	return &Service{
		validator: v,
		policy:    policy,
		composer:  c,
		sender:    s,
	}
}

// Submit validates and delivers sub. Missing fields take precedence over
// quota violations. In drop mode rejected attachments are logged and left
// out; in reject mode any rejection fails the whole submission. Delivery
// failures are returned as *relay.DeliveryError.
func (s *Service) Submit(ctx context.Context, sub *intake.Submission) (*Result, error) {
	var (
		missing []string
		checked quota.Result
		wg      sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		checked = quota.Enforce(sub.Attachments, s.policy)
	}()
	go func() {
		defer wg.Done()
		missing = s.validator.Missing(&sub.Fields)
	}()
	wg.Wait()

	if len(missing) > 0 {
		return nil, &MissingFieldsError{Fields: missing}
	}

	if len(checked.Rejected) > 0 {
		if s.policy.Mode == quota.ModeReject {
			return nil, &QuotaError{Rejected: checked.Rejected}
		}
		for _, r := range checked.Rejected {
			slog.WarnContext(ctx, "attachment dropped",
				"file", r.Name,
				"size", r.Size,
				"reason", r.Reason,
			)
		}
	}

	msg, err := s.composer.Compose(ctx, &sub.Fields, checked.Accepted)
	if err != nil {
		return nil, fmt.Errorf("failed to compose message: %w", err)
	}

	if err := s.sender.Dispatch(ctx, msg); err != nil {
		return nil, err
	}

	return &Result{
		MessageID:      msg.MessageID,
		FilesProcessed: len(checked.Accepted),
		FilesSkipped:   checked.Rejected,
	}, nil
}
