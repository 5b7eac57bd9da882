// Package ses implements a relay connector that sends messages via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/inquiry-relay/internal/email"
	"github.com/shineum/inquiry-relay/internal/relay"
)

// Config holds the settings for the SES connector.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// API is the subset of the SES v2 client the connector uses.
// Used for testing with mock implementations.
type API interface {
	GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Connector verifies SES credentials and hands out a client bound to them.
// @MX:ANCHOR: [AUTO] External system integration point for AWS SES
// @MX:REASON: All deliveries flow through this connector when PROVIDER=ses
type Connector struct {
	newClient func(ctx context.Context) (API, error)
}

// New creates a Connector. AWS configuration is loaded on each handshake so
// rotated credentials are picked up after an invalidation.
func New(cfg Config) *Connector {
	return &Connector{
		newClient: func(ctx context.Context) (API, error) {
			opts := []func(*awsconfig.LoadOptions) error{
				awsconfig.WithRegion(cfg.Region),
			}
			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				opts = append(opts, awsconfig.WithCredentialsProvider(
					credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
				))
			}

			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
			if err != nil {
				return nil, fmt.Errorf("failed to load AWS config: %w", err)
			}
			return sesv2.NewFromConfig(awsCfg), nil
		},
	}
}

// NewWithClient creates a Connector around a fixed client, used for testing.
func NewWithClient(client API) *Connector {
	return &Connector{
		newClient: func(context.Context) (API, error) { return client, nil },
	}
}

// Name returns the connector name.
func (c *Connector) Name() string {
	return "ses"
}

// Connect checks that the account is reachable and allowed to send.
func (c *Connector) Connect(ctx context.Context) (relay.Handle, error) {
	client, err := c.newClient(ctx)
	if err != nil {
		return nil, err
	}

	out, err := client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return nil, fmt.Errorf("SES GetAccount failed: %w", err)
	}
	if !out.SendingEnabled {
		return nil, errors.New("SES sending is disabled for this account")
	}

	return &handle{client: client}, nil
}

type handle struct {
	client API
}

// Send delivers msg with a single SendEmail call. Messages with attachments
// go out as raw MIME; plain ones use the simple content form.
func (h *handle) Send(ctx context.Context, msg *email.Message) error {
	var input *sesv2.SendEmailInput

	if len(msg.Attachments) > 0 {
		raw, err := email.RenderMIME(msg)
		if err != nil {
			return fmt.Errorf("failed to build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			Destination: &types.Destination{ToAddresses: msg.To},
			Content: &types.EmailContent{
				Raw: &types.RawMessage{Data: raw},
			},
		}
	} else {
		input = buildSimpleInput(msg)
	}

	if _, err := h.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("SES SendEmail failed: %w", err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no session.
func (h *handle) Close() error {
	return nil
}

// buildSimpleInput creates a SES SendEmailInput for messages without attachments.
func buildSimpleInput(msg *email.Message) *sesv2.SendEmailInput {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &types.Destination{ToAddresses: msg.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(msg.TextBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	return input
}
