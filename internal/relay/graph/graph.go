// Package graph implements a relay connector that sends messages via the
// Microsoft Graph API using OAuth2 client credentials.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/shineum/inquiry-relay/internal/email"
	"github.com/shineum/inquiry-relay/internal/relay"
)

// Config holds the app registration and mailbox used for sending.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// Mailbox is the user principal whose mailbox sends the message.
	Mailbox string
}

// Connector acquires a Graph access token as its handshake. The token's
// lifetime bounds the handle's.
// @MX:ANCHOR: [AUTO] External system integration point for Microsoft Graph API
// @MX:REASON: All deliveries flow through this connector when PROVIDER=graph
type Connector struct {
	creds      credentials
	sendURL    string
	httpClient *http.Client
}

// New creates a Connector with the given configuration.
func New(cfg Config) *Connector {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	sendURL := fmt.Sprintf(
		"https://graph.microsoft.com/v1.0/users/%s/sendMail",
		url.PathEscape(cfg.Mailbox),
	)
	return newWithOverrides(cfg, sendURL, tokenURL, &http.Client{})
}

// newWithOverrides creates a Connector with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg Config, sendURL, tokenURL string, client *http.Client) *Connector {
	return &Connector{
		creds: credentials{
			tokenURL:     tokenURL,
			clientID:     cfg.ClientID,
			clientSecret: cfg.ClientSecret,
			scope:        defaultScope,
		},
		sendURL:    sendURL,
		httpClient: client,
	}
}

// Name returns the connector name.
func (c *Connector) Name() string {
	return "msgraph"
}

// Connect fetches an access token. Bad credentials fail here rather than on
// the first send.
func (c *Connector) Connect(ctx context.Context) (relay.Handle, error) {
	token, err := fetchToken(ctx, c.httpClient, c.creds)
	if err != nil {
		return nil, err
	}
	return &handle{
		token:      token,
		sendURL:    c.sendURL,
		httpClient: c.httpClient,
	}, nil
}

type handle struct {
	token      accessToken
	sendURL    string
	httpClient *http.Client
	revoked    atomic.Bool
}

// Send performs one sendMail request. A 401 marks the token revoked so the
// pool fetches a new one on the next request.
func (h *handle) Send(ctx context.Context, msg *email.Message) error {
	body, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.sendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.token.value)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Graph API request failed: %w", err)
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	if resp.StatusCode == http.StatusUnauthorized {
		h.revoked.Store(true)
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return newSendError(resp.StatusCode, respBody)
}

// Expired reports a token past its lifetime or rejected by the API.
func (h *handle) Expired() bool {
	return h.revoked.Load() || h.token.expired(time.Now())
}

// Close is a no-op; tokens cannot be revoked client-side.
func (h *handle) Close() error {
	return nil
}

// SendError is a non-success response from the sendMail endpoint.
type SendError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *SendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("Graph API error (HTTP %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.StatusCode, e.Message)
}

func newSendError(status int, body []byte) *SendError {
	var resp graphErrorResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error.Message != "" {
		return &SendError{StatusCode: status, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return &SendError{StatusCode: status, Message: string(body)}
}
