package graph

import (
	"encoding/base64"
	netmail "net/mail"

	"github.com/shineum/inquiry-relay/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject      string           `json:"subject"`
	Body         messageBody      `json:"body"`
	ToRecipients []recipient      `json:"toRecipients"`
	ReplyTo      []recipient      `json:"replyTo,omitempty"`
	Attachments  []fileAttachment `json:"attachments,omitempty"`
	Headers      []internetHeader `json:"internetMessageHeaders,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

type fileAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// internetHeader is a custom header. Graph only accepts names starting with X-.
type internetHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildSendMailRequest converts a message into a sendMail request body.
func buildSendMailRequest(msg *email.Message) *sendMailRequest {
	to := make([]recipient, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, toRecipient(addr))
	}

	var replyTo []recipient
	if msg.ReplyTo != "" {
		replyTo = []recipient{toRecipient(msg.ReplyTo)}
	}

	attachments := make([]fileAttachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachments = append(attachments, fileAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	var headers []internetHeader
	if msg.MessageID != "" {
		headers = append(headers, internetHeader{Name: "X-Inquiry-ID", Value: msg.MessageID})
	}

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject:      msg.Subject,
			Body:         messageBody{ContentType: "text", Content: msg.TextBody},
			ToRecipients: to,
			ReplyTo:      replyTo,
			Attachments:  attachments,
			Headers:      headers,
		},
	}
}

// toRecipient splits "Name <addr>" into its parts, falling back to the raw string.
func toRecipient(raw string) recipient {
	if addr, err := netmail.ParseAddress(raw); err == nil {
		return recipient{EmailAddress: emailAddress{Name: addr.Name, Address: addr.Address}}
	}
	return recipient{EmailAddress: emailAddress{Address: raw}}
}
