// Package resend implements an EmailTransport using the Resend API.
package resend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/resend/resend-go/v3"

	"github.com/shineum/research-mailer/internal/email"
	"github.com/shineum/research-mailer/internal/transport"
)

// EmailsAPI is the subset of the Resend emails service this transport uses.
type EmailsAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Transport sends emails through Resend.
type Transport struct {
	emails EmailsAPI
}

// New creates a Transport authenticated with the given API key.
func New(apiKey string) *Transport {
	return NewWithClient(resend.NewClient(apiKey).Emails)
}

// NewWithClient creates a Transport with a custom emails client, used for testing.
func NewWithClient(emails EmailsAPI) *Transport {
	return &Transport{emails: emails}
}

// Send submits a message through a single Emails.Send call. The Resend client
// does not expose the HTTP status of accepted requests, so an accepted message
// is recorded as 200.
func (t *Transport) Send(ctx context.Context, msg *email.Message) (*transport.Receipt, error) {
	req := &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
	}
	if msg.ContentType == email.ContentTypeHTML {
		req.Html = msg.Body
	} else {
		req.Text = msg.Body
	}

	resp, err := t.emails.SendWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("resend: failed to send email: %w", err)
	}

	receipt := &transport.Receipt{StatusCode: http.StatusOK}
	if resp != nil {
		receipt.MessageID = resp.Id
	}
	return receipt, nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "resend"
}
