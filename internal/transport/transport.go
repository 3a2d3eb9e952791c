// Package transport defines the interface for email delivery backends.
package transport

import (
	"context"
	"fmt"

	"github.com/shineum/research-mailer/internal/email"
)

// EmailTransport is the interface that email delivery backends must implement.
// Each transport submits one message to its provider per Send call and does
// not retry.
type EmailTransport interface {
	// Send submits an email message to the provider.
	// It returns an error if the request fails or the provider rejects it.
	Send(ctx context.Context, msg *email.Message) (*Receipt, error)

	// Name returns the human-readable name of this transport.
	Name() string
}

// Receipt is what the provider returned for an accepted message.
type Receipt struct {
	StatusCode int
	MessageID  string
}

// StatusError reports a provider response with an HTTP status of 400 or above.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s rejected the request (HTTP %d)", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s rejected the request (HTTP %d): %s", e.Provider, e.StatusCode, e.Body)
}

// HTTPStatusCode returns the provider's response status.
func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}
