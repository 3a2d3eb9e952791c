// Package email defines the message model handed to email transports.
package email

import "github.com/google/uuid"

// ContentTypeHTML is the only body content type the dispatcher produces.
const ContentTypeHTML = "text/html"

// Message is a single outbound email. It is built immediately before a send
// and discarded once the transport returns.
type Message struct {
	// ID correlates log lines for one send. It is not sent to the provider
	// unless a transport chooses to.
	ID          string
	From        string
	To          string
	Subject     string
	Body        string
	ContentType string
}

// NewHTML builds a Message whose body is always treated as HTML.
func NewHTML(from, to, subject, body string) *Message {
	return &Message{
		ID:          uuid.NewString(),
		From:        from,
		To:          to,
		Subject:     subject,
		Body:        body,
		ContentType: ContentTypeHTML,
	}
}
