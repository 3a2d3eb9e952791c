// Package dispatch validates email settings and submits report emails
// through a pluggable transport.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/shineum/research-mailer/internal/email"
	"github.com/shineum/research-mailer/internal/metrics"
	"github.com/shineum/research-mailer/internal/transport"
)

// StatusSuccess is the only status a successful Send reports.
const StatusSuccess = "success"

// DefaultTimeout bounds a send when Config.Timeout is not positive.
const DefaultTimeout = 30 * time.Second

// Config is the dispatcher's read-only configuration, fixed at construction.
type Config struct {
	Sender    string
	Recipient string

	// Credential is the provider secret the transport authenticates with.
	// CredentialName is the setting that supplies it, used in errors.
	Credential     string
	CredentialName string

	// Timeout bounds the transport call. Zero or negative means
	// DefaultTimeout.
	Timeout time.Duration
}

// Result is returned for an accepted message.
type Result struct {
	Status     string `json:"status"`
	StatusCode int    `json:"status_code,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	Transport  string `json:"transport,omitempty"`
}

// Dispatcher sends one email per Send call. It holds no mutable state and is
// safe for concurrent use; concurrent or repeated calls are not deduplicated.
type Dispatcher struct {
	cfg       Config
	transport transport.EmailTransport
}

// New creates a Dispatcher. Settings are not validated until Send.
func New(cfg Config, t transport.EmailTransport) *Dispatcher {
	if cfg.CredentialName == "" {
		cfg.CredentialName = "SENDGRID_API_KEY"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Dispatcher{cfg: cfg, transport: t}
}

// Send emails htmlBody to the configured recipient. The body is passed
// through unmodified with content type text/html.
//
// It returns a *ConfigurationError without contacting the provider when the
// credential, sender, or recipient is empty, and a *TransportError when the
// submission fails. Failed sends are not retried.
func (d *Dispatcher) Send(ctx context.Context, subject, htmlBody string) (*Result, error) {
	name := d.transport.Name()

	if err := d.validate(); err != nil {
		slog.Warn("email not sent", "transport", name, "error", err)
		metrics.RecordEmailSend(name, metrics.OutcomeConfigError, 0)
		return nil, err
	}

	msg := email.NewHTML(d.cfg.Sender, d.cfg.Recipient, subject, htmlBody)

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	start := time.Now()
	receipt, err := d.transport.Send(ctx, msg)
	elapsed := time.Since(start)

	if err != nil {
		terr := &TransportError{
			Transport:  name,
			StatusCode: statusCodeOf(err),
			Err:        err,
		}
		slog.Error("email send failed",
			"transport", name,
			"message_id", msg.ID,
			"status_code", terr.StatusCode,
			"error", err,
		)
		metrics.RecordEmailSend(name, metrics.OutcomeTransport, elapsed)
		return nil, terr
	}

	if receipt == nil {
		receipt = &transport.Receipt{}
	}

	slog.Info("email response",
		"transport", name,
		"message_id", msg.ID,
		"status_code", receipt.StatusCode,
		"provider_message_id", receipt.MessageID,
		"duration", elapsed,
	)
	metrics.RecordEmailSend(name, metrics.OutcomeSuccess, elapsed)

	return &Result{
		Status:     StatusSuccess,
		StatusCode: receipt.StatusCode,
		MessageID:  receipt.MessageID,
		Transport:  name,
	}, nil
}

// TransportName returns the name of the underlying transport.
func (d *Dispatcher) TransportName() string {
	return d.transport.Name()
}

// validate checks the credential, then the sender, then the recipient.
func (d *Dispatcher) validate() error {
	switch {
	case d.cfg.Credential == "":
		return &ConfigurationError{Field: "provider credential", Setting: d.cfg.CredentialName}
	case d.cfg.Sender == "":
		return &ConfigurationError{Field: "sender address", Setting: "EMAIL_FROM"}
	case d.cfg.Recipient == "":
		return &ConfigurationError{Field: "recipient address", Setting: "EMAIL_TO"}
	}
	return nil
}
