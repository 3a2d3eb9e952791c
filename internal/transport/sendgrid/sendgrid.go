// Package sendgrid implements an EmailTransport backed by the SendGrid v3 Mail Send API.
package sendgrid

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/shineum/research-mailer/internal/email"
	"github.com/shineum/research-mailer/internal/transport"
)

// DefaultHost is the public SendGrid API host.
const DefaultHost = "https://api.sendgrid.com"

// sendEndpoint is the Mail Send path appended to the host.
const sendEndpoint = "/v3/mail/send"

// defaultTimeout bounds a single HTTP exchange when no timeout is configured.
const defaultTimeout = 30 * time.Second

// Config holds the configuration for creating a Transport.
type Config struct {
	APIKey  string
	Host    string
	Timeout time.Duration
}

// Transport sends emails through SendGrid.
type Transport struct {
	apiKey string
	host   string
	client *rest.Client
}

// New creates a new SendGrid Transport. An empty API key is accepted here;
// the dispatcher refuses to send before a request would be made.
func New(cfg Config) *Transport {
	return NewWithHTTPClient(cfg, &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)})
}

// NewWithHTTPClient creates a Transport that issues requests through the
// given HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *http.Client) *Transport {
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = DefaultHost
	}

	return &Transport{
		apiKey: cfg.APIKey,
		host:   host,
		client: &rest.Client{HTTPClient: httpClient},
	}
}

// Send posts one message to the Mail Send endpoint. Any 2xx response is an
// accepted message; 4xx and 5xx responses are returned as a
// *transport.StatusError.
func (t *Transport) Send(ctx context.Context, msg *email.Message) (*transport.Receipt, error) {
	req := sg.GetRequest(t.apiKey, sendEndpoint, t.host)
	req.Method = rest.Post
	req.Body = mail.GetRequestBody(buildMail(msg))

	slog.Debug("posting to SendGrid",
		"message_id", msg.ID,
		"host", t.host,
	)

	resp, err := t.client.SendWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sendgrid request failed: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &transport.StatusError{
			Provider:   t.Name(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(resp.Body),
		}
	}

	return &transport.Receipt{
		StatusCode: resp.StatusCode,
		MessageID:  headerValue(resp.Headers, "X-Message-Id"),
	}, nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "sendgrid"
}

// buildMail converts an email.Message into a SendGrid v3 mail object with a
// single recipient and a single content block.
func buildMail(msg *email.Message) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail("", msg.From))
	m.Subject = msg.Subject

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", msg.To))
	m.AddPersonalizations(p)

	m.AddContent(mail.NewContent(msg.ContentType, msg.Body))
	return m
}

// headerValue returns the first value for key, matching case-insensitively.
func headerValue(headers map[string][]string, key string) string {
	if v := http.Header(headers).Get(key); v != "" {
		return v
	}
	for k, values := range headers {
		if strings.EqualFold(k, key) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTimeout
	}
	return d
}
