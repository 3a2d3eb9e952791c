package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shineum/research-mailer/internal/email"
	"github.com/shineum/research-mailer/internal/transport"
)

// Config holds the configuration for creating a Transport.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

const (
	defaultGraphBaseURL = "https://graph.microsoft.com/v1.0"
	defaultTimeout      = 30 * time.Second
)

// Transport sends emails via the Microsoft Graph API using OAuth2
// client credentials authentication. The message's From address selects the
// mailbox that sends.
type Transport struct {
	baseURL    string
	httpClient *http.Client
	token      *tokenCache
}

// New creates a new Transport with the given configuration.
func New(cfg Config) *Transport {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &http.Client{Timeout: timeout}

	return newWithOverrides(cfg, defaultGraphBaseURL, tokenURL, client)
}

// newWithOverrides creates a Transport with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg Config, baseURL, tokenURL string, client *http.Client) *Transport {
	return &Transport{
		baseURL:    baseURL,
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// Send posts one message to the sender mailbox's sendMail endpoint.
// A 401 response drops the cached token so the next send re-authenticates;
// the failed message is not resent.
func (g *Transport) Send(ctx context.Context, msg *email.Message) (*transport.Receipt, error) {
	bodyJSON, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	token, err := g.token.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	endpoint := fmt.Sprintf("%s/users/%s/sendMail", g.baseURL, url.PathEscape(msg.From))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return &transport.Receipt{
			StatusCode: resp.StatusCode,
			MessageID:  resp.Header.Get("request-id"),
		}, nil
	}

	if resp.StatusCode == http.StatusUnauthorized {
		slog.Info("dropping cached Graph API token after 401")
		g.token.Invalidate()
	}

	body, _ := io.ReadAll(resp.Body)
	return nil, &transport.StatusError{
		Provider:   g.Name(),
		StatusCode: resp.StatusCode,
		Body:       errorMessage(body),
	}
}

// Name returns the transport name.
func (g *Transport) Name() string {
	return "msgraph"
}

// errorMessage extracts the Graph error message from a response body, falling
// back to the raw body.
func errorMessage(body []byte) string {
	var graphErrResp graphErrorResponse
	if err := json.Unmarshal(body, &graphErrResp); err == nil && graphErrResp.Error.Message != "" {
		return graphErrResp.Error.Message
	}
	return string(body)
}
