package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shineum/research-mailer/internal/transport"
)

const (
	graphScope = "https://graph.microsoft.com/.default"

	// expiryMargin is subtracted from expires_in so a token is never used
	// right at its end of life.
	expiryMargin = 5 * time.Minute

	maxTokenResponse = 64 << 10
)

// tokenCache holds one client-credentials access token for the sending app.
type tokenCache struct {
	endpoint string
	form     url.Values
	client   *http.Client
	now      func() time.Time

	mu      sync.Mutex
	value   string
	validTo time.Time
}

func newTokenCache(endpoint, clientID, clientSecret string, client *http.Client) *tokenCache {
	return &tokenCache{
		endpoint: endpoint,
		form: url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
			"scope":         {graphScope},
		},
		client: client,
		now:    time.Now,
	}
}

// Token returns the cached token, fetching a new one when it is missing or
// past its margin. Concurrent callers share one fetch.
func (tc *tokenCache) Token(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.value != "" && tc.now().Before(tc.validTo) {
		return tc.value, nil
	}
	return tc.fetch(ctx)
}

// Invalidate forgets the token after Graph rejects it.
func (tc *tokenCache) Invalidate() {
	tc.mu.Lock()
	tc.value, tc.validTo = "", time.Time{}
	tc.mu.Unlock()
}

// fetch runs with tc.mu held. A rejection by the token endpoint is a
// *transport.StatusError, so a bad client secret surfaces with its status.
func (tc *tokenCache) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.endpoint, strings.NewReader(tc.form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tc.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return "", fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &transport.StatusError{
			Provider:   "msgraph token endpoint",
			StatusCode: resp.StatusCode,
			Body:       oauthErrorMessage(body),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token response has no access_token")
	}

	tc.value = tr.AccessToken
	tc.validTo = tc.now().Add(time.Duration(tr.ExpiresIn)*time.Second - expiryMargin)
	return tc.value, nil
}

// oauthErrorMessage prefers error_description, then error, then the raw body.
func oauthErrorMessage(body []byte) string {
	var oe oauthError
	if json.Unmarshal(body, &oe) == nil {
		if oe.Description != "" {
			return oe.Description
		}
		if oe.Code != "" {
			return oe.Code
		}
	}
	return strings.TrimSpace(string(body))
}
