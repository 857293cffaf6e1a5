/*
Package identity verifies end-user bearer tokens against the identity
provider.

PURPOSE:
  The archive and manual-send endpoints are guarded by user tokens issued
  by the identity provider, not by the static cron secret. Verification is
  remote introspection: a GET to the provider's user endpoint with the
  presented token; any non-2xx rejects the request. No token contents are
  parsed locally.
*/
package identity

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/orderdesk/orderbook"
)

// Verifier checks a bearer token. Satisfied by *Client; api handlers take
// the interface so tests can stub it.
type Verifier interface {
	Verify(ctx context.Context, token string) error
}

// Client verifies tokens against the identity provider's /auth/v1/user
// endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Verify checks that token identifies a live user session.
func (c *Client) Verify(ctx context.Context, token string) error {
	if c.baseURL == "" || c.apiKey == "" {
		return fmt.Errorf("identity provider is not configured: %w", orderbook.ErrNotConfigured)
	}
	if token == "" {
		return fmt.Errorf("missing bearer token: %w", orderbook.ErrUnauthorized)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return fmt.Errorf("failed to build identity request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &orderbook.UpstreamError{
			Provider: "identity",
			Message:  fmt.Sprintf("identity request failed: %v", err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("token rejected by identity provider (status %d): %w",
			resp.StatusCode, orderbook.ErrUnauthorized)
	}
	return nil
}
