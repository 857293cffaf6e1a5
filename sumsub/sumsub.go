/*
Package sumsub proxies identity-verification lookups to the Sumsub API.

PURPOSE:
  Pure pass-through of three read endpoints (applicant by external user id,
  applicant metadata resources, inspection image), stateless apart from
  computing the per-request signature.

REQUEST SIGNING:
  Every request carries:
    X-App-Token:      the configured app token
    X-App-Access-Ts:  unix timestamp (seconds)
    X-App-Access-Sig: hex(HMAC-SHA256(secret, ts + method + pathWithQuery))

SEE ALSO:
  - api/handlers.go: HTTP surface for these lookups
*/
package sumsub

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/warp/orderdesk/orderbook"
)

// Client signs and forwards Sumsub API requests.
type Client struct {
	baseURL   string
	appToken  string
	appSecret string
	http      *http.Client
	now       func() time.Time
}

// New creates a proxy client. Credentials may be empty; requests then fail
// with a configuration error.
func New(baseURL, appToken, appSecret string) *Client {
	return &Client{
		baseURL:   baseURL,
		appToken:  appToken,
		appSecret: appSecret,
		http:      &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
}

// WithClock replaces the signing clock. Tests only.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

// Configured reports whether signing credentials are present.
func (c *Client) Configured() bool {
	return c.appToken != "" && c.appSecret != ""
}

// SignHeaders computes the auth header set for method + pathWithQuery.
func (c *Client) SignHeaders(method, pathWithQuery string) http.Header {
	ts := strconv.FormatInt(c.now().Unix(), 10)

	mac := hmac.New(sha256.New, []byte(c.appSecret))
	mac.Write([]byte(ts + method + pathWithQuery))

	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("X-App-Token", c.appToken)
	h.Set("X-App-Access-Sig", hex.EncodeToString(mac.Sum(nil)))
	h.Set("X-App-Access-Ts", ts)
	return h
}

// Response is a proxied upstream reply: status, content type, raw body.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Applicant fetches an applicant by external user id.
func (c *Client) Applicant(ctx context.Context, externalUserID string) (*Response, error) {
	path := fmt.Sprintf("/resources/applicants/-;externalUserId=%s/one", url.QueryEscape(externalUserID))
	return c.proxy(ctx, path, "application/json; charset=utf-8")
}

// Metadata fetches an applicant's document metadata resources.
func (c *Client) Metadata(ctx context.Context, applicantID string) (*Response, error) {
	path := fmt.Sprintf("/resources/applicants/%s/metadata/resources", url.QueryEscape(applicantID))
	return c.proxy(ctx, path, "application/json; charset=utf-8")
}

// Image fetches a document image; the upstream content type is preserved.
func (c *Client) Image(ctx context.Context, inspectionID, imageID string) (*Response, error) {
	path := fmt.Sprintf("/resources/inspections/%s/resources/%s",
		url.QueryEscape(inspectionID), url.QueryEscape(imageID))
	return c.proxy(ctx, path, "application/octet-stream")
}

// proxy performs the signed GET and passes the upstream status and body
// through unchanged. Upstream errors are the caller's to observe; only
// transport failures and missing credentials are errors here.
func (c *Client) proxy(ctx context.Context, pathWithQuery, fallbackContentType string) (*Response, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("sumsub credentials are not configured: %w", orderbook.ErrNotConfigured)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathWithQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build sumsub request: %w", err)
	}
	req.Header = c.SignHeaders(http.MethodGet, pathWithQuery)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &orderbook.UpstreamError{
			Provider: "sumsub",
			Message:  fmt.Sprintf("sumsub request failed: %v", err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read sumsub response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = fallbackContentType
	}

	return &Response{
		Status:      resp.StatusCode,
		ContentType: contentType,
		Body:        body,
	}, nil
}
