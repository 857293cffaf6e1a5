/*
Package mail sends the order book report through the Resend transactional
email API.

PURPOSE:
  Implements orderbook.Dispatcher: one email, one UTF-8 CSV attachment
  (base64-encoded in the request body), to a static recipient list.

ERROR BEHAVIOR:
  - Missing API key / from-address / recipients: orderbook.ErrNotConfigured
    with an explanatory message, before any network call.
  - Provider non-success: the message from the provider's structured error
    payload ("message" then "error") when present, else a status-coded
    message; wrapped as an orderbook.UpstreamError.

SEE ALSO:
  - orderbook/controller.go: Dispatcher contract
  - api/handlers.go: manual send endpoint reuses this client
*/
package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/orderdesk/orderbook"
)

const defaultBaseURL = "https://api.resend.com"

// Client dispatches CSV report emails via Resend.
type Client struct {
	apiKey  string
	from    string
	to      []string
	baseURL string
	http    *http.Client
}

// New creates a dispatcher. Credentials may be empty; SendCSV reports the
// configuration error at call time so the rest of the service can run
// without email configured.
func New(apiKey, from string, to []string) *Client {
	return &Client{
		apiKey:  apiKey,
		from:    from,
		to:      to,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL points the client at a different API host. Tests only.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = url
	return c
}

type sendRequest struct {
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Subject     string       `json:"subject"`
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments"`
}

type attachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// SendCSV sends one email with the CSV attached.
func (c *Client) SendCSV(ctx context.Context, msg orderbook.CSVEmail) error {
	if c.apiKey == "" || c.from == "" || len(c.to) == 0 {
		return fmt.Errorf("email service not configured, set RESEND_API_KEY, ORDERBOOK_EMAIL_FROM, ORDERBOOK_EMAIL_TO: %w", orderbook.ErrNotConfigured)
	}

	subject := msg.Subject
	if subject == "" {
		subject = "Filled Order Book CSV"
	}
	fileName := msg.FileName
	if fileName == "" {
		fileName = "filled-order-book.csv"
	}

	payload := sendRequest{
		From:    c.from,
		To:      c.to,
		Subject: subject,
		Text:    "Attached is the latest filled order book CSV.",
		Attachments: []attachment{{
			Filename: fileName,
			Content:  base64.StdEncoding.EncodeToString([]byte(msg.Content)),
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("email request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	return &orderbook.UpstreamError{
		Provider: "resend",
		Status:   resp.StatusCode,
		Message:  extractErrorMessage(resp),
	}
}

// extractErrorMessage pulls the provider's message/error field from the
// response body. Returns "" when the body has neither, which lets
// UpstreamError fall back to a status-coded message.
func extractErrorMessage(resp *http.Response) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}
