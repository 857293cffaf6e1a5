/*
errors.go - Error taxonomy for the report service

PURPOSE:
  One place for the error categories the HTTP layer maps to status codes:

  1. Configuration errors - required credential/config absent (500, not retried)
  2. Authentication errors - missing/invalid bearer credential (401, no mutation)
  3. Upstream errors - store or provider returned non-success (500 or failed run)
  4. Validation errors - malformed request body/date (400, no mutation)

USAGE:
  Collaborators wrap these with context:

    if errors.Is(err, orderbook.ErrNotConfigured) { ... }

SEE ALSO:
  - api/handlers.go: maps these to HTTP responses
  - mail/resend.go, sumsub/sumsub.go: producers
*/
package orderbook

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotConfigured is returned when a required credential or setting is
	// absent. Never retried automatically.
	ErrNotConfigured = errors.New("required configuration missing")

	// ErrUnauthorized is returned when a bearer credential is missing or
	// does not match. The request is rejected before any state mutation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUpstream is returned when a collaborator service (row store, email
	// provider, KYC provider) responds with a non-success status.
	ErrUpstream = errors.New("upstream request failed")

	// ErrInvalidInput is returned for malformed request bodies or dates.
	ErrInvalidInput = errors.New("invalid input")
)

// UpstreamError carries the provider-supplied detail for a failed call.
type UpstreamError struct {
	Provider string // "resend", "sumsub", "identity"
	Status   int    // HTTP status from the provider, 0 if transport-level
	Message  string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s request failed with status %d", e.Provider, e.Status)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstream }

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// IsConfiguration reports whether err is a missing-configuration failure.
func IsConfiguration(err error) bool { return errors.Is(err, ErrNotConfigured) }

// IsAuthentication reports whether err is a credential rejection.
func IsAuthentication(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsValidation reports whether err is malformed client input.
func IsValidation(err error) bool { return errors.Is(err, ErrInvalidInput) }
