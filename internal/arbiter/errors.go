package arbiter

import "errors"

// Common errors returned by arbitrator implementations
var (
	// ErrNotConfigured is returned when no provider is configured; the
	// engine treats this as "AI unavailable", not as a record failure.
	ErrNotConfigured = errors.New("AI provider is not configured")

	// ErrInvalidConfig is returned when the provider configuration is
	// present but unusable (missing model, bad base URL, ...).
	ErrInvalidConfig = errors.New("invalid arbitrator configuration")

	// ErrInvalidResponse is returned when the provider response cannot be
	// parsed into a classification. Permanent: retrying the same prompt is
	// unlikely to help.
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrTransientFailure is returned for transport errors, timeouts, and
	// 5xx/429 responses that may resolve on retry.
	ErrTransientFailure = errors.New("transient arbitration failure")
)
