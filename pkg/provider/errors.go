package provider

import "fmt"

// RateLimitedError surfaces an HTTP 429. Retryable by the caller; the core
// never auto-retries.
type RateLimitedError struct {
	Provider string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limited (HTTP 429), retry later", e.Provider)
}

// APIError is any other provider-layer failure: bad address, upstream 5xx,
// or a non-OK explorer status.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
