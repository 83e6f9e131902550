package failover

import (
	"errors"
	"fmt"

	"github.com/opentalon/aspri/internal/provider"
)

// IsRetryable reports whether another model may succeed where this one
// failed: rate limits, auth rejections, server errors and transport failures.
// Client errors such as 400 are the request's fault and are not retried.
func IsRetryable(err error) bool {
	var pe *provider.ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	switch {
	case pe.StatusCode == 0:
		return true
	case provider.IsRateLimitError(err), provider.IsAuthError(err):
		return true
	case pe.StatusCode >= 500:
		return true
	}
	return false
}

type AllExhaustedError struct {
	Attempted []string
	Last      error
}

func (e *AllExhaustedError) Error() string {
	return fmt.Sprintf("all models exhausted, attempted: %v: %v", e.Attempted, e.Last)
}

func (e *AllExhaustedError) Unwrap() error { return e.Last }
