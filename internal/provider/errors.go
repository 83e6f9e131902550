package provider

import (
	"errors"
	"fmt"
)

// ErrProviderFailure matches every *ProviderError through errors.Is.
var ErrProviderFailure = errors.New("provider failure")

// ProviderError is returned for transport failures, timeouts, non-2xx
// statuses and undecodable bodies. Adapters never retry; the caller decides.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProviderFailure }

func IsRateLimitError(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode == 429
	}
	return false
}

func IsAuthError(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode == 401 || pe.StatusCode == 403
	}
	return false
}
