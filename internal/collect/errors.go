package collect

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded means the provider denied the request because the plan
	// limit is used up. Callers must back off until the quota resets.
	ErrQuotaExceeded = errors.New("news provider quota exceeded")

	// ErrInvalidCategory means the category is neither a known ethics
	// category nor the "all" sentinel.
	ErrInvalidCategory = errors.New("invalid category")

	// ErrNotConfigured means no API key is available.
	ErrNotConfigured = errors.New("news provider not configured")
)

// TransportError is any failure to get a usable answer from the provider
// other than quota exhaustion: network errors, timeouts, non-200 statuses and
// undecodable bodies.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("news provider %s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("news provider %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
