package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// Upstream failure classes. Callers classify with errors.Is.
var (
	// ErrRateLimited is returned on HTTP 429. It is never retried locally.
	ErrRateLimited = errors.New("rate limited by upstream")
	// ErrTransient covers network errors, 5xx and undecodable bodies. Retried with backoff.
	ErrTransient = errors.New("transient upstream error")
	// ErrRejected covers non-429 4xx responses. Retrying does not help.
	ErrRejected = errors.New("request rejected by upstream")
	// ErrFatal means no usable data could be obtained at all.
	ErrFatal = errors.New("no data obtainable from upstream")
)

// ProviderError wraps errors with context about the provider and the request target
type ProviderError struct {
	Provider string
	Target   string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider=%s target=%s status=%d: %v", e.Provider, e.Target, e.Status, e.Err)
	}
	return fmt.Sprintf("provider=%s target=%s: %v", e.Provider, e.Target, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new provider error with context
func NewProviderError(provider, target string, status int, err error) error {
	return &ProviderError{
		Provider: provider,
		Target:   target,
		Status:   status,
		Err:      err,
	}
}

// Classify maps an HTTP status to an upstream failure class, or nil for 2xx.
func Classify(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusRequestTimeout:
		return ErrTransient
	case status >= 400 && status < 500:
		return ErrRejected
	default:
		return ErrTransient
	}
}

// Retryable reports whether a failed call may be attempted again.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
