package llms

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/taleweave/taleweave/pkg/httpclient"
)

// ErrorKind classifies a provider failure for the caller's isolation logic.
type ErrorKind string

const (
	// KindRateLimited: the provider throttled us (HTTP 429).
	KindRateLimited ErrorKind = "rate_limited"

	// KindTransient: timeouts, connection failures, 5xx. Worth retrying.
	KindTransient ErrorKind = "transient"

	// KindInvalidRequest: the request itself is bad (4xx other than auth).
	// Retrying the same request cannot succeed.
	KindInvalidRequest ErrorKind = "invalid_request"

	// KindAuth: missing or rejected credentials.
	KindAuth ErrorKind = "auth"

	// KindParse: the provider answered but the payload was unusable.
	KindParse ErrorKind = "parse"
)

// ProviderError is a classified failure from a provider adapter.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ClassifyStatus maps an HTTP status to an error kind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusRequestTimeout || status >= 500:
		return KindTransient
	case status >= 400:
		return KindInvalidRequest
	default:
		return KindTransient
	}
}

// KindOf extracts the classification from an error chain, defaulting to
// transient for plain transport failures.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var re *httpclient.RetryableError
	if errors.As(err, &re) {
		if re.StatusCode > 0 {
			return ClassifyStatus(re.StatusCode)
		}
		return KindTransient
	}
	return KindTransient
}

// IsFatal reports whether retrying the same request is pointless.
func IsFatal(kind ErrorKind) bool {
	return kind == KindAuth || kind == KindInvalidRequest
}

// wrapHTTPError builds a classified error for a non-2xx provider response.
func wrapHTTPError(provider string, status int, body string, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Kind:       ClassifyStatus(status),
		StatusCode: status,
		Message:    body,
		Err:        err,
	}
}

func parseError(provider, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindParse, Message: message, Err: err}
}
