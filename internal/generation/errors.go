package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type ErrorKind string

const (
	ErrorKindAuth        ErrorKind = "auth"
	ErrorKindRateLimit   ErrorKind = "rate_limit"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindUnavailable ErrorKind = "unavailable"
	ErrorKindEmpty       ErrorKind = "empty_response"
	ErrorKindUnknown     ErrorKind = "unknown"
)

// ProviderError records why one provider attempt failed.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Cause    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Provider, e.Kind, e.Cause)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// ClassifyError buckets a provider failure. Every kind is treated as the
// provider being unavailable; the kind is for logs and metrics only.
func ClassifyError(provider string, err error) *ProviderError {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr
	}

	kind := ErrorKindUnknown
	lower := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, ErrEmptyResponse):
		kind = ErrorKindEmpty
	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "deadline exceeded"):
		kind = ErrorKindTimeout
	case strings.Contains(lower, "401"),
		strings.Contains(lower, "403"),
		strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "invalid api key"),
		strings.Contains(lower, "permission"):
		kind = ErrorKindAuth
	case strings.Contains(lower, "429"),
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "quota"):
		kind = ErrorKindRateLimit
	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "no such host"),
		strings.Contains(lower, "500"),
		strings.Contains(lower, "502"),
		strings.Contains(lower, "503"),
		strings.Contains(lower, "529"),
		strings.Contains(lower, "overloaded"):
		kind = ErrorKindUnavailable
	}
	return &ProviderError{Provider: provider, Kind: kind, Cause: err}
}
