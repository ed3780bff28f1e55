package providers

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRateLimited marks a 429 or equivalent throttle from a provider.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrNotFound marks a missing entity on the provider side.
	ErrNotFound = errors.New("provider resource not found")
	// ErrUnsupported marks an operation the provider does not offer.
	ErrUnsupported = errors.New("operation not supported by provider")
	// ErrTransient marks retryable upstream failures (5xx, network).
	ErrTransient = errors.New("transient provider failure")
)

// Wrap tags an error with a classification sentinel and provider context so
// callers can drive retry decisions with errors.Is.
func Wrap(marker error, provider, operation string, err error) error {
	detail := buildDetail(provider, operation)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether the failure is worth another attempt later.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnsupported):
		return false
	default:
		return true
	}
}

func buildDetail(provider, operation string) string {
	parts := make([]string, 0, 2)
	if provider = strings.TrimSpace(provider); provider != "" {
		parts = append(parts, provider)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if len(parts) == 0 {
		return "provider failure"
	}
	return strings.Join(parts, ": ")
}
