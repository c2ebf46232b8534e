package clients

import (
	"errors"
	"fmt"
)

var (
	ErrParse     = errors.New("malformed provider response")
	ErrNonCDNURL = errors.New("photo resolved outside the image CDN")
	// ErrNotSent marks a call that failed before any request reached the provider.
	ErrNotSent = errors.New("request not sent")
)

// ParseError reports a provider payload that does not match the expected shape.
type ParseError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// ProviderError is a non-2xx answer from the provider.
type ProviderError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("places API returned status %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("places API returned status %d", e.StatusCode)
}
