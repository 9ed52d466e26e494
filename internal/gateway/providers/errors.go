package providers

import (
	"errors"
	"fmt"
)

// Sentinel errors usable with errors.Is.
var (
	ErrConfig               = errors.New("invalid gateway configuration")
	ErrUnsupportedProvider  = errors.New("unsupported provider")
	ErrProviderRequest      = errors.New("provider request failed")
	ErrUnsupportedOperation = errors.New("operation not supported by provider")
	ErrProviderNotFound     = errors.New("provider not found")
)

// ConfigError rejects a configuration as a whole. It is never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid gateway configuration: %s", e.Reason)
}

// Is implements error matching for errors.Is().
func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// UnsupportedProviderError is recorded for a provider whose name is unknown
// and that has no base URL. Only that provider is dropped.
type UnsupportedProviderError struct {
	Name string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider %q: no base URL configured", e.Name)
}

// Is implements error matching for errors.Is().
func (e *UnsupportedProviderError) Is(target error) bool { return target == ErrUnsupportedProvider }

// ProviderRequestError is any failed HTTP exchange with a provider.
type ProviderRequestError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderRequestError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s API error: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s API error", e.Provider)
	}
}

// Unwrap exposes the transport error, if any.
func (e *ProviderRequestError) Unwrap() error { return e.Err }

// Is implements error matching for errors.Is().
func (e *ProviderRequestError) Is(target error) bool { return target == ErrProviderRequest }

// UnsupportedOperationError means the provider family cannot serve an
// operation; no request was sent.
type UnsupportedOperationError struct {
	Provider  string
	Operation Operation
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Provider, e.Operation)
}

// Is implements error matching for errors.Is().
func (e *UnsupportedOperationError) Is(target error) bool { return target == ErrUnsupportedOperation }
