// Package apperr defines the typed errors shared across the closet
// service. Handlers translate these into structured JSON responses;
// everything below the handler boundary wraps with %w and lets the
// types flow up via errors.As.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ConfigurationError reports a missing or contradictory setting discovered
// at startup. The process exits before serving traffic.
type ConfigurationError struct {
	// Setting names the offending configuration key(s).
	Setting string
	// Message describes what is wrong with it.
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Setting != "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Setting, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// AuthExchangeError reports a failed token endpoint call. It carries the
// provider's HTTP status and raw response body for diagnosis.
type AuthExchangeError struct {
	// Status is the HTTP status the provider returned.
	Status int
	// Body is the raw provider response body.
	Body string
	// Cause is the underlying transport or decode error, if any.
	Cause error
}

func (e *AuthExchangeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("token exchange failed: %v", e.Cause)
	}
	return fmt.Sprintf("token exchange failed with status %d: %s", e.Status, e.Body)
}

func (e *AuthExchangeError) Unwrap() error { return e.Cause }

// NotFoundError reports a missing record or object.
type NotFoundError struct {
	// Kind names what was looked up ("approval", "object", "profile").
	Kind string
	// ID identifies the missing thing.
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ValidationError reports malformed or disallowed caller input.
type ValidationError struct {
	// Field names the offending input field, when known.
	Field string
	// Message describes the problem.
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid request: %s", e.Message)
}

// UpstreamError reports a dependency failure (object storage, workflow
// engine, image decode) where the caller did nothing wrong.
type UpstreamError struct {
	// Op names the failed operation.
	Op string
	// Cause is the underlying error.
	Cause error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// IsNotFound checks if an error is a NotFoundError.
func IsNotFound(err error) bool {
	var notFoundError *NotFoundError
	return errors.As(err, &notFoundError)
}

// IsValidation checks if an error is a ValidationError.
func IsValidation(err error) bool {
	var validationError *ValidationError
	return errors.As(err, &validationError)
}

// IsAuthExchange checks if an error is an AuthExchangeError.
func IsAuthExchange(err error) bool {
	var authExchangeError *AuthExchangeError
	return errors.As(err, &authExchangeError)
}

// HTTPStatus maps an error to the status code handlers should return.
func HTTPStatus(err error) int {
	var (
		configurationError *ConfigurationError
		authExchangeError  *AuthExchangeError
		notFoundError      *NotFoundError
		validationError    *ValidationError
		upstreamError      *UpstreamError
	)
	switch {
	case errors.As(err, &validationError):
		return http.StatusBadRequest
	case errors.As(err, &notFoundError):
		return http.StatusNotFound
	case errors.As(err, &authExchangeError):
		return http.StatusBadGateway
	case errors.As(err, &upstreamError):
		return http.StatusBadGateway
	case errors.As(err, &configurationError):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the short machine-readable error code handlers put in the
// response body's "error" field.
func Code(err error) string {
	var (
		configurationError *ConfigurationError
		authExchangeError  *AuthExchangeError
		notFoundError      *NotFoundError
		validationError    *ValidationError
		upstreamError      *UpstreamError
	)
	switch {
	case errors.As(err, &validationError):
		return "invalid_request"
	case errors.As(err, &notFoundError):
		return "not_found"
	case errors.As(err, &authExchangeError):
		return "auth_exchange_failed"
	case errors.As(err, &upstreamError):
		return "upstream_error"
	case errors.As(err, &configurationError):
		return "configuration_error"
	default:
		return "internal_error"
	}
}
