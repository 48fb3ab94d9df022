package pollen

import (
	"fmt"
	"time"
)

// AuthError indicates the upstream service rejected the request credentials.
//
// AuthError is terminal for a refresh cycle: retrying with the same key
// cannot succeed, so callers should surface the failure to whoever manages
// the credential instead of scheduling a retry.
type AuthError struct {
	// Message is a short explanation extracted from the upstream response
	// body, already redacted and truncated. Empty when the body carried no
	// usable message.
	Message string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Message == "" {
		return "invalid API key"
	}
	return "authentication rejected: " + e.Message
}

// RateLimitError indicates the upstream service throttled the request.
type RateLimitError struct {
	// RetryAfter is the server-suggested wait before retrying. Zero when the
	// response carried no usable Retry-After header.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("quota exceeded, retry after %s", e.RetryAfter)
	}
	return "quota exceeded"
}

// UnreachableError indicates a transient failure: a timeout, a transport
// error, or an upstream 5xx response. Callers may retry with backoff.
type UnreachableError struct {
	// Reason is a redacted, human-readable description of the failure.
	Reason string
}

// Error implements the error interface.
func (e *UnreachableError) Error() string {
	if e.Reason == "" {
		return "upstream unreachable"
	}
	return e.Reason
}

// MalformedError indicates the upstream response could not be interpreted:
// an unexpected status code, a body that is not valid JSON, or a payload
// missing required structure.
type MalformedError struct {
	Reason string
}

// Error implements the error interface.
func (e *MalformedError) Error() string {
	if e.Reason == "" {
		return "malformed upstream response"
	}
	return e.Reason
}

// ConfigError indicates invalid source configuration, detected before any
// network activity takes place.
type ConfigError struct {
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return e.Reason
}
