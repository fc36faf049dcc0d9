package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// ErrorKind classifies a backend failure for retry and breaker decisions.
type ErrorKind string

const (
	ErrKindBadRequest    ErrorKind = "bad_request"
	ErrKindAuth          ErrorKind = "auth"
	ErrKindNotFound      ErrorKind = "not_found"
	ErrKindRateLimited   ErrorKind = "rate_limited"
	ErrKindServer        ErrorKind = "server"
	ErrKindTimeout       ErrorKind = "timeout"
	ErrKindConnection    ErrorKind = "connection"
	ErrKindInvalidOutput ErrorKind = "invalid_output"
)

// Error is a classified backend failure.
type Error struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int // HTTP status when the failure came from a response, else 0
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Retryable reports whether the failure is transient. Generation backends
// are nondeterministic, so unusable output is treated as transient too.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrKindTimeout, ErrKindConnection, ErrKindRateLimited, ErrKindServer, ErrKindInvalidOutput:
		return true
	}
	return false
}

// IsRetryable reports whether err is worth another attempt against the same
// backend. context.DeadlineExceeded counts as retryable because it is how a
// per-attempt timeout surfaces; the caller decides whether its own deadline
// still leaves room. context.Canceled never is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// MapHTTPError converts a non-2xx backend response into an *Error. It
// attempts to parse the response body for a descriptive message.
func MapHTTPError(name string, resp *http.Response) *Error {
	message := ExtractErrorMessage(resp.Body)

	var kind ErrorKind
	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		kind = ErrKindBadRequest
		if message == "" {
			message = "backend rejected the request"
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		kind = ErrKindAuth
		if message == "" {
			message = "backend authentication failed"
		}
	case resp.StatusCode == http.StatusNotFound:
		kind = ErrKindNotFound
		if message == "" {
			message = "backend resource not found"
		}
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		kind = ErrKindTimeout
		if message == "" {
			message = "backend timed out"
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		kind = ErrKindRateLimited
		if message == "" {
			message = "backend rate limit exceeded"
		}
	case resp.StatusCode >= http.StatusInternalServerError:
		kind = ErrKindServer
		if message == "" {
			message = fmt.Sprintf("backend server error (HTTP %d)", resp.StatusCode)
		}
	default:
		kind = ErrKindServer
		if message == "" {
			message = fmt.Sprintf("unexpected backend error (HTTP %d)", resp.StatusCode)
		}
	}

	return &Error{Provider: name, Kind: kind, StatusCode: resp.StatusCode, Message: message}
}

// MapNetworkError converts a transport-level failure (connection refused,
// DNS failure, timeout) into an *Error.
func MapNetworkError(name string, err error) *Error {
	kind := ErrKindConnection
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = ErrKindTimeout
	}
	return &Error{Provider: name, Kind: kind, Message: "backend connection error: " + err.Error()}
}

// ExtractErrorMessage pulls a human-readable message out of an error
// response body. It understands the OpenAI error envelope and the flat
// "detail" shape Replicate uses.
func ExtractErrorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Detail != "" {
			return envelope.Detail
		}
	}
	return ""
}
