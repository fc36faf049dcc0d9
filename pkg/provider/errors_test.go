package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
)

func httpResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestMapHTTPErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind ErrorKind
	}{
		{"bad request", http.StatusBadRequest, ErrKindBadRequest},
		{"unprocessable", http.StatusUnprocessableEntity, ErrKindBadRequest},
		{"unauthorized", http.StatusUnauthorized, ErrKindAuth},
		{"forbidden", http.StatusForbidden, ErrKindAuth},
		{"not found", http.StatusNotFound, ErrKindNotFound},
		{"request timeout", http.StatusRequestTimeout, ErrKindTimeout},
		{"gateway timeout", http.StatusGatewayTimeout, ErrKindTimeout},
		{"rate limited", http.StatusTooManyRequests, ErrKindRateLimited},
		{"server error", http.StatusInternalServerError, ErrKindServer},
		{"bad gateway", http.StatusBadGateway, ErrKindServer},
		{"unexpected 3xx", http.StatusFound, ErrKindServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapHTTPError("openai", httpResponse(tt.status, ""))
			if err.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", err.Kind, tt.wantKind)
			}
			if err.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", err.StatusCode, tt.status)
			}
			if err.Provider != "openai" {
				t.Errorf("Provider = %q, want openai", err.Provider)
			}
			if err.Message == "" {
				t.Error("Message is empty, want a fallback message")
			}
		})
	}
}

func TestMapHTTPErrorExtractsMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"openai envelope", `{"error": {"message": "billing hard limit reached", "type": "insufficient_quota"}}`, "billing hard limit reached"},
		{"replicate detail", `{"detail": "The requested resource could not be found.", "status": 404}`, "The requested resource could not be found."},
		{"not json", "<html>502 Bad Gateway</html>", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapHTTPError("replicate", httpResponse(http.StatusBadGateway, tt.body))
			if tt.want == "" {
				if err.Message == "" {
					t.Error("Message is empty, want a fallback message")
				}
				return
			}
			if err.Message != tt.want {
				t.Errorf("Message = %q, want %q", err.Message, tt.want)
			}
		})
	}
}

func TestErrorRetryable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{ErrKindTimeout, true},
		{ErrKindConnection, true},
		{ErrKindRateLimited, true},
		{ErrKindServer, true},
		{ErrKindInvalidOutput, true},
		{ErrKindBadRequest, false},
		{ErrKindAuth, false},
		{ErrKindNotFound, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e := &Error{Provider: "openai", Kind: tt.kind}
			if got := e.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

type fakeNetError struct{ timeout bool }

func (e *fakeNetError) Error() string   { return "dial tcp 10.0.0.1:443: i/o timeout" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return false }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("attempt: %w", context.DeadlineExceeded), true},
		{"retryable provider error", &Error{Kind: ErrKindServer}, true},
		{"terminal provider error", &Error{Kind: ErrKindBadRequest}, false},
		{"wrapped provider error", fmt.Errorf("invoke: %w", &Error{Kind: ErrKindRateLimited}), true},
		{"net timeout", &fakeNetError{timeout: true}, true},
		{"net non-timeout", &fakeNetError{timeout: false}, false},
		{"plain error", fmt.Errorf("something broke"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestMapNetworkError(t *testing.T) {
	if err := MapNetworkError("cipher", &fakeNetError{timeout: true}); err.Kind != ErrKindTimeout {
		t.Errorf("timeout mapped to %q, want %q", err.Kind, ErrKindTimeout)
	}
	if err := MapNetworkError("cipher", fmt.Errorf("connection refused")); err.Kind != ErrKindConnection {
		t.Errorf("refused mapped to %q, want %q", err.Kind, ErrKindConnection)
	}
	if err := MapNetworkError("cipher", context.DeadlineExceeded); err.Kind != ErrKindTimeout {
		t.Errorf("deadline mapped to %q, want %q", err.Kind, ErrKindTimeout)
	}
}

func TestErrorString(t *testing.T) {
	withStatus := &Error{Provider: "openai", Kind: ErrKindRateLimited, StatusCode: 429, Message: "slow down"}
	if got := withStatus.Error(); !strings.Contains(got, "429") || !strings.Contains(got, "openai") {
		t.Errorf("Error() = %q, want provider name and status code", got)
	}

	withoutStatus := &Error{Provider: "replicate", Kind: ErrKindConnection, Message: "refused"}
	if got := withoutStatus.Error(); strings.Contains(got, "HTTP") {
		t.Errorf("Error() = %q, want no HTTP status segment", got)
	}
}
