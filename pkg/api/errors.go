package api

import "fmt"

// ErrorType represents the category of an API error.
type ErrorType string

const (
	ErrorTypeServerError     ErrorType = "server_error"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeBudgetExceeded  ErrorType = "budget_exceeded"
	ErrorTypeUpstreamError   ErrorType = "upstream_error"
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"
)

// Error codes identifying orchestration-level failure modes. Codes refine the
// coarse ErrorType so callers and dashboards can distinguish, for example, a
// provider that was tried and failed from one that was never sent traffic.
const (
	CodeValidationRejected    = "validation_rejected"
	CodeBudgetExhausted       = "budget_exhausted"
	CodeNoProvidersConfigured = "no_providers_configured"
	CodeCircuitOpen           = "circuit_open"
	CodeProvidersExhausted    = "providers_exhausted"
	CodePolicyReloadRejected  = "policy_reload_rejected"
)

// APIError represents a structured API error with type, code, param, and message.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewInvalidRequestError creates an APIError for invalid request parameters.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Param:   param,
		Message: message,
	}
}

// NewValidationRejectedError creates an APIError for a request rejected by a
// security or quality gate. The gate name is carried in Param.
func NewValidationRejectedError(gate, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Code:    CodeValidationRejected,
		Param:   gate,
		Message: message,
	}
}

// NewNotFoundError creates an APIError for resources that cannot be found.
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewServerError creates an APIError for internal server errors.
func NewServerError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Message: message,
	}
}

// NewBudgetExceededError creates an APIError for a budget admission denial.
// The denying scope is carried in Param.
func NewBudgetExceededError(scope, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeBudgetExceeded,
		Code:    CodeBudgetExhausted,
		Param:   scope,
		Message: message,
	}
}

// NewNoProvidersError creates an APIError for a capability whose every
// configured provider is disabled or missing.
func NewNoProvidersError(capability Capability) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Code:    CodeNoProvidersConfigured,
		Param:   string(capability),
		Message: fmt.Sprintf("no providers configured for capability %q", capability),
	}
}

// NewUpstreamExhaustedError creates an APIError for a request that failed on
// every candidate provider.
func NewUpstreamExhaustedError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeUpstreamError,
		Code:    CodeProvidersExhausted,
		Message: message,
	}
}

// NewPolicyReloadRejectedError creates an APIError for a rejected policy
// snapshot reload.
func NewPolicyReloadRejectedError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Code:    CodePolicyReloadRejected,
		Message: message,
	}
}

// NewTooManyRequestsError creates an APIError for rate limiting.
func NewTooManyRequestsError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeTooManyRequests,
		Message: message,
	}
}
