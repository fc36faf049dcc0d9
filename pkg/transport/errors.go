package transport

import (
	"encoding/json"
	"net/http"

	"github.com/atelier-dev/atelier/pkg/api"
)

// HTTPStatusFromError maps an APIError to the corresponding HTTP status
// code. The orchestration codes refine the coarse type mapping: a capability
// with no usable providers is a 503 (operator misconfiguration, retry won't
// help the caller), while an exhausted candidate list is a 502 (all upstream
// backends were tried and failed).
func HTTPStatusFromError(err *api.APIError) int {
	switch err.Code {
	case api.CodeNoProvidersConfigured:
		return http.StatusServiceUnavailable
	case api.CodeProvidersExhausted, api.CodeCircuitOpen:
		return http.StatusBadGateway
	}

	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeBudgetExceeded, api.ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	case api.ErrorTypeUpstreamError:
		return http.StatusBadGateway
	case api.ErrorTypeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse writes a JSON error response using the ErrorResponse
// wrapper format from pkg/api. It sets the Content-Type header and writes
// the HTTP status code.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes an APIError response, deriving the HTTP status code
// from the error.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
