package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atelier-dev/atelier/pkg/api"
)

func TestHTTPStatusFromError(t *testing.T) {
	cases := []struct {
		name string
		err  *api.APIError
		want int
	}{
		{"invalid request", api.NewInvalidRequestError("prompt", "missing"), http.StatusBadRequest},
		{"validation rejected", api.NewValidationRejectedError("content_filter", "blocked"), http.StatusBadRequest},
		{"not found", api.NewNotFoundError("no such record"), http.StatusNotFound},
		{"budget exceeded", api.NewBudgetExceededError("global", "ceiling reached"), http.StatusTooManyRequests},
		{"rate limited", api.NewTooManyRequestsError("slow down"), http.StatusTooManyRequests},
		{"no providers", api.NewNoProvidersError(api.CapabilityVideo), http.StatusServiceUnavailable},
		{"exhausted", api.NewUpstreamExhaustedError("all candidates failed"), http.StatusBadGateway},
		{"reload rejected", api.NewPolicyReloadRejectedError("bad snapshot"), http.StatusBadRequest},
		{"server error", api.NewServerError("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatusFromError(tc.err); got != tc.want {
				t.Errorf("HTTPStatusFromError(%s/%s) = %d, want %d", tc.err.Type, tc.err.Code, got, tc.want)
			}
		})
	}
}

func TestWriteAPIError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAPIError(rec, api.NewBudgetExceededError("global", "daily ceiling reached"))

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp api.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != api.CodeBudgetExhausted {
		t.Errorf("body error = %+v, want budget_exhausted", resp.Error)
	}
	if resp.Error.Param != "global" {
		t.Errorf("param = %q, want \"global\"", resp.Error.Param)
	}
}
