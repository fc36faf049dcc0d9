package integration

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/policy"
)

func TestImageGeneration_EndToEnd(t *testing.T) {
	s := buildStack(t, stackOptions{})

	rec := s.post(t, "/v1/images/generate", `{"prompt":"a lighthouse at dusk","size":"1024x1024"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeGeneration(t, rec)
	if resp.Provider != "openai" {
		t.Errorf("provider = %q, want openai", resp.Provider)
	}
	if resp.Cached {
		t.Error("first generation should not be cached")
	}
	if len(resp.Data) == 0 {
		t.Fatal("expected media in response")
	}
}

func TestImageGeneration_CacheHit(t *testing.T) {
	s := buildStack(t, stackOptions{})

	body := `{"prompt":"a lighthouse at dusk","size":"1024x1024"}`
	first := s.post(t, "/v1/images/generate", body)
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d: %s", first.Code, first.Body.String())
	}

	second := s.post(t, "/v1/images/generate", body)
	if second.Code != http.StatusOK {
		t.Fatalf("second status = %d: %s", second.Code, second.Body.String())
	}
	if !decodeGeneration(t, second).Cached {
		t.Error("identical request should be served from cache")
	}

	s.backend.mu.Lock()
	calls := s.backend.imageCalls
	s.backend.mu.Unlock()
	if calls != 1 {
		t.Errorf("backend image calls = %d, cache hit should not reach the backend", calls)
	}
}

func TestImageGeneration_FallbackToSecondProvider(t *testing.T) {
	s := buildStack(t, stackOptions{})
	s.backend.setFailImages(true)

	rec := s.post(t, "/v1/images/generate", `{"prompt":"a mountain valley"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeGeneration(t, rec)
	if resp.Provider != "replicate" {
		t.Errorf("provider = %q, want fallback to replicate", resp.Provider)
	}
}

func TestDiagramGeneration_EndToEnd(t *testing.T) {
	s := buildStack(t, stackOptions{})

	rec := s.post(t, "/v1/diagrams/generate", `{"description":"request flow","kind":"flowchart","format":"mermaid"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeGeneration(t, rec)
	if resp.Code == "" {
		t.Error("expected diagram source in response")
	}
	if resp.Format != "mermaid" {
		t.Errorf("format = %q, want mermaid", resp.Format)
	}
}

func TestVideoGeneration_EndToEnd(t *testing.T) {
	s := buildStack(t, stackOptions{})

	rec := s.post(t, "/v1/videos/generate", `{"prompt":"waves on a beach","duration_seconds":4}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeGeneration(t, rec)
	if resp.Provider != "replicate" {
		t.Errorf("provider = %q, want replicate", resp.Provider)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		t.Errorf("expected a video URL, got %+v", resp.Data)
	}
}

func TestBudgetExhaustion(t *testing.T) {
	snap := testPolicy()
	// Room for exactly one 0.04 image generation.
	snap.Cost.Scopes = []policy.BudgetScope{
		{Scope: policy.GlobalScope, Limit: 0.05, Unit: "usd", Window: 24 * time.Hour},
	}
	s := buildStack(t, stackOptions{snapshot: &snap})

	first := s.post(t, "/v1/images/generate", `{"prompt":"a lighthouse at dusk"}`)
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d: %s", first.Code, first.Body.String())
	}

	// A different prompt avoids the cache, so this one must hit the ledger.
	second := s.post(t, "/v1/images/generate", `{"prompt":"a mountain valley"}`)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429: %s", second.Code, second.Body.String())
	}

	var er api.ErrorResponse
	if err := json.Unmarshal(second.Body.Bytes(), &er); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	if er.Error.Code != api.CodeBudgetExhausted {
		t.Errorf("code = %q, want %q", er.Error.Code, api.CodeBudgetExhausted)
	}
}

func TestValidationRejection(t *testing.T) {
	s := buildStack(t, stackOptions{})

	rec := s.post(t, "/v1/images/generate", `{"prompt":"hi"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestUsageRecording(t *testing.T) {
	s := buildStack(t, stackOptions{})

	body := `{"prompt":"a lighthouse at dusk"}`
	s.post(t, "/v1/images/generate", body)
	s.post(t, "/v1/images/generate", body)

	rec := s.get(t, "/v1/usage?limit=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("usage status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Records []json.RawMessage `json:"records"`
		Summary struct {
			Requests  int `json:"requests"`
			CacheHits int `json:"cache_hits"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding usage: %v", err)
	}
	if len(resp.Records) != 2 {
		t.Errorf("records = %d, want 2", len(resp.Records))
	}
	if resp.Summary.CacheHits != 1 {
		t.Errorf("cache hits = %d, want 1", resp.Summary.CacheHits)
	}
}
