// Package integration exercises the assembled gateway end to end: HTTP
// adapter, engine, policy store, budget ledger, cache, and real provider
// adapters pointed at an in-process fake backend.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/auth"
	"github.com/atelier-dev/atelier/pkg/budget"
	cachememory "github.com/atelier-dev/atelier/pkg/cache/memory"
	"github.com/atelier-dev/atelier/pkg/engine"
	"github.com/atelier-dev/atelier/pkg/observability"
	"github.com/atelier-dev/atelier/pkg/policy"
	"github.com/atelier-dev/atelier/pkg/provider"
	"github.com/atelier-dev/atelier/pkg/provider/openai"
	"github.com/atelier-dev/atelier/pkg/provider/replicate"
	"github.com/atelier-dev/atelier/pkg/resilience"
	"github.com/atelier-dev/atelier/pkg/transport"
	transporthttp "github.com/atelier-dev/atelier/pkg/transport/http"
	usagememory "github.com/atelier-dev/atelier/pkg/usage/memory"
)

// fakeBackend is an in-process stand-in for the OpenAI and Replicate APIs.
type fakeBackend struct {
	srv *httptest.Server

	mu          sync.Mutex
	failImages  bool
	imageCalls  int
	predictions map[string]int
	seq         int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	b := &fakeBackend{predictions: make(map[string]int)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/images/generations", b.handleImages)
	mux.HandleFunc("POST /v1/chat/completions", b.handleChat)
	mux.HandleFunc("POST /v1/predictions", b.handleCreatePrediction)
	mux.HandleFunc("GET /v1/predictions/{id}", b.handleGetPrediction)

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) setFailImages(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failImages = fail
}

func (b *fakeBackend) handleImages(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.imageCalls++
	fail := b.failImages
	b.mu.Unlock()

	if fail {
		http.Error(w, `{"error":{"message":"backend down","type":"server_error"}}`, http.StatusInternalServerError)
		return
	}

	var req struct {
		N int `json:"n"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	n := req.N
	if n <= 0 {
		n = 1
	}
	data := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		data = append(data, map[string]any{"url": fmt.Sprintf("https://fake.invalid/img-%d.png", i)})
	}
	writeJSON(w, map[string]any{"created": time.Now().Unix(), "data": data})
}

func (b *fakeBackend) handleChat(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"choices": []map[string]any{
			{
				"message":       map[string]any{"role": "assistant", "content": "```mermaid\nflowchart TD\n    A --> B\n```"},
				"finish_reason": "stop",
			},
		},
	})
}

func (b *fakeBackend) handleCreatePrediction(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	b.seq++
	id := fmt.Sprintf("pred-%d", b.seq)
	b.predictions[id] = 0
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{"id": id, "status": "processing"})
}

func (b *fakeBackend) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	b.mu.Lock()
	b.predictions[id]++
	polls := b.predictions[id]
	b.mu.Unlock()

	if polls < 2 {
		writeJSON(w, map[string]any{"id": id, "status": "processing"})
		return
	}
	writeJSON(w, map[string]any{
		"id":     id,
		"status": "succeeded",
		"output": []string{"https://fake.invalid/" + id + ".mp4"},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// testPolicy returns a snapshot tuned for fast tests: single attempts and
// minimal backoff.
func testPolicy() policy.Snapshot {
	snap := policy.Defaults()
	snap.Resilience.Defaults.MaxAttempts = 1
	snap.Resilience.Defaults.InitialBackoff = time.Millisecond
	snap.Resilience.Defaults.MaxBackoff = 5 * time.Millisecond
	snap.Resilience.Defaults.AttemptTimeout = 5 * time.Second
	snap.Resilience.Defaults.RequestTimeout = 10 * time.Second
	return snap
}

// stack is one fully assembled gateway with its collaborators exposed for
// assertions.
type stack struct {
	handler  http.Handler
	policies *policy.Store
	ledger   *budget.Ledger
	usage    *usagememory.Recorder
	backend  *fakeBackend
}

type stackOptions struct {
	snapshot *policy.Snapshot
	source   transporthttp.PolicySource
	authMW   transport.Middleware
}

func buildStack(t *testing.T, opts stackOptions) *stack {
	t.Helper()

	backend := newFakeBackend(t)

	snap := testPolicy()
	if opts.snapshot != nil {
		snap = *opts.snapshot
	}
	policies, err := policy.NewStore(&snap)
	if err != nil {
		t.Fatalf("creating policy store: %v", err)
	}

	registry := provider.NewRegistry()
	openaiAdapter, err := openai.New(openai.Config{
		BaseURL: backend.srv.URL,
		APIKey:  "test-key",
	})
	if err != nil {
		t.Fatalf("creating openai adapter: %v", err)
	}
	if err := registry.Register(openaiAdapter); err != nil {
		t.Fatalf("registering openai adapter: %v", err)
	}

	replicateAdapter, err := replicate.New(replicate.Config{
		BaseURL:      backend.srv.URL,
		APIToken:     "test-token",
		ImageVersion: "test-image-version",
		VideoVersion: "test-video-version",
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("creating replicate adapter: %v", err)
	}
	if err := registry.Register(replicateAdapter); err != nil {
		t.Fatalf("registering replicate adapter: %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	breakers := resilience.NewRegistry()
	ledger := budget.NewLedger()
	recorder := usagememory.New(128)
	responseCache := cachememory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng, err := engine.New(engine.Deps{
		Policies: policies,
		Cache:    responseCache,
		Ledger:   ledger,
		Executor: resilience.NewExecutor(breakers),
		Registry: registry,
		Usage:    recorder,
		Sink:     observability.NewSink(logger, breakers),
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}

	source := opts.source
	if source == nil {
		source = func() (*policy.Snapshot, error) {
			next := testPolicy()
			return &next, nil
		}
	}

	adapter, err := transporthttp.NewAdapter(transporthttp.Deps{
		Generator:       eng,
		Policies:        policies,
		Source:          source,
		Ledger:          ledger,
		Breakers:        breakers,
		Providers:       registry,
		Usage:           recorder,
		Cache:           responseCache,
		AdminMiddleware: auth.RequireScope(auth.ScopeAdmin),
		Logger:          logger,
	}, transporthttp.DefaultConfig())
	if err != nil {
		t.Fatalf("creating adapter: %v", err)
	}

	serverOpts := []transporthttp.ServerOption{transporthttp.WithLogger(logger)}
	if opts.authMW != nil {
		serverOpts = append(serverOpts, transporthttp.WithMiddleware(opts.authMW))
	}
	srv := transporthttp.NewServer(adapter.Handler(), serverOpts...)

	return &stack{
		handler:  srv.Handler(),
		policies: policies,
		ledger:   ledger,
		usage:    recorder,
		backend:  backend,
	}
}

func (s *stack) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *stack) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

// generationResponse mirrors the success wire shape.
type generationResponse struct {
	ID         string         `json:"id"`
	Capability api.Capability `json:"capability"`
	Provider   string         `json:"provider"`
	Cached     bool           `json:"cached"`
	Data       []api.Media    `json:"data"`
	Code       string         `json:"code"`
	Format     string         `json:"format"`
}

func decodeGeneration(t *testing.T, rec *httptest.ResponseRecorder) generationResponse {
	t.Helper()
	var resp generationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return resp
}
