// Command mock-backend runs a deterministic generation server for local
// development and integration testing. It speaks just enough of the OpenAI
// images and chat APIs and the Replicate predictions API that the gateway's
// provider adapters accept it as a real backend.
//
// Configuration:
//
//	MOCK_PORT       - Listen port (default: 9090)
//	MOCK_FAIL_PCT   - Percent of generation calls that fail with 500 (default: 0)
//	MOCK_LATENCY_MS - Added latency per generation call (default: 0)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

func main() {
	port := envOrDefault("MOCK_PORT", "9090")
	failPct := envInt("MOCK_FAIL_PCT", 0)
	latency := time.Duration(envInt("MOCK_LATENCY_MS", 0)) * time.Millisecond

	b := &backend{
		failPct:     failPct,
		latency:     latency,
		predictions: make(map[string]*predictionState),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/images/generations", b.handleImages)
	mux.HandleFunc("POST /v1/chat/completions", b.handleChat)
	mux.HandleFunc("POST /v1/predictions", b.handleCreatePrediction)
	mux.HandleFunc("GET /v1/predictions/{id}", b.handleGetPrediction)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port, "fail_pct", failPct, "latency", latency)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

type backend struct {
	failPct int
	latency time.Duration

	mu          sync.Mutex
	predictions map[string]*predictionState
	seq         int
}

type predictionState struct {
	polls int
}

// simulate applies configured latency and decides whether this call fails.
func (b *backend) simulate() bool {
	if b.latency > 0 {
		time.Sleep(b.latency)
	}
	return b.failPct > 0 && rand.Intn(100) < b.failPct
}

// --- OpenAI image generations ---

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

func (b *backend) handleImages(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if b.simulate() {
		writeOpenAIError(w, http.StatusInternalServerError, "simulated backend failure")
		return
	}

	n := req.N
	if n <= 0 {
		n = 1
	}
	// 1x1 transparent PNG, deterministic for cache-friendliness.
	const pixel = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="
	data := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		data = append(data, map[string]any{"b64_json": pixel})
	}

	writeJSON(w, map[string]any{
		"created": time.Now().Unix(),
		"data":    data,
	})
}

// --- OpenAI chat completions (diagram code) ---

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func (b *backend) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if b.simulate() {
		writeOpenAIError(w, http.StatusInternalServerError, "simulated backend failure")
		return
	}

	// A canned mermaid flowchart wrapped in a code fence, the shape the
	// diagram adapter extracts from.
	code := "```mermaid\nflowchart TD\n    A[Request] --> B{Routed?}\n    B -->|yes| C[Provider]\n    B -->|no| D[Rejected]\n```"
	if prompt := lastUserMessage(&req); strings.Contains(strings.ToLower(prompt), "sequence") {
		code = "```mermaid\nsequenceDiagram\n    Client->>Gateway: request\n    Gateway->>Provider: invoke\n    Provider-->>Client: artifact\n```"
	}

	writeJSON(w, map[string]any{
		"id":     "chatcmpl-mock",
		"object": "chat.completion",
		"model":  req.Model,
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": code},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{"prompt_tokens": 20, "completion_tokens": 40, "total_tokens": 60},
	})
}

func lastUserMessage(req *chatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

// --- Replicate predictions ---

type predictionRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

func (b *backend) handleCreatePrediction(w http.ResponseWriter, r *http.Request) {
	var req predictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"detail":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if b.simulate() {
		http.Error(w, `{"detail":"simulated backend failure"}`, http.StatusInternalServerError)
		return
	}

	b.mu.Lock()
	b.seq++
	id := fmt.Sprintf("pred-%d", b.seq)
	b.predictions[id] = &predictionState{}
	b.mu.Unlock()

	// Start in "processing" so the adapter exercises its polling path.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"id":     id,
		"status": "processing",
		"urls":   map[string]any{"get": ""},
	})
}

func (b *backend) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	b.mu.Lock()
	state, ok := b.predictions[id]
	if ok {
		state.polls++
	}
	b.mu.Unlock()

	if !ok {
		http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
		return
	}

	// Succeed on the second poll.
	if state.polls < 2 {
		writeJSON(w, map[string]any{"id": id, "status": "processing"})
		return
	}
	writeJSON(w, map[string]any{
		"id":     id,
		"status": "succeeded",
		"output": []string{"https://mock.invalid/outputs/" + id + ".png"},
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeOpenAIError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"server_error"}}`, message)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid env value", "key", key, "value", v)
		return def
	}
	return n
}
