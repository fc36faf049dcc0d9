package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/budget"
	"github.com/atelier-dev/atelier/pkg/cache"
	"github.com/atelier-dev/atelier/pkg/observability"
	"github.com/atelier-dev/atelier/pkg/policy"
	"github.com/atelier-dev/atelier/pkg/provider"
	"github.com/atelier-dev/atelier/pkg/resilience"
	"github.com/atelier-dev/atelier/pkg/transport"
	"github.com/atelier-dev/atelier/pkg/usage"
)

// PolicySource re-reads the policy document for the reload endpoint. It
// returns a fresh unpublished snapshot or an error describing why the
// document is unusable.
type PolicySource func() (*policy.Snapshot, error)

// Deps carries the adapter's collaborators. Generator is required; the
// admin endpoints degrade individually when their collaborator is nil.
type Deps struct {
	Generator transport.Generator

	// Policies backs GET /v1/policies and the reload endpoint.
	Policies *policy.Store

	// Source supplies reloaded snapshots. Nil disables POST /v1/policies/reload.
	Source PolicySource

	// Ledger backs GET /v1/budget.
	Ledger *budget.Ledger

	// Breakers backs the breaker column of GET /v1/providers.
	Breakers *resilience.Registry

	// Providers backs GET /v1/providers.
	Providers *provider.Registry

	// Usage backs GET /v1/usage and the usage column of GET /healthz.
	Usage usage.Recorder

	// Cache backs the cache column of GET /healthz.
	Cache cache.Cache

	// AdminMiddleware wraps the admin endpoints (scope enforcement).
	// Nil leaves them open.
	AdminMiddleware transport.Middleware

	Logger *slog.Logger
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	// MaxBodySize bounds request bodies in bytes.
	MaxBodySize int64
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{MaxBodySize: 1 << 20}
}

// Adapter serves the atelier generation and admin API over HTTP.
// It routes requests to the appropriate handler, normalizes endpoint
// payloads into api.Request, and serializes outcomes.
type Adapter struct {
	deps   Deps
	config Config
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewAdapter creates an HTTP adapter from deps.
func NewAdapter(deps Deps, cfg Config) (*Adapter, error) {
	if deps.Generator == nil {
		return nil, fmt.Errorf("http: generator must not be nil")
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Adapter{
		deps:   deps,
		config: cfg,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	a.mux.HandleFunc("POST /v1/images/generate", a.handleGenerateImage)
	a.mux.HandleFunc("POST /v1/diagrams/generate", a.handleGenerateDiagram)
	a.mux.HandleFunc("POST /v1/videos/generate", a.handleGenerateVideo)

	admin := func(h http.HandlerFunc) http.Handler {
		if deps.AdminMiddleware != nil {
			return deps.AdminMiddleware(h)
		}
		return h
	}
	a.mux.Handle("GET /v1/policies", admin(a.handleGetPolicies))
	a.mux.Handle("POST /v1/policies/reload", admin(a.handleReloadPolicies))
	a.mux.Handle("GET /v1/budget", admin(a.handleGetBudget))
	a.mux.Handle("GET /v1/providers", admin(a.handleGetProviders))
	a.mux.Handle("GET /v1/usage", admin(a.handleGetUsage))

	a.mux.HandleFunc("GET /healthz", a.handleHealthz)

	return a, nil
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest.
func (a *Adapter) Handler() http.Handler {
	return a.mux
}

// ---------------------------------------------------------------------------
// Generation endpoints
// ---------------------------------------------------------------------------

// imageRequest is the wire shape of POST /v1/images/generate.
type imageRequest struct {
	Prompt   string `json:"prompt"`
	Size     string `json:"size,omitempty"`
	Style    string `json:"style,omitempty"`
	Count    int    `json:"count,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// diagramRequest is the wire shape of POST /v1/diagrams/generate.
// Description is the canonical field; Prompt is accepted as an alias.
type diagramRequest struct {
	Description string `json:"description,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Format      string `json:"format,omitempty"`
	Provider    string `json:"provider,omitempty"`
}

// videoRequest is the wire shape of POST /v1/videos/generate. An image URL
// switches the backend into image-to-video mode, animating the source frame
// with the given motion intensity.
type videoRequest struct {
	Prompt          string `json:"prompt"`
	ImageURL        string `json:"image_url,omitempty"`
	Motion          int    `json:"motion,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Resolution      string `json:"resolution,omitempty"`
	Provider        string `json:"provider,omitempty"`
}

// generationResponse is the wire shape of a successful generation.
type generationResponse struct {
	ID            string        `json:"id"`
	Created       int64         `json:"created"`
	Capability    api.Capability `json:"capability"`
	Provider      string        `json:"provider,omitempty"`
	Cached        bool          `json:"cached"`
	Data          []api.Media   `json:"data,omitempty"`
	Code          string        `json:"code,omitempty"`
	Format        string        `json:"format,omitempty"`
	Attempts      []api.Attempt `json:"attempts,omitempty"`
	CostUSD       float64       `json:"cost_usd,omitempty"`
	PolicyVersion int64         `json:"policy_version"`
}

func (a *Adapter) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	var body imageRequest
	if !a.decode(w, r, &body) {
		return
	}

	params := map[string]string{}
	setParam(params, api.ParamSize, body.Size)
	setParam(params, api.ParamStyle, body.Style)
	if body.Count > 0 {
		params[api.ParamCount] = strconv.Itoa(body.Count)
	}

	a.generate(w, r, &api.Request{
		Capability: api.CapabilityImage,
		Prompt:     body.Prompt,
		Params:     params,
		Provider:   body.Provider,
	})
}

func (a *Adapter) handleGenerateDiagram(w http.ResponseWriter, r *http.Request) {
	var body diagramRequest
	if !a.decode(w, r, &body) {
		return
	}

	prompt := body.Description
	if prompt == "" {
		prompt = body.Prompt
	}

	params := map[string]string{}
	setParam(params, api.ParamKind, body.Kind)
	setParam(params, api.ParamFormat, body.Format)

	a.generate(w, r, &api.Request{
		Capability: api.CapabilityDiagram,
		Prompt:     prompt,
		Params:     params,
		Provider:   body.Provider,
	})
}

func (a *Adapter) handleGenerateVideo(w http.ResponseWriter, r *http.Request) {
	var body videoRequest
	if !a.decode(w, r, &body) {
		return
	}

	params := map[string]string{}
	setParam(params, api.ParamResolution, body.Resolution)
	setParam(params, api.ParamImageURL, body.ImageURL)
	if body.Motion > 0 {
		params[api.ParamMotion] = strconv.Itoa(body.Motion)
	}
	if body.DurationSeconds > 0 {
		params[api.ParamDuration] = strconv.Itoa(body.DurationSeconds)
	}

	a.generate(w, r, &api.Request{
		Capability: api.CapabilityVideo,
		Prompt:     body.Prompt,
		Params:     params,
		Provider:   body.Provider,
	})
}

// generate runs one normalized request through the engine and writes the
// outcome.
func (a *Adapter) generate(w http.ResponseWriter, r *http.Request, req *api.Request) {
	req.ID = api.NewGenerationID()

	out, err := a.deps.Generator.Generate(r.Context(), req)
	if err != nil {
		a.logger.Error("generate failed", "error", err)
		transport.WriteAPIError(w, api.NewServerError("orchestration failed"))
		return
	}

	if !out.Succeeded() {
		apiErr := out.Err
		if apiErr == nil {
			apiErr = api.NewServerError("generation failed")
		}
		transport.WriteErrorResponse(w, apiErr, transport.HTTPStatusFromError(apiErr))
		return
	}

	resp := generationResponse{
		ID:            out.RequestID,
		Created:       time.Now().Unix(),
		Capability:    out.Capability,
		Provider:      out.Provider,
		Cached:        out.Status == api.StatusCacheHit,
		Attempts:      out.Attempts,
		CostUSD:       out.ActualCost,
		PolicyVersion: out.PolicyVersion,
	}
	if art := out.Artifact; art != nil {
		resp.Data = art.Media
		resp.Code = art.Code
		resp.Format = art.Format
		if art.CreatedAt.Unix() > 0 {
			resp.Created = art.CreatedAt.Unix()
		}
	}
	transport.WriteJSON(w, http.StatusOK, resp)
}

// decode reads a size-bounded JSON body into v. It writes the error
// response and returns false when the body is unusable.
func (a *Adapter) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)),
				http.StatusRequestEntityTooLarge)
		case errors.Is(err, io.EOF):
			transport.WriteAPIError(w, api.NewInvalidRequestError("body", "request body is required"))
		default:
			transport.WriteAPIError(w, api.NewInvalidRequestError("body", fmt.Sprintf("invalid JSON: %v", err)))
		}
		return false
	}
	return true
}

func setParam(params map[string]string, key, value string) {
	if value != "" {
		params[key] = value
	}
}

// ---------------------------------------------------------------------------
// Admin endpoints
// ---------------------------------------------------------------------------

// policySummary is the wire shape of GET /v1/policies.
type policySummary struct {
	Version  int64                       `json:"version"`
	LoadedAt time.Time                   `json:"loaded_at"`
	Routing  map[api.Capability][]string `json:"routing"`
	Cache    policy.CachePolicy          `json:"cache"`
	Features policy.FeaturePolicy        `json:"features"`
}

func (a *Adapter) handleGetPolicies(w http.ResponseWriter, _ *http.Request) {
	if a.deps.Policies == nil {
		transport.WriteAPIError(w, api.NewNotFoundError("policy store not configured"))
		return
	}
	snap := a.deps.Policies.Current()

	routing := make(map[api.Capability][]string, len(snap.Routing.Chains))
	for _, cap := range api.Capabilities() {
		chain := snap.Routing.ChainFor(cap)
		if len(chain) == 0 {
			continue
		}
		names := make([]string, len(chain))
		for i, ref := range chain {
			names[i] = ref.Name
		}
		routing[cap] = names
	}

	transport.WriteJSON(w, http.StatusOK, policySummary{
		Version:  snap.Version,
		LoadedAt: snap.LoadedAt,
		Routing:  routing,
		Cache:    snap.Cache,
		Features: snap.Features,
	})
}

func (a *Adapter) handleReloadPolicies(w http.ResponseWriter, _ *http.Request) {
	if a.deps.Policies == nil || a.deps.Source == nil {
		transport.WriteAPIError(w, api.NewNotFoundError("policy reload not configured"))
		return
	}

	next, err := a.deps.Source()
	if err == nil {
		_, err = a.deps.Policies.Reload(next)
	}
	if err != nil {
		// The previous snapshot keeps serving.
		observability.PolicyReloads.WithLabelValues("rejected").Inc()
		a.logger.Warn("policy reload rejected", "error", err)
		transport.WriteAPIError(w, api.NewPolicyReloadRejectedError(err.Error()))
		return
	}

	applied := a.deps.Policies.Current()
	observability.PolicyReloads.WithLabelValues("applied").Inc()
	observability.PolicySnapshotVersion.Set(float64(applied.Version))
	a.logger.Info("policy reloaded", "version", applied.Version)

	transport.WriteJSON(w, http.StatusOK, map[string]any{
		"version":   applied.Version,
		"loaded_at": applied.LoadedAt,
	})
}

func (a *Adapter) handleGetBudget(w http.ResponseWriter, _ *http.Request) {
	if a.deps.Ledger == nil || a.deps.Policies == nil {
		transport.WriteAPIError(w, api.NewNotFoundError("budget ledger not configured"))
		return
	}
	snap := a.deps.Policies.Current()
	transport.WriteJSON(w, http.StatusOK, map[string]any{
		"scopes": a.deps.Ledger.Status(snap.Cost),
	})
}

// providerStatus is one row of GET /v1/providers.
type providerStatus struct {
	Name     string          `json:"name"`
	Breakers []breakerStatus `json:"breakers"`
}

type breakerStatus struct {
	Capability api.Capability   `json:"capability"`
	State      resilience.State `json:"state"`
	OpenedAt   *time.Time       `json:"opened_at,omitempty"`
}

func (a *Adapter) handleGetProviders(w http.ResponseWriter, _ *http.Request) {
	if a.deps.Providers == nil {
		transport.WriteAPIError(w, api.NewNotFoundError("provider registry not configured"))
		return
	}

	statuses := make([]providerStatus, 0)
	for _, name := range a.deps.Providers.Names() {
		adapter, ok := a.deps.Providers.Get(name)
		if !ok {
			continue
		}
		row := providerStatus{Name: name}
		for _, cap := range adapter.Capabilities() {
			bs := breakerStatus{Capability: cap, State: resilience.StateClosed}
			if a.deps.Breakers != nil {
				bs.State = a.deps.Breakers.State(cap, name)
				if at := a.deps.Breakers.OpenedAt(cap, name); !at.IsZero() {
					bs.OpenedAt = &at
				}
			}
			row.Breakers = append(row.Breakers, bs)
		}
		statuses = append(statuses, row)
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{"providers": statuses})
}

const (
	defaultUsageLimit = 50
	maxUsageLimit     = 500
)

func (a *Adapter) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	if a.deps.Usage == nil {
		transport.WriteAPIError(w, api.NewNotFoundError("usage recording not configured"))
		return
	}

	limit := defaultUsageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			transport.WriteAPIError(w, api.NewInvalidRequestError("limit", "limit must be a positive integer"))
			return
		}
		limit = min(n, maxUsageLimit)
	}

	records, err := a.deps.Usage.List(r.Context(), limit)
	if err != nil {
		a.logger.Error("usage list failed", "error", err)
		transport.WriteAPIError(w, api.NewServerError("listing usage records failed"))
		return
	}
	summary, err := a.deps.Usage.Summarize(r.Context(), time.Now().Add(-24*time.Hour))
	if err != nil {
		a.logger.Error("usage summary failed", "error", err)
		transport.WriteAPIError(w, api.NewServerError("summarizing usage failed"))
		return
	}

	transport.WriteJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"summary": summary,
	})
}

// healthCheckTimeout bounds the backend checks of the health endpoint.
const healthCheckTimeout = 2 * time.Second

// handleHealthz reports the reachability of the configured backends. A
// collaborator that is not configured is simply omitted; any failing check
// degrades the whole response to 503.
func (a *Adapter) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if a.deps.Cache != nil {
		if err := a.deps.Cache.HealthCheck(ctx); err != nil {
			checks["cache"] = err.Error()
			healthy = false
		} else {
			checks["cache"] = "ok"
		}
	}
	if a.deps.Usage != nil {
		if err := a.deps.Usage.HealthCheck(ctx); err != nil {
			checks["usage"] = err.Error()
			healthy = false
		} else {
			checks["usage"] = "ok"
		}
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	transport.WriteJSON(w, code, map[string]any{
		"status": status,
		"checks": checks,
	})
}
