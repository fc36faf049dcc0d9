package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/budget"
	"github.com/atelier-dev/atelier/pkg/cache"
	"github.com/atelier-dev/atelier/pkg/guard"
	"github.com/atelier-dev/atelier/pkg/policy"
	"github.com/atelier-dev/atelier/pkg/provider"
	"github.com/atelier-dev/atelier/pkg/resilience"
	"github.com/atelier-dev/atelier/pkg/routing"
	"github.com/atelier-dev/atelier/pkg/usage"
)

// usageRecordTimeout bounds the best-effort usage write after an outcome.
const usageRecordTimeout = 5 * time.Second

// OutcomeSink receives every terminal outcome, including cache hits and
// rejections. Emit runs on the request goroutine and must not block.
type OutcomeSink interface {
	Emit(ctx context.Context, req *api.Request, out *api.Outcome)
}

// Deps carries the engine's collaborators. Policies, Ledger, Executor and
// Registry are required; the rest degrade gracefully when nil.
type Deps struct {
	// Policies supplies the snapshot captured once per request.
	Policies *policy.Store

	// Cache is the response cache. Nil disables caching regardless of
	// what the policy says.
	Cache cache.Cache

	// Ledger tracks spend against the cost policy's scopes.
	Ledger *budget.Ledger

	// Executor runs provider work through retries and circuit breakers.
	// The engine routes candidates using the executor's breaker registry.
	Executor *resilience.Executor

	// Registry resolves provider names from the routing chain to adapters.
	Registry *provider.Registry

	// Usage records one row per orchestration. Nil disables recording.
	Usage usage.Recorder

	// Sink observes every outcome. Nil disables emission.
	Sink OutcomeSink

	// Logger receives engine diagnostics. Nil means slog.Default().
	Logger *slog.Logger

	// Validation bounds the structural request checks. The zero value
	// selects api.DefaultValidationConfig().
	Validation api.ValidationConfig
}

// Engine orchestrates generation requests across provider backends
// according to the current policy snapshot.
type Engine struct {
	policies   *policy.Store
	cache      cache.Cache
	ledger     *budget.Ledger
	executor   *resilience.Executor
	registry   *provider.Registry
	router     *routing.Router
	usage      usage.Recorder
	sink       OutcomeSink
	logger     *slog.Logger
	validation api.ValidationConfig
}

// New assembles an Engine from deps.
func New(deps Deps) (*Engine, error) {
	if deps.Policies == nil {
		return nil, fmt.Errorf("engine: policy store must not be nil")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("engine: budget ledger must not be nil")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("engine: resilience executor must not be nil")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("engine: provider registry must not be nil")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	validation := deps.Validation
	if validation == (api.ValidationConfig{}) {
		validation = api.DefaultValidationConfig()
	}

	return &Engine{
		policies:   deps.Policies,
		cache:      deps.Cache,
		ledger:     deps.Ledger,
		executor:   deps.Executor,
		registry:   deps.Registry,
		router:     routing.New(deps.Executor.Breakers()),
		usage:      deps.Usage,
		sink:       deps.Sink,
		logger:     logger,
		validation: validation,
	}, nil
}

// Generate runs one request through the pipeline: gates, cache, budget
// admission, routing, then each candidate provider in order until one
// produces an artifact. The returned Outcome is terminal for every path;
// the error return is reserved for engine misuse.
//
// Generate normalizes the request in place: it assigns a generation ID
// when absent and masks detected PII in the prompt when the active policy
// requires it.
func (e *Engine) Generate(ctx context.Context, req *api.Request) (*api.Outcome, error) {
	if req == nil {
		return nil, fmt.Errorf("engine: request must not be nil")
	}
	if req.ID == "" {
		req.ID = api.NewGenerationID()
	}

	started := time.Now()
	snap := e.policies.Current()

	outcome := &api.Outcome{
		RequestID:     req.ID,
		Capability:    req.Capability,
		PolicyVersion: snap.Version,
	}

	// The aggregate deadline bounds everything below, including the
	// candidate loop.
	settings := snap.Resilience.SettingsFor(req.Capability, "")
	if settings.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.RequestTimeout)
		defer cancel()
	}

	// Gates run on the raw prompt. A rejected request performs no cache,
	// budget, or provider work.
	if apiErr := api.ValidateRequest(req, e.validation); apiErr != nil {
		outcome.Status = api.StatusValidationRejected
		outcome.Err = apiErr
		return e.finish(ctx, req, outcome, started)
	}
	if rej := guard.Validate(snap, req); rej != nil {
		outcome.Status = api.StatusValidationRejected
		outcome.Err = api.NewValidationRejectedError(rej.Gate, rej.Reason)
		return e.finish(ctx, req, outcome, started)
	}

	// Detected PII must reach neither the cache nor a provider.
	if snap.Security.MaskPII {
		if masked, found := guard.MaskPII(req.Prompt); found {
			req.Prompt = masked
		}
	}

	if !snap.Features.CapabilityEnabled(req.Capability) {
		outcome.Status = api.StatusNoProviders
		outcome.Err = api.NewNoProvidersError(req.Capability)
		return e.finish(ctx, req, outcome, started)
	}

	useCache := e.cache != nil && snap.Cache.Enabled && snap.Features.CachingEnabled
	var fingerprint string
	var simKey api.SimilarityKey
	if useCache {
		fingerprint = req.Fingerprint()
		simKey = req.SimilarityKey()
		entry, ok, err := e.cache.Lookup(ctx, fingerprint, simKey, snap.Cache.SimilarityThreshold)
		switch {
		case err != nil:
			// A broken cache degrades to a miss.
			e.logger.Warn("cache lookup failed", "request_id", req.ID, "error", err)
		case ok:
			outcome.Status = api.StatusCacheHit
			outcome.Artifact = entry.Payload
			if entry.Payload != nil {
				outcome.Provider = entry.Payload.Provider
			}
			return e.finish(ctx, req, outcome, started)
		}
	}

	// Hold the worst-case estimate against the global scope before any
	// provider work starts. Per-provider scopes are admitted inside the
	// candidate loop, where the provider is known.
	units := outputUnits(req)
	estimate := snap.Cost.MaxCostFor(req.Capability, snap.Routing.ChainFor(req.Capability)) * units
	globalHold, err := e.ledger.Admit(snap.Cost, policy.GlobalScope, estimate)
	if err != nil {
		outcome.Status = api.StatusBudgetRejected
		outcome.Err = api.NewBudgetExceededError(policy.GlobalScope, err.Error())
		return e.finish(ctx, req, outcome, started)
	}
	outcome.EstimatedCost = estimate

	candidates, err := e.router.Candidates(snap, req.Capability)
	if err != nil {
		globalHold.Release()
		outcome.Status = api.StatusNoProviders
		outcome.Err = api.NewNoProvidersError(req.Capability)
		return e.finish(ctx, req, outcome, started)
	}
	candidates = applyPin(candidates, req.Provider)

	var attempts []api.Attempt
	for _, cand := range candidates {
		if ctx.Err() != nil {
			break
		}

		cost := snap.Cost.CostFor(cand.Provider, req.Capability) * units
		provHold, err := e.ledger.Admit(snap.Cost, cand.Provider, cost)
		if err != nil {
			attempts = append(attempts, api.Attempt{
				Provider: cand.Provider,
				Reason:   api.ReasonBudgetRejected,
				Error:    err.Error(),
			})
			continue
		}

		if !e.registry.Supports(cand.Provider, req.Capability) {
			provHold.Release()
			attempts = append(attempts, api.Attempt{
				Provider: cand.Provider,
				Reason:   api.ReasonUnregistered,
				Error:    fmt.Sprintf("no adapter registered for %s/%s", req.Capability, cand.Provider),
			})
			continue
		}
		adapter, _ := e.registry.Get(cand.Provider)

		provSettings := snap.Resilience.SettingsFor(req.Capability, cand.Provider)
		artifact, attempt := e.executor.Execute(ctx, provSettings, req.Capability, cand.Provider,
			func(ctx context.Context) (*api.Artifact, error) {
				return adapter.Invoke(ctx, req)
			})
		attempts = append(attempts, attempt)

		if artifact == nil {
			provHold.Release()
			if attempt.Reason == api.ReasonDeadlineExceeded {
				break
			}
			continue
		}

		// First success wins.
		if artifact.Provider == "" {
			artifact.Provider = cand.Provider
		}
		if artifact.Capability == "" {
			artifact.Capability = req.Capability
		}

		// Textual payloads are sanitized before they reach the cache
		// or the caller, so a stored entry is already clean on replay.
		if artifact.Code != "" {
			artifact.Code = guard.SanitizeOutput(artifact.Code)
		}

		overCeiling := globalHold.Commit(cost)
		if provHold.Commit(cost) {
			overCeiling = true
		}

		outcome.Status = api.StatusSuccess
		outcome.Provider = cand.Provider
		outcome.Artifact = artifact
		outcome.ActualCost = cost
		outcome.BudgetOverCeiling = overCeiling
		outcome.Attempts = attempts

		if useCache {
			now := time.Now().UTC()
			entry := &cache.Entry{
				Fingerprint:   fingerprint,
				SimilarityKey: simKey,
				Payload:       artifact,
				CreatedAt:     now,
				ExpiresAt:     now.Add(snap.Cache.TTL),
			}
			if err := e.cache.Store(ctx, entry, snap.Cache.MaxEntries); err != nil {
				e.logger.Warn("cache store failed", "request_id", req.ID, "error", err)
			}
		}
		return e.finish(ctx, req, outcome, started)
	}

	// Nothing produced an artifact; the hold is released in full.
	globalHold.Release()
	outcome.Status = api.StatusExhausted
	outcome.Attempts = attempts
	outcome.Err = api.NewUpstreamExhaustedError(exhaustionMessage(ctx, attempts))
	return e.finish(ctx, req, outcome, started)
}

// finish stamps the duration, records usage and emits the outcome. Every
// pipeline exit funnels through here.
func (e *Engine) finish(ctx context.Context, req *api.Request, outcome *api.Outcome, started time.Time) (*api.Outcome, error) {
	outcome.DurationMS = time.Since(started).Milliseconds()

	if e.usage != nil {
		e.recordUsage(ctx, outcome)
	}
	if e.sink != nil {
		e.sink.Emit(ctx, req, outcome)
	}
	return outcome, nil
}

// recordUsage writes the usage row. It runs on a context detached from the
// request deadline so a timed-out request still leaves a row; failures are
// logged, never surfaced.
func (e *Engine) recordUsage(ctx context.Context, outcome *api.Outcome) {
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageRecordTimeout)
	defer cancel()

	rec := &usage.Record{
		ID:            api.NewRecordID(),
		RequestID:     outcome.RequestID,
		Capability:    outcome.Capability,
		Provider:      outcome.Provider,
		Status:        outcome.Status,
		EstimatedCost: outcome.EstimatedCost,
		ActualCost:    outcome.ActualCost,
		Cached:        outcome.Status == api.StatusCacheHit,
		Attempts:      len(outcome.Attempts),
		DurationMS:    outcome.DurationMS,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.usage.Record(recCtx, rec); err != nil {
		e.logger.Warn("usage recording failed", "request_id", outcome.RequestID, "error", err)
	}
}

// applyPin restricts the candidate list to the pinned provider. A pin
// naming a provider outside the list cannot be honored and is ignored;
// the full chain proceeds.
func applyPin(candidates []routing.Candidate, pin string) []routing.Candidate {
	if pin == "" {
		return candidates
	}
	for _, c := range candidates {
		if c.Provider == pin {
			return []routing.Candidate{c}
		}
	}
	return candidates
}

// outputUnits returns the number of billable outputs the request asks for.
func outputUnits(req *api.Request) float64 {
	if n, err := strconv.Atoi(req.Param(api.ParamCount)); err == nil && n > 1 {
		return float64(n)
	}
	return 1
}

func exhaustionMessage(ctx context.Context, attempts []api.Attempt) string {
	if len(attempts) == 0 {
		if ctx.Err() != nil {
			return "request deadline exceeded before any provider was tried"
		}
		return "no provider attempts were made"
	}
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		p := fmt.Sprintf("%s: %s", a.Provider, a.Reason)
		if a.Error != "" {
			p = fmt.Sprintf("%s (%s)", p, a.Error)
		}
		parts = append(parts, p)
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}
