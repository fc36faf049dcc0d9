package policy

import (
	"sort"
	"time"

	"github.com/atelier-dev/atelier/pkg/api"
)

// Snapshot is an immutable, versioned bundle of all active policy values.
// Callers must never mutate a snapshot after it is published to a Store;
// a reload builds a fresh one.
type Snapshot struct {
	// Version is assigned by the Store on publication, monotonically
	// increasing from 1. Zero means not yet published.
	Version  int64     `yaml:"-"`
	LoadedAt time.Time `yaml:"-"`

	Routing    RoutingPolicy    `yaml:"routing"`
	Resilience ResiliencePolicy `yaml:"resilience"`
	Cost       CostPolicy       `yaml:"cost"`
	Cache      CachePolicy      `yaml:"cache"`
	Security   SecurityPolicy   `yaml:"security"`
	Quality    QualityPolicy    `yaml:"quality"`
	Features   FeaturePolicy    `yaml:"features"`
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

// RoutingPolicy holds the per-capability provider chains.
type RoutingPolicy struct {
	// Chains maps a capability to its ordered provider chain
	// (primary first, then fallbacks).
	Chains map[api.Capability][]ProviderRef `yaml:"chains"`
}

// ProviderRef names one provider in a routing chain. Lower Priority sorts
// first; equal priorities keep their configured order.
type ProviderRef struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`
}

// ChainFor returns the capability's provider chain sorted by priority.
// The returned slice is a copy; callers may reorder it freely.
func (p RoutingPolicy) ChainFor(capability api.Capability) []ProviderRef {
	chain := p.Chains[capability]
	if len(chain) == 0 {
		return nil
	}
	out := make([]ProviderRef, len(chain))
	copy(out, chain)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// ---------------------------------------------------------------------------
// Resilience
// ---------------------------------------------------------------------------

// ResiliencePolicy holds retry, timeout, and circuit-breaker settings.
// Overrides are keyed by "capability/provider" or by capability alone and
// replace the full settings block (no field-level merging).
type ResiliencePolicy struct {
	Defaults  ResilienceSettings            `yaml:"defaults"`
	Overrides map[string]ResilienceSettings `yaml:"overrides"`
}

// ResilienceSettings parameterizes the executor and breaker for one
// (capability, provider) pair.
type ResilienceSettings struct {
	MaxAttempts       int           `yaml:"max_attempts"`       // default: 3
	InitialBackoff    time.Duration `yaml:"initial_backoff"`    // default: 500ms
	BackoffMultiplier float64       `yaml:"backoff_multiplier"` // default: 2.0
	MaxBackoff        time.Duration `yaml:"max_backoff"`        // default: 10s
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`    // default: 120s
	RequestTimeout    time.Duration `yaml:"request_timeout"`    // default: 300s, bounds the whole orchestration

	Breaker BreakerSettings `yaml:"breaker"`
}

// BreakerSettings holds the circuit-breaker thresholds.
type BreakerSettings struct {
	// WindowSize is the number of recent call outcomes considered.
	WindowSize int `yaml:"window_size"` // default: 10

	// FailureRateThreshold opens the breaker when the failure rate over a
	// full window reaches it. Range (0, 1].
	FailureRateThreshold float64 `yaml:"failure_rate_threshold"` // default: 0.5

	// OpenDuration is how long the breaker stays open before admitting a
	// half-open trial. Doubles per consecutive open, capped at
	// MaxOpenDuration.
	OpenDuration    time.Duration `yaml:"open_duration"`     // default: 30s
	MaxOpenDuration time.Duration `yaml:"max_open_duration"` // default: 240s
}

// SettingsFor resolves the effective settings for a (capability, provider)
// pair: the "capability/provider" override wins, then the capability
// override, then Defaults.
func (p ResiliencePolicy) SettingsFor(capability api.Capability, provider string) ResilienceSettings {
	if s, ok := p.Overrides[string(capability)+"/"+provider]; ok {
		return s
	}
	if s, ok := p.Overrides[string(capability)]; ok {
		return s
	}
	return p.Defaults
}

// ---------------------------------------------------------------------------
// Cost
// ---------------------------------------------------------------------------

// CostPolicy holds budget ceilings and the provider cost table.
type CostPolicy struct {
	// Scopes lists the budget scopes enforced at admission. A scope named
	// "global" applies to every request; any other name applies to the
	// provider with that name.
	Scopes []BudgetScope `yaml:"scopes"`

	// PerRequestLimit rejects any single request whose estimate exceeds it.
	// Zero disables the check.
	PerRequestLimit float64 `yaml:"per_request_limit_usd"`

	// Costs maps provider -> capability -> cost per generated unit in USD.
	Costs map[string]map[api.Capability]float64 `yaml:"costs"`
}

// BudgetScope configures one accounting bucket.
type BudgetScope struct {
	Scope  string        `yaml:"scope"`     // "global" or a provider name
	Limit  float64       `yaml:"limit_usd"` // ceiling per window
	Unit   string        `yaml:"unit"`      // "usd" (default) or "tokens"
	Window time.Duration `yaml:"window"`    // e.g. 24h
}

// GlobalScope is the scope identifier applying to all requests.
const GlobalScope = "global"

// CostFor returns the per-unit cost for a provider and capability, or zero
// if the table has no entry.
func (p CostPolicy) CostFor(provider string, capability api.Capability) float64 {
	if caps, ok := p.Costs[provider]; ok {
		return caps[capability]
	}
	return 0
}

// MaxCostFor returns the highest per-unit cost across the given providers
// for a capability. Used as the conservative pre-routing estimate for the
// global admission.
func (p CostPolicy) MaxCostFor(capability api.Capability, providers []ProviderRef) float64 {
	var max float64
	for _, ref := range providers {
		if c := p.CostFor(ref.Name, capability); c > max {
			max = c
		}
	}
	return max
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

// CachePolicy holds response-cache behavior.
type CachePolicy struct {
	Enabled    bool          `yaml:"enabled"`     // default: true
	TTL        time.Duration `yaml:"ttl"`         // default: 1h
	MaxEntries int           `yaml:"max_entries"` // default: 10000

	// SimilarityThreshold is the minimum near-duplicate score in [0, 1]
	// for a similarity hit. 1.0 effectively disables near-duplicate
	// matching (only identical token sets match).
	SimilarityThreshold float64 `yaml:"similarity_threshold"` // default: 0.85
}

// ---------------------------------------------------------------------------
// Security / Quality (consumed by the validation gates)
// ---------------------------------------------------------------------------

// SecurityPolicy configures the security gates. The orchestration engine
// never interprets these fields; they are passed through to the gate
// pipeline.
type SecurityPolicy struct {
	// BlockedTerms rejects prompts containing any of these terms
	// (case-insensitive substring match on the normalized prompt).
	BlockedTerms []string `yaml:"blocked_terms"`

	// InjectionPatterns are phrases indicating prompt-injection attempts.
	InjectionPatterns []string `yaml:"injection_patterns"`

	// InjectionTokenRatio rejects prompts whose fraction of
	// injection-suspicious tokens reaches this threshold. Range (0, 1];
	// zero disables the ratio check.
	InjectionTokenRatio float64 `yaml:"injection_token_ratio"`

	// MaskPII masks detected PII (emails, phone numbers, SSNs, credit
	// cards) in outbound text payloads.
	MaskPII bool `yaml:"mask_pii"`
}

// QualityPolicy configures the quality gates.
type QualityPolicy struct {
	// PromptLimits bounds prompt length per capability.
	PromptLimits map[api.Capability]LengthWindow `yaml:"prompt_limits"`

	// AllowedSizes whitelists image sizes ("1024x1024"). Empty allows any.
	AllowedSizes []string `yaml:"allowed_sizes"`

	// AllowedFormats whitelists diagram formats. Empty allows any.
	AllowedFormats []string `yaml:"allowed_formats"`

	// MaxVideoSeconds caps requested video duration. Zero disables the cap.
	MaxVideoSeconds int `yaml:"max_video_seconds"`
}

// LengthWindow is an inclusive character-length window.
type LengthWindow struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// ---------------------------------------------------------------------------
// Features
// ---------------------------------------------------------------------------

// FeaturePolicy holds feature flags. Providers and capabilities absent from
// their maps are enabled; an explicit false disables.
type FeaturePolicy struct {
	CachingEnabled bool                    `yaml:"caching_enabled"` // default: true
	Providers      map[string]bool         `yaml:"providers"`
	Capabilities   map[api.Capability]bool `yaml:"capabilities"`
	Custom         map[string]bool         `yaml:"custom"`
}

// ProviderEnabled reports whether the named provider passes the flag gate.
func (f FeaturePolicy) ProviderEnabled(name string) bool {
	if v, ok := f.Providers[name]; ok {
		return v
	}
	return true
}

// CapabilityEnabled reports whether the capability passes the flag gate.
func (f FeaturePolicy) CapabilityEnabled(c api.Capability) bool {
	if v, ok := f.Capabilities[c]; ok {
		return v
	}
	return true
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Defaults returns a Snapshot with all default values filled in. The default
// routing chains cover the three built-in providers; deployments narrow or
// extend them through the policy file.
func Defaults() Snapshot {
	return Snapshot{
		Routing: RoutingPolicy{
			Chains: map[api.Capability][]ProviderRef{
				api.CapabilityImage: {
					{Name: "openai", Priority: 1},
					{Name: "replicate", Priority: 2},
					{Name: "cipher", Priority: 3},
				},
				api.CapabilityDiagram: {
					{Name: "openai", Priority: 1},
					{Name: "anthropic", Priority: 2},
				},
				api.CapabilityVideo: {
					{Name: "replicate", Priority: 1},
				},
			},
		},
		Resilience: ResiliencePolicy{
			Defaults: ResilienceSettings{
				MaxAttempts:       3,
				InitialBackoff:    500 * time.Millisecond,
				BackoffMultiplier: 2.0,
				MaxBackoff:        10 * time.Second,
				AttemptTimeout:    120 * time.Second,
				RequestTimeout:    300 * time.Second,
				Breaker: BreakerSettings{
					WindowSize:           10,
					FailureRateThreshold: 0.5,
					OpenDuration:         30 * time.Second,
					MaxOpenDuration:      240 * time.Second,
				},
			},
		},
		Cost: CostPolicy{
			Scopes: []BudgetScope{
				{Scope: GlobalScope, Limit: 100.0, Unit: "usd", Window: 24 * time.Hour},
			},
			PerRequestLimit: 1.0,
			Costs: map[string]map[api.Capability]float64{
				"openai":    {api.CapabilityImage: 0.04, api.CapabilityDiagram: 0.002},
				"anthropic": {api.CapabilityDiagram: 0.003},
				"replicate": {api.CapabilityImage: 0.002, api.CapabilityVideo: 0.05},
				"cipher":    {api.CapabilityImage: 0.01},
			},
		},
		Cache: CachePolicy{
			Enabled:             true,
			TTL:                 time.Hour,
			MaxEntries:          10000,
			SimilarityThreshold: 0.85,
		},
		Security: SecurityPolicy{
			InjectionPatterns: []string{
				"ignore previous instructions",
				"ignore all previous instructions",
				"disregard the above",
				"you are now",
				"system prompt",
			},
			InjectionTokenRatio: 0.3,
			MaskPII:             true,
		},
		Quality: QualityPolicy{
			PromptLimits: map[api.Capability]LengthWindow{
				api.CapabilityImage:   {Min: 3, Max: 4000},
				api.CapabilityDiagram: {Min: 3, Max: 8000},
				api.CapabilityVideo:   {Min: 3, Max: 2000},
			},
			AllowedSizes: []string{
				"256x256", "512x512", "1024x1024", "1792x1024", "1024x1792",
			},
			AllowedFormats:  []string{"mermaid"},
			MaxVideoSeconds: 30,
		},
		Features: FeaturePolicy{
			CachingEnabled: true,
		},
	}
}
