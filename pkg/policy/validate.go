package policy

import (
	"errors"
	"fmt"
)

// Validate checks the snapshot for structural validity. Returns an error
// naming every invalid field; a snapshot that fails validation must never be
// published to a Store.
func (s *Snapshot) Validate() error {
	var errs []error

	for capability, chain := range s.Routing.Chains {
		if !capability.Valid() {
			errs = append(errs, fmt.Errorf("routing.chains: unknown capability %q", capability))
		}
		if len(chain) == 0 {
			errs = append(errs, fmt.Errorf("routing.chains.%s: chain must not be empty", capability))
		}
		for i, ref := range chain {
			if ref.Name == "" {
				errs = append(errs, fmt.Errorf("routing.chains.%s[%d]: provider name is required", capability, i))
			}
		}
	}

	errs = append(errs, validateResilienceSettings("resilience.defaults", s.Resilience.Defaults)...)
	for key, settings := range s.Resilience.Overrides {
		errs = append(errs, validateResilienceSettings("resilience.overrides."+key, settings)...)
	}

	for i, scope := range s.Cost.Scopes {
		if scope.Scope == "" {
			errs = append(errs, fmt.Errorf("cost.scopes[%d]: scope is required", i))
		}
		if scope.Limit <= 0 {
			errs = append(errs, fmt.Errorf("cost.scopes[%d]: limit_usd must be > 0, got %v", i, scope.Limit))
		}
		if scope.Window <= 0 {
			errs = append(errs, fmt.Errorf("cost.scopes[%d]: window must be > 0, got %v", i, scope.Window))
		}
		switch scope.Unit {
		case "", "usd", "tokens":
			// valid; empty defaults to usd
		default:
			errs = append(errs, fmt.Errorf("cost.scopes[%d]: unit must be \"usd\" or \"tokens\", got %q", i, scope.Unit))
		}
	}
	if s.Cost.PerRequestLimit < 0 {
		errs = append(errs, fmt.Errorf("cost.per_request_limit_usd must be >= 0, got %v", s.Cost.PerRequestLimit))
	}
	for provider, caps := range s.Cost.Costs {
		for capability, cost := range caps {
			if cost < 0 {
				errs = append(errs, fmt.Errorf("cost.costs.%s.%s must be >= 0, got %v", provider, capability, cost))
			}
		}
	}

	if s.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be > 0, got %v", s.Cache.TTL))
	}
	if s.Cache.MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries must be > 0, got %d", s.Cache.MaxEntries))
	}
	if s.Cache.SimilarityThreshold < 0 || s.Cache.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("cache.similarity_threshold must be in [0, 1], got %v", s.Cache.SimilarityThreshold))
	}

	if s.Security.InjectionTokenRatio < 0 || s.Security.InjectionTokenRatio > 1 {
		errs = append(errs, fmt.Errorf("security.injection_token_ratio must be in [0, 1], got %v", s.Security.InjectionTokenRatio))
	}

	for capability, window := range s.Quality.PromptLimits {
		if window.Min < 0 || (window.Max > 0 && window.Max < window.Min) {
			errs = append(errs, fmt.Errorf("quality.prompt_limits.%s: invalid window [%d, %d]", capability, window.Min, window.Max))
		}
	}
	if s.Quality.MaxVideoSeconds < 0 {
		errs = append(errs, fmt.Errorf("quality.max_video_seconds must be >= 0, got %d", s.Quality.MaxVideoSeconds))
	}

	return errors.Join(errs...)
}

func validateResilienceSettings(path string, s ResilienceSettings) []error {
	var errs []error

	if s.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("%s.max_attempts must be >= 1, got %d", path, s.MaxAttempts))
	}
	if s.InitialBackoff < 0 {
		errs = append(errs, fmt.Errorf("%s.initial_backoff must be >= 0, got %v", path, s.InitialBackoff))
	}
	if s.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("%s.backoff_multiplier must be >= 1, got %v", path, s.BackoffMultiplier))
	}
	if s.MaxBackoff < s.InitialBackoff {
		errs = append(errs, fmt.Errorf("%s.max_backoff must be >= initial_backoff, got %v", path, s.MaxBackoff))
	}
	if s.AttemptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s.attempt_timeout must be > 0, got %v", path, s.AttemptTimeout))
	}
	if s.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s.request_timeout must be > 0, got %v", path, s.RequestTimeout))
	}

	b := s.Breaker
	if b.WindowSize < 1 {
		errs = append(errs, fmt.Errorf("%s.breaker.window_size must be >= 1, got %d", path, b.WindowSize))
	}
	if b.FailureRateThreshold <= 0 || b.FailureRateThreshold > 1 {
		errs = append(errs, fmt.Errorf("%s.breaker.failure_rate_threshold must be in (0, 1], got %v", path, b.FailureRateThreshold))
	}
	if b.OpenDuration <= 0 {
		errs = append(errs, fmt.Errorf("%s.breaker.open_duration must be > 0, got %v", path, b.OpenDuration))
	}
	if b.MaxOpenDuration < b.OpenDuration {
		errs = append(errs, fmt.Errorf("%s.breaker.max_open_duration must be >= open_duration, got %v", path, b.MaxOpenDuration))
	}

	return errs
}
