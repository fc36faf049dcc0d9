package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/policy"
	"github.com/atelier-dev/atelier/pkg/provider"
)

// backoffJitter spreads retry sleeps by ±10% to avoid thundering herds.
const backoffJitter = 0.1

// Work is one provider call. It must honor ctx cancellation.
type Work func(ctx context.Context) (*api.Artifact, error)

// Executor runs provider work through the pair's circuit breaker and the
// retry policy from the caller's snapshot.
type Executor struct {
	breakers *Registry
}

// NewExecutor returns an Executor feeding outcomes into breakers.
func NewExecutor(breakers *Registry) *Executor {
	return &Executor{breakers: breakers}
}

// Breakers returns the registry the executor records outcomes into.
func (e *Executor) Breakers() *Registry {
	return e.breakers
}

// Execute invokes work for one provider candidate. It returns the artifact
// on success; the returned Attempt always describes what happened,
// including how many tries were spent and why the candidate was abandoned.
//
// An open breaker fails the candidate immediately without invoking work.
// Otherwise work runs under the per-attempt timeout, every outcome is
// recorded to the breaker, and transient failures are retried with
// exponential backoff while the request deadline allows. A half-open
// breaker grants a single try regardless of the retry budget.
func (e *Executor) Execute(ctx context.Context, settings policy.ResilienceSettings, capability api.Capability, providerName string, work Work) (*api.Artifact, api.Attempt) {
	started := time.Now()
	attempt := api.Attempt{Provider: providerName}

	finish := func(reason api.AttemptReason, err error) api.Attempt {
		attempt.Reason = reason
		if err != nil {
			attempt.Error = err.Error()
		}
		attempt.DurationMS = time.Since(started).Milliseconds()
		return attempt
	}

	br := e.breakers.For(capability, providerName)
	if !br.Allow(settings.Breaker) {
		return nil, finish(api.ReasonCircuitOpen,
			fmt.Errorf("circuit open for %s/%s", capability, providerName))
	}

	maxAttempts := settings.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if br.State() == StateHalfOpen {
		maxAttempts = 1
	}

	var lastErr error
	for try := 1; try <= maxAttempts; try++ {
		attempt.Tries = try

		attemptCtx := ctx
		cancel := func() {}
		if settings.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, settings.AttemptTimeout)
		}
		artifact, err := work(attemptCtx)
		cancel()

		if err == nil {
			br.RecordSuccess(settings.Breaker)
			return artifact, finish(api.ReasonSuccess, nil)
		}
		br.RecordFailure(settings.Breaker)
		lastErr = err

		// The request deadline is gone; retrying or moving on is futile.
		if ctx.Err() != nil {
			return nil, finish(api.ReasonDeadlineExceeded, lastErr)
		}
		if !provider.IsRetryable(err) || try == maxAttempts {
			break
		}
		// The failures above may have tripped the breaker; stop burning
		// retries against a backend that was just declared down.
		if br.State() == StateOpen {
			break
		}
		if err := sleep(ctx, backoffDelay(settings, try)); err != nil {
			return nil, finish(api.ReasonDeadlineExceeded, lastErr)
		}
	}

	return nil, finish(api.ReasonExhausted, lastErr)
}

// backoffDelay returns the sleep before the retry following the given
// 1-based attempt: initial × multiplier^(attempt-1), capped, jittered.
func backoffDelay(settings policy.ResilienceSettings, attempt int) time.Duration {
	multiplier := settings.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	d := float64(settings.InitialBackoff) * math.Pow(multiplier, float64(attempt-1))
	if limit := float64(settings.MaxBackoff); settings.MaxBackoff > 0 && d > limit {
		d = limit
	}
	if d <= 0 {
		return 0
	}
	d += d * backoffJitter * (rand.Float64()*2 - 1)
	return time.Duration(d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
